// Package audit keeps an append-only record of everything the trading core
// does: order lifecycle events, executions, risk alerts, and notification
// deliveries. The orchestrator writes one entry per event; compliance reads
// them back newest first.
package audit

import (
	"context"
	"encoding/json"
	"time"
)

// Entry kinds, one per audited event.
const (
	KindOrderPlaced      = "order_placed"
	KindOrderModified    = "order_modified"
	KindOrderCancelled   = "order_cancelled"
	KindTradeExecuted    = "trade_executed"
	KindAlertRaised      = "alert_raised"
	KindNotificationSent = "notification_sent"
)

// Entry is one audited event. Detail carries the full event payload as JSON;
// the other fields exist so the log can be filtered without unpacking it.
type Entry struct {
	ID        int64           `json:"id"`
	Kind      string          `json:"kind"`
	UserID    string          `json:"user_id,omitempty"`
	Commodity string          `json:"commodity,omitempty"`
	RefID     string          `json:"ref_id,omitempty"` // order or trade id
	Detail    json.RawMessage `json:"detail"`
	At        time.Time       `json:"at"`
}

// Sink records audit entries and serves them back for review.
type Sink interface {
	Record(ctx context.Context, e Entry) error
	Recent(ctx context.Context, limit int) ([]Entry, error)
	Close() error
}

// Nop discards every entry. Used when auditing is disabled.
type Nop struct{}

func (Nop) Record(context.Context, Entry) error          { return nil }
func (Nop) Recent(context.Context, int) ([]Entry, error) { return nil, nil }
func (Nop) Close() error                                 { return nil }
