// Package notify delivers user notifications produced by the orchestrator.
//
// Two sinks are provided:
//
//   - Webhook: POSTs signed JSON envelopes to an external notification
//     gateway which fans out to the user's channels (email, SMS, telegram).
//   - Log: writes notifications to the log. Used in development and as the
//     fallback when no webhook is configured.
//
// Routing by kind is decided here (Allowed); the orchestrator calls it
// before delivering so muted users cost nothing.
package notify

import (
	"context"
	"log/slog"
	"time"

	"enertrade/internal/metrics"
	"enertrade/pkg/types"
)

// Notification kinds. Margin calls route on their own preference flag so a
// user who muted routine risk alerts still hears about margin.
const (
	KindTradeConfirmation = "trade_confirmation"
	KindRiskBreach        = "risk_breach"
	KindMarginCall        = "margin_call"
)

// Sink delivers one notification to a user over their preferred channels.
type Sink interface {
	Notify(ctx context.Context, userID, kind string, payload any, prefs *types.UserPreferences) error
}

// Allowed reports whether the user's preferences permit notifications of
// this kind. Unknown kinds are delivered; muting applies only to the kinds
// a user can actually configure.
func Allowed(kind string, prefs *types.UserPreferences) bool {
	if prefs == nil {
		return false
	}
	switch kind {
	case KindTradeConfirmation:
		return prefs.TradeNotifications
	case KindRiskBreach:
		return prefs.RiskAlerts
	case KindMarginCall:
		return prefs.MarginCalls
	}
	return true
}

// envelope is the wire format posted to the notification gateway.
type envelope struct {
	UserID   string                   `json:"user_id"`
	Kind     string                   `json:"kind"`
	Channels []types.Channel          `json:"channels"`
	Contacts map[types.Channel]string `json:"contacts,omitempty"`
	Payload  any                      `json:"payload"`
	SentAt   time.Time                `json:"sent_at"`
}

// Log is the development sink: one log line per notification.
type Log struct {
	metrics *metrics.Collector
	logger  *slog.Logger
}

// NewLog creates a sink that only logs.
func NewLog(collector *metrics.Collector, logger *slog.Logger) *Log {
	return &Log{
		metrics: collector,
		logger:  logger.With("component", "notify"),
	}
}

// Notify logs the notification and reports success.
func (l *Log) Notify(_ context.Context, userID, kind string, payload any, prefs *types.UserPreferences) error {
	channels := []types.Channel(nil)
	if prefs != nil {
		channels = prefs.Channels
	}
	l.logger.Info("notification",
		"user_id", userID,
		"kind", kind,
		"channels", channels,
		"payload", payload,
	)
	l.metrics.RecordNotification("log", "delivered")
	return nil
}
