// Package orchestrator connects the engine's event stream to the services
// around it. It subscribes to the event bus and, per event:
//
//  1. Writes an audit record.
//  2. On fills, re-evaluates both counterparties' portfolios against the
//     risk limits and routes high/critical alerts to the notification sink.
//  3. Sends trade confirmations to users who asked for them.
//
// Handler failures are logged and never propagate: a dead notification
// gateway or a full audit disk must not stall trading.
package orchestrator

import (
	"context"
	"encoding/json"
	"log/slog"

	"enertrade/internal/audit"
	"enertrade/internal/bus"
	"enertrade/internal/config"
	"enertrade/internal/metrics"
	"enertrade/internal/notify"
	"enertrade/internal/prefs"
	"enertrade/internal/risk"
	"enertrade/pkg/types"
)

// PortfolioSource yields the marked portfolio risk evaluation runs against.
// The engine implements it.
type PortfolioSource interface {
	Portfolio(userID string) types.PortfolioSummary
}

// Orchestrator glues engine events to risk, notifications, and audit.
type Orchestrator struct {
	portfolios PortfolioSource
	bus        *bus.Bus
	eval       risk.Evaluator
	window     *risk.Window
	prefs      *prefs.Store
	sink       notify.Sink
	audit      audit.Sink
	metrics    *metrics.Collector
	logger     *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	unsub  func()
}

// New wires the orchestrator. The fill window for velocity checks comes
// from the risk config.
func New(
	cfg *config.Config,
	portfolios PortfolioSource,
	evbus *bus.Bus,
	eval risk.Evaluator,
	prefStore *prefs.Store,
	sink notify.Sink,
	auditSink audit.Sink,
	collector *metrics.Collector,
	logger *slog.Logger,
) *Orchestrator {
	ctx, cancel := context.WithCancel(context.Background())
	return &Orchestrator{
		portfolios: portfolios,
		bus:        evbus,
		eval:       eval,
		window:     risk.NewWindow(cfg.Risk.RecentTradeSpan),
		prefs:      prefStore,
		sink:       sink,
		audit:      auditSink,
		metrics:    collector,
		logger:     logger.With("component", "orchestrator"),
		ctx:        ctx,
		cancel:     cancel,
	}
}

// Start subscribes to the event bus.
func (o *Orchestrator) Start() {
	o.unsub = o.bus.Subscribe("orchestrator", bus.Handlers{
		OnOrderPlaced:    o.handleOrderPlaced,
		OnOrderModified:  o.handleOrderModified,
		OnOrderCancelled: o.handleOrderCancelled,
		OnTradeExecuted:  o.handleTrade,
	})
	o.logger.Info("orchestrator started")
}

// Stop detaches from the bus and aborts in-flight deliveries. Callers that
// need queued events fully processed close the bus first.
func (o *Orchestrator) Stop() {
	if o.unsub != nil {
		o.unsub()
	}
	o.cancel()
	o.logger.Info("orchestrator stopped")
}

func (o *Orchestrator) handleOrderPlaced(ord types.Order) {
	o.record(audit.Entry{
		Kind:      audit.KindOrderPlaced,
		UserID:    ord.UserID,
		Commodity: string(ord.Commodity),
		RefID:     ord.ID,
		Detail:    o.detail(ord),
	})
}

func (o *Orchestrator) handleOrderModified(m bus.OrderModification) {
	o.record(audit.Entry{
		Kind:      audit.KindOrderModified,
		UserID:    m.After.UserID,
		Commodity: string(m.After.Commodity),
		RefID:     m.After.ID,
		Detail:    o.detail(m),
	})
}

func (o *Orchestrator) handleOrderCancelled(ord types.Order) {
	o.record(audit.Entry{
		Kind:      audit.KindOrderCancelled,
		UserID:    ord.UserID,
		Commodity: string(ord.Commodity),
		RefID:     ord.ID,
		Detail:    o.detail(ord),
	})
}

// handleTrade is the interesting path: audit, record fill velocity, confirm
// the trade to both parties, then re-assess their risk.
func (o *Orchestrator) handleTrade(tr types.Trade) {
	o.record(audit.Entry{
		Kind:      audit.KindTradeExecuted,
		UserID:    tr.AggressorUserID,
		Commodity: string(tr.Commodity),
		RefID:     tr.ID,
		Detail:    o.detail(tr),
	})

	parties := tradeParties(tr)
	for _, user := range parties {
		o.window.Record(user, tr.ExecutedAt)
	}
	for _, user := range parties {
		o.confirmTrade(user, tr)
		o.assess(user)
	}
}

// tradeParties returns the real users on a trade: the synthetic market
// counterparty is skipped, and a self-cross counts once.
func tradeParties(tr types.Trade) []string {
	parties := []string{tr.AggressorUserID}
	if tr.PassiveUserID != types.MarketCounterparty && tr.PassiveUserID != tr.AggressorUserID {
		parties = append(parties, tr.PassiveUserID)
	}
	return parties
}

func (o *Orchestrator) confirmTrade(userID string, tr types.Trade) {
	p, err := o.prefs.Get(userID)
	if err != nil {
		o.logger.Error("load preferences", "user_id", userID, "error", err)
		return
	}
	if !notify.Allowed(notify.KindTradeConfirmation, p) {
		return
	}
	if err := o.sink.Notify(o.ctx, userID, notify.KindTradeConfirmation, tr, p); err != nil {
		o.logger.Error("trade confirmation failed", "user_id", userID, "trade_id", tr.ID, "error", err)
		return
	}
	o.record(audit.Entry{
		Kind:      audit.KindNotificationSent,
		UserID:    userID,
		Commodity: string(tr.Commodity),
		RefID:     tr.ID,
		Detail:    o.detail(map[string]string{"kind": notify.KindTradeConfirmation, "trade_id": tr.ID}),
	})
}

// assess runs the risk evaluators over one user's portfolio and routes the
// notifiable findings.
func (o *Orchestrator) assess(userID string) {
	portfolio := risk.Portfolio{
		Summary:      o.portfolios.Portfolio(userID),
		RecentTrades: o.window.Count(userID),
	}

	for _, alert := range o.eval.Assess(portfolio) {
		o.metrics.RecordAlert(alert.Type, string(alert.Severity))
		o.record(audit.Entry{
			Kind:   audit.KindAlertRaised,
			UserID: userID,
			RefID:  alert.Type,
			Detail: o.detail(alert),
		})
		if alert.Severity.Notifiable() {
			o.deliverAlert(userID, alert)
		}
	}
}

func (o *Orchestrator) deliverAlert(userID string, alert types.Alert) {
	kind := notify.KindRiskBreach
	if alert.Type == risk.AlertMarginCall {
		kind = notify.KindMarginCall
	}

	p, err := o.prefs.Get(userID)
	if err != nil {
		o.logger.Error("load preferences", "user_id", userID, "error", err)
		return
	}
	if !notify.Allowed(kind, p) {
		return
	}
	if err := o.sink.Notify(o.ctx, userID, kind, alert, p); err != nil {
		o.logger.Error("alert delivery failed", "user_id", userID, "type", alert.Type, "error", err)
		return
	}
	o.record(audit.Entry{
		Kind:   audit.KindNotificationSent,
		UserID: userID,
		RefID:  alert.Type,
		Detail: o.detail(map[string]string{"kind": kind, "alert_type": alert.Type}),
	})
}

func (o *Orchestrator) record(e audit.Entry) {
	if err := o.audit.Record(o.ctx, e); err != nil {
		o.logger.Error("audit write failed", "kind", e.Kind, "ref_id", e.RefID, "error", err)
	}
}

func (o *Orchestrator) detail(v any) json.RawMessage {
	raw, err := json.Marshal(v)
	if err != nil {
		o.logger.Error("marshal audit detail", "error", err)
		return nil
	}
	return raw
}
