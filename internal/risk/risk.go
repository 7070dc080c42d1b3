// Package risk evaluates portfolios against configured limits.
//
// Evaluators run after fills change a user's positions and return alerts
// the orchestrator routes to notification channels. The default
// LimitEvaluator checks per-commodity position size, margin coverage,
// exposure concentration, and trading velocity. Alternative evaluators
// plug in through the Evaluator interface.
package risk

import (
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"

	"enertrade/internal/config"
	"enertrade/pkg/types"
)

// Alert types produced by the limit evaluator. Custom evaluators may
// introduce their own; the orchestrator gives AlertMarginCall a dedicated
// delivery channel and routes everything else by severity.
const (
	AlertPositionLimit = "position_limit"
	AlertMarginCall    = "margin_call"
	AlertConcentration = "concentration"
	AlertVelocity      = "trading_velocity"
)

// Portfolio is the state handed to evaluators: the marked portfolio
// summary plus how many fills the user saw in the recent-trade window.
type Portfolio struct {
	Summary      types.PortfolioSummary
	RecentTrades int
}

// Evaluator turns a portfolio into zero or more alerts.
type Evaluator interface {
	Assess(p Portfolio) []types.Alert
}

// Utilisation tiers for the position-size ladder.
var (
	tierCritical = decimal.NewFromInt(1)
	tierHigh     = decimal.NewFromFloat(0.9)
	tierMedium   = decimal.NewFromFloat(0.75)
	tierLow      = decimal.NewFromFloat(0.6)
)

// LimitEvaluator is the stock evaluator driven by trading and risk config.
type LimitEvaluator struct {
	cfg    *config.Config
	logger *slog.Logger
}

func NewLimitEvaluator(cfg *config.Config, logger *slog.Logger) *LimitEvaluator {
	return &LimitEvaluator{
		cfg:    cfg,
		logger: logger.With("component", "risk"),
	}
}

// Assess runs all limit checks against the portfolio.
func (e *LimitEvaluator) Assess(p Portfolio) []types.Alert {
	var alerts []types.Alert

	alerts = append(alerts, e.checkPositionSizes(p)...)
	if a, ok := e.checkMargin(p); ok {
		alerts = append(alerts, a)
	}
	if a, ok := e.checkConcentration(p); ok {
		alerts = append(alerts, a)
	}
	if a, ok := e.checkVelocity(p); ok {
		alerts = append(alerts, a)
	}

	for _, a := range alerts {
		e.logger.Info("risk alert",
			"user_id", p.Summary.UserID,
			"type", a.Type,
			"severity", a.Severity,
			"current", a.CurrentValue,
			"limit", a.Limit,
		)
	}
	return alerts
}

// checkPositionSizes ladders severity by utilisation of the per-commodity
// position cap.
func (e *LimitEvaluator) checkPositionSizes(p Portfolio) []types.Alert {
	maxPos := e.cfg.Trading.MaxPosition()
	if maxPos.Sign() <= 0 {
		return nil
	}

	var alerts []types.Alert
	for _, pos := range p.Summary.Positions {
		if pos.Quantity.IsZero() {
			continue
		}
		exposure := pos.Quantity.Abs().Mul(pos.MarkPrice)
		sev, ok := utilisationSeverity(exposure.Div(maxPos))
		if !ok {
			continue
		}
		alerts = append(alerts, types.Alert{
			Type:     AlertPositionLimit,
			Severity: sev,
			Message: fmt.Sprintf("%s position at %s of the %s size limit",
				pos.Commodity, percent(exposure, maxPos), maxPos),
			CurrentValue: exposure,
			Limit:        maxPos,
		})
	}
	return alerts
}

// checkMargin fires when mark-to-market losses eat into the margin
// requirement (gross exposure × margin rate).
func (e *LimitEvaluator) checkMargin(p Portfolio) (types.Alert, bool) {
	margin := p.Summary.TotalExposure.Mul(decimal.NewFromFloat(e.cfg.Risk.MarginRate))
	if margin.Sign() <= 0 {
		return types.Alert{}, false
	}

	loss := p.Summary.TotalRealizedPnL.Add(p.Summary.TotalUnrealizedPnL).Neg()
	if loss.Sign() <= 0 {
		return types.Alert{}, false
	}

	coverage := loss.Div(margin)
	var sev types.Severity
	switch {
	case coverage.GreaterThanOrEqual(tierCritical):
		sev = types.SeverityCritical
	case coverage.GreaterThanOrEqual(decimal.NewFromFloat(0.8)):
		sev = types.SeverityHigh
	default:
		return types.Alert{}, false
	}

	return types.Alert{
		Type:     AlertMarginCall,
		Severity: sev,
		Message: fmt.Sprintf("losses of %s against a margin requirement of %s",
			loss.Round(2), margin.Round(2)),
		CurrentValue: loss,
		Limit:        margin,
	}, true
}

// checkConcentration flags a single commodity dominating total exposure.
// It needs at least two open positions: a one-position book is always
// fully concentrated and that is not a signal.
func (e *LimitEvaluator) checkConcentration(p Portfolio) (types.Alert, bool) {
	if p.Summary.TotalExposure.Sign() <= 0 {
		return types.Alert{}, false
	}

	var open int
	var top types.Position
	topExposure := decimal.Zero
	for _, pos := range p.Summary.Positions {
		if pos.Quantity.IsZero() {
			continue
		}
		open++
		if exp := pos.Quantity.Abs().Mul(pos.MarkPrice); exp.GreaterThan(topExposure) {
			topExposure = exp
			top = pos
		}
	}
	if open < 2 {
		return types.Alert{}, false
	}

	limit := decimal.NewFromFloat(e.cfg.Risk.ConcentrationPct)
	share := topExposure.Div(p.Summary.TotalExposure)
	if share.LessThan(limit) {
		return types.Alert{}, false
	}

	return types.Alert{
		Type:     AlertConcentration,
		Severity: types.SeverityMedium,
		Message: fmt.Sprintf("%s holds %s of total exposure",
			top.Commodity, percent(topExposure, p.Summary.TotalExposure)),
		CurrentValue: share,
		Limit:        limit,
	}, true
}

// checkVelocity flags unusually heavy fill activity inside the rolling
// window tracked by Window.
func (e *LimitEvaluator) checkVelocity(p Portfolio) (types.Alert, bool) {
	limit := e.cfg.Risk.VelocityLimit
	if limit <= 0 || p.RecentTrades < limit {
		return types.Alert{}, false
	}

	sev := types.SeverityLow
	if p.RecentTrades >= 2*limit {
		sev = types.SeverityMedium
	}

	return types.Alert{
		Type:     AlertVelocity,
		Severity: sev,
		Message: fmt.Sprintf("%d fills in the last %s",
			p.RecentTrades, e.cfg.Risk.RecentTradeSpan),
		CurrentValue: decimal.NewFromInt(int64(p.RecentTrades)),
		Limit:        decimal.NewFromInt(int64(limit)),
	}, true
}

func utilisationSeverity(util decimal.Decimal) (types.Severity, bool) {
	switch {
	case util.GreaterThanOrEqual(tierCritical):
		return types.SeverityCritical, true
	case util.GreaterThanOrEqual(tierHigh):
		return types.SeverityHigh, true
	case util.GreaterThanOrEqual(tierMedium):
		return types.SeverityMedium, true
	case util.GreaterThanOrEqual(tierLow):
		return types.SeverityLow, true
	}
	return "", false
}

func percent(part, whole decimal.Decimal) string {
	return part.Div(whole).Mul(decimal.NewFromInt(100)).Round(1).String() + "%"
}
