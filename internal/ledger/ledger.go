// Package ledger tracks net positions and P&L per user and commodity.
//
// Positions use weighted-average cost basis. A fill that extends a
// position re-averages the basis; a fill on the opposite side realizes
// P&L on the closed quantity and, if it overshoots, flips the position
// with the remainder opened at the fill price. Realized P&L accumulates
// for the life of the account and never resets.
package ledger

import (
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"enertrade/pkg/types"
)

// Ledger is the in-memory position store. Writes arrive already
// serialized per commodity by the engine; the internal lock makes
// cross-commodity reads (portfolio summaries) safe against them.
type Ledger struct {
	mu        sync.RWMutex
	positions map[string]map[types.Commodity]*types.Position
	logger    *slog.Logger
}

func New(logger *slog.Logger) *Ledger {
	return &Ledger{
		positions: make(map[string]map[types.Commodity]*types.Position),
		logger:    logger.With("component", "ledger"),
	}
}

// Apply books both legs of a trade. The market counterparty is synthetic
// liquidity and carries no position.
func (l *Ledger) Apply(tr *types.Trade) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.applyFill(tr.AggressorUserID, tr.Commodity, tr.AggressorSide, tr.Quantity, tr.Price, tr.ExecutedAt)
	if tr.PassiveUserID != types.MarketCounterparty {
		l.applyFill(tr.PassiveUserID, tr.Commodity, tr.AggressorSide.Opposite(), tr.Quantity, tr.Price, tr.ExecutedAt)
	}
}

func (l *Ledger) applyFill(userID string, commodity types.Commodity, side types.Side, qty, price decimal.Decimal, at time.Time) {
	pos := l.position(userID, commodity)
	signed := qty.Mul(side.Sign())

	switch {
	case pos.Quantity.IsZero():
		// Opening from flat.
		pos.Quantity = signed
		pos.AvgPrice = price

	case pos.Quantity.Sign() == signed.Sign():
		// Extending: re-average the cost basis over the combined size.
		oldAbs := pos.Quantity.Abs()
		newAbs := oldAbs.Add(qty)
		pos.AvgPrice = oldAbs.Mul(pos.AvgPrice).Add(qty.Mul(price)).Div(newAbs)
		pos.Quantity = pos.Quantity.Add(signed)

	default:
		// Reducing. P&L realizes on the closed quantity against the prior
		// basis; direction comes from the sign of the prior position.
		prior := pos.Quantity.Sign()
		closed := decimal.Min(qty, pos.Quantity.Abs())
		pnl := closed.Mul(price.Sub(pos.AvgPrice)).Mul(decimal.NewFromInt(int64(prior)))
		pos.RealizedPnL = pos.RealizedPnL.Add(pnl)

		pos.Quantity = pos.Quantity.Add(signed)
		switch {
		case pos.Quantity.IsZero():
			pos.AvgPrice = decimal.Zero
		case pos.Quantity.Sign() != prior:
			// Flipped through flat: the remainder opens at the fill price.
			pos.AvgPrice = price
		}
		// A plain reduction keeps the prior basis.
	}

	pos.UpdatedAt = at

	l.logger.Debug("position updated",
		"user_id", userID,
		"commodity", commodity,
		"quantity", pos.Quantity,
		"avg_price", pos.AvgPrice,
		"realized_pnl", pos.RealizedPnL,
	)
}

// position returns the live record, creating it on first touch.
// Caller holds l.mu.
func (l *Ledger) position(userID string, commodity types.Commodity) *types.Position {
	byCommodity, ok := l.positions[userID]
	if !ok {
		byCommodity = make(map[types.Commodity]*types.Position)
		l.positions[userID] = byCommodity
	}
	pos, ok := byCommodity[commodity]
	if !ok {
		pos = &types.Position{UserID: userID, Commodity: commodity}
		byCommodity[commodity] = pos
	}
	return pos
}

// Position returns a copy of the user's position in one commodity.
// ok is false if the pair has never traded.
func (l *Ledger) Position(userID string, commodity types.Commodity) (types.Position, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	pos, ok := l.positions[userID][commodity]
	if !ok {
		return types.Position{}, false
	}
	return *pos, true
}

// Positions returns copies of every position the user has touched,
// including flat ones that still carry realized P&L, sorted by commodity.
func (l *Ledger) Positions(userID string) []types.Position {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]types.Position, 0, len(l.positions[userID]))
	for _, pos := range l.positions[userID] {
		out = append(out, *pos)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Commodity < out[j].Commodity })
	return out
}

// Summary builds the portfolio view. Unrealized P&L and exposure are
// marked against priceOf; when no reference price is available the
// position's cost basis stands in for exposure and unrealized stays zero.
// OpenOrders is the engine's to fill in.
func (l *Ledger) Summary(userID string, priceOf func(types.Commodity) (decimal.Decimal, error)) types.PortfolioSummary {
	positions := l.Positions(userID)

	summary := types.PortfolioSummary{
		UserID:      userID,
		GeneratedAt: time.Now(),
	}

	for i := range positions {
		pos := &positions[i]

		mark, err := priceOf(pos.Commodity)
		if err != nil || mark.IsZero() {
			mark = pos.AvgPrice
		} else if !pos.Quantity.IsZero() {
			pos.UnrealizedPnL = mark.Sub(pos.AvgPrice).Mul(pos.Quantity)
		}
		pos.MarkPrice = mark

		summary.TotalRealizedPnL = summary.TotalRealizedPnL.Add(pos.RealizedPnL)
		summary.TotalUnrealizedPnL = summary.TotalUnrealizedPnL.Add(pos.UnrealizedPnL)
		summary.TotalExposure = summary.TotalExposure.Add(pos.Quantity.Abs().Mul(mark))
	}

	summary.Positions = positions
	return summary
}

// Exposure returns |quantity| × price for one position, used by risk
// checks before admitting an order.
func (l *Ledger) Exposure(userID string, commodity types.Commodity, price decimal.Decimal) decimal.Decimal {
	pos, ok := l.Position(userID, commodity)
	if !ok {
		return decimal.Zero
	}
	return pos.Quantity.Abs().Mul(price)
}
