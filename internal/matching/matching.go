// Package matching crosses incoming orders against a commodity book.
//
// Fills follow price-time priority and always execute at the resting
// order's price. An aggressor that exhausts the book keeps its residual:
// for limit orders the caller decides per time-in-force whether the
// residual rests or is cancelled; for market orders the residual fills
// against the market counterparty at the oracle reference price, so a
// market order always fills completely.
//
// The matcher holds no state of its own. Callers serialize access per
// commodity; stop orders are converted to market or limit form before
// they reach Match.
package matching

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"enertrade/internal/book"
	"enertrade/pkg/types"
)

type Matcher struct {
	now   func() time.Time
	newID func() string
}

func New() *Matcher {
	return &Matcher{
		now:   time.Now,
		newID: uuid.NewString,
	}
}

// Match crosses taker against b until the taker fills, prices stop
// crossing, or book liquidity runs out. The taker and every touched
// resting order are mutated in place; fully filled resting orders leave
// the book. ref is the oracle reference price and must be positive when
// the taker is a market order; limit matching ignores it.
//
// The residual of a limit taker is NOT inserted into b; resting it is the
// caller's call, per time-in-force.
func (m *Matcher) Match(b *book.Book, taker *types.Order, ref decimal.Decimal) []*types.Trade {
	var trades []*types.Trade

	cur := b.Opposite(taker.Side)
	for taker.Remaining.Sign() > 0 {
		passive, ok := cur.Peek()
		if !ok {
			break
		}
		if !priceCompatible(taker, passive) {
			break
		}

		qty := decimal.Min(taker.Remaining, passive.Remaining)
		price := passive.Price

		tr := &types.Trade{
			ID:               m.newID(),
			Commodity:        taker.Commodity,
			Quantity:         qty,
			Price:            price,
			Value:            qty.Mul(price),
			AggressorOrderID: taker.ID,
			PassiveOrderID:   passive.ID,
			AggressorUserID:  taker.UserID,
			PassiveUserID:    passive.UserID,
			AggressorSide:    taker.Side,
			ExecutedAt:       m.now(),
		}
		taker.ApplyFill(qty, price, tr.ID)
		passive.ApplyFill(qty, price, tr.ID)
		trades = append(trades, tr)

		if passive.Remaining.Sign() == 0 {
			cur.Pop()
		}
	}

	if taker.Type == types.Market && taker.Remaining.Sign() > 0 {
		trades = append(trades, m.fillAgainstMarket(taker, ref))
	}

	return trades
}

// fillAgainstMarket absorbs the whole residual at the reference price.
func (m *Matcher) fillAgainstMarket(taker *types.Order, ref decimal.Decimal) *types.Trade {
	qty := taker.Remaining
	tr := &types.Trade{
		ID:               m.newID(),
		Commodity:        taker.Commodity,
		Quantity:         qty,
		Price:            ref,
		Value:            qty.Mul(ref),
		AggressorOrderID: taker.ID,
		AggressorUserID:  taker.UserID,
		PassiveUserID:    types.MarketCounterparty,
		AggressorSide:    taker.Side,
		ExecutedAt:       m.now(),
	}
	taker.ApplyFill(qty, ref, tr.ID)
	return tr
}

// priceCompatible reports whether taker's limit allows trading with the
// resting order. Market takers accept any price.
func priceCompatible(taker, passive *types.Order) bool {
	if taker.Type == types.Market {
		return true
	}
	if taker.Side == types.Buy {
		return taker.Price.GreaterThanOrEqual(passive.Price)
	}
	return taker.Price.LessThanOrEqual(passive.Price)
}
