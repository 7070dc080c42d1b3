package engine

import (
	"fmt"
	"sort"

	"enertrade/pkg/types"
)

// GetOrder returns a copy of the order, terminal ones included.
func (e *Engine) GetOrder(orderID string) (*types.Order, error) {
	o, slot, err := e.lookup(orderID)
	if err != nil {
		return nil, err
	}

	slot.mu.Lock()
	defer slot.mu.Unlock()
	return o.Clone(), nil
}

// UserOrders returns copies of the user's orders, newest first. A non-empty
// status restricts the result to orders currently in that status.
func (e *Engine) UserOrders(userID string, status types.OrderStatus) []*types.Order {
	candidates := e.ordersOf(userID)

	out := make([]*types.Order, 0, len(candidates))
	for _, o := range candidates {
		slot := e.slots[o.Commodity]
		slot.mu.Lock()
		if status == "" || o.Status == status {
			out = append(out, o.Clone())
		}
		slot.mu.Unlock()
	}

	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// ordersOf collects the live records for one user. Only immutable fields are
// read; callers clone under the slot lock.
func (e *Engine) ordersOf(userID string) []*types.Order {
	e.ordersMu.RLock()
	defer e.ordersMu.RUnlock()

	var out []*types.Order
	for _, o := range e.orders {
		if o.UserID == userID {
			out = append(out, o)
		}
	}
	return out
}

// TradeFilter restricts TradeHistory results. Zero fields match everything.
type TradeFilter struct {
	UserID    string
	Commodity types.Commodity
	Limit     int
}

// TradeHistory returns executed trades, newest first. Trades are immutable
// once published, so the results share the engine's records.
func (e *Engine) TradeHistory(f TradeFilter) []*types.Trade {
	e.tradesMu.RLock()
	defer e.tradesMu.RUnlock()

	out := make([]*types.Trade, 0, 16)
	for i := len(e.trades) - 1; i >= 0; i-- {
		tr := e.trades[i]
		if f.UserID != "" && tr.AggressorUserID != f.UserID && tr.PassiveUserID != f.UserID {
			continue
		}
		if f.Commodity != "" && tr.Commodity != f.Commodity {
			continue
		}
		out = append(out, tr)
		if f.Limit > 0 && len(out) == f.Limit {
			break
		}
	}
	return out
}

// BookSnapshot returns the aggregated book for one commodity, best prices
// first, at most depth levels per side (0 = all).
func (e *Engine) BookSnapshot(commodity types.Commodity, depth int) (types.BookSnapshot, error) {
	slot, ok := e.slots[commodity]
	if !ok {
		return types.BookSnapshot{}, fmt.Errorf("commodity %q: %w", commodity, types.ErrUnsupportedCommodity)
	}

	slot.mu.Lock()
	defer slot.mu.Unlock()
	return slot.book.Snapshot(depth), nil
}

// Portfolio returns the user's positions marked at current oracle prices,
// with P&L totals and the working order count.
func (e *Engine) Portfolio(userID string) types.PortfolioSummary {
	sum := e.ledger.Summary(userID, e.oracle.Price)
	sum.OpenOrders = e.openOrderCount(userID)
	return sum
}

func (e *Engine) openOrderCount(userID string) int {
	n := 0
	for _, o := range e.ordersOf(userID) {
		slot := e.slots[o.Commodity]
		slot.mu.Lock()
		if o.Active() {
			n++
		}
		slot.mu.Unlock()
	}
	return n
}
