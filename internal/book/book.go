// Package book implements the per-commodity central limit order book.
//
// A Book holds two price-ordered sequences of resting limit orders: bids
// sorted by price descending and asks ascending, ties broken by created-at
// then id so insertion order is deterministic. Stop and stop-limit orders
// never appear here; they sit in the engine's trigger registry until
// promoted.
//
// The Book itself is not safe for concurrent use. The engine serializes all
// access under the owning commodity's lock, which is also what keeps order
// status changes and book membership consistent.
package book

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"enertrade/pkg/types"
)

// Book is the resting-order ladder for a single commodity.
type Book struct {
	commodity types.Commodity
	bids      []*types.Order // price desc, createdAt asc, id asc
	asks      []*types.Order // price asc, createdAt asc, id asc
}

// New creates an empty book for a commodity.
func New(commodity types.Commodity) *Book {
	return &Book{commodity: commodity}
}

// Commodity returns the commodity this book belongs to.
func (b *Book) Commodity() types.Commodity { return b.commodity }

// Insert places a resting limit order at the position that preserves
// price-time priority. Orders already present are not deduplicated; the
// engine removes before reinserting on modify.
func (b *Book) Insert(o *types.Order) {
	if o.Side == types.Buy {
		b.bids = insertSorted(b.bids, o, lessBid)
	} else {
		b.asks = insertSorted(b.asks, o, lessAsk)
	}
}

// insertSorted inserts o before the first resting order that should trade
// after it. sort.Search keeps this O(log n) to find, O(n) to shift.
func insertSorted(side []*types.Order, o *types.Order, less func(a, b *types.Order) bool) []*types.Order {
	i := sort.Search(len(side), func(i int) bool {
		return less(o, side[i])
	})
	side = append(side, nil)
	copy(side[i+1:], side[i:])
	side[i] = o
	return side
}

// lessBid orders bids: higher price first, then earlier created-at, then
// lower id as the final deterministic tie-break.
func lessBid(a, b *types.Order) bool {
	if !a.Price.Equal(b.Price) {
		return a.Price.GreaterThan(b.Price)
	}
	return lessTime(a, b)
}

// lessAsk orders asks: lower price first, then time, then id.
func lessAsk(a, b *types.Order) bool {
	if !a.Price.Equal(b.Price) {
		return a.Price.LessThan(b.Price)
	}
	return lessTime(a, b)
}

func lessTime(a, b *types.Order) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.ID < b.ID
}

// Remove takes the order with the given id off the book. Removing an absent
// id is a no-op, which makes cancel-after-fill races harmless.
func (b *Book) Remove(orderID string) {
	b.bids = removeID(b.bids, orderID)
	b.asks = removeID(b.asks, orderID)
}

func removeID(side []*types.Order, orderID string) []*types.Order {
	for i, o := range side {
		if o.ID == orderID {
			return append(side[:i], side[i+1:]...)
		}
	}
	return side
}

// Contains reports whether an order with the given id rests on either side.
func (b *Book) Contains(orderID string) bool {
	for _, o := range b.bids {
		if o.ID == orderID {
			return true
		}
	}
	for _, o := range b.asks {
		if o.ID == orderID {
			return true
		}
	}
	return false
}

// BestBid returns the highest-priced resting bid, if any.
func (b *Book) BestBid() (*types.Order, bool) {
	if len(b.bids) == 0 {
		return nil, false
	}
	return b.bids[0], true
}

// BestAsk returns the lowest-priced resting ask, if any.
func (b *Book) BestAsk() (*types.Order, bool) {
	if len(b.asks) == 0 {
		return nil, false
	}
	return b.asks[0], true
}

// Len returns the number of resting orders on one side.
func (b *Book) Len(side types.Side) int {
	if side == types.Buy {
		return len(b.bids)
	}
	return len(b.asks)
}

// Orders returns the resting orders on one side in match order. The slice is
// a copy; the orders are shared.
func (b *Book) Orders(side types.Side) []*types.Order {
	var src []*types.Order
	if side == types.Buy {
		src = b.bids
	} else {
		src = b.asks
	}
	return append([]*types.Order(nil), src...)
}

// Cursor walks one side of the book in match order, letting the matcher
// consume head entries as resting orders fill. It is a view, not a copy;
// Pop after the head order fills.
type Cursor struct {
	book *Book
	side types.Side
}

// Opposite returns a cursor over the side an incoming order would trade
// against: asks for a buy, bids for a sell.
func (b *Book) Opposite(side types.Side) *Cursor {
	return &Cursor{book: b, side: side.Opposite()}
}

// Peek returns the head resting order without consuming it.
func (c *Cursor) Peek() (*types.Order, bool) {
	side := c.ordersRef()
	if len(side) == 0 {
		return nil, false
	}
	return side[0], true
}

// Pop removes the head from the book. Called when the head order fills.
func (c *Cursor) Pop() {
	if o, ok := c.Peek(); ok {
		c.book.Remove(o.ID)
	}
}

func (c *Cursor) ordersRef() []*types.Order {
	if c.side == types.Buy {
		return c.book.bids
	}
	return c.book.asks
}

// Snapshot aggregates the book into price levels for API consumers. Orders
// at the same price merge into one level with summed remaining quantity.
// depth <= 0 means all levels.
func (b *Book) Snapshot(depth int) types.BookSnapshot {
	return types.BookSnapshot{
		Commodity: b.commodity,
		Bids:      aggregate(b.bids, depth),
		Asks:      aggregate(b.asks, depth),
		Timestamp: time.Now(),
	}
}

func aggregate(side []*types.Order, depth int) []types.BookLevel {
	var levels []types.BookLevel
	for _, o := range side {
		n := len(levels)
		if n > 0 && levels[n-1].Price.Equal(o.Price) {
			levels[n-1].Quantity = levels[n-1].Quantity.Add(o.Remaining)
			levels[n-1].Orders++
			continue
		}
		if depth > 0 && n == depth {
			break
		}
		levels = append(levels, types.BookLevel{
			Price:    o.Price,
			Quantity: o.Remaining,
			Orders:   1,
		})
	}
	return levels
}

// DepthAt sums the resting quantity an order of the given side and limit
// price could trade against. A zero limit price means no price constraint
// (market order). Used for the fill-or-kill pre-check.
func (b *Book) DepthAt(side types.Side, limit decimal.Decimal) decimal.Decimal {
	total := decimal.Zero
	for _, o := range b.opposite(side) {
		if !limit.IsZero() && !crosses(side, limit, o.Price) {
			break
		}
		total = total.Add(o.Remaining)
	}
	return total
}

func (b *Book) opposite(side types.Side) []*types.Order {
	if side == types.Buy {
		return b.asks
	}
	return b.bids
}

// crosses reports whether an aggressor at limit trades with a passive order
// at passive: buy crosses at or below its limit, sell at or above.
func crosses(side types.Side, limit, passive decimal.Decimal) bool {
	if side == types.Buy {
		return limit.GreaterThanOrEqual(passive)
	}
	return limit.LessThanOrEqual(passive)
}
