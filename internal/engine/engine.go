// Package engine implements the order lifecycle of the trading core.
//
// It wires together the matching subsystems:
//
//  1. Each commodity gets a slot: an order book plus the armed stop orders,
//     guarded by one mutex. Matching, settlement, and event publication for
//     a commodity all run inside that critical section, so subscribers and
//     API readers never observe a half-applied fill.
//  2. PlaceOrder / ModifyOrder / CancelOrder validate requests, cross them
//     against the book, settle fills into the position ledger, and publish
//     lifecycle events on the bus.
//  3. Oracle price updates drive stop triggers: a stop whose condition is
//     met converts to a market or limit order and matches immediately at
//     the triggering price.
//  4. A session watcher cancels day orders at the trading-session boundary.
//
// Lifecycle: New() → Start() → [runs until SIGINT] → Stop()
package engine

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"enertrade/internal/book"
	"enertrade/internal/bus"
	"enertrade/internal/config"
	"enertrade/internal/ledger"
	"enertrade/internal/matching"
	"enertrade/internal/metrics"
	"enertrade/internal/oracle"
	"enertrade/internal/session"
	"enertrade/pkg/types"
)

// commoditySlot is the per-commodity critical section: the live book plus
// stop orders waiting on their trigger price, in arrival order.
type commoditySlot struct {
	commodity types.Commodity

	mu    sync.Mutex
	book  *book.Book
	stops []*types.Order
}

// Engine owns every order book and the full order lifecycle. All mutating
// operations serialize per commodity through the slot mutex; cross-commodity
// operations are independent.
type Engine struct {
	cfg     *config.Config
	matcher *matching.Matcher
	ledger  *ledger.Ledger
	bus     *bus.Bus
	oracle  oracle.Oracle
	updates <-chan oracle.Update
	sched   *session.Schedule
	metrics *metrics.Collector
	logger  *slog.Logger

	// slots maps commodity → its book and armed stops. Built once in New
	// for the fixed commodity set, read-only afterwards; no lock needed.
	slots map[types.Commodity]*commoditySlot

	// orders indexes every order ever accepted, terminal ones included.
	// Protected by ordersMu; entries are never removed. Immutable fields
	// (ID, UserID, Commodity, CreatedAt) may be read without the slot
	// lock; everything else only inside the commodity critical section.
	orders   map[string]*types.Order
	ordersMu sync.RWMutex

	// trades is the append-only execution history, oldest first.
	trades   []*types.Trade
	tradesMu sync.RWMutex

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	now   func() time.Time
	newID func() string
}

// New wires the engine. px answers reference-price reads, updates feeds the
// stop-trigger watcher (nil disables it), and evbus receives all lifecycle
// events.
func New(cfg *config.Config, px oracle.Oracle, updates <-chan oracle.Update, evbus *bus.Bus, sched *session.Schedule, collector *metrics.Collector, logger *slog.Logger) *Engine {
	slots := make(map[types.Commodity]*commoditySlot, len(types.Commodities))
	for _, c := range types.Commodities {
		slots[c] = &commoditySlot{commodity: c, book: book.New(c)}
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Engine{
		cfg:     cfg,
		matcher: matching.New(),
		ledger:  ledger.New(logger),
		bus:     evbus,
		oracle:  px,
		updates: updates,
		sched:   sched,
		metrics: collector,
		logger:  logger.With("component", "engine"),
		slots:   slots,
		orders:  make(map[string]*types.Order),
		ctx:     ctx,
		cancel:  cancel,
		now:     time.Now,
		newID:   uuid.NewString,
	}
}

// Start launches the background watchers: stop triggers on oracle updates
// and day-order expiry at the session boundary.
func (e *Engine) Start() {
	if e.updates != nil {
		e.wg.Add(1)
		go func() {
			defer e.wg.Done()
			e.watchPrices()
		}()
	}

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.watchSession()
	}()
}

// Stop cancels the watchers and waits for them to exit. Orders and positions
// stay readable afterwards; only background processing stops.
func (e *Engine) Stop() {
	e.logger.Info("shutting down...")
	e.cancel()
	e.wg.Wait()
	e.logger.Info("shutdown complete")
}

// watchPrices consumes oracle updates and fires any stops they trigger.
func (e *Engine) watchPrices() {
	for {
		select {
		case <-e.ctx.Done():
			return
		case u, ok := <-e.updates:
			if !ok {
				return
			}
			e.handlePriceUpdate(u)
		}
	}
}

func (e *Engine) handlePriceUpdate(u oracle.Update) {
	price, _ := u.Price.Float64()
	e.metrics.SetOraclePrice(string(u.Commodity), price)

	slot, ok := e.slots[u.Commodity]
	if !ok {
		return
	}
	e.triggerStops(slot, u.Price)
}

// triggerStops fires every armed stop whose condition the new price meets,
// in arrival order. Stops placed past their trigger price fire on the next
// update, not on placement.
func (e *Engine) triggerStops(slot *commoditySlot, price decimal.Decimal) {
	slot.mu.Lock()
	defer slot.mu.Unlock()

	var fired []*types.Order
	kept := slot.stops[:0]
	for _, o := range slot.stops {
		if o.Triggered(price) {
			fired = append(fired, o)
		} else {
			kept = append(kept, o)
		}
	}
	slot.stops = kept

	for _, o := range fired {
		e.fireStopLocked(slot, o, price)
	}
	if len(fired) > 0 {
		e.updateGaugesLocked(slot)
	}
}

// fireStopLocked converts a triggered stop into its executable form and runs
// it through matching. A stop becomes a market order; a stop-limit becomes a
// limit order at its limit price.
func (e *Engine) fireStopLocked(slot *commoditySlot, o *types.Order, price decimal.Decimal) {
	switch o.Type {
	case types.Stop:
		o.Type = types.Market
	case types.StopLimit:
		o.Type = types.Limit
	}
	o.UpdatedAt = e.now()

	e.metrics.RecordStopTrigger(string(o.Commodity))
	e.logger.Info("stop triggered",
		"order_id", o.ID,
		"commodity", o.Commodity,
		"stop_price", o.StopPrice,
		"oracle_price", price,
	)

	// A fill-or-kill stop-limit that cannot fill completely at trigger time
	// is cancelled rather than left to rest.
	if o.TimeInForce == types.FOK && o.Type == types.Limit {
		if avail := slot.book.DepthAt(o.Side, o.Price); avail.LessThan(o.Remaining) {
			o.Status = types.StatusCancelled
			o.UpdatedAt = e.now()
			e.bus.OrderCancelled(o)
			return
		}
	}

	e.runMatchLocked(slot, o, price)
}

// watchSession sleeps until the next session close and expires day orders.
// It runs regardless of hours enforcement: enforcement gates placement only,
// day orders always die at the boundary.
func (e *Engine) watchSession() {
	for {
		next := e.sched.NextClose(e.now())
		timer := time.NewTimer(time.Until(next))

		select {
		case <-e.ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			e.expireDayOrders()
		}
	}
}

// expireDayOrders cancels every working day order, resting and armed stops
// alike.
func (e *Engine) expireDayOrders() {
	for _, c := range types.Commodities {
		slot := e.slots[c]
		slot.mu.Lock()

		var expired []*types.Order
		for _, side := range []types.Side{types.Buy, types.Sell} {
			for _, o := range slot.book.Orders(side) {
				if o.TimeInForce == types.Day {
					expired = append(expired, o)
				}
			}
		}
		for _, o := range slot.stops {
			if o.TimeInForce == types.Day {
				expired = append(expired, o)
			}
		}

		for _, o := range expired {
			slot.book.Remove(o.ID)
			removeStop(slot, o.ID)
			o.Status = types.StatusCancelled
			o.UpdatedAt = e.now()
			e.bus.OrderCancelled(o)
		}
		if len(expired) > 0 {
			e.updateGaugesLocked(slot)
			e.logger.Info("day orders expired", "commodity", c, "count", len(expired))
		}

		slot.mu.Unlock()
	}
}

// removeStop drops the order from the slot's armed stops, if present.
func removeStop(slot *commoditySlot, orderID string) {
	for i, s := range slot.stops {
		if s.ID == orderID {
			slot.stops = append(slot.stops[:i], slot.stops[i+1:]...)
			return
		}
	}
}

// updateGaugesLocked refreshes the depth and active-order gauges for one
// commodity. Callers hold slot.mu.
func (e *Engine) updateGaugesLocked(slot *commoditySlot) {
	bids := slot.book.Len(types.Buy)
	asks := slot.book.Len(types.Sell)
	e.metrics.SetBookDepth(string(slot.commodity), string(types.Buy), bids)
	e.metrics.SetBookDepth(string(slot.commodity), string(types.Sell), asks)
	e.metrics.SetActiveOrders(string(slot.commodity), bids+asks+len(slot.stops))
}
