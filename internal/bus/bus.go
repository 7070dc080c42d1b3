// Package bus delivers trading events to in-process subscribers.
//
// Four event kinds exist: order placed, trade executed, order cancelled,
// and order modified. Publishing never blocks and never drops: each
// subscriber owns an unbounded FIFO queue drained by its own dispatcher
// goroutine, so a slow or failing subscriber delays only itself. Events
// published in sequence are delivered to every subscriber in that same
// sequence across all kinds, which is what lets consumers reconstruct
// one order's life cycle. Payloads are deep-copied snapshots; handlers
// may retain them.
package bus

import (
	"log/slog"
	"sync"

	"enertrade/internal/config"
	"enertrade/pkg/types"
)

// Handlers carries a subscriber's callbacks. Nil entries mean that kind
// is not of interest; events of that kind are still queued and skipped at
// dispatch so ordering across kinds is uniform for every subscriber.
type Handlers struct {
	OnOrderPlaced    func(types.Order)
	OnTradeExecuted  func(types.Trade)
	OnOrderCancelled func(types.Order)
	OnOrderModified  func(OrderModification)
}

// OrderModification is the payload of a modify event: the order before
// and after the change took effect.
type OrderModification struct {
	Before types.Order
	After  types.Order
}

type eventKind int

const (
	kindOrderPlaced eventKind = iota
	kindTradeExecuted
	kindOrderCancelled
	kindOrderModified
)

type event struct {
	kind  eventKind
	order types.Order
	trade types.Trade
	mod   OrderModification
}

type subscriber struct {
	id   int
	name string
	h    Handlers

	mu     sync.Mutex
	cond   *sync.Cond
	queue  []event
	closed bool
	warned bool

	done chan struct{}
}

// Bus fans events out to subscribers.
type Bus struct {
	mu        sync.RWMutex
	subs      map[int]*subscriber
	nextID    int
	warnDepth int
	logger    *slog.Logger
}

func New(cfg config.BusConfig, logger *slog.Logger) *Bus {
	return &Bus{
		subs:      make(map[int]*subscriber),
		warnDepth: cfg.QueueWarnDepth,
		logger:    logger.With("component", "bus"),
	}
}

// Subscribe registers handlers under a name used in logs. The returned
// function unsubscribes; pending events still drain before the
// subscriber's dispatcher exits.
func (b *Bus) Subscribe(name string, h Handlers) func() {
	sub := &subscriber{
		name: name,
		h:    h,
		done: make(chan struct{}),
	}
	sub.cond = sync.NewCond(&sub.mu)

	b.mu.Lock()
	b.nextID++
	sub.id = b.nextID
	b.subs[sub.id] = sub
	b.mu.Unlock()

	go b.dispatch(sub)

	b.logger.Debug("subscriber added", "name", name)
	return func() { b.remove(sub) }
}

func (b *Bus) remove(sub *subscriber) {
	b.mu.Lock()
	delete(b.subs, sub.id)
	b.mu.Unlock()

	sub.mu.Lock()
	sub.closed = true
	sub.cond.Signal()
	sub.mu.Unlock()
}

// OrderPlaced publishes an order-placed event.
func (b *Bus) OrderPlaced(o *types.Order) {
	b.publish(event{kind: kindOrderPlaced, order: *o.Clone()})
}

// TradeExecuted publishes a trade event.
func (b *Bus) TradeExecuted(tr *types.Trade) {
	b.publish(event{kind: kindTradeExecuted, trade: *tr})
}

// OrderCancelled publishes an order-cancelled event.
func (b *Bus) OrderCancelled(o *types.Order) {
	b.publish(event{kind: kindOrderCancelled, order: *o.Clone()})
}

// OrderModified publishes a modify event with before and after snapshots.
func (b *Bus) OrderModified(before, after *types.Order) {
	b.publish(event{kind: kindOrderModified, mod: OrderModification{
		Before: *before.Clone(),
		After:  *after.Clone(),
	}})
}

func (b *Bus) publish(e event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, sub := range b.subs {
		sub.mu.Lock()
		sub.queue = append(sub.queue, e)
		depth := len(sub.queue)
		if b.warnDepth > 0 && depth >= b.warnDepth && !sub.warned {
			sub.warned = true
			b.logger.Warn("subscriber queue deep", "name", sub.name, "depth", depth)
		}
		sub.cond.Signal()
		sub.mu.Unlock()
	}
}

// dispatch drains one subscriber's queue in order until it is closed and
// empty.
func (b *Bus) dispatch(sub *subscriber) {
	defer close(sub.done)

	for {
		sub.mu.Lock()
		for len(sub.queue) == 0 && !sub.closed {
			sub.cond.Wait()
		}
		if len(sub.queue) == 0 && sub.closed {
			sub.mu.Unlock()
			return
		}
		e := sub.queue[0]
		sub.queue = sub.queue[1:]
		if len(sub.queue) == 0 {
			sub.warned = false
		}
		sub.mu.Unlock()

		b.deliver(sub, e)
	}
}

// deliver invokes the matching handler. A panicking subscriber loses that
// one event, not the dispatcher.
func (b *Bus) deliver(sub *subscriber, e event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("subscriber panicked", "name", sub.name, "panic", r)
		}
	}()

	switch e.kind {
	case kindOrderPlaced:
		if sub.h.OnOrderPlaced != nil {
			sub.h.OnOrderPlaced(e.order)
		}
	case kindTradeExecuted:
		if sub.h.OnTradeExecuted != nil {
			sub.h.OnTradeExecuted(e.trade)
		}
	case kindOrderCancelled:
		if sub.h.OnOrderCancelled != nil {
			sub.h.OnOrderCancelled(e.order)
		}
	case kindOrderModified:
		if sub.h.OnOrderModified != nil {
			sub.h.OnOrderModified(e.mod)
		}
	}
}

// Close detaches every subscriber and waits until all queued events have
// been delivered.
func (b *Bus) Close() {
	b.mu.Lock()
	subs := make([]*subscriber, 0, len(b.subs))
	for _, sub := range b.subs {
		subs = append(subs, sub)
	}
	b.subs = make(map[int]*subscriber)
	b.mu.Unlock()

	for _, sub := range subs {
		sub.mu.Lock()
		sub.closed = true
		sub.cond.Signal()
		sub.mu.Unlock()
		<-sub.done
	}
}
