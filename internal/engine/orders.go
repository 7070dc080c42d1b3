package engine

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"enertrade/internal/config"
	"enertrade/pkg/types"
)

// PlaceRequest carries the client-supplied fields of a new order.
type PlaceRequest struct {
	UserID      string
	Commodity   types.Commodity
	Side        types.Side
	Type        types.OrderType
	Quantity    decimal.Decimal
	Price       decimal.Decimal
	StopPrice   decimal.Decimal
	TimeInForce types.TimeInForce
}

// Changes carries the modifiable fields of a working order. Nil fields keep
// their current value.
type Changes struct {
	Price       *decimal.Decimal
	Quantity    *decimal.Decimal
	StopPrice   *decimal.Decimal
	TimeInForce *types.TimeInForce
}

// validateRequest checks req against the field rules and configured size
// bounds. Errors wrap the matching kind from pkg/types.
func validateRequest(cfg *config.Config, req PlaceRequest) error {
	if req.UserID == "" {
		return fmt.Errorf("user id required: %w", types.ErrInvalidOrder)
	}
	if !req.Commodity.Valid() {
		return fmt.Errorf("commodity %q: %w", req.Commodity, types.ErrUnsupportedCommodity)
	}
	if !req.Side.Valid() {
		return fmt.Errorf("side %q: %w", req.Side, types.ErrInvalidOrder)
	}
	if !req.Type.Valid() {
		return fmt.Errorf("order type %q: %w", req.Type, types.ErrInvalidOrder)
	}
	if !req.TimeInForce.Valid() {
		return fmt.Errorf("time in force %q: %w", req.TimeInForce, types.ErrInvalidOrder)
	}
	if req.Quantity.Sign() <= 0 {
		return fmt.Errorf("quantity must be positive: %w", types.ErrInvalidOrder)
	}

	min, max := cfg.Trading.MinOrder(), cfg.Trading.MaxOrder()
	if req.Quantity.LessThan(min) || req.Quantity.GreaterThan(max) {
		return fmt.Errorf("quantity %s outside [%s, %s]: %w", req.Quantity, min, max, types.ErrSizeLimit)
	}

	if req.Type == types.Limit || req.Type == types.StopLimit {
		if req.Price.Sign() <= 0 {
			return fmt.Errorf("%s order needs a positive price: %w", req.Type, types.ErrInvalidOrder)
		}
	}
	if req.Type == types.Stop || req.Type == types.StopLimit {
		if req.StopPrice.Sign() <= 0 {
			return fmt.Errorf("%s order needs a positive stop price: %w", req.Type, types.ErrInvalidOrder)
		}
	}
	return nil
}

// PlaceOrder validates and executes a new order.
//
// Limit orders cross immediately where prices allow and rest per
// time-in-force otherwise. Market orders always complete: whatever the book
// cannot fill executes against the market counterparty at the oracle price.
// Stop and stop-limit orders arm and wait for their trigger.
//
// An empty TimeInForce defaults to GTC. A fill-or-kill that cannot fill, or
// a market order with no reference price, is recorded with status rejected
// and returned together with an error wrapping Rejected.
func (e *Engine) PlaceOrder(req PlaceRequest) (*types.Order, error) {
	if req.TimeInForce == "" {
		req.TimeInForce = types.GTC
	}
	if err := validateRequest(e.cfg, req); err != nil {
		return nil, err
	}
	if e.sched.Enforced() && !e.sched.IsOpen(e.now()) {
		return nil, fmt.Errorf("session closed for %s: %w", req.Commodity, types.ErrMarketClosed)
	}

	now := e.now()
	o := &types.Order{
		ID:          e.newID(),
		UserID:      req.UserID,
		Commodity:   req.Commodity,
		Side:        req.Side,
		Type:        req.Type,
		Quantity:    req.Quantity,
		Price:       req.Price,
		StopPrice:   req.StopPrice,
		TimeInForce: req.TimeInForce,
		Status:      types.StatusPending,
		Remaining:   req.Quantity,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	slot := e.slots[o.Commodity]
	slot.mu.Lock()
	defer slot.mu.Unlock()

	e.ordersMu.Lock()
	e.orders[o.ID] = o
	e.ordersMu.Unlock()

	var ref decimal.Decimal
	if o.Type == types.Market {
		p, err := e.oracle.Price(o.Commodity)
		if err != nil {
			o.Status = types.StatusRejected
			o.UpdatedAt = e.now()
			e.recordOrderMetric(o)
			return o.Clone(), fmt.Errorf("no reference price for %s: %w", o.Commodity, types.ErrRejected)
		}
		ref = p
	}

	if o.TimeInForce == types.FOK && o.Type == types.Limit {
		if avail := slot.book.DepthAt(o.Side, o.Price); avail.LessThan(o.Quantity) {
			o.Status = types.StatusRejected
			o.UpdatedAt = e.now()
			e.recordOrderMetric(o)
			return o.Clone(), fmt.Errorf("fill-or-kill %s over book depth %s: %w", o.Quantity, avail, types.ErrRejected)
		}
	}

	e.bus.OrderPlaced(o)

	if o.Type == types.Stop || o.Type == types.StopLimit {
		slot.stops = append(slot.stops, o)
		e.updateGaugesLocked(slot)
		e.recordOrderMetric(o)
		e.logger.Info("stop order armed",
			"order_id", o.ID,
			"user_id", o.UserID,
			"commodity", o.Commodity,
			"side", o.Side,
			"stop_price", o.StopPrice,
		)
		return o.Clone(), nil
	}

	e.runMatchLocked(slot, o, ref)
	e.recordOrderMetric(o)
	e.logger.Info("order placed",
		"order_id", o.ID,
		"user_id", o.UserID,
		"commodity", o.Commodity,
		"side", o.Side,
		"type", o.Type,
		"quantity", o.Quantity,
		"status", o.Status,
	)
	return o.Clone(), nil
}

// ModifyOrder applies changes to a working order. The order is pulled from
// the book, revalidated with the placement rules, reinserted, and re-matched
// against the opposite side. CreatedAt is preserved, so a price-preserving
// modify keeps its spot in the queue.
//
// Modifying a terminal order fails with IllegalTransition; changes that fail
// revalidation, or a quantity below the filled amount, fail with Rejected
// and leave the order untouched.
func (e *Engine) ModifyOrder(orderID string, ch Changes) (*types.Order, error) {
	o, slot, err := e.lookup(orderID)
	if err != nil {
		return nil, err
	}

	slot.mu.Lock()
	defer slot.mu.Unlock()

	if !o.Active() {
		return nil, fmt.Errorf("modify %s in status %s: %w", orderID, o.Status, types.ErrIllegalTransition)
	}

	next := PlaceRequest{
		UserID:      o.UserID,
		Commodity:   o.Commodity,
		Side:        o.Side,
		Type:        o.Type,
		Quantity:    o.Quantity,
		Price:       o.Price,
		StopPrice:   o.StopPrice,
		TimeInForce: o.TimeInForce,
	}
	if ch.Price != nil {
		next.Price = *ch.Price
	}
	if ch.Quantity != nil {
		next.Quantity = *ch.Quantity
	}
	if ch.StopPrice != nil {
		next.StopPrice = *ch.StopPrice
	}
	if ch.TimeInForce != nil {
		next.TimeInForce = *ch.TimeInForce
	}

	if err := validateRequest(e.cfg, next); err != nil {
		return nil, fmt.Errorf("modify %s: %v: %w", orderID, err, types.ErrRejected)
	}
	if next.Quantity.LessThan(o.Filled) {
		return nil, fmt.Errorf("modify %s: quantity %s below filled %s: %w", orderID, next.Quantity, o.Filled, types.ErrRejected)
	}
	if next.TimeInForce == types.FOK && next.Type == types.Limit {
		need := next.Quantity.Sub(o.Filled)
		if avail := slot.book.DepthAt(o.Side, next.Price); avail.LessThan(need) {
			return nil, fmt.Errorf("modify %s: fill-or-kill over book depth: %w", orderID, types.ErrRejected)
		}
	}

	before := o.Clone()

	slot.book.Remove(o.ID)
	removeStop(slot, o.ID)

	o.Price = next.Price
	o.Quantity = next.Quantity
	o.StopPrice = next.StopPrice
	o.TimeInForce = next.TimeInForce
	o.Remaining = next.Quantity.Sub(o.Filled)
	o.UpdatedAt = e.now()
	if o.Remaining.IsZero() {
		o.Status = types.StatusFilled
	}

	e.bus.OrderModified(before, o)

	switch {
	case !o.Active():
		e.updateGaugesLocked(slot)
	case o.Type == types.Stop || o.Type == types.StopLimit:
		slot.stops = append(slot.stops, o)
		e.updateGaugesLocked(slot)
	default:
		e.runMatchLocked(slot, o, decimal.Zero)
	}

	e.logger.Info("order modified",
		"order_id", o.ID,
		"user_id", o.UserID,
		"price", o.Price,
		"quantity", o.Quantity,
		"status", o.Status,
	)
	return o.Clone(), nil
}

// CancelOrder cancels a working order and removes it from the book or the
// stop queue. Cancelling a terminal order fails with IllegalTransition; a
// partially filled order keeps its fills.
func (e *Engine) CancelOrder(orderID string) (*types.Order, error) {
	o, slot, err := e.lookup(orderID)
	if err != nil {
		return nil, err
	}

	slot.mu.Lock()
	defer slot.mu.Unlock()

	if !o.Active() {
		return nil, fmt.Errorf("cancel %s in status %s: %w", orderID, o.Status, types.ErrIllegalTransition)
	}

	slot.book.Remove(o.ID)
	removeStop(slot, o.ID)

	o.Status = types.StatusCancelled
	o.UpdatedAt = e.now()
	e.bus.OrderCancelled(o)
	e.updateGaugesLocked(slot)

	e.logger.Info("order cancelled", "order_id", o.ID, "user_id", o.UserID, "filled", o.Filled)
	return o.Clone(), nil
}

// runMatchLocked crosses o against the slot book, settles every fill, and
// leaves or cancels the residual per time-in-force. Callers hold slot.mu.
func (e *Engine) runMatchLocked(slot *commoditySlot, o *types.Order, ref decimal.Decimal) {
	started := time.Now()
	trades := e.matcher.Match(slot.book, o, ref)
	e.metrics.RecordMatchLatency(string(o.Commodity), time.Since(started))

	for _, tr := range trades {
		e.settleLocked(tr)
	}

	if o.Active() {
		if o.TimeInForce == types.IOC {
			o.Status = types.StatusCancelled
			o.UpdatedAt = e.now()
			e.bus.OrderCancelled(o)
		} else {
			slot.book.Insert(o)
		}
	}

	e.updateGaugesLocked(slot)
}

// settleLocked applies one fill: position ledger, trade history, metrics,
// and the trade event, in that order.
func (e *Engine) settleLocked(tr *types.Trade) {
	e.ledger.Apply(tr)

	e.tradesMu.Lock()
	e.trades = append(e.trades, tr)
	e.tradesMu.Unlock()

	liquidity := "book"
	if tr.PassiveUserID == types.MarketCounterparty {
		liquidity = "market"
	}
	qty, _ := tr.Quantity.Float64()
	val, _ := tr.Value.Float64()
	e.metrics.RecordTrade(string(tr.Commodity), liquidity, qty, val)

	e.bus.TradeExecuted(tr)
}

// lookup resolves an order id to the live record and its commodity slot.
// The caller must take slot.mu before reading mutable fields.
func (e *Engine) lookup(orderID string) (*types.Order, *commoditySlot, error) {
	e.ordersMu.RLock()
	o, ok := e.orders[orderID]
	e.ordersMu.RUnlock()
	if !ok {
		return nil, nil, fmt.Errorf("order %s: %w", orderID, types.ErrNotFound)
	}
	return o, e.slots[o.Commodity], nil
}

func (e *Engine) recordOrderMetric(o *types.Order) {
	e.metrics.RecordOrder(string(o.Commodity), string(o.Side), string(o.Type), string(o.Status))
}
