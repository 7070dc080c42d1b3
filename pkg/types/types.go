// Package types defines shared data structures used across all packages.
//
// This package is the common vocabulary for the trading core: commodities,
// orders, trades, positions, risk alerts, and notification preferences. It
// has no dependencies on internal packages, so it can be imported by any layer.
package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// ————————————————————————————————————————————————————————————————————————
// Core enums
// ————————————————————————————————————————————————————————————————————————

// Commodity identifies one of the tradeable energy products. Each commodity
// has its own independent order book.
type Commodity string

const (
	CrudeOil       Commodity = "crude_oil"
	NaturalGas     Commodity = "natural_gas"
	HeatingOil     Commodity = "heating_oil"
	Gasoline       Commodity = "gasoline"
	RenewableCerts Commodity = "renewable_certificates"
	CarbonCredits  Commodity = "carbon_credits"
)

// Commodities is the fixed set of supported commodities, in display order.
var Commodities = []Commodity{
	CrudeOil,
	NaturalGas,
	HeatingOil,
	Gasoline,
	RenewableCerts,
	CarbonCredits,
}

// Valid reports whether c is one of the supported commodities.
func (c Commodity) Valid() bool {
	switch c {
	case CrudeOil, NaturalGas, HeatingOil, Gasoline, RenewableCerts, CarbonCredits:
		return true
	}
	return false
}

// Side represents the direction of an order: buy or sell.
type Side string

const (
	Buy  Side = "buy"
	Sell Side = "sell"
)

// Valid reports whether s is a supported side.
func (s Side) Valid() bool {
	return s == Buy || s == Sell
}

// Opposite returns the other side of the market.
func (s Side) Opposite() Side {
	if s == Buy {
		return Sell
	}
	return Buy
}

// Sign returns +1 for buy and -1 for sell, the sign convention used by the
// position ledger.
func (s Side) Sign() decimal.Decimal {
	if s == Buy {
		return decimal.NewFromInt(1)
	}
	return decimal.NewFromInt(-1)
}

// OrderType enumerates the supported order kinds.
type OrderType string

const (
	Market    OrderType = "market"
	Limit     OrderType = "limit"
	Stop      OrderType = "stop"
	StopLimit OrderType = "stop_limit"
)

// Valid reports whether t is a supported order type.
func (t OrderType) Valid() bool {
	switch t {
	case Market, Limit, Stop, StopLimit:
		return true
	}
	return false
}

// OrderStatus tracks the lifecycle of an order.
//
// pending → partial → filled is the happy path; cancelled and rejected are
// terminal. An order cancelled after partial fills keeps status cancelled
// with its filled quantity intact.
type OrderStatus string

const (
	StatusPending   OrderStatus = "pending"
	StatusPartial   OrderStatus = "partial"
	StatusFilled    OrderStatus = "filled"
	StatusCancelled OrderStatus = "cancelled"
	StatusRejected  OrderStatus = "rejected"
)

// Terminal reports whether the status permits no further transitions.
func (s OrderStatus) Terminal() bool {
	return s == StatusFilled || s == StatusCancelled || s == StatusRejected
}

// TimeInForce controls how long an order stays working.
type TimeInForce string

const (
	Day TimeInForce = "day" // cancelled at the session boundary
	GTC TimeInForce = "gtc" // good-till-cancelled
	IOC TimeInForce = "ioc" // fill what crosses now, cancel the rest
	FOK TimeInForce = "fok" // all-or-nothing on entry
)

// Valid reports whether t is a supported time-in-force.
func (t TimeInForce) Valid() bool {
	switch t {
	case Day, GTC, IOC, FOK:
		return true
	}
	return false
}

// MarketCounterparty is the sentinel user id recorded on fills taken against
// the oracle price when the book has no liquidity. It is not a real user;
// the position ledger skips it.
const MarketCounterparty = "market"

// ————————————————————————————————————————————————————————————————————————
// Orders
// ————————————————————————————————————————————————————————————————————————

// Order is the full record of a client order. Orders are created by the
// engine's PlaceOrder and mutated only inside the per-commodity critical
// section; everything handed to subscribers or API callers is a copy.
type Order struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Commodity Commodity `json:"commodity"`
	Side      Side      `json:"side"`
	Type      OrderType `json:"type"`

	Quantity  decimal.Decimal `json:"quantity"`
	Price     decimal.Decimal `json:"price,omitempty"`      // limit price, zero for market/stop
	StopPrice decimal.Decimal `json:"stop_price,omitempty"` // trigger price for stop/stop_limit

	TimeInForce TimeInForce `json:"time_in_force"`

	Status       OrderStatus     `json:"status"`
	Filled       decimal.Decimal `json:"filled_quantity"`
	Remaining    decimal.Decimal `json:"remaining_quantity"`
	AvgFillPrice decimal.Decimal `json:"avg_fill_price"`
	FillIDs      []string        `json:"fill_ids,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Active reports whether the order can still trade or be modified.
func (o *Order) Active() bool {
	return o.Status == StatusPending || o.Status == StatusPartial
}

// Triggered reports whether a stop order should fire at the given market
// price: buy stops trigger when price rises to the stop, sell stops when it
// falls to the stop.
func (o *Order) Triggered(price decimal.Decimal) bool {
	if o.Type != Stop && o.Type != StopLimit {
		return false
	}
	if o.Side == Buy {
		return price.GreaterThanOrEqual(o.StopPrice)
	}
	return price.LessThanOrEqual(o.StopPrice)
}

// ApplyFill records qty executed at price against this order, updating
// filled, remaining, the quantity-weighted average fill price, and status.
func (o *Order) ApplyFill(qty, price decimal.Decimal, fillID string) {
	prevNotional := o.AvgFillPrice.Mul(o.Filled)
	o.Filled = o.Filled.Add(qty)
	o.Remaining = o.Remaining.Sub(qty)
	o.AvgFillPrice = prevNotional.Add(price.Mul(qty)).Div(o.Filled)
	o.FillIDs = append(o.FillIDs, fillID)

	if o.Remaining.IsZero() {
		o.Status = StatusFilled
	} else {
		o.Status = StatusPartial
	}
	o.UpdatedAt = time.Now()
}

// Clone returns a deep copy suitable for event payloads and API responses.
func (o *Order) Clone() *Order {
	cp := *o
	if o.FillIDs != nil {
		cp.FillIDs = append([]string(nil), o.FillIDs...)
	}
	return &cp
}

// ————————————————————————————————————————————————————————————————————————
// Trades
// ————————————————————————————————————————————————————————————————————————

// Trade is one matched execution between an aggressor order and a passive
// resting order, or between an order and the synthetic market counterparty.
// Trades are immutable once published.
type Trade struct {
	ID        string    `json:"id"`
	Commodity Commodity `json:"commodity"`

	Quantity decimal.Decimal `json:"quantity"`
	Price    decimal.Decimal `json:"price"`
	Value    decimal.Decimal `json:"value"` // quantity × price

	AggressorOrderID string `json:"aggressor_order_id"`
	PassiveOrderID   string `json:"passive_order_id,omitempty"` // empty on market-counterparty fills
	AggressorUserID  string `json:"aggressor_user_id"`
	PassiveUserID    string `json:"passive_user_id"` // MarketCounterparty when synthetic

	AggressorSide Side      `json:"aggressor_side"`
	ExecutedAt    time.Time `json:"executed_at"`
}

// ————————————————————————————————————————————————————————————————————————
// Positions
// ————————————————————————————————————————————————————————————————————————

// Position is the net holding for one (user, commodity) pair.
// Quantity is signed: positive long, negative short. AvgPrice is the
// weighted-average cost basis of the open lot and is zero when flat.
type Position struct {
	UserID    string    `json:"user_id"`
	Commodity Commodity `json:"commodity"`

	Quantity      decimal.Decimal `json:"quantity"`
	AvgPrice      decimal.Decimal `json:"avg_price"`
	RealizedPnL   decimal.Decimal `json:"realized_pnl"`
	UnrealizedPnL decimal.Decimal `json:"unrealized_pnl"`
	MarkPrice     decimal.Decimal `json:"mark_price"` // reference price behind UnrealizedPnL; set on summary reads

	UpdatedAt time.Time `json:"updated_at"`
}

// PortfolioSummary aggregates a user's positions for portfolio reads and
// risk assessment.
type PortfolioSummary struct {
	UserID             string          `json:"user_id"`
	Positions          []Position      `json:"positions"`
	TotalRealizedPnL   decimal.Decimal `json:"total_realized_pnl"`
	TotalUnrealizedPnL decimal.Decimal `json:"total_unrealized_pnl"`
	TotalExposure      decimal.Decimal `json:"total_exposure"` // Σ |qty| × price
	OpenOrders         int             `json:"open_orders"`
	GeneratedAt        time.Time       `json:"generated_at"`
}

// ————————————————————————————————————————————————————————————————————————
// Order book snapshots
// ————————————————————————————————————————————————————————————————————————

// BookLevel aggregates all resting orders at one price.
type BookLevel struct {
	Price    decimal.Decimal `json:"price"`
	Quantity decimal.Decimal `json:"quantity"` // summed remaining across orders
	Orders   int             `json:"orders"`   // number of orders at this price
}

// BookSnapshot is a point-in-time aggregated view of one commodity's book.
type BookSnapshot struct {
	Commodity Commodity   `json:"commodity"`
	Bids      []BookLevel `json:"bids"` // best (highest) first
	Asks      []BookLevel `json:"asks"` // best (lowest) first
	Timestamp time.Time   `json:"timestamp"`
}

// BestBid returns the top bid level, if any.
func (s *BookSnapshot) BestBid() (BookLevel, bool) {
	if len(s.Bids) == 0 {
		return BookLevel{}, false
	}
	return s.Bids[0], true
}

// BestAsk returns the top ask level, if any.
func (s *BookSnapshot) BestAsk() (BookLevel, bool) {
	if len(s.Asks) == 0 {
		return BookLevel{}, false
	}
	return s.Asks[0], true
}

// ————————————————————————————————————————————————————————————————————————
// Risk alerts
// ————————————————————————————————————————————————————————————————————————

// Severity ranks risk alerts. The orchestrator routes notifications only for
// high and critical alerts.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Notifiable reports whether alerts of this severity are routed to the user.
func (s Severity) Notifiable() bool {
	return s == SeverityHigh || s == SeverityCritical
}

// Alert is one finding produced by a risk evaluator.
type Alert struct {
	Type         string          `json:"type"` // e.g. "position_limit", "margin_call", "concentration"
	Severity     Severity        `json:"severity"`
	Message      string          `json:"message"`
	CurrentValue decimal.Decimal `json:"current_value"`
	Limit        decimal.Decimal `json:"limit"`
}

// ————————————————————————————————————————————————————————————————————————
// User preferences
// ————————————————————————————————————————————————————————————————————————

// Channel names a notification delivery transport.
type Channel string

const (
	ChannelEmail    Channel = "email"
	ChannelSMS      Channel = "sms"
	ChannelTelegram Channel = "telegram"
)

// Valid reports whether c is a supported channel.
func (c Channel) Valid() bool {
	return c == ChannelEmail || c == ChannelSMS || c == ChannelTelegram
}

// UserPreferences controls which notifications a user receives and where.
type UserPreferences struct {
	UserID   string             `json:"user_id"`
	Channels []Channel          `json:"channels"`
	Contacts map[Channel]string `json:"contacts"` // channel → address/number/handle

	TradeNotifications bool `json:"trade_notifications"`
	RiskAlerts         bool `json:"risk_alerts"`
	MarginCalls        bool `json:"margin_calls"`
	ComplianceAlerts   bool `json:"compliance_alerts"`
	DailyReports       bool `json:"daily_reports"`
	MarketOpening      bool `json:"market_opening"`

	UpdatedAt time.Time `json:"updated_at"`
}

// DefaultPreferences returns the preferences applied to users who never
// configured any: trade confirmations, risk alerts, and margin calls on.
func DefaultPreferences(userID string) *UserPreferences {
	return &UserPreferences{
		UserID:             userID,
		Channels:           []Channel{ChannelEmail},
		Contacts:           map[Channel]string{},
		TradeNotifications: true,
		RiskAlerts:         true,
		MarginCalls:        true,
	}
}
