package api

import (
	"time"

	"github.com/shopspring/decimal"

	"enertrade/internal/connector"
	"enertrade/internal/engine"
	"enertrade/pkg/types"
)

// orderRequest is the JSON body of POST /api/orders. Quantities and prices
// accept JSON numbers or strings; decimal parsing keeps exact values either
// way.
type orderRequest struct {
	UserID      string          `json:"user_id"`
	Commodity   string          `json:"commodity"`
	Side        string          `json:"side"`
	Type        string          `json:"type"`
	Quantity    decimal.Decimal `json:"quantity"`
	Price       decimal.Decimal `json:"price"`
	StopPrice   decimal.Decimal `json:"stop_price"`
	TimeInForce string          `json:"tif"`
}

func (r orderRequest) toPlaceRequest() engine.PlaceRequest {
	return engine.PlaceRequest{
		UserID:      r.UserID,
		Commodity:   types.Commodity(r.Commodity),
		Side:        types.Side(r.Side),
		Type:        types.OrderType(r.Type),
		Quantity:    r.Quantity,
		Price:       r.Price,
		StopPrice:   r.StopPrice,
		TimeInForce: types.TimeInForce(r.TimeInForce),
	}
}

// modifyRequest is the JSON body of PATCH /api/orders/{id}. Absent fields
// keep their current values.
type modifyRequest struct {
	Price       *decimal.Decimal `json:"price"`
	Quantity    *decimal.Decimal `json:"quantity"`
	StopPrice   *decimal.Decimal `json:"stop_price"`
	TimeInForce *string          `json:"tif"`
}

func (r modifyRequest) toChanges() engine.Changes {
	ch := engine.Changes{
		Price:     r.Price,
		Quantity:  r.Quantity,
		StopPrice: r.StopPrice,
	}
	if r.TimeInForce != nil {
		tif := types.TimeInForce(*r.TimeInForce)
		ch.TimeInForce = &tif
	}
	return ch
}

// errorResponse is the JSON body of every non-2xx response. Kind carries
// the stable error category clients can switch on. Order is present when a
// rejected order was still recorded.
type errorResponse struct {
	Error string       `json:"error"`
	Kind  string       `json:"kind"`
	Order *types.Order `json:"order,omitempty"`
}

// connectorStatus is one entry of GET /api/connectors: a partner
// exchange's metadata plus its current link state.
type connectorStatus struct {
	connector.Metadata
	Connected bool `json:"connected"`
}

// StreamEvent is the envelope broadcast to WebSocket clients.
type StreamEvent struct {
	Type      string    `json:"type"` // hello, order_placed, order_modified, order_cancelled, trade_executed
	Timestamp time.Time `json:"timestamp"`
	Commodity string    `json:"commodity,omitempty"`
	Data      any       `json:"data"`
}

// orderModifiedEvent pairs the order states around a modify for stream
// consumers.
type orderModifiedEvent struct {
	Before types.Order `json:"before"`
	After  types.Order `json:"after"`
}

// helloEvent greets a new stream client with what it can subscribe to.
type helloEvent struct {
	Commodities []types.Commodity `json:"commodities"`
}
