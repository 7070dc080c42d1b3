// Package connector hosts outbound links to partner energy exchanges.
//
// Connectors are a peer service to the matching core: nothing on the order
// path depends on them. Each connector is keyed by exchange id and carries
// the partner's metadata (region, listed markets, regulations it operates
// under). The Registry owns the set, connects and disconnects them as a
// group, and answers the API's listing endpoint.
//
// The HTTP implementation talks to a partner's REST API for order
// submission and market-data reads, and streams live quotes over a
// WebSocket subscription with automatic reconnection.
package connector

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"enertrade/pkg/types"
)

// Metadata describes one partner exchange.
type Metadata struct {
	ExchangeID  string            `json:"exchange_id"`
	Name        string            `json:"name"`
	Region      string            `json:"region"`
	Markets     []types.Commodity `json:"markets"`
	Regulations []string          `json:"regulations"`
}

// Quote is one market-data point from a partner exchange.
type Quote struct {
	Commodity types.Commodity `json:"commodity"`
	Bid       decimal.Decimal `json:"bid"`
	Ask       decimal.Decimal `json:"ask"`
	Last      decimal.Decimal `json:"last"`
	At        time.Time       `json:"at"`
}

// Ack is the partner's acknowledgement of a submitted order.
type Ack struct {
	ExternalID string `json:"external_id"`
	Status     string `json:"status"`
}

// Connector is one outbound exchange link.
type Connector interface {
	Metadata() Metadata
	Connected() bool
	Connect(ctx context.Context) error
	Disconnect() error

	SubmitOrder(ctx context.Context, o types.Order) (Ack, error)
	GetMarketData(ctx context.Context, commodity types.Commodity) (Quote, error)

	// SubscribeMarketData streams quotes for the given commodities to fn
	// until ctx is cancelled, reconnecting on transport failures.
	SubscribeMarketData(ctx context.Context, commodities []types.Commodity, fn func(Quote)) error
}

// Registry keys connectors by exchange id.
type Registry struct {
	mu     sync.RWMutex
	conns  map[string]Connector
	logger *slog.Logger
}

// NewRegistry returns an empty registry.
func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{
		conns:  make(map[string]Connector),
		logger: logger.With("component", "connectors"),
	}
}

// Register adds a connector. Exchange ids are unique.
func (r *Registry) Register(c Connector) error {
	id := c.Metadata().ExchangeID
	if id == "" {
		return fmt.Errorf("connector.Register: empty exchange id")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.conns[id]; exists {
		return fmt.Errorf("connector.Register: duplicate exchange id %q", id)
	}
	r.conns[id] = c
	return nil
}

// Get returns the connector for an exchange id.
func (r *Registry) Get(id string) (Connector, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.conns[id]
	return c, ok
}

// All returns the registered connectors sorted by exchange id.
func (r *Registry) All() []Connector {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Connector, 0, len(r.conns))
	for _, c := range r.conns {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Metadata().ExchangeID < out[j].Metadata().ExchangeID
	})
	return out
}

// Len returns the number of registered connectors.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// ConnectAll brings up every registered connector. Failures are logged and
// skipped; a partner being down must not hold up the platform.
func (r *Registry) ConnectAll(ctx context.Context) {
	for _, c := range r.All() {
		meta := c.Metadata()
		if err := c.Connect(ctx); err != nil {
			r.logger.Warn("connector failed to connect", "exchange", meta.ExchangeID, "error", err)
			continue
		}
		r.logger.Info("connector up", "exchange", meta.ExchangeID, "region", meta.Region)
	}
}

// DisconnectAll tears down every registered connector.
func (r *Registry) DisconnectAll() {
	for _, c := range r.All() {
		if err := c.Disconnect(); err != nil {
			r.logger.Warn("connector failed to disconnect", "exchange", c.Metadata().ExchangeID, "error", err)
		}
	}
}
