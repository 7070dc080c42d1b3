// Package oracle provides the market reference price per commodity.
//
// The matching engine prices market-order residuals and unrealized P&L
// against this source. Two producers exist: Simulated (deterministic
// base-price-with-jitter, used in tests and dry runs) and Feed (polls a
// live price endpoint). Both stream price changes on an Updates channel
// that drives the engine's stop-order trigger watcher. Cached wraps any
// Oracle with a TTL cache so the matching path never blocks on a fetch.
package oracle

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"enertrade/internal/config"
	"enertrade/pkg/types"
)

// Oracle returns the current reference price for a commodity.
type Oracle interface {
	Price(commodity types.Commodity) (decimal.Decimal, error)
}

// Update is one price change emitted by a Source.
type Update struct {
	Commodity types.Commodity
	Price     decimal.Decimal
	At        time.Time
}

// Source is a price producer: an Oracle that refreshes itself while Run is
// active and streams each change on Updates.
type Source interface {
	Oracle
	Run(ctx context.Context)
	Updates() <-chan Update
}

// Simulated produces deterministic prices: basePrice × (1 ± jitter), where
// jitter is drawn from a seeded RNG on each refresh tick. Between ticks the
// price is stable, so a single operation always sees one price. SetPrice
// lets tests and the session opener push exact prices.
type Simulated struct {
	mu       sync.RWMutex
	base     map[types.Commodity]decimal.Decimal
	prices   map[types.Commodity]decimal.Decimal
	jitter   float64
	interval time.Duration
	rng      *rand.Rand
	updates  chan Update
}

// NewSimulated seeds the simulator from the configured base prices.
// Prices stay at their base values until the first refresh tick.
func NewSimulated(cfg *config.Config, seed int64) *Simulated {
	base := make(map[types.Commodity]decimal.Decimal, len(types.Commodities))
	prices := make(map[types.Commodity]decimal.Decimal, len(types.Commodities))
	for _, c := range types.Commodities {
		base[c] = cfg.BasePrice(c)
		prices[c] = cfg.BasePrice(c)
	}
	return &Simulated{
		base:     base,
		prices:   prices,
		jitter:   cfg.Oracle.JitterPct,
		interval: cfg.Oracle.PollInterval,
		rng:      rand.New(rand.NewSource(seed)),
		updates:  make(chan Update, 64),
	}
}

// Price returns the current simulated price.
func (s *Simulated) Price(commodity types.Commodity) (decimal.Decimal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.prices[commodity]
	if !ok || p.IsZero() {
		return decimal.Zero, fmt.Errorf("oracle: no price for %s: %w", commodity, types.ErrUnsupportedCommodity)
	}
	return p, nil
}

// SetPrice overrides the price for one commodity and emits an update.
// The new value also becomes the base the next refresh jitters around.
func (s *Simulated) SetPrice(commodity types.Commodity, price decimal.Decimal) {
	s.mu.Lock()
	s.base[commodity] = price
	s.prices[commodity] = price
	s.mu.Unlock()

	s.emit(Update{Commodity: commodity, Price: price, At: time.Now()})
}

// Updates returns the stream of price changes.
func (s *Simulated) Updates() <-chan Update { return s.updates }

// Run refreshes all prices on each interval until ctx is cancelled.
func (s *Simulated) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.refresh()
		}
	}
}

// refresh walks all commodities and applies a fresh jitter draw to each.
func (s *Simulated) refresh() {
	now := time.Now()

	s.mu.Lock()
	changed := make([]Update, 0, len(s.prices))
	for _, c := range types.Commodities {
		base := s.base[c]
		if base.IsZero() {
			continue
		}
		// factor in [1-jitter, 1+jitter]
		factor := 1 + (s.rng.Float64()*2-1)*s.jitter
		next := base.Mul(decimal.NewFromFloat(factor)).Round(4)
		s.prices[c] = next
		changed = append(changed, Update{Commodity: c, Price: next, At: now})
	}
	s.mu.Unlock()

	for _, u := range changed {
		s.emit(u)
	}
}

// emit publishes an update without blocking. Price ticks are periodic, so a
// dropped update is corrected by the next tick.
func (s *Simulated) emit(u Update) {
	select {
	case s.updates <- u:
	default:
	}
}
