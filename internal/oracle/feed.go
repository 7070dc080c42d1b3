package oracle

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"

	"enertrade/internal/config"
	"enertrade/pkg/types"
)

// feedQuote is one entry in the upstream price response.
type feedQuote struct {
	Symbol string `json:"symbol"`
	Price  string `json:"price"`
}

// feedResponse is the body returned by the price endpoint.
type feedResponse struct {
	Quotes []feedQuote `json:"quotes"`
	AsOf   string      `json:"as_of"`
}

// Feed polls an HTTP price endpoint and serves the last good quote per
// commodity. Price never blocks on the network: it reads the poll cache,
// so a slow upstream degrades freshness, not matching latency.
type Feed struct {
	client   *resty.Client
	interval time.Duration
	logger   *slog.Logger

	mu      sync.RWMutex
	prices  map[types.Commodity]decimal.Decimal
	asOf    time.Time
	updates chan Update
}

// NewFeed builds a poller against cfg.Oracle.FeedURL.
func NewFeed(cfg *config.Config, logger *slog.Logger) *Feed {
	client := resty.New().
		SetBaseURL(cfg.Oracle.FeedURL).
		SetTimeout(10 * time.Second).
		SetRetryCount(3).
		SetRetryWaitTime(500 * time.Millisecond).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			return err != nil || r.StatusCode() >= http.StatusInternalServerError
		})

	return &Feed{
		client:   client,
		interval: cfg.Oracle.PollInterval,
		logger:   logger.With("component", "oracle_feed"),
		prices:   make(map[types.Commodity]decimal.Decimal),
		updates:  make(chan Update, 64),
	}
}

// Price returns the last polled price for commodity.
func (f *Feed) Price(commodity types.Commodity) (decimal.Decimal, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	p, ok := f.prices[commodity]
	if !ok || p.IsZero() {
		return decimal.Zero, fmt.Errorf("oracle: no quote for %s: %w", commodity, types.ErrUnsupportedCommodity)
	}
	return p, nil
}

// Updates returns the stream of price changes.
func (f *Feed) Updates() <-chan Update { return f.updates }

// Run polls immediately, then on every interval until ctx is cancelled.
func (f *Feed) Run(ctx context.Context) {
	f.poll(ctx)

	ticker := time.NewTicker(f.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			f.poll(ctx)
		}
	}
}

func (f *Feed) poll(ctx context.Context) {
	var body feedResponse
	resp, err := f.client.R().
		SetContext(ctx).
		SetResult(&body).
		Get("/prices")
	if err != nil {
		f.logger.Warn("price poll failed", "error", err)
		return
	}
	if resp.IsError() {
		f.logger.Warn("price poll rejected", "status", resp.StatusCode())
		return
	}

	now := time.Now()
	changed := make([]Update, 0, len(body.Quotes))

	f.mu.Lock()
	for _, q := range body.Quotes {
		c := types.Commodity(q.Symbol)
		if !c.Valid() {
			continue
		}
		p, err := decimal.NewFromString(q.Price)
		if err != nil || p.Sign() <= 0 {
			f.logger.Warn("dropping bad quote", "symbol", q.Symbol, "price", q.Price)
			continue
		}
		if prev, ok := f.prices[c]; ok && prev.Equal(p) {
			continue
		}
		f.prices[c] = p
		changed = append(changed, Update{Commodity: c, Price: p, At: now})
	}
	f.asOf = now
	f.mu.Unlock()

	for _, u := range changed {
		select {
		case f.updates <- u:
		default:
		}
	}

	if len(changed) > 0 {
		f.logger.Debug("prices refreshed", "changed", len(changed))
	}
}

// LastPoll reports when the feed last completed a successful poll.
func (f *Feed) LastPoll() time.Time {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.asOf
}
