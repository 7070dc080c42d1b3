package oracle

import (
	"time"

	gocache "github.com/patrickmn/go-cache"
	"github.com/shopspring/decimal"

	"enertrade/pkg/types"
)

// Cached wraps an Oracle with a TTL cache. Matching consults the oracle on
// every market-order residual and unrealized P&L refresh; caching keeps
// those reads from hammering the inner source.
type Cached struct {
	inner Oracle
	cache *gocache.Cache
}

// NewCached caches inner's answers for ttl.
func NewCached(inner Oracle, ttl time.Duration) *Cached {
	return &Cached{
		inner: inner,
		cache: gocache.New(ttl, 2*ttl),
	}
}

// Price serves from cache when fresh, otherwise asks the inner oracle.
// Errors are not cached, so a recovering source is retried immediately.
func (c *Cached) Price(commodity types.Commodity) (decimal.Decimal, error) {
	if v, ok := c.cache.Get(string(commodity)); ok {
		return v.(decimal.Decimal), nil
	}

	p, err := c.inner.Price(commodity)
	if err != nil {
		return decimal.Zero, err
	}
	c.cache.Set(string(commodity), p, gocache.DefaultExpiration)
	return p, nil
}
