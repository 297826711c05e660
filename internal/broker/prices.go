package broker

import (
	"context"
	"sync"
	"time"

	"banknifty-trader/internal/errors"
	"banknifty-trader/internal/models"
)

// QuoteCache is a PriceSource backed by an in-memory last-price cache.
// Live mode feeds it from broker quotes; backtests feed it from historical
// candles. Prices older than maxAge are reported as stale.
type QuoteCache struct {
	maxAge time.Duration
	quotes map[string]models.Quote
	now    func() time.Time
	mu     sync.RWMutex
}

// NewQuoteCache creates a quote cache. maxAge zero disables staleness checks.
func NewQuoteCache(maxAge time.Duration) *QuoteCache {
	return &QuoteCache{
		maxAge: maxAge,
		quotes: make(map[string]models.Quote),
		now:    time.Now,
	}
}

// SetClock overrides the cache's time source. Used by backtests.
func (c *QuoteCache) SetClock(now func() time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = now
}

// Update records the latest price for a symbol.
func (c *QuoteCache) Update(symbol string, price float64, at time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.quotes[symbol] = models.Quote{Symbol: symbol, LTP: price, Timestamp: at}
}

// LatestPrice returns the most recent quote for a symbol.
func (c *QuoteCache) LatestPrice(ctx context.Context, symbol string) (models.Quote, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	q, ok := c.quotes[symbol]
	if !ok {
		return models.Quote{}, errors.Wrapf(errors.ErrPriceUnavailable, "no quote for %s", symbol)
	}
	if c.maxAge > 0 && c.now().Sub(q.Timestamp) > c.maxAge {
		return q, errors.Wrapf(errors.ErrPriceStale, "quote for %s is %s old",
			symbol, c.now().Sub(q.Timestamp))
	}
	return q, nil
}

// CachedSource pulls from an upstream PriceSource and falls back to the
// last good quote when the upstream fails. The fallback quote is always
// reported stale so the monitor can flag it.
type CachedSource struct {
	upstream PriceSource
	cache    *QuoteCache
}

// NewCachedSource wraps upstream with a last-good-quote fallback. Cached
// quotes older than maxAge are dropped rather than served.
func NewCachedSource(upstream PriceSource, maxAge time.Duration) *CachedSource {
	return &CachedSource{upstream: upstream, cache: NewQuoteCache(maxAge)}
}

// LatestPrice fetches a fresh quote, recording it for later fallback.
func (s *CachedSource) LatestPrice(ctx context.Context, symbol string) (models.Quote, error) {
	q, err := s.upstream.LatestPrice(ctx, symbol)
	if err == nil && q.LTP > 0 {
		s.cache.Update(symbol, q.LTP, q.Timestamp)
		return q, nil
	}

	cached, cacheErr := s.cache.LatestPrice(ctx, symbol)
	if cached.LTP > 0 {
		return cached, errors.Wrapf(errors.ErrPriceStale,
			"serving cached quote for %s: upstream failed", symbol)
	}
	if err != nil {
		return models.Quote{}, err
	}
	return models.Quote{}, cacheErr
}
