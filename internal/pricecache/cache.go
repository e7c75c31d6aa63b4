// Package pricecache mediates all reads of market prices. It keeps one
// PriceQuote per symbol in an entry store (memory or Redis) and only calls
// the external feed when the stored quote is older than the caller's
// freshness window. No rounding happens here; callers round as needed.
package pricecache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/papertrade/engine/internal/marketdata"
	"github.com/papertrade/engine/internal/metrics"
	"github.com/papertrade/engine/internal/model"
)

// ErrPriceUnavailable is returned when no price can be produced for a
// symbol: the feed failed or has no history. The wrapped message always
// names the symbol and the underlying cause.
var ErrPriceUnavailable = errors.New("pricecache: price unavailable")

// EntryStore holds the persisted quotes, one per symbol. Put has upsert
// semantics. Entries are never evicted; a stale quote is simply refreshed
// on the next miss.
type EntryStore interface {
	// Get returns the stored quote for symbol, or ok=false if absent.
	Get(ctx context.Context, symbol string) (model.PriceQuote, bool, error)

	// GetMany returns every stored quote for the given symbols in one
	// lookup; absent symbols are simply missing from the result.
	GetMany(ctx context.Context, symbols []string) (map[string]model.PriceQuote, error)

	// Put creates or overwrites the quote for its symbol.
	Put(ctx context.Context, q model.PriceQuote) error
}

// DefaultMaxAge is the freshness window used when none is configured.
const DefaultMaxAge = 30 * time.Second

// Cache is the TTL price cache.
type Cache struct {
	entries EntryStore
	feed    marketdata.Feed
	maxAge  time.Duration
	log     *slog.Logger
	now     func() time.Time
}

// New creates a Cache over the given entry store and feed. A zero maxAge
// falls back to DefaultMaxAge.
func New(entries EntryStore, feed marketdata.Feed, maxAge time.Duration) *Cache {
	if maxAge <= 0 {
		maxAge = DefaultMaxAge
	}
	return &Cache{
		entries: entries,
		feed:    feed,
		maxAge:  maxAge,
		log:     slog.Default().With("component", "pricecache"),
		now:     time.Now,
	}
}

// Price returns the close for symbol, from cache when the stored quote is
// younger than the freshness window, otherwise from the feed. A
// successful fetch is persisted (upsert) before returning.
func (c *Cache) Price(ctx context.Context, symbol string) (decimal.Decimal, error) {
	q, ok, err := c.entries.Get(ctx, symbol)
	if err != nil {
		c.log.Warn("entry store read failed", "symbol", symbol, "err", err)
	}
	if ok && c.fresh(q) {
		metrics.PriceCacheHits.Inc()
		return q.Price, nil
	}
	metrics.PriceCacheMisses.Inc()

	return c.refresh(ctx, symbol)
}

// Prices resolves a batch of symbols. Everything satisfiable from cache is
// served from a single store lookup; the remainder falls back to the
// single-symbol path one by one. A failed symbol lands in the errors map
// and never aborts the batch.
func (c *Cache) Prices(ctx context.Context, symbols []string) (map[string]decimal.Decimal, map[string]string) {
	prices := make(map[string]decimal.Decimal)
	errs := make(map[string]string)

	cached, err := c.entries.GetMany(ctx, symbols)
	if err != nil {
		c.log.Warn("entry store batch read failed", "err", err)
		cached = nil
	}

	for _, symbol := range symbols {
		if q, ok := cached[symbol]; ok && c.fresh(q) {
			metrics.PriceCacheHits.Inc()
			prices[symbol] = q.Price
			continue
		}
		metrics.PriceCacheMisses.Inc()

		price, err := c.refresh(ctx, symbol)
		if err != nil {
			errs[symbol] = err.Error()
			continue
		}
		prices[symbol] = price
	}

	return prices, errs
}

func (c *Cache) fresh(q model.PriceQuote) bool {
	return c.now().Sub(q.FetchedAt) < c.maxAge
}

// refresh fetches from the feed and upserts the entry on success.
func (c *Cache) refresh(ctx context.Context, symbol string) (decimal.Decimal, error) {
	start := time.Now()
	latest, err := c.feed.LatestClose(ctx, symbol)
	metrics.FeedRequestDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.FeedRequestErrors.Inc()
		return decimal.Decimal{}, fmt.Errorf("%w for %s: %v", ErrPriceUnavailable, symbol, err)
	}

	q := model.PriceQuote{
		Symbol:    symbol,
		Price:     latest.Price,
		FetchedAt: c.now().UTC(),
	}
	if err := c.entries.Put(ctx, q); err != nil {
		// The price is still good; a cache write failure only costs a
		// future refetch.
		c.log.Warn("entry store write failed", "symbol", symbol, "err", err)
	}

	c.log.Debug("price refreshed", "symbol", symbol, "price", latest.Price.String())
	return latest.Price, nil
}
