package pricecache_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/papertrade/engine/internal/marketdata"
	"github.com/papertrade/engine/internal/model"
	"github.com/papertrade/engine/internal/pricecache"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

func newTestCache() (*pricecache.Cache, *pricecache.MemoryEntryStore, *marketdata.SimFeed) {
	entries := pricecache.NewMemoryEntryStore()
	feed := marketdata.NewSimFeed()
	return pricecache.New(entries, feed, 30*time.Second), entries, feed
}

func TestPrice_CacheHitWithinWindow(t *testing.T) {
	cache, _, feed := newTestCache()
	feed.SeedPrice("AAPL", d(175.50))
	ctx := context.Background()

	first, err := cache.Price(ctx, "AAPL")
	if err != nil {
		t.Fatalf("first lookup failed: %v", err)
	}

	// Change the feed price: a fresh cache entry must shield us from it.
	feed.SeedPrice("AAPL", d(180))

	second, err := cache.Price(ctx, "AAPL")
	if err != nil {
		t.Fatalf("second lookup failed: %v", err)
	}

	if !first.Equal(second) {
		t.Errorf("expected identical cached price, got %s then %s", first, second)
	}
	if calls := feed.Calls("AAPL"); calls != 1 {
		t.Errorf("expected exactly 1 feed call, got %d", calls)
	}
}

func TestPrice_ExpiredEntryRefetches(t *testing.T) {
	cache, entries, feed := newTestCache()
	feed.SeedPrice("AAPL", d(180))
	ctx := context.Background()

	// Seed an entry that is already past the freshness window.
	stale := model.PriceQuote{
		Symbol:    "AAPL",
		Price:     d(175.50),
		FetchedAt: time.Now().UTC().Add(-time.Minute),
	}
	if err := entries.Put(ctx, stale); err != nil {
		t.Fatalf("seeding stale entry: %v", err)
	}

	price, err := cache.Price(ctx, "AAPL")
	if err != nil {
		t.Fatalf("lookup failed: %v", err)
	}
	if !price.Equal(d(180)) {
		t.Errorf("expected refetched price 180, got %s", price)
	}
	if calls := feed.Calls("AAPL"); calls != 1 {
		t.Errorf("expected exactly 1 feed call, got %d", calls)
	}

	// The stored entry must have been overwritten, not duplicated.
	q, ok, _ := entries.Get(ctx, "AAPL")
	if !ok {
		t.Fatal("expected an entry after refetch")
	}
	if !q.Price.Equal(d(180)) {
		t.Errorf("stored entry not updated, price = %s", q.Price)
	}
	if q.FetchedAt.Before(stale.FetchedAt) || q.FetchedAt.Equal(stale.FetchedAt) {
		t.Errorf("stored fetched_at not advanced: %v", q.FetchedAt)
	}
}

func TestPrice_FeedFailure(t *testing.T) {
	cache, _, feed := newTestCache()
	feed.Fail("AAPL", errors.New("upstream timeout"))

	_, err := cache.Price(context.Background(), "AAPL")
	if !errors.Is(err, pricecache.ErrPriceUnavailable) {
		t.Fatalf("expected ErrPriceUnavailable, got %v", err)
	}
	// Failure message names the symbol and the cause.
	if !strings.Contains(err.Error(), "AAPL") || !strings.Contains(err.Error(), "upstream timeout") {
		t.Errorf("error message missing symbol or cause: %v", err)
	}
}

func TestPrice_EmptyHistory(t *testing.T) {
	cache, _, _ := newTestCache()

	_, err := cache.Price(context.Background(), "ZZZZ")
	if !errors.Is(err, pricecache.ErrPriceUnavailable) {
		t.Fatalf("expected ErrPriceUnavailable for unseeded symbol, got %v", err)
	}
}

func TestPrices_BatchMixedOutcome(t *testing.T) {
	cache, entries, feed := newTestCache()
	ctx := context.Background()

	// AAPL fresh in cache, MSFT only on the feed, BAD fails.
	_ = entries.Put(ctx, model.PriceQuote{Symbol: "AAPL", Price: d(175.50), FetchedAt: time.Now().UTC()})
	feed.SeedPrice("MSFT", d(380.25))
	feed.Fail("BAD", errors.New("unknown symbol"))

	prices, errs := cache.Prices(ctx, []string{"AAPL", "MSFT", "BAD"})

	if len(prices) != 2 {
		t.Fatalf("expected 2 prices, got %d: %v", len(prices), prices)
	}
	if !prices["AAPL"].Equal(d(175.50)) {
		t.Errorf("AAPL = %s, want 175.5", prices["AAPL"])
	}
	if !prices["MSFT"].Equal(d(380.25)) {
		t.Errorf("MSFT = %s, want 380.25", prices["MSFT"])
	}
	if feed.Calls("AAPL") != 0 {
		t.Errorf("cached AAPL should not hit the feed, got %d calls", feed.Calls("AAPL"))
	}

	msg, ok := errs["BAD"]
	if !ok {
		t.Fatal("expected error entry for BAD")
	}
	if !strings.Contains(msg, "BAD") || !strings.Contains(msg, "unknown symbol") {
		t.Errorf("batch error missing symbol or cause: %s", msg)
	}
	if _, ok := prices["BAD"]; ok {
		t.Error("failed symbol must not appear in prices")
	}
}

func TestPrices_FailureDoesNotAbortBatch(t *testing.T) {
	cache, _, feed := newTestCache()
	feed.Fail("AAA", errors.New("boom"))
	feed.SeedPrice("BBB", d(10))
	feed.SeedPrice("CCC", d(20))

	prices, errs := cache.Prices(context.Background(), []string{"AAA", "BBB", "CCC"})

	if len(errs) != 1 {
		t.Fatalf("expected 1 error, got %v", errs)
	}
	if len(prices) != 2 {
		t.Fatalf("expected the other 2 symbols to resolve, got %v", prices)
	}
}
