package marketdata

import (
	"context"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"
)

// SimFeed is an in-memory Feed for tests and keyless development. Closes
// are seeded per symbol, oldest first; every call is counted so tests can
// assert how often the cache actually reached the feed.
type SimFeed struct {
	mu     sync.Mutex
	closes map[string][]Close
	errs   map[string]error
	calls  map[string]int
}

// NewSimFeed creates an empty simulated feed.
func NewSimFeed() *SimFeed {
	return &SimFeed{
		closes: make(map[string][]Close),
		errs:   make(map[string]error),
		calls:  make(map[string]int),
	}
}

// Seed replaces the close series for a symbol, oldest first.
func (f *SimFeed) Seed(symbol string, closes ...Close) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closes[symbol] = append([]Close(nil), closes...)
	delete(f.errs, symbol)
}

// SeedPrice is a shorthand to seed a single latest close.
func (f *SimFeed) SeedPrice(symbol string, price decimal.Decimal) {
	f.Seed(symbol, Close{Price: price})
}

// Fail makes every lookup for symbol return err.
func (f *SimFeed) Fail(symbol string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errs[symbol] = err
}

// Calls reports how many feed lookups have been made for symbol.
func (f *SimFeed) Calls(symbol string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[symbol]
}

func (f *SimFeed) LatestClose(ctx context.Context, symbol string) (Close, error) {
	closes, err := f.DailyCloses(ctx, symbol, 1)
	if err != nil {
		return Close{}, err
	}
	return closes[len(closes)-1], nil
}

func (f *SimFeed) DailyCloses(_ context.Context, symbol string, n int) ([]Close, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls[symbol]++
	if err, ok := f.errs[symbol]; ok {
		return nil, fmt.Errorf("fetch daily bars for %s: %w", symbol, err)
	}
	closes, ok := f.closes[symbol]
	if !ok || len(closes) == 0 {
		return nil, fmt.Errorf("%w for %s", ErrNoData, symbol)
	}
	if len(closes) > n {
		closes = closes[len(closes)-n:]
	}
	return append([]Close(nil), closes...), nil
}
