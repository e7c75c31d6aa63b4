// Package marketdata talks to the external price feed. It exposes the two
// lookups the engine needs — the latest daily close and a short historical
// close series — behind a Feed interface so the live Alpaca client and the
// simulated feed are interchangeable.
package marketdata

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

var (
	// ErrNoData is returned when the feed has no price history for a
	// symbol (unknown ticker, or no completed trading day yet).
	ErrNoData = errors.New("marketdata: no price history")
)

// Close is one daily closing price.
type Close struct {
	Date  time.Time       `json:"date"`
	Price decimal.Decimal `json:"price"`
}

// Feed is the external market-data provider. Calls may be slow or
// rate-limited; callers must not hold ledger locks across them.
type Feed interface {
	// LatestClose returns the most recent daily close for symbol.
	LatestClose(ctx context.Context, symbol string) (Close, error)

	// DailyCloses returns up to n most recent daily closes for symbol,
	// oldest first. Fewer than n entries may exist for new listings.
	DailyCloses(ctx context.Context, symbol string, n int) ([]Close, error)
}
