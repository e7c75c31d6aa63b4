package marketdata

import (
	"context"
	"hash/fnv"
	"time"

	"github.com/shopspring/decimal"
)

// DemoFeed serves deterministic synthetic prices for any valid symbol.
// It lets the service run end to end without market data credentials.
// Each symbol gets a stable base price derived from its name, and each
// calendar date a stable drift, so every window over the series agrees
// on a given date's close no matter how many closes were requested.
type DemoFeed struct{}

// NewDemoFeed creates a credential-free synthetic feed.
func NewDemoFeed() *DemoFeed {
	return &DemoFeed{}
}

func (f *DemoFeed) LatestClose(ctx context.Context, symbol string) (Close, error) {
	closes, err := f.DailyCloses(ctx, symbol, 1)
	if err != nil {
		return Close{}, err
	}
	return closes[len(closes)-1], nil
}

// DailyCloses generates n closes ending today, oldest first.
func (f *DemoFeed) DailyCloses(_ context.Context, symbol string, n int) ([]Close, error) {
	if n <= 0 {
		return nil, nil
	}

	today := time.Now().UTC().Truncate(24 * time.Hour)
	closes := make([]Close, n)
	for i := range closes {
		date := today.AddDate(0, 0, -(n - 1 - i))
		closes[i] = Close{Date: date, Price: demoClose(symbol, date)}
	}
	return closes, nil
}

// demoClose derives the close for one symbol on one date. Base price is
// between 10 and 510 per symbol; the date contributes up to ±2% drift.
func demoClose(symbol string, date time.Time) decimal.Decimal {
	h := fnv.New64a()
	h.Write([]byte(symbol))
	base := 10 + float64(h.Sum64()%100001)/200

	h.Write([]byte(date.Format("2006-01-02")))
	drift := (float64(h.Sum64()%10001)/10000 - 0.5) * 0.04

	return decimal.NewFromFloat(base * (1 + drift)).Round(2)
}
