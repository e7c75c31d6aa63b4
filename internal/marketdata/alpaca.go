package marketdata

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/alpacahq/alpaca-trade-api-go/v3/marketdata"
	"github.com/shopspring/decimal"
)

// AlpacaFeed fetches daily bars from the Alpaca market-data API. Requests
// run through a token-bucket rate limiter and a small retry loop so a
// transient upstream hiccup doesn't immediately surface as a failed trade.
type AlpacaFeed struct {
	client  *marketdata.Client
	feed    string // "iex" or "sip"
	limiter *RateLimiter
	log     *slog.Logger
}

// NewAlpacaFeed creates an AlpacaFeed with the given credentials.
// dataURL and feed may be empty to use the SDK defaults.
func NewAlpacaFeed(apiKey, apiSecret, dataURL, feed string, ratePerMin int) *AlpacaFeed {
	opts := marketdata.ClientOpts{
		APIKey:    apiKey,
		APISecret: apiSecret,
	}
	if dataURL != "" {
		opts.BaseURL = dataURL
	}
	if feed == "" {
		feed = "iex"
	}
	if ratePerMin <= 0 {
		ratePerMin = 200
	}

	return &AlpacaFeed{
		client:  marketdata.NewClient(opts),
		feed:    feed,
		limiter: NewRateLimiter(ratePerMin),
		log:     slog.Default().With("component", "alpaca-feed"),
	}
}

func (f *AlpacaFeed) LatestClose(ctx context.Context, symbol string) (Close, error) {
	closes, err := f.DailyCloses(ctx, symbol, 1)
	if err != nil {
		return Close{}, err
	}
	return closes[len(closes)-1], nil
}

func (f *AlpacaFeed) DailyCloses(ctx context.Context, symbol string, n int) ([]Close, error) {
	if err := f.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	// Calendar days ≠ trading days; over-fetch to survive weekends and
	// holidays, then keep the trailing n bars.
	end := time.Now().UTC()
	start := end.AddDate(0, 0, -(n*2 + 7))

	var bars []marketdata.Bar
	err := Retry(ctx, 3, 500*time.Millisecond, func() error {
		var err error
		bars, err = f.client.GetBars(symbol, marketdata.GetBarsRequest{
			TimeFrame: marketdata.OneDay,
			Start:     start,
			End:       end,
			Feed:      marketdata.Feed(f.feed),
		})
		return err
	})
	if err != nil {
		f.log.Warn("daily bars fetch failed", "symbol", symbol, "err", err)
		return nil, fmt.Errorf("fetch daily bars for %s: %w", symbol, err)
	}
	if len(bars) == 0 {
		return nil, fmt.Errorf("%w for %s", ErrNoData, symbol)
	}
	if len(bars) > n {
		bars = bars[len(bars)-n:]
	}

	closes := make([]Close, 0, len(bars))
	for _, b := range bars {
		closes = append(closes, Close{
			Date:  b.Timestamp,
			Price: decimal.NewFromFloat(b.Close),
		})
	}
	return closes, nil
}
