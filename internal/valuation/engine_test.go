package valuation_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/papertrade/engine/internal/ledger"
	"github.com/papertrade/engine/internal/marketdata"
	"github.com/papertrade/engine/internal/model"
	"github.com/papertrade/engine/internal/pricecache"
	"github.com/papertrade/engine/internal/valuation"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

type testEnv struct {
	engine *valuation.Engine
	store  *ledger.MemoryStore
	feed   *marketdata.SimFeed
}

func newTestEnv(t *testing.T, positions ...model.Position) *testEnv {
	t.Helper()
	store := ledger.NewMemoryStore()
	if err := store.Create(context.Background(), &model.UserLedger{
		UserID:      "user1",
		CashBalance: d(5000),
		Positions:   positions,
		CreatedAt:   time.Now().UTC(),
	}); err != nil {
		t.Fatalf("seeding user: %v", err)
	}

	feed := marketdata.NewSimFeed()
	cache := pricecache.New(pricecache.NewMemoryEntryStore(), feed, 0)
	return &testEnv{
		engine: valuation.NewEngine(store, cache, feed, d(10000)),
		store:  store,
		feed:   feed,
	}
}

func day(offset int) time.Time {
	return time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 0, offset)
}

func TestPortfolio_ValuesPositions(t *testing.T) {
	env := newTestEnv(t,
		model.Position{Symbol: "AAPL", Quantity: d(10), AveragePrice: d(150)},
		model.Position{Symbol: "MSFT", Quantity: d(5), AveragePrice: d(300)},
	)
	env.feed.Seed("AAPL",
		marketdata.Close{Date: day(0), Price: d(170)},
		marketdata.Close{Date: day(1), Price: d(175.50)},
	)
	env.feed.Seed("MSFT",
		marketdata.Close{Date: day(0), Price: d(375)},
		marketdata.Close{Date: day(1), Price: d(380)},
	)

	view, err := env.engine.Portfolio(context.Background(), "user1")
	if err != nil {
		t.Fatalf("Portfolio failed: %v", err)
	}

	// 5000 cash + 10*175.50 + 5*380 = 8655
	if !view.TotalValue.Equal(d(5000 + 1755 + 1900)) {
		t.Errorf("total value = %s, want 8655", view.TotalValue)
	}
	if len(view.Positions) != 2 {
		t.Fatalf("expected 2 positions, got %d", len(view.Positions))
	}
	aapl := view.Positions[0]
	if aapl.CurrentPrice == nil || !aapl.CurrentPrice.Equal(d(175.50)) {
		t.Errorf("AAPL current price = %v", aapl.CurrentPrice)
	}
	if aapl.CurrentValue == nil || !aapl.CurrentValue.Equal(d(1755)) {
		t.Errorf("AAPL current value = %v", aapl.CurrentValue)
	}
	if view.DailyReturns == nil || view.AllTimeReturns == nil {
		t.Error("returns must be embedded in the portfolio view")
	}
}

func TestPortfolio_PriceFailureIsPerPosition(t *testing.T) {
	env := newTestEnv(t,
		model.Position{Symbol: "AAPL", Quantity: d(10), AveragePrice: d(150)},
		model.Position{Symbol: "DEAD", Quantity: d(3), AveragePrice: d(50)},
	)
	env.feed.Seed("AAPL",
		marketdata.Close{Date: day(0), Price: d(170)},
		marketdata.Close{Date: day(1), Price: d(175.50)},
	)
	env.feed.Fail("DEAD", errors.New("delisted"))

	view, err := env.engine.Portfolio(context.Background(), "user1")
	if err != nil {
		t.Fatalf("one bad symbol must not fail the view: %v", err)
	}

	var dead *model.PositionView
	for i := range view.Positions {
		if view.Positions[i].Symbol == "DEAD" {
			dead = &view.Positions[i]
		}
	}
	if dead == nil {
		t.Fatal("DEAD position missing from view")
	}
	if dead.CurrentPrice != nil || dead.CurrentValue != nil {
		t.Error("unpriceable position must report nil price/value")
	}
	// Total only counts priceable positions.
	if !view.TotalValue.Equal(d(5000 + 1755)) {
		t.Errorf("total value = %s, want 6755", view.TotalValue)
	}
}

func TestDailyReturn_Math(t *testing.T) {
	env := newTestEnv(t,
		model.Position{Symbol: "AAPL", Quantity: d(10), AveragePrice: d(150)},
	)
	env.feed.Seed("AAPL",
		marketdata.Close{Date: day(0), Price: d(170)},
		marketdata.Close{Date: day(1), Price: d(175.50)},
	)

	dr, err := env.engine.DailyReturn(context.Background(), "user1")
	if err != nil {
		t.Fatalf("DailyReturn failed: %v", err)
	}

	// (175.50 - 170) * 10 = 55
	if !dr.DailyReturn.Equal(d(55)) {
		t.Errorf("daily return = %s, want 55", dr.DailyReturn)
	}
	if !dr.PortfolioValueYesterday.Equal(d(5000 + 1700)) {
		t.Errorf("value yesterday = %s, want 6700", dr.PortfolioValueYesterday)
	}
	if !dr.PortfolioValueToday.Equal(d(5000 + 1755)) {
		t.Errorf("value today = %s, want 6755", dr.PortfolioValueToday)
	}

	// (6755 - 6700) / 6700 * 100
	wantPct := d(55).Div(d(6700)).Mul(d(100))
	if !dr.DailyReturnPct.Equal(wantPct) {
		t.Errorf("portfolio pct = %s, want %s", dr.DailyReturnPct, wantPct)
	}

	if len(dr.StockReturns) != 1 {
		t.Fatalf("expected 1 stock return, got %d", len(dr.StockReturns))
	}
	sr := dr.StockReturns[0]
	if !sr.YesterdayPrice.Equal(d(170)) || !sr.TodayPrice.Equal(d(175.50)) {
		t.Errorf("per-stock closes wrong: %s / %s", sr.YesterdayPrice, sr.TodayPrice)
	}
	// (175.50-170)/170*100
	wantStockPct := d(5.5).Div(d(170)).Mul(d(100))
	if !sr.DailyReturnPct.Equal(wantStockPct) {
		t.Errorf("per-stock pct = %s, want %s", sr.DailyReturnPct, wantStockPct)
	}
}

func TestDailyReturn_ShortHistorySkipped(t *testing.T) {
	env := newTestEnv(t,
		model.Position{Symbol: "AAPL", Quantity: d(10), AveragePrice: d(150)},
		model.Position{Symbol: "IPO", Quantity: d(100), AveragePrice: d(20)},
	)
	env.feed.Seed("AAPL",
		marketdata.Close{Date: day(0), Price: d(170)},
		marketdata.Close{Date: day(1), Price: d(175.50)},
	)
	// Only one trading day of history.
	env.feed.Seed("IPO", marketdata.Close{Date: day(1), Price: d(25)})

	dr, err := env.engine.DailyReturn(context.Background(), "user1")
	if err != nil {
		t.Fatalf("DailyReturn failed: %v", err)
	}

	// IPO must be excluded from aggregates.
	if !dr.DailyReturn.Equal(d(55)) {
		t.Errorf("aggregate must only include AAPL, got %s", dr.DailyReturn)
	}
	if !dr.PortfolioValueToday.Equal(d(5000 + 1755)) {
		t.Errorf("value today = %s, want 6755", dr.PortfolioValueToday)
	}

	var ipo *model.StockDailyReturn
	for i := range dr.StockReturns {
		if dr.StockReturns[i].Symbol == "IPO" {
			ipo = &dr.StockReturns[i]
		}
	}
	if ipo == nil {
		t.Fatal("IPO must still appear in stock returns")
	}
	if ipo.Err == "" {
		t.Error("IPO must carry an error marker instead of numbers")
	}
}

func TestDailyReturn_EmptyPortfolio(t *testing.T) {
	env := newTestEnv(t)

	dr, err := env.engine.DailyReturn(context.Background(), "user1")
	if err != nil {
		t.Fatalf("DailyReturn failed: %v", err)
	}
	if !dr.DailyReturn.IsZero() {
		t.Errorf("expected zero return, got %s", dr.DailyReturn)
	}
	// value_yesterday > 0 (cash), so pct path runs and stays 0.
	if !dr.DailyReturnPct.IsZero() {
		t.Errorf("expected zero pct, got %s", dr.DailyReturnPct)
	}
}

func TestAllTimeReturn_Math(t *testing.T) {
	env := newTestEnv(t,
		model.Position{Symbol: "AAPL", Quantity: d(10), AveragePrice: d(150)},
	)
	env.feed.Seed("AAPL",
		marketdata.Close{Date: day(0), Price: d(170)},
		marketdata.Close{Date: day(1), Price: d(175.50)},
	)

	atr, err := env.engine.AllTimeReturn(context.Background(), "user1")
	if err != nil {
		t.Fatalf("AllTimeReturn failed: %v", err)
	}

	// initial = 10000 + 150*10 = 11500; current = 5000 + 175.50*10 = 6755
	if !atr.InitialInvestment.Equal(d(11500)) {
		t.Errorf("initial investment = %s, want 11500", atr.InitialInvestment)
	}
	if !atr.CurrentValue.Equal(d(6755)) {
		t.Errorf("current value = %s, want 6755", atr.CurrentValue)
	}
	if !atr.TotalReturn.Equal(d(-4745)) {
		t.Errorf("total return = %s, want -4745", atr.TotalReturn)
	}
	wantPct := d(-4745).Div(d(11500)).Mul(d(100))
	if !atr.TotalReturnPct.Equal(wantPct) {
		t.Errorf("total pct = %s, want %s", atr.TotalReturnPct, wantPct)
	}

	if len(atr.StockPerformance) != 1 {
		t.Fatalf("expected 1 performance record, got %d", len(atr.StockPerformance))
	}
	sp := atr.StockPerformance[0]
	if !sp.TotalReturn.Equal(d(255)) {
		t.Errorf("stock return = %s, want 255", sp.TotalReturn)
	}
	wantStockPct := d(25.5).Div(d(150)).Mul(d(100))
	if !sp.ReturnPct.Equal(wantStockPct) {
		t.Errorf("stock pct = %s, want %s", sp.ReturnPct, wantStockPct)
	}
}

func TestAllTimeReturn_SoldPositionsExcluded(t *testing.T) {
	// A user who bought and fully sold holds no position; the all-time
	// figure anchors on starting cash alone. Fully sold positions drop out of the baseline.
	env := newTestEnv(t)

	atr, err := env.engine.AllTimeReturn(context.Background(), "user1")
	if err != nil {
		t.Fatalf("AllTimeReturn failed: %v", err)
	}
	if !atr.InitialInvestment.Equal(d(10000)) {
		t.Errorf("initial investment = %s, want 10000", atr.InitialInvestment)
	}
	// current = cash only = 5000 → return -5000
	if !atr.TotalReturn.Equal(d(-5000)) {
		t.Errorf("total return = %s, want -5000", atr.TotalReturn)
	}
}

func TestAllTimeReturn_PriceFailureMarker(t *testing.T) {
	env := newTestEnv(t,
		model.Position{Symbol: "DEAD", Quantity: d(3), AveragePrice: d(50)},
	)
	env.feed.Fail("DEAD", errors.New("delisted"))

	atr, err := env.engine.AllTimeReturn(context.Background(), "user1")
	if err != nil {
		t.Fatalf("AllTimeReturn failed: %v", err)
	}
	if len(atr.StockPerformance) != 1 || atr.StockPerformance[0].Err == "" {
		t.Fatalf("expected error marker, got %+v", atr.StockPerformance)
	}
	// Unpriceable position contributes to neither side.
	if !atr.InitialInvestment.Equal(d(10000)) {
		t.Errorf("initial investment = %s, want 10000", atr.InitialInvestment)
	}
	if !atr.CurrentValue.Equal(d(5000)) {
		t.Errorf("current value = %s, want 5000", atr.CurrentValue)
	}
}

func TestUnknownUser(t *testing.T) {
	env := newTestEnv(t)

	if _, err := env.engine.Portfolio(context.Background(), "ghost"); !errors.Is(err, ledger.ErrNotFound) {
		t.Errorf("Portfolio: expected ErrNotFound, got %v", err)
	}
	if _, err := env.engine.DailyReturn(context.Background(), "ghost"); !errors.Is(err, ledger.ErrNotFound) {
		t.Errorf("DailyReturn: expected ErrNotFound, got %v", err)
	}
	if _, err := env.engine.AllTimeReturn(context.Background(), "ghost"); !errors.Is(err, ledger.ErrNotFound) {
		t.Errorf("AllTimeReturn: expected ErrNotFound, got %v", err)
	}
}
