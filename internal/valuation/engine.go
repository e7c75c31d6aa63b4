// Package valuation derives portfolio value and performance from a ledger
// snapshot. It is strictly read-only on the ledger: prices come from the
// TTL cache, daily deltas from a two-point historical close series fetched
// straight from the feed.
package valuation

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/papertrade/engine/internal/ledger"
	"github.com/papertrade/engine/internal/marketdata"
	"github.com/papertrade/engine/internal/model"
	"github.com/papertrade/engine/internal/pricecache"
)

var hundred = decimal.NewFromInt(100)

// Engine computes portfolio views and returns.
type Engine struct {
	store        ledger.Store
	prices       *pricecache.Cache
	feed         marketdata.Feed
	startingCash decimal.Decimal
}

// NewEngine creates a valuation engine. startingCash anchors the all-time
// return's initial-investment figure.
func NewEngine(store ledger.Store, prices *pricecache.Cache, feed marketdata.Feed, startingCash decimal.Decimal) *Engine {
	return &Engine{
		store:        store,
		prices:       prices,
		feed:         feed,
		startingCash: startingCash,
	}
}

// Portfolio values every position at the current cached price and embeds
// daily and all-time returns. A position whose price is unavailable is
// reported with nil price/value instead of failing the whole view.
func (e *Engine) Portfolio(ctx context.Context, userID string) (*model.PortfolioView, error) {
	l, err := e.store.Get(ctx, userID)
	if err != nil {
		return nil, err
	}

	symbols := make([]string, len(l.Positions))
	for i, p := range l.Positions {
		symbols[i] = p.Symbol
	}
	prices, _ := e.prices.Prices(ctx, symbols)

	views := make([]model.PositionView, 0, len(l.Positions))
	total := l.CashBalance
	for _, p := range l.Positions {
		v := model.PositionView{
			Symbol:       p.Symbol,
			Quantity:     p.Quantity,
			AveragePrice: p.AveragePrice,
		}
		if price, ok := prices[p.Symbol]; ok {
			value := price.Mul(p.Quantity)
			v.CurrentPrice = &price
			v.CurrentValue = &value
			total = total.Add(value)
		}
		views = append(views, v)
	}

	daily, err := e.DailyReturn(ctx, userID)
	if err != nil {
		return nil, err
	}
	allTime, err := e.AllTimeReturn(ctx, userID)
	if err != nil {
		return nil, err
	}

	return &model.PortfolioView{
		Positions:      views,
		CashBalance:    l.CashBalance,
		TotalValue:     total,
		DailyReturns:   daily,
		AllTimeReturns: allTime,
	}, nil
}

// DailyReturn compares yesterday's close to today's for every position.
// Stocks with fewer than two closes (or a failed lookup) are reported with
// an error marker and excluded from the aggregates.
func (e *Engine) DailyReturn(ctx context.Context, userID string) (*model.DailyReturn, error) {
	l, err := e.store.Get(ctx, userID)
	if err != nil {
		return nil, err
	}

	dr := &model.DailyReturn{
		DailyReturn:             decimal.Zero,
		DailyReturnPct:          decimal.Zero,
		PortfolioValueYesterday: l.CashBalance,
		PortfolioValueToday:     l.CashBalance,
		StockReturns:            []model.StockDailyReturn{},
	}

	for _, p := range l.Positions {
		closes, err := e.feed.DailyCloses(ctx, p.Symbol, 2)
		if err != nil {
			dr.StockReturns = append(dr.StockReturns, model.StockDailyReturn{
				Symbol: p.Symbol,
				Err:    err.Error(),
			})
			continue
		}
		if len(closes) < 2 || closes[len(closes)-2].Price.IsZero() {
			dr.StockReturns = append(dr.StockReturns, model.StockDailyReturn{
				Symbol: p.Symbol,
				Err:    "insufficient price history",
			})
			continue
		}

		yesterday := closes[len(closes)-2].Price
		today := closes[len(closes)-1].Price
		delta := today.Sub(yesterday)

		dr.DailyReturn = dr.DailyReturn.Add(delta.Mul(p.Quantity))
		dr.PortfolioValueYesterday = dr.PortfolioValueYesterday.Add(yesterday.Mul(p.Quantity))
		dr.PortfolioValueToday = dr.PortfolioValueToday.Add(today.Mul(p.Quantity))

		dr.StockReturns = append(dr.StockReturns, model.StockDailyReturn{
			Symbol:         p.Symbol,
			DailyReturn:    delta.Mul(p.Quantity),
			DailyReturnPct: delta.Div(yesterday).Mul(hundred),
			YesterdayPrice: yesterday,
			TodayPrice:     today,
		})
	}

	if dr.PortfolioValueYesterday.IsPositive() {
		dr.DailyReturnPct = dr.PortfolioValueToday.
			Sub(dr.PortfolioValueYesterday).
			Div(dr.PortfolioValueYesterday).
			Mul(hundred)
	}
	return dr, nil
}

// AllTimeReturn measures the portfolio against its cost basis. The initial
// investment is the starting cash plus the cost of currently-held positions
// only; fully-sold positions contribute nothing to it.
func (e *Engine) AllTimeReturn(ctx context.Context, userID string) (*model.AllTimeReturn, error) {
	l, err := e.store.Get(ctx, userID)
	if err != nil {
		return nil, err
	}

	symbols := make([]string, len(l.Positions))
	for i, p := range l.Positions {
		symbols[i] = p.Symbol
	}
	prices, priceErrs := e.prices.Prices(ctx, symbols)

	atr := &model.AllTimeReturn{
		InitialInvestment: e.startingCash,
		CurrentValue:      l.CashBalance,
		StockPerformance:  []model.StockPerformance{},
	}

	for _, p := range l.Positions {
		price, ok := prices[p.Symbol]
		if !ok {
			atr.StockPerformance = append(atr.StockPerformance, model.StockPerformance{
				Symbol: p.Symbol,
				Err:    priceErrs[p.Symbol],
			})
			continue
		}
		if p.AveragePrice.IsZero() {
			atr.StockPerformance = append(atr.StockPerformance, model.StockPerformance{
				Symbol: p.Symbol,
				Err:    "zero cost basis",
			})
			continue
		}

		initialValue := p.AveragePrice.Mul(p.Quantity)
		currentValue := price.Mul(p.Quantity)

		atr.CurrentValue = atr.CurrentValue.Add(currentValue)
		atr.InitialInvestment = atr.InitialInvestment.Add(initialValue)

		atr.StockPerformance = append(atr.StockPerformance, model.StockPerformance{
			Symbol:       p.Symbol,
			TotalReturn:  currentValue.Sub(initialValue),
			ReturnPct:    price.Sub(p.AveragePrice).Div(p.AveragePrice).Mul(hundred),
			InitialValue: initialValue,
			CurrentValue: currentValue,
			Quantity:     p.Quantity,
			AveragePrice: p.AveragePrice,
			CurrentPrice: price,
		})
	}

	atr.TotalReturn = atr.CurrentValue.Sub(atr.InitialInvestment)
	if atr.InitialInvestment.IsPositive() {
		atr.TotalReturnPct = atr.TotalReturn.Div(atr.InitialInvestment).Mul(hundred)
	} else {
		atr.TotalReturnPct = decimal.Zero
	}
	return atr, nil
}
