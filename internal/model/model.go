// Package model defines the core domain types shared across the trading engine.
// All monetary values use shopspring/decimal — never float64 for money.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// MinShareQuantity is the smallest position size the engine tracks.
// Positions that fall below this after a sell are removed outright.
var MinShareQuantity = decimal.NewFromFloat(0.01)

// Position is one symbol's holding inside a user's ledger: a fractional
// share count and the volume-weighted average entry price across all buys.
// Quantity is always strictly positive; zero positions don't exist.
type Position struct {
	Symbol       string          `json:"symbol"`
	Quantity     decimal.Decimal `json:"quantity"`      // 2 decimal places
	AveragePrice decimal.Decimal `json:"average_price"` // 2 decimal places
}

// UserLedger is the per-user record of cash and positions. It is the only
// shared mutable state in the system; writers must hold the per-user lock
// and pass the version they read so the store can reject lost updates.
type UserLedger struct {
	UserID              string          `json:"user_id"`
	CashBalance         decimal.Decimal `json:"cash_balance"`
	Positions           []Position      `json:"positions"`
	LoginStreak         int             `json:"login_streak"`
	LastLoginAt         *time.Time      `json:"last_login_at,omitempty"`
	LastRewardClaimedAt *time.Time      `json:"last_reward_claimed_at,omitempty"`
	Version             int64           `json:"version"`
	CreatedAt           time.Time       `json:"created_at"`
}

// FindPosition returns the index of the position for symbol, or -1.
func (l *UserLedger) FindPosition(symbol string) int {
	for i := range l.Positions {
		if l.Positions[i].Symbol == symbol {
			return i
		}
	}
	return -1
}

// PriceQuote is one cached market price: the latest available daily close
// for a symbol and the time it was fetched from the external feed. There is
// exactly one quote per symbol; staleness is judged by age, never eviction.
type PriceQuote struct {
	Symbol    string          `json:"symbol"`
	Price     decimal.Decimal `json:"price"`
	FetchedAt time.Time       `json:"fetched_at"`
}

// TradeResult is returned from a successful buy or sell.
type TradeResult struct {
	TradeID       string          `json:"trade_id"`
	Success       bool            `json:"success"`
	SharesBought  decimal.Decimal `json:"shares_bought,omitempty"`
	Cost          decimal.Decimal `json:"cost,omitempty"`
	Value         decimal.Decimal `json:"value,omitempty"`
	PricePerShare decimal.Decimal `json:"price_per_share"`
}

// PositionView is a position annotated with its current market value.
// CurrentPrice and CurrentValue are nil when the price feed could not
// produce a quote; the rest of the portfolio is still reported.
type PositionView struct {
	Symbol       string           `json:"symbol"`
	Quantity     decimal.Decimal  `json:"quantity"`
	AveragePrice decimal.Decimal  `json:"average_price"`
	CurrentPrice *decimal.Decimal `json:"current_price"`
	CurrentValue *decimal.Decimal `json:"current_value"`
}

// PortfolioView is the full valuation of a ledger snapshot.
type PortfolioView struct {
	Positions      []PositionView  `json:"portfolio"`
	CashBalance    decimal.Decimal `json:"cash_balance"`
	TotalValue     decimal.Decimal `json:"total_value"`
	DailyReturns   *DailyReturn    `json:"daily_returns,omitempty"`
	AllTimeReturns *AllTimeReturn  `json:"all_time_returns,omitempty"`
}

// StockDailyReturn is one symbol's day-over-day performance. When the
// historical series has fewer than two closes, Err carries the reason and
// the numeric fields are zero — the stock is excluded from aggregates.
type StockDailyReturn struct {
	Symbol         string          `json:"symbol"`
	DailyReturn    decimal.Decimal `json:"daily_return"`
	DailyReturnPct decimal.Decimal `json:"daily_return_percentage"`
	YesterdayPrice decimal.Decimal `json:"yesterday_price"`
	TodayPrice     decimal.Decimal `json:"today_price"`
	Err            string          `json:"error,omitempty"`
}

// DailyReturn aggregates day-over-day performance across the portfolio.
type DailyReturn struct {
	DailyReturn             decimal.Decimal    `json:"daily_return"`
	DailyReturnPct          decimal.Decimal    `json:"daily_return_percentage"`
	PortfolioValueYesterday decimal.Decimal    `json:"portfolio_value_yesterday"`
	PortfolioValueToday     decimal.Decimal    `json:"portfolio_value_today"`
	StockReturns            []StockDailyReturn `json:"stock_returns"`
}

// StockPerformance is one symbol's all-time performance record.
type StockPerformance struct {
	Symbol       string          `json:"symbol"`
	TotalReturn  decimal.Decimal `json:"total_return"`
	ReturnPct    decimal.Decimal `json:"return_percentage"`
	InitialValue decimal.Decimal `json:"initial_value"`
	CurrentValue decimal.Decimal `json:"current_value"`
	Quantity     decimal.Decimal `json:"quantity"`
	AveragePrice decimal.Decimal `json:"average_price"`
	CurrentPrice decimal.Decimal `json:"current_price"`
	Err          string          `json:"error,omitempty"`
}

// AllTimeReturn measures the portfolio against its cost basis. Initial
// investment only reflects currently-held positions: shares that were fully
// sold contribute nothing. That asymmetry is the documented product
// behavior, not an accident.
type AllTimeReturn struct {
	TotalReturn       decimal.Decimal    `json:"total_return"`
	TotalReturnPct    decimal.Decimal    `json:"total_return_percentage"`
	InitialInvestment decimal.Decimal    `json:"initial_investment"`
	CurrentValue      decimal.Decimal    `json:"current_value"`
	StockPerformance  []StockPerformance `json:"stock_performance"`
}

// StreakResult is the outcome of processing one login event.
type StreakResult struct {
	Message string          `json:"message"`
	Streak  int             `json:"streak"`
	Reward  decimal.Decimal `json:"reward"`
}

// LoginView combines the streak outcome with the refreshed portfolio,
// returned from the login endpoint.
type LoginView struct {
	PortfolioView
	StreakInfo *StreakResult `json:"streak_info"`
}
