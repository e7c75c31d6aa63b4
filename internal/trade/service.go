// Package trade provides the HTTP handlers and business logic for
// initializing users, executing simulated buy/sell orders, and querying
// portfolios and prices.
//
// All monetary values use shopspring/decimal — never float64 for money.
package trade

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/papertrade/engine/internal/engagement"
	"github.com/papertrade/engine/internal/keylock"
	"github.com/papertrade/engine/internal/ledger"
	"github.com/papertrade/engine/internal/marketdata"
	"github.com/papertrade/engine/internal/metrics"
	"github.com/papertrade/engine/internal/model"
	"github.com/papertrade/engine/internal/pricecache"
	"github.com/papertrade/engine/internal/valuation"
)

var (
	// ErrInvalidAmount rejects non-positive buy amounts.
	ErrInvalidAmount = errors.New("dollar amount must be greater than 0")

	// ErrInvalidQuantity rejects non-positive sell quantities.
	ErrInvalidQuantity = errors.New("quantity must be greater than 0")

	// ErrBelowMinimum rejects buys that round to less than 0.01 shares.
	ErrBelowMinimum = errors.New("dollar amount too small to buy minimum share quantity (0.01)")

	// ErrInsufficientFunds rejects buys exceeding the cash balance.
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrSymbolNotHeld rejects sells of symbols with no position.
	ErrSymbolNotHeld = errors.New("stock not found in portfolio")
)

// InsufficientSharesError rejects sells exceeding the held quantity. It
// carries the held amount so the message can report it.
type InsufficientSharesError struct {
	Held decimal.Decimal
}

func (e *InsufficientSharesError) Error() string {
	return fmt.Sprintf("insufficient shares: you own %s shares", e.Held)
}

// Service executes trades and serves the HTTP API. A trade is one logical
// read-modify-write on the user's ledger: the per-user lock serializes
// in-process racers, and the store's version check catches anything else.
// Price fetches run before the lock is taken — the feed can be slow and
// must never stall another request for the same user.
type Service struct {
	store        ledger.Store
	prices       *pricecache.Cache
	valuation    *valuation.Engine
	streaks      *engagement.Tracker
	locks        *keylock.Keyed
	startingCash decimal.Decimal
	hub          *WSHub // optional WebSocket hub for trade broadcasts
}

// NewService creates a trade service. Pass nil for hub if WebSocket
// broadcasting is not needed.
func NewService(
	store ledger.Store,
	prices *pricecache.Cache,
	val *valuation.Engine,
	streaks *engagement.Tracker,
	locks *keylock.Keyed,
	startingCash decimal.Decimal,
	hub *WSHub,
) *Service {
	return &Service{
		store:        store,
		prices:       prices,
		valuation:    val,
		streaks:      streaks,
		locks:        locks,
		startingCash: startingCash,
		hub:          hub,
	}
}

// --- Core operations ---

// Initialize creates a ledger for userID if one doesn't exist. Calling it
// for an existing user is a no-op, making the endpoint idempotent.
func (s *Service) Initialize(ctx context.Context, userID string) error {
	if _, err := s.store.Get(ctx, userID); err == nil {
		return nil
	} else if !errors.Is(err, ledger.ErrNotFound) {
		return err
	}

	err := s.store.Create(ctx, &model.UserLedger{
		UserID:      userID,
		CashBalance: s.startingCash,
		Positions:   []model.Position{},
		CreatedAt:   time.Now().UTC(),
	})
	if errors.Is(err, ledger.ErrAlreadyExists) {
		return nil // lost a benign race with another initialize
	}
	return err
}

// Buy spends dollarAmount on symbol at the current cached price. The
// actual cost can differ slightly from the requested amount because the
// share quantity is rounded to 0.01 first; the response reports the real
// cost, never the requested figure.
func (s *Service) Buy(ctx context.Context, userID, symbol string, dollarAmount decimal.Decimal) (*model.TradeResult, error) {
	start := time.Now()

	if dollarAmount.LessThanOrEqual(decimal.Zero) {
		metrics.TradeRejections.WithLabelValues("invalid_amount").Inc()
		return nil, ErrInvalidAmount
	}
	symbol, err := marketdata.NormalizeSymbol(symbol)
	if err != nil {
		metrics.TradeRejections.WithLabelValues("invalid_symbol").Inc()
		return nil, err
	}

	// Fetch the price before taking the user lock.
	price, err := s.prices.Price(ctx, symbol)
	if err != nil {
		metrics.TradeRejections.WithLabelValues("price_unavailable").Inc()
		return nil, err
	}

	unlock := s.locks.Lock(userID)
	defer unlock()

	l, err := s.store.Get(ctx, userID)
	if err != nil {
		return nil, err
	}

	quantity := dollarAmount.Div(price).Round(2)
	if quantity.LessThan(model.MinShareQuantity) {
		metrics.TradeRejections.WithLabelValues("below_minimum").Inc()
		return nil, ErrBelowMinimum
	}

	totalCost := price.Mul(quantity).Round(2)
	if totalCost.GreaterThan(l.CashBalance) {
		metrics.TradeRejections.WithLabelValues("insufficient_funds").Inc()
		return nil, ErrInsufficientFunds
	}

	positions := append([]model.Position(nil), l.Positions...)
	if i := l.FindPosition(symbol); i >= 0 {
		old := positions[i]
		newQty := old.Quantity.Add(quantity).Round(2)
		newAvg := old.Quantity.Mul(old.AveragePrice).
			Add(quantity.Mul(price)).
			Div(newQty).
			Round(2)
		positions[i] = model.Position{Symbol: symbol, Quantity: newQty, AveragePrice: newAvg}
	} else {
		positions = append(positions, model.Position{
			Symbol:       symbol,
			Quantity:     quantity,
			AveragePrice: price.Round(2),
		})
	}

	cash := l.CashBalance.Sub(totalCost).Round(2)
	if err := s.store.Update(ctx, userID, l.Version, ledger.Fields{
		CashBalance: &cash,
		Positions:   &positions,
	}); err != nil {
		return nil, err
	}

	result := &model.TradeResult{
		TradeID:       uuid.New().String(),
		Success:       true,
		SharesBought:  quantity,
		Cost:          totalCost,
		PricePerShare: price.Round(2),
	}

	metrics.TradesTotal.WithLabelValues("buy").Inc()
	metrics.TradeLatency.WithLabelValues("buy").Observe(time.Since(start).Seconds())
	slog.Info("buy executed",
		"trade_id", result.TradeID,
		"user", userID,
		"symbol", symbol,
		"qty", quantity.String(),
		"cost", totalCost.String(),
		"price", price.String(),
	)
	s.broadcast("buy", userID, symbol, quantity, price, cash)

	return result, nil
}

// Sell disposes of quantity shares of symbol at the current cached price.
// The held quantity is compared unrounded against the rounded request;
// repeated rounding drift can therefore allow a marginal oversell. That
// matches the production behavior and is deliberately not corrected here.
func (s *Service) Sell(ctx context.Context, userID, symbol string, quantity decimal.Decimal) (*model.TradeResult, error) {
	start := time.Now()

	if quantity.LessThanOrEqual(decimal.Zero) {
		metrics.TradeRejections.WithLabelValues("invalid_quantity").Inc()
		return nil, ErrInvalidQuantity
	}
	quantity = quantity.Round(2)

	symbol, err := marketdata.NormalizeSymbol(symbol)
	if err != nil {
		metrics.TradeRejections.WithLabelValues("invalid_symbol").Inc()
		return nil, err
	}

	price, err := s.prices.Price(ctx, symbol)
	if err != nil {
		metrics.TradeRejections.WithLabelValues("price_unavailable").Inc()
		return nil, err
	}

	unlock := s.locks.Lock(userID)
	defer unlock()

	l, err := s.store.Get(ctx, userID)
	if err != nil {
		return nil, err
	}

	i := l.FindPosition(symbol)
	if i < 0 {
		metrics.TradeRejections.WithLabelValues("symbol_not_held").Inc()
		return nil, ErrSymbolNotHeld
	}

	held := l.Positions[i].Quantity
	if held.LessThan(quantity) {
		metrics.TradeRejections.WithLabelValues("insufficient_shares").Inc()
		return nil, &InsufficientSharesError{Held: held}
	}

	positions := append([]model.Position(nil), l.Positions...)
	remaining := held.Sub(quantity).Round(2)
	if remaining.LessThan(model.MinShareQuantity) {
		positions = append(positions[:i], positions[i+1:]...)
	} else {
		positions[i].Quantity = remaining
	}

	totalValue := price.Mul(quantity).Round(2)
	cash := l.CashBalance.Add(totalValue).Round(2)
	if err := s.store.Update(ctx, userID, l.Version, ledger.Fields{
		CashBalance: &cash,
		Positions:   &positions,
	}); err != nil {
		return nil, err
	}

	result := &model.TradeResult{
		TradeID:       uuid.New().String(),
		Success:       true,
		Value:         totalValue,
		PricePerShare: price,
	}

	metrics.TradesTotal.WithLabelValues("sell").Inc()
	metrics.TradeLatency.WithLabelValues("sell").Observe(time.Since(start).Seconds())
	slog.Info("sell executed",
		"trade_id", result.TradeID,
		"user", userID,
		"symbol", symbol,
		"qty", quantity.String(),
		"value", totalValue.String(),
		"price", price.String(),
	)
	s.broadcast("sell", userID, symbol, quantity, price, cash)

	return result, nil
}

// Login runs the streak update first so a granted reward shows up in the
// portfolio totals, then returns the combined view.
func (s *Service) Login(ctx context.Context, userID string) (*model.LoginView, error) {
	streak, err := s.streaks.UpdateLoginStreak(ctx, userID)
	if err != nil {
		return nil, err
	}
	view, err := s.valuation.Portfolio(ctx, userID)
	if err != nil {
		return nil, err
	}
	return &model.LoginView{PortfolioView: *view, StreakInfo: streak}, nil
}

func (s *Service) broadcast(side, userID, symbol string, qty, price, cash decimal.Decimal) {
	if s.hub == nil {
		return
	}
	s.hub.Broadcast(WSMessage{
		Type:        "trade_executed",
		UserID:      userID,
		Symbol:      symbol,
		Side:        side,
		Quantity:    qty.String(),
		Price:       price.String(),
		CashBalance: cash.String(),
	})
}

// --- Request/Response types ---

// BuyRequest is the JSON body for the buy endpoint. Pointer fields
// distinguish "absent" from zero so missing keys are rejected as such.
type BuyRequest struct {
	Symbol string           `json:"symbol"`
	Amount *decimal.Decimal `json:"amount"`
}

// SellRequest is the JSON body for the sell endpoint.
type SellRequest struct {
	Symbol   string           `json:"symbol"`
	Quantity *decimal.Decimal `json:"quantity"`
}

// BatchPricesRequest is the JSON body for the batch price endpoint.
type BatchPricesRequest struct {
	Symbols []string `json:"symbols"`
}

// --- HTTP handlers ---

// HandleInitialize handles POST /api/v1/users/{userID}
func (s *Service) HandleInitialize(w http.ResponseWriter, r *http.Request) {
	s.initialize(w, r, chi.URLParam(r, "userID"))
}

func (s *Service) initialize(w http.ResponseWriter, r *http.Request, userID string) {
	ctx := r.Context()
	if err := s.Initialize(ctx, userID); err != nil {
		writeError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	view, err := s.valuation.Portfolio(ctx, userID)
	if err != nil {
		writeError(w, err.Error(), statusFor(err))
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// HandleLogin handles POST /api/v1/users/{userID}/login
func (s *Service) HandleLogin(w http.ResponseWriter, r *http.Request) {
	s.login(w, r, chi.URLParam(r, "userID"))
}

func (s *Service) login(w http.ResponseWriter, r *http.Request, userID string) {
	view, err := s.Login(r.Context(), userID)
	if err != nil {
		writeError(w, err.Error(), statusFor(err))
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// HandleBuy handles POST /api/v1/users/{userID}/buy
func (s *Service) HandleBuy(w http.ResponseWriter, r *http.Request) {
	s.buy(w, r, chi.URLParam(r, "userID"))
}

func (s *Service) buy(w http.ResponseWriter, r *http.Request, userID string) {
	var req BuyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Symbol == "" || req.Amount == nil {
		writeError(w, "missing symbol or amount", http.StatusBadRequest)
		return
	}

	result, err := s.Buy(r.Context(), userID, req.Symbol, *req.Amount)
	if err != nil {
		writeError(w, err.Error(), statusFor(err))
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// HandleSell handles POST /api/v1/users/{userID}/sell
func (s *Service) HandleSell(w http.ResponseWriter, r *http.Request) {
	s.sell(w, r, chi.URLParam(r, "userID"))
}

func (s *Service) sell(w http.ResponseWriter, r *http.Request, userID string) {
	var req SellRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Symbol == "" || req.Quantity == nil {
		writeError(w, "missing symbol or quantity", http.StatusBadRequest)
		return
	}

	result, err := s.Sell(r.Context(), userID, req.Symbol, *req.Quantity)
	if err != nil {
		writeError(w, err.Error(), statusFor(err))
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// HandleGetPortfolio handles GET /api/v1/users/{userID}/portfolio
func (s *Service) HandleGetPortfolio(w http.ResponseWriter, r *http.Request) {
	s.portfolio(w, r, chi.URLParam(r, "userID"))
}

func (s *Service) portfolio(w http.ResponseWriter, r *http.Request, userID string) {
	view, err := s.valuation.Portfolio(r.Context(), userID)
	if err != nil {
		writeError(w, err.Error(), statusFor(err))
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// HandleGetPrice handles GET /api/v1/prices/{symbol}
func (s *Service) HandleGetPrice(w http.ResponseWriter, r *http.Request) {
	s.price(w, r, chi.URLParam(r, "symbol"))
}

func (s *Service) price(w http.ResponseWriter, r *http.Request, symbol string) {
	symbol, err := marketdata.NormalizeSymbol(symbol)
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	price, err := s.prices.Price(r.Context(), symbol)
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"symbol":  symbol,
		"price":   price,
	})
}

// HandleGetPrices handles POST /api/v1/prices
func (s *Service) HandleGetPrices(w http.ResponseWriter, r *http.Request) {
	var req BatchPricesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Symbols == nil {
		writeError(w, "missing symbols", http.StatusBadRequest)
		return
	}

	symbols := make([]string, 0, len(req.Symbols))
	errs := make(map[string]string)
	for _, raw := range req.Symbols {
		symbol, err := marketdata.NormalizeSymbol(raw)
		if err != nil {
			errs[raw] = err.Error()
			continue
		}
		symbols = append(symbols, symbol)
	}

	prices, priceErrs := s.prices.Prices(r.Context(), symbols)
	for symbol, msg := range priceErrs {
		errs[symbol] = msg
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"prices": prices,
		"errors": errs,
	})
}

// Routes mounts the primary API, with the user id threaded through the URL.
func (s *Service) Routes(r chi.Router) {
	r.Post("/users/{userID}", s.HandleInitialize)
	r.Post("/users/{userID}/login", s.HandleLogin)
	r.Post("/users/{userID}/buy", s.HandleBuy)
	r.Post("/users/{userID}/sell", s.HandleSell)
	r.Get("/users/{userID}/portfolio", s.HandleGetPortfolio)
	r.Get("/prices/{symbol}", s.HandleGetPrice)
	r.Post("/prices", s.HandleGetPrices)
}

// DemoRoutes mounts the single-account API shape used by the demo
// frontend: same bodies, no user id in the URL. Everything maps onto the
// primary handlers with the configured demo user.
func (s *Service) DemoRoutes(r chi.Router, demoUserID string) {
	r.Post("/initialize-user", func(w http.ResponseWriter, r *http.Request) { s.initialize(w, r, demoUserID) })
	r.Post("/login", func(w http.ResponseWriter, r *http.Request) { s.login(w, r, demoUserID) })
	r.Post("/buy", func(w http.ResponseWriter, r *http.Request) { s.buy(w, r, demoUserID) })
	r.Post("/sell", func(w http.ResponseWriter, r *http.Request) { s.sell(w, r, demoUserID) })
	r.Get("/portfolio", func(w http.ResponseWriter, r *http.Request) { s.portfolio(w, r, demoUserID) })
	r.Get("/stock-price/{symbol}", s.HandleGetPrice)
	r.Post("/stock-prices", s.HandleGetPrices)
}

// --- Error mapping ---

// statusFor maps engine errors to client-facing status codes. Nothing
// internal leaks: unknown errors collapse to a generic 500 at writeError
// call sites that choose to pass them through.
func statusFor(err error) int {
	var insufficientShares *InsufficientSharesError
	switch {
	case errors.Is(err, ledger.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ledger.ErrVersionConflict):
		return http.StatusConflict
	case errors.Is(err, ErrInvalidAmount),
		errors.Is(err, ErrInvalidQuantity),
		errors.Is(err, ErrBelowMinimum),
		errors.Is(err, ErrInsufficientFunds),
		errors.Is(err, ErrSymbolNotHeld),
		errors.As(err, &insufficientShares),
		errors.Is(err, marketdata.ErrInvalidSymbol),
		errors.Is(err, pricecache.ErrPriceUnavailable):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// writeJSON writes a JSON response with the given status.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	writeJSON(w, status, map[string]string{"error": message})
}
