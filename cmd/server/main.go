package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/papertrade/engine/internal/config"
	"github.com/papertrade/engine/internal/engagement"
	"github.com/papertrade/engine/internal/keylock"
	"github.com/papertrade/engine/internal/ledger"
	"github.com/papertrade/engine/internal/marketdata"
	"github.com/papertrade/engine/internal/metrics"
	"github.com/papertrade/engine/internal/pricecache"
	"github.com/papertrade/engine/internal/trade"
	"github.com/papertrade/engine/internal/valuation"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	logger := newLogger(cfg.Logging)
	slog.SetDefault(logger)

	var cleanup []func()
	defer func() {
		for _, fn := range cleanup {
			fn()
		}
	}()

	// --- Ledger store ---
	var st ledger.Store
	if cfg.Storage.DatabaseURL != "" {
		pool, err := pgxpool.New(context.Background(), cfg.Storage.DatabaseURL)
		if err != nil {
			slog.Error("database connection failed", "err", err)
			os.Exit(1)
		}
		cleanup = append(cleanup, pool.Close)
		st = ledger.NewPostgresStore(pool)
		slog.Info("connected to PostgreSQL")
	} else {
		slog.Warn("database_url not set, using in-memory ledger (data will not persist)")
		st = ledger.NewMemoryStore()
	}

	// --- Price cache entry store ---
	var entries pricecache.EntryStore
	if cfg.Storage.RedisURL != "" {
		opt, err := redis.ParseURL(cfg.Storage.RedisURL)
		if err != nil {
			slog.Error("invalid redis_url", "err", err)
			os.Exit(1)
		}
		rdb := redis.NewClient(opt)
		cleanup = append(cleanup, func() { rdb.Close() })
		entries = pricecache.NewRedisEntryStore(rdb)
		slog.Info("Redis price cache enabled")
	} else {
		entries = pricecache.NewMemoryEntryStore()
	}

	// --- Market data feed ---
	var feed marketdata.Feed
	if cfg.Alpaca.APIKey != "" {
		feed = marketdata.NewAlpacaFeed(
			cfg.Alpaca.APIKey,
			cfg.Alpaca.APISecret,
			cfg.Alpaca.DataURL,
			cfg.Alpaca.Feed,
			cfg.Alpaca.RateLimitPerMin,
		)
		slog.Info("using Alpaca market data", "feed", cfg.Alpaca.Feed)
	} else {
		slog.Warn("alpaca credentials not set, using simulated feed")
		feed = marketdata.NewDemoFeed()
	}

	prices := pricecache.New(entries, feed, cfg.Trading.PriceCacheTTL())

	// --- Services ---
	startingCash := decimal.NewFromFloat(cfg.Trading.StartingCash)
	dailyReward := decimal.NewFromFloat(cfg.Trading.DailyReward)
	locks := keylock.New()

	val := valuation.NewEngine(st, prices, feed, startingCash)
	streaks := engagement.NewTracker(st, locks, dailyReward)

	wsHub := trade.NewWSHub()
	go wsHub.Run()

	svc := trade.NewService(st, prices, val, streaks, locks, startingCash, wsHub)

	// --- HTTP router ---
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(metrics.Middleware)

	// CORS middleware for frontend cross-origin requests.
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
			if r.Method == "OPTIONS" {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	})

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok","service":"papertrade-engine"}`))
	})

	// Prometheus metrics endpoint.
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		// WebSocket endpoint for trade execution broadcasts.
		r.Get("/ws", wsHub.HandleWS)
		svc.Routes(r)
	})

	// Single-account routes used by the demo frontend.
	r.Route("/api", func(r chi.Router) {
		svc.DemoRoutes(r, cfg.Trading.DemoUserID)
	})

	// --- Server ---
	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("papertrade-engine listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "err", err)
			os.Exit(1)
		}
	}()

	// Graceful shutdown.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	slog.Info("shutting down papertrade-engine...")
	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("shutdown error", "err", err)
	}
	fmt.Println("papertrade-engine stopped")
}

func newLogger(cfg config.Logging) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "text" {
		return slog.New(slog.NewTextHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}
