// Package metrics provides Prometheus instrumentation for the trading engine.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// TradesTotal counts executed trades, partitioned by side.
	TradesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "papertrade_trades_total",
		Help: "Total number of trades executed",
	}, []string{"side"})

	// TradeRejections counts rejected orders by reason.
	TradeRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "papertrade_trade_rejections_total",
		Help: "Orders rejected before execution",
	}, []string{"reason"})

	// TradeLatency tracks order processing latency.
	TradeLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "papertrade_trade_latency_seconds",
		Help:    "Order processing latency in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"side"})

	// PriceCacheHits counts price lookups served from the cache.
	PriceCacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "papertrade_price_cache_hits_total",
		Help: "Price lookups served from cache",
	})

	// PriceCacheMisses counts price lookups that went to the feed.
	PriceCacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "papertrade_price_cache_misses_total",
		Help: "Price lookups that fell through to the external feed",
	})

	// FeedRequestDuration tracks external feed call latency.
	FeedRequestDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "papertrade_feed_request_duration_seconds",
		Help:    "External market-data request latency in seconds",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0},
	})

	// FeedRequestErrors counts failed external feed calls.
	FeedRequestErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "papertrade_feed_request_errors_total",
		Help: "External market-data requests that failed",
	})

	// RewardsGranted counts login rewards credited to users.
	RewardsGranted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "papertrade_login_rewards_total",
		Help: "Daily login rewards granted",
	})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "papertrade_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "papertrade_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and path.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "papertrade_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
	}, []string{"method", "path"})
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware returns an HTTP middleware that records request metrics.
// The chi wrapper forwards Hijack and Flush, which WebSocket upgrades
// on instrumented routes depend on.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		duration := time.Since(start).Seconds()

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}

		// Use the raw path for the label; symbol and user cardinality is
		// bounded by the demo deployment size.
		path := r.URL.Path
		HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(status)).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(duration)
	})
}
