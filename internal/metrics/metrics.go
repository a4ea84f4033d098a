// Package metrics provides Prometheus instrumentation for the biome engine.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// TradesTotal counts total trades executed, partitioned by side.
	TradesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "biome_trades_total",
		Help: "Total number of trades executed",
	}, []string{"side"})

	// TradeLatency is a histogram of trade execution latency.
	TradeLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "biome_trade_latency_seconds",
		Help:    "Trade execution latency in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"side"})

	// BusyRejections counts trades rejected by market-lock timeout.
	BusyRejections = promauto.NewCounter(prometheus.CounterOpts{
		Name: "biome_busy_rejections_total",
		Help: "Trades rejected because the market lock could not be acquired in time",
	})

	// RedistributionCycles counts completed scheduler cycles.
	RedistributionCycles = promauto.NewCounter(prometheus.CounterOpts{
		Name: "biome_redistribution_cycles_total",
		Help: "Completed redistribution cycles",
	})

	// RedistributionSkipped counts cycles skipped (zero attention or lock failure).
	RedistributionSkipped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "biome_redistribution_skipped_total",
		Help: "Redistribution cycles skipped",
	}, []string{"reason"})

	// CycleDuration tracks how long a redistribution cycle takes.
	CycleDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "biome_redistribution_cycle_seconds",
		Help:    "Redistribution cycle duration in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5},
	})

	// TotalMarketCash tracks the sum of all market cash pools.
	TotalMarketCash = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "biome_total_market_cash",
		Help: "Sum of all market cash pools (TMC)",
	})

	// WebSocketClients tracks connected WebSocket subscribers.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "biome_websocket_clients",
		Help: "Number of connected WebSocket subscribers",
	})

	// AttentionEvents counts accepted attention events per biome.
	AttentionEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "biome_attention_events_total",
		Help: "Attention events recorded",
	}, []string{"biome"})

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "biome_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and path.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "biome_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
	}, []string{"method", "path"})
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware returns an HTTP middleware that records request metrics.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &statusWriter{ResponseWriter: w, status: 200}
		next.ServeHTTP(wrapped, r)
		duration := time.Since(start).Seconds()

		// Route pattern keeps the path label low-cardinality.
		path := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				path = pattern
			}
		}
		HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.status)).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(duration)
	})
}

// statusWriter wraps http.ResponseWriter to capture the status code.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}
