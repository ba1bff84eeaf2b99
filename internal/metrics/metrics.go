// Package metrics provides Prometheus instrumentation for the market engine.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// OrdersTotal counts orders accepted by the engine, partitioned by
	// order type (limit/market) and side.
	OrdersTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stanx_orders_total",
		Help: "Total number of orders accepted",
	}, []string{"type", "side"})

	// OrderLatency tracks order placement latency in seconds.
	OrderLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "stanx_order_latency_seconds",
		Help:    "Order placement latency in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"type"})

	// OrdersRejected counts rejected orders by reason.
	OrdersRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stanx_orders_rejected_total",
		Help: "Orders rejected, by reason",
	}, []string{"reason"})

	// FillsTotal counts individual fills, partitioned by taker side.
	FillsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stanx_fills_total",
		Help: "Total number of fills executed",
	}, []string{"side"})

	// ActiveMarkets tracks the number of open markets.
	ActiveMarkets = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "stanx_active_markets",
		Help: "Number of currently open markets",
	})

	// RestingOrders tracks live resting orders across all books.
	RestingOrders = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "stanx_resting_orders",
		Help: "Number of resting orders across all order books",
	})

	// CollateralLocked tracks escrowed collateral per market.
	CollateralLocked = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "stanx_collateral_locked",
		Help: "Collateral units locked in escrow per market",
	}, []string{"market_id"})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "stanx_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stanx_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and path.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "stanx_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
	}, []string{"method", "path"})

	// PositionLimitRejections counts orders rejected by the position limiter.
	PositionLimitRejections = promauto.NewCounter(prometheus.CounterOpts{
		Name: "stanx_position_limit_rejections_total",
		Help: "Orders rejected by position limiter",
	})

	// MarketVolume tracks cumulative fill volume (token quantity) per market.
	MarketVolume = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stanx_market_volume_total",
		Help: "Cumulative fill volume in token units",
	}, []string{"market_id", "side"})
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

		// Use the route pattern for path label to avoid high cardinality.
		path := r.URL.Path
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
