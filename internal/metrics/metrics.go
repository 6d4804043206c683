// Package metrics provides Prometheus instrumentation for the paper engine.
package metrics

import (
	"bufio"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// PositionsOpened counts positions opened, partitioned by strategy and tier.
	PositionsOpened = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "paper_positions_opened_total",
		Help: "Total number of paper positions opened",
	}, []string{"engine", "strategy", "tier"})

	// PositionsClosed counts positions closed, partitioned by exit reason.
	PositionsClosed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "paper_positions_closed_total",
		Help: "Total number of paper positions closed",
	}, []string{"engine", "strategy", "reason"})

	// OpenRejections counts open requests refused by a precondition.
	OpenRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "paper_open_rejections_total",
		Help: "Open requests rejected by position limits or validation",
	}, []string{"engine", "reason"})

	// OpenPositions tracks the number of open positions.
	OpenPositions = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "paper_open_positions",
		Help: "Number of currently open paper positions",
	}, []string{"engine"})

	// Balance tracks free capital.
	Balance = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "paper_balance_usd",
		Help: "Free paper capital in USD",
	}, []string{"engine"})

	// FeesPaid accumulates simulated fees.
	FeesPaid = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "paper_fees_usd_total",
		Help: "Cumulative simulated trading fees in USD",
	}, []string{"engine"})

	// SlippageCost accumulates the reported slippage cost.
	SlippageCost = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "paper_slippage_cost_total",
		Help: "Cumulative reported slippage cost",
	}, []string{"engine"})

	// RealizedPnL tracks cumulative realized P&L.
	RealizedPnL = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "paper_realized_pnl_usd",
		Help: "Realized P&L of closed paper trades in USD",
	}, []string{"engine"})

	// PersistFailures counts mutations rolled back because the store failed.
	PersistFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "paper_persist_failures_total",
		Help: "Mutations rolled back after a persistence failure",
	}, []string{"engine", "op"})

	// EvaluateLatency tracks exit evaluation time per price tick.
	EvaluateLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "paper_evaluate_latency_seconds",
		Help:    "Exit evaluation latency per price tick in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"engine"})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "paper_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// NotifyFailures counts dropped notifications and audit records.
	NotifyFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "paper_notify_failures_total",
		Help: "Notifications or audit records that failed to deliver",
	}, []string{"sink"})

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "paper_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and path.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "paper_http_request_duration_seconds",
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

		// Route pattern keeps {symbol} out of the label set.
		path := r.URL.Path
		if rc := chi.RouteContext(r.Context()); rc != nil {
			if p := rc.RoutePattern(); p != "" {
				path = p
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

// Hijack lets the WebSocket upgrader take over the connection.
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("metrics: response writer does not support hijacking")
	}
	w.status = http.StatusSwitchingProtocols
	return h.Hijack()
}

func (w *statusWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}
