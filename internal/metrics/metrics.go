// Package metrics provides Prometheus instrumentation for the pool engine.
package metrics

import (
	"bufio"
	"fmt"
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
	// JoinsTotal counts accepted joins by betting model and side.
	JoinsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "eventpool_joins_total",
		Help: "Total number of accepted event joins",
	}, []string{"betting_model", "side"})

	// JoinRejections counts joins refused before any funds moved.
	JoinRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "eventpool_join_rejections_total",
		Help: "Joins rejected, by reason",
	}, []string{"reason"})

	// SettlementsTotal counts completed settlements by branch.
	SettlementsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "eventpool_settlements_total",
		Help: "Total number of settled events",
	}, []string{"branch"})

	// SettlementLatency tracks how long one settlement transaction takes.
	SettlementLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "eventpool_settlement_latency_seconds",
		Help:    "Settlement latency in seconds",
		Buckets: prometheus.DefBuckets,
	})

	// PayoutVolume accumulates credited amounts by transaction type.
	PayoutVolume = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "eventpool_payout_volume_total",
		Help: "Cumulative amount credited by settlement and refunds",
	}, []string{"type"})

	// LedgerTransactions counts committed ledger entries by type.
	LedgerTransactions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "eventpool_ledger_transactions_total",
		Help: "Committed ledger transactions",
	}, []string{"type"})

	// ActiveEvents tracks the number of events accepting joins.
	ActiveEvents = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "eventpool_active_events",
		Help: "Number of currently active events",
	})

	// ReconcileDiscrepancies is the number of findings of the last audit.
	ReconcileDiscrepancies = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "eventpool_reconcile_discrepancies",
		Help: "Discrepancies found by the last reconciliation run",
	})

	// ReconcileRuns counts audit runs by outcome.
	ReconcileRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "eventpool_reconcile_runs_total",
		Help: "Reconciliation runs",
	}, []string{"outcome"})

	// PublishFailures counts outbound notifications that could not be sent.
	PublishFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "eventpool_publish_failures_total",
		Help: "Outbound notifications dropped or rejected",
	}, []string{"sink"})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "eventpool_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "eventpool_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and path.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "eventpool_http_request_duration_seconds",
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

		// Route pattern keeps event and user IDs out of the label set.
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

// Hijack lets the WebSocket upgrade pass through the middleware.
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not support hijacking")
	}
	return h.Hijack()
}
