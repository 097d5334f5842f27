// Package metrics provides Prometheus instrumentation for the ledger engine.
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
	// TransfersTotal counts committed transfers, partitioned by kind.
	TransfersTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_transfers_total",
		Help: "Total number of committed transfers",
	}, []string{"kind"})

	// TransferRejections counts rejected transfers by failure reason.
	TransferRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_transfer_rejections_total",
		Help: "Transfers rejected before any mutation",
	}, []string{"reason"})

	// BurnedTotal accumulates burned units per token.
	BurnedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_burned_total",
		Help: "Cumulative units destroyed by transfer burns",
	}, []string{"symbol"})

	// ChainHeight tracks each token's latest block sequence number.
	ChainHeight = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "ledger_chain_height",
		Help: "Latest block sequence number per token chain",
	}, []string{"symbol"})

	// ChainVerifications counts chain verification runs by outcome.
	ChainVerifications = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_chain_verifications_total",
		Help: "Chain verification runs by outcome",
	}, []string{"result"})

	// StakeOps counts stake operations by action.
	StakeOps = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_stake_ops_total",
		Help: "Stake, unstake, and claim operations",
	}, []string{"action"})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "ledger_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and path.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "ledger_http_request_duration_seconds",
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

		// Use the raw path for the label; route cardinality is small.
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
