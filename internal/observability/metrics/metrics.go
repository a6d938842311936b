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
	// ============================================
	// HTTP
	// ============================================
	HTTPRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "openclaw_http_requests_total",
			Help: "Total number of HTTP requests handled",
		},
		[]string{"handler", "method", "code"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "openclaw_http_request_duration_seconds",
			Help:    "HTTP request latency in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"handler", "method"},
	)

	// ============================================
	// 钱包与链上交易
	// ============================================
	WalletDispatches = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "openclaw_wallet_dispatches_total",
			Help: "Transactions dispatched through the wallet layer",
		},
		[]string{"source", "outcome"},
	)

	ChainSwitches = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "openclaw_wallet_chain_switches_total",
			Help: "wallet_switchEthereumChain requests by outcome",
		},
		[]string{"chain_id", "outcome"},
	)

	ConfirmationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "openclaw_tx_confirmation_seconds",
			Help:    "Time spent waiting for transaction receipts",
			Buckets: []float64{1, 2, 5, 10, 20, 30, 60, 120, 300},
		},
		[]string{"outcome"},
	)

	// ============================================
	// 编排器
	// ============================================
	PhaseTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "openclaw_setup_phase_transitions_total",
			Help: "Setup state machine transitions per venue",
		},
		[]string{"venue", "from", "to"},
	)

	Milestones = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "openclaw_setup_milestones_total",
			Help: "Setup milestones reached per venue",
		},
		[]string{"venue", "milestone"},
	)

	SetupFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "openclaw_setup_failures_total",
			Help: "Failed setup operations by error code",
		},
		[]string{"venue", "operation", "code"},
	)

	// ============================================
	// 后端与轮询
	// ============================================
	BackendRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "openclaw_backend_requests_total",
			Help: "Requests sent to the Maxxit backend",
		},
		[]string{"endpoint", "outcome"},
	)

	BackendRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "openclaw_backend_request_duration_seconds",
			Help:    "Backend request latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"endpoint"},
	)

	BreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "openclaw_backend_breaker_state",
			Help: "Backend circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	PollTicks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "openclaw_poll_ticks_total",
			Help: "Polling loop iterations by task and outcome",
		},
		[]string{"task", "outcome"},
	)

	ActivePollers = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "openclaw_active_pollers",
			Help: "Polling loops currently running",
		},
		[]string{"task"},
	)

	EventsHandled = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "openclaw_events_handled_total",
			Help: "Milestone events consumed by the processor",
		},
		[]string{"type", "outcome"},
	)
)

// ObserveHTTPRequest records metrics about an HTTP request lifecycle.
func ObserveHTTPRequest(handler, method string, status int, duration time.Duration) {
	HTTPRequests.WithLabelValues(handler, method, strconv.Itoa(status)).Inc()
	HTTPRequestDuration.WithLabelValues(handler, method).Observe(duration.Seconds())
}

// ObserveBackend records one backend call.
func ObserveBackend(endpoint string, err error, duration time.Duration) {
	BackendRequests.WithLabelValues(endpoint, outcome(err)).Inc()
	BackendRequestDuration.WithLabelValues(endpoint).Observe(duration.Seconds())
}

// Outcome labels an error as "ok" or "error".
func Outcome(err error) string {
	return outcome(err)
}

func outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// Handler exposes the default registry in Prometheus text format.
func Handler() http.Handler {
	return promhttp.Handler()
}
