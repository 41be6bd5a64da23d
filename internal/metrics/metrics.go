// Package metrics exposes the governance core's Prometheus gauges and
// counters (SPEC_FULL §1 "Metrics"), generalized from the teacher's
// infrastructure/metrics package: one counter/histogram per component
// named in spec §2's component table, registered once at process start
// and served from /metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry bundles every metric the governance core emits. Constructed
// once in cmd/governor and threaded into the components that increment
// it; components never talk to the default Prometheus registry directly.
type Registry struct {
	HTTPRequests      *prometheus.CounterVec
	HTTPDuration       *prometheus.HistogramVec
	GateDecisions     *prometheus.CounterVec
	WebhookAttempts   *prometheus.CounterVec
	WatchdogTicks     *prometheus.CounterVec
	NoiseDiversions   *prometheus.CounterVec
	PipelinePromotions prometheus.Counter
	EventBusDrops     prometheus.Counter
}

// New registers and returns a fresh Registry. Call once; a second call in
// the same process would panic on duplicate registration, matching
// Prometheus client library convention.
func New() *Registry {
	return &Registry{
		HTTPRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "governor",
			Name:      "http_requests_total",
			Help:      "Total HTTP requests handled, by method/path/status.",
		}, []string{"method", "path", "status"}),
		HTTPDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "governor",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "path"}),
		GateDecisions: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "governor",
			Name:      "gate_decisions_total",
			Help:      "Task lifecycle gate-chain decisions, by gate and outcome.",
		}, []string{"gate", "outcome"}),
		WebhookAttempts: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "governor",
			Name:      "webhook_attempts_total",
			Help:      "Webhook delivery attempts, by provider and outcome.",
		}, []string{"provider", "outcome"}),
		WatchdogTicks: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "governor",
			Name:      "watchdog_ticks_total",
			Help:      "Background worker ticks, by worker name.",
		}, []string{"worker"}),
		NoiseDiversions: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "governor",
			Name:      "noise_diversions_total",
			Help:      "Messages diverted or suppressed by the noise budget, by channel and reason.",
		}, []string{"channel", "reason"}),
		PipelinePromotions: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: "governor",
			Name:      "pipeline_promotions_total",
			Help:      "Insight-to-task auto-promotions performed by the bridge.",
		}),
		EventBusDrops: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: "governor",
			Name:      "eventbus_dropped_events_total",
			Help:      "Events dropped by slow subscribers under the bus's drop-oldest policy.",
		}),
	}
}

// Handler returns the /metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
