package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups all Prometheus instruments used by the service.
type Metrics struct {
	SessionEvents  *prometheus.CounterVec
	TurnsAppended  prometheus.Counter
	RunnerRequests *prometheus.CounterVec
	InvokeLatency  prometheus.Histogram
	MemoryWrites   *prometheus.CounterVec
	MemoriesPurged prometheus.Counter
}

func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		SessionEvents: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_events_total",
			Help:      "Session lifecycle events by type.",
		}, []string{"event"}),
		TurnsAppended: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "turns_appended_total",
			Help:      "Conversation turns persisted.",
		}),
		RunnerRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runner_requests_total",
			Help:      "Runner requests by outcome.",
		}, []string{"outcome"}),
		InvokeLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "invoke_latency_ms",
			Help:      "Model invocation latency in milliseconds.",
			Buckets:   []float64{50, 100, 250, 500, 1000, 2000, 5000, 10000, 30000},
		}),
		MemoryWrites: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "memory_writes_total",
			Help:      "Memory records written by tier.",
		}, []string{"tier"}),
		MemoriesPurged: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "memories_purged_total",
			Help:      "Expired short-term memories removed by the janitor.",
		}),
	}
}

func (m *Metrics) ObserveInvokeLatency(d time.Duration) {
	m.InvokeLatency.Observe(float64(d.Milliseconds()))
}

func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
