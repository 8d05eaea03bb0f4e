package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "tutor"

// Metrics owns a private registry so tests can construct as many as they like.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry       *prometheus.Registry
	threadsCreated prometheus.Counter
	threadsOrphan  prometheus.Counter
	runs           *prometheus.CounterVec
	runDuration    *prometheus.HistogramVec
	cancels        *prometheus.CounterVec
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		threadsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "threads_created_total",
			Help:      "Provider threads created for new sessions.",
		}),
		threadsOrphan: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "threads_orphaned_total",
			Help:      "Threads created by a losing writer of a shared session store.",
		}),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Assistant runs by variant and outcome.",
		}, []string{"kind", "outcome"}),
		runDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Time from run creation to terminal status.",
			Buckets:   []float64{0.5, 1, 2, 4, 8, 16, 32, 64, 128},
		}, []string{"kind"}),
		cancels: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "run_cancellations_total",
			Help:      "Cancel requests by result.",
		}, []string{"result"}),
	}
	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.threadsCreated,
		m.threadsOrphan,
		m.runs,
		m.runDuration,
		m.cancels,
	)
	return m
}

func (m *Metrics) ThreadCreated() {
	if m == nil {
		return
	}
	m.threadsCreated.Inc()
}

func (m *Metrics) ThreadOrphaned() {
	if m == nil {
		return
	}
	m.threadsOrphan.Inc()
}

// RunFinished records one coordinator invocation. outcome is a lowercase
// run status such as completed, or a failure kind such as timeout.
func (m *Metrics) RunFinished(kind, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.runs.WithLabelValues(kind, outcome).Inc()
	m.runDuration.WithLabelValues(kind).Observe(elapsed.Seconds())
}

func (m *Metrics) CancelRequested(result string) {
	if m == nil {
		return
	}
	m.cancels.WithLabelValues(result).Inc()
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
