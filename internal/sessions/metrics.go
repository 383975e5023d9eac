package sessions

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exposes Prometheus collectors reporting orchestration activity.
type Metrics struct {
	sessionsActive        prometheus.Gauge
	interactionsCompleted *prometheus.CounterVec
	executionDuration     *prometheus.HistogramVec
	asyncResultTimeouts   prometheus.Counter
	eventsIngested        *prometheus.CounterVec
}

var (
	defaultMetricsOnce sync.Once
	sharedMetrics      *Metrics
)

// DefaultMetrics returns the package-level metrics instance registered with
// the global Prometheus registry. The collectors are created only once to
// avoid duplicate registration panics when the service is instantiated
// multiple times.
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		sharedMetrics = MustNewMetrics(prometheus.DefaultRegisterer)
	})
	return sharedMetrics
}

// MustNewMetrics constructs a Metrics instance using the provided registerer.
// Supply a fresh registry when unique metric names are required (for example
// in tests). Registration errors panic, mirroring promauto semantics.
func MustNewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	m := &Metrics{
		sessionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "codemyspec",
			Subsystem: "sessions",
			Name:      "active",
			Help:      "Number of sessions with status active.",
		}),
		interactionsCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "codemyspec",
			Subsystem: "sessions",
			Name:      "interactions_completed_total",
			Help:      "Interactions completed, by workflow, step and result status.",
		}, []string{"workflow", "step", "status"}),
		executionDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "codemyspec",
			Subsystem: "sessions",
			Name:      "execution_duration_seconds",
			Help:      "Wall-clock duration of command executions, by strategy.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"strategy"}),
		asyncResultTimeouts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "codemyspec",
			Subsystem: "sessions",
			Name:      "async_result_timeouts_total",
			Help:      "Async executions that timed out waiting for a delivered result.",
		}),
		eventsIngested: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "codemyspec",
			Subsystem: "sessions",
			Name:      "events_ingested_total",
			Help:      "Session events appended to the activity log, by type.",
		}, []string{"type"}),
	}

	reg.MustRegister(
		m.sessionsActive,
		m.interactionsCompleted,
		m.executionDuration,
		m.asyncResultTimeouts,
		m.eventsIngested,
	)
	return m
}

// SessionStarted increments the active-session gauge.
func (m *Metrics) SessionStarted() {
	if m == nil {
		return
	}
	m.sessionsActive.Inc()
}

// SessionFinished decrements the active-session gauge.
func (m *Metrics) SessionFinished() {
	if m == nil {
		return
	}
	m.sessionsActive.Dec()
}

// InteractionCompleted records one completed interaction.
func (m *Metrics) InteractionCompleted(workflow, step, status string) {
	if m == nil {
		return
	}
	m.interactionsCompleted.WithLabelValues(workflow, step, status).Inc()
}

// ExecutionObserved records the duration of one execution.
func (m *Metrics) ExecutionObserved(strategy string, duration time.Duration) {
	if m == nil {
		return
	}
	m.executionDuration.WithLabelValues(strategy).Observe(duration.Seconds())
}

// AsyncTimeout records one async result wait that expired.
func (m *Metrics) AsyncTimeout() {
	if m == nil {
		return
	}
	m.asyncResultTimeouts.Inc()
}

// EventIngested records one appended session event.
func (m *Metrics) EventIngested(eventType string) {
	if m == nil {
		return
	}
	m.eventsIngested.WithLabelValues(eventType).Inc()
}
