package executor

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics are the run counters exported to Prometheus. A nil *Metrics
// records nothing.
type Metrics struct {
	tasks    *prometheus.CounterVec
	attempts *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

// NewMetrics registers the collectors on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		tasks: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tablegen",
			Name:      "tasks_total",
			Help:      "Finished row tasks by column and outcome.",
		}, []string{"column", "outcome"}),
		attempts: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tablegen",
			Name:      "generation_attempts_total",
			Help:      "Backend calls, retries included.",
		}, []string{"backend"}),
		duration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "tablegen",
			Name:      "task_duration_seconds",
			Help:      "Wall time of a row task, pacing delay included.",
			Buckets:   prometheus.ExponentialBuckets(0.25, 2, 10),
		}, []string{"column"}),
	}
}

func outcomeLabel(o Outcome) string {
	switch {
	case o.stopped:
		return "stopped"
	case o.Success:
		return "success"
	default:
		return "failed"
	}
}

func (m *Metrics) countTask(col string, o Outcome) {
	if m == nil {
		return
	}
	m.tasks.WithLabelValues(col, outcomeLabel(o)).Inc()
}

func (m *Metrics) countAttempt(backendName string) {
	if m == nil {
		return
	}
	m.attempts.WithLabelValues(backendName).Inc()
}

func (m *Metrics) observeDuration(col string, d time.Duration) {
	if m == nil {
		return
	}
	m.duration.WithLabelValues(col).Observe(d.Seconds())
}
