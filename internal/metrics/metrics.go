package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "live_events"

// Metrics holds the lifecycle engine's Prometheus collectors. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	Transitions        *prometheus.CounterVec
	TransitionFailures *prometheus.CounterVec
	SweepDuration      prometheus.Histogram
	Admissions         *prometheus.CounterVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Transitions: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "transitions_total",
				Help:      "Events advanced by the lifecycle scheduler",
			},
			[]string{"to"},
		),
		TransitionFailures: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "transition_failures_total",
				Help:      "Per-event transition attempts that failed and were skipped",
			},
			[]string{"to"},
		),
		SweepDuration: f.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "sweep_duration_seconds",
				Help:      "Duration of one scheduler sweep",
				Buckets:   prometheus.DefBuckets,
			},
		),
		Admissions: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "admissions_total",
				Help:      "Register, unregister and join decisions by result",
			},
			[]string{"op", "result"},
		),
	}
}

func (m *Metrics) Transitioned(to string) {
	if m == nil {
		return
	}
	m.Transitions.WithLabelValues(to).Inc()
}

func (m *Metrics) TransitionFailed(to string) {
	if m == nil {
		return
	}
	m.TransitionFailures.WithLabelValues(to).Inc()
}

func (m *Metrics) ObserveSweep(started time.Time) {
	if m == nil {
		return
	}
	m.SweepDuration.Observe(time.Since(started).Seconds())
}

func (m *Metrics) Admission(op, result string) {
	if m == nil {
		return
	}
	m.Admissions.WithLabelValues(op, result).Inc()
}
