package authz

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metric names as constants for consistency.
const (
	MetricDecisionsTotal   = "authz_decisions_total"
	MetricDecisionDuration = "authz_decision_duration_seconds"
	MetricOverridesTotal   = "authz_emergency_overrides_total"
)

// Metrics contains Prometheus metrics for authorization decisions.
// All operations are thread-safe.
type Metrics struct {
	decisionsTotal   *prometheus.CounterVec
	decisionDuration *prometheus.HistogramVec
	overridesTotal   *prometheus.CounterVec
}

// NewMetrics creates and returns a new Metrics instance with all collectors
// initialized. The metrics are not registered; call Register to register
// them with a registry.
func NewMetrics() *Metrics {
	return &Metrics{
		decisionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: MetricDecisionsTotal,
				Help: "Total number of authorization decisions by action kind and result",
			},
			[]string{"action_kind", "result"},
		),
		decisionDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    MetricDecisionDuration,
				Help:    "Histogram of authorization decision duration in seconds",
				Buckets: []float64{0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
			},
			[]string{"action_kind"},
		),
		overridesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: MetricOverridesTotal,
				Help: "Total number of emergency override attempts by result",
			},
			[]string{"result"},
		),
	}
}

// Register registers all metrics with the given registry.
func (m *Metrics) Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		m.decisionsTotal,
		m.decisionDuration,
		m.overridesTotal,
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// IncDecisions increments the decisions counter. result is "approved" or the
// denial reason.
func (m *Metrics) IncDecisions(actionKind, result string) {
	m.decisionsTotal.WithLabelValues(actionKind, result).Inc()
}

// ObserveDecisionDuration records a decision duration sample.
func (m *Metrics) ObserveDecisionDuration(actionKind string, seconds float64) {
	m.decisionDuration.WithLabelValues(actionKind).Observe(seconds)
}

// IncOverrides increments the emergency override counter.
func (m *Metrics) IncOverrides(result string) {
	m.overridesTotal.WithLabelValues(result).Inc()
}
