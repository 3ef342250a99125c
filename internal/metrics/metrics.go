// Package metrics holds the Prometheus collectors updated by the engine.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	Registry *prometheus.Registry

	// Transitions counts lifecycle transitions by entity and target status.
	Transitions *prometheus.CounterVec
	// Outcomes counts recorded outcomes by task type and severity.
	Outcomes *prometheus.CounterVec
	// Aggregates counts aggregate statuses computed per task type.
	Aggregates *prometheus.CounterVec
	// RequestDuration observes completed-started of finished requests.
	RequestDuration *prometheus.HistogramVec
}

// New registers every collector on a fresh registry, together with the Go and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)
	return &Metrics{
		Registry: reg,
		Transitions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "ifcv_transitions_total",
			Help: "Lifecycle transitions applied to requests and tasks.",
		}, []string{"entity", "status"}),
		Outcomes: f.NewCounterVec(prometheus.CounterOpts{
			Name: "ifcv_outcomes_total",
			Help: "Validation outcomes recorded.",
		}, []string{"task_type", "severity"}),
		Aggregates: f.NewCounterVec(prometheus.CounterOpts{
			Name: "ifcv_aggregates_total",
			Help: "Aggregate statuses computed from task outcomes.",
		}, []string{"task_type", "status"}),
		RequestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "ifcv_request_duration_seconds",
			Help:    "Duration of requests reaching a final status.",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
		}, []string{"status"}),
	}
}

// The helpers below tolerate a nil receiver so callers can run without metrics.

func (m *Metrics) Transition(entity, status string) {
	if m == nil {
		return
	}
	m.Transitions.WithLabelValues(entity, status).Inc()
}

func (m *Metrics) Outcome(taskType, severity string) {
	if m == nil {
		return
	}
	m.Outcomes.WithLabelValues(taskType, severity).Inc()
}

func (m *Metrics) Aggregate(taskType, status string) {
	if m == nil {
		return
	}
	m.Aggregates.WithLabelValues(taskType, status).Inc()
}

func (m *Metrics) ObserveRequest(status string, seconds float64) {
	if m == nil {
		return
	}
	m.RequestDuration.WithLabelValues(status).Observe(seconds)
}
