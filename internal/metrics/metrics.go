// Package metrics exposes workflow counters on a private prometheus registry.
// All methods are safe on a nil *Metrics.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	Registry     *prometheus.Registry
	actorCalls   *prometheus.CounterVec
	actorLatency *prometheus.HistogramVec
	approvals    *prometheus.CounterVec
	transitions  *prometheus.CounterVec
	requirements *prometheus.CounterVec
}

func New() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		actorCalls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "storyline_actor_invocations_total",
				Help: "Actor invocations by task and outcome",
			},
			[]string{"task", "outcome"},
		),
		actorLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "storyline_actor_duration_seconds",
				Help:    "Actor invocation latency",
				Buckets: prometheus.ExponentialBuckets(0.25, 2, 10),
			},
			[]string{"task"},
		),
		approvals: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "storyline_approvals_total",
				Help: "Resolved approval records by phase and status",
			},
			[]string{"phase", "status", "forced"},
		),
		transitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "storyline_phase_transitions_total",
				Help: "Phase transitions by target phase",
			},
			[]string{"to"},
		),
		requirements: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "storyline_requirements_added_total",
				Help: "Requirements accepted into the store by category",
			},
			[]string{"category"},
		),
	}
	m.Registry.MustRegister(m.actorCalls, m.actorLatency, m.approvals, m.transitions, m.requirements)
	return m
}

func (m *Metrics) ObserveActor(task, outcome string, took time.Duration) {
	if m == nil {
		return
	}
	m.actorCalls.WithLabelValues(task, outcome).Inc()
	m.actorLatency.WithLabelValues(task).Observe(took.Seconds())
}

func (m *Metrics) Approval(phase, status string, forced bool) {
	if m == nil {
		return
	}
	f := "false"
	if forced {
		f = "true"
	}
	m.approvals.WithLabelValues(phase, status, f).Inc()
}

func (m *Metrics) Transition(to string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(to).Inc()
}

func (m *Metrics) RequirementAdded(category string) {
	if m == nil {
		return
	}
	m.requirements.WithLabelValues(category).Inc()
}

// Handler serves the registry in the prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})
}
