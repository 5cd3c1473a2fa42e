// Package metrics exposes Prometheus counters for approval transitions.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/pesio-ai/be-plt-approvals/internal/errors"
)

// Recorder owns the service's collectors and the registry they live in.
type Recorder struct {
	registry *prometheus.Registry

	transitionsTotal *prometheus.CounterVec
	failuresTotal    *prometheus.CounterVec
	routingTotal     *prometheus.CounterVec
	duration         *prometheus.HistogramVec
}

// NewRecorder creates a Recorder with a private registry.
func NewRecorder(namespace string) *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		transitionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "approval_transitions_total",
				Help:      "Committed approval transitions by action and resulting status.",
			},
			[]string{"entity_type", "action", "status"},
		),
		failuresTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "approval_failures_total",
				Help:      "Rejected approval operations by action and error code.",
			},
			[]string{"action", "code"},
		),
		routingTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "approval_routing_total",
				Help:      "Template resolutions by entity type, template and selection source.",
			},
			[]string{"entity_type", "template_id", "source"},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "approval_operation_duration_seconds",
				Help:      "Duration of approval operations.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"action"},
		),
	}
	r.registry.MustRegister(r.transitionsTotal, r.failuresTotal, r.routingTotal, r.duration)
	return r
}

// Transition counts a committed transition.
func (r *Recorder) Transition(entityType, action, status string) {
	if r == nil {
		return
	}
	r.transitionsTotal.WithLabelValues(entityType, action, status).Inc()
}

// Failure counts a failed operation by its error code.
func (r *Recorder) Failure(action string, err error) {
	if r == nil || err == nil {
		return
	}
	r.failuresTotal.WithLabelValues(action, string(errors.CodeOf(err))).Inc()
}

// Routed counts a template resolution.
func (r *Recorder) Routed(entityType, templateID, source string) {
	if r == nil {
		return
	}
	r.routingTotal.WithLabelValues(entityType, templateID, source).Inc()
}

// ObserveDuration records how long action took since start.
func (r *Recorder) ObserveDuration(action string, start time.Time) {
	if r == nil {
		return
	}
	r.duration.WithLabelValues(action).Observe(time.Since(start).Seconds())
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{Registry: r.registry})
}

// Registry returns the underlying registry.
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}
