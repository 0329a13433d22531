// Package metrics exposes Prometheus collectors for the event pipeline of one service.
package metrics

import (
	"net/http"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Apurer/order-saga/internal/events"
)

const namespace = "ordersaga"

// Registry owns a private Prometheus registry so several services can run in one process.
type Registry struct {
	registry        *prometheus.Registry
	consumed        *prometheus.CounterVec
	mismatches      *prometheus.CounterVec
	outboxPublished *prometheus.CounterVec
	outboxFailed    *prometheus.CounterVec
	sagaRetries     *prometheus.CounterVec
	sagaStuck       prometheus.Counter
	sagaTransitions *prometheus.CounterVec
}

// New registers the collectors under subsystem service.
func New(service string) *Registry {
	service = strings.ReplaceAll(service, "-", "_")
	reg := prometheus.NewRegistry()
	r := &Registry{
		registry: reg,
		consumed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: service,
			Name:      "events_consumed_total",
			Help:      "Events handled by consumer group, kind and result.",
		}, []string{"group", "kind", "result"}),
		mismatches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: service,
			Name:      "event_payload_mismatch_total",
			Help:      "Duplicate event ids delivered with a different payload.",
		}, []string{"group", "kind"}),
		outboxPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: service,
			Name:      "outbox_published_total",
			Help:      "Outbox records acknowledged by the broker.",
		}, []string{"topic"}),
		outboxFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: service,
			Name:      "outbox_publish_failures_total",
			Help:      "Outbox records left pending after a failed publish.",
		}, []string{"topic"}),
		sagaRetries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: service,
			Name:      "saga_step_retries_total",
			Help:      "Saga commands re-sent after their deadline passed.",
		}, []string{"kind"}),
		sagaStuck: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: service,
			Name:      "saga_stuck_total",
			Help:      "Sagas parked for operator attention.",
		}),
		sagaTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: service,
			Name:      "saga_transitions_total",
			Help:      "Saga status changes by target status.",
		}, []string{"status"}),
	}
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		r.consumed, r.mismatches,
		r.outboxPublished, r.outboxFailed,
		r.sagaRetries, r.sagaStuck, r.sagaTransitions,
	)
	return r
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{Registry: r.registry})
}

// Gatherer exposes the underlying registry for tests.
func (r *Registry) Gatherer() prometheus.Gatherer { return r.registry }

func (r *Registry) EventConsumed(group string, kind events.Kind, result string) {
	r.consumed.WithLabelValues(group, string(kind), result).Inc()
}

func (r *Registry) PayloadMismatch(group string, kind events.Kind) {
	r.mismatches.WithLabelValues(group, string(kind)).Inc()
}

func (r *Registry) RecordPublished(topic string) {
	r.outboxPublished.WithLabelValues(topic).Inc()
}

func (r *Registry) PublishFailed(topic string) {
	r.outboxFailed.WithLabelValues(topic).Inc()
}

func (r *Registry) SagaRetried(kind events.Kind) {
	r.sagaRetries.WithLabelValues(string(kind)).Inc()
}

func (r *Registry) SagaStuck() { r.sagaStuck.Inc() }

func (r *Registry) SagaTransition(status string) {
	r.sagaTransitions.WithLabelValues(status).Inc()
}
