package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics aggregates the billing counters. A nil *Metrics is a valid no-op
// receiver so tests and disabled deployments skip registration entirely.
type Metrics struct {
	registry       *prometheus.Registry
	callbacks      *prometheus.CounterVec
	verifications  *prometheus.CounterVec
	verifyDuration prometheus.Histogram
	outcomes       *prometheus.CounterVec
	replays        prometheus.Counter
}

func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	return &Metrics{
		registry: registry,
		callbacks: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "captionflow_payment_callbacks_total",
			Help: "Inbound gateway callbacks by path and handling outcome.",
		}, []string{"path", "outcome"}),
		verifications: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "captionflow_callback_verifications_total",
			Help: "Gateway verification round trips by result.",
		}, []string{"result"}),
		verifyDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "captionflow_callback_verify_duration_seconds",
			Help:    "Latency of the gateway verification round trip.",
			Buckets: prometheus.DefBuckets,
		}),
		outcomes: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "captionflow_payment_outcomes_total",
			Help: "Payment outcomes applied to durable state.",
		}, []string{"status"}),
		replays: factory.NewCounter(prometheus.CounterOpts{
			Name: "captionflow_idempotency_replays_total",
			Help: "Duplicate deliveries served from the idempotency cache.",
		}),
	}
}

func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) CallbackProcessed(path, outcome string) {
	if m == nil {
		return
	}
	m.callbacks.WithLabelValues(path, outcome).Inc()
}

func (m *Metrics) VerificationResult(valid bool, d time.Duration) {
	if m == nil {
		return
	}
	result := "invalid"
	if valid {
		result = "valid"
	}
	m.verifications.WithLabelValues(result).Inc()
	m.verifyDuration.Observe(d.Seconds())
}

func (m *Metrics) OutcomeApplied(status string) {
	if m == nil {
		return
	}
	m.outcomes.WithLabelValues(status).Inc()
}

func (m *Metrics) IdempotencyReplay() {
	if m == nil {
		return
	}
	m.replays.Inc()
}
