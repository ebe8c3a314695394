package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups the service's collectors. A nil *Metrics records nothing.
type Metrics struct {
	Requests   *prometheus.CounterVec
	LatencyMS  *prometheus.HistogramVec
	Checkouts  *prometheus.CounterVec
	Reconciles *prometheus.CounterVec
	Published  *prometheus.CounterVec
}

func New(reg prometheus.Registerer, service string) *Metrics {
	m := &Metrics{
		Requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "food",
			Subsystem: service,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests.",
		}, []string{"route", "status"}),
		LatencyMS: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "food",
			Subsystem: service,
			Name:      "http_request_duration_ms",
			Help:      "HTTP request latency in milliseconds.",
			Buckets:   []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
		}, []string{"route"}),
		Checkouts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "food",
			Subsystem: service,
			Name:      "checkouts_total",
			Help:      "Checkout attempts by outcome.",
		}, []string{"outcome"}),
		Reconciles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "food",
			Subsystem: service,
			Name:      "reconciliations_total",
			Help:      "Gateway notifications by reconciliation outcome.",
		}, []string{"outcome"}),
		Published: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "food",
			Subsystem: service,
			Name:      "outbox_published_total",
			Help:      "Outbox events published, by result.",
		}, []string{"result"}),
	}
	reg.MustRegister(m.Requests, m.LatencyMS, m.Checkouts, m.Reconciles, m.Published)
	return m
}

func (m *Metrics) CheckoutOutcome(outcome string) {
	if m != nil {
		m.Checkouts.WithLabelValues(outcome).Inc()
	}
}

func (m *Metrics) ReconcileOutcome(outcome string) {
	if m != nil {
		m.Reconciles.WithLabelValues(outcome).Inc()
	}
}

func (m *Metrics) PublishResult(result string) {
	if m != nil {
		m.Published.WithLabelValues(result).Inc()
	}
}

func (m *Metrics) ObserveRequest(route, status string, ms float64) {
	if m != nil {
		m.Requests.WithLabelValues(route, status).Inc()
		m.LatencyMS.WithLabelValues(route).Observe(ms)
	}
}

func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
