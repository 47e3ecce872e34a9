package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/angeloszaimis/adaptive-router/internal/attempt"
	"github.com/angeloszaimis/adaptive-router/internal/routing"
)

// BackendSource reports the current state of every backend.
type BackendSource func() []routing.BackendState

// Exporter publishes routing metrics on its own Prometheus registry.
type Exporter struct {
	registry *prometheus.Registry

	attemptsTotal  *prometheus.CounterVec
	requestsTotal  *prometheus.CounterVec
	penaltyTotal   prometheus.Counter
	attemptLatency *prometheus.HistogramVec
}

func NewExporter(strategy string, backends BackendSource) *Exporter {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)
	constLabels := prometheus.Labels{"strategy": strategy}

	e := &Exporter{
		registry: registry,
		attemptsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "router_attempts_total",
				Help:        "Attempts sent to backends, by outcome",
				ConstLabels: constLabels,
			},
			[]string{"backend", "outcome"},
		),
		requestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "router_requests_total",
				Help:        "Completed requests, by result",
				ConstLabels: constLabels,
			},
			[]string{"result"},
		),
		penaltyTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name:        "router_penalized_attempts_total",
				Help:        "Attempts made after the penalty-free window",
				ConstLabels: constLabels,
			},
		),
		attemptLatency: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:        "router_attempt_latency_ms",
				Help:        "Latency of single attempts in milliseconds",
				Buckets:     []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
				ConstLabels: constLabels,
			},
			[]string{"backend"},
		),
	}

	if backends != nil {
		registry.MustRegister(newBackendCollector(backends))
	}

	return e
}

// Observe records one attempt outcome.
func (e *Exporter) Observe(o attempt.Outcome) {
	label := strconv.Itoa(int(o.BackendID))

	outcome := attempt.Failure
	switch {
	case o.RateLimited:
		outcome = attempt.RateLimited
	case o.Success:
		outcome = attempt.Success
	}

	e.attemptsTotal.WithLabelValues(label, outcome.String()).Inc()
	e.attemptLatency.WithLabelValues(label).Observe(o.LatencyMs)
	if o.Penalized {
		e.penaltyTotal.Inc()
	}

	if o.RequestComplete {
		result := "exhausted"
		if o.RequestSuccess {
			result = "success"
		}
		e.requestsTotal.WithLabelValues(result).Inc()
	}
}

func (e *Exporter) Registry() *prometheus.Registry {
	return e.registry
}

// Handler serves the registry in the Prometheus text format.
func (e *Exporter) Handler() http.Handler {
	return promhttp.HandlerFor(e.registry, promhttp.HandlerOpts{})
}

// backendCollector reads backend state at scrape time so gauges never go stale.
type backendCollector struct {
	source      BackendSource
	successRate *prometheus.Desc
	posterior   *prometheus.Desc
	rateLimited *prometheus.Desc
}

func newBackendCollector(source BackendSource) *backendCollector {
	return &backendCollector{
		source: source,
		successRate: prometheus.NewDesc(
			"router_backend_success_rate",
			"Observed success rate of a backend",
			[]string{"backend"}, nil,
		),
		posterior: prometheus.NewDesc(
			"router_backend_posterior_mean",
			"Mean of the backend's Beta posterior",
			[]string{"backend"}, nil,
		),
		rateLimited: prometheus.NewDesc(
			"router_backend_rate_limited",
			"Whether the backend is currently rate limited (1) or not (0)",
			[]string{"backend"}, nil,
		),
	}
}

func (b *backendCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- b.successRate
	ch <- b.posterior
	ch <- b.rateLimited
}

func (b *backendCollector) Collect(ch chan<- prometheus.Metric) {
	for _, s := range b.source() {
		label := strconv.Itoa(int(s.ID))

		limited := 0.0
		if s.RateLimited {
			limited = 1
		}

		ch <- prometheus.MustNewConstMetric(b.successRate, prometheus.GaugeValue, s.SuccessRate, label)
		ch <- prometheus.MustNewConstMetric(b.posterior, prometheus.GaugeValue, s.Alpha/(s.Alpha+s.Beta), label)
		ch <- prometheus.MustNewConstMetric(b.rateLimited, prometheus.GaugeValue, limited, label)
	}
}
