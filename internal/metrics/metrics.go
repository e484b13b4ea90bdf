package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the collectors of the service, registered on its own registry
// so independent instances can coexist in tests.
type Metrics struct {
	registry *prometheus.Registry

	UpstreamRequestsTotal   *prometheus.CounterVec
	UpstreamRequestDuration *prometheus.HistogramVec

	CacheLookupsTotal *prometheus.CounterVec

	CircuitBreakerState       *prometheus.GaugeVec
	CircuitBreakerTransitions *prometheus.CounterVec

	ConversionsTotal     *prometheus.CounterVec
	RouteCandidatesTotal *prometheus.CounterVec

	DependencyHealthy *prometheus.GaugeVec
}

// New creates the collectors on a fresh registry
func New() *Metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(registry)

	return &Metrics{
		registry: registry,

		UpstreamRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "buda_requests_total",
				Help: "Requests issued to the exchange API by endpoint and outcome",
			},
			[]string{"endpoint", "outcome"},
		),
		UpstreamRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "buda_request_duration_seconds",
				Help:    "Latency of exchange API requests",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"endpoint"},
		),
		CacheLookupsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "response_cache_lookups_total",
				Help: "Response cache lookups by call and result",
			},
			[]string{"call", "result"},
		),
		CircuitBreakerState: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "circuit_breaker_state",
				Help: "Circuit breaker state (0 closed, 1 half-open, 2 open)",
			},
			[]string{"breaker"},
		),
		CircuitBreakerTransitions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "circuit_breaker_transitions_total",
				Help: "Circuit breaker state transitions",
			},
			[]string{"breaker", "from", "to"},
		),
		ConversionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "conversions_total",
				Help: "Conversion requests by outcome and winning intermediary",
			},
			[]string{"outcome", "intermediate_currency"},
		),
		RouteCandidatesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "route_candidates_total",
				Help: "Evaluated route candidates by intermediary and outcome",
			},
			[]string{"crypto", "outcome"},
		),
		DependencyHealthy: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "dependency_healthy",
				Help: "1 when the last readiness check of the dependency passed",
			},
			[]string{"dependency"},
		),
	}
}

// Registry exposes the underlying registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// The helpers below accept a nil receiver so components can run without metrics.

func (m *Metrics) ObserveUpstream(endpoint, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.UpstreamRequestsTotal.WithLabelValues(endpoint, outcome).Inc()
	m.UpstreamRequestDuration.WithLabelValues(endpoint).Observe(elapsed.Seconds())
}

func (m *Metrics) ObserveCacheLookup(call, result string) {
	if m == nil {
		return
	}
	m.CacheLookupsTotal.WithLabelValues(call, result).Inc()
}

func (m *Metrics) SetBreakerState(breaker string, state float64) {
	if m == nil {
		return
	}
	m.CircuitBreakerState.WithLabelValues(breaker).Set(state)
}

func (m *Metrics) ObserveBreakerTransition(breaker, from, to string) {
	if m == nil {
		return
	}
	m.CircuitBreakerTransitions.WithLabelValues(breaker, from, to).Inc()
}

func (m *Metrics) ObserveConversion(outcome, intermediate string) {
	if m == nil {
		return
	}
	m.ConversionsTotal.WithLabelValues(outcome, intermediate).Inc()
}

func (m *Metrics) ObserveCandidate(crypto, outcome string) {
	if m == nil {
		return
	}
	m.RouteCandidatesTotal.WithLabelValues(crypto, outcome).Inc()
}

func (m *Metrics) SetDependencyHealthy(dependency string, healthy bool) {
	if m == nil {
		return
	}
	value := 0.0
	if healthy {
		value = 1
	}
	m.DependencyHealthy.WithLabelValues(dependency).Set(value)
}
