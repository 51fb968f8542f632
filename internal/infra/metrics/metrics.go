// Package metrics holds the Prometheus collectors of the credits service.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics owns a private registry so tests can build as many as they like.
type Metrics struct {
	Registry *prometheus.Registry

	deductions      *prometheus.CounterVec
	creditsSpent    *prometheus.CounterVec
	creditsAdded    *prometheus.CounterVec
	refunds         prometheus.Counter
	bundlesSwept    prometheus.Counter
	requestDuration *prometheus.HistogramVec
	externalErrors  *prometheus.CounterVec
	cacheLookups    *prometheus.CounterVec
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		Registry: reg,

		deductions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "nerdx_credit_deductions_total",
				Help: "Deduction attempts by action and outcome.",
			},
			[]string{"action", "outcome"},
		),
		creditsSpent: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "nerdx_credits_spent_total",
				Help: "Credits taken from balances, by action.",
			},
			[]string{"action"},
		),
		creditsAdded: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "nerdx_credits_added_total",
				Help: "Credits added to balances, by transaction kind.",
			},
			[]string{"kind"},
		),
		refunds: factory.NewCounter(prometheus.CounterOpts{
			Name: "nerdx_credit_refunds_total",
			Help: "Refunds applied.",
		}),
		bundlesSwept: factory.NewCounter(prometheus.CounterOpts{
			Name: "nerdx_command_bundles_swept_total",
			Help: "Expired command bundles removed by the sweeper.",
		}),
		requestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "nerdx_http_request_duration_seconds",
				Help:    "HTTP request duration by route pattern and status.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route", "status"},
		),
		externalErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "nerdx_external_errors_total",
				Help: "Errors from external services.",
			},
			[]string{"service"},
		),
		cacheLookups: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "nerdx_cache_lookups_total",
				Help: "Cache lookups by cache and result.",
			},
			[]string{"cache", "result"},
		),
	}
}

// Deduction outcomes.
const (
	OutcomeCharged      = "charged"
	OutcomeBundled      = "bundled"
	OutcomeReplayed     = "replayed"
	OutcomeInsufficient = "insufficient"
	OutcomeError        = "error"
)

func (m *Metrics) IncDeduction(action, outcome string) {
	m.deductions.WithLabelValues(action, outcome).Inc()
}

func (m *Metrics) AddCreditsSpent(action string, n int64) {
	m.creditsSpent.WithLabelValues(action).Add(float64(n))
}

func (m *Metrics) AddCreditsAdded(kind string, n int64) {
	m.creditsAdded.WithLabelValues(kind).Add(float64(n))
}

func (m *Metrics) IncRefund() {
	m.refunds.Inc()
}

func (m *Metrics) AddBundlesSwept(n int64) {
	m.bundlesSwept.Add(float64(n))
}

func (m *Metrics) ObserveRequest(method, route, status string, d time.Duration) {
	m.requestDuration.WithLabelValues(method, route, status).Observe(d.Seconds())
}

func (m *Metrics) IncExternalError(service string) {
	m.externalErrors.WithLabelValues(service).Inc()
}

func (m *Metrics) IncCacheHit(cache string) {
	m.cacheLookups.WithLabelValues(cache, "hit").Inc()
}

func (m *Metrics) IncCacheMiss(cache string) {
	m.cacheLookups.WithLabelValues(cache, "miss").Inc()
}
