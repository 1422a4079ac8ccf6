package treasuryapi

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the prometheus instruments for the HTTP surface. Each
// component instance carries its own registry so tests can construct
// components freely without duplicate-registration panics.
type Metrics struct {
	registry *prometheus.Registry

	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	depositsTotal   prometheus.Counter
	depositedAmount prometheus.Counter
	proposalsTotal  prometheus.Counter
	votesTotal      prometheus.Counter
	executionsTotal *prometheus.CounterVec
}

// NewMetrics creates and registers the treasury-api instruments.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		requestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "treasury_http_requests_total",
			Help: "Total HTTP requests processed by route and status.",
		}, []string{"route", "status"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "treasury_http_request_duration_seconds",
			Help:    "Histogram of HTTP request durations by route.",
			Buckets: prometheus.DefBuckets,
		}, []string{"route"}),
		depositsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "treasury_deposits_total",
			Help: "Total accepted deposit operations.",
		}),
		depositedAmount: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "treasury_deposited_amount_total",
			Help: "Sum of all accepted deposit amounts.",
		}),
		proposalsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "treasury_proposals_created_total",
			Help: "Total proposals created.",
		}),
		votesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "treasury_votes_total",
			Help: "Total votes recorded.",
		}),
		executionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "treasury_executions_total",
			Help: "Total proposal executions by executor type.",
		}, []string{"executor"}),
	}

	m.registry.MustRegister(
		m.requestsTotal,
		m.requestDuration,
		m.depositsTotal,
		m.depositedAmount,
		m.proposalsTotal,
		m.votesTotal,
		m.executionsTotal,
	)

	return m
}

// Handler returns the /metrics HTTP handler for this registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
