// Package metrics exposes the gateway's Prometheus instrumentation.
// Every executed SQL statement, HTTP request, guard decision, and run
// outcome is observed here.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	registry *prometheus.Registry

	HTTPRequests   *prometheus.CounterVec
	DBStatements   *prometheus.HistogramVec
	RunsExecuted   *prometheus.CounterVec
	GuardDecisions *prometheus.CounterVec
	RiskRejections *prometheus.CounterVec
}

// New builds an isolated registry so tests can instantiate freely.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_http_requests_total",
			Help: "HTTP requests by method, route, and status.",
		}, []string{"method", "route", "status"}),
		DBStatements: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "gateway_db_statement_seconds",
			Help:    "Wall time per SQL statement.",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
		}, []string{"operation"}),
		RunsExecuted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_runs_total",
			Help: "Evidence runs by module, action, and outcome.",
		}, []string{"module", "action", "outcome"}),
		GuardDecisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_web2_guard_decisions_total",
			Help: "Web2 guard allow/deny decisions.",
		}, []string{"decision"}),
		RiskRejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_risk_rejections_total",
			Help: "Requests rejected or flagged by the risk engine.",
		}, []string{"scope", "mode"}),
	}
	reg.MustRegister(m.HTTPRequests, m.DBStatements, m.RunsExecuted, m.GuardDecisions, m.RiskRejections)
	return m
}

// ObserveStatement records one SQL statement timing. Safe on a nil receiver
// so the store can run without a sink in tests.
func (m *Metrics) ObserveStatement(operation string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.DBStatements.WithLabelValues(operation).Observe(elapsed.Seconds())
}

// Handler serves the /metrics scrape endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
