// Package metrics exposes Prometheus counters for the auth flows.
package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics contains the auth counters.
type Metrics struct {
	RequestsTotal    *prometheus.CounterVec
	RateLimitedTotal *prometheus.CounterVec
	EmailsTotal      *prometheus.CounterVec
}

// NewMetrics creates and registers the auth counters.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		RequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "auth_requests_total",
				Help: "Total number of auth requests by flow and outcome",
			},
			[]string{"flow", "outcome"},
		),
		RateLimitedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "auth_rate_limited_total",
				Help: "Total number of requests denied by the rate limiter by action",
			},
			[]string{"action"},
		),
		EmailsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "auth_emails_total",
				Help: "Total number of transactional emails by kind and result",
			},
			[]string{"kind", "result"},
		),
	}

	reg.MustRegister(m.RequestsTotal)
	reg.MustRegister(m.RateLimitedTotal)
	reg.MustRegister(m.EmailsTotal)

	return m
}

// NewRegistry returns a registry with Go runtime and process collectors.
func NewRegistry() *prometheus.Registry {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return registry
}

// Handler serves the registry in the Prometheus exposition format.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})
}

// Request counts one finished auth request.
func (m *Metrics) Request(flow, outcome string) {
	m.RequestsTotal.WithLabelValues(flow, outcome).Inc()
}

// RateLimited counts one denied request.
func (m *Metrics) RateLimited(action string) {
	m.RateLimitedTotal.WithLabelValues(action).Inc()
}

// EmailSent counts one delivery attempt.
func (m *Metrics) EmailSent(kind string, ok bool) {
	result := "failed"
	if ok {
		result = "sent"
	}
	m.EmailsTotal.WithLabelValues(kind, result).Inc()
}

// StatusOutcome buckets an HTTP status into a low-cardinality label.
func StatusOutcome(status int) string {
	switch {
	case status == http.StatusTooManyRequests:
		return "rate_limited"
	case status >= 500:
		return "error"
	case status >= 400:
		return "rejected"
	default:
		return "ok_" + strconv.Itoa(status/100) + "xx"
	}
}
