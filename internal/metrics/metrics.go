// Package metrics owns the Prometheus registry and every collector the API exports
// at GET /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics groups the collectors. A fresh Metrics has its own registry, so tests can
// create as many as they like without "duplicate metrics collector" panics.
type Metrics struct {
	Registry *prometheus.Registry

	HTTPRequests  *prometheus.CounterVec   // by method, route, status
	HTTPDuration  *prometheus.HistogramVec // by method, route
	SweepRuns     *prometheus.CounterVec   // by job, outcome
	Registrations *prometheus.CounterVec   // by resulting status
	PushMessages  *prometheus.CounterVec   // by outcome
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)

	return &Metrics{
		Registry: reg,
		HTTPRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "HTTP requests handled, by method, route and status code.",
		}, []string{"method", "route", "status"}),
		HTTPDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latency, by method and route.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),
		SweepRuns: f.NewCounterVec(prometheus.CounterOpts{
			Name: "sweep_runs_total",
			Help: "Background sweep runs, by job and outcome.",
		}, []string{"job", "outcome"}),
		Registrations: f.NewCounterVec(prometheus.CounterOpts{
			Name: "registrations_total",
			Help: "Event registrations created, by the status they landed in.",
		}, []string{"status"}),
		PushMessages: f.NewCounterVec(prometheus.CounterOpts{
			Name: "push_messages_total",
			Help: "Expo push messages attempted, by outcome.",
		}, []string{"outcome"}),
	}
}
