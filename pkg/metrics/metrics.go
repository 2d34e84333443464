// Package metrics holds the Prometheus collectors exported on /metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "zks_preview"

// Outcome labels for Redemptions and ChatRelays.
const (
	OutcomeGranted  = "granted"
	OutcomeDenied   = "denied"
	OutcomeLimited  = "rate_limited"
	OutcomeOK       = "ok"
	OutcomeFallback = "fallback"
	OutcomeNoTarget = "no_webhook"
)

type Metrics struct {
	registry *prometheus.Registry

	HTTPRequests *prometheus.CounterVec
	HTTPDuration *prometheus.HistogramVec
	Redemptions  *prometheus.CounterVec
	ChatRelays   *prometheus.CounterVec
	ChatLatency  prometheus.Histogram
	SweptSession *prometheus.CounterVec
}

// New registers every collector on a private registry so tests can build as many
// instances as they like.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by route pattern, method and status.",
		}, []string{"route", "method", "status"}),
		HTTPDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by route pattern.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route", "method"}),
		Redemptions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "test_access_redemptions_total",
			Help:      "Access code redemption attempts by outcome.",
		}, []string{"outcome"}),
		ChatRelays: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chat_relays_total",
			Help:      "Chat messages relayed to the upstream webhook by outcome.",
		}, []string{"outcome"}),
		ChatLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "chat_upstream_duration_seconds",
			Help:      "Latency of upstream chat webhook calls.",
			Buckets:   []float64{0.25, 0.5, 1, 2, 4, 8, 16},
		}),
		SweptSession: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_swept_total",
			Help:      "Expired sessions removed by the background sweep.",
		}, []string{"kind"}),
	}
	reg.MustRegister(
		m.HTTPRequests,
		m.HTTPDuration,
		m.Redemptions,
		m.ChatRelays,
		m.ChatLatency,
		m.SweptSession,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
