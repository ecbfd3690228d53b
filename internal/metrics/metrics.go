// Package metrics exposes operational counters over a private Prometheus
// registry, served at /metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	registry *prometheus.Registry

	MessagesSent      prometheus.Counter
	SendFailures      prometheus.Counter
	SearchQueries     prometheus.Counter
	LiveSubscriptions prometheus.Gauge
}

func New() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		MessagesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "counselhub_messages_sent_total",
			Help: "Messages accepted by the send endpoint.",
		}),
		SendFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "counselhub_send_failures_total",
			Help: "Message sends that failed at the store.",
		}),
		SearchQueries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "counselhub_search_queries_total",
			Help: "Message search queries served.",
		}),
		LiveSubscriptions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "counselhub_live_subscriptions",
			Help: "Currently open WebSocket subscriptions.",
		}),
	}
	registry.MustRegister(m.MessagesSent, m.SendFailures, m.SearchQueries, m.LiveSubscriptions)
	return m
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
