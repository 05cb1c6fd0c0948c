// ABOUTME: Prometheus counters and gauges for gateway observability.
// ABOUTME: Exposed at the configured metrics path when metrics are enabled.

package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics bundles the gateway's instruments on a private registry so tests
// can create independent instances.
type Metrics struct {
	registry *prometheus.Registry

	ConnectedClients prometheus.Gauge
	RegisteredNodes  prometheus.Gauge
	QueueDepth       prometheus.Gauge
	MessagesTotal    *prometheus.CounterVec
	AgentRequests    *prometheus.CounterVec
}

// New creates the gateway's metric set.
func New() *Metrics {
	m := &Metrics{registry: prometheus.NewRegistry()}

	m.ConnectedClients = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "hive_gateway",
		Name:      "connected_clients",
		Help:      "Number of currently connected clients.",
	})
	m.RegisteredNodes = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "hive_gateway",
		Name:      "registered_nodes",
		Help:      "Number of currently registered nodes.",
	})
	m.QueueDepth = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "hive_gateway",
		Name:      "scheduler_queue_depth",
		Help:      "Total queued agent requests across all queue keys.",
	})
	m.MessagesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "hive_gateway",
		Name:      "messages_total",
		Help:      "Inbound envelopes processed, by message type.",
	}, []string{"type"})
	m.AgentRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "hive_gateway",
		Name:      "agent_requests_total",
		Help:      "Agent requests by outcome (completed, failed, cancelled, queued, refused).",
	}, []string{"outcome"})

	m.registry.MustRegister(
		m.ConnectedClients,
		m.RegisteredNodes,
		m.QueueDepth,
		m.MessagesTotal,
		m.AgentRequests,
	)
	return m
}

// Handler returns the HTTP handler serving the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
