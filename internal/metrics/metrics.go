package metrics

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kanekikun07/shiny-bassoon/internal/usage"
)

// Protocol label values.
const (
	ProtocolHTTP  = "http"
	ProtocolSOCKS = "socks"
)

// Metrics holds the relay's Prometheus collectors. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	activeSessions *prometheus.GaugeVec
	sessions       *prometheus.CounterVec
	bytesSent      *prometheus.CounterVec
	bytesReceived  *prometheus.CounterVec
	authFailures   *prometheus.CounterVec
	tunnelFailures *prometheus.CounterVec
	statusPage     prometheus.Counter
}

// New registers the relay collectors, plus the Go runtime and process
// collectors, on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		activeSessions: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "proxy_relay_active_sessions",
			Help: "Number of client connections currently being served",
		}, []string{"protocol"}),
		sessions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "proxy_relay_sessions_total",
			Help: "Number of sessions that reached the relay phase",
		}, []string{"protocol"}),
		bytesSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "proxy_relay_bytes_sent_total",
			Help: "Total bytes sent from clients to upstreams",
		}, []string{"protocol"}),
		bytesReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "proxy_relay_bytes_received_total",
			Help: "Total bytes sent from upstreams to clients",
		}, []string{"protocol"}),
		authFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "proxy_relay_auth_failures_total",
			Help: "Number of failed authentication attempts",
		}, []string{"protocol", "reason"}),
		tunnelFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "proxy_relay_tunnel_failures_total",
			Help: "Number of upstream tunnels that could not be established",
		}, []string{"protocol", "kind"}),
		statusPage: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "proxy_relay_status_page_requests_total",
			Help: "Number of status page requests served",
		}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.activeSessions,
		m.sessions,
		m.bytesSent,
		m.bytesReceived,
		m.authFailures,
		m.tunnelFailures,
		m.statusPage,
	)

	return m
}

// Registry returns the registry the collectors are registered on.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// SessionStarted marks a client connection as active. The returned func
// marks it finished.
func (m *Metrics) SessionStarted(protocol string) func() {
	if m == nil {
		return func() {}
	}
	g := m.activeSessions.WithLabelValues(protocol)
	g.Inc()
	return g.Dec
}

// AuthFailure counts a rejected authentication attempt.
func (m *Metrics) AuthFailure(protocol, reason string) {
	if m == nil {
		return
	}
	m.authFailures.WithLabelValues(protocol, reason).Inc()
}

// TunnelFailure counts an upstream tunnel failure of the given kind.
func (m *Metrics) TunnelFailure(protocol, kind string) {
	if m == nil {
		return
	}
	m.tunnelFailures.WithLabelValues(protocol, kind).Inc()
}

// StatusPageServed counts a status page request.
func (m *Metrics) StatusPageServed() {
	if m == nil {
		return
	}
	m.statusPage.Inc()
}

// RecordTraffic implements usage.Sink.
func (m *Metrics) RecordTraffic(_ context.Context, ev usage.Event) {
	if m == nil {
		return
	}
	protocol := ProtocolSOCKS
	if ev.Type == usage.TypeHTTP {
		protocol = ProtocolHTTP
	}
	m.sessions.WithLabelValues(protocol).Inc()
	m.bytesSent.WithLabelValues(protocol).Add(float64(ev.BytesSent))
	m.bytesReceived.WithLabelValues(protocol).Add(float64(ev.BytesReceived))
}
