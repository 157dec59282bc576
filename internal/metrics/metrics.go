// Package metrics provides the Prometheus metrics relaymuxd exposes for
// its three acceptor families.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "relaymux"

// Metrics contains all Prometheus metrics for a relaymuxd process.
type Metrics struct {
	ConnectionsActive *prometheus.GaugeVec
	ConnectionsTotal  *prometheus.CounterVec

	HandshakeLatency *prometheus.HistogramVec
	HandshakeErrors  *prometheus.CounterVec

	RouterAttempts *prometheus.CounterVec

	BytesSent     prometheus.Counter
	BytesReceived prometheus.Counter
}

var (
	defaultMetrics *Metrics
	metricsOnce    sync.Once
)

// Default returns the process-wide metrics instance, built against the
// default Prometheus registerer on first use.
func Default() *Metrics {
	metricsOnce.Do(func() {
		defaultMetrics = NewMetrics()
	})
	return defaultMetrics
}

// NewMetrics creates a Metrics instance registered against the default
// Prometheus registerer.
func NewMetrics() *Metrics {
	return NewMetricsWithRegistry(prometheus.DefaultRegisterer)
}

// NewMetricsWithRegistry creates a Metrics instance registered against
// reg, so tests can use a private registry instead of the global one.
func NewMetricsWithRegistry(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		ConnectionsActive: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connections_active",
			Help:      "Number of currently active inbound connections by acceptor kind",
		}, []string{"acceptor"}),
		ConnectionsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connections_total",
			Help:      "Total inbound connections accepted by acceptor kind",
		}, []string{"acceptor"}),
		HandshakeLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "handshake_latency_seconds",
			Help:      "Histogram of handshake duration by acceptor kind",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		}, []string{"acceptor"}),
		HandshakeErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "handshake_errors_total",
			Help:      "Total handshake failures by acceptor kind and error kind",
		}, []string{"acceptor", "kind"}),
		RouterAttempts: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "router_attempts_total",
			Help:      "Total connector attempts by outcome",
		}, []string{"outcome"}),
		BytesSent: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bytes_sent_total",
			Help:      "Total bytes written from upstream connections to inbound connections",
		}),
		BytesReceived: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bytes_received_total",
			Help:      "Total bytes written from inbound connections to upstream connections",
		}),
	}
}

// RecordAccept records a newly accepted connection for the given
// acceptor kind.
func (m *Metrics) RecordAccept(acceptorKind string) {
	m.ConnectionsActive.WithLabelValues(acceptorKind).Inc()
	m.ConnectionsTotal.WithLabelValues(acceptorKind).Inc()
}

// RecordClose records a connection finishing for the given acceptor
// kind.
func (m *Metrics) RecordClose(acceptorKind string) {
	m.ConnectionsActive.WithLabelValues(acceptorKind).Dec()
}

// RecordHandshake records the outcome of a handshake attempt.
func (m *Metrics) RecordHandshake(acceptorKind string, latencySeconds float64, errKind string) {
	m.HandshakeLatency.WithLabelValues(acceptorKind).Observe(latencySeconds)
	if errKind != "" {
		m.HandshakeErrors.WithLabelValues(acceptorKind, errKind).Inc()
	}
}

// RecordRouterAttempt records whether a Router ultimately found an
// upstream or exhausted every candidate.
func (m *Metrics) RecordRouterAttempt(outcome string) {
	m.RouterAttempts.WithLabelValues(outcome).Inc()
}

// RecordBytes adds sent (upstream -> inbound) and received (inbound ->
// upstream) byte counts observed over one finished connection.
func (m *Metrics) RecordBytes(sent, received int64) {
	if sent > 0 {
		m.BytesSent.Add(float64(sent))
	}
	if received > 0 {
		m.BytesReceived.Add(float64(received))
	}
}
