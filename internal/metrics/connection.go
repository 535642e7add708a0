package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ConnectionMetrics holds metrics for downstream TCP connections.
type ConnectionMetrics struct {
	// ActiveConnections tracks the current number of downstream connections.
	ActiveConnections prometheus.Gauge

	// ConnectionsTotal counts accepted downstream connections.
	ConnectionsTotal prometheus.Counter

	// DecodeErrorsTotal counts downstream messages dropped due to decode
	// failures, broken down by error kind.
	DecodeErrorsTotal *prometheus.CounterVec
}

// NewConnectionMetrics creates and registers connection metrics.
// Uses promauto for automatic registration with the default registry.
func NewConnectionMetrics() *ConnectionMetrics {
	return &ConnectionMetrics{
		ActiveConnections: promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "ferry",
				Subsystem: "downstream",
				Name:      "active_connections",
				Help:      "Current number of active downstream TCP connections.",
			},
		),
		ConnectionsTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: "ferry",
				Subsystem: "downstream",
				Name:      "connections_total",
				Help:      "Total number of accepted downstream TCP connections.",
			},
		),
		DecodeErrorsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "ferry",
				Subsystem: "downstream",
				Name:      "decode_errors_total",
				Help:      "Total number of downstream decode failures, broken down by kind.",
			},
			[]string{"kind"},
		),
	}
}

// NewConnectionMetricsWithRegistry creates connection metrics registered with
// a custom registry. Useful for testing to avoid conflicts with the default
// registry.
func NewConnectionMetricsWithRegistry(reg prometheus.Registerer) *ConnectionMetrics {
	activeConnections := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "ferry",
			Subsystem: "downstream",
			Name:      "active_connections",
			Help:      "Current number of active downstream TCP connections.",
		},
	)
	connectionsTotal := prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "ferry",
			Subsystem: "downstream",
			Name:      "connections_total",
			Help:      "Total number of accepted downstream TCP connections.",
		},
	)
	decodeErrorsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ferry",
			Subsystem: "downstream",
			Name:      "decode_errors_total",
			Help:      "Total number of downstream decode failures, broken down by kind.",
		},
		[]string{"kind"},
	)

	reg.MustRegister(activeConnections)
	reg.MustRegister(connectionsTotal)
	reg.MustRegister(decodeErrorsTotal)

	return &ConnectionMetrics{
		ActiveConnections: activeConnections,
		ConnectionsTotal:  connectionsTotal,
		DecodeErrorsTotal: decodeErrorsTotal,
	}
}

// ConnectionOpened increments the connection counters.
func (m *ConnectionMetrics) ConnectionOpened() {
	if m == nil {
		return
	}
	m.ActiveConnections.Inc()
	m.ConnectionsTotal.Inc()
}

// ConnectionClosed decrements the active connections gauge.
func (m *ConnectionMetrics) ConnectionClosed() {
	if m == nil {
		return
	}
	m.ActiveConnections.Dec()
}

// RecordDecodeError records a downstream decode failure.
func (m *ConnectionMetrics) RecordDecodeError(kind string) {
	if m == nil {
		return
	}
	m.DecodeErrorsTotal.WithLabelValues(kind).Inc()
}
