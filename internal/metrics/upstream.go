package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Status label values shared across metric families.
const (
	StatusSuccess = "success"
	StatusFailure = "failure"
)

// UpstreamMetrics holds metrics for upstream connection pools.
type UpstreamMetrics struct {
	// ConnectionsActive tracks currently leased upstream connections.
	ConnectionsActive prometheus.Gauge

	// ConnectionsTotal counts connection leases.
	// Labels: cluster, kind (new, reused)
	ConnectionsTotal *prometheus.CounterVec

	// PoolFailuresTotal counts failed connection requests.
	// Labels: cluster, reason
	PoolFailuresTotal *prometheus.CounterVec
}

// NewUpstreamMetrics creates and registers upstream pool metrics with the
// default registry via promauto.
func NewUpstreamMetrics() *UpstreamMetrics {
	return &UpstreamMetrics{
		ConnectionsActive: promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "ferry",
				Subsystem: "upstream",
				Name:      "connections_active",
				Help:      "Current number of leased upstream connections.",
			},
		),
		ConnectionsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "ferry",
				Subsystem: "upstream",
				Name:      "connections_total",
				Help:      "Total number of upstream connection leases, broken down by cluster and kind.",
			},
			[]string{"cluster", "kind"},
		),
		PoolFailuresTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "ferry",
				Subsystem: "upstream",
				Name:      "pool_failures_total",
				Help:      "Total number of failed upstream connection requests, broken down by cluster and reason.",
			},
			[]string{"cluster", "reason"},
		),
	}
}

// NewUpstreamMetricsWithRegistry creates upstream pool metrics registered
// with a custom registry. Useful for testing.
func NewUpstreamMetricsWithRegistry(reg prometheus.Registerer) *UpstreamMetrics {
	connectionsActive := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "ferry",
			Subsystem: "upstream",
			Name:      "connections_active",
			Help:      "Current number of leased upstream connections.",
		},
	)
	connectionsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ferry",
			Subsystem: "upstream",
			Name:      "connections_total",
			Help:      "Total number of upstream connection leases, broken down by cluster and kind.",
		},
		[]string{"cluster", "kind"},
	)
	poolFailuresTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ferry",
			Subsystem: "upstream",
			Name:      "pool_failures_total",
			Help:      "Total number of failed upstream connection requests, broken down by cluster and reason.",
		},
		[]string{"cluster", "reason"},
	)

	reg.MustRegister(connectionsActive)
	reg.MustRegister(connectionsTotal)
	reg.MustRegister(poolFailuresTotal)

	return &UpstreamMetrics{
		ConnectionsActive: connectionsActive,
		ConnectionsTotal:  connectionsTotal,
		PoolFailuresTotal: poolFailuresTotal,
	}
}

// RecordLease records a connection lease.
func (m *UpstreamMetrics) RecordLease(cluster string, reused bool) {
	if m == nil {
		return
	}
	kind := "new"
	if reused {
		kind = "reused"
	}
	m.ConnectionsActive.Inc()
	m.ConnectionsTotal.WithLabelValues(cluster, kind).Inc()
}

// RecordLeaseEnd records the end of a connection lease.
func (m *UpstreamMetrics) RecordLeaseEnd() {
	if m == nil {
		return
	}
	m.ConnectionsActive.Dec()
}

// RecordPoolFailure records a failed connection request.
func (m *UpstreamMetrics) RecordPoolFailure(cluster, reason string) {
	if m == nil {
		return
	}
	m.PoolFailuresTotal.WithLabelValues(cluster, reason).Inc()
}
