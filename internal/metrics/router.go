package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// RouterMetrics holds metrics for the request router: per-cluster request
// counts, local replies by fault, and downstream resets.
type RouterMetrics struct {
	// RequestsTotal counts routed requests.
	// Labels: cluster, type (call, oneway)
	RequestsTotal *prometheus.CounterVec

	// ResponsesTotal counts completed upstream responses.
	// Labels: cluster, status (success, error)
	ResponsesTotal *prometheus.CounterVec

	// LocalRepliesTotal counts locally generated exception replies.
	// Labels: fault (no_route, unknown_cluster, maintenance_mode,
	// no_healthy_upstream, connection_failure, too_many_connections,
	// truncated_response)
	LocalRepliesTotal *prometheus.CounterVec

	// DownstreamResetsTotal counts downstream connection resets issued when
	// no reply channel existed.
	DownstreamResetsTotal prometheus.Counter
}

// NewRouterMetrics creates and registers router metrics with the default
// registry via promauto.
func NewRouterMetrics() *RouterMetrics {
	return &RouterMetrics{
		RequestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "ferry",
				Subsystem: "router",
				Name:      "requests_total",
				Help:      "Total number of routed requests, broken down by cluster and call type.",
			},
			[]string{"cluster", "type"},
		),
		ResponsesTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "ferry",
				Subsystem: "router",
				Name:      "responses_total",
				Help:      "Total number of completed upstream responses, broken down by cluster and status.",
			},
			[]string{"cluster", "status"},
		),
		LocalRepliesTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "ferry",
				Subsystem: "router",
				Name:      "local_replies_total",
				Help:      "Total number of locally generated exception replies, broken down by fault.",
			},
			[]string{"fault"},
		),
		DownstreamResetsTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: "ferry",
				Subsystem: "router",
				Name:      "downstream_resets_total",
				Help:      "Total number of downstream connection resets issued for unanswerable faults.",
			},
		),
	}
}

// NewRouterMetricsWithRegistry creates router metrics registered with a
// custom registry. Useful for testing to avoid conflicts with the default
// registry.
func NewRouterMetricsWithRegistry(reg prometheus.Registerer) *RouterMetrics {
	requestsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ferry",
			Subsystem: "router",
			Name:      "requests_total",
			Help:      "Total number of routed requests, broken down by cluster and call type.",
		},
		[]string{"cluster", "type"},
	)
	responsesTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ferry",
			Subsystem: "router",
			Name:      "responses_total",
			Help:      "Total number of completed upstream responses, broken down by cluster and status.",
		},
		[]string{"cluster", "status"},
	)
	localRepliesTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ferry",
			Subsystem: "router",
			Name:      "local_replies_total",
			Help:      "Total number of locally generated exception replies, broken down by fault.",
		},
		[]string{"fault"},
	)
	downstreamResetsTotal := prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "ferry",
			Subsystem: "router",
			Name:      "downstream_resets_total",
			Help:      "Total number of downstream connection resets issued for unanswerable faults.",
		},
	)

	reg.MustRegister(requestsTotal)
	reg.MustRegister(responsesTotal)
	reg.MustRegister(localRepliesTotal)
	reg.MustRegister(downstreamResetsTotal)

	return &RouterMetrics{
		RequestsTotal:         requestsTotal,
		ResponsesTotal:        responsesTotal,
		LocalRepliesTotal:     localRepliesTotal,
		DownstreamResetsTotal: downstreamResetsTotal,
	}
}

// RecordRequest records a routed request by cluster and call type.
func (m *RouterMetrics) RecordRequest(cluster, callType string) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(cluster, callType).Inc()
}

// RecordResponse records a completed upstream response.
func (m *RouterMetrics) RecordResponse(cluster string, success bool) {
	if m == nil {
		return
	}
	status := StatusFailure
	if success {
		status = StatusSuccess
	}
	m.ResponsesTotal.WithLabelValues(cluster, status).Inc()
}

// RecordLocalReply records a locally generated exception reply by fault name.
func (m *RouterMetrics) RecordLocalReply(fault string) {
	if m == nil {
		return
	}
	m.LocalRepliesTotal.WithLabelValues(fault).Inc()
}

// RecordDownstreamReset records a downstream connection reset.
func (m *RouterMetrics) RecordDownstreamReset() {
	if m == nil {
		return
	}
	m.DownstreamResetsTotal.Inc()
}
