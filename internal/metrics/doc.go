// Package metrics provides Prometheus metrics for observability.
//
// This package exposes metrics for the proxy's main concerns:
//   - Downstream connection counts and decode failures
//   - Routed request counters by cluster and call type
//   - Locally generated exception replies by fault
//   - Upstream connection pool activity and failures by reason
//
// Metrics are exposed via a dedicated HTTP server on /metrics in Prometheus
// format; the same server answers /healthz for liveness probes.
//
// Usage:
//
//	// Create and register metrics
//	routerMetrics := metrics.NewRouterMetrics()
//	upstreamMetrics := metrics.NewUpstreamMetrics()
//	connMetrics := metrics.NewConnectionMetrics()
//
//	// Wire into components
//	srv := proxy.New(cfg, mgr, routes, logger).WithMetrics(connMetrics, routerMetrics)
//
//	// Start metrics server
//	metricsServer := metrics.NewServer(":9090")
//	metricsServer.Start()
package metrics
