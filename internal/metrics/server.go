package metrics

import (
	"context"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Server exposes /metrics for Prometheus scrapes and /healthz for liveness
// probes on a dedicated listener, separate from the proxy's data port.
type Server struct {
	addr      string
	gatherer  prometheus.Gatherer
	boundAddr atomic.Pointer[string]
	httpSrv   *http.Server
}

// NewServer returns a metrics server on addr backed by the default registry.
func NewServer(addr string) *Server {
	return NewServerWithRegistry(addr, prometheus.DefaultGatherer)
}

// NewServerWithRegistry returns a metrics server backed by a custom registry.
// Tests use this to avoid default-registry collisions.
func NewServerWithRegistry(addr string, gatherer prometheus.Gatherer) *Server {
	return &Server{addr: addr, gatherer: gatherer}
}

// Start binds the listener and serves in the background. Serve errors after a
// successful bind are dropped; metrics are best-effort.
func (s *Server) Start() error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})

	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	bound := ln.Addr().String()
	s.boundAddr.Store(&bound)

	s.httpSrv = &http.Server{
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	go func() { _ = s.httpSrv.Serve(ln) }()
	return nil
}

// Addr returns the bound address once Start succeeds, the configured address
// before that.
func (s *Server) Addr() string {
	if bound := s.boundAddr.Load(); bound != nil {
		return *bound
	}
	return s.addr
}

// Close shuts the metrics server down, allowing in-flight scrapes to finish.
func (s *Server) Close() error {
	if s.httpSrv == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.httpSrv.Shutdown(ctx)
}
