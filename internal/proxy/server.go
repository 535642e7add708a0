// Package proxy implements the downstream TCP server: it accepts Thrift
// client connections, decodes their messages, and drives one router per
// connection to forward them upstream.
package proxy

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ferry-io/ferry/internal/logging"
	"github.com/ferry-io/ferry/internal/metrics"
	"github.com/ferry-io/ferry/internal/route"
	"github.com/ferry-io/ferry/internal/router"
	"github.com/ferry-io/ferry/internal/thrift"
	"github.com/google/uuid"
)

// ErrServerClosed is returned when operations are attempted on a closed server.
var ErrServerClosed = errors.New("server closed")

// Config holds the downstream listener configuration.
type Config struct {
	ListenAddr string

	// Transport and Protocol pin the downstream codec. Auto detects per
	// connection from the first bytes.
	Transport thrift.TransportType
	Protocol  thrift.ProtocolType

	// MaxConnections caps accepted downstream connections. Zero means
	// unlimited.
	MaxConnections int

	// IdleTimeout closes downstream connections idle between requests.
	// Zero disables the timeout.
	IdleTimeout time.Duration

	// WriteTimeout bounds each downstream write.
	WriteTimeout time.Duration

	TLS TLSConfig
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		ListenAddr:   ":9190",
		WriteTimeout: 30 * time.Second,
	}
}

// Server accepts downstream Thrift connections and serves each with a
// dedicated connection handler and router.
type Server struct {
	cfg            Config
	clusterManager router.ClusterManager
	routes         route.Matcher
	logger         *logging.Logger

	connMetrics   *metrics.ConnectionMetrics
	routerMetrics *metrics.RouterMetrics

	mu           sync.Mutex
	listener     net.Listener
	conns        map[net.Conn]struct{}
	stopping     atomic.Bool
	closed       atomic.Bool
	connWg       sync.WaitGroup
	connID       atomic.Int64
	certReloader *CertReloader
}

// New creates a Server routing to the given cluster manager via the given
// route table.
func New(cfg Config, clusterManager router.ClusterManager, routes route.Matcher, logger *logging.Logger) *Server {
	if logger == nil {
		logger = logging.DefaultLogger()
	}
	return &Server{
		cfg:            cfg,
		clusterManager: clusterManager,
		routes:         routes,
		logger:         logger,
		conns:          make(map[net.Conn]struct{}),
	}
}

// WithMetrics sets the connection and router metrics.
// Returns the server for method chaining.
func (s *Server) WithMetrics(cm *metrics.ConnectionMetrics, rm *metrics.RouterMetrics) *Server {
	s.connMetrics = cm
	s.routerMetrics = rm
	return s
}

// ListenAndServe starts the server on the configured address. If TLS is
// enabled, the listener terminates TLS with certificate hot reload.
func (s *Server) ListenAndServe() error {
	if s.cfg.TLS.Enabled {
		ln, reloader, err := NewTLSListener(s.cfg.ListenAddr, s.cfg.TLS, s.logger)
		if err != nil {
			return fmt.Errorf("failed to create TLS listener: %w", err)
		}
		s.certReloader = reloader
		s.certReloader.StartWatcher(30 * time.Second)
		return s.Serve(ln)
	}

	ln, err := net.Listen("tcp", s.cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.cfg.ListenAddr, err)
	}
	return s.Serve(ln)
}

// Serve accepts connections on the given listener.
func (s *Server) Serve(ln net.Listener) error {
	s.mu.Lock()
	if s.closed.Load() {
		s.mu.Unlock()
		ln.Close()
		return ErrServerClosed
	}
	s.listener = ln
	s.mu.Unlock()

	s.logger.Infof("proxy listening", map[string]any{"addr": ln.Addr().String()})

	for {
		conn, err := ln.Accept()
		if err != nil {
			if s.stopping.Load() || s.closed.Load() {
				return ErrServerClosed
			}
			if ne, ok := err.(net.Error); ok && ne.Temporary() {
				s.logger.Warnf("temporary accept error", map[string]any{"error": err.Error()})
				time.Sleep(5 * time.Millisecond)
				continue
			}
			return fmt.Errorf("accept error: %w", err)
		}

		if s.cfg.MaxConnections > 0 && s.activeConns() >= s.cfg.MaxConnections {
			s.logger.Warnf("connection limit reached", map[string]any{
				"limit":      s.cfg.MaxConnections,
				"remoteAddr": conn.RemoteAddr().String(),
			})
			conn.Close()
			continue
		}

		s.connWg.Add(1)
		go s.handleConn(conn)
	}
}

func (s *Server) activeConns() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

// Addr returns the listener's address, or nil if not listening.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Close shuts down the server immediately, closing all connections.
func (s *Server) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return ErrServerClosed
	}
	s.stopping.Store(true)

	s.mu.Lock()
	if s.listener != nil {
		s.listener.Close()
	}
	for conn := range s.conns {
		conn.Close()
	}
	s.mu.Unlock()

	if s.certReloader != nil {
		s.certReloader.Stop()
	}

	s.connWg.Wait()
	return nil
}

// StopAccepting stops accepting new connections. Existing connections keep
// being served.
func (s *Server) StopAccepting() error {
	if s.closed.Load() {
		return ErrServerClosed
	}
	if !s.stopping.CompareAndSwap(false, true) {
		return nil
	}

	s.mu.Lock()
	if s.listener != nil {
		s.listener.Close()
	}
	s.mu.Unlock()
	return nil
}

// Drain waits for connections to finish their current requests, then closes
// them.
func (s *Server) Drain(ctx context.Context) error {
	if s.closed.Load() {
		return ErrServerClosed
	}

	done := make(chan struct{})
	go func() {
		s.connWg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
	}

	s.mu.Lock()
	for conn := range s.conns {
		conn.Close()
	}
	s.mu.Unlock()

	if s.certReloader != nil {
		s.certReloader.Stop()
	}

	s.connWg.Wait()
	s.closed.Store(true)
	return ctx.Err()
}

// Shutdown stops accepting new connections and drains existing ones.
func (s *Server) Shutdown(ctx context.Context) error {
	if err := s.StopAccepting(); err != nil {
		return err
	}
	return s.Drain(ctx)
}

// ReloadCertificate manually triggers a certificate reload.
func (s *Server) ReloadCertificate() error {
	if s.certReloader == nil {
		return errors.New("TLS is not enabled")
	}
	return s.certReloader.Reload()
}

func (s *Server) handleConn(conn net.Conn) {
	defer s.connWg.Done()
	defer conn.Close()

	s.mu.Lock()
	s.conns[conn] = struct{}{}
	s.mu.Unlock()

	s.connMetrics.ConnectionOpened()

	defer func() {
		s.mu.Lock()
		delete(s.conns, conn)
		s.mu.Unlock()
		s.connMetrics.ConnectionClosed()
	}()

	logger := s.logger.WithCorrelationID(uuid.New().String()).With(map[string]any{
		"connId":     s.connID.Add(1),
		"remoteAddr": conn.RemoteAddr().String(),
	})
	logger.Debug("connection accepted")

	h := newConnHandler(s, conn, logger)
	h.run()

	logger.Debug("connection closed")
}
