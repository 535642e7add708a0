package main

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/ferry-io/ferry/internal/cluster"
	"github.com/ferry-io/ferry/internal/config"
	"github.com/ferry-io/ferry/internal/logging"
	"github.com/ferry-io/ferry/internal/metrics"
	"github.com/ferry-io/ferry/internal/proxy"
	"github.com/ferry-io/ferry/internal/route"
	"github.com/ferry-io/ferry/internal/thrift"
)

// ProxyOptions carries everything needed to assemble a proxy instance.
type ProxyOptions struct {
	Config    *config.Config
	Logger    *logging.Logger
	ProxyID   string
	Version   string
	GitCommit string
	BuildTime string
}

// Proxy wires configuration into the running pieces: cluster manager, route
// table, metrics endpoint, and the downstream server.
type Proxy struct {
	opts   ProxyOptions
	logger *logging.Logger

	mu      sync.Mutex
	started bool

	clusterManager *cluster.Manager
	server         *proxy.Server
	metricsServer  *metrics.Server
}

// NewProxy builds a proxy from validated configuration.
func NewProxy(opts ProxyOptions) (*Proxy, error) {
	if opts.Config == nil {
		return nil, fmt.Errorf("config is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.DefaultLogger()
	}
	return &Proxy{opts: opts, logger: logger}, nil
}

// Start assembles the components and serves until the listener closes.
func (p *Proxy) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.started {
		p.mu.Unlock()
		return fmt.Errorf("proxy already started")
	}
	p.started = true
	p.mu.Unlock()

	cfg := p.opts.Config

	p.logger.Infof("starting proxy", map[string]any{
		"proxyId":    p.opts.ProxyID,
		"listenAddr": cfg.Listener.ListenAddr,
		"clusters":   len(cfg.Clusters),
		"routes":     len(cfg.Routes),
		"version":    p.opts.Version,
	})

	clusterConfigs, err := buildClusterConfigs(cfg.Clusters)
	if err != nil {
		return err
	}

	connMetrics := metrics.NewConnectionMetrics()
	routerMetrics := metrics.NewRouterMetrics()
	upstreamMetrics := metrics.NewUpstreamMetrics()

	p.clusterManager, err = cluster.NewManager(clusterConfigs, p.logger)
	if err != nil {
		return fmt.Errorf("failed to build clusters: %w", err)
	}
	p.clusterManager.WithMetrics(upstreamMetrics)

	routes, err := route.NewMatcher(buildRouteRules(cfg.Routes))
	if err != nil {
		return fmt.Errorf("failed to build route table: %w", err)
	}

	if cfg.Observability.MetricsAddr != "" {
		p.metricsServer = metrics.NewServer(cfg.Observability.MetricsAddr)
		if err := p.metricsServer.Start(); err != nil {
			return fmt.Errorf("failed to start metrics server: %w", err)
		}
		p.logger.Infof("metrics server started", map[string]any{
			"addr": p.metricsServer.Addr(),
		})
	}

	serverCfg, err := buildServerConfig(cfg.Listener)
	if err != nil {
		return err
	}
	p.server = proxy.New(serverCfg, p.clusterManager, routes, p.logger).
		WithMetrics(connMetrics, routerMetrics)

	return p.server.ListenAndServe()
}

// Serve runs the proxy on an existing listener. Used by tests that need an
// ephemeral port.
func (p *Proxy) Serve(ln net.Listener) error {
	return p.server.Serve(ln)
}

// Addr returns the downstream listener address, or nil before Start.
func (p *Proxy) Addr() net.Addr {
	if p.server == nil {
		return nil
	}
	return p.server.Addr()
}

// Shutdown drains downstream connections and releases resources.
func (p *Proxy) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	if !p.started {
		p.mu.Unlock()
		return nil
	}
	p.mu.Unlock()

	var firstErr error
	if p.server != nil {
		if err := p.server.Shutdown(ctx); err != nil && err != proxy.ErrServerClosed {
			firstErr = err
		}
	}
	if p.metricsServer != nil {
		if err := p.metricsServer.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if p.clusterManager != nil {
		p.clusterManager.Close()
	}
	return firstErr
}

func buildClusterConfigs(configs []config.ClusterConfig) ([]cluster.Config, error) {
	out := make([]cluster.Config, 0, len(configs))
	for _, cc := range configs {
		transport, err := thrift.ParseTransportType(cc.Transport)
		if err != nil {
			return nil, fmt.Errorf("cluster %q: %w", cc.Name, err)
		}
		protocol, err := thrift.ParseProtocolType(cc.Protocol)
		if err != nil {
			return nil, fmt.Errorf("cluster %q: %w", cc.Name, err)
		}
		transforms := make([]thrift.TransformID, 0, len(cc.Transforms))
		for _, tf := range cc.Transforms {
			id, err := thrift.ParseTransform(tf)
			if err != nil {
				return nil, fmt.Errorf("cluster %q: %w", cc.Name, err)
			}
			transforms = append(transforms, id)
		}
		out = append(out, cluster.Config{
			Name:                  cc.Name,
			Addrs:                 cc.Hosts,
			TransportType:         transport,
			ProtocolType:          protocol,
			Transforms:            transforms,
			MaintenanceMode:       cc.MaintenanceMode,
			DialTimeout:           time.Duration(cc.DialTimeoutMs) * time.Millisecond,
			MaxPendingConnections: cc.MaxPendingConnections,
			MaxIdleConnections:    cc.MaxIdleConnections,
		})
	}
	return out, nil
}

func buildRouteRules(configs []config.RouteConfig) []route.Rule {
	rules := make([]route.Rule, 0, len(configs))
	for _, rc := range configs {
		rules = append(rules, route.Rule{
			Method:      rc.Method,
			ServiceName: rc.ServiceName,
			Cluster:     rc.Cluster,
		})
	}
	return rules
}

func buildServerConfig(lc config.ListenerConfig) (proxy.Config, error) {
	transport, err := thrift.ParseTransportType(lc.Transport)
	if err != nil {
		return proxy.Config{}, fmt.Errorf("listener: %w", err)
	}
	protocol, err := thrift.ParseProtocolType(lc.Protocol)
	if err != nil {
		return proxy.Config{}, fmt.Errorf("listener: %w", err)
	}

	cfg := proxy.DefaultConfig()
	cfg.ListenAddr = lc.ListenAddr
	cfg.Transport = transport
	cfg.Protocol = protocol
	cfg.MaxConnections = lc.MaxConnections
	cfg.IdleTimeout = time.Duration(lc.IdleTimeoutMs) * time.Millisecond
	cfg.TLS = proxy.TLSConfig{
		Enabled:  lc.TLS.Enabled,
		CertFile: lc.TLS.CertFile,
		KeyFile:  lc.TLS.KeyFile,
	}
	return cfg, nil
}
