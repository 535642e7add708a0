// Package cluster manages upstream clusters: named groups of hosts sharing a
// codec configuration and a connection pool. The manager is the router's
// source for cluster lookup and connection acquisition.
package cluster

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/ferry-io/ferry/internal/logging"
	"github.com/ferry-io/ferry/internal/metrics"
	"github.com/ferry-io/ferry/internal/pool"
	"github.com/ferry-io/ferry/internal/router"
	"github.com/ferry-io/ferry/internal/thrift"
)

// Config describes one upstream cluster.
type Config struct {
	// Name is the cluster name routes refer to.
	Name string

	// Addrs are the upstream host:port addresses.
	Addrs []string

	// TransportType selects the upstream framing. Auto uses the downstream
	// transport.
	TransportType thrift.TransportType

	// ProtocolType selects the upstream serialization. Auto uses the
	// downstream protocol.
	ProtocolType thrift.ProtocolType

	// Transforms are payload transforms applied when TransportType is the
	// header transport.
	Transforms []thrift.TransformID

	// MaintenanceMode rejects all requests to this cluster at startup. It
	// can be toggled at runtime.
	MaintenanceMode bool

	// DialTimeout bounds upstream connection attempts.
	DialTimeout time.Duration

	// MaxPendingConnections caps concurrent connection attempts.
	MaxPendingConnections int

	// MaxIdleConnections caps idle pooled connections.
	MaxIdleConnections int
}

// Cluster is one configured upstream cluster with its connection pool.
type Cluster struct {
	name          string
	addrs         []string
	transportType thrift.TransportType
	protocolType  thrift.ProtocolType
	transforms    []thrift.TransformID
	maintenance   atomic.Bool
	pool          *pool.TCPPool
}

func (c *Cluster) Name() string                        { return c.name }
func (c *Cluster) TransportType() thrift.TransportType { return c.transportType }
func (c *Cluster) ProtocolType() thrift.ProtocolType   { return c.protocolType }
func (c *Cluster) Transforms() []thrift.TransformID    { return c.transforms }

// MaintenanceMode reports whether the cluster rejects requests.
func (c *Cluster) MaintenanceMode() bool { return c.maintenance.Load() }

// SetMaintenanceMode toggles request rejection for this cluster.
func (c *Cluster) SetMaintenanceMode(on bool) { c.maintenance.Store(on) }

// Manager owns all configured clusters and their pools. It implements
// router.ClusterManager.
type Manager struct {
	logger   *logging.Logger
	metrics  *metrics.UpstreamMetrics
	clusters map[string]*Cluster
}

// NewManager builds clusters and pools from configuration.
func NewManager(configs []Config, logger *logging.Logger) (*Manager, error) {
	if logger == nil {
		logger = logging.DefaultLogger()
	}
	m := &Manager{
		logger:   logger,
		clusters: make(map[string]*Cluster, len(configs)),
	}
	for _, cfg := range configs {
		if cfg.Name == "" {
			return nil, fmt.Errorf("cluster name is required")
		}
		if _, exists := m.clusters[cfg.Name]; exists {
			return nil, fmt.Errorf("duplicate cluster %q", cfg.Name)
		}
		c := &Cluster{
			name:          cfg.Name,
			addrs:         cfg.Addrs,
			transportType: cfg.TransportType,
			protocolType:  cfg.ProtocolType,
			transforms:    cfg.Transforms,
		}
		c.maintenance.Store(cfg.MaintenanceMode)
		if len(cfg.Addrs) > 0 {
			c.pool = pool.New(pool.Config{
				ClusterName: cfg.Name,
				Addrs:       cfg.Addrs,
				DialTimeout: cfg.DialTimeout,
				MaxPending:  cfg.MaxPendingConnections,
				MaxIdle:     cfg.MaxIdleConnections,
			}, logger)
		}
		m.clusters[cfg.Name] = c
		logger.Infof("cluster configured", map[string]any{
			"cluster":   cfg.Name,
			"hosts":     len(cfg.Addrs),
			"transport": cfg.TransportType.String(),
			"protocol":  cfg.ProtocolType.String(),
		})
	}
	return m, nil
}

// WithMetrics sets the upstream metrics, propagated to every cluster pool.
// Returns the manager for method chaining.
func (m *Manager) WithMetrics(um *metrics.UpstreamMetrics) *Manager {
	m.metrics = um
	for _, c := range m.clusters {
		if c.pool != nil {
			c.pool.WithMetrics(um)
		}
	}
	return m
}

// Get returns the named cluster, or nil if unknown.
func (m *Manager) Get(name string) router.ClusterInfo {
	c, ok := m.clusters[name]
	if !ok {
		return nil
	}
	return c
}

// Cluster returns the named cluster as its concrete type, or nil. Used by
// the admin surface to toggle maintenance mode.
func (m *Manager) Cluster(name string) *Cluster {
	return m.clusters[name]
}

// ConnPool returns the connection pool for the named cluster, or nil when
// the cluster is unknown or has no hosts.
func (m *Manager) ConnPool(name string) pool.ConnPool {
	c, ok := m.clusters[name]
	if !ok || c.pool == nil {
		return nil
	}
	return c.pool
}

// Close shuts down every cluster pool.
func (m *Manager) Close() {
	for _, c := range m.clusters {
		if c.pool != nil {
			c.pool.Close()
		}
	}
}
