// Package config provides configuration loading and validation for Ferry.
// Supports YAML files with environment variable overrides.
package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"

	"github.com/ferry-io/ferry/internal/thrift"
)

// Config holds all configuration for a Ferry proxy.
type Config struct {
	Listener      ListenerConfig      `yaml:"listener"`
	Clusters      []ClusterConfig     `yaml:"clusters"`
	Routes        []RouteConfig       `yaml:"routes"`
	Observability ObservabilityConfig `yaml:"observability"`
}

type ListenerConfig struct {
	ListenAddr string `yaml:"listenAddr" env:"FERRY_LISTEN_ADDR"`

	// Transport and Protocol pin the downstream codec. "auto" detects per
	// connection from the first frame.
	Transport string `yaml:"transport" env:"FERRY_DOWNSTREAM_TRANSPORT"`
	Protocol  string `yaml:"protocol" env:"FERRY_DOWNSTREAM_PROTOCOL"`

	// MaxConnections caps accepted downstream connections. Zero means
	// unlimited.
	MaxConnections int `yaml:"maxConnections" env:"FERRY_MAX_CONNECTIONS"`

	// IdleTimeoutMs closes downstream connections idle between requests.
	// Zero disables the timeout.
	IdleTimeoutMs int64 `yaml:"idleTimeoutMs" env:"FERRY_IDLE_TIMEOUT_MS"`

	TLS TLSConfig `yaml:"tls"`
}

type TLSConfig struct {
	Enabled  bool   `yaml:"enabled" env:"FERRY_TLS_ENABLED"`
	CertFile string `yaml:"certFile" env:"FERRY_TLS_CERT_FILE"`
	KeyFile  string `yaml:"keyFile" env:"FERRY_TLS_KEY_FILE"`
}

type ClusterConfig struct {
	Name  string   `yaml:"name"`
	Hosts []string `yaml:"hosts"`

	Transport string `yaml:"transport"`
	Protocol  string `yaml:"protocol"`

	// Transforms are THeader payload transforms (zlib, snappy, lz4, zstd)
	// applied in order when Transport is "header".
	Transforms []string `yaml:"transforms"`

	MaintenanceMode bool `yaml:"maintenanceMode"`

	DialTimeoutMs         int64 `yaml:"dialTimeoutMs"`
	MaxPendingConnections int   `yaml:"maxPendingConnections"`
	MaxIdleConnections    int   `yaml:"maxIdleConnections"`
}

type RouteConfig struct {
	// Method matches the method name exactly. Empty matches everything
	// unless ServiceName is set.
	Method string `yaml:"method"`

	// ServiceName matches "Service:method" style method names by service.
	ServiceName string `yaml:"serviceName"`

	Cluster string `yaml:"cluster"`
}

type ObservabilityConfig struct {
	MetricsAddr string `yaml:"metricsAddr" env:"FERRY_METRICS_ADDR"`
	LogLevel    string `yaml:"logLevel" env:"FERRY_LOG_LEVEL"`
	LogFormat   string `yaml:"logFormat" env:"FERRY_LOG_FORMAT"`
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Listener: ListenerConfig{
			ListenAddr: ":9190",
			Transport:  "auto",
			Protocol:   "auto",
		},
		Observability: ObservabilityConfig{
			MetricsAddr: ":9090",
			LogLevel:    "info",
			LogFormat:   "json",
		},
	}
}

// Load returns the default configuration with environment overrides applied.
func Load() (*Config, error) {
	cfg := Default()
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFromPath loads configuration from a YAML file, applies environment
// overrides, and validates the result.
func LoadFromPath(path string) (*Config, error) {
	cfg, err := loadFromPathNoValidate(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadFromPathNoValidate(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	cfg.applyEnv()
	return cfg, nil
}

// applyEnv overrides configuration from FERRY_* environment variables.
func (c *Config) applyEnv() {
	envString(&c.Listener.ListenAddr, "FERRY_LISTEN_ADDR")
	envString(&c.Listener.Transport, "FERRY_DOWNSTREAM_TRANSPORT")
	envString(&c.Listener.Protocol, "FERRY_DOWNSTREAM_PROTOCOL")
	envInt(&c.Listener.MaxConnections, "FERRY_MAX_CONNECTIONS")
	envInt64(&c.Listener.IdleTimeoutMs, "FERRY_IDLE_TIMEOUT_MS")
	envBool(&c.Listener.TLS.Enabled, "FERRY_TLS_ENABLED")
	envString(&c.Listener.TLS.CertFile, "FERRY_TLS_CERT_FILE")
	envString(&c.Listener.TLS.KeyFile, "FERRY_TLS_KEY_FILE")
	envString(&c.Observability.MetricsAddr, "FERRY_METRICS_ADDR")
	envString(&c.Observability.LogLevel, "FERRY_LOG_LEVEL")
	envString(&c.Observability.LogFormat, "FERRY_LOG_FORMAT")
}

func envString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func envInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func envBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func envInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

// Validate checks the configuration for errors a running proxy could not
// recover from.
func (c *Config) Validate() error {
	if c.Listener.ListenAddr == "" {
		return fmt.Errorf("listener.listenAddr is required")
	}
	if _, err := thrift.ParseTransportType(c.Listener.Transport); err != nil {
		return fmt.Errorf("listener: %w", err)
	}
	if _, err := thrift.ParseProtocolType(c.Listener.Protocol); err != nil {
		return fmt.Errorf("listener: %w", err)
	}
	if c.Listener.TLS.Enabled && (c.Listener.TLS.CertFile == "" || c.Listener.TLS.KeyFile == "") {
		return fmt.Errorf("listener.tls: certFile and keyFile are required when TLS is enabled")
	}

	names := make(map[string]bool, len(c.Clusters))
	for i, cl := range c.Clusters {
		if cl.Name == "" {
			return fmt.Errorf("clusters[%d]: name is required", i)
		}
		if names[cl.Name] {
			return fmt.Errorf("clusters[%d]: duplicate cluster %q", i, cl.Name)
		}
		names[cl.Name] = true

		transport, err := thrift.ParseTransportType(cl.Transport)
		if err != nil {
			return fmt.Errorf("cluster %q: %w", cl.Name, err)
		}
		if _, err := thrift.ParseProtocolType(cl.Protocol); err != nil {
			return fmt.Errorf("cluster %q: %w", cl.Name, err)
		}
		if len(cl.Transforms) > 0 && transport != thrift.TransportHeader {
			return fmt.Errorf("cluster %q: transforms require the header transport", cl.Name)
		}
		for _, tf := range cl.Transforms {
			if _, err := thrift.ParseTransform(tf); err != nil {
				return fmt.Errorf("cluster %q: %w", cl.Name, err)
			}
		}
	}

	for i, r := range c.Routes {
		if r.Cluster == "" {
			return fmt.Errorf("routes[%d]: cluster is required", i)
		}
		if !names[r.Cluster] {
			return fmt.Errorf("routes[%d]: unknown cluster %q", i, r.Cluster)
		}
		if r.Method != "" && r.ServiceName != "" {
			return fmt.Errorf("routes[%d]: method and serviceName are mutually exclusive", i)
		}
	}
	return nil
}
