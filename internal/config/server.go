// Package config loads and validates the rendezvous server's YAML
// configuration.
package config

import (
	"errors"
	"fmt"
	"net"
	"os"

	"gopkg.in/yaml.v3"

	"reversetunnel/internal/logging"
)

// QUIC holds the server-side transport bind settings.
type QUIC struct {
	Bind    string `yaml:"bind"`
	CertPEM string `yaml:"cert_pem"`
	KeyPEM  string `yaml:"key_pem"`
}

// PortPool holds the public TCP port range, [5001, 5999] by default.
type PortPool struct {
	Low  int `yaml:"low"`
	High int `yaml:"high"`
}

// Chain holds the default hash-chain length for newly created nodes.
type Chain struct {
	Length int `yaml:"length"`
}

// Routing is one preloaded host+path rule plus the global default
// backend, read straight into a routing.RoutingTable at startup.
type Routing struct {
	DefaultBackend string       `yaml:"default_backend"`
	Rules          []RoutingRow `yaml:"rules"`
}

// RoutingRow is one (host, path_prefix, backend) row of the YAML
// routing table.
type RoutingRow struct {
	Host       string `yaml:"host"`
	PathPrefix string `yaml:"path_prefix"`
	Backend    string `yaml:"backend"`
}

// Telemetry controls the optional otel tracer provider, off by
// default.
type Telemetry struct {
	Enabled    bool   `yaml:"enabled"`
	Exporter   string `yaml:"exporter"` // "stdout" is the only wired exporter
	SampleRate string `yaml:"sample_rate"`
}

// BootstrapNode provisions one node record at startup. An admin
// interface would normally do this interactively; listing nodes in
// config keeps the server runnable standalone.
type BootstrapNode struct {
	NodeID      string `yaml:"node_id"`
	ChainLength int    `yaml:"chain_length"`
}

// Server is the top-level server configuration document.
type Server struct {
	QUIC      QUIC            `yaml:"quic"`
	PortPool  PortPool        `yaml:"port_pool"`
	Chain     Chain           `yaml:"chain"`
	Routing   Routing         `yaml:"routing"`
	Logger    logging.Config  `yaml:"logger"`
	Telemetry Telemetry       `yaml:"telemetry"`
	Bootstrap []BootstrapNode `yaml:"bootstrap"`
}

var (
	// ErrMissingQUICBind is returned by ValidateConfig when quic.bind
	// is empty.
	ErrMissingQUICBind = errors.New("config: quic.bind is required")
	// ErrMissingCerts is returned when either TLS file path is empty.
	ErrMissingCerts = errors.New("config: quic.cert_pem and quic.key_pem are required")
	// ErrInvalidPortRange is returned when the port pool range is
	// empty or inverted.
	ErrInvalidPortRange = errors.New("config: port_pool.low must be <= port_pool.high")
)

// LoadConfig reads and parses a YAML server config from path.
func LoadConfig(path string) (*Server, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %q: %w", path, err)
	}
	var cfg Server
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	cfg.applyDefaults()
	return &cfg, nil
}

func (c *Server) applyDefaults() {
	if c.QUIC.Bind == "" {
		// ${TUNNEL_IP:-0.0.0.0}:${TUNNEL_PORT:-5000} when the config
		// file leaves the bind unset.
		host := os.Getenv("TUNNEL_IP")
		if host == "" {
			host = "0.0.0.0"
		}
		port := os.Getenv("TUNNEL_PORT")
		if port == "" {
			port = "5000"
		}
		c.QUIC.Bind = net.JoinHostPort(host, port)
	}
	if c.PortPool.Low == 0 && c.PortPool.High == 0 {
		c.PortPool.Low, c.PortPool.High = 5001, 5999
	}
	if c.Chain.Length <= 0 {
		c.Chain.Length = 100
	}
	if c.Logger.Level == "" {
		c.Logger.Level = "info"
	}
	if c.Logger.Encoding == "" {
		c.Logger.Encoding = "json"
	}
}

// ValidateConfig checks the loaded config for the constraints this
// module actually depends on at startup.
func (c *Server) ValidateConfig() error {
	if c.QUIC.Bind == "" {
		return ErrMissingQUICBind
	}
	if c.QUIC.CertPEM == "" || c.QUIC.KeyPEM == "" {
		return ErrMissingCerts
	}
	if c.PortPool.Low <= 0 || c.PortPool.High <= 0 || c.PortPool.Low > c.PortPool.High {
		return ErrInvalidPortRange
	}
	return nil
}

// LogConfig emits one structured line summarizing the loaded
// sections, intended to run immediately after validation.
func (c *Server) LogConfig(lgr logging.Logger) {
	lgr.Info("server config loaded",
		logging.F("quic_bind", c.QUIC.Bind),
		logging.F("port_pool_low", c.PortPool.Low),
		logging.F("port_pool_high", c.PortPool.High),
		logging.F("chain_length", c.Chain.Length),
		logging.F("telemetry_enabled", c.Telemetry.Enabled),
		logging.F("default_backend", c.Routing.DefaultBackend),
		logging.F("routing_rules", len(c.Routing.Rules)),
	)
}
