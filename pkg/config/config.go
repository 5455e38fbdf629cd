package config

import (
	"fmt"
	"os"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/cuemby/relay/pkg/relayerr"
)

// Location describes a reachable gRPC endpoint: a driver or a peer relay.
type Location struct {
	Hostname      string `yaml:"hostname"`
	Port          string `yaml:"port"`
	TLS           bool   `yaml:"tls"`
	TLSCACertPath string `yaml:"tlsca_cert_path"`
}

// Network maps a network id to the driver that serves it.
type Network struct {
	Network string `yaml:"network"`
}

// Timeouts carries the deadlines applied to outbound calls.
type Timeouts struct {
	CallSeconds         int `yaml:"call_seconds"`
	TLSHandshakeSeconds int `yaml:"tls_handshake_seconds"`
}

// Config is the process-wide relay configuration, loaded once at startup.
type Config struct {
	Name         string `yaml:"name"`
	Hostname     string `yaml:"hostname"`
	Port         string `yaml:"port"`
	DBPath       string `yaml:"db_path"`
	RemoteDBPath string `yaml:"remote_db_path"`

	// Server-side TLS for the relay's own listener.
	TLS         bool   `yaml:"tls"`
	CertPath    string `yaml:"cert_path"`
	KeyPath     string `yaml:"key_path"`
	MetricsPort string `yaml:"metrics_port"`

	// Path to the driver error-message catalog used to recognize
	// duplicate-subscription errors.
	DriverErrorConstantsPath string `yaml:"driver_error_constants_path"`

	Networks map[string]Network  `yaml:"networks"`
	Drivers  map[string]Location `yaml:"drivers"`
	Relays   map[string]Location `yaml:"relays"`

	Timeouts Timeouts `yaml:"timeouts"`
}

const (
	defaultCallSeconds         = 30
	defaultTLSHandshakeSeconds = 5
)

// Load reads and validates a YAML config file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.Name == "" {
		return fmt.Errorf("config: name is required")
	}
	if c.DBPath == "" || c.RemoteDBPath == "" {
		return fmt.Errorf("config: db_path and remote_db_path are required")
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.Timeouts.CallSeconds <= 0 {
		c.Timeouts.CallSeconds = defaultCallSeconds
	}
	if c.Timeouts.TLSHandshakeSeconds <= 0 {
		c.Timeouts.TLSHandshakeSeconds = defaultTLSHandshakeSeconds
	}
}

// Resolver is a thread-safe read facade over the loaded Config. All reads
// copy the requested fields out under the lock; nothing is held across a
// blocking call.
type Resolver struct {
	mu  sync.RWMutex
	cfg *Config
}

// NewResolver wraps an already-loaded Config.
func NewResolver(cfg *Config) *Resolver {
	return &Resolver{cfg: cfg}
}

// Reload replaces the configuration from the given file.
func (r *Resolver) Reload(path string) error {
	cfg, err := Load(path)
	if err != nil {
		return err
	}
	r.mu.Lock()
	r.cfg = cfg
	r.mu.Unlock()
	return nil
}

// LocalName returns the relay's own name as announced to peers.
func (r *Resolver) LocalName() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.cfg.Name
}

// DBPath returns the local store path.
func (r *Resolver) DBPath() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.cfg.DBPath
}

// RemoteDBPath returns the remote store path.
func (r *Resolver) RemoteDBPath() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.cfg.RemoteDBPath
}

// DriverErrorConstantsPath returns the driver error catalog path.
func (r *Resolver) DriverErrorConstantsPath() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.cfg.DriverErrorConstantsPath
}

// GetDriver resolves a network id to its driver endpoint through the
// networks and drivers tables.
func (r *Resolver) GetDriver(networkID string) (Location, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	network, ok := r.cfg.Networks[networkID]
	if !ok {
		return Location{}, relayerr.Newf(relayerr.NotFound, "network %q not found in config", networkID)
	}
	driver, ok := r.cfg.Drivers[network.Network]
	if !ok {
		return Location{}, relayerr.Newf(relayerr.NotFound, "driver %q for network %q not found in config", network.Network, networkID)
	}
	return driver, nil
}

// GetPeerRelay resolves a relay name to its endpoint.
func (r *Resolver) GetPeerRelay(name string) (Location, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	relay, ok := r.cfg.Relays[name]
	if !ok {
		return Location{}, relayerr.Newf(relayerr.NotFound, "relay %q not found in config", name)
	}
	return relay, nil
}

// FindPeerRelay returns the configured entry matching host:port, so that
// callers holding only an address still pick up the peer's TLS settings.
// An unknown endpoint yields a plaintext Location for that host and port.
func (r *Resolver) FindPeerRelay(hostname, port string) Location {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, relay := range r.cfg.Relays {
		if relay.Hostname == hostname && relay.Port == port {
			return relay
		}
	}
	return Location{Hostname: hostname, Port: port}
}

// CallTimeout returns the deadline applied to outbound unary calls.
func (r *Resolver) CallTimeout() time.Duration {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return time.Duration(r.cfg.Timeouts.CallSeconds) * time.Second
}

// TLSHandshakeTimeout returns the deadline for dialing TLS endpoints.
func (r *Resolver) TLSHandshakeTimeout() time.Duration {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return time.Duration(r.cfg.Timeouts.TLSHandshakeSeconds) * time.Second
}

// Listen returns the relay's own listen address and server TLS settings.
func (r *Resolver) Listen() (addr string, tls bool, certPath, keyPath string) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.cfg.Hostname + ":" + r.cfg.Port, r.cfg.TLS, r.cfg.CertPath, r.cfg.KeyPath
}

// MetricsAddr returns the address for the Prometheus endpoint, or "" when
// metrics are disabled.
func (r *Resolver) MetricsAddr() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.cfg.MetricsPort == "" {
		return ""
	}
	return r.cfg.Hostname + ":" + r.cfg.MetricsPort
}
