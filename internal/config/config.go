package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete server configuration
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	WS      WSConfig      `yaml:"websocket"`
	TLS     TLSConfig     `yaml:"tls"`
	Storage StorageConfig `yaml:"storage"`
	Limits  LimitsConfig  `yaml:"limits"`
	QoS     QoSConfig     `yaml:"qos"`
	Logging LoggingConfig `yaml:"logging"`
	Metrics MetricsConfig `yaml:"metrics"`
}

// ServerConfig contains the TCP listener's binding and network settings
type ServerConfig struct {
	Host         string        `yaml:"host"`           // Interface both listeners fall back to
	TCPHost      string        `yaml:"tcp_host"`       // Overrides Host for the TCP listener
	TCPPort      int           `yaml:"tcp_port"`        // MQTT TCP port (default 1993)
	KeepAlive    time.Duration `yaml:"keep_alive"`     // Not used by sessions: each takes its keep-alive from the client's CONNECT
	WriteTimeout time.Duration `yaml:"write_timeout"`  // Write timeout; not applied to connections
	ReadTimeout  time.Duration `yaml:"read_timeout"`   // Read timeout; not applied to connections
}

// WSConfig contains the WebSocket listener's binding settings. The wire
// protocol runs over a second transport alongside plain TCP, so it gets its
// own section rather than overloading ServerConfig.
type WSConfig struct {
	Enabled bool   `yaml:"enabled"`
	Host    string `yaml:"host"` // Overrides Server.Host for the WS listener
	Port    int    `yaml:"port"` // default 53535
	Path    string `yaml:"path"` // Upgrade path, default "/mqtt"
}

// TLSConfig contains TLS/SSL settings shared by both listeners
type TLSConfig struct {
	Enabled  bool   `yaml:"enabled"`   // Enable TLS
	CertFile string `yaml:"cert_file"` // Server certificate path
	KeyFile  string `yaml:"key_file"`  // Server private key path
	CAFile   string `yaml:"ca_file"`   // CA certificate path; not loaded, client certificates are not verified
}

// StorageConfig contains persistence settings for the retained-message tree
type StorageConfig struct {
	Backend string `yaml:"backend"` // Storage backend: "memory" or "bbolt"
	Path    string `yaml:"path"`    // File path for the bbolt backend
}

// LimitsConfig contains connection and message limits
type LimitsConfig struct {
	MaxClients     int   `yaml:"max_clients"`      // Maximum concurrent connections; not enforced
	MaxMessageSize int64 `yaml:"max_message_size"` // Maximum message payload size in bytes; not enforced
}

// QoSConfig contains Quality of Service settings
type QoSConfig struct {
	MaxQoS byte `yaml:"max_qos"` // Maximum QoS level (0, 1, or 2); validated and logged, not enforced
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	Level  string `yaml:"level"`  // Log level: debug, info, warn, error; validated and logged, not applied
	Format string `yaml:"format"` // Log format: text, json; not applied
	Output string `yaml:"output"` // Output: stdout, stderr, or file path; not applied
}

// MetricsConfig contains Prometheus metrics settings
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"` // Enable metrics endpoint
	Port    int    `yaml:"port"`    // Metrics HTTP server port
	Path    string `yaml:"path"`    // Metrics endpoint path
}

// Load reads and parses the configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	// Set defaults for any missing values
	cfg.setDefaults()

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets default values for missing configuration options
func (c *Config) setDefaults() {
	// Server defaults
	if c.Server.Host == "" {
		c.Server.Host = "0.0.0.0"
	}
	if c.Server.TCPPort == 0 {
		c.Server.TCPPort = 1993
	}
	if c.Server.KeepAlive == 0 {
		c.Server.KeepAlive = 60 * time.Second
	}
	if c.Server.WriteTimeout == 0 {
		c.Server.WriteTimeout = 10 * time.Second
	}
	if c.Server.ReadTimeout == 0 {
		c.Server.ReadTimeout = 30 * time.Second
	}

	// WebSocket defaults
	if c.WS.Port == 0 {
		c.WS.Port = 53535
	}
	if c.WS.Path == "" {
		c.WS.Path = "/mqtt"
	}

	// Storage defaults
	if c.Storage.Backend == "" {
		c.Storage.Backend = "bbolt"
	}
	if c.Storage.Path == "" {
		c.Storage.Path = "./data/broker.db"
	}

	// Limits defaults
	if c.Limits.MaxClients == 0 {
		c.Limits.MaxClients = 1000
	}
	if c.Limits.MaxMessageSize == 0 {
		c.Limits.MaxMessageSize = 256 * 1024 // 256 KB
	}

	// QoS defaults
	if c.QoS.MaxQoS == 0 {
		c.QoS.MaxQoS = 1
	}

	// Logging defaults
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
	if c.Logging.Output == "" {
		c.Logging.Output = "stdout"
	}

	// Metrics defaults
	if c.Metrics.Port == 0 {
		c.Metrics.Port = 9090
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	// Validate server settings
	if c.Server.TCPPort < 1 || c.Server.TCPPort > 65535 {
		return fmt.Errorf("invalid tcp_port: %d (must be 1-65535)", c.Server.TCPPort)
	}

	// Validate WebSocket settings
	if c.WS.Enabled && (c.WS.Port < 1 || c.WS.Port > 65535) {
		return fmt.Errorf("invalid websocket port: %d (must be 1-65535)", c.WS.Port)
	}

	// Validate TLS settings
	if c.TLS.Enabled {
		if c.TLS.CertFile == "" || c.TLS.KeyFile == "" {
			return fmt.Errorf("TLS enabled but cert_file or key_file not specified")
		}
	}

	// Validate storage backend
	validBackends := map[string]bool{"memory": true, "bbolt": true}
	if !validBackends[c.Storage.Backend] {
		return fmt.Errorf("invalid storage backend: %s (must be memory or bbolt)", c.Storage.Backend)
	}

	// Validate QoS level
	if c.QoS.MaxQoS > 2 {
		return fmt.Errorf("invalid max_qos: %d (must be 0, 1, or 2)", c.QoS.MaxQoS)
	}

	// Validate log level
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", c.Logging.Level)
	}

	// Validate metrics port
	if c.Metrics.Enabled {
		if c.Metrics.Port < 1 || c.Metrics.Port > 65535 {
			return fmt.Errorf("invalid metrics port: %d (must be 1-65535)", c.Metrics.Port)
		}
		if c.Metrics.Port == c.Server.TCPPort {
			return fmt.Errorf("metrics port cannot be the same as tcp_port")
		}
	}

	return nil
}

// ApplyCLIOverrides mutates cfg in place for every recognized "--key=value"
// argument in args: host, tcp_host, ws_host, tcp_port, ws_port, ssl_cert,
// ssl_key. Unrecognized arguments are left for the caller's own flag
// handling rather than rejected here.
func ApplyCLIOverrides(cfg *Config, args []string) error {
	for _, arg := range args {
		arg = strings.TrimPrefix(arg, "--")
		key, value, ok := strings.Cut(arg, "=")
		if !ok {
			continue
		}
		switch key {
		case "host":
			cfg.Server.Host = value
		case "tcp_host":
			cfg.Server.TCPHost = value
		case "ws_host":
			cfg.WS.Host = value
		case "tcp_port":
			port, err := strconv.Atoi(value)
			if err != nil {
				return fmt.Errorf("invalid --tcp_port=%s: %w", value, err)
			}
			cfg.Server.TCPPort = port
		case "ws_port":
			port, err := strconv.Atoi(value)
			if err != nil {
				return fmt.Errorf("invalid --ws_port=%s: %w", value, err)
			}
			cfg.WS.Port = port
			cfg.WS.Enabled = true
		case "ssl_cert":
			cfg.TLS.CertFile = value
			cfg.TLS.Enabled = true
		case "ssl_key":
			cfg.TLS.KeyFile = value
			cfg.TLS.Enabled = true
		}
	}
	return nil
}

// TCPAddr returns the address the TCP listener should bind, honoring
// tcp_host and falling back to host.
func (c *Config) TCPAddr() string {
	host := c.Server.TCPHost
	if host == "" {
		host = c.Server.Host
	}
	return fmt.Sprintf("%s:%d", host, c.Server.TCPPort)
}

// WSAddr returns the address the WebSocket listener should bind, honoring
// ws_host and falling back to host.
func (c *Config) WSAddr() string {
	host := c.WS.Host
	if host == "" {
		host = c.Server.Host
	}
	return fmt.Sprintf("%s:%d", host, c.WS.Port)
}
