// ABOUTME: Configuration loading and parsing for unity-hub
// ABOUTME: Supports YAML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete unity-hub configuration. It is constructed
// once at process start and passed by reference to every component; there is
// no global config state.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Bridge    BridgeConfig    `yaml:"bridge"`
	Hub       HubConfig       `yaml:"hub"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Database  DatabaseConfig  `yaml:"database"`
	Logging   LoggingConfig   `yaml:"logging"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

// ServerConfig holds listen addresses and the optional HTTP API key.
type ServerConfig struct {
	BridgeAddr string `yaml:"bridge_addr"`
	HTTPAddr   string `yaml:"http_addr"`
	// APIKey, when set, is required in the X-API-Key header of API requests.
	APIKey string `yaml:"api_key"`
}

// BridgeConfig holds the connection protocol timings.
type BridgeConfig struct {
	HandshakeTimeout     time.Duration `yaml:"-"`
	FramedReceiveTimeout time.Duration `yaml:"-"`
	HeartbeatTimeout     time.Duration `yaml:"-"`
	KeepAliveInterval    time.Duration `yaml:"-"`
	ConnectionTimeout    time.Duration `yaml:"-"`
	MaxHeartbeatFrames   int           `yaml:"max_heartbeat_frames"`
	BufferSize           int           `yaml:"buffer_size"`

	// Raw string values for YAML unmarshaling
	HandshakeTimeoutRaw     string `yaml:"handshake_timeout"`
	FramedReceiveTimeoutRaw string `yaml:"framed_receive_timeout"`
	HeartbeatTimeoutRaw     string `yaml:"heartbeat_timeout"`
	KeepAliveIntervalRaw    string `yaml:"keep_alive_interval"`
	ConnectionTimeoutRaw    string `yaml:"connection_timeout"`
}

// HubConfig holds dispatch retry tuning.
type HubConfig struct {
	ReloadRetry      time.Duration `yaml:"-"`
	DefaultTimeout   time.Duration `yaml:"-"`
	ReloadMaxRetries int           `yaml:"reload_max_retries"`

	ReloadRetryRaw    string `yaml:"reload_retry_ms"`
	DefaultTimeoutRaw string `yaml:"default_timeout"`
}

// TelemetryConfig holds the background telemetry pipeline options.
type TelemetryConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Queue    int           `yaml:"queue"`
	CacheTTL time.Duration `yaml:"-"`

	CacheTTLRaw string `yaml:"cache_ttl"`
}

// DatabaseConfig holds the telemetry event store location.
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MetricsConfig holds the Prometheus endpoint configuration.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// Default returns a Config with every knob at its documented default.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			BridgeAddr: "localhost:6400",
			HTTPAddr:   "localhost:8080",
		},
		Bridge: BridgeConfig{
			HandshakeTimeout:     10 * time.Second,
			FramedReceiveTimeout: 30 * time.Second,
			HeartbeatTimeout:     5 * time.Second,
			KeepAliveInterval:    15 * time.Second,
			ConnectionTimeout:    90 * time.Second,
			MaxHeartbeatFrames:   3,
			BufferSize:           4 << 20,
		},
		Hub: HubConfig{
			ReloadRetry:      750 * time.Millisecond,
			ReloadMaxRetries: 5,
			DefaultTimeout:   30 * time.Second,
		},
		Telemetry: TelemetryConfig{
			Enabled:  true,
			Queue:    256,
			CacheTTL: time.Minute,
		},
		Database: DatabaseConfig{Path: "unity-hub.db"},
		Logging:  LoggingConfig{Level: "info", Format: "text"},
		Metrics:  MetricsConfig{Enabled: true, Path: "/metrics"},
	}
}

// Load reads a configuration file from the given path and returns a parsed
// Config merged over the defaults. Environment variables in the format
// ${VAR_NAME} are expanded. Duration strings are parsed into time.Duration.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	return Parse(data)
}

// Parse builds a Config from raw YAML bytes. See Load.
func Parse(data []byte) (*Config, error) {
	expanded := expandEnvVars(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := parseDurations(cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding
// environment variable values. Unset variables expand to the empty string.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)
	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// Validate checks that all required configuration fields are present and
// valid. Returns an error describing the first validation failure.
func (c *Config) Validate() error {
	if c.Server.BridgeAddr == "" {
		return fmt.Errorf("server.bridge_addr is required")
	}
	if c.Server.HTTPAddr == "" {
		return fmt.Errorf("server.http_addr is required")
	}
	if c.Bridge.MaxHeartbeatFrames < 1 {
		return fmt.Errorf("bridge.max_heartbeat_frames must be at least 1")
	}
	if c.Bridge.BufferSize < 1024 {
		return fmt.Errorf("bridge.buffer_size must be at least 1024 bytes")
	}
	if c.Hub.ReloadMaxRetries < 1 {
		return fmt.Errorf("hub.reload_max_retries must be at least 1")
	}
	if c.Telemetry.Queue < 1 {
		return fmt.Errorf("telemetry.queue must be at least 1")
	}
	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}
	return nil
}

// parseDurations converts the raw duration strings into time.Duration values.
func parseDurations(cfg *Config) error {
	fields := []struct {
		raw  string
		dst  *time.Duration
		name string
	}{
		{cfg.Bridge.HandshakeTimeoutRaw, &cfg.Bridge.HandshakeTimeout, "handshake_timeout"},
		{cfg.Bridge.FramedReceiveTimeoutRaw, &cfg.Bridge.FramedReceiveTimeout, "framed_receive_timeout"},
		{cfg.Bridge.HeartbeatTimeoutRaw, &cfg.Bridge.HeartbeatTimeout, "heartbeat_timeout"},
		{cfg.Bridge.KeepAliveIntervalRaw, &cfg.Bridge.KeepAliveInterval, "keep_alive_interval"},
		{cfg.Bridge.ConnectionTimeoutRaw, &cfg.Bridge.ConnectionTimeout, "connection_timeout"},
		{cfg.Hub.ReloadRetryRaw, &cfg.Hub.ReloadRetry, "reload_retry_ms"},
		{cfg.Hub.DefaultTimeoutRaw, &cfg.Hub.DefaultTimeout, "default_timeout"},
		{cfg.Telemetry.CacheTTLRaw, &cfg.Telemetry.CacheTTL, "cache_ttl"},
	}

	for _, f := range fields {
		if f.raw == "" {
			continue
		}
		d, err := time.ParseDuration(f.raw)
		if err != nil {
			return fmt.Errorf("parsing %s %q: %w", f.name, f.raw, err)
		}
		*f.dst = d
	}
	return nil
}
