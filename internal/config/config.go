// Package config handles configuration loading, validation, and hot-reload
// for typeshield.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"typeshield/internal/behaviour"
	"typeshield/internal/capture"
)

// Version is the current configuration schema version.
const Version = 1

// Config holds the complete daemon configuration.
type Config struct {
	// Version is the configuration schema version.
	Version int `toml:"version" json:"version" yaml:"version"`

	// Server configuration for the HTTP API.
	Server ServerConfig `toml:"server" json:"server" yaml:"server"`

	// Storage configuration for persistence.
	Storage StorageConfig `toml:"storage" json:"storage" yaml:"storage"`

	// Behaviour configuration for the similarity scorer.
	Behaviour behaviour.Config `toml:"behaviour" json:"behaviour" yaml:"behaviour"`

	// Capture configuration for coarse-device synthetic timings.
	Capture capture.CoarseConfig `toml:"capture" json:"capture" yaml:"capture"`

	// Security configuration for rate limiting.
	Security SecurityConfig `toml:"security" json:"security" yaml:"security"`

	// Logging configuration.
	Logging LoggingConfig `toml:"logging" json:"logging" yaml:"logging"`

	// Metrics configuration.
	Metrics MetricsConfig `toml:"metrics" json:"metrics" yaml:"metrics"`
}

// ServerConfig holds the HTTP server configuration.
type ServerConfig struct {
	// ListenAddr is the address the HTTP API binds to.
	ListenAddr string `toml:"listen_addr" json:"listen_addr" yaml:"listen_addr"`

	// SessionSecret keys the HMAC used to sign session cookies. Override
	// it per deployment; the default is suitable only for development.
	SessionSecret string `toml:"session_secret" json:"session_secret" yaml:"session_secret"`

	// SessionTTLMin is the session lifetime in minutes.
	SessionTTLMin int `toml:"session_ttl_min" json:"session_ttl_min" yaml:"session_ttl_min"`

	// ReadTimeoutSec and WriteTimeoutSec bound request handling.
	ReadTimeoutSec  int `toml:"read_timeout_sec" json:"read_timeout_sec" yaml:"read_timeout_sec"`
	WriteTimeoutSec int `toml:"write_timeout_sec" json:"write_timeout_sec" yaml:"write_timeout_sec"`
}

// StorageConfig holds persistence configuration.
type StorageConfig struct {
	// Path is the path to the SQLite database file.
	Path string `toml:"path" json:"path" yaml:"path"`

	// BusyTimeoutMs is the SQLite busy timeout in milliseconds.
	BusyTimeoutMs int `toml:"busy_timeout_ms" json:"busy_timeout_ms" yaml:"busy_timeout_ms"`
}

// SecurityConfig holds login rate-limit configuration.
type SecurityConfig struct {
	// LoginRatePerMin is the sustained per-username login rate.
	LoginRatePerMin float64 `toml:"login_rate_per_min" json:"login_rate_per_min" yaml:"login_rate_per_min"`

	// LoginBurst is the maximum login burst per username.
	LoginBurst int `toml:"login_burst" json:"login_burst" yaml:"login_burst"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	// Level is the minimum log level: debug, info, warn, error.
	Level string `toml:"level" json:"level" yaml:"level"`

	// Format is the output format: text or json.
	Format string `toml:"format" json:"format" yaml:"format"`

	// Output is where logs go: stdout, stderr or file.
	Output string `toml:"output" json:"output" yaml:"output"`

	// FilePath is the log file path when Output is "file".
	FilePath string `toml:"file_path" json:"file_path" yaml:"file_path"`
}

// MetricsConfig holds metrics configuration.
type MetricsConfig struct {
	// Enabled exposes the /metrics scrape endpoint when true.
	Enabled bool `toml:"enabled" json:"enabled" yaml:"enabled"`
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		Version: Version,
		Server: ServerConfig{
			ListenAddr:      "127.0.0.1:8422",
			SessionSecret:   "typeshield-dev-secret-change-me",
			SessionTTLMin:   60,
			ReadTimeoutSec:  10,
			WriteTimeoutSec: 10,
		},
		Storage: StorageConfig{
			Path:          filepath.Join(DataDir(), "typeshield.db"),
			BusyTimeoutMs: 5000,
		},
		Behaviour: behaviour.DefaultConfig(),
		Capture:   capture.DefaultCoarseConfig(),
		Security: SecurityConfig{
			LoginRatePerMin: 10,
			LoginBurst:      5,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: "stderr",
		},
		Metrics: MetricsConfig{
			Enabled: true,
		},
	}
}

// DataDir returns the platform data directory for typeshield.
func DataDir() string {
	if dir := os.Getenv("TYPESHIELD_DATA_DIR"); dir != "" {
		return dir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".typeshield"
	}
	return filepath.Join(home, ".typeshield")
}

// Validate checks the configuration invariants.
func (c *Config) Validate() error {
	if c.Server.ListenAddr == "" {
		return fmt.Errorf("config: server.listen_addr is required")
	}
	if c.Server.SessionSecret == "" {
		return fmt.Errorf("config: server.session_secret is required")
	}
	if c.Server.SessionTTLMin <= 0 {
		return fmt.Errorf("config: server.session_ttl_min must be positive, got %d", c.Server.SessionTTLMin)
	}
	if c.Storage.Path == "" {
		return fmt.Errorf("config: storage.path is required")
	}
	if c.Storage.BusyTimeoutMs < 0 {
		return fmt.Errorf("config: negative storage.busy_timeout_ms")
	}
	if err := c.Behaviour.Validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if err := c.Capture.Validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if c.Security.LoginRatePerMin <= 0 || c.Security.LoginBurst <= 0 {
		return fmt.Errorf("config: security rate limit values must be positive")
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("config: unknown logging.level %q", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("config: unknown logging.format %q", c.Logging.Format)
	}
	return nil
}

// ApplyEnvOverrides applies TYPESHIELD_* environment variables on top of
// the loaded configuration.
func (c *Config) ApplyEnvOverrides() {
	if v := os.Getenv("TYPESHIELD_LISTEN_ADDR"); v != "" {
		c.Server.ListenAddr = v
	}
	if v := os.Getenv("TYPESHIELD_SESSION_SECRET"); v != "" {
		c.Server.SessionSecret = v
	}
	if v := os.Getenv("TYPESHIELD_DB_PATH"); v != "" {
		c.Storage.Path = v
	}
	if v := os.Getenv("TYPESHIELD_BEHAVIOUR_THRESHOLD"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			c.Behaviour.Threshold = f
		}
	}
	if v := os.Getenv("TYPESHIELD_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
}

// BusyTimeout returns the storage busy timeout as a duration.
func (c *Config) BusyTimeout() time.Duration {
	return time.Duration(c.Storage.BusyTimeoutMs) * time.Millisecond
}

// SessionTTL returns the session lifetime as a duration.
func (c *Config) SessionTTL() time.Duration {
	return time.Duration(c.Server.SessionTTLMin) * time.Minute
}
