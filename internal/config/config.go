// Package config provides configuration file support for attest.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Store drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

// Config represents the attest configuration.
type Config struct {
	Store     StoreConfig     `yaml:"store"`
	Ledger    LedgerConfig    `yaml:"ledger"`
	HTTP      HTTPConfig      `yaml:"http"`
	Auth      AuthConfig      `yaml:"auth"`
	Notify    NotifyConfig    `yaml:"notify"`
	Logging   LoggingConfig   `yaml:"logging"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// StoreConfig selects the ledger backend.
type StoreConfig struct {
	Driver string `yaml:"driver"` // sqlite, postgres, memory
	DSN    string `yaml:"dsn"`    // file path for sqlite, connection string for postgres
}

// LedgerConfig configures which ledgers are served.
type LedgerConfig struct {
	// SchemasDir holds CUE ledger schemas loaded next to the built-ins.
	SchemasDir string `yaml:"schemas_dir"`
}

// HTTPConfig configures the API server.
type HTTPConfig struct {
	Addr      string  `yaml:"addr"`
	RateLimit float64 `yaml:"rate_limit"` // writes per second, 0 disables
	Burst     int     `yaml:"burst"`
}

// AuthConfig configures intent token verification.
type AuthConfig struct {
	Audience    string        `yaml:"audience"`
	MaxTokenAge time.Duration `yaml:"max_token_age"`
	Replay      ReplayConfig  `yaml:"replay"`
}

// ReplayConfig selects where used token ids are remembered. Empty Addr
// keeps them in process memory.
type ReplayConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Prefix   string `yaml:"prefix"`
}

// NotifyConfig configures post-commit notifiers. Every enabled sink
// receives every notification.
type NotifyConfig struct {
	Log        bool        `yaml:"log"`
	OutboxPath string      `yaml:"outbox_path"`
	Redis      RedisConfig `yaml:"redis"`
}

// RedisConfig configures the Redis stream notifier. Empty Addr disables it.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Stream   string `yaml:"stream"`
	MaxLen   int64  `yaml:"max_len"`
}

// LoggingConfig configures logging behavior.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // json, text
}

// TelemetryConfig toggles OpenTelemetry instrumentation. When disabled the
// ledger uses no-op providers even if a global provider is installed.
type TelemetryConfig struct {
	Enabled bool `yaml:"enabled"`
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		Store: StoreConfig{
			Driver: DriverSQLite,
			DSN:    "attest.db",
		},
		HTTP: HTTPConfig{
			Addr:      "127.0.0.1:8080",
			RateLimit: 10,
			Burst:     20,
		},
		Auth: AuthConfig{
			Audience:    "attest",
			MaxTokenAge: 5 * time.Minute,
			Replay: ReplayConfig{
				Prefix: "attest:jti:",
			},
		},
		Notify: NotifyConfig{
			Log: true,
			Redis: RedisConfig{
				Stream: "attest:events",
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads configuration from path over the defaults.
// Returns the default config if path is empty or the file doesn't exist.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate reports every invalid setting.
func (c *Config) Validate() error {
	var errs []error

	switch c.Store.Driver {
	case DriverSQLite, DriverPostgres:
		if c.Store.DSN == "" {
			errs = append(errs, fmt.Errorf("store.dsn is required for driver %s", c.Store.Driver))
		}
	case DriverMemory:
	default:
		errs = append(errs, fmt.Errorf("store.driver: unknown driver %q", c.Store.Driver))
	}

	if c.HTTP.RateLimit < 0 {
		errs = append(errs, errors.New("http.rate_limit must not be negative"))
	}
	if c.HTTP.RateLimit > 0 && c.HTTP.Burst < 1 {
		errs = append(errs, errors.New("http.burst must be at least 1 when rate limiting"))
	}

	if c.Auth.Audience == "" {
		errs = append(errs, errors.New("auth.audience is required"))
	}
	if c.Auth.MaxTokenAge < 0 {
		errs = append(errs, errors.New("auth.max_token_age must not be negative"))
	}

	if c.Auth.Replay.Addr != "" && c.Auth.Replay.Prefix == "" {
		errs = append(errs, errors.New("auth.replay.prefix is required when auth.replay.addr is set"))
	}

	if c.Notify.Redis.Addr != "" && c.Notify.Redis.Stream == "" {
		errs = append(errs, errors.New("notify.redis.stream is required when notify.redis.addr is set"))
	}

	if _, err := parseLevel(c.Logging.Level); err != nil {
		errs = append(errs, err)
	}
	switch c.Logging.Format {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("logging.format: unknown format %q", c.Logging.Format))
	}

	return errors.Join(errs...)
}

// SlogLevel returns the configured log level. Invalid levels map to Info;
// Validate reports them.
func (l LoggingConfig) SlogLevel() slog.Level {
	level, err := parseLevel(l.Level)
	if err != nil {
		return slog.LevelInfo
	}
	return level
}

func parseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("logging.level: unknown level %q", s)
	}
}
