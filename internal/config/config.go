// ABOUTME: Configuration loading and parsing for relay-gateway
// ABOUTME: Supports YAML files with environment variable expansion and duration parsing

package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"regexp"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete relay-gateway configuration.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Auth    AuthConfig    `yaml:"auth"`
	Store   StoreConfig   `yaml:"store"`
	SSE     SSEConfig     `yaml:"sse"`
	Router  RouterConfig  `yaml:"router"`
	Experts ExpertsConfig `yaml:"experts"`
	Logging LoggingConfig `yaml:"logging"`
}

// ServerConfig holds HTTP listener configuration.
type ServerConfig struct {
	Host          string        `yaml:"host"`
	Port          int           `yaml:"port"`
	ShutdownGrace time.Duration `yaml:"-"`

	ShutdownGraceRaw string `yaml:"shutdown_grace"`
}

// Addr returns the listen address in host:port form.
func (c ServerConfig) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// AuthConfig holds authentication configuration.
type AuthConfig struct {
	JWTSecret   string `yaml:"jwt_secret"`
	RequireAuth bool   `yaml:"require_auth"`
}

// StoreConfig holds persistence configuration.
type StoreConfig struct {
	Path string `yaml:"path"`
}

// SSEConfig holds streaming connection configuration.
type SSEConfig struct {
	HeartbeatInterval time.Duration `yaml:"-"`
	CancelGrace       time.Duration `yaml:"-"`
	QueueSize         int           `yaml:"queue_size"`
	ReplayBuffer      int           `yaml:"replay_buffer"`
	EmitErrorEvents   bool          `yaml:"emit_error_events"`

	HeartbeatIntervalRaw string `yaml:"heartbeat_interval"`
	CancelGraceRaw       string `yaml:"cancel_grace"`
}

// RouterConfig holds message routing configuration.
type RouterConfig struct {
	DelayUnit         time.Duration `yaml:"-"`
	QueueSize         int           `yaml:"queue_size"`
	MinWait           int           `yaml:"min_wait"`
	ProcessingMessage string        `yaml:"processing_message"`

	DelayUnitRaw string `yaml:"delay_unit"`
}

// ExpertsConfig holds MCP expert integration configuration.
type ExpertsConfig struct {
	Catalog          string        `yaml:"catalog"`
	HealthInterval   time.Duration `yaml:"-"`
	BreakerRecovery  time.Duration `yaml:"-"`
	RequestTimeout   time.Duration `yaml:"-"`
	BreakerThreshold int           `yaml:"breaker_threshold"`

	HealthIntervalRaw  string `yaml:"health_interval"`
	BreakerRecoveryRaw string `yaml:"breaker_recovery"`
	RequestTimeoutRaw  string `yaml:"request_timeout"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// DefaultConfig returns a configuration populated with defaults suitable
// for local development. Loaded files override only the keys they set.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:          "0.0.0.0",
			Port:          8080,
			ShutdownGrace: 10 * time.Second,
		},
		Auth: AuthConfig{
			RequireAuth: false,
		},
		Store: StoreConfig{
			Path: "relay.db",
		},
		SSE: SSEConfig{
			HeartbeatInterval: 30 * time.Second,
			CancelGrace:       2 * time.Second,
			QueueSize:         64,
			ReplayBuffer:      16,
		},
		Router: RouterConfig{
			DelayUnit:         time.Second,
			QueueSize:         256,
			MinWait:           1,
			ProcessingMessage: "Processing your request...",
		},
		Experts: ExpertsConfig{
			HealthInterval:   30 * time.Second,
			BreakerRecovery:  60 * time.Second,
			RequestTimeout:   30 * time.Second,
			BreakerThreshold: 3,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads a configuration file from the given path and returns a parsed
// Config. Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values. Keys absent from
// the file keep their DefaultConfig values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables in the raw YAML content
	expanded := expandEnvVars(string(data))

	cfg := DefaultConfig()
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
// environment variable values. If the environment variable is not set,
// it is replaced with an empty string.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// parseDurations converts the raw duration strings into time.Duration values.
// Empty raw values keep whatever the field already holds.
func parseDurations(cfg *Config) error {
	fields := []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"server.shutdown_grace", cfg.Server.ShutdownGraceRaw, &cfg.Server.ShutdownGrace},
		{"sse.heartbeat_interval", cfg.SSE.HeartbeatIntervalRaw, &cfg.SSE.HeartbeatInterval},
		{"sse.cancel_grace", cfg.SSE.CancelGraceRaw, &cfg.SSE.CancelGrace},
		{"router.delay_unit", cfg.Router.DelayUnitRaw, &cfg.Router.DelayUnit},
		{"experts.health_interval", cfg.Experts.HealthIntervalRaw, &cfg.Experts.HealthInterval},
		{"experts.breaker_recovery", cfg.Experts.BreakerRecoveryRaw, &cfg.Experts.BreakerRecovery},
		{"experts.request_timeout", cfg.Experts.RequestTimeoutRaw, &cfg.Experts.RequestTimeout},
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

// Validate checks that all configuration fields are present and consistent.
// All failures are reported together rather than one at a time.
func (c *Config) Validate() error {
	var errs []error

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port must be between 1 and 65535, got %d", c.Server.Port))
	}
	if c.Server.ShutdownGrace < 0 {
		errs = append(errs, errors.New("server.shutdown_grace must not be negative"))
	}

	if c.Auth.RequireAuth && c.Auth.JWTSecret == "" {
		errs = append(errs, errors.New("auth.jwt_secret is required when auth.require_auth is enabled"))
	}

	if c.Store.Path == "" {
		errs = append(errs, errors.New("store.path is required"))
	}

	if c.SSE.HeartbeatInterval <= 0 {
		errs = append(errs, errors.New("sse.heartbeat_interval must be positive"))
	}
	if c.SSE.QueueSize < 1 {
		errs = append(errs, errors.New("sse.queue_size must be at least 1"))
	}
	if c.SSE.ReplayBuffer < 0 {
		errs = append(errs, errors.New("sse.replay_buffer must not be negative"))
	}

	if c.Router.DelayUnit <= 0 {
		errs = append(errs, errors.New("router.delay_unit must be positive"))
	}
	if c.Router.QueueSize < 1 {
		errs = append(errs, errors.New("router.queue_size must be at least 1"))
	}
	if c.Router.MinWait < 0 {
		errs = append(errs, errors.New("router.min_wait must not be negative"))
	}

	if c.Experts.BreakerThreshold < 1 {
		errs = append(errs, errors.New("experts.breaker_threshold must be at least 1"))
	}
	if c.Experts.HealthInterval <= 0 {
		errs = append(errs, errors.New("experts.health_interval must be positive"))
	}

	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("logging.level must be one of debug, info, warn, error; got %q", c.Logging.Level))
	}
	switch c.Logging.Format {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("logging.format must be text or json, got %q", c.Logging.Format))
	}

	return errors.Join(errs...)
}
