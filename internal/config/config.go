// ABOUTME: Configuration loading and parsing for hive-gateway.
// ABOUTME: Supports YAML files with environment variable expansion and duration parsing.

package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete hive-gateway configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Auth     AuthConfig     `yaml:"auth"`
	Nodes    NodesConfig    `yaml:"nodes"`
	Database DatabaseConfig `yaml:"database"`
	Agents   AgentsConfig   `yaml:"agents"`
	Logging  LoggingConfig  `yaml:"logging"`
	Metrics  MetricsConfig  `yaml:"metrics"`
}

// ServerConfig holds server address configuration.
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr"`
}

// AuthConfig holds connection authentication configuration.
type AuthConfig struct {
	// Mode is one of none, token, password, transport-identity.
	Mode     string   `yaml:"mode"`
	Tokens   []string `yaml:"tokens"`
	Password string   `yaml:"password"`

	// TokenSecret enables HS256-signed gateway tokens in token mode.
	TokenSecret string `yaml:"token_secret"`
}

// NodesConfig holds node registry limits and liveness timing.
type NodesConfig struct {
	MaxNodes int `yaml:"max_nodes"`

	PingInterval time.Duration `yaml:"-"`
	PingTimeout  time.Duration `yaml:"-"`

	// Raw string values for YAML unmarshaling.
	PingIntervalRaw string `yaml:"ping_interval"`
	PingTimeoutRaw  string `yaml:"ping_timeout"`
}

// DatabaseConfig holds session store configuration.
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// AgentsConfig points at the TOML agent roster.
type AgentsConfig struct {
	RosterPath string `yaml:"roster_path"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MetricsConfig holds metrics endpoint configuration.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// Defaults applied when fields are unset.
const (
	DefaultMaxNodes     = 200
	DefaultPingInterval = 30 * time.Second
	DefaultPingTimeout  = 60 * time.Second
	DefaultMetricsPath  = "/metrics"
)

// Load reads a configuration file from the given path and returns a parsed
// Config. Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	expanded := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return &cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} patterns with environment variable
// values. Unset variables become empty strings.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)
	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// applyDefaults fills unset fields with deployment defaults.
func (c *Config) applyDefaults() {
	if c.Nodes.MaxNodes == 0 {
		c.Nodes.MaxNodes = DefaultMaxNodes
	}
	if c.Nodes.PingInterval == 0 {
		c.Nodes.PingInterval = DefaultPingInterval
	}
	if c.Nodes.PingTimeout == 0 {
		c.Nodes.PingTimeout = DefaultPingTimeout
	}
	if c.Auth.Mode == "" {
		c.Auth.Mode = "none"
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = DefaultMetricsPath
	}
}

// Validate checks that all required configuration fields are present and
// valid. Returns an error describing the first failure encountered.
func (c *Config) Validate() error {
	if c.Server.HTTPAddr == "" {
		return fmt.Errorf("server.http_addr is required")
	}
	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}
	switch c.Auth.Mode {
	case "none", "token", "password", "transport-identity":
	default:
		return fmt.Errorf("auth.mode %q is not one of none, token, password, transport-identity", c.Auth.Mode)
	}
	if c.Auth.Mode == "password" && c.Auth.Password == "" {
		return fmt.Errorf("auth.password is required in password mode")
	}
	if c.Nodes.PingTimeout <= c.Nodes.PingInterval {
		return fmt.Errorf("nodes.ping_timeout (%s) must exceed nodes.ping_interval (%s)",
			c.Nodes.PingTimeout, c.Nodes.PingInterval)
	}
	return nil
}

// parseDurations converts the raw duration strings into time.Duration values.
func parseDurations(cfg *Config) error {
	var err error

	if cfg.Nodes.PingIntervalRaw != "" {
		cfg.Nodes.PingInterval, err = time.ParseDuration(cfg.Nodes.PingIntervalRaw)
		if err != nil {
			return fmt.Errorf("parsing ping_interval %q: %w", cfg.Nodes.PingIntervalRaw, err)
		}
	}
	if cfg.Nodes.PingTimeoutRaw != "" {
		cfg.Nodes.PingTimeout, err = time.ParseDuration(cfg.Nodes.PingTimeoutRaw)
		if err != nil {
			return fmt.Errorf("parsing ping_timeout %q: %w", cfg.Nodes.PingTimeoutRaw, err)
		}
	}
	return nil
}
