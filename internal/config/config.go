// ABOUTME: Configuration loading and parsing for nbcon-core
// ABOUTME: Supports YAML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete nbcon-core configuration
type Config struct {
	Backend   BackendConfig   `yaml:"backend"`
	Database  DatabaseConfig  `yaml:"database"`
	Agents    AgentsConfig    `yaml:"agents"`
	Logging   LoggingConfig   `yaml:"logging"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// BackendConfig holds the hosted backend endpoint configuration
type BackendConfig struct {
	BaseURL string `yaml:"base_url"`

	LoadTimeout time.Duration `yaml:"-"`
	RunTimeout  time.Duration `yaml:"-"`

	// Raw string values for YAML unmarshaling
	LoadTimeoutRaw string `yaml:"load_timeout"`
	RunTimeoutRaw  string `yaml:"run_timeout"`
}

// DatabaseConfig holds the local audit-log database configuration
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// AgentsConfig points at the agent profile registry file
type AgentsConfig struct {
	Path    string `yaml:"path"`
	Default string `yaml:"default"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// TelemetryConfig holds telemetry dispatch configuration
type TelemetryConfig struct {
	Enabled    bool `yaml:"enabled"`
	BufferSize int  `yaml:"buffer_size"`
}

// Default timeouts applied when the config file leaves them unset.
const (
	DefaultLoadTimeout = 30 * time.Second
	DefaultRunTimeout  = 2 * time.Minute
)

// Load reads a configuration file from the given path and returns a parsed Config.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables in the raw YAML content
	expandedData := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	applyDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.Backend.BaseURL == "" {
		return fmt.Errorf("backend.base_url is required")
	}
	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}
	if c.Agents.Path == "" {
		return fmt.Errorf("agents.path is required")
	}
	if c.Telemetry.BufferSize < 0 {
		return fmt.Errorf("telemetry.buffer_size must not be negative")
	}
	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	var err error

	if cfg.Backend.LoadTimeoutRaw != "" {
		cfg.Backend.LoadTimeout, err = time.ParseDuration(cfg.Backend.LoadTimeoutRaw)
		if err != nil {
			return fmt.Errorf("parsing load_timeout %q: %w", cfg.Backend.LoadTimeoutRaw, err)
		}
	}

	if cfg.Backend.RunTimeoutRaw != "" {
		cfg.Backend.RunTimeout, err = time.ParseDuration(cfg.Backend.RunTimeoutRaw)
		if err != nil {
			return fmt.Errorf("parsing run_timeout %q: %w", cfg.Backend.RunTimeoutRaw, err)
		}
	}

	return nil
}

// applyDefaults fills in values the config file may leave unset.
// Every load and invocation must carry a deadline so a hung request
// cannot park the session state machine indefinitely.
func applyDefaults(cfg *Config) {
	if cfg.Backend.LoadTimeout == 0 {
		cfg.Backend.LoadTimeout = DefaultLoadTimeout
	}
	if cfg.Backend.RunTimeout == 0 {
		cfg.Backend.RunTimeout = DefaultRunTimeout
	}
	if cfg.Telemetry.BufferSize == 0 {
		cfg.Telemetry.BufferSize = 64
	}
}
