package config

import (
	"fmt"
	"net"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"phobos.org.uk/toolstream/internal/logging"
)

// Config represents the toolstream service configuration
type Config struct {
	Port     int            `yaml:"port"`
	Bind     string         `yaml:"bind"`
	LogLevel string         `yaml:"log_level"`
	Stream   StreamConfig   `yaml:"stream"`
	Subagent SubagentConfig `yaml:"subagent"`
}

// StreamConfig holds chunk stream session settings
type StreamConfig struct {
	MaxSessions        int           `yaml:"max_sessions"`         // Concurrent coordinator sessions
	SessionIdleTimeout time.Duration `yaml:"session_idle_timeout"` // Idle sessions are reaped after this
	Tools              []string      `yaml:"tools,omitempty"`      // Streaming parsers to register (empty = all)
}

// SubagentConfig holds settings for nested agent runs
type SubagentConfig struct {
	ProjectDirectory string `yaml:"project_directory"`
	SummaryLimit     int    `yaml:"summary_limit"` // Max summary length in characters
	MaxDepth         int    `yaml:"max_depth"`     // Deepest nested agent allowed
}

// Defaults
const (
	DefaultPort               = 9100
	DefaultBind               = "127.0.0.1"
	DefaultLogLevel           = "info"
	DefaultMaxSessions        = 64
	DefaultSessionIdleTimeout = 30 * time.Minute
	DefaultSummaryLimit       = 500
	DefaultMaxDepth           = 1
)

// Parse parses YAML config data
func Parse(data []byte) (*Config, error) {
	cfg := Default()

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	if cfg.Subagent.ProjectDirectory == "" {
		cfg.Subagent.ProjectDirectory = DefaultProjectDirectory()
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Load loads config from a file path
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	return Parse(data)
}

// Validate checks config validity
func (c *Config) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535, got %d", c.Port)
	}

	if net.ParseIP(c.Bind) == nil && c.Bind != "localhost" {
		return fmt.Errorf("bind must be an IP address or localhost, got %q", c.Bind)
	}

	if _, ok := logging.ParseLevel(c.LogLevel); !ok {
		return fmt.Errorf("log_level must be debug, info, warn, or error, got %q", c.LogLevel)
	}

	if c.Stream.MaxSessions < 1 {
		return fmt.Errorf("stream.max_sessions must be at least 1, got %d", c.Stream.MaxSessions)
	}

	if c.Stream.SessionIdleTimeout < time.Second {
		return fmt.Errorf("stream.session_idle_timeout must be at least 1 second, got %v", c.Stream.SessionIdleTimeout)
	}

	seen := make(map[string]bool, len(c.Stream.Tools))
	for _, name := range c.Stream.Tools {
		if name == "" {
			return fmt.Errorf("stream.tools must not contain empty names")
		}
		if seen[name] {
			return fmt.Errorf("stream.tools lists %q more than once", name)
		}
		seen[name] = true
	}

	if c.Subagent.SummaryLimit < 1 {
		return fmt.Errorf("subagent.summary_limit must be at least 1, got %d", c.Subagent.SummaryLimit)
	}

	if c.Subagent.MaxDepth < 1 {
		return fmt.Errorf("subagent.max_depth must be at least 1, got %d", c.Subagent.MaxDepth)
	}

	return nil
}

// Default returns a config with default values
func Default() *Config {
	return &Config{
		Port:     DefaultPort,
		Bind:     DefaultBind,
		LogLevel: DefaultLogLevel,
		Stream: StreamConfig{
			MaxSessions:        DefaultMaxSessions,
			SessionIdleTimeout: DefaultSessionIdleTimeout,
		},
		Subagent: SubagentConfig{
			ProjectDirectory: DefaultProjectDirectory(),
			SummaryLimit:     DefaultSummaryLimit,
			MaxDepth:         DefaultMaxDepth,
		},
	}
}

// Addr returns the listen address.
func (c *Config) Addr() string {
	return net.JoinHostPort(c.Bind, fmt.Sprint(c.Port))
}

// DefaultProjectDirectory returns the directory nested agents work in.
// Uses TOOLSTREAM_PROJECT_DIR if set, otherwise the working directory.
func DefaultProjectDirectory() string {
	if dir := os.Getenv("TOOLSTREAM_PROJECT_DIR"); dir != "" {
		return dir
	}
	wd, err := os.Getwd()
	if err != nil {
		return "."
	}
	return wd
}
