package config

import (
	"encoding/json"
	"fmt"
	"time"
)

// Config is the host configuration.
type Config struct {
	// Plugin directories scanned at startup and watched for changes.
	PluginDirs []string `json:"plugin_dirs" mapstructure:"plugin_dirs"`

	// Data directory; per-plugin scoped storage lives under it.
	DataDir string `json:"data_dir" mapstructure:"data_dir"`

	// Plugins kept disabled across restarts. The daemon still loads them so
	// dependents resolve, but never enables them.
	DisabledPlugins []string `json:"disabled_plugins,omitempty" mapstructure:"disabled_plugins"`

	// Security configuration
	Security SecurityConfig `json:"security" mapstructure:"security"`

	// Rate limiting configuration
	RateLimits RateLimitsConfig `json:"rate_limits" mapstructure:"rate_limits"`

	// Message bus configuration
	Bus BusConfig `json:"bus" mapstructure:"bus"`

	// Scheduler configuration
	Scheduler SchedulerConfig `json:"scheduler" mapstructure:"scheduler"`

	// Metrics endpoint configuration
	Metrics MetricsConfig `json:"metrics" mapstructure:"metrics"`

	// Logging
	Logging LoggingConfig `json:"logging" mapstructure:"logging"`

	// AI provider configuration
	AI AIConfig `json:"ai" mapstructure:"ai"`
}

// SecurityConfig holds the trust policy and signing material.
type SecurityConfig struct {
	RequireSignatures bool   `json:"require_signatures" mapstructure:"require_signatures"`
	AllowUntrusted    bool   `json:"allow_untrusted" mapstructure:"allow_untrusted"`
	SigningSecret     string `json:"signing_secret" mapstructure:"signing_secret"`
}

// RateLimitsConfig holds per-operation-class rate limits.
type RateLimitsConfig struct {
	Default       int            `json:"default" mapstructure:"default"`                 // calls per window
	WindowSeconds int            `json:"window_seconds" mapstructure:"window_seconds"`   // sliding window length
	PerClass      map[string]int `json:"per_class" mapstructure:"per_class"`
}

// Window returns the sliding window duration.
func (r RateLimitsConfig) Window() time.Duration {
	return time.Duration(r.WindowSeconds) * time.Second
}

// BusConfig holds message bus configuration.
type BusConfig struct {
	HistorySize int `json:"history_size" mapstructure:"history_size"`
}

// SchedulerConfig holds scheduler configuration.
type SchedulerConfig struct {
	StorePath string `json:"store_path" mapstructure:"store_path"` // SQLite path; empty means in-memory
}

// MetricsConfig holds the Prometheus endpoint configuration.
type MetricsConfig struct {
	Enabled bool   `json:"enabled" mapstructure:"enabled"`
	Host    string `json:"host" mapstructure:"host"`
	Port    int    `json:"port" mapstructure:"port"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level     string `json:"level" mapstructure:"level"`
	File      string `json:"file" mapstructure:"file"`
	Console   bool   `json:"console" mapstructure:"console"`
	Pretty    bool   `json:"pretty" mapstructure:"pretty"`
	MaxSize   int    `json:"max_size" mapstructure:"max_size"` // MB
	MaxAge    int    `json:"max_age" mapstructure:"max_age"`   // days
	Compress  bool   `json:"compress" mapstructure:"compress"`
	Redaction bool   `json:"redaction" mapstructure:"redaction"`
}

// AIConfig holds AI provider credentials for the AI capability.
type AIConfig struct {
	AnthropicAPIKey string `json:"anthropic_api_key" mapstructure:"anthropic_api_key"`
	OpenAIAPIKey    string `json:"openai_api_key" mapstructure:"openai_api_key"`
	DefaultModel    string `json:"default_model" mapstructure:"default_model"`
}

// DefaultConfig returns a config with default values.
func DefaultConfig() *Config {
	return &Config{
		PluginDirs: []string{},
		Security: SecurityConfig{
			RequireSignatures: true,
			AllowUntrusted:    false,
		},
		RateLimits: RateLimitsConfig{
			Default:       120,
			WindowSeconds: 60,
			PerClass: map[string]int{
				"network":  60,
				"shell":    20,
				"database": 120,
				"ai":       10,
			},
		},
		Bus: BusConfig{
			HistorySize: 500,
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Host:    "127.0.0.1",
			Port:    9090,
		},
		Logging: LoggingConfig{
			Level:     "info",
			Console:   true,
			Pretty:    true,
			MaxSize:   100,
			MaxAge:    7,
			Compress:  true,
			Redaction: true,
		},
		AI: AIConfig{
			DefaultModel: "claude-sonnet-4",
		},
	}
}

// IsPluginDisabled reports whether a plugin is pinned disabled.
func (c *Config) IsPluginDisabled(id string) bool {
	for _, d := range c.DisabledPlugins {
		if d == id {
			return true
		}
	}
	return false
}

// SetPluginDisabled pins or unpins a plugin as disabled. Returns false when
// the call changed nothing.
func (c *Config) SetPluginDisabled(id string, disabled bool) bool {
	if disabled {
		if c.IsPluginDisabled(id) {
			return false
		}
		c.DisabledPlugins = append(c.DisabledPlugins, id)
		return true
	}
	for i, d := range c.DisabledPlugins {
		if d == id {
			c.DisabledPlugins = append(c.DisabledPlugins[:i], c.DisabledPlugins[i+1:]...)
			return true
		}
	}
	return false
}

// String returns a JSON representation of the config.
func (c *Config) String() string {
	data, _ := json.MarshalIndent(c, "", "  ")
	return string(data)
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if len(c.PluginDirs) == 0 {
		return fmt.Errorf("at least one plugin directory must be configured")
	}

	if c.Security.RequireSignatures && c.Security.SigningSecret == "" {
		return fmt.Errorf("signing secret is required when signatures are required")
	}

	if c.RateLimits.Default <= 0 {
		return fmt.Errorf("rate limit default must be positive")
	}
	if c.RateLimits.WindowSeconds <= 0 {
		return fmt.Errorf("rate limit window must be positive")
	}
	for class, limit := range c.RateLimits.PerClass {
		if limit <= 0 {
			return fmt.Errorf("rate limit for class %s must be positive", class)
		}
	}

	if c.Bus.HistorySize < 0 {
		return fmt.Errorf("bus history size cannot be negative")
	}

	if c.Metrics.Enabled && (c.Metrics.Port <= 0 || c.Metrics.Port > 65535) {
		return fmt.Errorf("metrics port must be between 1 and 65535")
	}

	validLevels := []string{"debug", "info", "warn", "error", ""}
	valid := false
	for _, l := range validLevels {
		if c.Logging.Level == l {
			valid = true
			break
		}
	}
	if !valid {
		return fmt.Errorf("invalid log level: %s", c.Logging.Level)
	}

	return nil
}
