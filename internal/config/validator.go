package config

import (
	"fmt"
	"strings"
)

// Validator validates configuration values
type Validator struct{}

// NewValidator creates a new validator
func NewValidator() *Validator {
	return &Validator{}
}

// ValidateAPIKey validates an API key format
func (v *Validator) ValidateAPIKey(key string, provider string) error {
	if key == "" {
		return fmt.Errorf("%s API key cannot be empty", provider)
	}

	switch provider {
	case "anthropic":
		if !strings.HasPrefix(key, "sk-ant-") {
			return fmt.Errorf("invalid Anthropic API key format (should start with sk-ant-)")
		}
	case "openai":
		if !strings.HasPrefix(key, "sk-") {
			return fmt.Errorf("invalid OpenAI API key format (should start with sk-)")
		}
	}

	return nil
}

// ValidateLogLevel validates log level
func (v *Validator) ValidateLogLevel(level string) error {
	validLevels := []string{"debug", "info", "warn", "error"}
	for _, valid := range validLevels {
		if level == valid {
			return nil
		}
	}
	return fmt.Errorf("invalid log level: %s (must be one of: %s)", level, strings.Join(validLevels, ", "))
}

// ValidateRateLimitClass validates a rate limit operation class name
func (v *Validator) ValidateRateLimitClass(class string) error {
	validClasses := []string{"network", "filesystem", "clipboard", "shell", "database", "secrets", "ai", "extended", "default"}
	for _, valid := range validClasses {
		if class == valid {
			return nil
		}
	}
	return fmt.Errorf("unknown rate limit class: %s (must be one of: %s)", class, strings.Join(validClasses, ", "))
}

// ValidateConfig performs comprehensive validation
func (v *Validator) ValidateConfig(cfg *Config) []error {
	var errors []error

	if cfg.AI.AnthropicAPIKey != "" {
		if err := v.ValidateAPIKey(cfg.AI.AnthropicAPIKey, "anthropic"); err != nil {
			errors = append(errors, err)
		}
	}
	if cfg.AI.OpenAIAPIKey != "" {
		if err := v.ValidateAPIKey(cfg.AI.OpenAIAPIKey, "openai"); err != nil {
			errors = append(errors, err)
		}
	}

	for _, dir := range cfg.PluginDirs {
		if strings.TrimSpace(dir) == "" {
			errors = append(errors, fmt.Errorf("plugin directory cannot be blank"))
		}
	}

	for class := range cfg.RateLimits.PerClass {
		if err := v.ValidateRateLimitClass(class); err != nil {
			errors = append(errors, err)
		}
	}

	if cfg.Security.RequireSignatures && cfg.Security.SigningSecret == "" {
		errors = append(errors, fmt.Errorf("security.signing_secret is required when signatures are required"))
	}

	if err := v.ValidateLogLevel(cfg.Logging.Level); err != nil {
		errors = append(errors, err)
	}

	return errors
}
