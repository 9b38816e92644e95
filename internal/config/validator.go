package config

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/harun/seance/pkg/toolexecutor"
)

// Validator validates configuration values
type Validator struct{}

// NewValidator creates a new validator
func NewValidator() *Validator {
	return &Validator{}
}

// ValidateURL validates an http(s) endpoint
func (v *Validator) ValidateURL(raw string, field string) error {
	if raw == "" {
		return fmt.Errorf("%s cannot be empty", field)
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", field, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("invalid %s: scheme must be http or https, got %q", field, u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("invalid %s: missing host", field)
	}
	return nil
}

// ValidatePort validates a TCP port
func (v *Validator) ValidatePort(port int) error {
	if port <= 0 || port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535, got %d", port)
	}
	return nil
}

// ValidateSchedule validates a cron expression or descriptor. Empty disables warming.
func (v *Validator) ValidateSchedule(spec string) error {
	if spec == "" {
		return nil
	}
	if _, err := toolexecutor.ParseSchedule(spec); err != nil {
		return fmt.Errorf("invalid warm schedule %q: %w", spec, err)
	}
	return nil
}

// ValidateProvider validates a model provider name
func (v *Validator) ValidateProvider(provider string) error {
	validProviders := []string{"ollama", "openai", "anthropic"}
	for _, valid := range validProviders {
		if provider == valid {
			return nil
		}
	}
	return fmt.Errorf("invalid provider: %s (must be one of: %s)", provider, strings.Join(validProviders, ", "))
}

// ValidateTemperature validates temperature value
func (v *Validator) ValidateTemperature(temp float64) error {
	if temp < 0 || temp > 2 {
		return fmt.Errorf("temperature must be between 0 and 2, got %f", temp)
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

// ValidateConfig performs comprehensive validation
func (v *Validator) ValidateConfig(cfg *Config) []error {
	var errors []error

	if err := v.ValidatePort(cfg.Server.Port); err != nil {
		errors = append(errors, fmt.Errorf("server: %w", err))
	}

	if err := v.ValidateProvider(cfg.Model.Provider); err != nil {
		errors = append(errors, fmt.Errorf("model: %w", err))
	}
	if cfg.Model.BaseURL != "" {
		if err := v.ValidateURL(cfg.Model.BaseURL, "model base_url"); err != nil {
			errors = append(errors, err)
		}
	}
	if err := v.ValidateTemperature(cfg.Model.Temperature); err != nil {
		errors = append(errors, fmt.Errorf("model: %w", err))
	}
	if cfg.Model.NumCtx < 0 || cfg.Model.NumPredict < 0 {
		errors = append(errors, fmt.Errorf("model num_ctx and num_predict must be >= 0"))
	}

	if err := v.ValidateURL(cfg.Tools.Endpoint, "tools endpoint"); err != nil {
		errors = append(errors, err)
	}
	if err := v.ValidateSchedule(cfg.Tools.WarmSchedule); err != nil {
		errors = append(errors, err)
	}
	if cfg.Tools.CallTimeout < 0 {
		errors = append(errors, fmt.Errorf("tools.call_timeout must be >= 0"))
	}
	if cfg.Tools.CacheTTL < 0 {
		errors = append(errors, fmt.Errorf("tools.cache_ttl must be >= 0"))
	}

	if err := v.ValidateLogLevel(cfg.Logging.Level); err != nil {
		errors = append(errors, err)
	}
	for _, pattern := range cfg.Logging.RedactPatterns {
		if _, err := regexp.Compile(pattern); err != nil {
			errors = append(errors, fmt.Errorf("logging.redact_patterns: invalid pattern %q: %w", pattern, err))
		}
	}

	if cfg.Telemetry.SampleRatio < 0 || cfg.Telemetry.SampleRatio > 1 {
		errors = append(errors, fmt.Errorf("telemetry.sample_ratio must be between 0 and 1"))
	}

	return errors
}
