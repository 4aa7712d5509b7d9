package config

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/TEN-framework/ten-framework-sub001/pkg/manifest"
)

// Config represents the main tman configuration
type Config struct {
	// Registry
	Registry RegistryConfig `json:"registry" mapstructure:"registry"`

	// Logging
	Logging LoggingConfig `json:"logging" mapstructure:"logging"`

	// Target platform candidates are scored against
	Supports manifest.Supports `json:"supports" mapstructure:"supports"`

	// Graph designer
	Designer DesignerConfig `json:"designer" mapstructure:"designer"`

	// Metrics
	Metrics MetricsConfig `json:"metrics" mapstructure:"metrics"`
}

// RegistryConfig selects and tunes the package registry. URL wins over LocalDir.
type RegistryConfig struct {
	LocalDir       string `json:"local_dir" mapstructure:"local_dir"`
	URL            string `json:"url" mapstructure:"url"`
	Token          string `json:"token" mapstructure:"token"`
	TimeoutSeconds int    `json:"timeout_seconds" mapstructure:"timeout_seconds"`
	MaxRetries     int    `json:"max_retries" mapstructure:"max_retries"`
	CacheSize      int    `json:"cache_size" mapstructure:"cache_size"`
	PageSize       int    `json:"page_size" mapstructure:"page_size"`
}

// Timeout returns the per-request timeout
func (r RegistryConfig) Timeout() time.Duration {
	return time.Duration(r.TimeoutSeconds) * time.Second
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level     string `json:"level" mapstructure:"level"`
	File      string `json:"file" mapstructure:"file"`
	Pretty    bool   `json:"pretty" mapstructure:"pretty"`
	Redaction bool   `json:"redaction" mapstructure:"redaction"`
}

// DesignerConfig holds graph designer options
type DesignerConfig struct {
	IgnoreMissingApps bool `json:"ignore_missing_apps" mapstructure:"ignore_missing_apps"`
	LenientResult     bool `json:"lenient_result" mapstructure:"lenient_result"`
	Watch             bool `json:"watch" mapstructure:"watch"`
	AutoPersist       bool `json:"auto_persist" mapstructure:"auto_persist"`
}

// MetricsConfig holds metrics configuration
type MetricsConfig struct {
	Enabled bool `json:"enabled" mapstructure:"enabled"`
}

// DefaultConfig returns a config with default values
func DefaultConfig() *Config {
	return &Config{
		Registry: RegistryConfig{
			TimeoutSeconds: 30,
			MaxRetries:     3,
			CacheSize:      128,
			PageSize:       100,
		},
		Logging: LoggingConfig{
			Level:     "info",
			Redaction: true,
		},
		Designer: DesignerConfig{
			AutoPersist: true,
		},
	}
}

// String returns a JSON representation of the config
func (c *Config) String() string {
	data, _ := json.MarshalIndent(c, "", "  ")
	return string(data)
}

// Validate checks if the configuration is usable
func (c *Config) Validate() error {
	if c.Registry.URL == "" && c.Registry.LocalDir == "" {
		return fmt.Errorf("no registry configured: registry.url or registry.local_dir is required")
	}

	if errs := NewValidator().ValidateConfig(c); len(errs) > 0 {
		return errs[0]
	}

	return nil
}
