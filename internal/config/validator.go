package config

import (
	"fmt"
	"net/url"
	"sort"
	"strings"

	"github.com/TEN-framework/ten-framework-sub001/pkg/manifest"
)

// Validator validates configuration values
type Validator struct{}

// NewValidator creates a new validator
func NewValidator() *Validator {
	return &Validator{}
}

// ValidateRegistryURL validates a registry base URL
func (v *Validator) ValidateRegistryURL(raw string) error {
	if raw == "" {
		return nil // Local registry
	}

	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid registry url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("invalid registry url %q (scheme must be http or https)", raw)
	}
	if u.Host == "" {
		return fmt.Errorf("invalid registry url %q (missing host)", raw)
	}

	return nil
}

// ValidateOS validates a supports os value
func (v *Validator) ValidateOS(os manifest.OS) error {
	if os == "" || manifest.ValidOS[os] {
		return nil
	}
	return fmt.Errorf("invalid os: %s (must be one of: %s)", os, strings.Join(keys(manifest.ValidOS), ", "))
}

// ValidateArch validates a supports arch value
func (v *Validator) ValidateArch(arch manifest.Arch) error {
	if arch == "" || manifest.ValidArch[arch] {
		return nil
	}
	return fmt.Errorf("invalid arch: %s (must be one of: %s)", arch, strings.Join(keys(manifest.ValidArch), ", "))
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

	// Registry
	if err := v.ValidateRegistryURL(cfg.Registry.URL); err != nil {
		errors = append(errors, err)
	}
	if cfg.Registry.TimeoutSeconds <= 0 {
		errors = append(errors, fmt.Errorf("registry.timeout_seconds must be > 0"))
	}
	if cfg.Registry.MaxRetries < 0 {
		errors = append(errors, fmt.Errorf("registry.max_retries must be >= 0"))
	}
	if cfg.Registry.CacheSize < 0 {
		errors = append(errors, fmt.Errorf("registry.cache_size must be >= 0"))
	}
	if cfg.Registry.PageSize < 0 {
		errors = append(errors, fmt.Errorf("registry.page_size must be >= 0"))
	}

	// Supports
	if err := v.ValidateOS(cfg.Supports.OS); err != nil {
		errors = append(errors, err)
	}
	if err := v.ValidateArch(cfg.Supports.Arch); err != nil {
		errors = append(errors, err)
	}

	// Logging
	if err := v.ValidateLogLevel(cfg.Logging.Level); err != nil {
		errors = append(errors, err)
	}

	return errors
}

func keys[K ~string](m map[K]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, string(k))
	}
	sort.Strings(out)
	return out
}
