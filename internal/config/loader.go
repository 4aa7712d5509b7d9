package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. TMAN_REGISTRY_URL
const EnvPrefix = "TMAN"

// Loader handles configuration loading
type Loader struct {
	configPath string
}

// NewLoader creates a new config loader
func NewLoader(configPath string) *Loader {
	return &Loader{
		configPath: configPath,
	}
}

// Load loads the configuration from file, then applies environment overrides.
// A .env file in the working directory is read first when present.
func (l *Loader) Load() (*Config, error) {
	_ = godotenv.Load()

	configPath := l.GetConfigPath()
	if configPath == "" {
		return nil, fmt.Errorf("failed to determine config path")
	}

	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.AutomaticEnv()
	bindEnv(v)

	if _, err := os.Stat(configPath); err == nil {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	cfg := DefaultConfig()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if cfg.Registry.LocalDir != "" {
		dir, err := expandHome(cfg.Registry.LocalDir)
		if err != nil {
			return nil, err
		}
		cfg.Registry.LocalDir = dir
	}

	return cfg, nil
}

// Save saves the configuration to file
func (l *Loader) Save(cfg *Config) error {
	configPath := l.GetConfigPath()
	if configPath == "" {
		return fmt.Errorf("failed to determine config path")
	}

	if err := os.MkdirAll(filepath.Dir(configPath), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType("json")

	v.Set("registry", cfg.Registry)
	v.Set("logging", cfg.Logging)
	v.Set("supports", cfg.Supports)
	v.Set("designer", cfg.Designer)
	v.Set("metrics", cfg.Metrics)

	if err := v.WriteConfigAs(configPath); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// GetConfigPath returns the config file path
func (l *Loader) GetConfigPath() string {
	if l.configPath != "" {
		return l.configPath
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".tman", "config.json")
}

// Load is a convenience function that creates a loader and loads the config
func Load(configPath string) (*Config, error) {
	return NewLoader(configPath).Load()
}

// AutomaticEnv only sees keys viper already knows about; nested keys without
// a file value need an explicit binding.
func bindEnv(v *viper.Viper) {
	for _, key := range []string{
		"registry.local_dir",
		"registry.url",
		"registry.token",
		"registry.timeout_seconds",
		"registry.max_retries",
		"registry.cache_size",
		"registry.page_size",
		"logging.level",
		"logging.file",
		"logging.pretty",
		"logging.redaction",
		"supports.os",
		"supports.arch",
		"designer.ignore_missing_apps",
		"designer.lenient_result",
		"designer.watch",
		"designer.auto_persist",
		"metrics.enabled",
	} {
		_ = v.BindEnv(key, EnvPrefix+"_"+envName(key))
	}
}

func envName(key string) string {
	return strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
}

func expandHome(path string) (string, error) {
	if !strings.HasPrefix(path, "~/") {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, path[2:]), nil
}
