package cli

import (
	"fmt"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/TEN-framework/ten-framework-sub001/internal/config"
	"github.com/TEN-framework/ten-framework-sub001/internal/logger"
	"github.com/TEN-framework/ten-framework-sub001/internal/metrics"
	"github.com/TEN-framework/ten-framework-sub001/pkg/designer"
	"github.com/TEN-framework/ten-framework-sub001/pkg/pkginfo"
	"github.com/TEN-framework/ten-framework-sub001/pkg/registry"
)

// env is everything a command builds from the configuration
type env struct {
	cfg     *config.Config
	log     *logger.Logger
	logger  zerolog.Logger
	metrics *metrics.Metrics
}

// loadEnv loads and validates the configuration and sets up logging and
// metrics. Logs go to stderr so command output stays machine readable.
func loadEnv(cmd *cobra.Command) (*env, error) {
	cfg, err := config.NewLoader(cfgFile).Load()
	if err != nil {
		return nil, err
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	if errs := config.NewValidator().ValidateConfig(cfg); len(errs) > 0 {
		return nil, fmt.Errorf("invalid configuration: %w", errs[0])
	}

	logCfg := logger.DefaultConfig()
	logCfg.Level = cfg.Logging.Level
	logCfg.File = cfg.Logging.File
	logCfg.Pretty = cfg.Logging.Pretty
	logCfg.Redaction = cfg.Logging.Redaction
	logCfg.Secrets = []string{cfg.Registry.Token}
	logCfg.Out = cmd.ErrOrStderr()

	log, err := logger.New(logCfg)
	if err != nil {
		return nil, err
	}

	e := &env{cfg: cfg, log: log, logger: log.Zerolog()}
	if cfg.Metrics.Enabled {
		e.metrics = metrics.NewMetrics()
	}
	return e, nil
}

func (e *env) close() {
	_ = e.log.Close()
}

// registry builds the configured registry; a url wins over a local directory
func (e *env) registry() (registry.Facade, error) {
	rc := e.cfg.Registry
	switch {
	case rc.URL != "":
		h, err := registry.NewHTTP(registry.HTTPConfig{
			BaseURL:    rc.URL,
			Token:      rc.Token,
			Timeout:    rc.Timeout(),
			MaxRetries: uint64(rc.MaxRetries),
			CacheSize:  rc.CacheSize,
			PageSize:   rc.PageSize,
		}, e.logger)
		if err != nil {
			return nil, err
		}
		h.SetObserver(e.metrics.RecordRegistryQuery)
		return h, nil

	case rc.LocalDir != "":
		l, err := registry.NewLocal(rc.LocalDir, e.logger)
		if err != nil {
			return nil, err
		}
		l.SetObserver(e.metrics.RecordRegistryQuery)
		return l, nil
	}
	return nil, fmt.Errorf("no registry configured: set registry.url or registry.local_dir")
}

func (e *env) cache() *pkginfo.Cache {
	cache := pkginfo.NewCache(e.logger)
	cache.SetObserver(e.metrics.SetCacheApps)
	return cache
}

func (e *env) graphStore(cache *pkginfo.Cache) *designer.Store {
	store := designer.NewStore(cache, designer.Options{
		IgnoreMissingApps: e.cfg.Designer.IgnoreMissingApps,
		LenientResult:     e.cfg.Designer.LenientResult,
		AutoPersist:       e.cfg.Designer.AutoPersist,
	}, e.logger)
	store.SetRecorder(e.metrics)
	return store
}
