package pkginfo

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"

	"github.com/TEN-framework/ten-framework-sub001/pkg/manifest"
	"github.com/TEN-framework/ten-framework-sub001/pkg/property"
)

// RefreshCallback is called after an app was reloaded because of a file change
type RefreshCallback func(appDir string, err error)

// Watcher refreshes cache entries when manifest or property files change
type Watcher struct {
	watcher            *fsnotify.Watcher
	cache              *Cache
	stabilityThreshold time.Duration
	onRefresh          RefreshCallback
	logger             zerolog.Logger

	done           chan struct{}
	debounceTimers map[string]*time.Timer
	debounceMu     sync.Mutex
	stopOnce       sync.Once
}

// WatcherConfig holds configuration for the watcher
type WatcherConfig struct {
	StabilityThreshold time.Duration
	OnRefresh          RefreshCallback
}

// NewWatcher creates a watcher for cache
func NewWatcher(cache *Cache, config WatcherConfig, logger zerolog.Logger) (*Watcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}

	if config.StabilityThreshold == 0 {
		config.StabilityThreshold = 100 * time.Millisecond
	}

	return &Watcher{
		watcher:            w,
		cache:              cache,
		stabilityThreshold: config.StabilityThreshold,
		onRefresh:          config.OnRefresh,
		logger:             logger.With().Str("component", "pkg-watcher").Logger(),
		done:               make(chan struct{}),
		debounceTimers:     make(map[string]*time.Timer),
	}, nil
}

// Watch adds an app directory and its package directories
func (w *Watcher) Watch(appDir string) error {
	key, err := cacheKey(appDir)
	if err != nil {
		return err
	}
	if err := w.addDirectoryRecursive(key); err != nil {
		return fmt.Errorf("failed to watch app: %w", err)
	}
	w.logger.Info().Str("app", key).Msg("Watching app")
	return nil
}

// Start starts the event loop
func (w *Watcher) Start() {
	go w.eventLoop()
}

// Stop stops the watcher
func (w *Watcher) Stop() error {
	w.stopOnce.Do(func() {
		close(w.done)
	})

	w.debounceMu.Lock()
	for _, timer := range w.debounceTimers {
		timer.Stop()
	}
	clear(w.debounceTimers)
	w.debounceMu.Unlock()

	if err := w.watcher.Close(); err != nil {
		return fmt.Errorf("failed to close watcher: %w", err)
	}
	return nil
}

func (w *Watcher) eventLoop() {
	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleEvent(event)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Error().Err(err).Msg("Watcher error")

		case <-w.done:
			return
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	if event.Op&fsnotify.Create == fsnotify.Create {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() && !w.shouldIgnore(event.Name) {
			_ = w.addDirectoryRecursive(event.Name)
		}
	}

	base := filepath.Base(event.Name)
	if base != manifest.FileName && base != property.FileName {
		return
	}

	appDir := w.owningApp(event.Name)
	if appDir == "" {
		return
	}
	w.debounce(appDir)
}

// debounce collapses bursts of events for one app into a single refresh
func (w *Watcher) debounce(appDir string) {
	w.debounceMu.Lock()
	defer w.debounceMu.Unlock()

	if timer, exists := w.debounceTimers[appDir]; exists {
		timer.Stop()
	}

	w.debounceTimers[appDir] = time.AfterFunc(w.stabilityThreshold, func() {
		w.debounceMu.Lock()
		delete(w.debounceTimers, appDir)
		w.debounceMu.Unlock()

		select {
		case <-w.done:
			return
		default:
			w.refresh(appDir)
		}
	})
}

func (w *Watcher) refresh(appDir string) {
	_, err := w.cache.Refresh(appDir)
	if err != nil {
		w.logger.Error().Err(err).Str("app", appDir).Msg("Failed to refresh app")
	} else {
		w.logger.Debug().Str("app", appDir).Msg("App refreshed")
	}
	if w.onRefresh != nil {
		w.onRefresh(appDir, err)
	}
}

// owningApp returns the cached app dir containing path, or ""
func (w *Watcher) owningApp(path string) string {
	best := ""
	for _, dir := range w.cache.BaseDirs() {
		if path == dir || strings.HasPrefix(path, dir+string(filepath.Separator)) {
			if len(dir) > len(best) {
				best = dir
			}
		}
	}
	return best
}

func (w *Watcher) addDirectoryRecursive(path string) error {
	return filepath.Walk(path, func(walkPath string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() {
			return nil
		}
		if w.shouldIgnore(walkPath) {
			return filepath.SkipDir
		}

		if err := w.watcher.Add(walkPath); err != nil {
			w.logger.Warn().
				Err(err).
				Str("path", walkPath).
				Msg("Failed to watch path")
		}
		return nil
	})
}

// shouldIgnore skips dot directories and build output
func (w *Watcher) shouldIgnore(path string) bool {
	base := filepath.Base(path)
	if len(base) > 1 && base[0] == '.' {
		return true
	}
	return base == "node_modules" || base == "build" || base == "out"
}
