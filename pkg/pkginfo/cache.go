package pkginfo

import (
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"sync"

	"github.com/rs/zerolog"
	"github.com/texttheater/golang-levenshtein/levenshtein"

	"github.com/TEN-framework/ten-framework-sub001/pkg/graph"
)

var (
	// ErrUnknownApp is returned when no cached app matches a URI or base dir
	ErrUnknownApp = errors.New("unknown app")

	// ErrUnknownExtension is returned when an app has no extension for an addon
	ErrUnknownExtension = graph.ErrUnknownExtension

	// ErrDuplicateAppURI is returned when two cached apps claim the same URI
	ErrDuplicateAppURI = errors.New("duplicate app uri")
)

// CacheObserver is notified when the number of cached apps changes
type CacheObserver func(apps int)

// Cache maps app base dirs to their loaded packages
type Cache struct {
	mu       sync.RWMutex
	apps     map[string]*PkgsInfoInApp
	loader   *Loader
	observer CacheObserver
	logger   zerolog.Logger
}

// NewCache creates an empty package cache
func NewCache(logger zerolog.Logger) *Cache {
	return &Cache{
		apps:   make(map[string]*PkgsInfoInApp),
		loader: NewLoader(logger),
		logger: logger.With().Str("component", "pkg-cache").Logger(),
	}
}

// SetObserver registers a callback for cache size changes
func (c *Cache) SetObserver(observer CacheObserver) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.observer = observer
}

// Load returns the cached app at appDir, loading it on first use
func (c *Cache) Load(appDir string) (*PkgsInfoInApp, error) {
	key, err := cacheKey(appDir)
	if err != nil {
		return nil, err
	}
	if pkgs, ok := c.Get(key); ok {
		return pkgs, nil
	}
	return c.Refresh(key)
}

// Refresh reloads appDir from disk and replaces its cache entry. On error
// the entry is dropped.
func (c *Cache) Refresh(appDir string) (*PkgsInfoInApp, error) {
	key, err := cacheKey(appDir)
	if err != nil {
		return nil, err
	}

	pkgs, err := c.loader.LoadApp(key)
	if err == nil {
		err = c.Set(key, pkgs)
	}
	if err != nil {
		if c.Delete(key) {
			c.logger.Warn().Err(err).Str("app", key).Msg("Dropped app from cache")
		}
		return nil, err
	}

	c.logger.Debug().Str("app", key).Msg("App cached")
	return pkgs, nil
}

// Set stores an app in the cache. It fails with ErrDuplicateAppURI when
// another cached app already claims the same URI.
func (c *Cache) Set(appDir string, pkgs *PkgsInfoInApp) error {
	key, err := cacheKey(appDir)
	if err != nil {
		key = appDir
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	uri := graph.AppURI(pkgs.AppURI())
	for dir, other := range c.apps {
		if dir != key && graph.AppURI(other.AppURI()) == uri {
			return fmt.Errorf("%w: %q claimed by %s and %s", ErrDuplicateAppURI, uri, dir, key)
		}
	}

	c.apps[key] = pkgs
	c.notifyLocked()
	return nil
}

// Get retrieves an app from the cache
func (c *Cache) Get(appDir string) (*PkgsInfoInApp, bool) {
	key, err := cacheKey(appDir)
	if err != nil {
		return nil, false
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	pkgs, ok := c.apps[key]
	return pkgs, ok
}

// Delete removes an app from the cache
func (c *Cache) Delete(appDir string) bool {
	key, err := cacheKey(appDir)
	if err != nil {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.apps[key]
	if ok {
		delete(c.apps, key)
		c.notifyLocked()
	}
	return ok
}

// BaseDirs returns the cached app dirs in sorted order
func (c *Cache) BaseDirs() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	dirs := make([]string, 0, len(c.apps))
	for dir := range c.apps {
		dirs = append(dirs, dir)
	}
	sort.Strings(dirs)
	return dirs
}

// Size returns the number of cached apps
func (c *Cache) Size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.apps)
}

func (c *Cache) notifyLocked() {
	if c.observer != nil {
		c.observer(len(c.apps))
	}
}

// BuildURIMap indexes cached apps by URI. Unspecified URIs use the empty
// key, so two apps without a URI collide as well.
func (c *Cache) BuildURIMap() (map[string]*PkgsInfoInApp, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.uriMapLocked()
}

func (c *Cache) uriMapLocked() (map[string]*PkgsInfoInApp, error) {
	dirs := make([]string, 0, len(c.apps))
	for dir := range c.apps {
		dirs = append(dirs, dir)
	}
	sort.Strings(dirs)

	out := make(map[string]*PkgsInfoInApp, len(dirs))
	for _, dir := range dirs {
		pkgs := c.apps[dir]
		uri := graph.AppURI(pkgs.AppURI())
		if prev, ok := out[uri]; ok {
			return nil, fmt.Errorf("%w: %q claimed by %s and %s", ErrDuplicateAppURI, uri, prev.BaseDir, dir)
		}
		out[uri] = pkgs
	}
	return out, nil
}

// ResolveApp finds the app for an optional URI, falling back to the app at
// fallbackBaseDir when no cached app claims the URI
func (c *Cache) ResolveApp(app *string, fallbackBaseDir string) (*PkgsInfoInApp, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	uris, err := c.uriMapLocked()
	if err != nil {
		return nil, err
	}
	if pkgs, ok := uris[graph.AppURI(app)]; ok {
		return pkgs, nil
	}
	if own := c.ownAppLocked(app, fallbackBaseDir); own != nil {
		return own, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownApp, graph.AppURI(app))
}

// ownAppLocked returns the app at fallbackBaseDir when its URI does not
// contradict app, or nil
func (c *Cache) ownAppLocked(app *string, fallbackBaseDir string) *PkgsInfoInApp {
	if fallbackBaseDir == "" {
		return nil
	}
	key, err := cacheKey(fallbackBaseDir)
	if err != nil {
		return nil
	}
	pkgs, ok := c.apps[key]
	if !ok {
		return nil
	}
	if uri := pkgs.AppURI(); app != nil && uri != nil && *uri != *app {
		return nil
	}
	return pkgs
}

// ResolveAddon returns the extension package implementing addon. The app
// claiming the URI is tried first, then the app at fallbackBaseDir.
func (c *Cache) ResolveAddon(app *string, addon, fallbackBaseDir string) (*PkgInfo, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	uris, err := c.uriMapLocked()
	if err != nil {
		return nil, err
	}
	matched := uris[graph.AppURI(app)]
	if matched != nil {
		if p, ok := matched.Extension(addon); ok {
			return p, nil
		}
	}

	own := c.ownAppLocked(app, fallbackBaseDir)
	if own != nil && own != matched {
		if p, ok := own.Extension(addon); ok {
			return p, nil
		}
	}

	pkgs := own
	if pkgs == nil {
		pkgs = matched
	}
	if pkgs == nil {
		return nil, fmt.Errorf("%w: %q", ErrUnknownApp, graph.AppURI(app))
	}
	if s := suggest(addon, pkgs.Extensions); s != "" {
		return nil, fmt.Errorf("%w: addon %q in app %s (did you mean %q?)", ErrUnknownExtension, addon, pkgs.BaseDir, s)
	}
	return nil, fmt.Errorf("%w: addon %q in app %s", ErrUnknownExtension, addon, pkgs.BaseDir)
}

// suggest returns the closest extension name within a third of the
// addon's length, or ""
func suggest(addon string, exts []*PkgInfo) string {
	best, bestDist := "", len(addon)/3+1
	for _, p := range exts {
		d := levenshtein.DistanceForStrings([]rune(addon), []rune(p.Manifest.Name), levenshtein.DefaultOptions)
		if d < bestDist {
			best, bestDist = p.Manifest.Name, d
		}
	}
	return best
}

func cacheKey(appDir string) (string, error) {
	abs, err := filepath.Abs(appDir)
	if err != nil {
		return "", fmt.Errorf("failed to resolve app dir: %w", err)
	}
	return filepath.Clean(abs), nil
}
