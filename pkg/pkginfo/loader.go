package pkginfo

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/rs/zerolog"

	"github.com/TEN-framework/ten-framework-sub001/pkg/manifest"
	"github.com/TEN-framework/ten-framework-sub001/pkg/property"
)

// PackagesDir is the directory under an app holding installed packages
const PackagesDir = "ten_packages"

// Loader scans app directories
type Loader struct {
	manifests *manifest.Loader
	logger    zerolog.Logger
}

// NewLoader creates a new app loader
func NewLoader(logger zerolog.Logger) *Loader {
	return &Loader{
		manifests: manifest.NewLoader(logger),
		logger:    logger.With().Str("component", "pkg-loader").Logger(),
	}
}

// LoadPackage loads the package rooted at dir
func (l *Loader) LoadPackage(dir string) (*PkgInfo, error) {
	m, err := l.manifests.LoadDir(dir)
	if err != nil {
		return nil, err
	}
	p, err := New(m)
	if err != nil {
		return nil, err
	}
	p.BaseDir = dir
	return p, nil
}

// LoadApp loads the app at appDir, its property file and every package
// installed under ten_packages/<kind>/<name>/. Installed packages with an
// invalid manifest or location are skipped.
func (l *Loader) LoadApp(appDir string) (*PkgsInfoInApp, error) {
	appDir, err := filepath.Abs(appDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve app dir: %w", err)
	}

	app, err := l.LoadPackage(appDir)
	if err != nil {
		return nil, fmt.Errorf("failed to load app %s: %w", appDir, err)
	}
	if app.Manifest.Type != manifest.PkgTypeApp {
		return nil, fmt.Errorf("%w: %s is a %s, not an app", manifest.ErrInvalidManifest, appDir, app.Manifest.Type)
	}
	app.IsInstalled = true

	propPath := filepath.Join(appDir, property.FileName)
	if _, err := os.Stat(propPath); err == nil {
		doc, err := property.LoadFile(propPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load app %s: %w", appDir, err)
		}
		app.Property = doc
	}

	pkgs := &PkgsInfoInApp{BaseDir: appDir, App: app}
	for _, kind := range manifest.InstalledPkgTypes {
		found, err := l.scanKind(appDir, kind)
		if err != nil {
			return nil, err
		}
		*pkgs.list(kind) = found
	}

	l.logger.Debug().
		Str("app", appDir).
		Int("extensions", len(pkgs.Extensions)).
		Int("protocols", len(pkgs.Protocols)).
		Int("addonLoaders", len(pkgs.AddonLoaders)).
		Int("systems", len(pkgs.Systems)).
		Msg("Loaded app packages")

	return pkgs, nil
}

func (l *Loader) scanKind(appDir string, kind manifest.PkgType) ([]*PkgInfo, error) {
	kindDir := filepath.Join(appDir, PackagesDir, string(kind))
	entries, err := os.ReadDir(kindDir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read %s: %w", kindDir, err)
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	var out []*PkgInfo
	for _, name := range names {
		dir := filepath.Join(kindDir, name)
		if _, err := os.Stat(filepath.Join(dir, manifest.FileName)); err != nil {
			continue
		}

		p, err := l.LoadPackage(dir)
		if err == nil {
			err = manifest.CheckFsLocation(p.Manifest, string(kind), name)
		}
		if err != nil {
			l.logger.Warn().
				Err(err).
				Str("path", dir).
				Msg("Skipping installed package")
			continue
		}

		p.IsInstalled = true
		out = append(out, p)
	}
	return out, nil
}
