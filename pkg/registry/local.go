package registry

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/TEN-framework/ten-framework-sub001/pkg/manifest"
	"github.com/TEN-framework/ten-framework-sub001/pkg/pkginfo"
	"github.com/TEN-framework/ten-framework-sub001/pkg/semver"
)

// PackageFileName is the package content stored next to each manifest
const PackageFileName = "package.tpkg"

// Local is a registry kept in a directory laid out as
// <root>/<type>/<name>/<version>/{manifest.json,package.tpkg}
type Local struct {
	root     string
	mu       sync.RWMutex
	observer QueryObserver
	logger   zerolog.Logger
}

var _ Facade = (*Local)(nil)

// NewLocal creates a registry rooted at root
func NewLocal(root string, logger zerolog.Logger) (*Local, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve registry dir: %w", err)
	}
	if err := os.MkdirAll(abs, 0755); err != nil {
		return nil, fmt.Errorf("failed to create registry dir: %w", err)
	}
	return &Local{
		root:   abs,
		logger: logger.With().Str("component", "registry").Str("registry", "local").Logger(),
	}, nil
}

// SetObserver registers a callback for list query outcomes. It must be
// called before the registry is shared.
func (l *Local) SetObserver(observer QueryObserver) {
	l.observer = observer
}

// GetPackageList returns matching entries sorted by type, name and
// descending version
func (l *Local) GetPackageList(ctx context.Context, q Query) ([]Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	l.mu.RLock()
	defer l.mu.RUnlock()

	var entries []Entry
	for _, typeDir := range l.subdirs(l.root) {
		if q.Type != "" && typeDir != string(q.Type) {
			continue
		}
		for _, nameDir := range l.subdirs(filepath.Join(l.root, typeDir)) {
			if q.Name != "" && nameDir != q.Name {
				continue
			}
			for _, versionDir := range l.subdirs(filepath.Join(l.root, typeDir, nameDir)) {
				dir := filepath.Join(l.root, typeDir, nameDir, versionDir)
				e, err := l.readEntry(dir)
				if err != nil {
					l.logger.Warn().Err(err).Str("path", dir).Msg("Skipping registry entry")
					continue
				}
				if q.matches(e.Manifest) {
					entries = append(entries, e)
				}
			}
		}
	}

	sort.SliceStable(entries, func(i, j int) bool {
		a, b := entries[i].Manifest, entries[j].Manifest
		if a.Type != b.Type {
			return a.Type < b.Type
		}
		if a.Name != b.Name {
			return a.Name < b.Name
		}
		return semver.Compare(a.Version, b.Version) > 0
	})

	l.notify("ok")
	return q.page(entries), nil
}

// GetPackage reads the stored package content
func (l *Local) GetPackage(ctx context.Context, pkgType manifest.PkgType, name string, version semver.Version, url string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	l.mu.RLock()
	defer l.mu.RUnlock()

	path := strings.TrimPrefix(url, "file://")
	if path == "" {
		path = filepath.Join(l.dir(pkgType, name, version), PackageFileName)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s:%s@%s", ErrNotFound, pkgType, name, version)
		}
		return nil, fmt.Errorf("%w: %w", ErrRegistryTransport, err)
	}
	return data, nil
}

// UploadPackage stores the manifest and content of info
func (l *Local) UploadPackage(ctx context.Context, data []byte, info *pkginfo.PkgInfo) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	m := info.Manifest
	manifestData, err := m.MarshalJSON()
	if err != nil {
		return "", fmt.Errorf("failed to marshal manifest: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	dir := l.dir(m.Type, m.Name, m.Version)
	if _, err := os.Stat(dir); err == nil {
		return "", fmt.Errorf("%w: %s@%s", ErrAlreadyExists, m.TypeAndName, m.Version)
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("%w: %w", ErrRegistryTransport, err)
	}

	pkgPath := filepath.Join(dir, PackageFileName)
	if err := writeAtomic(pkgPath, data); err != nil {
		_ = os.RemoveAll(dir)
		return "", err
	}
	if err := writeAtomic(filepath.Join(dir, manifest.FileName), manifestData); err != nil {
		_ = os.RemoveAll(dir)
		return "", err
	}

	l.logger.Info().
		Str("package", m.TypeAndName.String()).
		Str("version", m.Version.String()).
		Msg("Package uploaded")

	return "file://" + pkgPath, nil
}

// DeletePackage removes a stored version whose manifest hash matches hash.
// An empty hash matches any.
func (l *Local) DeletePackage(ctx context.Context, pkgType manifest.PkgType, name string, version semver.Version, hash string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	dir := l.dir(pkgType, name, version)
	e, err := l.readEntry(dir)
	if err != nil {
		return fmt.Errorf("%w: %s:%s@%s", ErrNotFound, pkgType, name, version)
	}
	if hash != "" && e.Hash != hash {
		return fmt.Errorf("%w: %s:%s@%s with hash %s", ErrNotFound, pkgType, name, version, hash)
	}
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("%w: %w", ErrRegistryTransport, err)
	}

	l.logger.Info().
		Str("package", fmt.Sprintf("%s:%s", pkgType, name)).
		Str("version", version.String()).
		Msg("Package deleted")
	return nil
}

func (l *Local) dir(pkgType manifest.PkgType, name string, version semver.Version) string {
	return filepath.Join(l.root, string(pkgType), name, version.String())
}

func (l *Local) readEntry(dir string) (Entry, error) {
	data, err := os.ReadFile(filepath.Join(dir, manifest.FileName))
	if err != nil {
		return Entry{}, err
	}
	m, err := manifest.Parse(data)
	if err != nil {
		return Entry{}, err
	}
	return Entry{
		Manifest:    m,
		DownloadURL: "file://" + filepath.Join(dir, PackageFileName),
		Hash:        m.Hash,
	}, nil
}

func (l *Local) subdirs(dir string) []string {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() && !strings.HasPrefix(e.Name(), ".") {
			out = append(out, e.Name())
		}
	}
	sort.Strings(out)
	return out
}

func (l *Local) notify(status string) {
	if l.observer != nil {
		l.observer(status)
	}
}

// writeAtomic writes data to a temp file and renames it into place
func writeAtomic(path string, data []byte) error {
	tempPath := path + ".tmp"
	if err := os.WriteFile(tempPath, data, 0644); err != nil {
		return fmt.Errorf("%w: failed to write %s: %w", ErrRegistryTransport, path, err)
	}
	if err := os.Rename(tempPath, path); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("%w: failed to rename %s: %w", ErrRegistryTransport, path, err)
	}
	return nil
}
