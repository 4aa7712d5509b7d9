package resolver

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/TEN-framework/ten-framework-sub001/pkg/manifest"
	"github.com/TEN-framework/ten-framework-sub001/pkg/pkginfo"
	"github.com/TEN-framework/ten-framework-sub001/pkg/semver"
)

// LockFileName is the lock file kept next to an app manifest
const LockFileName = "manifest-lock.json"

type lockFile struct {
	Version  int         `json:"version"`
	Packages []lockEntry `json:"packages"`
}

type lockEntry struct {
	Type     string              `json:"type"`
	Name     string              `json:"name"`
	Version  semver.Version      `json:"version"`
	Hash     string              `json:"hash"`
	Supports []manifest.Supports `json:"supports,omitempty"`
}

// LoadLock reads the lock file of the app at appDir. A missing file yields an
// empty lock.
func LoadLock(appDir string) (map[manifest.TypeAndName]*pkginfo.PkgInfo, error) {
	path := filepath.Join(appDir, LockFileName)
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read lock file: %w", err)
	}
	return ParseLock(data)
}

// ParseLock decodes lock file content into the locked package of every
// (type, name)
func ParseLock(data []byte) (map[manifest.TypeAndName]*pkginfo.PkgInfo, error) {
	var lf lockFile
	if err := json.Unmarshal(data, &lf); err != nil {
		return nil, fmt.Errorf("%w: lock file: %w", manifest.ErrInvalidManifest, err)
	}

	locked := make(map[manifest.TypeAndName]*pkginfo.PkgInfo, len(lf.Packages))
	for i, e := range lf.Packages {
		t, err := manifest.ParsePkgType(e.Type)
		if err != nil {
			return nil, fmt.Errorf("lock entry %d: %w", i, err)
		}
		if e.Name == "" || e.Version.IsZero() || e.Hash == "" {
			return nil, fmt.Errorf("%w: lock entry %d needs a name, version and hash", manifest.ErrInvalidManifest, i)
		}

		tn := manifest.TypeAndName{Type: t, Name: e.Name}
		if _, dup := locked[tn]; dup {
			return nil, fmt.Errorf("%w: %s locked twice", manifest.ErrInvalidManifest, tn)
		}

		p, err := pkginfo.New(&manifest.Manifest{
			TypeAndName: tn,
			Version:     e.Version,
			Supports:    e.Supports,
			Hash:        e.Hash,
		})
		if err != nil {
			return nil, err
		}
		locked[tn] = p
	}
	return locked, nil
}
