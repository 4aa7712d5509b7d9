package registry

import (
	"context"
	"errors"

	"github.com/TEN-framework/ten-framework-sub001/pkg/manifest"
	"github.com/TEN-framework/ten-framework-sub001/pkg/pkginfo"
	"github.com/TEN-framework/ten-framework-sub001/pkg/semver"
)

var (
	// ErrRegistryTransport is returned when the registry cannot be reached or
	// answers with an error
	ErrRegistryTransport = errors.New("registry transport error")

	// ErrNotFound is returned when a package version is not in the registry
	ErrNotFound = errors.New("package not found in registry")

	// ErrAlreadyExists is returned when uploading a version that is already stored
	ErrAlreadyExists = errors.New("package already exists in registry")
)

// Query selects registry entries. Zero fields match everything.
type Query struct {
	Type       manifest.PkgType
	Name       string
	VersionReq semver.Requirement

	// PageSize and Page select one page; a zero PageSize returns every match
	PageSize int
	Page     int
}

// Entry is one package version published in a registry
type Entry struct {
	Manifest    *manifest.Manifest
	DownloadURL string
	Hash        string
}

// PkgInfo converts the entry into a package candidate
func (e Entry) PkgInfo() (*pkginfo.PkgInfo, error) {
	p, err := pkginfo.New(e.Manifest)
	if err != nil {
		return nil, err
	}
	p.URL = e.DownloadURL
	if e.Hash != "" {
		p.Hash = e.Hash
	}
	return p, nil
}

// Facade is the package registry consumed by the resolver and the CLI
type Facade interface {
	// GetPackageList returns the entries matching q
	GetPackageList(ctx context.Context, q Query) ([]Entry, error)

	// GetPackage downloads the package content. url is the entry's
	// DownloadURL when known.
	GetPackage(ctx context.Context, pkgType manifest.PkgType, name string, version semver.Version, url string) ([]byte, error)

	// UploadPackage stores a package and returns its download URL
	UploadPackage(ctx context.Context, data []byte, info *pkginfo.PkgInfo) (string, error)

	// DeletePackage removes one published version
	DeletePackage(ctx context.Context, pkgType manifest.PkgType, name string, version semver.Version, hash string) error
}

// QueryObserver is notified after each list query with its outcome:
// "ok", "cached" or "error"
type QueryObserver func(status string)

// matches reports whether m is selected by q, ignoring pagination
func (q Query) matches(m *manifest.Manifest) bool {
	if q.Type != "" && m.Type != q.Type {
		return false
	}
	if q.Name != "" && m.Name != q.Name {
		return false
	}
	return q.VersionReq.Check(m.Version)
}

// page returns the requested page of entries
func (q Query) page(entries []Entry) []Entry {
	if q.PageSize <= 0 {
		return entries
	}
	page := q.Page
	if page < 1 {
		page = 1
	}
	start := (page - 1) * q.PageSize
	if start >= len(entries) {
		return nil
	}
	end := min(start+q.PageSize, len(entries))
	return entries[start:end]
}
