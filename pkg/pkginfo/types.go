package pkginfo

import (
	"fmt"

	"github.com/TEN-framework/ten-framework-sub001/pkg/manifest"
	"github.com/TEN-framework/ten-framework-sub001/pkg/property"
	"github.com/TEN-framework/ten-framework-sub001/pkg/schema"
)

// BasicInfo identifies a package globally
type BasicInfo struct {
	Type    manifest.PkgType `json:"type"`
	Name    string           `json:"name"`
	Version string           `json:"version"`
	Hash    string           `json:"hash"`
}

func (b BasicInfo) String() string {
	return fmt.Sprintf("%s:%s@%s", b.Type, b.Name, b.Version)
}

// TypeAndName drops version and hash
func (b BasicInfo) TypeAndName() manifest.TypeAndName {
	return manifest.TypeAndName{Type: b.Type, Name: b.Name}
}

// PkgInfo is a manifest plus everything known about where it came from
type PkgInfo struct {
	Manifest *manifest.Manifest
	Schema   *schema.Store

	// Property is only loaded for apps
	Property *property.Document

	// BaseDir is the package directory for installed and local packages
	BaseDir string

	IsInstalled bool
	URL         string
	Hash        string

	IsLocalDependency bool
	LocalDependency   *manifest.Dependency

	// CompatibleScore is the supports score against the resolve target
	CompatibleScore int
}

// New builds a PkgInfo from a parsed manifest
func New(m *manifest.Manifest) (*PkgInfo, error) {
	store, err := schema.NewStore(m.API)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", m.TypeAndName, err)
	}
	return &PkgInfo{Manifest: m, Schema: store, Hash: m.Hash}, nil
}

// BasicInfo returns the global identity of p
func (p *PkgInfo) BasicInfo() BasicInfo {
	return BasicInfo{
		Type:    p.Manifest.Type,
		Name:    p.Manifest.Name,
		Version: p.Manifest.Version.String(),
		Hash:    p.Hash,
	}
}

// TypeAndName returns the in-app identity of p
func (p *PkgInfo) TypeAndName() manifest.TypeAndName {
	return p.Manifest.TypeAndName
}

// PkgsInfoInApp is an app package and the packages installed under it
type PkgsInfoInApp struct {
	BaseDir      string
	App          *PkgInfo
	Extensions   []*PkgInfo
	Protocols    []*PkgInfo
	AddonLoaders []*PkgInfo
	Systems      []*PkgInfo
}

// AppURI returns the URI from the app property, nil when unspecified
func (a *PkgsInfoInApp) AppURI() *string {
	if a.App == nil || a.App.Property == nil {
		return nil
	}
	return a.App.Property.AppURI()
}

// All returns the app followed by every installed package
func (a *PkgsInfoInApp) All() []*PkgInfo {
	var out []*PkgInfo
	if a.App != nil {
		out = append(out, a.App)
	}
	out = append(out, a.Extensions...)
	out = append(out, a.Protocols...)
	out = append(out, a.AddonLoaders...)
	out = append(out, a.Systems...)
	return out
}

// Extension returns the installed extension named addon
func (a *PkgsInfoInApp) Extension(addon string) (*PkgInfo, bool) {
	for _, p := range a.Extensions {
		if p.Manifest.Name == addon {
			return p, true
		}
	}
	return nil, false
}

func (a *PkgsInfoInApp) list(t manifest.PkgType) *[]*PkgInfo {
	switch t {
	case manifest.PkgTypeExtension:
		return &a.Extensions
	case manifest.PkgTypeProtocol:
		return &a.Protocols
	case manifest.PkgTypeAddonLoader:
		return &a.AddonLoaders
	case manifest.PkgTypeSystem:
		return &a.Systems
	}
	return nil
}

// Installed indexes the installed packages by identity, the shape the
// resolver consumes
func (a *PkgsInfoInApp) Installed() map[manifest.TypeAndName]map[BasicInfo]*PkgInfo {
	out := make(map[manifest.TypeAndName]map[BasicInfo]*PkgInfo)
	for _, p := range a.All() {
		if p == a.App {
			continue
		}
		tn := p.TypeAndName()
		if out[tn] == nil {
			out[tn] = make(map[BasicInfo]*PkgInfo)
		}
		out[tn][p.BasicInfo()] = p
	}
	return out
}
