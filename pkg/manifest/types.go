package manifest

import (
	"encoding/json"
	"fmt"

	"github.com/TEN-framework/ten-framework-sub001/pkg/schema"
	"github.com/TEN-framework/ten-framework-sub001/pkg/semver"
)

// PkgType is the kind of a package
type PkgType string

const (
	PkgTypeApp         PkgType = "app"
	PkgTypeExtension   PkgType = "extension"
	PkgTypeProtocol    PkgType = "protocol"
	PkgTypeAddonLoader PkgType = "addon_loader"
	PkgTypeSystem      PkgType = "system"
)

// ValidPkgTypes is the closed set of package kinds
var ValidPkgTypes = map[PkgType]bool{
	PkgTypeApp:         true,
	PkgTypeExtension:   true,
	PkgTypeProtocol:    true,
	PkgTypeAddonLoader: true,
	PkgTypeSystem:      true,
}

// InstalledPkgTypes are the kinds installed under an app's ten_packages directory
var InstalledPkgTypes = []PkgType{
	PkgTypeExtension,
	PkgTypeProtocol,
	PkgTypeAddonLoader,
	PkgTypeSystem,
}

// ParsePkgType validates a package kind string
func ParsePkgType(s string) (PkgType, error) {
	t := PkgType(s)
	if !ValidPkgTypes[t] {
		return "", fmt.Errorf("unknown package type: %q", s)
	}
	return t, nil
}

// TypeAndName identifies a package within one app
type TypeAndName struct {
	Type PkgType `json:"type"`
	Name string  `json:"name"`
}

func (t TypeAndName) String() string {
	return fmt.Sprintf("%s:%s", t.Type, t.Name)
}

// OS is an operating system a package supports
type OS string

const (
	OSLinux OS = "linux"
	OSMac   OS = "mac"
	OSWin   OS = "win"
)

// Arch is a CPU architecture a package supports
type Arch string

const (
	ArchX86   Arch = "x86"
	ArchX64   Arch = "x64"
	ArchArm   Arch = "arm"
	ArchArm64 Arch = "arm64"
)

// ValidOS and ValidArch are the closed enumerations for supports entries
var (
	ValidOS   = map[OS]bool{OSLinux: true, OSMac: true, OSWin: true}
	ValidArch = map[Arch]bool{ArchX86: true, ArchX64: true, ArchArm: true, ArchArm64: true}
)

// Supports is one (os, arch) pair. An empty field means any.
type Supports struct {
	OS   OS   `json:"os,omitempty" mapstructure:"os"`
	Arch Arch `json:"arch,omitempty" mapstructure:"arch"`
}

func (s Supports) String() string {
	os, arch := string(s.OS), string(s.Arch)
	if os == "" {
		os = "*"
	}
	if arch == "" {
		arch = "*"
	}
	return os + "/" + arch
}

// Dependency is one entry of a manifest's dependency list.
//
// A registry dependency sets Type, Name and VersionReq; a local dependency
// sets Path and BaseDir (the directory of the manifest declaring it).
type Dependency struct {
	Type       PkgType
	Name       string
	VersionReq semver.Requirement

	Path    string
	BaseDir string
}

// IsLocal reports whether d refers to a package on disk
func (d Dependency) IsLocal() bool {
	return d.Path != ""
}

// TypeAndName returns the registry identity of d
func (d Dependency) TypeAndName() TypeAndName {
	return TypeAndName{Type: d.Type, Name: d.Name}
}

func (d Dependency) String() string {
	if d.IsLocal() {
		return "path:" + d.Path
	}
	return fmt.Sprintf("%s@%s", d.TypeAndName(), d.VersionReq)
}

type dependencyJSON struct {
	Type    string `json:"type,omitempty"`
	Name    string `json:"name,omitempty"`
	Version string `json:"version,omitempty"`
	Path    string `json:"path,omitempty"`
}

func (d Dependency) MarshalJSON() ([]byte, error) {
	if d.IsLocal() {
		return json.Marshal(dependencyJSON{Path: d.Path})
	}
	return json.Marshal(dependencyJSON{Type: string(d.Type), Name: d.Name, Version: d.VersionReq.String()})
}

func (d *Dependency) UnmarshalJSON(data []byte) error {
	var raw dependencyJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	hasRegistry := raw.Type != "" || raw.Name != "" || raw.Version != ""
	switch {
	case raw.Path != "" && hasRegistry:
		return fmt.Errorf("dependency cannot declare both path and type/name/version")
	case raw.Path != "":
		*d = Dependency{Path: raw.Path}
		return nil
	case raw.Type == "" || raw.Name == "":
		return fmt.Errorf("dependency requires either path or type and name")
	}

	t, err := ParsePkgType(raw.Type)
	if err != nil {
		return err
	}
	req, err := semver.ParseRequirement(raw.Version)
	if err != nil {
		return err
	}
	*d = Dependency{Type: t, Name: raw.Name, VersionReq: req}
	return nil
}

// Manifest is the parsed manifest.json of a package
type Manifest struct {
	TypeAndName
	Version      semver.Version
	Dependencies []Dependency
	Supports     []Supports
	API          *schema.API
	Scripts      map[string]string

	// Hash is the content hash of the manifest bytes the package was parsed from
	Hash string
}

type manifestJSON struct {
	Type         string            `json:"type"`
	Name         string            `json:"name"`
	Version      string            `json:"version"`
	Dependencies []Dependency      `json:"dependencies,omitempty"`
	Supports     []Supports        `json:"supports,omitempty"`
	API          *schema.API       `json:"api,omitempty"`
	Scripts      map[string]string `json:"scripts,omitempty"`
}

func (m Manifest) MarshalJSON() ([]byte, error) {
	return json.Marshal(manifestJSON{
		Type:         string(m.Type),
		Name:         m.Name,
		Version:      m.Version.String(),
		Dependencies: m.Dependencies,
		Supports:     m.Supports,
		API:          m.API,
		Scripts:      m.Scripts,
	})
}

// LocalDependencies returns the local entries of the dependency list
func (m *Manifest) LocalDependencies() []Dependency {
	var out []Dependency
	for _, d := range m.Dependencies {
		if d.IsLocal() {
			out = append(out, d)
		}
	}
	return out
}
