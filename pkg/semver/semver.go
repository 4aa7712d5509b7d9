package semver

import (
	"fmt"
	"strings"

	mm "github.com/Masterminds/semver/v3"
)

// Version is a semantic version.
//
// This is a thin wrapper around github.com/Masterminds/semver/v3.
type Version struct {
	v *mm.Version
}

// Requirement is a version requirement as written in a manifest dependency.
//
// Examples:
// - "^1.2.0"
// - ">=1.2.0 <2.0.0"
// - "~1.4.0"
// - "*"
type Requirement struct {
	raw string
	c   *mm.Constraints
}

// ParseVersion parses a strict X.Y.Z[-pre][+build] version.
func ParseVersion(raw string) (Version, error) {
	v, err := mm.StrictNewVersion(strings.TrimSpace(raw))
	if err != nil {
		return Version{}, fmt.Errorf("semver: parse version %q: %w", raw, err)
	}
	return Version{v: v}, nil
}

func MustParseVersion(raw string) Version {
	v, err := ParseVersion(raw)
	if err != nil {
		panic(err)
	}
	return v
}

// ParseRequirement parses a requirement. An empty string means "*".
func ParseRequirement(raw string) (Requirement, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		raw = "*"
	}
	c, err := mm.NewConstraint(raw)
	if err != nil {
		return Requirement{}, fmt.Errorf("semver: parse requirement %q: %w", raw, err)
	}
	return Requirement{raw: raw, c: c}, nil
}

func MustParseRequirement(raw string) Requirement {
	r, err := ParseRequirement(raw)
	if err != nil {
		panic(err)
	}
	return r
}

// IsZero reports whether v was never parsed.
func (v Version) IsZero() bool {
	return v.v == nil
}

// String returns the normalized form of the version.
func (v Version) String() string {
	if v.v == nil {
		return ""
	}
	return v.v.String()
}

func (v Version) MarshalText() ([]byte, error) {
	return []byte(v.String()), nil
}

func (v *Version) UnmarshalText(text []byte) error {
	parsed, err := ParseVersion(string(text))
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}

// String returns the requirement as written.
func (r Requirement) String() string {
	if r.raw == "" {
		return "*"
	}
	return r.raw
}

// IsZero reports whether r was never parsed.
func (r Requirement) IsZero() bool {
	return r.c == nil
}

// Check reports whether v satisfies r. A zero requirement accepts everything.
func (r Requirement) Check(v Version) bool {
	if v.v == nil {
		return false
	}
	if r.c == nil {
		return true
	}
	return r.c.Check(v.v)
}

func Satisfies(v Version, r Requirement) bool {
	return r.Check(v)
}

// Compare compares a and b, returning:
// -1 if a < b
//
//	0 if a == b
//	1 if a > b
func Compare(a, b Version) int {
	if a.v == nil && b.v == nil {
		return 0
	}
	if a.v == nil {
		return -1
	}
	if b.v == nil {
		return 1
	}
	return a.v.Compare(b.v)
}

// MaxSatisfying returns the highest version in candidates that satisfies r.
//
// If multiple versions are equal, the first encountered wins.
func MaxSatisfying(r Requirement, candidates []Version) (Version, bool) {
	var best Version
	found := false
	for _, candidate := range candidates {
		if !Satisfies(candidate, r) {
			continue
		}
		if !found || Compare(candidate, best) > 0 {
			best = candidate
			found = true
		}
	}
	return best, found
}
