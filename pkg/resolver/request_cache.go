package resolver

import (
	"github.com/TEN-framework/ten-framework-sub001/pkg/manifest"
	"github.com/TEN-framework/ten-framework-sub001/pkg/semver"
)

// requestCache remembers the registry queries already issued in one run
type requestCache struct {
	issued map[manifest.TypeAndName][]semver.Requirement
}

func newRequestCache() *requestCache {
	return &requestCache{issued: make(map[manifest.TypeAndName][]semver.Requirement)}
}

// covered reports whether a query issued earlier already returned every
// version req can match
func (c *requestCache) covered(tn manifest.TypeAndName, req semver.Requirement) bool {
	for _, prev := range c.issued[tn] {
		if prev.IsSupersetOf(req) {
			return true
		}
	}
	return false
}

func (c *requestCache) add(tn manifest.TypeAndName, req semver.Requirement) {
	c.issued[tn] = append(c.issued[tn], req)
}

// mergeRequirement records req for tn and reports whether it is new
func mergeRequirement(merged map[manifest.TypeAndName][]semver.Requirement, tn manifest.TypeAndName, req semver.Requirement) bool {
	for _, r := range merged[tn] {
		if r.String() == req.String() {
			return false
		}
	}
	merged[tn] = append(merged[tn], req)
	return true
}
