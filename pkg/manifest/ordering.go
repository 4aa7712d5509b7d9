package manifest

import "sort"

// SortDependencies orders dependencies for expansion: local dependencies
// first in declaration order, then registry dependencies with broader
// requirements before narrower ones, ties broken by requirement string and
// package identity.
func SortDependencies(deps []Dependency) {
	sort.SliceStable(deps, func(i, j int) bool {
		return dependencyLess(deps[i], deps[j])
	})
}

func dependencyLess(a, b Dependency) bool {
	if a.IsLocal() != b.IsLocal() {
		return a.IsLocal()
	}
	if a.IsLocal() {
		return false
	}

	aSup := a.VersionReq.IsSupersetOf(b.VersionReq)
	bSup := b.VersionReq.IsSupersetOf(a.VersionReq)
	if aSup != bSup {
		return aSup
	}
	if as, bs := a.VersionReq.String(), b.VersionReq.String(); as != bs {
		return as < bs
	}
	return a.TypeAndName().String() < b.TypeAndName().String()
}
