package resolver

import (
	"github.com/TEN-framework/ten-framework-sub001/pkg/manifest"
	"github.com/TEN-framework/ten-framework-sub001/pkg/pkginfo"
)

// cleanup keeps one candidate per version, the best scoring one. When the
// lock names a version and hash present in the pool, the candidate carrying
// that hash takes the version's place even if it scores lower.
func cleanup(candidates Candidates, locked map[manifest.TypeAndName]*pkginfo.PkgInfo) {
	for tn, pool := range candidates {
		byVersion := make(map[string][]*pkginfo.PkgInfo)
		for _, p := range pool {
			v := p.Manifest.Version.String()
			byVersion[v] = append(byVersion[v], p)
		}

		lock := locked[tn]
		kept := make(map[pkginfo.BasicInfo]*pkginfo.PkgInfo, len(byVersion))
		for v, list := range byVersion {
			winner := list[0]
			for _, p := range list[1:] {
				if better(p, winner) {
					winner = p
				}
			}

			if lock != nil && lock.Manifest.Version.String() == v {
				for _, p := range list {
					if p.Hash == lock.Hash {
						winner = p
						break
					}
				}
			}
			kept[winner.BasicInfo()] = winner
		}
		candidates[tn] = kept
	}
}

// better orders same-version candidates: higher score, then installed, then
// local, then the smaller hash so the choice does not depend on map order
func better(a, b *pkginfo.PkgInfo) bool {
	if a.CompatibleScore != b.CompatibleScore {
		return a.CompatibleScore > b.CompatibleScore
	}
	if a.IsInstalled != b.IsInstalled {
		return a.IsInstalled
	}
	if a.IsLocalDependency != b.IsLocalDependency {
		return a.IsLocalDependency
	}
	return a.Hash < b.Hash
}
