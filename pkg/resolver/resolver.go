package resolver

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/TEN-framework/ten-framework-sub001/pkg/manifest"
	"github.com/TEN-framework/ten-framework-sub001/pkg/pkginfo"
	"github.com/TEN-framework/ten-framework-sub001/pkg/registry"
	"github.com/TEN-framework/ten-framework-sub001/pkg/semver"
)

var (
	// ErrCanceled is returned when the context is done between rounds or
	// during registry I/O
	ErrCanceled = errors.New("resolve canceled")

	// ErrDependencyVariant is returned for a dependency that is neither a
	// well-formed local nor a well-formed registry dependency
	ErrDependencyVariant = errors.New("dependency variant mismatch")
)

// Candidates is the pool of acceptable versions per package
type Candidates map[manifest.TypeAndName]map[pkginfo.BasicInfo]*pkginfo.PkgInfo

// Sorted returns the candidates of tn by descending version, then hash
func (c Candidates) Sorted(tn manifest.TypeAndName) []*pkginfo.PkgInfo {
	out := make([]*pkginfo.PkgInfo, 0, len(c[tn]))
	for _, p := range c[tn] {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		if cmp := semver.Compare(out[i].Manifest.Version, out[j].Manifest.Version); cmp != 0 {
			return cmp > 0
		}
		return out[i].Hash < out[j].Hash
	})
	return out
}

// Keys returns the package identities in the pool in sorted order
func (c Candidates) Keys() []manifest.TypeAndName {
	keys := make([]manifest.TypeAndName, 0, len(c))
	for tn := range c {
		keys = append(keys, tn)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].String() < keys[j].String() })
	return keys
}

func (c Candidates) add(p *pkginfo.PkgInfo) bool {
	tn := p.TypeAndName()
	if c[tn] == nil {
		c[tn] = make(map[pkginfo.BasicInfo]*pkginfo.PkgInfo)
	}
	key := p.BasicInfo()
	if _, ok := c[tn][key]; ok {
		return false
	}
	c[tn][key] = p
	return true
}

// Input is everything one resolve run reads
type Input struct {
	Roots     []*pkginfo.PkgInfo
	ExtraDep  *manifest.Dependency
	Installed map[manifest.TypeAndName]map[pkginfo.BasicInfo]*pkginfo.PkgInfo
	Locked    map[manifest.TypeAndName]*pkginfo.PkgInfo

	// Support is the platform candidates are scored against
	Support manifest.Supports
}

// Observer receives resolver progress
type Observer interface {
	RecordResolverRound()
	ObserveResolveDuration(d time.Duration)
}

// Resolver builds candidate pools from manifests, the registry and the
// installed packages
type Resolver struct {
	registry  registry.Facade
	manifests *manifest.Loader
	observer  Observer
	logger    zerolog.Logger
}

// New creates a resolver querying reg
func New(reg registry.Facade, logger zerolog.Logger) *Resolver {
	return &Resolver{
		registry:  reg,
		manifests: manifest.NewLoader(logger),
		logger:    logger.With().Str("component", "resolver").Logger(),
	}
}

// SetObserver registers a progress observer. It must be called before the
// first Resolve.
func (r *Resolver) SetObserver(observer Observer) {
	r.observer = observer
}

type pendingDep struct {
	dep    manifest.Dependency
	parent string
}

type query struct {
	pendingDep
	entries []registry.Entry
}

// Resolve walks the dependency closure of in.Roots round by round and
// returns the candidate pool. It never picks a single version.
func (r *Resolver) Resolve(ctx context.Context, in Input) (Candidates, error) {
	start := time.Now()
	defer func() {
		if r.observer != nil {
			r.observer.ObserveResolveDuration(time.Since(start))
		}
	}()

	candidates := make(Candidates)
	merged := make(map[manifest.TypeAndName][]semver.Requirement)
	processed := make(map[pkginfo.BasicInfo]bool)
	requests := newRequestCache()

	frontier := in.Roots
	extraAdded := false
	rounds := 0

	for len(frontier) > 0 || (!extraAdded && in.ExtraDep != nil) {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrCanceled, err)
		}
		rounds++
		if r.observer != nil {
			r.observer.RecordResolverRound()
		}

		deps := r.collect(frontier, processed)
		if !extraAdded && in.ExtraDep != nil {
			deps = append(deps, pendingDep{dep: *in.ExtraDep, parent: "extra dependency"})
			extraAdded = true
		}

		var next []*pkginfo.PkgInfo
		var queries []*query
		for _, d := range deps {
			if err := checkVariant(d.dep); err != nil {
				return nil, fmt.Errorf("in dependency %s of %s: %w", d.dep, d.parent, err)
			}

			if d.dep.IsLocal() {
				p, err := r.loadLocal(d.dep, in.Support)
				if err != nil {
					return nil, fmt.Errorf("in dependency %s of %s: %w", d.dep, d.parent, err)
				}
				if candidates.add(p) {
					next = append(next, p)
				}
				continue
			}

			tn := d.dep.TypeAndName()
			if !mergeRequirement(merged, tn, d.dep.VersionReq) || requests.covered(tn, d.dep.VersionReq) {
				continue
			}
			requests.add(tn, d.dep.VersionReq)
			queries = append(queries, &query{pendingDep: d})
		}

		if err := r.fetch(ctx, queries); err != nil {
			return nil, err
		}

		for _, q := range queries {
			next = append(next, r.accept(candidates, q, in)...)
		}

		r.logger.Debug().
			Int("round", rounds).
			Int("dependencies", len(deps)).
			Int("queries", len(queries)).
			Int("discovered", len(next)).
			Msg("Resolver round finished")

		frontier = next
	}

	cleanup(candidates, in.Locked)

	r.logger.Info().
		Int("rounds", rounds).
		Int("packages", len(candidates)).
		Dur("duration", time.Since(start)).
		Msg("Resolved candidates")

	return candidates, nil
}

// collect returns the sorted dependencies of every unprocessed frontier package
func (r *Resolver) collect(frontier []*pkginfo.PkgInfo, processed map[pkginfo.BasicInfo]bool) []pendingDep {
	var out []pendingDep
	for _, p := range frontier {
		key := p.BasicInfo()
		if processed[key] {
			continue
		}
		processed[key] = true

		deps := append([]manifest.Dependency(nil), p.Manifest.Dependencies...)
		manifest.SortDependencies(deps)
		for _, d := range deps {
			out = append(out, pendingDep{dep: d, parent: key.String()})
		}
	}
	return out
}

// fetch issues every query of a round concurrently and stores the answers in
// issue order
func (r *Resolver) fetch(ctx context.Context, queries []*query) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, q := range queries {
		g.Go(func() error {
			entries, err := r.registry.GetPackageList(gctx, registry.Query{
				Type:       q.dep.Type,
				Name:       q.dep.Name,
				VersionReq: q.dep.VersionReq,
			})
			if err != nil {
				return fmt.Errorf("while resolving %s: in dependency %s of %s: %w", q.dep.TypeAndName(), q.dep, q.parent, err)
			}
			q.entries = entries
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("%w: %w", ErrCanceled, ctx.Err())
		}
		return err
	}
	return nil
}

// accept filters the answers of q and the matching installed packages by
// platform and adds them to the pool
func (r *Resolver) accept(candidates Candidates, q *query, in Input) []*pkginfo.PkgInfo {
	var added []*pkginfo.PkgInfo
	consider := func(p *pkginfo.PkgInfo) {
		score := manifest.CompatibleScore(p.Manifest.Supports, in.Support)
		if score == manifest.Incompatible {
			r.logger.Debug().
				Str("package", p.BasicInfo().String()).
				Str("target", in.Support.String()).
				Msg("Dropping unsupported candidate")
			return
		}
		p.CompatibleScore = score
		if candidates.add(p) {
			added = append(added, p)
		}
	}

	for _, e := range q.entries {
		p, err := e.PkgInfo()
		if err != nil {
			r.logger.Warn().Err(err).Str("dependency", q.dep.String()).Msg("Skipping registry entry")
			continue
		}
		consider(p)
	}

	tn := q.dep.TypeAndName()
	installed := make([]*pkginfo.PkgInfo, 0, len(in.Installed[tn]))
	for _, p := range in.Installed[tn] {
		if q.dep.VersionReq.Check(p.Manifest.Version) {
			installed = append(installed, p)
		}
	}
	sort.Slice(installed, func(i, j int) bool {
		if cmp := semver.Compare(installed[i].Manifest.Version, installed[j].Manifest.Version); cmp != 0 {
			return cmp > 0
		}
		return installed[i].Hash < installed[j].Hash
	})
	for _, p := range installed {
		cp := *p
		consider(&cp)
	}
	return added
}

// loadLocal reads the package a local dependency points at
func (r *Resolver) loadLocal(d manifest.Dependency, support manifest.Supports) (*pkginfo.PkgInfo, error) {
	dir := d.Path
	if !filepath.IsAbs(dir) {
		dir = filepath.Join(d.BaseDir, dir)
	}
	dir, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve local dependency: %w", err)
	}

	m, err := r.manifests.LoadDir(dir)
	if err != nil {
		return nil, err
	}
	if m.Type == manifest.PkgTypeApp {
		return nil, fmt.Errorf("%w: local dependency %s is an app", manifest.ErrInvalidManifest, dir)
	}

	p, err := pkginfo.New(m)
	if err != nil {
		return nil, err
	}
	dep := d
	p.BaseDir = dir
	p.IsLocalDependency = true
	p.LocalDependency = &dep
	p.CompatibleScore = max(manifest.CompatibleScore(m.Supports, support), 0)
	return p, nil
}

func checkVariant(d manifest.Dependency) error {
	hasRegistry := d.Type != "" || d.Name != ""
	switch {
	case d.IsLocal() && hasRegistry:
		return fmt.Errorf("%w: local dependency carries a registry identity", ErrDependencyVariant)
	case !d.IsLocal() && (d.Type == "" || d.Name == ""):
		return fmt.Errorf("%w: registry dependency without type and name", ErrDependencyVariant)
	}
	return nil
}
