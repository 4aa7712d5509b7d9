package designer

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/TEN-framework/ten-framework-sub001/pkg/compat"
	"github.com/TEN-framework/ten-framework-sub001/pkg/graph"
	"github.com/TEN-framework/ten-framework-sub001/pkg/pkginfo"
	"github.com/TEN-framework/ten-framework-sub001/pkg/property"
)

// Options configures a Store
type Options struct {
	IgnoreMissingApps bool
	LenientResult     bool

	// AutoPersist writes every successful mutation back to property.json.
	// Without it mutations leave the graph dirty until Persist.
	AutoPersist bool
}

// Recorder receives mutation outcomes
type Recorder interface {
	RecordGraphMutation(operation, status string)
}

type entry struct {
	id        string
	appDir    string
	name      string
	autoStart *bool
	singleton *bool
	graph     *graph.Graph
	state     State
}

func (e *entry) info() GraphInfo {
	return GraphInfo{
		ID:        e.id,
		AppDir:    e.appDir,
		Name:      e.name,
		AutoStart: e.autoStart,
		Singleton: e.singleton,
		State:     e.state,
		Graph:     e.graph.Clone(),
	}
}

// Store holds the predefined graphs of loaded apps. Mutations take the write
// lock for validation, apply and persistence; readers take the read lock.
type Store struct {
	mu       sync.RWMutex
	cache    *pkginfo.Cache
	graphs   map[string]*entry
	opts     Options
	recorder Recorder
	logger   zerolog.Logger
}

// NewStore creates a graph store backed by cache
func NewStore(cache *pkginfo.Cache, opts Options, logger zerolog.Logger) *Store {
	return &Store{
		cache:  cache,
		graphs: make(map[string]*entry),
		opts:   opts,
		logger: logger.With().Str("component", "graph-store").Logger(),
	}
}

// SetRecorder registers a mutation recorder
func (s *Store) SetRecorder(recorder Recorder) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recorder = recorder
}

// Load loads the app at appDir and registers each of its predefined graphs
// under a fresh id. Loading an app again replaces its graphs.
func (s *Store) Load(ctx context.Context, appDir string) ([]GraphInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	pkgs, err := s.cache.Refresh(appDir)
	if err != nil {
		return nil, fmt.Errorf("failed to load app: %w", err)
	}
	predefined, err := predefinedGraphs(pkgs)
	if err != nil {
		return nil, err
	}

	s.dropLocked(pkgs.BaseDir)

	infos := make([]GraphInfo, 0, len(predefined))
	for _, pg := range predefined {
		g := pg.Graph
		e := &entry{
			id:        uuid.NewString(),
			appDir:    pkgs.BaseDir,
			name:      pg.Name,
			autoStart: pg.AutoStart,
			singleton: pg.Singleton,
			graph:     &g,
			state:     StateLoaded,
		}
		s.graphs[e.id] = e
		infos = append(infos, e.info())
	}

	s.logger.Info().
		Str("app", pkgs.BaseDir).
		Int("graphs", len(infos)).
		Msg("App loaded")

	return infos, nil
}

// Unload forgets the graphs and cached packages of appDir
func (s *Store) Unload(appDir string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key, err := filepath.Abs(appDir)
	if err != nil {
		key = appDir
	}
	s.dropLocked(key)
	s.cache.Delete(key)
}

// Refresh reloads the cached packages of appDir and re-reads every graph of
// that app which has no unpersisted changes
func (s *Store) Refresh(appDir string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	pkgs, err := s.cache.Refresh(appDir)
	if err != nil {
		return err
	}
	predefined, err := predefinedGraphs(pkgs)
	if err != nil {
		return err
	}

	byName := make(map[string]graph.PredefinedGraph, len(predefined))
	for _, pg := range predefined {
		byName[pg.Name] = pg
	}
	for _, e := range s.graphs {
		if e.appDir != pkgs.BaseDir || e.state == StateDirty {
			continue
		}
		pg, ok := byName[e.name]
		if !ok {
			continue
		}
		g := pg.Graph
		e.graph = &g
		e.autoStart, e.singleton = pg.AutoStart, pg.Singleton
	}

	s.logger.Debug().Str("app", pkgs.BaseDir).Msg("App refreshed")
	return nil
}

// Graphs returns a snapshot of every stored graph ordered by app and name
func (s *Store) Graphs() []GraphInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]GraphInfo, 0, len(s.graphs))
	for _, e := range s.graphs {
		out = append(out, e.info())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].AppDir != out[j].AppDir {
			return out[i].AppDir < out[j].AppDir
		}
		return out[i].Name < out[j].Name
	})
	return out
}

// Graph returns a snapshot of one graph
func (s *Store) Graph(id string) (GraphInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.graphs[id]
	if !ok {
		return GraphInfo{State: StateUnloaded}, fmt.Errorf("%w: %s", ErrUnknownGraph, id)
	}
	return e.info(), nil
}

// Check runs the compatibility checker over every connection of a graph
func (s *Store) Check(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.graphs[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownGraph, id)
	}
	return s.checker(e).CheckConnections(e.graph)
}

// Persist writes a dirty graph back to its app's property.json
func (s *Store) Persist(ctx context.Context, id string) (State, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.graphs[id]
	if !ok {
		return StateUnloaded, fmt.Errorf("%w: %s", ErrUnknownGraph, id)
	}
	if e.state != StateDirty {
		return e.state, nil
	}

	err := s.writeBack(e, func(doc *property.Document) error {
		return doc.SetGraph(e.name, e.graph)
	})
	if err != nil {
		return e.state, err
	}
	e.state = StatePersisted
	return e.state, nil
}

func (s *Store) checker(e *entry) *compat.Checker {
	return compat.NewChecker(s.cache, compat.Options{
		BaseDir:           e.appDir,
		IgnoreMissingApps: s.opts.IgnoreMissingApps,
		LenientResult:     s.opts.LenientResult,
	}, s.logger)
}

// writeBack applies edit to the app's property file on disk and writes it
func (s *Store) writeBack(e *entry, edit func(doc *property.Document) error) error {
	path := filepath.Join(e.appDir, property.FileName)
	doc, err := property.LoadFile(path)
	if err != nil {
		return err
	}
	if err := edit(doc); err != nil {
		return err
	}
	return doc.WriteFile(path)
}

func (s *Store) dropLocked(appDir string) {
	for id, e := range s.graphs {
		if e.appDir == appDir {
			delete(s.graphs, id)
		}
	}
}

func predefinedGraphs(pkgs *pkginfo.PkgsInfoInApp) ([]graph.PredefinedGraph, error) {
	if pkgs.App == nil || pkgs.App.Property == nil {
		return nil, nil
	}
	return pkgs.App.Property.PredefinedGraphs()
}
