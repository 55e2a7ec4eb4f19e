package core

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/google/uuid"
)

// Verify Manager implements Evictor at compile time.
var _ Evictor = (*Manager)(nil)

// Manager hands out instances and caches them by identity key.
// It is safe for concurrent use by multiple goroutines.
//
// Synchronization strategy:
//   - mu guards entries and all. It is taken before any Instance lock and
//     never held while an instance starts or closes.
//   - A new instance is stored in entries before it is started, so
//     concurrent lookups of the same key during loading converge on it.
//   - Instances remove themselves through Evict before their Close
//     settles, so a caller that saw a close outcome never gets the closed
//     instance back.
type Manager struct {
	cfg       ManagerConfig
	framework Framework
	manifests ManifestReader
	locator   PluginLocator
	metrics   MetricsCollector
	recorder  TransitionRecorder
	getwd     func() (string, error)

	mu      sync.Mutex
	entries map[string]*Instance   // identity key -> cached instance
	all     map[*Instance]struct{} // every instance not yet closed
}

// ManagerParams holds the collaborators of a Manager. Metrics, Recorder and
// Getwd are optional; Getwd defaults to os.Getwd.
type ManagerParams struct {
	Config    ManagerConfig
	Framework Framework
	Manifests ManifestReader
	Locator   PluginLocator
	Metrics   MetricsCollector
	Recorder  TransitionRecorder
	Getwd     func() (string, error)
}

// NewManager creates a Manager. It performs no I/O.
//
// Panics if the config is invalid or a required collaborator is nil.
// Invalid configuration is a programmer error that should be caught at
// construction time, similar to regexp.MustCompile.
func NewManager(params ManagerParams) *Manager {
	if err := params.Config.Validate(); err != nil {
		panic(fmt.Sprintf("appmock: invalid manager config: %v", err))
	}
	if params.Framework == nil {
		panic("appmock: manager framework must not be nil")
	}
	if params.Manifests == nil || params.Locator == nil {
		panic("appmock: manager manifest reader and plugin locator must not be nil")
	}
	metrics := params.Metrics
	if metrics == nil {
		metrics = NewNoopMetricsCollector()
	}
	recorder := params.Recorder
	if recorder == nil {
		recorder = noopRecorder{}
	}
	getwd := params.Getwd
	if getwd == nil {
		getwd = os.Getwd
	}
	return &Manager{
		cfg:       params.Config,
		framework: params.Framework,
		manifests: params.Manifests,
		locator:   params.Locator,
		metrics:   metrics,
		recorder:  recorder,
		getwd:     getwd,
		entries:   make(map[string]*Instance),
		all:       make(map[*Instance]struct{}),
	}
}

// Resolve computes the effective configuration of cfg against the
// Manager's working directory and search paths.
func (m *Manager) Resolve(cfg Config, kind Kind) (EffectiveConfig, error) {
	wd, err := m.getwd()
	if err != nil {
		return EffectiveConfig{}, fmt.Errorf("getting working directory: %w", err)
	}
	return Resolve(cfg, kind, ResolveContext{
		WorkDir:     wd,
		FixturesDir: m.cfg.FixturesDir,
		SearchPaths: m.cfg.PluginSearchPaths,
		Manifests:   m.manifests,
		Locator:     m.locator,
	})
}

// GetOrCreate returns the instance for cfg, starting a new one when no live
// instance with the same identity exists. It does not wait for readiness.
//
// A configuration that cannot be resolved is returned as a *LifecycleError
// of kind ErrorKindBuild and no instance is created.
func (m *Manager) GetOrCreate(cfg Config, kind Kind) (*Instance, error) {
	eff, err := m.Resolve(cfg, kind)
	if err != nil {
		m.metrics.Failure(kind, ErrorKindBuild)
		Logger().Debug("build failed", "kind", kind.String(), "error", err)
		return nil, &LifecycleError{Kind: ErrorKindBuild, Err: err}
	}

	if !eff.Cache {
		inst := m.newInstance(eff)
		m.mu.Lock()
		m.all[inst] = struct{}{}
		m.mu.Unlock()
		m.metrics.CacheLookup(kind, CacheDisabled)
		inst.start()
		return inst, nil
	}

	m.mu.Lock()
	prev, found := m.entries[eff.Key]
	if found && prev.State().Live() {
		m.mu.Unlock()
		m.metrics.CacheLookup(kind, CacheHit)
		return prev, nil
	}
	inst := m.newInstance(eff)
	m.entries[eff.Key] = inst
	m.all[inst] = struct{}{}
	m.mu.Unlock()

	if found {
		// The failed instance stays with its holders; only the entry goes.
		Logger().Debug("replacing dead cache entry",
			"key", eff.Key, "old", prev.ID(), "state", prev.State().String(), "new", inst.ID())
		m.metrics.CacheLookup(kind, CacheReplaced)
	} else {
		m.metrics.CacheLookup(kind, CacheMiss)
	}

	inst.start()
	return inst, nil
}

func (m *Manager) newInstance(eff EffectiveConfig) *Instance {
	return NewInstance(NewInstanceParams{
		ID:        uuid.NewString(),
		Config:    eff,
		Settings:  m.cfg.instanceConfig(),
		Framework: m.framework,
		Evictor:   m,
		Metrics:   m.metrics,
		Recorder:  m.recorder,
	})
}

// Evict removes i from the cache if its entry still refers to i. Implements
// Evictor.
func (m *Manager) Evict(i *Instance) {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.all, i)
	if key := i.Key(); key != "" && m.entries[key] == i {
		delete(m.entries, key)
	}
}

// Lookup returns the cached instance for key, live or not. A Failed entry
// stays cached until the next GetOrCreate for key replaces it, so callers
// that need a usable instance must check State.
func (m *Manager) Lookup(key string) (*Instance, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	inst, ok := m.entries[key]
	return inst, ok
}

// Len returns the number of cache entries, including Failed entries not yet
// replaced.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

// Reset forgets every cache entry. Instances keep running and can still be
// closed by their holders or by CloseAll.
func (m *Manager) Reset() {
	m.mu.Lock()
	clear(m.entries)
	m.mu.Unlock()
}

// CloseAll closes every instance created by the Manager that is not closed
// yet, in parallel, and joins their close errors.
func (m *Manager) CloseAll(ctx context.Context) error {
	m.mu.Lock()
	instances := make([]*Instance, 0, len(m.all))
	for inst := range m.all {
		instances = append(instances, inst)
	}
	m.mu.Unlock()

	errs := make([]error, len(instances))
	var wg sync.WaitGroup
	for idx, inst := range instances {
		wg.Go(func() {
			errs[idx] = inst.Close(ctx)
		})
	}
	wg.Wait()

	return errors.Join(errs...)
}
