package appmock

import (
	"context"
	"os"
	"path/filepath"
	"sync"

	"github.com/giantswarm/appmock/internal/core"
	"github.com/giantswarm/appmock/internal/hoststack"
	"github.com/giantswarm/appmock/internal/journal"
	"github.com/giantswarm/appmock/internal/manifest"
	"github.com/giantswarm/appmock/internal/metrics"
	"github.com/giantswarm/appmock/internal/netutil"
)

// Singleton state for NewManager. The first call creates the manager;
// subsequent calls return the same instance and log a warning.
//
// singletonMu protects both singletonMgr and singletonOnce so that
// resetForTesting (used in tests) is concurrency-safe with NewManager.
var (
	singletonMu   sync.Mutex
	singletonMgr  Manager
	singletonOnce sync.Once
)

// Compile-time interface satisfaction checks.
var (
	_ Manager  = (*managerWrapper)(nil)
	_ Instance = (*core.Instance)(nil)
)

// managerWrapper wraps core.Manager to implement the Manager interface.
//
// The core.Manager is stored as a named (unexported) field rather than
// embedded so callers cannot reach GetOrCreate, Evict or Lookup through a
// type assertion. Instances are returned as they are: a cache hit must
// compare equal to the instance returned by the miss.
type managerWrapper struct {
	mgr *core.Manager
}

// App implements Manager.App.
//
//nolint:ireturn // Returns Instance interface by design for testability (mockable).
func (w *managerWrapper) App(cfg Config) (Instance, error) {
	return w.get(cfg, core.KindApp)
}

// Cluster implements Manager.Cluster.
//
//nolint:ireturn // Returns Instance interface by design for testability (mockable).
func (w *managerWrapper) Cluster(cfg Config) (Instance, error) {
	return w.get(cfg, core.KindCluster)
}

//nolint:ireturn // see App
func (w *managerWrapper) get(cfg Config, kind core.Kind) (Instance, error) {
	inst, err := w.mgr.GetOrCreate(cfg, kind)
	if err != nil {
		return nil, err
	}
	return inst, nil
}

// Reset wraps core.Manager.Reset.
func (w *managerWrapper) Reset() {
	w.mgr.Reset()
}

// CloseAll wraps core.Manager.CloseAll.
func (w *managerWrapper) CloseAll(ctx context.Context) error {
	return w.mgr.CloseAll(ctx)
}

// defaultManagerConfig returns a managerConfig populated with all default
// values. Both NewManager and test helpers use this to avoid duplicating
// the default field assignments.
func defaultManagerConfig() managerConfig {
	return managerConfig{
		ManagerConfig: core.ManagerConfig{
			FixturesDir:  DefaultFixturesDir,
			StartTimeout: DefaultStartTimeout,
			StopTimeout:  DefaultStopTimeout,
			LockTimeout:  DefaultLockTimeout,
			LockDir:      filepath.Join(os.TempDir(), DefaultLockDirName),
		},
		HostBinary: DefaultHostBinary,
	}
}

// newManagerWrapper builds the collaborators selected by cfg and the
// core.Manager on top of them. Optional collaborators that fail to come up
// are logged and left out.
func newManagerWrapper(cfg managerConfig) *managerWrapper {
	log := core.Logger()

	fw := cfg.Framework
	if fw == nil {
		hs, err := hoststack.New(hoststack.Config{
			Binary:       cfg.HostBinary,
			Args:         cfg.HostArgs,
			Env:          cfg.HostEnv,
			Ports:        netutil.NewPortRegistry(log),
			ReadyTimeout: cfg.StartTimeout,
			StopTimeout:  cfg.StopTimeout,
			Logger:       log,
		})
		if err != nil {
			panic("appmock: " + err.Error())
		}
		fw = hs
	}

	params := core.ManagerParams{
		Config:    cfg.toCoreConfig(),
		Framework: fw,
		Manifests: manifest.Reader{},
		Locator:   manifest.NewLocator(),
	}

	if cfg.MetricsRegisterer != nil {
		collector := metrics.NewPrometheusCollector(DefaultMetricsNamespace)
		if err := collector.Register(cfg.MetricsRegisterer); err != nil {
			log.Warn("register metrics", "error", err)
		} else {
			params.Metrics = collector
		}
	}

	if cfg.JournalPath != "" {
		j, err := journal.Open(context.Background(), cfg.JournalPath)
		if err != nil {
			log.Warn("open journal", "path", cfg.JournalPath, "error", err)
		} else {
			params.Recorder = j
		}
	}

	if cfg.WorkDir != "" {
		wd := cfg.WorkDir
		params.Getwd = func() (string, error) { return wd, nil }
	}

	return &managerWrapper{mgr: core.NewManager(params)}
}

// resetForTesting resets the singleton state so that the next call to
// NewManager creates a fresh manager. It must only be called from tests.
func resetForTesting() {
	singletonMu.Lock()
	defer singletonMu.Unlock()

	singletonMgr = nil
	singletonOnce = sync.Once{}
}

// NewManager returns the process-level singleton Manager.
//
// The first call creates the manager with the given options and stores it.
// Subsequent calls return the same instance; options are ignored and a
// warning is logged. This performs no I/O beyond opening the journal when
// WithJournal is given.
//
// Panics if any option receives an invalid value. See individual With*
// functions for constraints.
//
//nolint:ireturn // Returns Manager interface by design for testability (mockable).
func NewManager(opts ...ManagerOption) Manager {
	mgr, created := singleton(opts)
	if !created {
		core.Logger().Warn("NewManager called more than once; returning existing singleton (options ignored)")
	}
	return mgr
}

// singleton returns the singleton, creating it from opts on first use.
//
//nolint:ireturn // see NewManager
func singleton(opts []ManagerOption) (Manager, bool) {
	singletonMu.Lock()
	defer singletonMu.Unlock()

	// created is written inside the Do closure and read after Do returns.
	// sync.Once guarantees the closure completes (happens-before) Do returns.
	created := false
	singletonOnce.Do(func() {
		cfg := defaultManagerConfig()
		for _, opt := range opts {
			opt(&cfg)
		}
		singletonMgr = newManagerWrapper(cfg)
		created = true
	})
	return singletonMgr, created
}

// defaultManager returns the singleton without the repeated-call warning,
// creating it with default options if needed.
//
//nolint:ireturn // see NewManager
func defaultManager() Manager {
	mgr, _ := singleton(nil)
	return mgr
}

// App returns the app instance for cfg from the singleton Manager.
//
//nolint:ireturn // see Manager.App
func App(cfg Config) (Instance, error) {
	return defaultManager().App(cfg)
}

// Cluster returns the cluster instance for cfg from the singleton Manager.
//
//nolint:ireturn // see Manager.Cluster
func Cluster(cfg Config) (Instance, error) {
	return defaultManager().Cluster(cfg)
}

// Reset forgets the cached instances of the singleton Manager. Use it
// between tests that must not share hosts.
func Reset() {
	defaultManager().Reset()
}

// CloseAll closes every instance of the singleton Manager.
func CloseAll(ctx context.Context) error {
	return defaultManager().CloseAll(ctx)
}
