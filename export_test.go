package appmock

import "time"

// ResetForTesting resets the singleton manager state so that the next
// call to NewManager creates a fresh instance. This is exported only
// for use in test packages (package appmock_test).
func ResetForTesting() { resetForTesting() }

// ConfigSnapshot holds a copy of managerConfig fields for test assertions.
type ConfigSnapshot struct {
	HostBinary        string
	HostArgs          []string
	HostEnv           []string
	FixturesDir       string
	PluginSearchPaths []string
	StartTimeout      time.Duration
	StopTimeout       time.Duration
	LockTimeout       time.Duration
	LockDir           string
	WorkDir           string
	HasFramework      bool
	HasMetrics        bool
	JournalPath       string
}

// ApplyOptionsForTesting creates a default managerConfig, applies the given
// options, and returns a ConfigSnapshot of the result. This tests the option
// closures directly without touching the singleton.
func ApplyOptionsForTesting(opts ...ManagerOption) ConfigSnapshot {
	cfg := defaultManagerConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	return ConfigSnapshot{
		HostBinary:        cfg.HostBinary,
		HostArgs:          cfg.HostArgs,
		HostEnv:           cfg.HostEnv,
		FixturesDir:       cfg.FixturesDir,
		PluginSearchPaths: cfg.PluginSearchPaths,
		StartTimeout:      cfg.StartTimeout,
		StopTimeout:       cfg.StopTimeout,
		LockTimeout:       cfg.LockTimeout,
		LockDir:           cfg.LockDir,
		WorkDir:           cfg.WorkDir,
		HasFramework:      cfg.Framework != nil,
		HasMetrics:        cfg.MetricsRegisterer != nil,
		JournalPath:       cfg.JournalPath,
	}
}

// NewManagerForTesting builds a Manager from opts without touching the
// singleton.
//
//nolint:ireturn // test hook
func NewManagerForTesting(opts ...ManagerOption) Manager {
	cfg := defaultManagerConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	return newManagerWrapper(cfg)
}
