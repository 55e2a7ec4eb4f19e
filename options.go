package appmock

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// requirePositive panics if v <= 0 with a descriptive message.
func requirePositive[T int | time.Duration](name string, v T) {
	if v <= 0 {
		panic(fmt.Sprintf("appmock: %s must be greater than 0, got %v", name, v))
	}
}

// requireNonEmpty panics if s is empty with a descriptive message.
func requireNonEmpty(name, s string) {
	if s == "" {
		panic(fmt.Sprintf("appmock: %s must not be empty", name))
	}
}

// ManagerOption configures a Manager during construction via NewManager.
// Each With* function returns a ManagerOption that sets a specific field.
//
// Several With* functions panic on invalid input (empty paths, non-positive
// durations). Option values are typically constants, so an invalid value is
// a programmer error; the pattern mirrors [regexp.MustCompile].
type ManagerOption func(*managerConfig)

// WithHostBinary sets the host binary. A name without a path separator is
// looked up in PATH.
//
// Default: DefaultHostBinary.
//
// Panics if binPath is empty.
func WithHostBinary(binPath string) ManagerOption {
	requireNonEmpty("host binary path", binPath)
	return func(c *managerConfig) {
		c.HostBinary = binPath
	}
}

// WithHostArgs sets arguments passed to the host before the appmock flags.
func WithHostArgs(args ...string) ManagerOption {
	args = slices.Clone(args)
	return func(c *managerConfig) {
		c.HostArgs = args
	}
}

// WithHostEnv adds KEY=VALUE entries to the environment of every host
// process.
//
// Panics if an entry has no "=".
func WithHostEnv(env ...string) ManagerOption {
	for _, kv := range env {
		if !strings.Contains(kv, "=") {
			panic(fmt.Sprintf("appmock: host env entry %q must have the form KEY=VALUE", kv))
		}
	}
	env = slices.Clone(env)
	return func(c *managerConfig) {
		c.HostEnv = append(c.HostEnv, env...)
	}
}

// WithFixturesDir sets where relative base directories are looked up. A
// relative dir is taken from the working directory.
//
// Default: DefaultFixturesDir.
//
// Panics if dir is empty.
func WithFixturesDir(dir string) ManagerOption {
	requireNonEmpty("fixtures directory", dir)
	return func(c *managerConfig) {
		c.FixturesDir = dir
	}
}

// WithPluginSearchPaths adds plugin search roots, searched after the working
// directory, the base directory and the fixtures directory.
//
// Panics if a path is empty.
func WithPluginSearchPaths(paths ...string) ManagerOption {
	for _, p := range paths {
		requireNonEmpty("plugin search path", p)
	}
	paths = slices.Clone(paths)
	return func(c *managerConfig) {
		c.PluginSearchPaths = append(c.PluginSearchPaths, paths...)
	}
}

// WithStartTimeout sets how long an instance may take to become ready. It
// covers starting every process and waiting for each of them.
//
// Default: 2 minutes.
//
// Panics if d <= 0.
func WithStartTimeout(d time.Duration) ManagerOption {
	requirePositive("start timeout", d)
	return func(c *managerConfig) {
		c.StartTimeout = d
	}
}

// WithStopTimeout sets how long the teardown of an instance may take.
//
// Default: 10 seconds.
//
// Panics if d <= 0.
func WithStopTimeout(d time.Duration) ManagerOption {
	requirePositive("stop timeout", d)
	return func(c *managerConfig) {
		c.StopTimeout = d
	}
}

// WithLockTimeout sets how long artifact cleanup waits for the lock of a
// base directory held by another test process.
//
// Default: 30 seconds.
//
// Panics if d <= 0.
func WithLockTimeout(d time.Duration) ManagerOption {
	requirePositive("lock timeout", d)
	return func(c *managerConfig) {
		c.LockTimeout = d
	}
}

// WithLockDir sets the directory of the cleanup lock files. Test processes
// that share base directories must share it.
// If not set, defaults to filepath.Join(os.TempDir(), DefaultLockDirName).
// Panics if dir is empty.
func WithLockDir(dir string) ManagerOption {
	requireNonEmpty("lock directory", dir)
	return func(c *managerConfig) {
		c.LockDir = dir
	}
}

// WithWorkDir sets the working directory that base directories, plugins and
// frameworks are resolved against, instead of the process working directory.
// Panics if dir is empty.
func WithWorkDir(dir string) ManagerOption {
	requireNonEmpty("working directory", dir)
	return func(c *managerConfig) {
		c.WorkDir = dir
	}
}

// WithFramework replaces the process-backed framework. The host binary
// options are ignored when it is set.
// Panics if fw is nil.
func WithFramework(fw Framework) ManagerOption {
	if fw == nil {
		panic("appmock: framework must not be nil")
	}
	return func(c *managerConfig) {
		c.Framework = fw
	}
}

// WithMetricsRegisterer exports lifecycle metrics (state transitions, cache
// lookups, ready and close durations, failures) to r under the
// DefaultMetricsNamespace prefix.
// Panics if r is nil.
func WithMetricsRegisterer(r prometheus.Registerer) ManagerOption {
	if r == nil {
		panic("appmock: metrics registerer must not be nil")
	}
	return func(c *managerConfig) {
		c.MetricsRegisterer = r
	}
}

// WithJournal records every state transition in a SQLite file at path. The
// journal outlives the test process, which helps with failures that only
// happen in CI.
// Panics if path is empty.
func WithJournal(path string) ManagerOption {
	requireNonEmpty("journal path", path)
	return func(c *managerConfig) {
		c.JournalPath = path
	}
}
