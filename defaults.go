package appmock

import "time"

// Default configuration values for NewManager.
// These constants are exported so callers can reference the defaults
// when building custom configurations relative to them (e.g.,
// 2 * DefaultStartTimeout).
const (
	// DefaultHostBinary is the binary name used to locate the host in PATH.
	DefaultHostBinary = "apphost"

	// DefaultFixturesDir is where relative base directories are looked up,
	// relative to the working directory.
	DefaultFixturesDir = "testdata"

	// DefaultStartTimeout bounds the start of one instance, from launching
	// its processes until every one of them is ready.
	DefaultStartTimeout = 2 * time.Minute

	// DefaultStopTimeout bounds the teardown of one instance. Processes get
	// SIGTERM first and SIGKILL once the grace period ends.
	DefaultStopTimeout = 10 * time.Second

	// DefaultLockTimeout bounds the wait for the lock that serializes
	// artifact cleanup of a base directory across test processes. Cleanup
	// is skipped, not failed, when it expires.
	DefaultLockTimeout = 30 * time.Second

	// DefaultLockDirName is the directory under the system temp directory
	// that holds the cleanup lock files. The full path is computed as
	// filepath.Join(os.TempDir(), DefaultLockDirName).
	DefaultLockDirName = "appmock"

	// DefaultMetricsNamespace prefixes the metric names registered through
	// WithMetricsRegisterer.
	DefaultMetricsNamespace = "appmock"
)
