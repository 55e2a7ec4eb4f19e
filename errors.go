package appmock

import "github.com/giantswarm/appmock/internal/core"

// Sentinel errors for error inspection with errors.Is.
// These are immutable constants safe for use in wrapped error chain comparison.
const (
	// ErrConflictingOptions is returned by App and Cluster when a Config
	// sets options that exclude each other, such as Plugin together with
	// PluginFromWorkDir.
	ErrConflictingOptions = core.ErrConflictingOptions

	// ErrInvalidConfig is returned by App and Cluster for values that are
	// out of range.
	ErrInvalidConfig = core.ErrInvalidConfig

	// ErrPluginNotFound is returned by App and Cluster when a named plugin
	// is not under any search root.
	ErrPluginNotFound = core.ErrPluginNotFound

	// ErrFrameworkNotFound is returned by App and Cluster when the framework
	// directory does not exist.
	ErrFrameworkNotFound = core.ErrFrameworkNotFound

	// ErrNotReady is returned by Request, URL and MockContext when the
	// instance is not Ready.
	ErrNotReady = core.ErrNotReady

	// ErrNoEndpoint is returned by Request and URL when the host has no
	// HTTP endpoint.
	ErrNoEndpoint = core.ErrNoEndpoint

	// ErrContextUnsupported is returned by MockContext when the host cannot
	// mock request context.
	ErrContextUnsupported = core.ErrContextUnsupported

	// ErrClosed is the cause of the load failure of an instance closed
	// before it started loading.
	ErrClosed = core.ErrClosed
)
