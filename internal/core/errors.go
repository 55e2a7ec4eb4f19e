package core

import (
	"fmt"

	"github.com/giantswarm/appmock/internal/sentinel"
)

// Sentinel errors. Resolution failures wrap the first four; the rest are
// returned by Instance methods.
const (
	ErrConflictingOptions = sentinel.Error("conflicting options")
	ErrInvalidConfig      = sentinel.Error("invalid config")
	ErrPluginNotFound     = sentinel.Error("plugin not found")
	ErrFrameworkNotFound  = sentinel.Error("framework not found")

	// ErrNotLocated is returned by a PluginLocator when no search root
	// holds the requested name.
	ErrNotLocated = sentinel.Error("not found under search roots")

	// ErrNotReady is returned by Request when the instance is not Ready.
	ErrNotReady = sentinel.Error("instance not ready")

	// ErrNoEndpoint is returned by Request when the host exposes no URL.
	ErrNoEndpoint = sentinel.Error("instance has no endpoint")

	// ErrContextUnsupported is returned by MockContext when the host cannot
	// inject request context.
	ErrContextUnsupported = sentinel.Error("host does not support mock context")
)

// ErrorKind classifies where in the lifecycle a failure happened.
type ErrorKind int

const (
	// ErrorKindBuild is a configuration that could not be resolved. No
	// process was started.
	ErrorKindBuild ErrorKind = iota + 1

	// ErrorKindLoad is a host that failed while loading.
	ErrorKindLoad

	// ErrorKindAgent is a failure of the agent process, before or after
	// the instance became ready.
	ErrorKindAgent

	// ErrorKindClose is a teardown failure.
	ErrorKindClose
)

// String returns the kind name.
func (k ErrorKind) String() string {
	switch k {
	case ErrorKindBuild:
		return "build"
	case ErrorKindLoad:
		return "load"
	case ErrorKindAgent:
		return "agent"
	case ErrorKindClose:
		return "close"
	default:
		return fmt.Sprintf("ErrorKind(%d)", int(k))
	}
}

// LifecycleError carries a failure together with its kind. Error returns
// the underlying message unchanged so callers can match on the host's text.
type LifecycleError struct {
	Kind       ErrorKind
	InstanceID string // empty for build failures
	Err        error
}

func (e *LifecycleError) Error() string {
	return e.Err.Error()
}

func (e *LifecycleError) Unwrap() error {
	return e.Err
}
