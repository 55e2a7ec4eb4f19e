package core

import "context"

// Framework bootstraps the host behind an instance.
//
// Instantiate starts whatever the host needs and returns without waiting for
// readiness. An error from Instantiate is a load failure.
type Framework interface {
	Instantiate(ctx context.Context, cfg EffectiveConfig) (Handle, error)
}

// Handle is a running host.
type Handle interface {
	// Ready blocks until the host serves requests. An error is a load
	// failure; its message reaches callers unchanged.
	Ready(ctx context.Context) error

	// Shutdown stops the host. It may be called after a failed Ready.
	Shutdown(ctx context.Context) error

	// Agent returns the host's agent, or nil if it has none.
	Agent() Agent
}

// Agent is a secondary process whose failure fails the instance.
type Agent interface {
	Ready(ctx context.Context) error
	Shutdown(ctx context.Context) error

	// Failures delivers failures that happen after Ready returned. The
	// channel is closed when the agent stops.
	Failures() <-chan error
}

// Endpoint is implemented by handles that serve HTTP.
type Endpoint interface {
	URL() string
}

// ContextMocker is implemented by handles that can inject values into the
// context of subsequent requests.
type ContextMocker interface {
	MockContext(ctx context.Context, data map[string]any) (map[string]any, error)
}
