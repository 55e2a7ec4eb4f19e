package appmock

import (
	"context"
	"io"
	"net/http"
)

// Manager hands out instances and caches them by configuration.
//
// App and Cluster return without waiting for the host; call Instance.Ready.
// An error from App or Cluster is a configuration that could not be resolved
// and no process was started.
type Manager interface {
	// App returns the app instance for cfg, starting it when no live
	// instance with the same configuration exists.
	App(cfg Config) (Instance, error)

	// Cluster is App for a cluster of workers.
	Cluster(cfg Config) (Instance, error)

	// Reset forgets every cached instance without closing it. Later
	// requests start fresh instances.
	Reset()

	// CloseAll closes every instance the manager created that is not yet
	// closed, in parallel, and joins their errors.
	CloseAll(ctx context.Context) error
}

// Instance is one mock host.
type Instance interface {
	// ID is unique per instance. Key is the cache identity, empty for
	// uncached instances.
	ID() string
	Key() string

	State() State

	// Err returns the most recent failure, or nil.
	Err() error

	// Ready blocks until the host serves requests or failed to load. Every
	// caller sees the same outcome. Returning early because ctx is done does
	// not stop the host.
	Ready(ctx context.Context) error

	// Close stops the host. It waits for loading to settle first. Repeated
	// calls return the first call's outcome.
	Close(ctx context.Context) error

	// OnError registers h for failures of the instance. Failures that
	// already happened are delivered to h right away.
	OnError(h func(error)) (unsubscribe func())

	// Request sends an HTTP request to the host. path is relative to URL.
	Request(ctx context.Context, method, path string, body io.Reader) (*http.Response, error)

	// URL returns the base URL of the host.
	URL() (string, error)

	// MockContext merges data into the context of later requests and
	// returns the merged context.
	MockContext(ctx context.Context, data map[string]any) (map[string]any, error)

	// Handle returns the running host, or nil before loading started.
	Handle() Handle
}
