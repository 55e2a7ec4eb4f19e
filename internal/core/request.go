package core

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// Request sends an HTTP request to the instance. path is relative to the
// host URL. The instance must be Ready and its handle must be an Endpoint.
// The caller closes the response body.
func (i *Instance) Request(ctx context.Context, method, path string, body io.Reader) (*http.Response, error) {
	ep, err := i.endpoint()
	if err != nil {
		return nil, err
	}

	url := strings.TrimSuffix(ep.URL(), "/") + "/" + strings.TrimPrefix(path, "/")
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	return resp, nil
}

// URL returns the base URL of a Ready instance.
func (i *Instance) URL() (string, error) {
	ep, err := i.endpoint()
	if err != nil {
		return "", err
	}
	return ep.URL(), nil
}

// MockContext injects data into the context of the host's subsequent
// requests and returns the context the host now holds.
func (i *Instance) MockContext(ctx context.Context, data map[string]any) (map[string]any, error) {
	handle, err := i.readyHandle()
	if err != nil {
		return nil, err
	}
	mocker, ok := handle.(ContextMocker)
	if !ok {
		return nil, ErrContextUnsupported
	}
	return mocker.MockContext(ctx, data)
}

//nolint:ireturn // Endpoint is implemented by the framework's handle.
func (i *Instance) endpoint() (Endpoint, error) {
	handle, err := i.readyHandle()
	if err != nil {
		return nil, err
	}
	ep, ok := handle.(Endpoint)
	if !ok {
		return nil, ErrNoEndpoint
	}
	return ep, nil
}

//nolint:ireturn // Handle is implemented by the framework.
func (i *Instance) readyHandle() (Handle, error) {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.state != StateReady {
		return nil, fmt.Errorf("%w: state %s", ErrNotReady, i.state)
	}
	return i.handle, nil
}
