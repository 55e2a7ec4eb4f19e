package core

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// fakeAgent is an Agent whose outcomes are set by the test.
type fakeAgent struct {
	readyErr    error
	shutdownErr error
	failures    chan error
	shutdowns   atomic.Int32
}

func newFakeAgent() *fakeAgent {
	return &fakeAgent{failures: make(chan error, 1)}
}

func (a *fakeAgent) Ready(context.Context) error { return a.readyErr }

func (a *fakeAgent) Shutdown(context.Context) error {
	a.shutdowns.Add(1)
	return a.shutdownErr
}

func (a *fakeAgent) Failures() <-chan error { return a.failures }

// fakeHandle is a Handle whose readiness can be gated and whose outcomes are
// set by the test.
type fakeHandle struct {
	gate        chan struct{} // nil: Ready returns at once
	readyErr    error
	shutdownErr error
	agent       *fakeAgent
	url         string
	shutdowns   atomic.Int32
}

func (h *fakeHandle) Ready(ctx context.Context) error {
	if h.gate != nil {
		select {
		case <-h.gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return h.readyErr
}

func (h *fakeHandle) Shutdown(context.Context) error {
	h.shutdowns.Add(1)
	return h.shutdownErr
}

//nolint:ireturn // test double
func (h *fakeHandle) Agent() Agent {
	if h.agent == nil {
		return nil
	}
	return h.agent
}

// endpointHandle adds Endpoint and ContextMocker to fakeHandle.
type endpointHandle struct {
	*fakeHandle
	mu      sync.Mutex
	context map[string]any
}

func (h *endpointHandle) URL() string { return h.url }

func (h *endpointHandle) MockContext(_ context.Context, data map[string]any) (map[string]any, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.context == nil {
		h.context = make(map[string]any)
	}
	for k, v := range data {
		h.context[k] = v
	}
	out := make(map[string]any, len(h.context))
	for k, v := range h.context {
		out[k] = v
	}
	return out, nil
}

// fakeFramework builds handles through a test-provided function and counts
// instantiations.
type fakeFramework struct {
	build func(cfg EffectiveConfig) (Handle, error)
	calls atomic.Int32
}

//nolint:ireturn // test double
func (f *fakeFramework) Instantiate(_ context.Context, cfg EffectiveConfig) (Handle, error) {
	f.calls.Add(1)
	if f.build == nil {
		return &fakeHandle{}, nil
	}
	return f.build(cfg)
}

// frameworkFunc adapts a function to Framework.
type frameworkFunc func(ctx context.Context, cfg EffectiveConfig) (Handle, error)

//nolint:ireturn // test double
func (f frameworkFunc) Instantiate(ctx context.Context, cfg EffectiveConfig) (Handle, error) {
	return f(ctx, cfg)
}

// fakeManifests serves manifests from a map keyed by directory.
type fakeManifests map[string]Manifest

func (f fakeManifests) ReadManifest(dir string) (Manifest, bool, error) {
	m, ok := f[dir]
	return m, ok, nil
}

// fakeLocator resolves a name to the first root holding a directory of that
// name, according to a set of existing paths.
type fakeLocator map[string]bool

func (f fakeLocator) Locate(name string, roots []string) (string, error) {
	for _, root := range roots {
		if p := filepath.Join(root, name); f[p] {
			return p, nil
		}
	}
	return "", fmt.Errorf("%s: %w", name, ErrNotLocated)
}

// fakeEvictor records evictions.
type fakeEvictor struct {
	mu      sync.Mutex
	evicted []*Instance
}

func (e *fakeEvictor) Evict(i *Instance) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.evicted = append(e.evicted, i)
}

func (e *fakeEvictor) count() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.evicted)
}

// errorRecorder collects errors passed to an OnError handler.
type errorRecorder struct {
	mu   sync.Mutex
	errs []error
	ch   chan error
}

func newErrorRecorder() *errorRecorder {
	return &errorRecorder{ch: make(chan error, 16)}
}

func (r *errorRecorder) handle(err error) {
	r.mu.Lock()
	r.errs = append(r.errs, err)
	r.mu.Unlock()
	r.ch <- err
}

func (r *errorRecorder) all() []error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]error(nil), r.errs...)
}

// wait returns the next recorded error or fails the test after a timeout.
func (r *errorRecorder) wait(t *testing.T) error {
	t.Helper()
	select {
	case err := <-r.ch:
		return err
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for error signal")
		return nil
	}
}

// validInstanceConfig returns an InstanceConfig that passes Validate.
func validInstanceConfig(t *testing.T) InstanceConfig {
	t.Helper()
	return InstanceConfig{
		StartTimeout: 10 * time.Second,
		StopTimeout:  5 * time.Second,
		LockTimeout:  5 * time.Second,
		LockDir:      filepath.Join(t.TempDir(), "locks"),
	}
}

// newTestInstance creates an instance with the given framework and a
// recording evictor. The effective config uses a temporary base dir.
func newTestInstance(t *testing.T, fw Framework) (*Instance, *fakeEvictor) {
	t.Helper()
	ev := &fakeEvictor{}
	base := t.TempDir()
	inst := NewInstance(NewInstanceParams{
		ID: "test-inst",
		Config: EffectiveConfig{
			Kind:    KindApp,
			BaseDir: base,
			WorkDir: base,
			Plugins: map[string]PluginConfig{},
			Cache:   true,
			Key:     "k",
		},
		Settings:  validInstanceConfig(t),
		Framework: fw,
		Evictor:   ev,
	})
	return inst, ev
}

// newTestManager creates a Manager rooted at a temporary working directory.
func newTestManager(t *testing.T, fw Framework, manifests fakeManifests, loc fakeLocator) (*Manager, string) {
	t.Helper()
	wd := t.TempDir()
	if manifests == nil {
		manifests = fakeManifests{}
	}
	if loc == nil {
		loc = fakeLocator{}
	}
	settings := validInstanceConfig(t)
	m := NewManager(ManagerParams{
		Config: ManagerConfig{
			FixturesDir:  "testdata",
			StartTimeout: settings.StartTimeout,
			StopTimeout:  settings.StopTimeout,
			LockTimeout:  settings.LockTimeout,
			LockDir:      settings.LockDir,
		},
		Framework: fw,
		Manifests: manifests,
		Locator:   loc,
		Getwd:     func() (string, error) { return wd, nil },
	})
	return m, wd
}

// readyCtx returns a context bounding a wait in a test.
func readyCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

// waitForState polls until inst reaches want or fails the test.
func waitForState(t *testing.T, inst *Instance, want State) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if inst.State() == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("state = %s, want %s", inst.State(), want)
}

// requirePanicContains calls fn and verifies it panics with a message
// containing wantSubstr.
func requirePanicContains(t *testing.T, fn func(), wantSubstr string) {
	t.Helper()

	var recovered string
	func() {
		defer func() {
			if r := recover(); r != nil {
				recovered = fmt.Sprint(r)
			}
		}()
		fn()
	}()

	if recovered == "" {
		t.Fatal("expected panic, got none")
	}
	if !strings.Contains(recovered, wantSubstr) {
		t.Errorf("panic message %q does not contain %q", recovered, wantSubstr)
	}
}

// writeFile creates a file with its parent directories.
func writeFile(t *testing.T, path string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte("x"), 0o600); err != nil {
		t.Fatal(err)
	}
}
