package appmock_test

import (
	"context"
	"errors"
	"maps"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/giantswarm/appmock"
)

// Fixture names that make memFramework fail. Any other base dir loads.
const (
	fixtureLoadFail    = "load-fail"    // Instantiate fails with "load error"
	fixtureLoadingFail = "loading-fail" // Ready fails with "loading error"
	fixtureAgentFail   = "agent-fail"   // the agent fails with "agent load error" after Ready
	fixtureCloseFail   = "close-fail"   // Shutdown fails with "app close error"

	// fixtureBrokenFramework has a manifest naming a framework that does
	// not exist.
	fixtureBrokenFramework = "broken-framework"
)

// memFramework starts in-memory hosts whose behavior depends on the base
// dir name.
type memFramework struct {
	started atomic.Int32
}

func (f *memFramework) Instantiate(_ context.Context, eff appmock.EffectiveConfig) (appmock.Handle, error) {
	f.started.Add(1)
	behavior := filepath.Base(eff.BaseDir)
	if behavior == fixtureLoadFail {
		return nil, errors.New("load error")
	}
	h := &memHandle{eff: eff, behavior: behavior, agent: &memAgent{failures: make(chan error, 1)}}
	if behavior == fixtureAgentFail {
		h.agent.fail = errors.New("agent load error")
	}
	return h, nil
}

type memHandle struct {
	eff      appmock.EffectiveConfig
	behavior string
	agent    *memAgent

	mu      sync.Mutex
	mocked  map[string]any
	stopped bool
}

func (h *memHandle) Ready(context.Context) error {
	if h.behavior == fixtureLoadingFail {
		return errors.New("loading error")
	}
	return nil
}

func (h *memHandle) Shutdown(context.Context) error {
	h.mu.Lock()
	h.stopped = true
	h.mu.Unlock()
	if h.behavior == fixtureCloseFail {
		return errors.New("app close error")
	}
	return nil
}

func (h *memHandle) Agent() appmock.Agent {
	return h.agent
}

func (h *memHandle) MockContext(_ context.Context, data map[string]any) (map[string]any, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.mocked == nil {
		h.mocked = map[string]any{}
	}
	maps.Copy(h.mocked, data)
	return maps.Clone(h.mocked), nil
}

func (h *memHandle) isStopped() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.stopped
}

type memAgent struct {
	fail     error
	failures chan error
}

func (a *memAgent) Ready(context.Context) error {
	if a.fail != nil {
		go func() {
			time.Sleep(10 * time.Millisecond)
			a.failures <- a.fail
		}()
	}
	return nil
}

func (a *memAgent) Shutdown(context.Context) error {
	return nil
}

func (a *memAgent) Failures() <-chan error {
	return a.failures
}

// newMemManager returns a Manager over memFramework rooted at a fresh work
// dir whose fixtures dir holds every named fixture.
//
//nolint:ireturn // test helper
func newMemManager(t *testing.T, opts ...appmock.ManagerOption) (appmock.Manager, *memFramework, string) {
	t.Helper()

	wd := t.TempDir()
	for _, name := range []string{"app", "cache", fixtureLoadFail, fixtureLoadingFail, fixtureAgentFail, fixtureCloseFail} {
		if err := os.MkdirAll(filepath.Join(wd, appmock.DefaultFixturesDir, name), 0o755); err != nil {
			t.Fatal(err)
		}
	}
	manifest := filepath.Join(wd, appmock.DefaultFixturesDir, fixtureBrokenFramework, "appmock.yaml")
	if err := os.MkdirAll(filepath.Dir(manifest), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(manifest, []byte("framework: no-such-framework\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	fw := &memFramework{}
	opts = append([]appmock.ManagerOption{
		appmock.WithFramework(fw),
		appmock.WithWorkDir(wd),
		appmock.WithLockDir(t.TempDir()),
		appmock.WithStartTimeout(10 * time.Second),
		appmock.WithLockTimeout(time.Second),
	}, opts...)
	m := appmock.NewManagerForTesting(opts...)
	t.Cleanup(func() { _ = m.CloseAll(context.Background()) })
	return m, fw, wd
}

func testCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	t.Cleanup(cancel)
	return ctx
}

// firstSignal registers a handler on inst and returns a channel that
// receives the first signaled error.
func firstSignal(inst appmock.Instance) <-chan error {
	ch := make(chan error, 1)
	inst.OnError(func(err error) {
		select {
		case ch <- err:
		default:
		}
	})
	return ch
}

func waitSignal(t *testing.T, ch <-chan error) error {
	t.Helper()
	select {
	case err := <-ch:
		return err
	case <-time.After(10 * time.Second):
		t.Fatal("no error signal")
		return nil
	}
}
