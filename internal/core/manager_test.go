package core

import (
	"errors"
	"path/filepath"
	"sync"
	"testing"
)

func TestNewManagerPanics(t *testing.T) {
	t.Parallel()

	valid := func(t *testing.T) ManagerParams {
		settings := validInstanceConfig(t)
		return ManagerParams{
			Config: ManagerConfig{
				FixturesDir:  "testdata",
				StartTimeout: settings.StartTimeout,
				StopTimeout:  settings.StopTimeout,
				LockTimeout:  settings.LockTimeout,
				LockDir:      settings.LockDir,
			},
			Framework: &fakeFramework{},
			Manifests: fakeManifests{},
			Locator:   fakeLocator{},
		}
	}

	tests := map[string]struct {
		modify     func(p *ManagerParams)
		wantSubstr string
	}{
		"invalid config": {
			modify:     func(p *ManagerParams) { p.Config.FixturesDir = "" },
			wantSubstr: "invalid manager config",
		},
		"nil framework": {
			modify:     func(p *ManagerParams) { p.Framework = nil },
			wantSubstr: "framework must not be nil",
		},
		"nil manifests": {
			modify:     func(p *ManagerParams) { p.Manifests = nil },
			wantSubstr: "must not be nil",
		},
		"nil locator": {
			modify:     func(p *ManagerParams) { p.Locator = nil },
			wantSubstr: "must not be nil",
		},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			p := valid(t)
			tc.modify(&p)
			requirePanicContains(t, func() { NewManager(p) }, tc.wantSubstr)
		})
	}
}

func TestManagerCacheSharing(t *testing.T) {
	t.Parallel()

	gate := make(chan struct{})
	fw := &fakeFramework{build: func(EffectiveConfig) (Handle, error) {
		return &fakeHandle{gate: gate}, nil
	}}
	m, _ := newTestManager(t, fw, nil, nil)
	cfg := Config{BaseDir: "cache"}

	// Concurrent requests during loading converge on one instance.
	const callers = 8
	got := make([]*Instance, callers)
	var wg sync.WaitGroup
	for n := range callers {
		wg.Go(func() {
			inst, err := m.GetOrCreate(cfg, KindApp)
			if err != nil {
				t.Errorf("GetOrCreate() = %v", err)
				return
			}
			got[n] = inst
		})
	}
	wg.Wait()
	close(gate)

	for n := 1; n < callers; n++ {
		if got[n] != got[0] {
			t.Fatalf("caller %d got instance %p, want %p", n, got[n], got[0])
		}
	}
	if err := got[0].Ready(readyCtx(t)); err != nil {
		t.Fatalf("Ready() = %v", err)
	}
	if n := fw.calls.Load(); n != 1 {
		t.Errorf("Instantiate called %d times, want 1", n)
	}
	if n := m.Len(); n != 1 {
		t.Errorf("Len() = %d, want 1", n)
	}
}

func TestManagerCacheNonSharing(t *testing.T) {
	t.Parallel()

	tests := map[string]struct {
		a, b Config
		ka   Kind
		kb   Kind
	}{
		"base dir": {
			a: Config{BaseDir: "one"}, b: Config{BaseDir: "two"},
			ka: KindApp, kb: KindApp,
		},
		"framework": {
			a: Config{BaseDir: "one"}, b: Config{BaseDir: "one", Framework: "/fw"},
			ka: KindApp, kb: KindApp,
		},
		"plugins": {
			a:  Config{BaseDir: "one"},
			b:  Config{BaseDir: "one", Plugins: map[string]PluginConfig{"p": {Enable: true}}},
			ka: KindApp, kb: KindApp,
		},
		"kind": {
			a: Config{BaseDir: "one"}, b: Config{BaseDir: "one"},
			ka: KindApp, kb: KindCluster,
		},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			m, _ := newTestManager(t, &fakeFramework{}, nil, nil)
			a, err := m.GetOrCreate(tc.a, tc.ka)
			if err != nil {
				t.Fatalf("GetOrCreate(a) = %v", err)
			}
			b, err := m.GetOrCreate(tc.b, tc.kb)
			if err != nil {
				t.Fatalf("GetOrCreate(b) = %v", err)
			}
			if a == b {
				t.Error("different identities share an instance")
			}
			if a.Key() == b.Key() {
				t.Errorf("keys are equal: %s", a.Key())
			}
		})
	}
}

func TestManagerFreshAfterClose(t *testing.T) {
	t.Parallel()

	tests := map[string]struct {
		closeErr error
	}{
		"successful close": {},
		"failed close":     {closeErr: errors.New("app close error")},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			fw := &fakeFramework{build: func(EffectiveConfig) (Handle, error) {
				return &fakeHandle{shutdownErr: tc.closeErr}, nil
			}}
			m, _ := newTestManager(t, fw, nil, nil)
			cfg := Config{BaseDir: "cache"}

			first, err := m.GetOrCreate(cfg, KindApp)
			if err != nil {
				t.Fatalf("GetOrCreate() = %v", err)
			}
			if again, _ := m.GetOrCreate(cfg, KindApp); again != first {
				t.Fatal("second request before close returned a different instance")
			}
			if err := first.Ready(readyCtx(t)); err != nil {
				t.Fatalf("Ready() = %v", err)
			}

			err = first.Close(readyCtx(t))
			if tc.closeErr == nil && err != nil {
				t.Fatalf("Close() = %v", err)
			}
			if tc.closeErr != nil && (err == nil || err.Error() != tc.closeErr.Error()) {
				t.Fatalf("Close() = %v, want %q", err, tc.closeErr)
			}

			// No stale entry is visible once Close returned.
			if _, ok := m.Lookup(first.Key()); ok {
				t.Error("closed instance is still cached")
			}
			next, err := m.GetOrCreate(cfg, KindApp)
			if err != nil {
				t.Fatalf("GetOrCreate() after close = %v", err)
			}
			if next == first {
				t.Error("got the closed instance back")
			}
			if err := next.Ready(readyCtx(t)); err != nil {
				t.Errorf("new instance Ready() = %v", err)
			}
		})
	}
}

func TestManagerReplacesFailedEntry(t *testing.T) {
	t.Parallel()

	var (
		mu     sync.Mutex
		agents []*fakeAgent
	)
	fw := &fakeFramework{build: func(EffectiveConfig) (Handle, error) {
		agent := newFakeAgent()
		mu.Lock()
		agents = append(agents, agent)
		mu.Unlock()
		return &fakeHandle{agent: agent}, nil
	}}
	m, _ := newTestManager(t, fw, nil, nil)
	cfg := Config{BaseDir: "cache"}

	first, err := m.GetOrCreate(cfg, KindApp)
	if err != nil {
		t.Fatalf("GetOrCreate() = %v", err)
	}
	rec := newErrorRecorder()
	first.OnError(rec.handle)
	if err := first.Ready(readyCtx(t)); err != nil {
		t.Fatalf("Ready() = %v", err)
	}

	mu.Lock()
	agents[0].failures <- errors.New("agent load error")
	mu.Unlock()
	rec.wait(t)

	// The failed instance is still cached until someone asks again.
	if cached, ok := m.Lookup(first.Key()); !ok || cached != first {
		t.Fatal("failed instance was evicted eagerly")
	}
	if got := m.Len(); got != 1 {
		t.Errorf("Len() = %d, want the failed entry counted", got)
	}

	next, err := m.GetOrCreate(cfg, KindApp)
	if err != nil {
		t.Fatalf("GetOrCreate() = %v", err)
	}
	if next == first {
		t.Fatal("got the failed instance back")
	}
	if got := first.State(); got != StateFailed {
		t.Errorf("failed instance State() = %s, want Failed", got)
	}

	// Closing the replaced instance does not evict its successor.
	if err := first.Close(readyCtx(t)); err != nil {
		t.Fatalf("Close() = %v", err)
	}
	if cached, ok := m.Lookup(next.Key()); !ok || cached != next {
		t.Error("closing the old instance evicted the new one")
	}
}

func TestManagerCacheDisabled(t *testing.T) {
	t.Parallel()

	fw := &fakeFramework{}
	m, _ := newTestManager(t, fw, nil, nil)
	cfg := Config{BaseDir: "app", DisableCache: true}

	var (
		wg   sync.WaitGroup
		a, b *Instance
	)
	wg.Go(func() { a, _ = m.GetOrCreate(cfg, KindApp) })
	wg.Go(func() { b, _ = m.GetOrCreate(cfg, KindApp) })
	wg.Wait()

	if a == nil || b == nil {
		t.Fatal("GetOrCreate returned nil")
	}
	if a == b {
		t.Fatal("uncached requests share an instance")
	}
	for _, inst := range []*Instance{a, b} {
		if err := inst.Ready(readyCtx(t)); err != nil {
			t.Errorf("Ready() = %v", err)
		}
		if inst.Key() != "" {
			t.Errorf("Key() = %q, want empty", inst.Key())
		}
	}
	if n := m.Len(); n != 0 {
		t.Errorf("Len() = %d, want 0", n)
	}
	if n := fw.calls.Load(); n != 2 {
		t.Errorf("Instantiate called %d times, want 2", n)
	}
}

func TestManagerBuildError(t *testing.T) {
	t.Parallel()

	tests := map[string]struct {
		cfg     Config
		kind    Kind
		wantErr error
	}{
		"plugin with plugin from workdir": {
			cfg:     Config{Plugin: "p", PluginFromWorkDir: true},
			kind:    KindApp,
			wantErr: ErrConflictingOptions,
		},
		"framework with framework from workdir": {
			cfg:     Config{Framework: "/fw", FrameworkFromWorkDir: true},
			kind:    KindApp,
			wantErr: ErrConflictingOptions,
		},
		"unknown plugin": {
			cfg:     Config{Plugin: "missing"},
			kind:    KindApp,
			wantErr: ErrPluginNotFound,
		},
		"negative workers": {
			cfg:     Config{Workers: -1},
			kind:    KindCluster,
			wantErr: ErrInvalidConfig,
		},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			fw := &fakeFramework{}
			m, _ := newTestManager(t, fw, nil, nil)

			inst, err := m.GetOrCreate(tc.cfg, tc.kind)
			if inst != nil {
				t.Error("GetOrCreate returned an instance for an invalid config")
			}
			if !errors.Is(err, tc.wantErr) {
				t.Fatalf("GetOrCreate() = %v, want %v", err, tc.wantErr)
			}
			var lerr *LifecycleError
			if !errors.As(err, &lerr) || lerr.Kind != ErrorKindBuild {
				t.Errorf("GetOrCreate() = %#v, want build LifecycleError", err)
			}
			if n := fw.calls.Load(); n != 0 {
				t.Errorf("Instantiate called %d times, want 0", n)
			}
		})
	}
}

func TestManagerReset(t *testing.T) {
	t.Parallel()

	m, _ := newTestManager(t, &fakeFramework{}, nil, nil)
	cfg := Config{BaseDir: "cache"}

	first, err := m.GetOrCreate(cfg, KindApp)
	if err != nil {
		t.Fatalf("GetOrCreate() = %v", err)
	}
	m.Reset()
	if n := m.Len(); n != 0 {
		t.Fatalf("Len() after Reset = %d, want 0", n)
	}

	next, err := m.GetOrCreate(cfg, KindApp)
	if err != nil {
		t.Fatalf("GetOrCreate() = %v", err)
	}
	if next == first {
		t.Error("Reset kept the cached instance")
	}

	// Instances forgotten by Reset are still closed by CloseAll.
	if err := m.CloseAll(readyCtx(t)); err != nil {
		t.Fatalf("CloseAll() = %v", err)
	}
	for _, inst := range []*Instance{first, next} {
		if got := inst.State(); got != StateClosed {
			t.Errorf("State() = %s, want Closed", got)
		}
	}
}

func TestManagerCloseAllJoinsErrors(t *testing.T) {
	t.Parallel()

	fw := &fakeFramework{build: func(cfg EffectiveConfig) (Handle, error) {
		if filepath.Base(cfg.BaseDir) == "bad" {
			return &fakeHandle{shutdownErr: errors.New("app close error")}, nil
		}
		return &fakeHandle{}, nil
	}}
	m, _ := newTestManager(t, fw, nil, nil)

	for _, dir := range []string{"good", "bad"} {
		if _, err := m.GetOrCreate(Config{BaseDir: dir}, KindApp); err != nil {
			t.Fatalf("GetOrCreate(%s) = %v", dir, err)
		}
	}

	err := m.CloseAll(readyCtx(t))
	if err == nil || err.Error() != "app close error" {
		t.Fatalf("CloseAll() = %v, want app close error", err)
	}
	if n := m.Len(); n != 0 {
		t.Errorf("Len() = %d, want 0", n)
	}

	// Closed instances are forgotten, so a second CloseAll has nothing to do.
	if err := m.CloseAll(readyCtx(t)); err != nil {
		t.Errorf("second CloseAll() = %v", err)
	}
}

func TestManagerResolvesAgainstWorkDir(t *testing.T) {
	t.Parallel()

	m, wd := newTestManager(t, &fakeFramework{}, nil, nil)

	inst, err := m.GetOrCreate(Config{BaseDir: "app"}, KindApp)
	if err != nil {
		t.Fatalf("GetOrCreate() = %v", err)
	}
	want := filepath.Join(wd, "testdata", "app")
	if got := inst.Config().BaseDir; got != want {
		t.Errorf("BaseDir = %q, want %q", got, want)
	}
}
