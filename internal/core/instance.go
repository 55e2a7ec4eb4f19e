package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"runtime/debug"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/giantswarm/appmock/internal/sentinel"
	"golang.org/x/sync/errgroup"
)

// ErrClosed is the readiness result of an instance closed before it started.
const ErrClosed = sentinel.Error("instance closed before it started")

// recordTimeout bounds one TransitionRecorder call.
const recordTimeout = 5 * time.Second

// Evictor removes a closed or failed instance from the cache. It breaks the
// dependency from Instance back to Manager.
//
// Evict must only remove the entry if it still refers to i, and must be safe
// to call more than once.
type Evictor interface {
	Evict(i *Instance)
}

// Instance is one mock host and its lifecycle.
//
// Synchronization:
//   - mu guards state, handle, emitted and observers.
//   - readyDone and closeDone are closed exactly once through readyOnce and
//     closeOnce. readyErr and closeErr are written before the close and read
//     only after it.
//   - lastErr is atomic for lock-free Err calls.
//
// Observers, metrics, the recorder and the evictor are always called without
// mu held.
type Instance struct {
	id        string
	cfg       EffectiveConfig
	settings  InstanceConfig
	framework Framework
	evictor   Evictor
	metrics   MetricsCollector
	recorder  TransitionRecorder
	log       *slog.Logger

	mu           sync.Mutex
	state        State
	handle       Handle
	emitted      []error
	observers    map[uint64]func(error)
	nextObserver uint64

	lastErr atomic.Pointer[error]

	readyOnce sync.Once
	readyDone chan struct{}
	readyErr  error

	closeOnce sync.Once
	closeDone chan struct{}
	closeErr  error
}

// NewInstanceParams holds the parameters for NewInstance. Metrics and
// Recorder are optional.
type NewInstanceParams struct {
	ID        string
	Config    EffectiveConfig
	Settings  InstanceConfig
	Framework Framework
	Evictor   Evictor
	Metrics   MetricsCollector
	Recorder  TransitionRecorder
}

// NewInstance creates an instance in state Created. It performs no I/O.
// Panics on an empty ID, a nil Framework or Evictor, or invalid Settings.
func NewInstance(params NewInstanceParams) *Instance {
	if params.ID == "" {
		panic("appmock: instance id must not be empty")
	}
	if params.Framework == nil {
		panic("appmock: instance framework must not be nil")
	}
	if params.Evictor == nil {
		panic("appmock: instance evictor must not be nil")
	}
	if err := params.Settings.Validate(); err != nil {
		panic(fmt.Sprintf("appmock: invalid instance config: %v", err))
	}
	metrics := params.Metrics
	if metrics == nil {
		metrics = NewNoopMetricsCollector()
	}
	recorder := params.Recorder
	if recorder == nil {
		recorder = noopRecorder{}
	}
	return &Instance{
		id:        params.ID,
		cfg:       params.Config,
		settings:  params.Settings,
		framework: params.Framework,
		evictor:   params.Evictor,
		metrics:   metrics,
		recorder:  recorder,
		log:       Logger().With("id", params.ID, "kind", params.Config.Kind.String()),
		observers: make(map[uint64]func(error)),
		readyDone: make(chan struct{}),
		closeDone: make(chan struct{}),
	}
}

// ID returns the unique instance id.
func (i *Instance) ID() string {
	return i.id
}

// Key returns the identity key, or "" for an uncached instance.
func (i *Instance) Key() string {
	return i.cfg.Key
}

// Kind returns the instance kind.
func (i *Instance) Kind() Kind {
	return i.cfg.Kind
}

// Config returns a copy of the effective configuration.
func (i *Instance) Config() EffectiveConfig {
	cfg := i.cfg
	cfg.Plugins = maps.Clone(i.cfg.Plugins)
	cfg.Keep = slices.Clone(i.cfg.Keep)
	return cfg
}

// State returns the current lifecycle state.
func (i *Instance) State() State {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.state
}

// Err returns the most recent failure, or nil.
func (i *Instance) Err() error {
	if p := i.lastErr.Load(); p != nil {
		return *p
	}
	return nil
}

func (i *Instance) setErr(e error) {
	i.lastErr.Store(&e)
}

// Handle returns the host handle, or nil before instantiation finished.
//
//nolint:ireturn // the handle's concrete type belongs to the framework.
func (i *Instance) Handle() Handle {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.handle
}

// Ready waits until the instance is Ready or has failed while loading.
// Every caller sees the same result. Returning because ctx is done does not
// stop the loading.
func (i *Instance) Ready(ctx context.Context) error {
	select {
	case <-i.readyDone:
		return i.readyErr
	default:
	}
	select {
	case <-i.readyDone:
		return i.readyErr
	case <-ctx.Done():
		return ctx.Err()
	}
}

// OnError registers h for every failure of the instance. Failures that
// happened before registration are replayed to h immediately, so none is
// lost. Handlers run on the failing goroutine; a panicking handler is
// recovered and logged. The returned function unregisters h.
func (i *Instance) OnError(h func(error)) (unsubscribe func()) {
	i.mu.Lock()
	id := i.nextObserver
	i.nextObserver++
	i.observers[id] = h
	past := slices.Clone(i.emitted)
	i.mu.Unlock()

	for _, err := range past {
		i.notify(h, err)
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			i.mu.Lock()
			delete(i.observers, id)
			i.mu.Unlock()
		})
	}
}

// start moves Created to Loading and loads the host in the background.
// Calls after the first are no-ops.
func (i *Instance) start() {
	if _, ok := i.transition(StateLoading, nil, StateCreated); !ok {
		return
	}
	go i.load()
}

// load instantiates the host and waits for it and its agent to become ready.
func (i *Instance) load() {
	began := time.Now()
	ctx, cancel := context.WithTimeout(context.Background(), i.settings.StartTimeout)
	defer cancel()

	handle, err := i.framework.Instantiate(ctx, i.cfg)
	if err == nil && handle == nil {
		err = errors.New("framework returned no handle")
	}
	if err != nil {
		i.metrics.ReadyDuration(i.cfg.Kind, time.Since(began), err)
		i.fail(ErrorKindLoad, err)
		return
	}

	i.mu.Lock()
	i.handle = handle
	i.mu.Unlock()

	agent := handle.Agent()

	// The first failure cancels gCtx so the other wait returns at once.
	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := handle.Ready(gCtx); err != nil {
			return &LifecycleError{Kind: ErrorKindLoad, InstanceID: i.id, Err: err}
		}
		return nil
	})
	if agent != nil {
		g.Go(func() error {
			if err := agent.Ready(gCtx); err != nil {
				return &LifecycleError{Kind: ErrorKindAgent, InstanceID: i.id, Err: err}
			}
			return nil
		})
	}
	err = g.Wait()
	i.metrics.ReadyDuration(i.cfg.Kind, time.Since(began), err)
	if err != nil {
		var lerr *LifecycleError
		if errors.As(err, &lerr) {
			i.fail(lerr.Kind, lerr.Err)
		} else {
			i.fail(ErrorKindLoad, err)
		}
		return
	}

	if _, ok := i.transition(StateReady, nil, StateLoading); !ok {
		return
	}
	i.log.Debug("instance ready", "elapsed", time.Since(began))
	i.settleReady(nil)

	if agent != nil {
		go i.watchAgent(agent)
	}
}

// watchAgent turns agent failures after readiness into instance failures.
// The instance is not closed; that stays with the caller.
func (i *Instance) watchAgent(agent Agent) {
	failures := agent.Failures()
	if failures == nil {
		return
	}
	for {
		select {
		case err, ok := <-failures:
			if !ok {
				return
			}
			if err != nil {
				i.fail(ErrorKindAgent, err)
			}
		case <-i.closeDone:
			return
		}
	}
}

// fail records err as the instance's terminal startup outcome: the state
// moves to Failed, readiness settles with the error if it has not settled
// yet, and every observer is notified once. Failures of an instance that
// already failed or is closing are logged and dropped.
func (i *Instance) fail(kind ErrorKind, err error) {
	lerr := &LifecycleError{Kind: kind, InstanceID: i.id, Err: err}

	i.mu.Lock()
	switch i.state {
	case StateFailed, StateClosing, StateClosed, StateCloseFailed:
		state := i.state
		i.mu.Unlock()
		i.log.Debug("ignoring failure of settled instance", "state", state.String(), "error", err)
		return
	case StateCreated, StateLoading, StateReady:
	}
	from := i.state
	i.state = StateFailed
	i.emitted = append(i.emitted, lerr)
	handlers := slices.Collect(maps.Values(i.observers))
	i.mu.Unlock()

	i.setErr(lerr)
	i.log.Error("instance failed", "cause", kind.String(), "from", from.String(), "error", err)
	i.metrics.Failure(i.cfg.Kind, kind)
	i.report(from, StateFailed, lerr)
	i.settleReady(lerr)

	for _, h := range handlers {
		i.notify(h, lerr)
	}
}

func (i *Instance) settleReady(err error) {
	i.readyOnce.Do(func() {
		i.readyErr = err
		close(i.readyDone)
	})
}

// notify calls one error handler and recovers a panic in it.
func (i *Instance) notify(h func(error), err error) {
	defer func() {
		if r := recover(); r != nil {
			i.log.Error("error handler panicked", "panic", r, "stack", string(debug.Stack()))
		}
	}()
	h(err)
}

// transition moves the instance to `to` if it is currently in one of from.
// It returns the previous state and whether the move happened.
func (i *Instance) transition(to State, cause error, from ...State) (State, bool) {
	i.mu.Lock()
	prev := i.state
	if !slices.Contains(from, prev) {
		i.mu.Unlock()
		return prev, false
	}
	i.state = to
	i.mu.Unlock()

	i.report(prev, to, cause)
	return prev, true
}

// report publishes a state change to metrics and the recorder.
func (i *Instance) report(from, to State, cause error) {
	i.metrics.StateTransition(i.cfg.Kind, from, to)
	i.log.Debug("state transition", "from", from.String(), "to", to.String())

	t := Transition{
		InstanceID: i.id,
		Key:        i.cfg.Key,
		Kind:       i.cfg.Kind,
		From:       from,
		To:         to,
		At:         time.Now(),
	}
	if cause != nil {
		t.Err = cause.Error()
	}
	ctx, cancel := context.WithTimeout(context.Background(), recordTimeout)
	defer cancel()
	if err := i.recorder.RecordTransition(ctx, t); err != nil {
		i.log.Warn("record transition", "error", err)
	}
}
