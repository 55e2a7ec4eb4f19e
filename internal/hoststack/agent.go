package hoststack

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/giantswarm/appmock/internal/core"
	"github.com/giantswarm/appmock/internal/hostproc"
	"github.com/giantswarm/appmock/internal/netutil"
	"github.com/giantswarm/appmock/internal/process"
)

var _ core.Agent = (*Agent)(nil)

// Agent is the host process running next to the app or the workers. Once
// ready it is watched: an exit that Shutdown did not cause is published on
// Failures.
type Agent struct {
	log          *slog.Logger
	port         int
	ports        *netutil.PortRegistry
	readyTimeout time.Duration
	stopTimeout  time.Duration

	stopping  atomic.Bool
	failures  chan error
	watchOnce sync.Once

	mu   sync.Mutex
	proc *hostproc.Process
}

func newAgent(log *slog.Logger, proc *hostproc.Process, port int, ports *netutil.PortRegistry, readyTimeout, stopTimeout time.Duration) *Agent {
	return &Agent{
		log:          log,
		port:         port,
		ports:        ports,
		readyTimeout: readyTimeout,
		stopTimeout:  stopTimeout,
		failures:     make(chan error, 1),
		proc:         proc,
	}
}

func (a *Agent) start() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.proc.Start()
}

// Ready waits for the agent's /readyz, then starts watching it.
func (a *Agent) Ready(ctx context.Context) error {
	a.mu.Lock()
	p := a.proc
	a.mu.Unlock()
	if p == nil {
		return ErrStopped
	}

	if err := p.WaitReady(ctx, a.readyTimeout); err != nil {
		return err
	}
	a.watchOnce.Do(func() {
		go a.watch(p, p.Exit())
	})
	return nil
}

func (a *Agent) watch(p *hostproc.Process, exit *process.ExitStatus) {
	defer close(a.failures)
	<-exit.Done()
	if a.stopping.Load() {
		return
	}
	a.failures <- p.ExitError(exit.Err())
}

// Failures delivers an exit of the agent that happened after Ready. It is
// closed once the agent is gone.
func (a *Agent) Failures() <-chan error {
	return a.failures
}

// Shutdown stops the agent and releases its port. An agent that already
// exited on its own shuts down cleanly; its failure went to Failures.
func (a *Agent) Shutdown(ctx context.Context) error {
	return a.stop(stopTimeout(ctx, a.stopTimeout))
}

func (a *Agent) stop(timeout time.Duration) error {
	a.stopping.Store(true)

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.proc == nil {
		return nil
	}
	err := stopHost(a.log, &a.proc, timeout)
	a.ports.Release(a.port)
	return err
}
