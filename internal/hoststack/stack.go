package hoststack

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/giantswarm/appmock/internal/core"
	"github.com/giantswarm/appmock/internal/fileutil"
	"github.com/giantswarm/appmock/internal/hostproc"
	"github.com/giantswarm/appmock/internal/netutil"
	"github.com/giantswarm/appmock/internal/process"
	"github.com/giantswarm/appmock/internal/sentinel"
	"golang.org/x/sync/errgroup"
	"sigs.k8s.io/yaml"
)

// PluginConfigName is the file under <baseDir>/run that receives the
// effective plugin map.
const PluginConfigName = "appmock-plugins.yaml"

// ErrStopped is returned by operations on a stack that was shut down.
const ErrStopped = sentinel.Error("host stack stopped")

// Compile-time interface satisfaction checks.
var (
	_ core.Framework     = (*Framework)(nil)
	_ core.Handle        = (*Stack)(nil)
	_ core.Endpoint      = (*Stack)(nil)
	_ core.ContextMocker = (*Stack)(nil)
)

// Config holds the settings shared by every stack a Framework starts.
type Config struct {
	// Binary is the host binary. Args are passed before the appmock flags.
	Binary string
	Args   []string

	// Env holds extra KEY=VALUE entries for every host process.
	Env []string

	// Ports coordinates port allocation across concurrent stacks. Required.
	Ports *netutil.PortRegistry

	// ReadyTimeout bounds the readiness wait of each process. StopTimeout is
	// used when a shutdown context carries no deadline.
	ReadyTimeout time.Duration
	StopTimeout  time.Duration

	// Logger (optional, defaults to slog.Default())
	Logger *slog.Logger
}

func (c Config) validate() error {
	var errs []error

	if c.Binary == "" {
		errs = append(errs, errors.New("host binary must not be empty"))
	}
	if c.Ports == nil {
		errs = append(errs, errors.New("port registry must not be nil"))
	}
	if c.ReadyTimeout <= 0 {
		errs = append(errs, errors.New("ready timeout must be positive"))
	}
	if c.StopTimeout <= 0 {
		errs = append(errs, errors.New("stop timeout must be positive"))
	}

	return errors.Join(errs...)
}

// Framework starts host stacks.
type Framework struct {
	config Config
	log    *slog.Logger
}

// New creates a Framework. It performs no I/O.
func New(cfg Config) (*Framework, error) {
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid hoststack config: %w", err)
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	cfg.Args = append([]string(nil), cfg.Args...)
	cfg.Env = append([]string(nil), cfg.Env...)
	return &Framework{config: cfg, log: log}, nil
}

// Instantiate writes the plugin map and starts the processes of eff. It does
// not wait for readiness. On error every started process is stopped and its
// port released.
func (f *Framework) Instantiate(_ context.Context, eff core.EffectiveConfig) (_ core.Handle, retErr error) {
	logDir := filepath.Join(eff.BaseDir, core.LogsDirName)
	runDir := filepath.Join(eff.BaseDir, core.RunDirName)
	if err := fileutil.EnsureDirs(logDir, runDir); err != nil {
		return nil, err
	}

	pluginConfig := filepath.Join(runDir, PluginConfigName)
	if err := writePluginConfig(pluginConfig, eff.Plugins); err != nil {
		return nil, err
	}

	mains := 1
	if eff.Kind == core.KindCluster {
		mains = max(eff.Workers, 1)
	}
	ports, err := f.config.Ports.AllocatePorts(mains + 1)
	if err != nil {
		return nil, fmt.Errorf("allocate ports: %w", err)
	}

	log := f.log.With("base_dir", eff.BaseDir)
	s := &Stack{
		log:          log,
		ports:        f.config.Ports,
		readyTimeout: f.config.ReadyTimeout,
		stopTimeout:  f.config.StopTimeout,
	}
	// handed counts the leading ports owned by s.agent or s.mains. Their
	// stop paths release them; the rest are released here.
	handed := 0
	defer func() {
		if retErr != nil {
			if err := s.stop(process.DefaultStopTimeout); err != nil {
				log.Warn("cleanup stack after start failure", "error", err)
			}
			if s.agent != nil {
				if err := s.agent.stop(process.DefaultStopTimeout); err != nil {
					log.Warn("cleanup agent after start failure", "error", err)
				}
			}
			f.config.Ports.Release(ports[handed:]...)
		}
	}()

	newProc := func(role hostproc.Role, index, port int) (*hostproc.Process, error) {
		return hostproc.New(hostproc.Config{
			Binary:       f.config.Binary,
			Args:         f.config.Args,
			Role:         role,
			Index:        index,
			Port:         port,
			BaseDir:      eff.BaseDir,
			LogDir:       logDir,
			Framework:    eff.Framework,
			PluginConfig: pluginConfig,
			Coverage:     eff.Coverage,
			Env:          f.config.Env,
			Logger:       log,
			StopTimeout:  f.config.StopTimeout,
		})
	}

	agentProc, err := newProc(hostproc.RoleAgent, 0, ports[0])
	if err != nil {
		return nil, err
	}
	s.agent = newAgent(log, agentProc, ports[0], f.config.Ports, f.config.ReadyTimeout, f.config.StopTimeout)
	handed++

	for i, port := range ports[1:] {
		role, index := hostproc.RoleApp, 0
		if eff.Kind == core.KindCluster {
			role, index = hostproc.RoleWorker, i+1
		}
		p, err := newProc(role, index, port)
		if err != nil {
			return nil, err
		}
		s.mains = append(s.mains, &host{proc: p, port: port})
		handed++
	}

	if err := s.agent.start(); err != nil {
		return nil, err
	}
	for _, h := range s.mains {
		if err := h.proc.Start(); err != nil {
			return nil, err
		}
	}

	log.Debug("host stack started", "kind", eff.Kind, "processes", len(ports))
	return s, nil
}

func writePluginConfig(path string, plugins map[string]core.PluginConfig) error {
	if plugins == nil {
		plugins = map[string]core.PluginConfig{}
	}
	data, err := yaml.Marshal(plugins)
	if err != nil {
		return fmt.Errorf("encode plugin config: %w", err)
	}
	return fileutil.WriteFileAtomic(path, data, 0o644)
}

type host struct {
	proc *hostproc.Process
	port int
}

// Stack is one running instance: an agent plus the app or the workers.
type Stack struct {
	log          *slog.Logger
	ports        *netutil.PortRegistry
	readyTimeout time.Duration
	stopTimeout  time.Duration
	agent        *Agent

	mu    sync.Mutex
	mains []*host
}

// Ready waits until the app or every worker answers on /readyz. A process
// that exits first fails Ready with the last line of its stderr.
func (s *Stack) Ready(ctx context.Context) error {
	procs := s.procs()
	if len(procs) == 0 {
		return ErrStopped
	}
	g, gCtx := errgroup.WithContext(ctx)
	for _, p := range procs {
		g.Go(func() error {
			s.log.Debug("waiting for host readiness", "process", p.Name(), "timeout", s.readyTimeout)
			return p.WaitReady(gCtx, s.readyTimeout)
		})
	}
	return g.Wait()
}

// Shutdown stops the app or the workers in parallel and releases their
// ports. The agent is shut down through Agent. A process that already
// exited on its own does not fail the shutdown; its failure was reported
// when it happened.
func (s *Stack) Shutdown(ctx context.Context) error {
	return s.stop(stopTimeout(ctx, s.stopTimeout))
}

func (s *Stack) stop(timeout time.Duration) error {
	s.mu.Lock()
	mains := s.mains
	s.mains = nil
	s.mu.Unlock()

	errs := make([]error, len(mains))
	var wg sync.WaitGroup
	for i, h := range mains {
		wg.Go(func() {
			errs[i] = stopHost(s.log, &h.proc, timeout)
			s.ports.Release(h.port)
		})
	}
	wg.Wait()

	return errors.Join(errs...)
}

// Agent returns the stack's agent.
func (s *Stack) Agent() core.Agent {
	return s.agent
}

// URL returns the base URL of the app, or of the first worker.
func (s *Stack) URL() string {
	procs := s.procs()
	if len(procs) == 0 {
		return ""
	}
	return procs[0].URL() + "/"
}

func (s *Stack) procs() []*hostproc.Process {
	s.mu.Lock()
	defer s.mu.Unlock()
	procs := make([]*hostproc.Process, 0, len(s.mains))
	for _, h := range s.mains {
		procs = append(procs, h.proc)
	}
	return procs
}

// stopHost stops *p. A process that had exited before the stop is logged
// instead of failing the stop.
func stopHost(log *slog.Logger, p **hostproc.Process, timeout time.Duration) error {
	if *p == nil {
		return nil
	}
	exited := hasExited(*p)
	name := (*p).Name()
	err := process.StopCloseAndNil(p, timeout)
	if exited {
		if err != nil {
			log.Debug("host had already exited", "process", name, "error", err)
		}
		return nil
	}
	return err
}

func hasExited(p *hostproc.Process) bool {
	exit := p.Exit()
	if exit == nil {
		return false
	}
	select {
	case <-exit.Done():
		return true
	default:
		return false
	}
}

// stopTimeout returns the time left before ctx's deadline, or fallback when
// ctx has none.
func stopTimeout(ctx context.Context, fallback time.Duration) time.Duration {
	deadline, ok := ctx.Deadline()
	if !ok {
		return fallback
	}
	return max(time.Until(deadline), time.Millisecond)
}
