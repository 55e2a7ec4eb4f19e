package hostproc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"time"

	"github.com/giantswarm/appmock/internal/fileutil"
	"github.com/giantswarm/appmock/internal/process"
)

// ReadyPath is the host endpoint that answers 200 once the host serves.
const ReadyPath = "/readyz"

// readinessPollInterval is the interval between /readyz requests.
const readinessPollInterval = 20 * time.Millisecond

// healthCheckTimeout is the per-request timeout of a /readyz probe.
const healthCheckTimeout = 2 * time.Second

// CoverageDirName is the directory under the base dir that receives
// GOCOVERDIR output when coverage is on.
const CoverageDirName = "coverage"

// Compile-time interface satisfaction check.
var _ process.Stoppable = (*Process)(nil)

// Role is the part a host process plays in an instance.
type Role string

const (
	RoleApp    Role = "app"
	RoleAgent  Role = "agent"
	RoleWorker Role = "worker"
)

// Config holds the configuration for one host process.
type Config struct {
	Binary       string   // host binary, looked up in PATH unless it has a separator
	Args         []string // leading arguments before the appmock flags
	Role         Role
	Index        int // worker index, ignored for other roles
	Port         int
	BaseDir      string // working directory of the host
	LogDir       string // stdout/stderr logs
	Framework    string // optional framework directory
	PluginConfig string // path of the effective plugin map
	Coverage     bool
	Env          []string // extra KEY=VALUE entries

	// Logger (optional, defaults to slog.Default())
	Logger *slog.Logger

	// StopTimeout is used by Close when Stop was not called.
	StopTimeout time.Duration
}

func (c Config) validate() error {
	var errs []error
	if c.Binary == "" {
		errs = append(errs, errors.New("binary path must not be empty"))
	}
	switch c.Role {
	case RoleApp, RoleAgent, RoleWorker:
	default:
		errs = append(errs, fmt.Errorf("unknown role %q", c.Role))
	}
	if c.Port <= 0 || c.Port > 65535 {
		errs = append(errs, errors.New("port must be between 1 and 65535"))
	}
	if c.BaseDir == "" {
		errs = append(errs, errors.New("base dir must not be empty"))
	}
	if c.LogDir == "" {
		errs = append(errs, errors.New("log dir must not be empty"))
	}
	if c.PluginConfig == "" {
		errs = append(errs, errors.New("plugin config path must not be empty"))
	}
	return errors.Join(errs...)
}

// Name returns the process name used for logs: the role, plus the index for
// workers.
func (c Config) Name() string {
	if c.Role == RoleWorker {
		return string(c.Role) + "-" + strconv.Itoa(c.Index)
	}
	return string(c.Role)
}

// args returns the host command line after the binary.
func (c Config) args() []string {
	args := append([]string(nil), c.Args...)
	args = append(args,
		"--role="+string(c.Role),
		"--port="+strconv.Itoa(c.Port),
		"--base-dir="+c.BaseDir,
	)
	if c.Framework != "" {
		args = append(args, "--framework="+c.Framework)
	}
	args = append(args, "--config="+c.PluginConfig)
	if c.Role == RoleWorker {
		args = append(args, "--worker="+strconv.Itoa(c.Index))
	}
	return args
}

func (c Config) env() []string {
	env := append(os.Environ(), c.Env...)
	if c.Coverage {
		env = append(env, "GOCOVERDIR="+filepath.Join(c.BaseDir, CoverageDirName))
	}
	return env
}

// ExitError is a host process that ended on its own or refused to stop
// cleanly. Error returns the last line the host wrote to stderr, so a host's
// own failure message reaches callers unchanged.
type ExitError struct {
	Process string
	Message string
	Err     error
}

func (e *ExitError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("%s exited: %v", e.Process, e.Err)
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

// Process manages one host process.
type Process struct {
	config Config
	base   process.BaseProcess
	client *http.Client
}

// New creates a Process. It performs no I/O.
func New(cfg Config) (*Process, error) {
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid host config: %w", err)
	}
	return &Process{
		config: cfg,
		base:   process.NewBaseProcess(cfg.Name(), cfg.Logger, cfg.StopTimeout),
		client: &http.Client{Timeout: healthCheckTimeout},
	}, nil
}

// Name returns the process name.
func (p *Process) Name() string {
	return p.base.Name()
}

// Start launches the host. The process outlives any request context; it
// ends only through Stop or on its own.
func (p *Process) Start() error {
	if p.base.IsStarted() {
		return process.ErrAlreadyStarted
	}
	if err := fileutil.EnsureDirs(p.config.LogDir); err != nil {
		return err
	}
	if p.config.Coverage {
		if err := os.MkdirAll(filepath.Join(p.config.BaseDir, CoverageDirName), 0o755); err != nil {
			return fmt.Errorf("create coverage dir: %w", err)
		}
	}

	cmd := exec.Command(p.config.Binary, p.config.args()...) //nolint:gosec,noctx // G204: binary comes from configuration
	cmd.Env = p.config.env()
	if err := p.base.SetupAndStart(cmd, p.config.BaseDir, p.config.LogDir); err != nil {
		return fmt.Errorf("setup and start %s process: %w", p.Name(), err)
	}
	p.base.Logger().Debug("host process started",
		"process", p.Name(), "pid", cmd.Process.Pid, "port", p.config.Port)
	return nil
}

// URL returns the base URL of the host.
func (p *Process) URL() string {
	return "http://127.0.0.1:" + strconv.Itoa(p.config.Port)
}

// WaitReady polls /readyz until it answers 200. If the host exits first the
// returned error is an *ExitError with the host's stderr message.
func (p *Process) WaitReady(ctx context.Context, timeout time.Duration) error {
	log := p.base.Logger()
	err := process.WaitReady(ctx, process.WaitReadyConfig{
		Interval: readinessPollInterval,
		Timeout:  timeout,
		Name:     p.Name(),
		Port:     p.config.Port,
		Logger:   log,
		Exited:   p.base.Exited(),
	}, process.HTTPCheck(p.client, p.URL()+ReadyPath, log))
	if errors.Is(err, process.ErrProcessExited) {
		return p.exitError(p.base.Exit().Err())
	}
	if err != nil {
		return fmt.Errorf("%s not ready: %w", p.Name(), err)
	}
	return nil
}

// Exit returns the exit status of the running process, or nil before Start.
func (p *Process) Exit() *process.ExitStatus {
	return p.base.Exit()
}

// ExitError builds the error for a process that ended with cause.
func (p *Process) ExitError(cause error) error {
	return p.exitError(cause)
}

func (p *Process) exitError(cause error) error {
	if cause == nil {
		cause = errors.New("exit status 0")
	}
	msg, err := process.LastLine(p.base.StderrPath())
	if err != nil {
		p.base.Logger().Debug("read stderr tail", "process", p.Name(), "error", err)
	}
	return &ExitError{Process: p.Name(), Message: msg, Err: cause}
}

// Stop terminates the host with SIGTERM, then SIGKILL. A host that exits
// with a status of its own instead of by the signal fails the stop with its
// stderr message.
func (p *Process) Stop(timeout time.Duration) error {
	if err := p.base.Stop(timeout); err != nil {
		return p.exitError(err)
	}
	return nil
}

// Close releases log file handles held by the process.
func (p *Process) Close() {
	p.base.Close()
}
