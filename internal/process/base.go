package process

import (
	"fmt"
	"log/slog"
	"os/exec"
	"time"

	"github.com/giantswarm/appmock/internal/sentinel"
)

// ErrAlreadyStarted is returned when Start is called on a running process.
const ErrAlreadyStarted = sentinel.Error("process already started")

// ErrNilCmd is returned when SetupAndStart is called with a nil *exec.Cmd.
const ErrNilCmd = sentinel.Error("cmd must not be nil")

// ErrEmptyCmdPath is returned when SetupAndStart is called with an empty cmd.Path.
const ErrEmptyCmdPath = sentinel.Error("cmd.Path must not be empty")

// ErrEmptyDir is returned when SetupAndStart is called without a working or
// log directory.
const ErrEmptyDir = sentinel.Error("directory must not be empty")

// ExitStatus reports how a started process ended. It stays valid after the
// owning BaseProcess is stopped, so watchers may hold on to it.
type ExitStatus struct {
	done chan struct{}
	err  error
}

// Done is closed once the process has exited.
func (s *ExitStatus) Done() <-chan struct{} {
	return s.done
}

// Err returns the cmd.Wait result once Done is closed, and nil before.
func (s *ExitStatus) Err() error {
	select {
	case <-s.done:
		return s.err
	default:
		return nil
	}
}

// BaseProcess provides the start/stop/close lifecycle shared by every host
// process. It is not safe for concurrent use; the owner serializes calls.
// ExitStatus values it hands out may be read from any goroutine.
type BaseProcess struct {
	cmd         *exec.Cmd
	waitDone    <-chan error // single cmd.Wait result, consumed by Stop
	exit        *ExitStatus
	logFiles    LogFiles
	name        string // e.g. "app", "agent", "worker-2"
	log         *slog.Logger
	stopTimeout time.Duration // used by Close when Stop was skipped
}

// NewBaseProcess creates a BaseProcess. A zero stopTimeout falls back to
// DefaultStopTimeout and a nil logger to slog.Default(). Panics if name is
// empty.
func NewBaseProcess(name string, logger *slog.Logger, stopTimeout time.Duration) BaseProcess {
	if name == "" {
		panic("appmock: process name must not be empty")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return BaseProcess{name: name, log: logger, stopTimeout: stopTimeout}
}

// Name returns the process name.
func (b *BaseProcess) Name() string {
	return b.name
}

// Stop terminates the process. IsStarted reports false afterwards even when
// the stop failed. A process that was never started stops trivially.
//
// A process that already exited on its own is not an error unless it exited
// with a non-zero status; that status is returned so callers see why it died.
func (b *BaseProcess) Stop(timeout time.Duration) error {
	if b.cmd == nil || b.cmd.Process == nil {
		b.cmd = nil
		b.waitDone = nil
		return nil
	}
	pid := b.cmd.Process.Pid
	err := stopWithDone(b.cmd, b.waitDone, timeout, b.name)
	if err != nil {
		b.log.Warn("process stop failed",
			"process", b.name, "pid", pid, "error", err)
	}
	b.cmd = nil
	b.waitDone = nil
	return err
}

// Close releases the log file handles. A process that is still running is
// stopped first; that path is a safety net and is logged.
func (b *BaseProcess) Close() {
	if b.cmd != nil {
		b.log.Warn("process.Close called without Stop; stopping automatically",
			"process", b.name)
		timeout := b.stopTimeout
		if timeout <= 0 {
			timeout = DefaultStopTimeout
		}
		if err := b.Stop(timeout); err != nil {
			b.log.Warn("auto-stop during Close failed",
				"process", b.name, "error", err)
		}
	}
	b.logFiles.Close()
}

// Logger returns the process logger.
func (b *BaseProcess) Logger() *slog.Logger {
	return b.log
}

// Exit returns the exit status of the current run, or nil if the process was
// never started.
func (b *BaseProcess) Exit() *ExitStatus {
	return b.exit
}

// Exited returns a channel closed when the process exits, or nil if it was
// never started.
func (b *BaseProcess) Exited() <-chan struct{} {
	if b.exit == nil {
		return nil
	}
	return b.exit.Done()
}

// StderrPath returns the stderr log path of the current run.
func (b *BaseProcess) StderrPath() string {
	return b.logFiles.StderrPath()
}

// IsStarted reports whether the process was started and not yet stopped.
func (b *BaseProcess) IsStarted() bool {
	return b.cmd != nil
}

// SetupAndStart starts cmd in dir with its output captured under logDir.
// Exactly one goroutine calls cmd.Wait; its result feeds both Stop and the
// ExitStatus returned by Exit.
func (b *BaseProcess) SetupAndStart(cmd *exec.Cmd, dir, logDir string) error {
	if cmd == nil {
		return ErrNilCmd
	}
	if cmd.Path == "" {
		return ErrEmptyCmdPath
	}
	if dir == "" || logDir == "" {
		return ErrEmptyDir
	}
	if b.cmd != nil {
		return ErrAlreadyStarted
	}

	cmd.Dir = dir
	configureSysProcAttr(cmd)

	logFiles, err := StartCmd(cmd, logDir, b.name)
	if err != nil {
		return fmt.Errorf("start command: %w", err)
	}
	b.logFiles.Close()
	b.cmd = cmd
	b.logFiles = logFiles

	done := make(chan error, 1)
	exit := &ExitStatus{done: make(chan struct{})}
	go func() {
		err := cmd.Wait()
		exit.err = err // published by the close below
		done <- err
		close(exit.done)
	}()
	b.waitDone = done
	b.exit = exit

	return nil
}
