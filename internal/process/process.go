package process

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"syscall"
	"time"
)

// LogFiles manages the stdout/stderr files of one process.
type LogFiles struct {
	stdoutFile *os.File
	stderrFile *os.File
	logDir     string
	stdoutName string // e.g. "app-stdout.log"
	stderrName string // e.g. "worker-1-stderr.log"
}

// create opens both files. They are assigned only after both succeed.
func (l *LogFiles) create() error {
	stdoutFile, err := os.Create(l.StdoutPath())
	if err != nil {
		return fmt.Errorf("create stdout log: %w", err)
	}
	stderrFile, err := os.Create(l.StderrPath())
	if err != nil {
		_ = stdoutFile.Close()
		return fmt.Errorf("create stderr log: %w", err)
	}
	l.stdoutFile = stdoutFile
	l.stderrFile = stderrFile
	return nil
}

// Close closes both handles. Safe to call more than once.
func (l *LogFiles) Close() {
	if l.stdoutFile != nil {
		_ = l.stdoutFile.Close()
		l.stdoutFile = nil
	}
	if l.stderrFile != nil {
		_ = l.stderrFile.Close()
		l.stderrFile = nil
	}
}

// StdoutPath returns the path of the stdout log.
func (l *LogFiles) StdoutPath() string {
	return filepath.Join(l.logDir, l.stdoutName)
}

// StderrPath returns the path of the stderr log.
func (l *LogFiles) StderrPath() string {
	return filepath.Join(l.logDir, l.stderrName)
}

// NewLogFiles creates "<name>-stdout.log" and "<name>-stderr.log" in logDir.
func NewLogFiles(logDir, processName string) (LogFiles, error) {
	l := LogFiles{
		logDir:     logDir,
		stdoutName: processName + "-stdout.log",
		stderrName: processName + "-stderr.log",
	}
	if err := l.create(); err != nil {
		return LogFiles{}, err
	}
	return l, nil
}

// tailBytes is how much of a log LastLine inspects.
const tailBytes = 4096

// LastLine returns the last non-empty line of the file at path, with
// surrounding whitespace trimmed. A missing or empty file yields "".
func LastLine(path string) (string, error) {
	f, err := os.Open(path) //nolint:gosec // G304: log paths are built by this package
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", nil
		}
		return "", fmt.Errorf("open %s: %w", path, err)
	}
	defer func() { _ = f.Close() }()

	info, err := f.Stat()
	if err != nil {
		return "", fmt.Errorf("stat %s: %w", path, err)
	}
	offset := max(info.Size()-tailBytes, 0)
	buf := make([]byte, info.Size()-offset)
	if _, err := f.ReadAt(buf, offset); err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("read %s: %w", path, err)
	}

	lines := bytes.Split(buf, []byte{'\n'})
	for i := len(lines) - 1; i >= 0; i-- {
		if line := bytes.TrimSpace(lines[i]); len(line) > 0 {
			return string(line), nil
		}
	}
	return "", nil
}

// DefaultStopTimeout is used when no stop timeout is configured.
const DefaultStopTimeout = 10 * time.Second

// termGracePeriod caps the wait between SIGTERM and SIGKILL.
const termGracePeriod = 5 * time.Second

// killDrainTimeout bounds the wait for cmd.Wait after SIGKILL. SIGKILL cannot
// be caught, so this only fires if Wait itself hangs.
const killDrainTimeout = 10 * time.Second

// drainDone reads done with timeout as a hard upper bound. It returns false
// if the timeout elapsed first.
func drainDone(done <-chan error, timeout time.Duration) (bool, error) {
	t := time.NewTimer(timeout)
	defer t.Stop()

	select {
	case err := <-done:
		return true, err
	case <-t.C:
		return false, nil
	}
}

// stopWithDone sends SIGTERM, escalates to SIGKILL after the grace period,
// and waits for the single cmd.Wait goroutine to report through done.
//
// Worst case it blocks for timeout + killDrainTimeout. The caller clears cmd
// and done afterwards.
func stopWithDone(cmd *exec.Cmd, done <-chan error, timeout time.Duration, name string) error {
	if cmd == nil || cmd.Process == nil {
		return nil
	}
	if done == nil {
		return fmt.Errorf("%s: done channel must not be nil", name)
	}

	if err := cmd.Process.Signal(syscall.SIGTERM); err != nil {
		// Already exited. Collect the status it exited with.
		ok, waitErr := drainDone(done, killDrainTimeout)
		if !ok {
			return fmt.Errorf("%s: timed out draining process after signal failure", name)
		}
		return expectSignalExit(waitErr, name)
	}

	grace := min(termGracePeriod, timeout)
	killTimer := time.AfterFunc(grace, func() {
		// Kill on a finished process returns an error that means nothing here.
		_ = cmd.Process.Kill()
	})
	defer killTimer.Stop()

	totalTimer := time.NewTimer(timeout)
	defer totalTimer.Stop()

	select {
	case err := <-done:
		return expectSignalExit(err, name)
	case <-totalTimer.C:
		ok, waitErr := drainDone(done, killDrainTimeout)
		if !ok {
			return fmt.Errorf("%s: timed out waiting for process to exit after SIGKILL", name)
		}
		if err := expectSignalExit(waitErr, name); err != nil {
			return fmt.Errorf("%s stop timeout: %w", name, err)
		}
		return nil
	}
}

// expectSignalExit treats an exit caused by SIGTERM or SIGKILL as a clean
// stop. Any other exit status is returned as an error.
func expectSignalExit(err error, name string) error {
	if err == nil {
		return nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		if status, ok := exitErr.Sys().(syscall.WaitStatus); ok {
			sig := status.Signal()
			if status.Signaled() && (sig == syscall.SIGTERM || sig == syscall.SIGKILL) {
				return nil
			}
		}
	}
	return fmt.Errorf("%s: %w", name, err)
}

// StartCmd creates the log files, attaches them to cmd and starts it. On
// failure the log files are closed again.
func StartCmd(cmd *exec.Cmd, logDir, processName string) (LogFiles, error) {
	logFiles, err := NewLogFiles(logDir, processName)
	if err != nil {
		return LogFiles{}, fmt.Errorf("create %s logs: %w", processName, err)
	}

	cmd.Stdout = logFiles.stdoutFile
	cmd.Stderr = logFiles.stderrFile

	if err := cmd.Start(); err != nil {
		logFiles.Close()
		return LogFiles{}, fmt.Errorf("start %s process: %w", processName, err)
	}

	return logFiles, nil
}
