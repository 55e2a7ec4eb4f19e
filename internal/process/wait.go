package process

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/giantswarm/appmock/internal/sentinel"
	"k8s.io/apimachinery/pkg/util/wait"
)

const (
	// ErrIntervalNotPositive indicates a non-positive poll interval.
	ErrIntervalNotPositive = sentinel.Error("interval must be positive")

	// ErrTimeoutNotPositive indicates a non-positive timeout.
	ErrTimeoutNotPositive = sentinel.Error("timeout must be positive")

	// ErrProcessExited indicates the process exited before becoming ready.
	ErrProcessExited = sentinel.Error("process exited before becoming ready")
)

// ReadinessCheck probes a process once. attempt starts at 1. Returning true
// ends the wait; a non-nil error aborts it.
type ReadinessCheck func(ctx context.Context, attempt int) (ready bool, err error)

// WaitReadyConfig configures WaitReady.
type WaitReadyConfig struct {
	Interval time.Duration
	Timeout  time.Duration
	Name     string       // process name for errors and logs
	Port     int          // logged only
	Logger   *slog.Logger // nil means slog.Default()

	// Exited aborts the wait with ErrProcessExited once closed.
	Exited <-chan struct{}
}

func (c WaitReadyConfig) validate() error {
	if c.Name == "" {
		return errors.New("wait ready: name must not be empty")
	}
	if c.Interval <= 0 {
		return fmt.Errorf("wait for %s: %w", c.Name, ErrIntervalNotPositive)
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("wait for %s: %w", c.Name, ErrTimeoutNotPositive)
	}
	return nil
}

func (c WaitReadyConfig) exited() bool {
	if c.Exited == nil {
		return false
	}
	select {
	case <-c.Exited:
		return true
	default:
		return false
	}
}

// WaitReady polls check every Interval until it reports ready. It gives up
// when check fails, Timeout passes, ctx ends or Exited is closed. The ctx
// passed to check is canceled on timeout so blocking probes return.
func WaitReady(ctx context.Context, cfg WaitReadyConfig, check ReadinessCheck) error {
	if err := cfg.validate(); err != nil {
		return err
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}

	// Conditions run one at a time, so attempt needs no lock.
	attempt := 0
	err := wait.PollUntilContextTimeout(ctx, cfg.Interval, cfg.Timeout, true,
		func(pollCtx context.Context) (bool, error) {
			if cfg.exited() {
				return false, fmt.Errorf("process %s: %w", cfg.Name, ErrProcessExited)
			}
			attempt++
			ready, err := check(pollCtx, attempt)
			switch {
			case err != nil:
				return false, err
			case ready:
				log.Debug("process ready", "process", cfg.Name, "port", cfg.Port, "attempts", attempt)
			}
			return ready, nil
		})
	if err != nil {
		return fmt.Errorf("wait for %s readiness on port %d: %w", cfg.Name, cfg.Port, err)
	}
	return nil
}

// HTTPCheck returns a ReadinessCheck that GETs url and is ready on 200.
// Transport errors and other statuses mean "not yet".
func HTTPCheck(client *http.Client, url string, log *slog.Logger) ReadinessCheck {
	if client == nil {
		client = http.DefaultClient
	}
	if log == nil {
		log = slog.Default()
	}
	return func(ctx context.Context, attempt int) (bool, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return false, fmt.Errorf("create readiness request: %w", err)
		}
		resp, err := client.Do(req)
		if err != nil {
			log.Debug("readiness attempt", "url", url, "attempt", attempt, "error", err)
			return false, nil
		}
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			log.Debug("readiness attempt", "url", url, "attempt", attempt, "status", resp.StatusCode)
			return false, nil
		}
		return true, nil
	}
}
