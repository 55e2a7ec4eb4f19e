package core

import (
	"context"
	"errors"
	"sync"
	"time"
)

// Close shuts the instance down and removes it from the cache. The first
// call starts the teardown; every call returns its outcome. Close of an
// instance that is already Closed returns nil, and close of one that is
// CloseFailed returns the same close error again.
//
// Close waits for a loading instance to settle before tearing it down.
// Returning because ctx is done does not stop the teardown.
func (i *Instance) Close(ctx context.Context) error {
	i.closeOnce.Do(func() {
		go i.runClose()
	})
	select {
	case <-i.closeDone:
		return i.closeErr
	default:
	}
	select {
	case <-i.closeDone:
		return i.closeErr
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Closed returns a channel that is closed once the close outcome is settled.
func (i *Instance) Closed() <-chan struct{} {
	return i.closeDone
}

func (i *Instance) runClose() {
	began := time.Now()

	// An instance that never started has nothing to tear down.
	if _, ok := i.transition(StateClosing, nil, StateCreated); ok {
		i.settleReady(&LifecycleError{Kind: ErrorKindLoad, InstanceID: i.id, Err: ErrClosed})
		i.finishClose(began, nil)
		return
	}

	<-i.readyDone
	if _, ok := i.transition(StateClosing, nil, StateReady, StateFailed); !ok {
		// Unreachable while closeOnce guards runClose.
		i.log.Debug("close of instance in unexpected state", "state", i.State().String())
	}

	err := i.teardown()
	if err == nil && i.cfg.Clean {
		i.cleanArtifacts()
	}
	i.finishClose(began, err)
}

// teardown stops the agent and the host concurrently and joins their errors.
func (i *Instance) teardown() error {
	handle := i.Handle()
	if handle == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), i.settings.StopTimeout)
	defer cancel()

	var (
		wg       sync.WaitGroup
		hostErr  error
		agentErr error
	)
	if agent := handle.Agent(); agent != nil {
		wg.Go(func() {
			agentErr = agent.Shutdown(ctx)
		})
	}
	wg.Go(func() {
		hostErr = handle.Shutdown(ctx)
	})
	wg.Wait()

	return errors.Join(agentErr, hostErr)
}

// finishClose evicts the instance, records the final state and then
// releases every Close waiter.
func (i *Instance) finishClose(began time.Time, err error) {
	final := StateClosed
	if err != nil {
		lerr := &LifecycleError{Kind: ErrorKindClose, InstanceID: i.id, Err: err}
		i.closeErr = lerr
		i.setErr(lerr)
		final = StateCloseFailed
		i.log.Error("instance close failed", "error", err)
		i.metrics.Failure(i.cfg.Kind, ErrorKindClose)
	}

	i.transition(final, i.closeErr, StateClosing)
	i.evictor.Evict(i)
	i.metrics.CloseDuration(i.cfg.Kind, time.Since(began), err)
	i.log.Debug("instance closed", "state", final.String(), "elapsed", time.Since(began))

	close(i.closeDone)
}
