package process

import (
	"time"
)

// Stoppable is a process that can be stopped and have its resources closed.
type Stoppable interface {
	Stop(timeout time.Duration) error
	Close()
}

// StopCloseAndNil stops *p, closes it and sets it to nil. A nil p or *p is a
// no-op. Close and the reset run even when Stop fails; the Stop error is
// returned.
//
// The P/E pair restricts P to pointer types, so the nil check needs no
// reflection:
//
//	var host *hostproc.Process
//	err := process.StopCloseAndNil(&host, 10*time.Second)
func StopCloseAndNil[P interface {
	*E
	Stoppable
}, E any](p *P, timeout time.Duration) error {
	if p == nil || *p == nil {
		return nil
	}
	defer func() {
		(*p).Close()
		*p = nil
	}()
	return (*p).Stop(timeout)
}
