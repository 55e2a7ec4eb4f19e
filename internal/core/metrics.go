package core

import (
	"context"
	"time"
)

// CacheResult labels the outcome of a cache lookup.
type CacheResult string

const (
	CacheHit      CacheResult = "hit"
	CacheMiss     CacheResult = "miss"
	CacheReplaced CacheResult = "replaced" // a dead entry was replaced
	CacheDisabled CacheResult = "disabled"
)

// MetricsCollector receives lifecycle measurements. Implementations must be
// safe for concurrent use and must not block.
type MetricsCollector interface {
	StateTransition(kind Kind, from, to State)
	CacheLookup(kind Kind, result CacheResult)
	ReadyDuration(kind Kind, d time.Duration, err error)
	CloseDuration(kind Kind, d time.Duration, err error)
	Failure(kind Kind, errKind ErrorKind)
}

type noopMetrics struct{}

func (noopMetrics) StateTransition(Kind, State, State)       {}
func (noopMetrics) CacheLookup(Kind, CacheResult)            {}
func (noopMetrics) ReadyDuration(Kind, time.Duration, error) {}
func (noopMetrics) CloseDuration(Kind, time.Duration, error) {}
func (noopMetrics) Failure(Kind, ErrorKind)                  {}

// NewNoopMetricsCollector returns a collector that discards everything.
func NewNoopMetricsCollector() MetricsCollector {
	return noopMetrics{}
}

// Transition is one recorded state change of an instance.
type Transition struct {
	InstanceID string
	Key        string
	Kind       Kind
	From       State
	To         State
	Err        string // message of the failure that caused it, if any
	At         time.Time
}

// TransitionRecorder persists transitions for later inspection. Recording
// errors are logged and never affect the instance.
type TransitionRecorder interface {
	RecordTransition(ctx context.Context, t Transition) error
}

type noopRecorder struct{}

func (noopRecorder) RecordTransition(context.Context, Transition) error { return nil }
