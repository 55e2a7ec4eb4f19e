package core

import "fmt"

// State is the lifecycle state of an Instance.
//
//	Created -> Loading -> Ready -> Failed (agent failure)
//	                   \-> Failed
//	Ready | Failed -> Closing -> Closed | CloseFailed
type State uint32

const (
	StateCreated State = iota
	StateLoading
	StateReady
	StateFailed
	StateClosing
	StateClosed
	StateCloseFailed
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateCreated:
		return "Created"
	case StateLoading:
		return "Loading"
	case StateReady:
		return "Ready"
	case StateFailed:
		return "Failed"
	case StateClosing:
		return "Closing"
	case StateClosed:
		return "Closed"
	case StateCloseFailed:
		return "CloseFailed"
	default:
		return fmt.Sprintf("State(%d)", uint32(s))
	}
}

// Live reports whether an instance in state s may be handed out from the
// cache.
func (s State) Live() bool {
	switch s {
	case StateCreated, StateLoading, StateReady:
		return true
	default:
		return false
	}
}

// Terminal reports whether s is a final close state.
func (s State) Terminal() bool {
	return s == StateClosed || s == StateCloseFailed
}
