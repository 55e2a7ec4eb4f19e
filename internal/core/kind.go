package core

import "fmt"

// Kind selects the shape of the mocked host.
type Kind int

const (
	// KindApp is a single application process with its agent.
	KindApp Kind = iota

	// KindCluster is a set of worker processes sharing one agent.
	KindCluster
)

// IsValid reports whether k is a known Kind.
func (k Kind) IsValid() bool {
	switch k {
	case KindApp, KindCluster:
		return true
	default:
		return false
	}
}

// String returns the lower-case kind name used in logs, metrics and the
// host command line.
func (k Kind) String() string {
	switch k {
	case KindApp:
		return "app"
	case KindCluster:
		return "cluster"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}
