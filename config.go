package appmock

import (
	"github.com/giantswarm/appmock/internal/core"
	"github.com/prometheus/client_golang/prometheus"
)

// Types shared with the internal packages.
type (
	// Config describes the instance a test wants. The zero value requests
	// a cached instance rooted at the working directory.
	Config = core.Config

	// PluginConfig is one entry of a plugin map.
	PluginConfig = core.PluginConfig

	// EffectiveConfig is a Config with every default and path resolved.
	EffectiveConfig = core.EffectiveConfig

	// Framework starts hosts. Install one with WithFramework to run
	// instances without the host binary.
	Framework = core.Framework

	// Handle is a running host.
	Handle = core.Handle

	// Agent is the process that runs next to a host.
	Agent = core.Agent

	// State is the lifecycle state of an instance.
	State = core.State

	// LifecycleError is a failure together with where it happened.
	LifecycleError = core.LifecycleError

	// ErrorKind classifies a LifecycleError.
	ErrorKind = core.ErrorKind
)

// Lifecycle states.
const (
	StateCreated     = core.StateCreated
	StateLoading     = core.StateLoading
	StateReady       = core.StateReady
	StateFailed      = core.StateFailed
	StateClosing     = core.StateClosing
	StateClosed      = core.StateClosed
	StateCloseFailed = core.StateCloseFailed
)

// Error kinds.
const (
	ErrorKindBuild = core.ErrorKindBuild
	ErrorKindLoad  = core.ErrorKindLoad
	ErrorKindAgent = core.ErrorKindAgent
	ErrorKindClose = core.ErrorKindClose
)

// managerConfig holds configuration for a Manager. The embedded
// core.ManagerConfig carries the cache and lifecycle settings; the rest
// selects and configures the collaborators NewManager builds.
type managerConfig struct {
	core.ManagerConfig

	HostBinary string
	HostArgs   []string
	HostEnv    []string

	// WorkDir replaces the process working directory when set.
	WorkDir string

	// Framework replaces the process-backed host framework when set.
	Framework Framework

	// MetricsRegisterer receives the lifecycle metrics when set.
	MetricsRegisterer prometheus.Registerer

	// JournalPath enables the transition journal when set.
	JournalPath string
}

// toCoreConfig returns the embedded core.ManagerConfig.
func (c managerConfig) toCoreConfig() core.ManagerConfig {
	return c.ManagerConfig
}
