package core

import (
	"errors"
	"fmt"
	"time"
)

// DefaultWorkers is the worker count of a cluster when Config.Workers is 0.
const DefaultWorkers = 2

// PluginConfig is one entry of the effective plugin map handed to the host.
type PluginConfig struct {
	Enable bool   `json:"enable"`
	Path   string `json:"path,omitempty"`
}

// Config describes the instance a caller wants. The zero value requests a
// cached app rooted at the working directory with artifact cleanup on close.
type Config struct {
	// BaseDir is the application directory. Absolute paths are used as is,
	// relative ones are resolved against the fixtures directory, and an
	// empty value means the working directory.
	BaseDir string

	// WorkDir overrides the working context for this request. Empty means
	// the Manager's working directory.
	WorkDir string

	// Plugin names a plugin to enable. It is located under the plugin
	// search roots.
	Plugin string

	// PluginFromWorkDir enables the working directory itself as a plugin.
	PluginFromWorkDir bool

	// Plugins is an explicit plugin map. It overrides entries of the same
	// name from every other source.
	Plugins map[string]PluginConfig

	// Framework is an explicit framework directory, relative to the working
	// directory unless absolute.
	Framework string

	// FrameworkFromWorkDir uses the working directory as the framework.
	FrameworkFromWorkDir bool

	// DisableCache always builds a fresh instance and never stores it.
	DisableCache bool

	// KeepArtifacts skips the artifact cleanup after a successful close.
	KeepArtifacts bool

	// Keep lists artifact paths, relative to BaseDir, that survive cleanup.
	Keep []string

	// Coverage turns on coverage collection in the host processes.
	Coverage bool

	// Workers is the number of cluster workers. Zero means DefaultWorkers;
	// ignored for apps.
	Workers int
}

// FrameworkSource records where the effective framework came from.
type FrameworkSource int

const (
	FrameworkDefault FrameworkSource = iota
	FrameworkExplicit
	FrameworkWorkDir
	FrameworkManifest
)

// String returns the source name.
func (s FrameworkSource) String() string {
	switch s {
	case FrameworkDefault:
		return "default"
	case FrameworkExplicit:
		return "explicit"
	case FrameworkWorkDir:
		return "workdir"
	case FrameworkManifest:
		return "manifest"
	default:
		return fmt.Sprintf("FrameworkSource(%d)", int(s))
	}
}

// EffectiveConfig is a fully resolved Config. All paths are absolute.
type EffectiveConfig struct {
	Kind            Kind
	WorkDir         string
	FixturesDir     string
	BaseDir         string
	Framework       string // empty means the host's built-in framework
	FrameworkSource FrameworkSource
	Plugins         map[string]PluginConfig
	Cache           bool
	Clean           bool
	Keep            []string
	Coverage        bool
	Workers         int

	// Key is the identity key. It is empty when Cache is false.
	Key string
}

// ManagerConfig holds Manager settings. It is immutable after NewManager.
type ManagerConfig struct {
	// FixturesDir is where relative base directories are looked up,
	// relative to the working directory unless absolute.
	FixturesDir string

	// PluginSearchPaths are extra plugin search roots, searched after the
	// conventional ones.
	PluginSearchPaths []string

	// StartTimeout bounds instantiation plus readiness of one instance.
	StartTimeout time.Duration

	// StopTimeout bounds teardown of one instance.
	StopTimeout time.Duration

	// LockTimeout bounds the wait for the artifact cleanup lock.
	LockTimeout time.Duration

	// LockDir holds the artifact cleanup lock files.
	LockDir string
}

// Validate reports every violated invariant at once.
func (c ManagerConfig) Validate() error {
	var errs []error

	if c.FixturesDir == "" {
		errs = append(errs, errors.New("fixtures directory must not be empty"))
	}
	if err := c.instanceConfig().Validate(); err != nil {
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}

func (c ManagerConfig) instanceConfig() InstanceConfig {
	return InstanceConfig{
		StartTimeout: c.StartTimeout,
		StopTimeout:  c.StopTimeout,
		LockTimeout:  c.LockTimeout,
		LockDir:      c.LockDir,
	}
}

// InstanceConfig holds the per-instance settings derived from the Manager.
type InstanceConfig struct {
	StartTimeout time.Duration
	StopTimeout  time.Duration
	LockTimeout  time.Duration
	LockDir      string
}

// Validate reports every violated invariant at once.
func (c InstanceConfig) Validate() error {
	var errs []error

	if c.StartTimeout <= 0 {
		errs = append(errs, fmt.Errorf("start timeout must be greater than 0, got %s", c.StartTimeout))
	}
	if c.StopTimeout <= 0 {
		errs = append(errs, fmt.Errorf("stop timeout must be greater than 0, got %s", c.StopTimeout))
	}
	if c.LockTimeout <= 0 {
		errs = append(errs, fmt.Errorf("lock timeout must be greater than 0, got %s", c.LockTimeout))
	}
	if c.LockDir == "" {
		errs = append(errs, errors.New("lock directory must not be empty"))
	}

	return errors.Join(errs...)
}
