package core

import (
	"fmt"
	"path/filepath"
)

// Manifest is the appmock metadata of an application, plugin or framework
// directory.
type Manifest struct {
	Name       string
	Framework  string // framework name, located like a plugin
	PluginName string // set when the directory is itself a plugin
	Plugins    map[string]PluginConfig
}

// ManifestReader reads the manifest of a directory. ok is false when the
// directory has none.
type ManifestReader interface {
	ReadManifest(dir string) (m Manifest, ok bool, err error)
}

// PluginLocator finds a plugin or framework directory by name. Roots are
// searched in order and the first match wins. Implementations return an
// error wrapping ErrNotLocated when nothing matches.
type PluginLocator interface {
	Locate(name string, roots []string) (string, error)
}

// ResolveContext is everything Resolve needs besides the Config. Passing the
// working directory in keeps resolution independent of process state.
type ResolveContext struct {
	WorkDir     string
	FixturesDir string
	SearchPaths []string
	Manifests   ManifestReader
	Locator     PluginLocator
}

// Resolve computes the effective configuration of cfg.
//
// Framework precedence: Config.Framework, then FrameworkFromWorkDir, then the
// framework named by the base directory's manifest, then the host default.
//
// Plugin precedence, later entries overriding earlier ones of the same name:
// plugins declared by the base directory's manifest, then Plugin or
// PluginFromWorkDir, then the explicit Plugins map.
func Resolve(cfg Config, kind Kind, rc ResolveContext) (EffectiveConfig, error) {
	if err := checkConfig(cfg, kind); err != nil {
		return EffectiveConfig{}, err
	}
	if rc.Manifests == nil || rc.Locator == nil {
		return EffectiveConfig{}, fmt.Errorf("%w: manifest reader and plugin locator are required", ErrInvalidConfig)
	}

	workDir := absUnder(rc.WorkDir, cfg.WorkDir)
	if !filepath.IsAbs(workDir) {
		return EffectiveConfig{}, fmt.Errorf("%w: working directory %q is not absolute", ErrInvalidConfig, workDir)
	}
	fixtures := absUnder(workDir, rc.FixturesDir)

	baseDir := workDir
	if cfg.BaseDir != "" {
		baseDir = absUnder(fixtures, cfg.BaseDir)
	}

	eff := EffectiveConfig{
		Kind:        kind,
		WorkDir:     workDir,
		FixturesDir: fixtures,
		BaseDir:     baseDir,
		Plugins:     make(map[string]PluginConfig),
		Cache:       !cfg.DisableCache,
		Clean:       !cfg.KeepArtifacts,
		Coverage:    cfg.Coverage,
	}
	if kind == KindCluster {
		eff.Workers = cfg.Workers
		if eff.Workers == 0 {
			eff.Workers = DefaultWorkers
		}
	}
	for _, k := range cfg.Keep {
		eff.Keep = append(eff.Keep, absUnder(baseDir, k))
	}

	base, hasBase, err := rc.Manifests.ReadManifest(baseDir)
	if err != nil {
		return EffectiveConfig{}, fmt.Errorf("read manifest of %s: %w", baseDir, err)
	}

	roots := searchRoots(workDir, baseDir, fixtures, rc.SearchPaths)

	if err := resolveFramework(&eff, cfg, base, hasBase, rc.Locator, roots); err != nil {
		return EffectiveConfig{}, err
	}
	if err := resolvePlugins(&eff, cfg, base, hasBase, rc, roots); err != nil {
		return EffectiveConfig{}, err
	}

	if eff.Cache {
		eff.Key = IdentityKey(eff)
	}
	return eff, nil
}

func checkConfig(cfg Config, kind Kind) error {
	if !kind.IsValid() {
		return fmt.Errorf("%w: unknown kind %v", ErrInvalidConfig, kind)
	}
	if cfg.Plugin != "" && cfg.PluginFromWorkDir {
		return fmt.Errorf("%w: plugin %q and plugin-from-workdir are mutually exclusive", ErrConflictingOptions, cfg.Plugin)
	}
	if cfg.Framework != "" && cfg.FrameworkFromWorkDir {
		return fmt.Errorf("%w: framework %q and framework-from-workdir are mutually exclusive", ErrConflictingOptions, cfg.Framework)
	}
	if cfg.Workers < 0 {
		return fmt.Errorf("%w: workers must not be negative, got %d", ErrInvalidConfig, cfg.Workers)
	}
	if cfg.Workers > 0 && kind != KindCluster {
		return fmt.Errorf("%w: workers apply to clusters only", ErrConflictingOptions)
	}
	return nil
}

// searchRoots returns the plugin search roots: the working directory (for a
// plugin under test), the base directory's modules, the working directory's
// modules, the fixtures directory, then any configured extra roots.
func searchRoots(workDir, baseDir, fixtures string, extra []string) []string {
	roots := []string{
		workDir,
		filepath.Join(baseDir, "modules"),
		filepath.Join(workDir, "modules"),
		fixtures,
	}
	for _, p := range extra {
		roots = append(roots, absUnder(workDir, p))
	}
	return roots
}

func resolveFramework(eff *EffectiveConfig, cfg Config, base Manifest, hasBase bool, loc PluginLocator, roots []string) error {
	switch {
	case cfg.Framework != "":
		eff.Framework = absUnder(eff.WorkDir, cfg.Framework)
		eff.FrameworkSource = FrameworkExplicit
	case cfg.FrameworkFromWorkDir:
		eff.Framework = eff.WorkDir
		eff.FrameworkSource = FrameworkWorkDir
	case hasBase && base.Framework != "":
		// The working directory is where the application under test lives;
		// it is not a framework candidate unless asked for explicitly.
		path, err := loc.Locate(base.Framework, roots[1:])
		if err != nil {
			return fmt.Errorf("%w: %s: %w", ErrFrameworkNotFound, base.Framework, err)
		}
		eff.Framework = path
		eff.FrameworkSource = FrameworkManifest
	}
	return nil
}

func resolvePlugins(eff *EffectiveConfig, cfg Config, base Manifest, hasBase bool, rc ResolveContext, roots []string) error {
	if hasBase {
		for name, pc := range base.Plugins {
			if pc.Path != "" {
				pc.Path = absUnder(eff.BaseDir, pc.Path)
			}
			eff.Plugins[name] = pc
		}
	}

	switch {
	case cfg.Plugin != "":
		path, err := rc.Locator.Locate(cfg.Plugin, roots)
		if err != nil {
			return fmt.Errorf("%w: %s: %w", ErrPluginNotFound, cfg.Plugin, err)
		}
		eff.Plugins[cfg.Plugin] = PluginConfig{Enable: true, Path: path}
	case cfg.PluginFromWorkDir:
		m, ok, err := rc.Manifests.ReadManifest(eff.WorkDir)
		if err != nil {
			return fmt.Errorf("read manifest of %s: %w", eff.WorkDir, err)
		}
		name := filepath.Base(eff.WorkDir)
		if ok && m.PluginName != "" {
			name = m.PluginName
		}
		eff.Plugins[name] = PluginConfig{Enable: true, Path: eff.WorkDir}
	}

	for name, pc := range cfg.Plugins {
		if pc.Path != "" {
			pc.Path = absUnder(eff.WorkDir, pc.Path)
		}
		eff.Plugins[name] = pc
	}
	return nil
}

// absUnder resolves p against dir unless p is already absolute. An empty p
// yields dir.
func absUnder(dir, p string) string {
	switch {
	case p == "":
		return filepath.Clean(dir)
	case filepath.IsAbs(p):
		return filepath.Clean(p)
	default:
		return filepath.Join(dir, p)
	}
}
