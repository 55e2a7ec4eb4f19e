package manifest

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/giantswarm/appmock/internal/core"
)

// Locator finds plugin and framework directories under search roots.
//
// A root matches a name when the root itself is that plugin, by directory
// base name or by its manifest's plugin.name. Otherwise <root>/<name> is
// used if it is a directory. Roots are tried in order and the first match
// wins.
type Locator struct {
	Manifests core.ManifestReader
}

// Verify Locator implements core.PluginLocator at compile time.
var _ core.PluginLocator = Locator{}

// NewLocator returns a Locator reading manifests with Reader.
func NewLocator() Locator {
	return Locator{Manifests: Reader{}}
}

// Locate returns the directory of name, or an error wrapping
// core.ErrNotLocated.
func (l Locator) Locate(name string, roots []string) (string, error) {
	if name == "" {
		return "", fmt.Errorf("empty name: %w", core.ErrNotLocated)
	}
	for _, root := range roots {
		if !isDir(root) {
			continue
		}
		if l.rootIs(root, name) {
			return root, nil
		}
		if p := filepath.Join(root, name); isDir(p) {
			return p, nil
		}
	}
	return "", fmt.Errorf("%s in %v: %w", name, roots, core.ErrNotLocated)
}

func (l Locator) rootIs(root, name string) bool {
	if filepath.Base(root) == name {
		return true
	}
	if l.Manifests == nil {
		return false
	}
	m, ok, err := l.Manifests.ReadManifest(root)
	if err != nil || !ok {
		// An unreadable manifest does not make the root a match; the
		// subdirectory lookup still applies.
		return false
	}
	return m.PluginName == name
}

func isDir(p string) bool {
	fi, err := os.Stat(p)
	return err == nil && fi.IsDir()
}
