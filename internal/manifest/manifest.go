package manifest

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/giantswarm/appmock/internal/core"
	"github.com/giantswarm/appmock/internal/sentinel"
	"sigs.k8s.io/yaml"
)

// ErrInvalid is wrapped by errors for manifests that parse but break a rule.
const ErrInvalid = sentinel.Error("invalid manifest")

// FileNames are the manifest file names, in lookup order.
var FileNames = []string{"appmock.yaml", "appmock.yml", "appmock.json"}

// file is the on-disk manifest. JSON is valid YAML, so one decoder reads
// every supported file name.
type file struct {
	Name      string                       `json:"name,omitempty"`
	Framework string                       `json:"framework,omitempty"`
	Plugin    *pluginSection               `json:"plugin,omitempty"`
	Plugins   map[string]core.PluginConfig `json:"plugins,omitempty"`
}

type pluginSection struct {
	Name string `json:"name"`
}

// Reader reads manifests from directories. The zero value is ready to use.
type Reader struct{}

// Verify Reader implements core.ManifestReader at compile time.
var _ core.ManifestReader = Reader{}

// ReadManifest reads the first manifest file found in dir. ok is false when
// dir has none.
func (Reader) ReadManifest(dir string) (core.Manifest, bool, error) {
	for _, name := range FileNames {
		path := filepath.Join(dir, name)
		data, err := os.ReadFile(path)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return core.Manifest{}, false, fmt.Errorf("read manifest %s: %w", path, err)
		}
		m, err := Parse(data)
		if err != nil {
			return core.Manifest{}, false, fmt.Errorf("parse manifest %s: %w", path, err)
		}
		return m, true, nil
	}
	return core.Manifest{}, false, nil
}

// Parse decodes a manifest in YAML or JSON form.
func Parse(data []byte) (core.Manifest, error) {
	var f file
	if err := yaml.UnmarshalStrict(data, &f); err != nil {
		return core.Manifest{}, err
	}
	if err := f.validate(); err != nil {
		return core.Manifest{}, err
	}

	m := core.Manifest{
		Name:      f.Name,
		Framework: f.Framework,
		Plugins:   f.Plugins,
	}
	if f.Plugin != nil {
		m.PluginName = f.Plugin.Name
	}
	return m, nil
}

func (f file) validate() error {
	var errs []error
	if f.Plugin != nil && f.Plugin.Name == "" {
		errs = append(errs, fmt.Errorf("%w: plugin.name must not be empty", ErrInvalid))
	}
	for name := range f.Plugins {
		if name == "" {
			errs = append(errs, fmt.Errorf("%w: plugins contains an empty name", ErrInvalid))
		}
	}
	return errors.Join(errs...)
}

// Marshal encodes m as YAML in the manifest file format.
func Marshal(m core.Manifest) ([]byte, error) {
	f := file{
		Name:      m.Name,
		Framework: m.Framework,
		Plugins:   m.Plugins,
	}
	if m.PluginName != "" {
		f.Plugin = &pluginSection{Name: m.PluginName}
	}
	return yaml.Marshal(f)
}
