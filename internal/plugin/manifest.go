package plugin

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Manifest describes one plugin instance in the plugin directory.
//
//	name: terminal
//	kind: terminal
//	enabled: true
//	settings:
//	  default_platform: mt5
type Manifest struct {
	Name     string         `yaml:"name"`
	Kind     string         `yaml:"kind"`
	Enabled  *bool          `yaml:"enabled"`
	Settings map[string]any `yaml:"settings"`

	// File is the manifest's path, set by the loader.
	File string `yaml:"-"`
}

// IsEnabled reports whether the manifest is switched on. Manifests without
// an enabled key are on.
func (m Manifest) IsEnabled() bool {
	return m.Enabled == nil || *m.Enabled
}

// String returns a setting, or def when absent or not a string.
func (m Manifest) String(key, def string) string {
	if v, ok := m.Settings[key].(string); ok && v != "" {
		return v
	}
	return def
}

// Int returns a numeric setting, or def when absent.
func (m Manifest) Int(key string, def int) int {
	switch v := m.Settings[key].(type) {
	case int:
		return v
	case float64:
		return int(v)
	}
	return def
}

// Duration returns a setting given in seconds, or def when absent.
func (m Manifest) Duration(key string, def time.Duration) time.Duration {
	if n := m.Int(key, -1); n >= 0 {
		return time.Duration(n) * time.Second
	}
	return def
}

// ParseManifest decodes a YAML manifest. The name defaults to the kind.
func ParseManifest(data []byte) (Manifest, error) {
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return Manifest{}, fmt.Errorf("%w: %w", ErrInvalidManifest, err)
	}
	m.Kind = strings.TrimSpace(m.Kind)
	m.Name = strings.TrimSpace(m.Name)
	if m.Kind == "" {
		return Manifest{}, fmt.Errorf("%w: kind is required", ErrInvalidManifest)
	}
	if m.Name == "" {
		m.Name = m.Kind
	}
	if m.Settings == nil {
		m.Settings = make(map[string]any)
	}
	return m, nil
}

// ReadManifests parses every *.yaml and *.yml file in dir, sorted by file
// name. A missing directory yields no manifests and no error. Files that fail
// to parse are reported individually and do not stop the scan.
func ReadManifests(dir string) ([]Manifest, []error) {
	if dir == "" {
		return nil, nil
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, []error{fmt.Errorf("%w: reading plugin directory %s: %w", ErrPluginLoad, dir, err)}
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(e.Name()))
		if ext == ".yaml" || ext == ".yml" {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	var (
		manifests []Manifest
		errs      []error
	)
	for _, name := range names {
		path := filepath.Join(dir, name)
		data, err := os.ReadFile(path) //nolint:gosec // path comes from ReadDir of the configured directory
		if err != nil {
			errs = append(errs, fmt.Errorf("%w: %s: %w", ErrPluginLoad, name, err))
			continue
		}
		m, err := ParseManifest(data)
		if err != nil {
			errs = append(errs, fmt.Errorf("%w: %s: %w", ErrPluginLoad, name, err))
			continue
		}
		m.File = path
		manifests = append(manifests, m)
	}
	return manifests, errs
}
