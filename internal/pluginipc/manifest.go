package pluginipc

import (
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/vinayprograms/crucible/internal/crucibleerr"
)

// Manifest describes a plugin the daemon can launch and talk to: what to
// run, what it declares it wants to subscribe to, and what permission
// scope it should be granted (§3 auth_context, §4.D "plugin manifest
// loading" — a supplemented capability named in SPEC_FULL.md's domain
// stack section, since the distilled spec describes the wire protocol but
// not how a plugin's declared intent reaches the daemon).
type Manifest struct {
	PluginID    string             `yaml:"plugin_id"`
	Name        string             `yaml:"name"`
	Version     string             `yaml:"version"`
	Command     string             `yaml:"command"`
	Args        []string           `yaml:"args"`
	Env         []string           `yaml:"env"`
	Permission  ManifestPermission `yaml:"permission"`
	Subscribe   []ManifestSubscription `yaml:"subscribe"`
}

// ManifestPermission mirrors routing.EventPermission in a YAML-friendly
// shape (string kinds instead of bus.Kind, since the manifest file is
// authored by plugin developers, not Go code).
type ManifestPermission struct {
	Scope          string   `yaml:"scope"`
	AllowedKinds   []string `yaml:"allowed_kinds"`
	AllowedSources []string `yaml:"allowed_sources"`
	MaxPriority    string   `yaml:"max_priority"`
}

// ManifestSubscription declares one subscription a plugin wants
// provisioned automatically at registration time.
type ManifestSubscription struct {
	Name   string `yaml:"name"`
	Kind   string `yaml:"kind"`
	Filter string `yaml:"filter"`
}

// LoadManifest reads and parses a plugin manifest YAML file.
func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, crucibleerr.Wrap(crucibleerr.Io, "read plugin manifest "+path, err)
	}
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, crucibleerr.Wrap(crucibleerr.Codec, "parse plugin manifest "+path, err)
	}
	if m.PluginID == "" {
		return nil, crucibleerr.New(crucibleerr.InputInvalid, "plugin manifest "+path+" missing plugin_id")
	}
	return &m, nil
}

// LoadManifestsDir loads every .yaml/.yml manifest file directly under dir.
// A missing directory is not an error (an empty result is returned);
// individual malformed files are skipped rather than aborting the scan.
func LoadManifestsDir(dir string) ([]*Manifest, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, crucibleerr.Wrap(crucibleerr.Io, "read plugin manifest directory "+dir, err)
	}

	var manifests []*Manifest
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if !strings.HasSuffix(name, ".yaml") && !strings.HasSuffix(name, ".yml") {
			continue
		}
		m, err := LoadManifest(filepath.Join(dir, name))
		if err != nil {
			continue
		}
		manifests = append(manifests, m)
	}
	return manifests, nil
}
