package plugin

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	plua "github.com/aion-project/aion/internal/plugin/lua"
)

// Manifest describes a unit's metadata. Directory units may carry one as
// plugin.json, plugin.yaml, plugin.yml or plugin.toml. Single-file units
// get one built from the metadata table in their source.
type Manifest struct {
	Name         string   `json:"name" yaml:"name" toml:"name"`
	Version      string   `json:"version" yaml:"version" toml:"version"`
	Description  string   `json:"description" yaml:"description" toml:"description"`
	Author       string   `json:"author" yaml:"author" toml:"author"`
	Kind         string   `json:"kind" yaml:"kind" toml:"kind"`
	Main         string   `json:"main" yaml:"main" toml:"main"` // relative to the unit directory
	Dependencies []string `json:"dependencies" yaml:"dependencies" toml:"dependencies"`
	Capabilities []string `json:"capabilities" yaml:"capabilities" toml:"capabilities"`

	// Internal: path to the unit directory
	path string
}

// Validation errors.
var (
	ErrMissingName       = errors.New("manifest: name is required")
	ErrInvalidName       = errors.New("manifest: name must be alphanumeric with hyphens, underscores or dots")
	ErrInvalidVersion    = errors.New("manifest: version must be valid semver")
	ErrInvalidKind       = errors.New("manifest: unknown kind")
	ErrInvalidMain       = errors.New("manifest: main must be a .lua file")
	ErrInvalidCapability = errors.New("manifest: invalid capability")
	ErrSelfDependency    = errors.New("manifest: plugin depends on itself")
)

// manifestFiles are tried in order.
var manifestFiles = []string{"plugin.json", "plugin.yaml", "plugin.yml", "plugin.toml"}

// entryFiles are the default entry points of a directory unit, tried in order.
var entryFiles = []string{"init.lua", "plugin.lua"}

// namePattern validates plugin names.
var namePattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.-]*$`)

// semverPattern validates version strings (simplified semver).
var semverPattern = regexp.MustCompile(`^\d+\.\d+\.\d+(-[a-zA-Z0-9.-]+)?(\+[a-zA-Z0-9.-]+)?$`)

// LoadManifest loads and validates a manifest file. The format is chosen by
// extension.
func LoadManifest(path string) (*Manifest, error) {
	m, err := readManifest(path)
	if err != nil {
		return nil, err
	}
	m.applyDefaults()
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return m, nil
}

// LoadManifestFromDir loads the first manifest file found in dir.
// Returns ErrNoManifest if the directory has none.
func LoadManifestFromDir(dir string) (*Manifest, error) {
	path, ok := findManifest(dir)
	if !ok {
		return nil, ErrNoManifest
	}
	return LoadManifest(path)
}

func findManifest(dir string) (string, bool) {
	for _, name := range manifestFiles {
		path := filepath.Join(dir, name)
		if _, err := os.Stat(path); err == nil {
			return path, true
		}
	}
	return "", false
}

// readManifest parses a manifest without defaults or validation.
func readManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}

	var m Manifest
	switch filepath.Ext(path) {
	case ".json":
		err = json.Unmarshal(data, &m)
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &m)
	case ".toml":
		err = toml.Unmarshal(data, &m)
	default:
		err = fmt.Errorf("unsupported manifest format %q", filepath.Ext(path))
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse manifest: %w", err)
	}

	m.path = filepath.Dir(path)
	if err := m.resolveMain(); err != nil {
		return nil, err
	}
	return &m, nil
}

// ManifestFromMetadata builds a manifest for a unit whose metadata lives
// in its Lua source. dir is the unit directory and fallback the name to
// use when the source declares none.
func ManifestFromMetadata(md plua.Metadata, dir, main, fallback string) *Manifest {
	m := &Manifest{
		Name:         md.Name,
		Version:      md.Version,
		Description:  md.Description,
		Author:       md.Author,
		Kind:         md.Kind,
		Main:         main,
		Dependencies: md.Dependencies,
		Capabilities: md.Capabilities,
		path:         dir,
	}
	if m.Name == "" {
		m.Name = fallback
	}
	m.applyDefaults()
	return m
}

// merge fills fields the manifest leaves empty from source metadata.
func (m *Manifest) merge(md plua.Metadata) {
	if m.Version == "" {
		m.Version = md.Version
	}
	if m.Description == "" {
		m.Description = md.Description
	}
	if m.Author == "" {
		m.Author = md.Author
	}
	if m.Kind == "" {
		m.Kind = md.Kind
	}
	if m.Dependencies == nil {
		m.Dependencies = md.Dependencies
	}
	if m.Capabilities == nil {
		m.Capabilities = md.Capabilities
	}
}

// resolveMain picks the default entry file when none is named.
func (m *Manifest) resolveMain() error {
	if m.Main != "" {
		return nil
	}
	for _, name := range entryFiles {
		if _, err := os.Stat(filepath.Join(m.path, name)); err == nil {
			m.Main = name
			return nil
		}
	}
	return ErrNoEntryPoint
}

// applyDefaults sets default values for optional fields.
func (m *Manifest) applyDefaults() {
	if m.Version == "" {
		m.Version = "0.0.0"
	}
	if m.Kind == "" {
		m.Kind = string(KindUtility)
	}
}

// Validate checks that the manifest is valid.
func (m *Manifest) Validate() error {
	if m.Name == "" {
		return ErrMissingName
	}
	if !namePattern.MatchString(m.Name) {
		return fmt.Errorf("%w: %s", ErrInvalidName, m.Name)
	}
	if !semverPattern.MatchString(m.Version) {
		return fmt.Errorf("%w: %s", ErrInvalidVersion, m.Version)
	}
	if _, err := ParseKind(m.Kind); err != nil {
		return fmt.Errorf("%w: %s", ErrInvalidKind, m.Kind)
	}
	if m.Main != "" && filepath.Ext(m.Main) != ".lua" {
		return fmt.Errorf("%w: %s", ErrInvalidMain, m.Main)
	}
	for _, c := range m.Capabilities {
		if !plua.KnownCapability(plua.Capability(c)) {
			return fmt.Errorf("%w: %s", ErrInvalidCapability, c)
		}
	}
	for _, dep := range m.Dependencies {
		if dep == m.Name {
			return fmt.Errorf("%w: %s", ErrSelfDependency, dep)
		}
	}
	return nil
}

// Path returns the path to the unit directory.
func (m *Manifest) Path() string {
	return m.path
}

// MainPath returns the full path to the entry Lua file.
func (m *Manifest) MainPath() string {
	return filepath.Join(m.path, m.Main)
}

// ParsedKind returns the manifest kind. Validate must have succeeded.
func (m *Manifest) ParsedKind() Kind {
	k, _ := ParseKind(m.Kind)
	return k
}
