package plugin

import (
	"encoding/json"
	"maps"
	"os"
	"path/filepath"
)

// Override is the persisted per-plugin setting.
type Override struct {
	Enabled bool `json:"enabled"`
}

// RegistryConfig maps plugin names to their persisted overrides.
type RegistryConfig map[string]Override

// Clone returns an independent copy.
func (c RegistryConfig) Clone() RegistryConfig {
	if c == nil {
		return RegistryConfig{}
	}
	return maps.Clone(c)
}

// ConfigStore loads and saves the registry config.
type ConfigStore interface {
	Load() (RegistryConfig, error)
	Save(cfg RegistryConfig) error
}

// FileStore keeps the registry config in a JSON file.
type FileStore struct {
	path string
}

// NewFileStore returns a store backed by the file at path.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// DefaultConfigPath returns ~/.aion/plugins_config.json.
func DefaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".aion", "plugins_config.json")
	}
	return filepath.Join(home, ".aion", "plugins_config.json")
}

// Path returns the file the store reads and writes.
func (s *FileStore) Path() string {
	return s.path
}

// Load reads the config. A missing file yields an empty config and no error.
func (s *FileStore) Load() (RegistryConfig, error) {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return RegistryConfig{}, nil
	}
	if err != nil {
		return RegistryConfig{}, err
	}
	cfg := RegistryConfig{}
	if err := json.Unmarshal(data, &cfg); err != nil {
		return RegistryConfig{}, err
	}
	if cfg == nil {
		// a literal null decodes to a nil map
		return RegistryConfig{}, nil
	}
	return cfg, nil
}

// Save writes the config atomically: the new content goes to a temp file
// in the same directory which is then renamed over the target.
func (s *FileStore) Save(cfg RegistryConfig) error {
	if cfg == nil {
		cfg = RegistryConfig{}
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return &PersistenceError{Path: s.path, Err: err}
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return &PersistenceError{Path: s.path, Err: err}
	}
	tmp, err := os.CreateTemp(dir, ".plugins_config-*.tmp")
	if err != nil {
		return &PersistenceError{Path: s.path, Err: err}
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(append(data, '\n')); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return &PersistenceError{Path: s.path, Err: err}
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return &PersistenceError{Path: s.path, Err: err}
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return &PersistenceError{Path: s.path, Err: err}
	}
	if err := os.Chmod(tmpPath, 0o644); err != nil {
		os.Remove(tmpPath)
		return &PersistenceError{Path: s.path, Err: err}
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		os.Remove(tmpPath)
		return &PersistenceError{Path: s.path, Err: err}
	}
	return nil
}

// MemoryStore keeps the registry config in memory.
type MemoryStore struct {
	cfg RegistryConfig

	// SaveErr, when set, makes Save fail without storing anything.
	SaveErr error
}

// NewMemoryStore returns a store seeded with cfg.
func NewMemoryStore(cfg RegistryConfig) *MemoryStore {
	return &MemoryStore{cfg: cfg.Clone()}
}

// Load returns a copy of the stored config.
func (s *MemoryStore) Load() (RegistryConfig, error) {
	return s.cfg.Clone(), nil
}

// Save replaces the stored config.
func (s *MemoryStore) Save(cfg RegistryConfig) error {
	if s.SaveErr != nil {
		return &PersistenceError{Path: "memory", Err: s.SaveErr}
	}
	s.cfg = cfg.Clone()
	return nil
}
