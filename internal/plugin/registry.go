package plugin

import (
	"errors"
	"fmt"
	"slices"

	"go.uber.org/zap"
)

// Registry is the catalogue of known descriptors plus the persisted
// enable/disable overrides. Names are unique.
//
// Changes are applied in memory first and then persisted. A persistence
// failure is returned to the caller but the in-memory change stays.
type Registry struct {
	store  ConfigStore
	config RegistryConfig
	logger *zap.Logger

	descriptors map[string]Descriptor
	order       []string
}

// NewRegistry creates an empty registry backed by store.
// The persisted config is not read until LoadConfig is called.
func NewRegistry(store ConfigStore, logger *zap.Logger) *Registry {
	if store == nil {
		store = NewMemoryStore(nil)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		store:       store,
		config:      RegistryConfig{},
		logger:      logger,
		descriptors: make(map[string]Descriptor),
	}
}

// LoadConfig reads the persisted overrides and applies them to every
// registered descriptor. A missing or unreadable config yields an empty one.
func (r *Registry) LoadConfig() RegistryConfig {
	cfg, err := r.store.Load()
	if err != nil {
		r.logger.Warn("plugin config unreadable, using defaults", zap.Error(err))
		cfg = RegistryConfig{}
	}
	r.config = cfg.Clone()
	r.applyOverrides()
	return r.config.Clone()
}

// SaveConfig adopts cfg as the current overrides and persists it.
func (r *Registry) SaveConfig(cfg RegistryConfig) error {
	r.config = cfg.Clone()
	r.applyOverrides()
	return r.persist()
}

// Config returns a copy of the current overrides.
func (r *Registry) Config() RegistryConfig {
	return r.config.Clone()
}

// Upsert inserts or replaces the descriptor with d's name. Enabled is
// taken from the persisted override, defaulting to true. The stored
// descriptor is returned.
func (r *Registry) Upsert(d Descriptor) Descriptor {
	d = d.Clone()
	d.Enabled = r.enabled(d.Name)
	if _, ok := r.descriptors[d.Name]; !ok {
		r.order = append(r.order, d.Name)
	}
	r.descriptors[d.Name] = d
	return d.Clone()
}

// Remove deletes the descriptor. The persisted override is kept.
// Returns false if the name was not registered.
func (r *Registry) Remove(name string) bool {
	if _, ok := r.descriptors[name]; !ok {
		return false
	}
	delete(r.descriptors, name)
	r.order = slices.DeleteFunc(r.order, func(n string) bool { return n == name })
	return true
}

// DropOverride deletes the persisted override for name.
func (r *Registry) DropOverride(name string) error {
	if _, ok := r.config[name]; !ok {
		return nil
	}
	delete(r.config, name)
	return r.persist()
}

// Get returns the descriptor for name.
func (r *Registry) Get(name string) (Descriptor, bool) {
	d, ok := r.descriptors[name]
	if !ok {
		return Descriptor{}, false
	}
	return d.Clone(), true
}

// List returns descriptors in registration order, optionally restricted
// to the given kinds.
func (r *Registry) List(kinds ...Kind) []Descriptor {
	out := make([]Descriptor, 0, len(r.order))
	for _, name := range r.order {
		d := r.descriptors[name]
		if len(kinds) > 0 && !slices.Contains(kinds, d.Kind) {
			continue
		}
		out = append(out, d.Clone())
	}
	return out
}

// Len returns the number of registered descriptors.
func (r *Registry) Len() int {
	return len(r.order)
}

// SetEnabled records an override for name and persists it.
func (r *Registry) SetEnabled(name string, enabled bool) error {
	d, ok := r.descriptors[name]
	if !ok {
		return fmt.Errorf("plugin %q: %w", name, ErrPluginNotFound)
	}
	d.Enabled = enabled
	r.descriptors[name] = d
	r.config[name] = Override{Enabled: enabled}
	return r.persist()
}

func (r *Registry) enabled(name string) bool {
	if o, ok := r.config[name]; ok {
		return o.Enabled
	}
	return true
}

func (r *Registry) applyOverrides() {
	for name, d := range r.descriptors {
		d.Enabled = r.enabled(name)
		r.descriptors[name] = d
	}
}

func (r *Registry) persist() error {
	err := r.store.Save(r.config.Clone())
	if err == nil {
		return nil
	}
	r.logger.Warn("plugin config not saved", zap.Error(err))
	var perr *PersistenceError
	if errors.As(err, &perr) {
		return err
	}
	return &PersistenceError{Err: err}
}
