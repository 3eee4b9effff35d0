package plugin

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Manager manages the lifecycle of all plugins.
// It handles discovery, loading, command dispatch and event delivery.
//
// A Manager is not safe for concurrent use. It is driven from a single
// goroutine; background sources such as file watchers hand their work to
// that goroutine instead of calling in directly.
type Manager struct {
	registry  *Registry
	loader    *Loader
	locations []Location

	// Live plugins by name
	hosts map[string]*Host

	// Plugin load order (for deterministic iteration and shutdown)
	loadOrder []string

	states      map[string]State
	failures    map[string]failure
	probeErrors []*ProbeError
	stats       ExecutionStats

	handlers      []subscription
	nextHandlerID int

	store       ConfigStore
	metrics     *Metrics
	recorder    Recorder
	callTimeout time.Duration
	logger      *zap.Logger
	now         func() time.Time
}

// failure is a recorded load failure, valid while the descriptor keeps
// the same fingerprint.
type failure struct {
	fingerprint string
	err         error
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithLogger sets the manager's logger.
func WithLogger(logger *zap.Logger) ManagerOption {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithLocations sets the locations to scan, in priority order.
func WithLocations(locations ...Location) ManagerOption {
	return func(m *Manager) {
		m.locations = locations
	}
}

// WithConfigStore sets where enable/disable overrides are persisted.
func WithConfigStore(store ConfigStore) ManagerOption {
	return func(m *Manager) {
		m.store = store
	}
}

// WithMetrics sets the Prometheus collectors to update.
func WithMetrics(metrics *Metrics) ManagerOption {
	return func(m *Manager) {
		m.metrics = metrics
	}
}

// WithRecorder sets a recorder that receives every command execution.
func WithRecorder(recorder Recorder) ManagerOption {
	return func(m *Manager) {
		m.recorder = recorder
	}
}

// WithCallTimeout bounds every call into a plugin. Zero means no bound.
func WithCallTimeout(d time.Duration) ManagerOption {
	return func(m *Manager) {
		m.callTimeout = d
	}
}

// NewManager creates a plugin manager and reads the persisted overrides.
// Without options it scans DefaultUserDir and persists to DefaultConfigPath.
func NewManager(opts ...ManagerOption) *Manager {
	m := &Manager{
		hosts:    make(map[string]*Host),
		states:   make(map[string]State),
		failures: make(map[string]failure),
		logger:   zap.NewNop(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = m.logger.With(zap.String("component", "plugin_manager"))

	if m.locations == nil {
		m.locations = []Location{{Path: DefaultUserDir(), Writable: true}}
	}
	if m.store == nil {
		m.store = NewFileStore(DefaultConfigPath())
	}
	m.loader = NewLoader(WithLoaderLogger(m.logger))
	m.Configure(m.locations, m.store)
	return m
}

// Configure replaces the scan locations and config store and re-reads
// the persisted overrides. Registered descriptors are dropped; live
// plugins stay live until unloaded.
func (m *Manager) Configure(locations []Location, store ConfigStore) {
	m.locations = make([]Location, 0, len(locations))
	for _, loc := range locations {
		if abs, err := filepath.Abs(loc.Path); err == nil {
			loc.Path = abs
		}
		m.locations = append(m.locations, loc)
	}
	m.store = store
	m.registry = NewRegistry(store, m.logger)
	m.registry.LoadConfig()
	m.probeErrors = nil
	for name, state := range m.states {
		if state != StateLive {
			delete(m.states, name)
		}
	}
	m.failures = make(map[string]failure)
}

// Discover scans locations (the configured ones when none are given) and
// registers every unit found. Units that fail to probe are skipped and
// reported by ProbeErrors. A name already registered from another source
// that still exists keeps its first source. The returned descriptors are
// the ones registered by this call.
func (m *Manager) Discover(ctx context.Context, locations ...Location) ([]Descriptor, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(locations) == 0 {
		locations = m.locations
	}

	descs, problems := m.loader.Discover(locations)
	m.probeErrors = problems

	out := make([]Descriptor, 0, len(descs))
	for _, d := range descs {
		stored, ok := m.register(d)
		if ok {
			out = append(out, stored)
		}
	}

	m.metrics.setRegistered(m.registry.Len())
	m.logger.Debug("plugin discovery finished",
		zap.Int("registered", len(out)),
		zap.Int("probe_errors", len(problems)))
	return out, nil
}

// register upserts a discovered descriptor unless another source owns the name.
func (m *Manager) register(d Descriptor) (Descriptor, bool) {
	existing, known := m.registry.Get(d.Name)
	if known && existing.Source.Path != d.Source.Path && exists(existing.Source.Path) {
		m.logger.Debug("plugin name already registered from another source",
			zap.String("plugin", d.Name),
			zap.String("kept", existing.Source.Path),
			zap.String("ignored", d.Source.Path))
		return Descriptor{}, false
	}

	stored := m.registry.Upsert(d)
	if f, ok := m.failures[d.Name]; ok && f.fingerprint != stored.Fingerprint() {
		delete(m.failures, d.Name)
		m.states[d.Name] = StateUnloaded
	}
	if _, ok := m.states[d.Name]; !ok {
		m.states[d.Name] = StateUnloaded
	}
	if !known {
		m.emitEvent(ManagerEvent{Type: EventPluginDiscovered, Plugin: d.Name})
	}
	return stored, true
}

// ProbeErrors returns the probe failures of the last discovery.
func (m *Manager) ProbeErrors() []*ProbeError {
	return slices.Clone(m.probeErrors)
}

// Load makes a plugin live, loading its dependencies first. Loading a
// live plugin returns its host. A plugin whose load failed stays Failed
// and returns the recorded error until its descriptor changes.
func (m *Manager) Load(ctx context.Context, name string) (*Host, error) {
	return m.load(ctx, name, nil)
}

func (m *Manager) load(ctx context.Context, name string, chain []string) (*Host, error) {
	if h, ok := m.hosts[name]; ok {
		return h, nil
	}
	if slices.Contains(chain, name) {
		return nil, &LoadError{
			Plugin: name,
			Kind:   LoadDependencyCycle,
			Cause:  errors.New(strings.Join(append(slices.Clone(chain), name), " -> ")),
		}
	}

	desc, ok := m.registry.Get(name)
	if !ok {
		return nil, fmt.Errorf("plugin %q: %w", name, ErrPluginNotFound)
	}
	if !desc.Enabled {
		return nil, &LoadError{Plugin: name, Kind: LoadDisabled}
	}
	if f, ok := m.failures[name]; ok {
		if f.fingerprint == desc.Fingerprint() {
			return nil, f.err
		}
		delete(m.failures, name)
	}

	m.states[name] = StateLoading
	for _, dep := range desc.Dependencies {
		if _, err := m.load(ctx, dep, append(slices.Clone(chain), name)); err != nil {
			m.states[name] = StateUnloaded
			loadErr := &LoadError{Plugin: name, Kind: LoadDependencyFailed, Cause: err}
			var depErr *LoadError
			switch {
			case errors.Is(err, ErrPluginNotFound):
				loadErr.Kind = LoadDependencyMissing
			case errors.As(err, &depErr) && depErr.Kind == LoadDependencyCycle:
				loadErr.Kind = LoadDependencyCycle
			}
			m.metrics.observeLoad(name, loadErr)
			m.logger.Warn("plugin dependency not loadable",
				zap.String("plugin", name),
				zap.String("dependency", dep),
				zap.Error(err))
			return nil, loadErr
		}
	}

	host := NewHost(desc,
		WithHostLogger(m.logger.With(zap.String("plugin", name))),
		WithHostCallTimeout(m.callTimeout))
	if err := host.Load(ctx); err != nil {
		m.metrics.observeLoad(name, err)
		if ctx.Err() != nil {
			// cancelled, not the unit's fault
			m.states[name] = StateUnloaded
			return nil, err
		}
		m.states[name] = StateFailed
		m.failures[name] = failure{fingerprint: desc.Fingerprint(), err: err}
		m.logger.Warn("plugin load failed", zap.String("plugin", name), zap.Error(err))
		m.emitEvent(ManagerEvent{Type: EventPluginFailed, Plugin: name, Error: err})
		return nil, err
	}

	m.hosts[name] = host
	m.loadOrder = append(m.loadOrder, name)
	m.states[name] = StateLive
	m.metrics.observeLoad(name, nil)
	m.metrics.setLive(len(m.hosts))
	m.logger.Info("plugin loaded",
		zap.String("plugin", name),
		zap.String("version", desc.Version),
		zap.String("kind", string(desc.Kind)))
	m.emitEvent(ManagerEvent{Type: EventPluginLoaded, Plugin: name})
	return host, nil
}

// LoadEnabled loads every enabled plugin that is not live or failed, in
// registration order. Errors are joined; one failure does not stop the rest.
func (m *Manager) LoadEnabled(ctx context.Context) error {
	var errs []error
	for _, d := range m.registry.List() {
		if !d.Enabled || m.states[d.Name] != StateUnloaded {
			continue
		}
		if _, err := m.Load(ctx, d.Name); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Unload calls cleanup on a live plugin and drops its instance. Cleanup
// errors are logged and do not prevent unloading. Unloading a plugin that
// is not live is a no-op.
func (m *Manager) Unload(ctx context.Context, name string) error {
	host, ok := m.hosts[name]
	if !ok {
		if _, known := m.registry.Get(name); !known {
			return fmt.Errorf("plugin %q: %w", name, ErrPluginNotFound)
		}
		return nil
	}

	if err := host.Close(ctx); err != nil {
		m.logger.Warn("plugin cleanup failed", zap.String("plugin", name), zap.Error(err))
	}
	delete(m.hosts, name)
	m.removeFromLoadOrder(name)
	m.states[name] = StateUnloaded
	m.metrics.setLive(len(m.hosts))
	m.logger.Info("plugin unloaded", zap.String("plugin", name))
	m.emitEvent(ManagerEvent{Type: EventPluginUnloaded, Plugin: name})
	return nil
}

// Enable marks a plugin enabled, persists the override and loads it if it
// is unloaded. A persistence failure is returned but the plugin stays
// enabled in memory.
func (m *Manager) Enable(ctx context.Context, name string) error {
	if _, ok := m.registry.Get(name); !ok {
		return fmt.Errorf("plugin %q: %w", name, ErrPluginNotFound)
	}
	persistErr := m.registry.SetEnabled(name, true)
	m.emitEvent(ManagerEvent{Type: EventPluginEnabled, Plugin: name, Error: persistErr})

	var loadErr error
	if m.State(name) == StateUnloaded {
		_, loadErr = m.Load(ctx, name)
	}
	return errors.Join(persistErr, loadErr)
}

// Disable marks a plugin disabled, persists the override and unloads it
// if it is live.
func (m *Manager) Disable(ctx context.Context, name string) error {
	if _, ok := m.registry.Get(name); !ok {
		return fmt.Errorf("plugin %q: %w", name, ErrPluginNotFound)
	}
	persistErr := m.registry.SetEnabled(name, false)
	if _, live := m.hosts[name]; live {
		if err := m.Unload(ctx, name); err != nil {
			return errors.Join(persistErr, err)
		}
	}
	m.emitEvent(ManagerEvent{Type: EventPluginDisabled, Plugin: name, Error: persistErr})
	return persistErr
}

// Execute runs a command of a live plugin. Every invocation, successful
// or not, is counted in Stats and handed to the recorder.
func (m *Manager) Execute(ctx context.Context, name, command string, args []string) (any, error) {
	host, ok := m.hosts[name]
	if !ok {
		return nil, &ExecError{Plugin: name, Command: command, Kind: ExecNotLoaded}
	}
	if !host.HasCommand(command) {
		return nil, &ExecError{Plugin: name, Command: command, Kind: ExecUnknownCommand}
	}

	exec := Execution{
		ID:      uuid.NewString(),
		Plugin:  name,
		Command: command,
		Args:    slices.Clone(args),
		Started: m.now(),
	}
	result, err := host.Invoke(ctx, command, args)
	exec.Duration = m.now().Sub(exec.Started)
	exec.Status = ExecutionSucceeded
	if err != nil {
		exec.Status = ExecutionFailed
		exec.Error = err.Error()
		err = &ExecError{Plugin: name, Command: command, Kind: ExecHandlerFailed, Cause: err}
	}
	m.observe(ctx, exec)
	m.emitEvent(ManagerEvent{
		Type:         EventCommandExecuted,
		Plugin:       name,
		Command:      command,
		InvocationID: exec.ID,
		Error:        err,
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (m *Manager) observe(ctx context.Context, exec Execution) {
	m.stats.observe(exec)
	m.metrics.observeExecution(exec)
	if m.recorder == nil {
		return
	}
	if err := m.recorder.Record(context.WithoutCancel(ctx), exec); err != nil {
		m.logger.Warn("execution not recorded",
			zap.String("invocation", exec.ID),
			zap.Error(err))
	}
}

// Generate asks a live AI provider plugin for a completion.
func (m *Manager) Generate(ctx context.Context, name, prompt string, opts map[string]any) (string, error) {
	host, ok := m.hosts[name]
	if !ok {
		return "", &ExecError{Plugin: name, Command: "generate", Kind: ExecNotLoaded}
	}
	out, err := host.Generate(ctx, prompt, opts)
	if err != nil {
		if errors.Is(err, ErrKindMismatch) {
			return "", err
		}
		return "", &ExecError{Plugin: name, Command: "generate", Kind: ExecHandlerFailed, Cause: err}
	}
	return out, nil
}

// ExecuteCode runs code through a live executor plugin.
func (m *Manager) ExecuteCode(ctx context.Context, name, code, language string) (map[string]any, error) {
	host, ok := m.hosts[name]
	if !ok {
		return nil, &ExecError{Plugin: name, Command: "execute_code", Kind: ExecNotLoaded}
	}
	out, err := host.ExecuteCode(ctx, code, language)
	if err != nil {
		if errors.Is(err, ErrKindMismatch) {
			return nil, err
		}
		return nil, &ExecError{Plugin: name, Command: "execute_code", Kind: ExecHandlerFailed, Cause: err}
	}
	return out, nil
}

// ListCommands returns the commands of every live command plugin, keyed
// by plugin name.
func (m *Manager) ListCommands() map[string][]string {
	out := make(map[string][]string)
	for _, host := range m.LiveByKind(KindCommand) {
		out[host.Name()] = host.Commands()
	}
	return out
}

// Get returns the host of a live plugin.
func (m *Manager) Get(name string) (*Host, bool) {
	h, ok := m.hosts[name]
	return h, ok
}

// Descriptor returns the registered descriptor for name.
func (m *Manager) Descriptor(name string) (Descriptor, bool) {
	return m.registry.Get(name)
}

// List returns registered descriptors, optionally restricted to kinds.
func (m *Manager) List(kinds ...Kind) []Descriptor {
	return m.registry.List(kinds...)
}

// State returns the lifecycle state of name. Unknown names are Unloaded.
func (m *Manager) State(name string) State {
	return m.states[name]
}

// Failure returns the recorded load error of a Failed plugin.
func (m *Manager) Failure(name string) error {
	return m.failures[name].err
}

// Failures returns the recorded load errors by plugin name.
func (m *Manager) Failures() map[string]error {
	out := make(map[string]error, len(m.failures))
	for name, f := range m.failures {
		out[name] = f.err
	}
	return out
}

// Live returns the live plugins in load order.
func (m *Manager) Live() []*Host {
	out := make([]*Host, 0, len(m.loadOrder))
	for _, name := range m.loadOrder {
		out = append(out, m.hosts[name])
	}
	return out
}

// LiveByKind returns the live plugins of kind in load order.
func (m *Manager) LiveByKind(kind Kind) []*Host {
	var out []*Host
	for _, h := range m.Live() {
		if h.Kind() == kind {
			out = append(out, h)
		}
	}
	return out
}

// CommandPlugins returns the live command plugins.
func (m *Manager) CommandPlugins() []*Host {
	return m.LiveByKind(KindCommand)
}

// AIProviders returns the live AI provider plugins.
func (m *Manager) AIProviders() []*Host {
	return m.LiveByKind(KindAIProvider)
}

// Executors returns the live executor plugins.
func (m *Manager) Executors() []*Host {
	return m.LiveByKind(KindExecutor)
}

// Stats returns execution statistics since the manager was created.
func (m *Manager) Stats() ExecutionStats {
	return m.stats
}

// Registry returns the underlying registry.
func (m *Manager) Registry() *Registry {
	return m.registry
}

// Locations returns the configured scan locations.
func (m *Manager) Locations() []Location {
	return slices.Clone(m.locations)
}

// Refresh rediscovers the configured locations, drops plugins whose unit
// was deleted and reloads live plugins whose unit changed. It returns the
// names of the plugins it reloaded or dropped.
func (m *Manager) Refresh(ctx context.Context) ([]string, error) {
	var changed []string
	var errs []error

	for _, d := range m.registry.List() {
		if exists(d.Source.Path) {
			continue
		}
		if err := m.Unload(ctx, d.Name); err != nil {
			errs = append(errs, err)
		}
		m.registry.Remove(d.Name)
		delete(m.states, d.Name)
		delete(m.failures, d.Name)
		changed = append(changed, d.Name)
		m.logger.Info("plugin unit removed", zap.String("plugin", d.Name))
	}

	if _, err := m.Discover(ctx); err != nil {
		return changed, err
	}

	for _, host := range m.Live() {
		current, ok := m.registry.Get(host.Name())
		if !ok || current.Fingerprint() == host.Descriptor().Fingerprint() {
			continue
		}
		name := host.Name()
		if err := m.Unload(ctx, name); err != nil {
			errs = append(errs, err)
			continue
		}
		if _, err := m.Load(ctx, name); err != nil {
			errs = append(errs, err)
		}
		changed = append(changed, name)
	}
	return changed, errors.Join(errs...)
}

// Shutdown unloads every live plugin in reverse load order.
func (m *Manager) Shutdown(ctx context.Context) error {
	var errs []error
	order := slices.Clone(m.loadOrder)
	for i := len(order) - 1; i >= 0; i-- {
		if err := m.Unload(ctx, order[i]); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// removeFromLoadOrder removes a name from the load order slice.
func (m *Manager) removeFromLoadOrder(name string) {
	m.loadOrder = slices.DeleteFunc(m.loadOrder, func(n string) bool { return n == name })
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
