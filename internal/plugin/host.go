package plugin

import (
	"context"
	"errors"
	"fmt"
	"time"

	lua "github.com/yuin/gopher-lua"
	"go.uber.org/zap"

	plua "github.com/aion-project/aion/internal/plugin/lua"
)

// lifecycleMethods every plugin type implements.
var lifecycleMethods = []string{"initialize", "cleanup", "get_info"}

// kindMethods are required in addition to the lifecycle methods.
var kindMethods = map[Kind][]string{
	KindCommand:    {"register_commands"},
	KindAIProvider: {"generate"},
	KindExecutor:   {"execute_code"},
}

// Host runs one plugin instance in its own Lua state.
//
// A unit qualifies as a plugin when it exports exactly one table that
// implements the lifecycle methods and the methods its kind requires. The
// table is exported by returning it from the chunk or by assigning it to
// a new global.
type Host struct {
	desc   Descriptor
	logger *zap.Logger

	callTimeout time.Duration

	state        *plua.State
	instance     *lua.LTable
	commands     map[string]*lua.LFunction
	commandNames []string
}

// HostOption configures a Host.
type HostOption func(*Host)

// WithHostLogger sets the host's logger.
func WithHostLogger(logger *zap.Logger) HostOption {
	return func(h *Host) {
		if logger != nil {
			h.logger = logger
		}
	}
}

// WithHostCallTimeout bounds every call into the plugin. Zero means no bound.
func WithHostCallTimeout(d time.Duration) HostOption {
	return func(h *Host) {
		h.callTimeout = d
	}
}

// NewHost creates a host for desc. Nothing runs until Load.
func NewHost(desc Descriptor, opts ...HostOption) *Host {
	h := &Host{
		desc:   desc.Clone(),
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Name returns the plugin name.
func (h *Host) Name() string {
	return h.desc.Name
}

// Kind returns the plugin kind.
func (h *Host) Kind() Kind {
	return h.desc.Kind
}

// Descriptor returns the descriptor the host was created from.
func (h *Host) Descriptor() Descriptor {
	return h.desc.Clone()
}

// Loaded reports whether the instance is initialized and not yet closed.
func (h *Host) Loaded() bool {
	return h.instance != nil && h.state != nil && !h.state.IsClosed()
}

// grantedCapabilities returns the declared capabilities the unit may use.
// Units in writable locations were installed by the user and never get
// unsafe.
func (h *Host) grantedCapabilities() []plua.Capability {
	caps := make([]plua.Capability, 0, len(h.desc.Capabilities))
	for _, c := range h.desc.Capabilities {
		if plua.Capability(c) == plua.CapabilityUnsafe && h.desc.Source.Location.Writable {
			h.logger.Warn("unsafe capability refused for unit in writable location",
				zap.String("plugin", h.desc.Name),
				zap.String("path", h.desc.Source.Path))
			continue
		}
		caps = append(caps, plua.Capability(c))
	}
	return caps
}

// Load runs the unit, instantiates its plugin type and initializes it.
// Command plugins also register their commands. On failure the Lua state is
// released and a *LoadError is returned.
func (h *Host) Load(ctx context.Context) error {
	h.state = plua.NewState(
		plua.WithLogger(h.logger),
		plua.WithCapabilities(h.grantedCapabilities()...),
	)

	if err := h.load(ctx); err != nil {
		h.state.Close()
		h.instance = nil
		h.commands = nil
		h.commandNames = nil
		return err
	}
	return nil
}

func (h *Host) load(ctx context.Context) error {
	typ, err := h.resolveType(ctx)
	if err != nil {
		return err
	}

	instance, err := h.instantiate(ctx, typ)
	if err != nil {
		return h.loadError(LoadInitializationFailed, err)
	}

	results, err := h.call(ctx, instance, "initialize")
	if err != nil {
		return h.loadError(LoadInitializationFailed, err)
	}
	if len(results) > 0 && results[0] == lua.LFalse {
		return h.loadError(LoadInitializationFailed, ErrInitReturnedFalse)
	}
	h.instance = instance

	if h.desc.Kind == KindCommand {
		if err := h.registerCommands(ctx); err != nil {
			return h.loadError(LoadInitializationFailed, err)
		}
	}
	return nil
}

// resolveType runs the chunk and finds the single qualifying plugin type.
func (h *Host) resolveType(ctx context.Context) (*lua.LTable, error) {
	before := h.state.GlobalNames()

	ctx, cancel := h.callContext(ctx)
	defer cancel()
	results, err := h.state.Exec(ctx, h.desc.Source.Main)
	if err != nil {
		return nil, h.loadError(LoadUnitFailed, err)
	}

	var candidates []*lua.LTable
	seen := make(map[*lua.LTable]bool)
	consider := func(v lua.LValue) {
		t, ok := v.(*lua.LTable)
		if !ok || seen[t] {
			return
		}
		seen[t] = true
		if h.qualifies(t) {
			candidates = append(candidates, t)
		}
	}

	for _, v := range results {
		consider(v)
	}
	h.state.Globals().ForEach(func(k, v lua.LValue) {
		if name, ok := k.(lua.LString); ok && !before[string(name)] {
			consider(v)
		}
	})

	switch len(candidates) {
	case 1:
		return candidates[0], nil
	case 0:
		return nil, h.loadError(LoadAmbiguousOrMissingType,
			fmt.Errorf("no exported table implements the %s plugin methods", h.desc.Kind))
	default:
		return nil, h.loadError(LoadAmbiguousOrMissingType,
			fmt.Errorf("%d exported tables implement the %s plugin methods", len(candidates), h.desc.Kind))
	}
}

func (h *Host) qualifies(t *lua.LTable) bool {
	required := append(append([]string{}, lifecycleMethods...), kindMethods[h.desc.Kind]...)
	for _, m := range required {
		if _, ok := h.state.L.GetField(t, m).(*lua.LFunction); !ok {
			return false
		}
	}
	return true
}

// instantiate calls Type:new() when the type has a constructor, otherwise
// it creates an empty instance whose methods come from the type.
func (h *Host) instantiate(ctx context.Context, typ *lua.LTable) (*lua.LTable, error) {
	if _, ok := h.state.L.GetField(typ, "new").(*lua.LFunction); ok {
		results, err := h.call(ctx, typ, "new")
		if err != nil {
			return nil, err
		}
		if len(results) == 0 {
			return nil, errors.New("new returned nothing")
		}
		instance, ok := results[0].(*lua.LTable)
		if !ok {
			return nil, fmt.Errorf("new returned %s, want table", results[0].Type())
		}
		return instance, nil
	}

	instance := h.state.NewTable()
	mt := h.state.NewTable()
	mt.RawSetString("__index", typ)
	h.state.L.SetMetatable(instance, mt)
	return instance, nil
}

func (h *Host) registerCommands(ctx context.Context) error {
	results, err := h.call(ctx, h.instance, "register_commands")
	if err != nil {
		return err
	}
	if len(results) == 0 {
		return errors.New("register_commands returned nothing")
	}
	tbl, ok := results[0].(*lua.LTable)
	if !ok {
		return fmt.Errorf("register_commands returned %s, want table", results[0].Type())
	}
	h.commandNames, h.commands = plua.FunctionFields(tbl)
	return nil
}

// Commands returns the registered command names, sorted.
func (h *Host) Commands() []string {
	return append([]string(nil), h.commandNames...)
}

// HasCommand reports whether the plugin registered name.
func (h *Host) HasCommand(name string) bool {
	_, ok := h.commands[name]
	return ok
}

// Invoke runs a registered command. The handler receives the instance and
// an array of the string arguments.
func (h *Host) Invoke(ctx context.Context, command string, args []string) (any, error) {
	fn, ok := h.commands[command]
	if !ok {
		return nil, fmt.Errorf("unknown command %q", command)
	}
	ctx, cancel := h.callContext(ctx)
	defer cancel()

	results, err := h.state.CallFunction(ctx, fn, h.instance, plua.ToLuaValue(h.state.L, args))
	if err != nil {
		return nil, err
	}
	return first(results), nil
}

// Info calls get_info on the live instance.
func (h *Host) Info(ctx context.Context) (Info, error) {
	if !h.Loaded() {
		return Info{}, fmt.Errorf("plugin %q: not loaded", h.desc.Name)
	}
	results, err := h.call(ctx, h.instance, "get_info")
	if err != nil {
		return Info{}, err
	}
	if len(results) == 0 {
		return Info{}, errors.New("get_info returned nothing")
	}
	tbl, ok := results[0].(*lua.LTable)
	if !ok {
		return Info{}, fmt.Errorf("get_info returned %s, want table", results[0].Type())
	}

	info := Info{}
	info.Name, _ = plua.TableString(tbl, "name")
	info.Version, _ = plua.TableString(tbl, "version")
	info.Description, _ = plua.TableString(tbl, "description")
	info.Author, _ = plua.TableString(tbl, "author")
	kind, ok := plua.TableString(tbl, "kind")
	if !ok {
		kind, _ = plua.TableString(tbl, "plugin_type")
	}
	if k, err := ParseKind(kind); err == nil {
		info.Kind = k
	}
	info.Dependencies = plua.StringList(tbl.RawGetString("dependencies"))
	return info, nil
}

// Call invokes any method of the live instance with Go arguments and
// returns its first result. Utility plugins expose their helpers this way.
func (h *Host) Call(ctx context.Context, method string, args ...any) (any, error) {
	if !h.Loaded() {
		return nil, fmt.Errorf("plugin %q: not loaded", h.desc.Name)
	}
	largs := make([]lua.LValue, len(args))
	for i, a := range args {
		largs[i] = plua.ToLuaValue(h.state.L, a)
	}
	results, err := h.call(ctx, h.instance, method, largs...)
	if err != nil {
		return nil, err
	}
	return first(results), nil
}

// Generate asks an AI provider plugin for a completion.
func (h *Host) Generate(ctx context.Context, prompt string, opts map[string]any) (string, error) {
	if err := h.expectKind(KindAIProvider); err != nil {
		return "", err
	}
	results, err := h.call(ctx, h.instance, "generate", lua.LString(prompt), plua.ToLuaValue(h.state.L, opts))
	if err != nil {
		return "", err
	}
	return lua.LVAsString(firstValue(results)), nil
}

// Models lists the models an AI provider plugin offers.
// Providers without get_available_models report none.
func (h *Host) Models(ctx context.Context) ([]string, error) {
	if err := h.expectKind(KindAIProvider); err != nil {
		return nil, err
	}
	return h.optionalList(ctx, "get_available_models")
}

// ExecuteCode runs code through an executor plugin. A non-table result is
// returned under the "output" key.
func (h *Host) ExecuteCode(ctx context.Context, code, language string) (map[string]any, error) {
	if err := h.expectKind(KindExecutor); err != nil {
		return nil, err
	}
	results, err := h.call(ctx, h.instance, "execute_code", lua.LString(code), lua.LString(language))
	if err != nil {
		return nil, err
	}
	switch v := first(results).(type) {
	case map[string]any:
		return v, nil
	case nil:
		return map[string]any{}, nil
	default:
		return map[string]any{"output": v}, nil
	}
}

// Languages lists the languages an executor plugin supports.
func (h *Host) Languages(ctx context.Context) ([]string, error) {
	if err := h.expectKind(KindExecutor); err != nil {
		return nil, err
	}
	return h.optionalList(ctx, "get_supported_languages")
}

// Close calls cleanup on the instance and releases the Lua state. The
// state is released even when cleanup fails.
func (h *Host) Close(ctx context.Context) error {
	if h.state == nil || h.state.IsClosed() {
		return nil
	}
	var err error
	if h.instance != nil {
		_, err = h.call(ctx, h.instance, "cleanup")
	}
	h.state.Close()
	h.instance = nil
	h.commands = nil
	h.commandNames = nil
	return err
}

func (h *Host) optionalList(ctx context.Context, method string) ([]string, error) {
	if _, ok := h.state.L.GetField(h.instance, method).(*lua.LFunction); !ok {
		return nil, nil
	}
	results, err := h.call(ctx, h.instance, method)
	if err != nil {
		return nil, err
	}
	return plua.StringList(firstValue(results)), nil
}

func (h *Host) expectKind(k Kind) error {
	if h.desc.Kind != k {
		return fmt.Errorf("plugin %q is %s, not %s: %w", h.desc.Name, h.desc.Kind, k, ErrKindMismatch)
	}
	if !h.Loaded() {
		return fmt.Errorf("plugin %q: not loaded", h.desc.Name)
	}
	return nil
}

func (h *Host) call(ctx context.Context, self *lua.LTable, method string, args ...lua.LValue) ([]lua.LValue, error) {
	ctx, cancel := h.callContext(ctx)
	defer cancel()
	return h.state.CallMethod(ctx, self, method, args...)
}

func (h *Host) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	if h.callTimeout > 0 {
		return context.WithTimeout(ctx, h.callTimeout)
	}
	return context.WithCancel(ctx)
}

func (h *Host) loadError(kind LoadErrorKind, cause error) *LoadError {
	return &LoadError{Plugin: h.desc.Name, Kind: kind, Cause: cause}
}

func firstValue(results []lua.LValue) lua.LValue {
	if len(results) == 0 {
		return lua.LNil
	}
	return results[0]
}

func first(results []lua.LValue) any {
	return plua.ToGoValue(firstValue(results))
}
