package lua

import (
	"context"
	"fmt"

	lua "github.com/yuin/gopher-lua"
	"go.uber.org/zap"
)

// DefaultCallStackSize bounds recursion inside a unit.
const DefaultCallStackSize = 256

// State wraps gopher-lua with the sandbox and call helpers used by plugin hosts.
//
// gopher-lua's LState is not goroutine-safe. A State belongs to the goroutine
// that drives its plugin manager and performs no locking of its own.
type State struct {
	L *lua.LState

	callStackSize int
	logger        *zap.Logger
	capabilities  []Capability

	sandbox *Sandbox
	closed  bool
}

// StateOption configures a State.
type StateOption func(*State)

// WithLogger routes the unit's print output to logger.
func WithLogger(logger *zap.Logger) StateOption {
	return func(s *State) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithCapabilities grants capabilities when the state is created.
func WithCapabilities(caps ...Capability) StateOption {
	return func(s *State) {
		s.capabilities = append(s.capabilities, caps...)
	}
}

// WithCallStackSize sets the maximum Lua call depth.
func WithCallStackSize(n int) StateOption {
	return func(s *State) {
		if n > 0 {
			s.callStackSize = n
		}
	}
}

// NewState creates a new sandboxed Lua state.
func NewState(opts ...StateOption) *State {
	state := &State{
		callStackSize: DefaultCallStackSize,
		logger:        zap.NewNop(),
	}
	for _, opt := range opts {
		opt(state)
	}

	state.L = lua.NewState(lua.Options{
		SkipOpenLibs:  true,
		CallStackSize: state.callStackSize,
	})
	openSafeLibraries(state.L)

	state.sandbox = NewSandbox(state.L, state.logger)
	state.sandbox.Install()
	for _, c := range state.capabilities {
		state.sandbox.Grant(c)
	}

	return state
}

// openSafeLibraries opens the libraries every unit gets.
// io, os, debug and package stay closed unless a capability opens them.
func openSafeLibraries(L *lua.LState) {
	lua.OpenBase(L)
	lua.OpenTable(L)
	lua.OpenString(L)
	lua.OpenMath(L)
	lua.OpenCoroutine(L)
}

// Exec loads and runs the chunk at path, returning every value it returns.
func (s *State) Exec(ctx context.Context, path string) ([]lua.LValue, error) {
	if s.closed {
		return nil, ErrStateClosed
	}
	fn, err := s.L.LoadFile(path)
	if err != nil {
		return nil, &SyntaxError{Path: path, Err: err}
	}
	return s.call(ctx, fn)
}

// CallMethod calls self:method(args...) and returns all results.
// The method is looked up through metatables, so inherited methods work.
func (s *State) CallMethod(ctx context.Context, self *lua.LTable, method string, args ...lua.LValue) ([]lua.LValue, error) {
	if s.closed {
		return nil, ErrStateClosed
	}
	fn, ok := s.L.GetField(self, method).(*lua.LFunction)
	if !ok {
		return nil, fmt.Errorf("method %q: %w", method, ErrNotFunction)
	}
	return s.call(ctx, fn, append([]lua.LValue{self}, args...)...)
}

// CallFunction calls fn with args and returns all results.
func (s *State) CallFunction(ctx context.Context, fn lua.LValue, args ...lua.LValue) ([]lua.LValue, error) {
	if s.closed {
		return nil, ErrStateClosed
	}
	f, ok := fn.(*lua.LFunction)
	if !ok {
		return nil, fmt.Errorf("%s value: %w", fn.Type(), ErrNotFunction)
	}
	return s.call(ctx, f, args...)
}

func (s *State) call(ctx context.Context, fn *lua.LFunction, args ...lua.LValue) (results []lua.LValue, err error) {
	if ctx != nil {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		s.L.SetContext(ctx)
		defer s.L.RemoveContext()
	}

	stackTop := s.L.GetTop()
	s.L.Push(fn)
	for _, arg := range args {
		s.L.Push(arg)
	}

	func() {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("lua panic: %v", r)
			}
		}()
		err = s.L.PCall(len(args), lua.MultRet, nil)
	}()
	if err != nil {
		s.L.SetTop(stackTop)
		// a cancelled context surfaces as a Lua error; report the cause
		if ctx != nil && ctx.Err() != nil {
			return nil, fmt.Errorf("%w: %v", ctx.Err(), err)
		}
		return nil, err
	}

	nRet := s.L.GetTop() - stackTop
	if nRet <= 0 {
		return []lua.LValue{}, nil
	}
	results = make([]lua.LValue, nRet)
	for i := 0; i < nRet; i++ {
		results[i] = s.L.Get(stackTop + i + 1)
	}
	s.L.Pop(nRet)
	return results, nil
}

// Globals returns the global table.
func (s *State) Globals() *lua.LTable {
	return s.L.G.Global
}

// GlobalNames returns the names currently bound in the global table.
func (s *State) GlobalNames() map[string]bool {
	names := make(map[string]bool)
	s.L.G.Global.ForEach(func(k, _ lua.LValue) {
		if ks, ok := k.(lua.LString); ok {
			names[string(ks)] = true
		}
	})
	return names
}

// Sandbox returns the state's sandbox.
func (s *State) Sandbox() *Sandbox {
	return s.sandbox
}

// NewTable creates an empty table owned by this state.
func (s *State) NewTable() *lua.LTable {
	return s.L.NewTable()
}

// IsClosed reports whether Close has been called.
func (s *State) IsClosed() bool {
	return s.closed
}

// Close releases the Lua state. It is safe to call more than once.
func (s *State) Close() {
	if s.closed {
		return
	}
	s.closed = true
	s.L.Close()
}
