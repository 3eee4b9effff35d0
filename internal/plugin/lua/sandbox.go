package lua

import (
	"os"
	"slices"
	"strings"

	lua "github.com/yuin/gopher-lua"
	"go.uber.org/zap"
)

// Capability represents a permission that can be granted to a unit.
type Capability string

// Available capabilities.
const (
	CapabilityFileRead Capability = "filesystem.read"
	CapabilityOSTime   Capability = "os.time"
	CapabilityUnsafe   Capability = "unsafe" // full Lua stdlib
)

// KnownCapability reports whether c names a capability the sandbox can grant.
func KnownCapability(c Capability) bool {
	switch c {
	case CapabilityFileRead, CapabilityOSTime, CapabilityUnsafe:
		return true
	}
	return false
}

// modules require() may return. All of them are already open.
var requireWhitelist = []string{"string", "table", "math", "coroutine"}

// Sandbox restricts Lua execution to safe operations.
type Sandbox struct {
	L      *lua.LState
	logger *zap.Logger

	capabilities map[Capability]bool
}

// NewSandbox creates a new sandbox for the Lua state.
func NewSandbox(L *lua.LState, logger *zap.Logger) *Sandbox {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sandbox{
		L:            L,
		logger:       logger,
		capabilities: make(map[Capability]bool),
	}
}

// Install removes the loaders that would let a unit escape and replaces
// print and require with restricted versions.
func (s *Sandbox) Install() {
	for _, name := range []string{"dofile", "loadfile", "load", "loadstring"} {
		s.L.SetGlobal(name, lua.LNil)
	}
	s.installPrint()
	s.installRequire()
}

// installPrint sends print output to the unit's logger instead of stdout.
func (s *Sandbox) installPrint() {
	s.L.SetGlobal("print", s.L.NewFunction(func(L *lua.LState) int {
		n := L.GetTop()
		parts := make([]string, 0, n)
		for i := 1; i <= n; i++ {
			parts = append(parts, lua.LVAsString(L.ToStringMeta(L.Get(i))))
		}
		s.logger.Info(strings.Join(parts, "\t"))
		return 0
	}))
}

// installRequire resolves only whitelisted, already-open modules.
func (s *Sandbox) installRequire() {
	s.L.SetGlobal("require", s.L.NewFunction(func(L *lua.LState) int {
		name := L.CheckString(1)
		if !slices.Contains(requireWhitelist, name) && !(name == "os" && s.capabilities[CapabilityOSTime]) {
			L.RaiseError("module %q is not available in the sandbox", name)
			return 0
		}
		L.Push(L.GetGlobal(name))
		return 1
	}))
}

// Grant enables a capability and injects the API it unlocks.
func (s *Sandbox) Grant(c Capability) {
	if s.capabilities[c] {
		return
	}
	s.capabilities[c] = true

	switch c {
	case CapabilityFileRead:
		s.injectFileReadAPI()
	case CapabilityOSTime:
		s.injectTimeAPI()
	case CapabilityUnsafe:
		s.injectUnsafeLibraries()
	default:
		s.logger.Warn("unknown capability ignored", zap.String("capability", string(c)))
	}
}

// HasCapability returns true if the capability is granted.
func (s *Sandbox) HasCapability(c Capability) bool {
	return s.capabilities[c]
}

// Capabilities returns the granted capabilities in sorted order.
func (s *Sandbox) Capabilities() []Capability {
	caps := make([]Capability, 0, len(s.capabilities))
	for c := range s.capabilities {
		caps = append(caps, c)
	}
	slices.Sort(caps)
	return caps
}

// CheckCapability returns an error if the capability is not granted.
func (s *Sandbox) CheckCapability(c Capability) error {
	if !s.capabilities[c] {
		return &CapabilityError{Capability: c}
	}
	return nil
}

// injectFileReadAPI adds a read-only io table.
func (s *Sandbox) injectFileReadAPI() {
	if s.capabilities[CapabilityUnsafe] {
		return
	}
	ioMod := s.L.NewTable()

	// io.read_file(path) -> content | nil, err
	s.L.SetField(ioMod, "read_file", s.L.NewFunction(func(L *lua.LState) int {
		content, err := os.ReadFile(L.CheckString(1))
		if err != nil {
			L.Push(lua.LNil)
			L.Push(lua.LString(err.Error()))
			return 2
		}
		L.Push(lua.LString(content))
		return 1
	}))

	s.L.SetField(ioMod, "lines", s.L.NewFunction(func(L *lua.LState) int {
		content, err := os.ReadFile(L.CheckString(1))
		if err != nil {
			L.RaiseError("cannot open file: %s", err.Error())
			return 0
		}
		lines := splitLines(string(content))
		idx := 0
		L.Push(L.NewFunction(func(L *lua.LState) int {
			if idx >= len(lines) {
				return 0
			}
			L.Push(lua.LString(lines[idx]))
			idx++
			return 1
		}))
		return 1
	}))

	s.L.SetGlobal("io", ioMod)
}

// injectTimeAPI exposes the clock functions of os and nothing else.
func (s *Sandbox) injectTimeAPI() {
	if s.capabilities[CapabilityUnsafe] {
		return
	}
	lua.OpenOs(s.L)
	full, ok := s.L.GetGlobal("os").(*lua.LTable)
	if !ok {
		return
	}
	restricted := s.L.NewTable()
	for _, name := range []string{"time", "date", "clock", "difftime"} {
		restricted.RawSetString(name, full.RawGetString(name))
	}
	s.L.SetGlobal("os", restricted)
}

// injectUnsafeLibraries opens all standard Lua libraries.
// Only trusted units should be granted this.
func (s *Sandbox) injectUnsafeLibraries() {
	lua.OpenIo(s.L)
	lua.OpenOs(s.L)
	lua.OpenDebug(s.L)
}

func splitLines(s string) []string {
	s = strings.TrimSuffix(s, "\n")
	if s == "" {
		return nil
	}
	lines := strings.Split(s, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimSuffix(line, "\r")
	}
	return lines
}
