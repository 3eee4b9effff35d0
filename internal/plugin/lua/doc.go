// Package lua hosts plugin units in sandboxed gopher-lua states.
//
// # State
//
// A State is one Lua VM with the sandbox installed. Units are executed
// with Exec and their methods called with CallMethod:
//
//	state := lua.NewState(lua.WithLogger(logger))
//	defer state.Close()
//
//	results, err := state.Exec(ctx, "greeter.lua")
//	if err != nil {
//	    return err
//	}
//	out, err := state.CallMethod(ctx, instance, "get_info")
//
// # Sandbox
//
// The sandbox removes dofile, loadfile, load and loadstring, leaves io, os
// and debug closed, sends print to the state's logger and limits require
// to the libraries that are already open.
//
// # Capabilities
//
// Units declare capabilities in their metadata. The host grants known
// ones when it creates the unit's state:
//   - CapabilityFileRead: io.read_file and io.lines
//   - CapabilityOSTime: os.time, os.date, os.clock and os.difftime
//   - CapabilityUnsafe: the full io, os and debug libraries
//
// # Probe
//
// Probe reads a unit's metadata table from its syntax tree. It never
// executes the unit, so discovery has no side effects.
package lua
