// Package plugin discovers, loads and runs AION plugins.
//
// Plugins are Lua units found in an ordered list of locations. A Manager
// probes each unit for its metadata without running it, keeps the results
// in a Registry, and loads plugins on demand into sandboxed Lua states.
//
// # Quick Start
//
//	m := plugin.NewManager(
//	    plugin.WithLogger(logger),
//	    plugin.WithLocations(
//	        plugin.Location{Path: "/usr/share/aion/plugins"},
//	        plugin.Location{Path: userDir, Writable: true},
//	    ),
//	    plugin.WithConfigStore(plugin.NewFileStore(plugin.DefaultConfigPath())),
//	)
//	defer m.Shutdown(context.Background())
//
//	if _, err := m.Discover(ctx); err != nil {
//	    return err
//	}
//	if err := m.LoadEnabled(ctx); err != nil {
//	    log.Printf("some plugins failed to load: %v", err)
//	}
//	out, err := m.Execute(ctx, "example_commands", "hello", []string{"World"})
//
// # Unit Structure
//
// Units are either single files or directories:
//
//	plugins/greeter.lua
//
//	plugins/weather/
//	├── plugin.yaml      # optional manifest (json, yaml, yml or toml)
//	└── init.lua         # entry point (or plugin.lua, or manifest "main")
//
// Files and directories whose names start with "_" or "." are ignored.
//
// # Metadata
//
// A unit declares itself with the table its chunk returns:
//
//	local Greeter = {
//	  name = "greeter",
//	  version = "1.0.0",
//	  kind = "command",
//	  description = "Says hello",
//	  dependencies = {},
//	  capabilities = {"os.time"},
//	}
//
//	function Greeter:initialize() return true end
//	function Greeter:cleanup() end
//	function Greeter:get_info() return self end
//	function Greeter:register_commands()
//	  return { hello = function(self, args) return "Hello, " .. (args[1] or "World") .. "!" end }
//	end
//
//	return Greeter
//
// Units without a metadata table are named after their file and get
// version 0.0.0 and kind utility. A manifest file overrides the table.
//
// # Lifecycle
//
// Every plugin is in one of four states:
//
//	Unloaded -> Loading -> Live -> Unloaded
//	                    \-> Failed
//
// Failed is kept until the unit changes on disk, so a broken plugin is
// not retried on every call.
//
// # Kinds
//
// Besides initialize, cleanup and get_info, each kind requires:
//   - command: register_commands returning name -> handler
//   - ai_provider: generate(prompt, options), optionally get_available_models
//   - executor: execute_code(code, language), optionally get_supported_languages
//   - interface and utility: nothing else
//
// # Persistence
//
// Enable and disable overrides are stored as JSON:
//
//	{"weather": {"enabled": false}}
//
// Overrides are applied in memory first. A failed write is returned as a
// *PersistenceError and the in-memory change is kept.
package plugin
