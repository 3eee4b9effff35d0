package plugin

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// writeFile writes content to dir/name, creating dir as needed.
func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func luaList(items []string) string {
	quoted := make([]string, len(items))
	for i, s := range items {
		quoted[i] = fmt.Sprintf("%q", s)
	}
	return strings.Join(quoted, ", ")
}

// commandUnit is a command plugin with hello and fail commands.
func commandUnit(name string, deps ...string) string {
	return fmt.Sprintf(`
local P = {
  name = %q,
  version = "1.0.0",
  kind = "command",
  description = "Test commands",
  author = "tests",
  dependencies = {%s},
}

function P:initialize()
  self.greeting = "Hello"
  return true
end

function P:cleanup() end

function P:get_info()
  return {
    name = P.name,
    version = P.version,
    description = P.description,
    author = P.author,
    kind = P.kind,
    dependencies = P.dependencies,
  }
end

function P:register_commands()
  return {
    hello = function(self, args)
      return self.greeting .. ", " .. (args[1] or "World") .. "!"
    end,
    fail = function(self, args)
      error("handler exploded")
    end,
  }
end

return P
`, name, luaList(deps))
}

// utilityUnit is a utility plugin with no extra methods.
func utilityUnit(name string, deps ...string) string {
	return fmt.Sprintf(`
local U = { name = %q, version = "1.0.0", kind = "utility", dependencies = {%s} }
function U:initialize() return true end
function U:cleanup() end
function U:get_info() return { name = U.name, version = U.version, kind = U.kind } end
return U
`, name, luaList(deps))
}

// failingUnit is a utility plugin whose initialize returns false.
func failingUnit(name string) string {
	return fmt.Sprintf(`
local F = { name = %q, version = "1.0.0" }
function F:initialize() return false end
function F:cleanup() end
function F:get_info() return {} end
return F
`, name)
}

// syntaxErrorUnit does not parse.
const syntaxErrorUnit = `local broken = {`
