package plugin

import (
	"fmt"
	"path/filepath"
	"slices"
	"strings"
)

// Kind is the role a plugin plays.
type Kind string

// Plugin kinds.
const (
	KindCommand    Kind = "command"
	KindAIProvider Kind = "ai_provider"
	KindExecutor   Kind = "executor"
	KindInterface  Kind = "interface"
	KindUtility    Kind = "utility"
)

// Kinds lists every kind in display order.
var Kinds = []Kind{KindCommand, KindAIProvider, KindExecutor, KindInterface, KindUtility}

// ParseKind converts a kind name to a Kind. Case and hyphens are ignored.
func ParseKind(s string) (Kind, error) {
	k := Kind(strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), "-", "_"))
	if !k.Valid() {
		return "", fmt.Errorf("unknown plugin kind %q", s)
	}
	return k, nil
}

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	return slices.Contains(Kinds, k)
}

// Location is a directory the manager scans for units.
type Location struct {
	Path string

	// Writable locations accept installs and uninstalls. Read-only
	// locations hold bundled plugins.
	Writable bool
}

// Bundled reports whether the location is read-only.
func (l Location) Bundled() bool {
	return !l.Writable
}

// Contains reports whether path lies inside the location.
func (l Location) Contains(path string) bool {
	rel, err := filepath.Rel(l.Path, path)
	if err != nil {
		return false
	}
	return rel != "." && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// Source identifies where a unit lives.
type Source struct {
	// Path is the .lua file or unit directory.
	Path string

	// Main is the Lua file that is executed on load.
	Main string

	// Revision changes whenever the entry file is modified.
	Revision string

	Location Location
}

// Descriptor is a plugin's static identity as discovered on disk.
type Descriptor struct {
	Name         string
	Version      string
	Description  string
	Author       string
	Kind         Kind
	Dependencies []string
	Capabilities []string
	Enabled      bool
	Source       Source
}

// Fingerprint identifies a descriptor's content. A Failed plugin is
// retried only after its fingerprint changes.
func (d Descriptor) Fingerprint() string {
	return d.Source.Path + "@" + d.Version + "#" + d.Source.Revision
}

// Bundled reports whether the plugin comes from a read-only location.
func (d Descriptor) Bundled() bool {
	return d.Source.Location.Bundled()
}

// Clone returns a copy that shares no slices with d.
func (d Descriptor) Clone() Descriptor {
	d.Dependencies = slices.Clone(d.Dependencies)
	d.Capabilities = slices.Clone(d.Capabilities)
	return d
}

// Info is the self-description a live plugin returns from get_info.
type Info struct {
	Name         string   `json:"name"`
	Version      string   `json:"version"`
	Description  string   `json:"description"`
	Author       string   `json:"author"`
	Kind         Kind     `json:"kind"`
	Dependencies []string `json:"dependencies"`
}
