package plugin

import (
	"errors"
	"fmt"
	"strings"
)

// Plugin system errors.
var (
	// ErrPluginNotFound is returned when a name is not in the registry.
	ErrPluginNotFound = errors.New("plugin not found")

	// ErrKindMismatch is returned when a kind-specific operation targets a
	// plugin of another kind.
	ErrKindMismatch = errors.New("plugin kind mismatch")

	// ErrNoEntryPoint is returned when a directory unit has no Lua entry file.
	ErrNoEntryPoint = errors.New("plugin has no entry point (init.lua or plugin.lua)")

	// ErrNoManifest is returned when a directory carries no manifest file.
	ErrNoManifest = errors.New("no plugin manifest")

	// ErrInitReturnedFalse is the cause recorded when initialize returns false.
	ErrInitReturnedFalse = errors.New("initialize returned false")
)

// ProbeError reports a candidate unit whose metadata could not be read.
type ProbeError struct {
	Path string
	Err  error
}

func (e *ProbeError) Error() string {
	return fmt.Sprintf("probe %s: %v", e.Path, e.Err)
}

func (e *ProbeError) Unwrap() error {
	return e.Err
}

// DiscoveryError aggregates the probe errors of one discovery pass.
type DiscoveryError struct {
	Errors []*ProbeError
}

func (e *DiscoveryError) Error() string {
	if len(e.Errors) == 1 {
		return e.Errors[0].Error()
	}
	parts := make([]string, len(e.Errors))
	for i, pe := range e.Errors {
		parts[i] = pe.Error()
	}
	return fmt.Sprintf("%d units failed to probe: %s", len(e.Errors), strings.Join(parts, "; "))
}

func (e *DiscoveryError) Unwrap() []error {
	errs := make([]error, len(e.Errors))
	for i, pe := range e.Errors {
		errs[i] = pe
	}
	return errs
}

// LoadErrorKind classifies load failures.
type LoadErrorKind int

// Load failure kinds.
const (
	// LoadAmbiguousOrMissingType - the unit exports zero or several plugin types.
	LoadAmbiguousOrMissingType LoadErrorKind = iota

	// LoadInitializationFailed - initialize or register_commands failed.
	LoadInitializationFailed

	// LoadUnitFailed - the unit's chunk did not compile or raised while running.
	LoadUnitFailed

	// LoadDisabled - the plugin is disabled.
	LoadDisabled

	// LoadDependencyMissing - a declared dependency is not registered.
	LoadDependencyMissing

	// LoadDependencyFailed - a declared dependency could not be loaded.
	LoadDependencyFailed

	// LoadDependencyCycle - the dependency graph loops back to the plugin.
	LoadDependencyCycle
)

// String returns the snake_case name of the kind.
func (k LoadErrorKind) String() string {
	switch k {
	case LoadAmbiguousOrMissingType:
		return "ambiguous_or_missing_type"
	case LoadInitializationFailed:
		return "initialization_failed"
	case LoadUnitFailed:
		return "unit_failed"
	case LoadDisabled:
		return "disabled"
	case LoadDependencyMissing:
		return "dependency_missing"
	case LoadDependencyFailed:
		return "dependency_failed"
	case LoadDependencyCycle:
		return "dependency_cycle"
	default:
		return "unknown"
	}
}

// LoadError reports a failed load.
type LoadError struct {
	Plugin string
	Kind   LoadErrorKind
	Cause  error
}

func (e *LoadError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("plugin %q: load %s: %v", e.Plugin, e.Kind, e.Cause)
	}
	return fmt.Sprintf("plugin %q: load %s", e.Plugin, e.Kind)
}

func (e *LoadError) Unwrap() error {
	return e.Cause
}

// ExecErrorKind classifies command execution failures.
type ExecErrorKind int

// Execution failure kinds.
const (
	// ExecNotLoaded - the plugin is not live.
	ExecNotLoaded ExecErrorKind = iota

	// ExecUnknownCommand - the plugin does not expose the command.
	ExecUnknownCommand

	// ExecHandlerFailed - the command handler raised.
	ExecHandlerFailed
)

// String returns the snake_case name of the kind.
func (k ExecErrorKind) String() string {
	switch k {
	case ExecNotLoaded:
		return "not_loaded"
	case ExecUnknownCommand:
		return "unknown_command"
	case ExecHandlerFailed:
		return "handler_failed"
	default:
		return "unknown"
	}
}

// ExecError reports a failed command invocation.
type ExecError struct {
	Plugin  string
	Command string
	Kind    ExecErrorKind
	Cause   error
}

func (e *ExecError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("plugin %q: command %q: %s: %v", e.Plugin, e.Command, e.Kind, e.Cause)
	}
	return fmt.Sprintf("plugin %q: command %q: %s", e.Plugin, e.Command, e.Kind)
}

func (e *ExecError) Unwrap() error {
	return e.Cause
}

// PersistenceError reports a registry config that could not be written.
// The in-memory change it accompanies has already been applied.
type PersistenceError struct {
	Path string
	Err  error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persist plugin config %s: %v", e.Path, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

// InstallErrorKind classifies install failures.
type InstallErrorKind int

// Install failure kinds.
const (
	// InstallSourceNotFound - the unit path does not exist.
	InstallSourceNotFound InstallErrorKind = iota

	// InstallNoWritableLocation - no configured location accepts installs.
	InstallNoWritableLocation

	// InstallUnsupportedSource - the path is not a .lua file, directory or .zip archive.
	InstallUnsupportedSource

	// InstallCopyFailed - copying or extracting into the location failed.
	InstallCopyFailed

	// InstallProbeFailed - the installed unit could not be probed.
	InstallProbeFailed

	// InstallNameConflict - another location already provides the name.
	InstallNameConflict
)

// String returns the snake_case name of the kind.
func (k InstallErrorKind) String() string {
	switch k {
	case InstallSourceNotFound:
		return "source_not_found"
	case InstallNoWritableLocation:
		return "no_writable_location"
	case InstallUnsupportedSource:
		return "unsupported_source"
	case InstallCopyFailed:
		return "copy_failed"
	case InstallProbeFailed:
		return "probe_failed"
	case InstallNameConflict:
		return "name_conflict"
	default:
		return "unknown"
	}
}

// InstallError reports a failed install.
type InstallError struct {
	Path string
	Kind InstallErrorKind
	Err  error
}

func (e *InstallError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("install %s: %s: %v", e.Path, e.Kind, e.Err)
	}
	return fmt.Sprintf("install %s: %s", e.Path, e.Kind)
}

func (e *InstallError) Unwrap() error {
	return e.Err
}

// UninstallErrorKind classifies uninstall failures.
type UninstallErrorKind int

// Uninstall failure kinds.
const (
	// UninstallProtectedLocation - the unit lives in a read-only location.
	UninstallProtectedLocation UninstallErrorKind = iota

	// UninstallRemoveFailed - deleting the unit from disk failed.
	UninstallRemoveFailed
)

// String returns the snake_case name of the kind.
func (k UninstallErrorKind) String() string {
	switch k {
	case UninstallProtectedLocation:
		return "protected_location"
	case UninstallRemoveFailed:
		return "remove_failed"
	default:
		return "unknown"
	}
}

// UninstallError reports a failed uninstall.
type UninstallError struct {
	Plugin string
	Kind   UninstallErrorKind
	Err    error
}

func (e *UninstallError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("plugin %q: uninstall %s: %v", e.Plugin, e.Kind, e.Err)
	}
	return fmt.Sprintf("plugin %q: uninstall %s", e.Plugin, e.Kind)
}

func (e *UninstallError) Unwrap() error {
	return e.Err
}
