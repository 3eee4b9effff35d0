package cli

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"

	"github.com/aion-project/aion/internal/plugin"
)

// printError writes err as a single "error: ..." line.
func printError(w io.Writer, err error) {
	color.New(color.FgRed, color.Bold).Fprint(w, "error:")
	fmt.Fprintln(w, " "+errorLine(err))
}

// errorLine names the plugin and the error kind where the error carries
// them. Causes are cut to their first line so Lua tracebacks stay out.
func errorLine(err error) string {
	var (
		execErr      *plugin.ExecError
		loadErr      *plugin.LoadError
		installErr   *plugin.InstallError
		uninstallErr *plugin.UninstallError
		persistErr   *plugin.PersistenceError
	)
	switch {
	case errors.As(err, &persistErr):
		return firstLine(persistErr.Error())

	case errors.As(err, &execErr):
		line := fmt.Sprintf("plugin %q: %s", execErr.Plugin, execErr.Kind)
		if execErr.Kind == plugin.ExecUnknownCommand {
			line += fmt.Sprintf(" %q", execErr.Command)
		}
		return withCause(line, execErr.Cause)

	case errors.As(err, &loadErr):
		return withCause(fmt.Sprintf("plugin %q: %s", loadErr.Plugin, loadErr.Kind), loadErr.Cause)

	case errors.As(err, &uninstallErr):
		return withCause(fmt.Sprintf("plugin %q: %s", uninstallErr.Plugin, uninstallErr.Kind), uninstallErr.Err)

	case errors.As(err, &installErr):
		return withCause(fmt.Sprintf("install %s: %s", installErr.Path, installErr.Kind), installErr.Err)
	}
	return firstLine(err.Error())
}

func withCause(line string, cause error) string {
	if cause == nil {
		return line
	}
	return line + ": " + firstLine(cause.Error())
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return strings.TrimSpace(s[:i])
	}
	return s
}
