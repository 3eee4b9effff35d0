package cli

import (
	"errors"
	"fmt"
	"io"
	"slices"
	"strings"
	"text/tabwriter"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/aion-project/aion/internal/plugin"
)

func (a *App) newPluginCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "plugin",
		Aliases: []string{"plugins"},
		Short:   "Manage plugins",
		Example: `  # List plugins
  aion plugin list

  # Run a command
  aion plugin run example_commands hello Ada

  # Install a plugin from a file, directory or zip archive
  aion plugin install ./weather.lua

  # Disable a plugin
  aion plugin disable weather`,
	}

	cmd.AddCommand(a.newListCommand())
	cmd.AddCommand(a.newInfoCommand())
	cmd.AddCommand(a.newEnableCommand())
	cmd.AddCommand(a.newDisableCommand())
	cmd.AddCommand(a.newInstallCommand())
	cmd.AddCommand(a.newUninstallCommand())
	cmd.AddCommand(a.newRunCommand())
	cmd.AddCommand(a.newCommandsCommand())
	cmd.AddCommand(a.newDiscoverCommand())
	cmd.AddCommand(a.newStatsCommand())
	cmd.AddCommand(a.newWatchCommand())
	return cmd
}

func (a *App) newListCommand() *cobra.Command {
	var kind string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List registered plugins",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var kinds []plugin.Kind
			if kind != "" {
				k, err := plugin.ParseKind(kind)
				if err != nil {
					return err
				}
				kinds = append(kinds, k)
			}

			m, err := a.Manager(cmd.Context())
			if err != nil {
				return err
			}
			descs := m.List(kinds...)
			out := cmd.OutOrStdout()
			if len(descs) == 0 {
				color.New(color.FgYellow).Fprintln(out, "No plugins found")
				return nil
			}

			w := tabwriter.NewWriter(out, 0, 0, 3, ' ', 0)
			fmt.Fprintln(w, "NAME\tKIND\tVERSION\tENABLED\tSTATE\tSOURCE")
			for _, d := range descs {
				source := "user"
				if d.Bundled() {
					source = "bundled"
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
					d.Name, d.Kind, orDash(d.Version), yesNo(d.Enabled), m.State(d.Name), source)
			}
			return w.Flush()
		},
	}
	cmd.Flags().StringVar(&kind, "kind", "", "only list plugins of this kind ("+kindNames()+")")
	return cmd
}

func (a *App) newInfoCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "info NAME",
		Short: "Show a plugin's details",
		Long:  "Show a plugin's details. Enabled plugins are loaded to report what they provide.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			m, err := a.Manager(ctx)
			if err != nil {
				return err
			}
			d, ok := m.Descriptor(args[0])
			if !ok {
				return fmt.Errorf("plugin %q: %w", args[0], plugin.ErrPluginNotFound)
			}

			out := cmd.OutOrStdout()
			field := func(label, value string) {
				fmt.Fprintf(out, "%-14s %s\n", color.New(color.Bold).Sprint(label+":"), value)
			}
			field("Name", d.Name)
			field("Version", orDash(d.Version))
			field("Kind", string(d.Kind))
			field("Description", orDash(d.Description))
			field("Author", orDash(d.Author))
			field("Enabled", yesNo(d.Enabled))
			field("Bundled", yesNo(d.Bundled()))
			field("Source", d.Source.Path)
			field("Dependencies", orDash(strings.Join(d.Dependencies, ", ")))
			field("Capabilities", orDash(strings.Join(d.Capabilities, ", ")))

			if !d.Enabled {
				field("State", m.State(d.Name).String())
				return nil
			}
			host, err := m.Load(ctx, d.Name)
			if err != nil {
				field("State", m.State(d.Name).String())
				field("Error", errorLine(err))
				return nil
			}
			field("State", m.State(d.Name).String())

			switch host.Kind() {
			case plugin.KindCommand:
				field("Commands", orDash(strings.Join(host.Commands(), ", ")))
			case plugin.KindAIProvider:
				models, err := host.Models(ctx)
				if err != nil {
					a.logger.Warn("model list unavailable", zap.String("plugin", d.Name), zap.Error(err))
				}
				field("Models", orDash(strings.Join(models, ", ")))
			case plugin.KindExecutor:
				langs, err := host.Languages(ctx)
				if err != nil {
					a.logger.Warn("language list unavailable", zap.String("plugin", d.Name), zap.Error(err))
				}
				field("Languages", orDash(strings.Join(langs, ", ")))
			}
			return nil
		},
	}
}

func (a *App) newEnableCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "enable NAME",
		Short: "Enable a plugin and load it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := a.Manager(cmd.Context())
			if err != nil {
				return err
			}
			if err := m.Enable(cmd.Context(), args[0]); err != nil {
				return err
			}
			success(cmd.OutOrStdout(), "Enabled %s", args[0])
			return nil
		},
	}
}

func (a *App) newDisableCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "disable NAME",
		Short: "Disable a plugin",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := a.Manager(cmd.Context())
			if err != nil {
				return err
			}
			if err := m.Disable(cmd.Context(), args[0]); err != nil {
				return err
			}
			success(cmd.OutOrStdout(), "Disabled %s", args[0])
			return nil
		},
	}
}

func (a *App) newCommandsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "commands",
		Short: "List the commands of enabled command plugins",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			m, err := a.Manager(ctx)
			if err != nil {
				return err
			}
			if err := m.LoadEnabled(ctx); err != nil {
				a.logger.Warn("some plugins failed to load", zap.Error(err))
			}

			commands := m.ListCommands()
			out := cmd.OutOrStdout()
			if len(commands) == 0 {
				color.New(color.FgYellow).Fprintln(out, "No commands available")
				return nil
			}
			names := make([]string, 0, len(commands))
			for name := range commands {
				names = append(names, name)
			}
			slices.Sort(names)
			for _, name := range names {
				fmt.Fprintf(out, "%s: %s\n", color.CyanString(name), strings.Join(commands[name], ", "))
			}
			return nil
		},
	}
}

func (a *App) newDiscoverCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "discover",
		Short: "Scan plugin locations and report units that fail to probe",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			m, err := a.Manager(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, loc := range m.Locations() {
				mode := "read-only"
				if loc.Writable {
					mode = "writable"
				}
				fmt.Fprintf(out, "%s (%s)\n", loc.Path, mode)
			}
			for _, d := range m.List() {
				fmt.Fprintf(out, "  %s %s %s\n", color.GreenString("✓"), d.Name, d.Source.Path)
			}
			probs := m.ProbeErrors()
			for _, pe := range probs {
				fmt.Fprintf(out, "  %s %s\n", color.RedString("✗"), pe.Path)
			}
			if len(probs) > 0 {
				return &plugin.DiscoveryError{Errors: probs}
			}
			return nil
		},
	}
}

func success(w io.Writer, format string, args ...any) {
	fmt.Fprintf(w, "%s %s\n", color.GreenString("✓"), fmt.Sprintf(format, args...))
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func kindNames() string {
	names := make([]string, len(plugin.Kinds))
	for i, k := range plugin.Kinds {
		names[i] = string(k)
	}
	return strings.Join(names, ", ")
}

var errJournalDisabled = errors.New("audit journal disabled (plugins.audit_db is empty)")
