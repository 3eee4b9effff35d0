package cli

import (
	"github.com/spf13/cobra"
)

func (a *App) newInstallCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "install PATH",
		Short: "Install a plugin from a .lua file, unit directory or .zip archive",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := a.Manager(cmd.Context())
			if err != nil {
				return err
			}
			d, err := m.Install(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			success(cmd.OutOrStdout(), "Installed %s %s into %s", d.Name, orDash(d.Version), d.Source.Path)
			return nil
		},
	}
}

func (a *App) newUninstallCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "uninstall NAME",
		Aliases: []string{"remove"},
		Short:   "Uninstall a user plugin",
		Long:    "Uninstall a plugin from the user plugin directory. Bundled plugins cannot be uninstalled; disable them instead.",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := a.Manager(cmd.Context())
			if err != nil {
				return err
			}
			if err := m.Uninstall(cmd.Context(), args[0]); err != nil {
				return err
			}
			success(cmd.OutOrStdout(), "Uninstalled %s", args[0])
			return nil
		},
	}
}
