package cli

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"
)

func (a *App) newRunCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "run NAME COMMAND [ARGS...]",
		Short: "Run a plugin command",
		Long:  "Load a command plugin (and its dependencies) and run one of its commands. Extra arguments are passed to the command as strings.",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			m, err := a.Manager(ctx)
			if err != nil {
				return err
			}
			name, command := args[0], args[1]
			if _, err := m.Load(ctx, name); err != nil {
				return err
			}
			result, err := m.Execute(ctx, name, command, args[2:])
			if err != nil {
				return err
			}
			return printResult(cmd.OutOrStdout(), result)
		},
	}
}

// printResult prints strings and numbers as they are and tables as JSON.
func printResult(w io.Writer, result any) error {
	switch v := result.(type) {
	case nil:
		return nil
	case string:
		_, err := fmt.Fprintln(w, v)
		return err
	case map[string]any, []any:
		data, err := json.MarshalIndent(v, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to encode result: %w", err)
		}
		_, err = fmt.Fprintln(w, string(data))
		return err
	default:
		_, err := fmt.Fprintln(w, v)
		return err
	}
}
