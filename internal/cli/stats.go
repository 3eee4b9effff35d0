package cli

import (
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

func (a *App) newStatsCommand() *cobra.Command {
	var (
		recent     int
		pluginName string
		prune      time.Duration
	)
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show execution statistics from the audit journal",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			if _, err := a.Manager(ctx); err != nil {
				return err
			}
			if a.journal == nil {
				return errJournalDisabled
			}
			out := cmd.OutOrStdout()

			if prune > 0 {
				n, err := a.journal.Prune(ctx, time.Now().Add(-prune))
				if err != nil {
					return err
				}
				success(out, "Pruned %d executions older than %s", n, prune)
			}

			summaries, err := a.journal.Summary(ctx)
			if err != nil {
				return err
			}
			if len(summaries) == 0 {
				color.New(color.FgYellow).Fprintln(out, "No executions recorded")
				return nil
			}

			w := tabwriter.NewWriter(out, 0, 0, 3, ' ', 0)
			fmt.Fprintln(w, "PLUGIN\tRUNS\tOK\tFAILED\tSUCCESS\tAVG\tTOP COMMAND\tLAST RUN")
			for _, s := range summaries {
				if pluginName != "" && s.Plugin != pluginName {
					continue
				}
				fmt.Fprintf(w, "%s\t%d\t%d\t%d\t%.0f%%\t%s\t%s\t%s\n",
					s.Plugin,
					s.Stats.Total,
					s.Stats.Successful,
					s.Stats.Failed,
					s.Stats.SuccessRate()*100,
					s.Stats.AverageDuration.Round(time.Microsecond),
					orDash(s.TopCommand),
					s.LastRunAt.Local().Format(time.DateTime))
			}
			if err := w.Flush(); err != nil {
				return err
			}

			if recent <= 0 {
				return nil
			}
			execs, err := a.journal.Recent(ctx, pluginName, recent)
			if err != nil {
				return err
			}
			fmt.Fprintln(out)
			w = tabwriter.NewWriter(out, 0, 0, 3, ' ', 0)
			fmt.Fprintln(w, "STARTED\tPLUGIN\tCOMMAND\tARGS\tSTATUS\tDURATION")
			for _, e := range execs {
				status := color.GreenString(string(e.Status))
				if e.Error != "" {
					status = color.RedString(string(e.Status))
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
					e.Started.Local().Format(time.DateTime),
					e.Plugin,
					e.Command,
					orDash(strings.Join(e.Args, " ")),
					status,
					e.Duration.Round(time.Microsecond))
			}
			return w.Flush()
		},
	}
	cmd.Flags().IntVar(&recent, "recent", 0, "also list the N most recent executions")
	cmd.Flags().StringVar(&pluginName, "plugin", "", "only show this plugin")
	cmd.Flags().DurationVar(&prune, "prune", 0, "first delete executions older than this (e.g. 720h)")
	return cmd
}
