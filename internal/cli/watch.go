package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/aion-project/aion/internal/plugin"
	"github.com/aion-project/aion/internal/plugin/watch"
)

func (a *App) newWatchCommand() *cobra.Command {
	var (
		metricsAddr string
		delay       time.Duration
	)
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Load enabled plugins and reload them when their units change",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			m, err := a.Manager(ctx)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()

			unsubscribe := m.Subscribe(func(ev plugin.ManagerEvent) {
				switch ev.Type {
				case plugin.EventPluginLoaded, plugin.EventPluginUnloaded:
					fmt.Fprintf(out, "%s %s %s\n", time.Now().Format(time.TimeOnly), ev.Type, ev.Plugin)
				case plugin.EventPluginFailed:
					fmt.Fprintf(out, "%s %s %s: %s\n", time.Now().Format(time.TimeOnly), ev.Type, ev.Plugin, errorLine(ev.Error))
				}
			})
			defer unsubscribe()

			if err := m.LoadEnabled(ctx); err != nil {
				a.logger.Warn("some plugins failed to load", zap.Error(err))
			}

			w, err := watch.New(watch.WithDelay(delay), watch.WithLogger(a.logger))
			if err != nil {
				return fmt.Errorf("failed to create watcher: %w", err)
			}
			defer w.Close()

			watched := 0
			for _, loc := range m.Locations() {
				if loc.Writable {
					if err := os.MkdirAll(loc.Path, 0o755); err != nil {
						a.logger.Warn("plugin location not created", zap.String("path", loc.Path), zap.Error(err))
					}
				}
				if err := w.Add(loc.Path); err != nil {
					if errors.Is(err, watch.ErrPathNotExist) {
						a.logger.Warn("plugin location missing", zap.String("path", loc.Path))
						continue
					}
					return fmt.Errorf("failed to watch %s: %w", loc.Path, err)
				}
				watched++
			}

			if metricsAddr != "" {
				srv := &http.Server{
					Addr:              metricsAddr,
					Handler:           promhttp.HandlerFor(a.metrics, promhttp.HandlerOpts{}),
					ReadHeaderTimeout: 5 * time.Second,
				}
				go func() {
					if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
						a.logger.Error("metrics server failed", zap.Error(err))
					}
				}()
				defer func() {
					shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
					defer cancel()
					srv.Shutdown(shutdownCtx)
				}()
				fmt.Fprintf(out, "Serving metrics on %s/metrics\n", metricsAddr)
			}

			fmt.Fprintf(out, "Watching %d locations. Press Ctrl+C to stop.\n", watched)

			err = w.Run(ctx, func(c watch.Change) {
				a.logger.Debug("plugin units changed", zap.Strings("paths", c.Paths))
				if _, err := m.Refresh(ctx); err != nil {
					a.logger.Warn("plugin refresh incomplete", zap.Error(err))
				}
				if err := m.LoadEnabled(ctx); err != nil {
					a.logger.Warn("some plugins failed to load", zap.Error(err))
				}
			})
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		},
	}
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address (e.g. :9464)")
	cmd.Flags().DurationVar(&delay, "delay", watch.DefaultDelay, "quiet period before a burst of changes is applied")
	return cmd
}
