// Package cli implements the aion command line.
package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"runtime"
	"runtime/debug"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/aion-project/aion/internal/audit"
	"github.com/aion-project/aion/internal/config"
	"github.com/aion-project/aion/internal/logging"
	"github.com/aion-project/aion/internal/plugin"
)

// Build information, set via ldflags.
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildDate = "unknown"
)

// App holds what the commands of one invocation share. The manager is
// created on first use so commands like version never touch the disk.
type App struct {
	stdout io.Writer
	stderr io.Writer

	configOpts []config.Option
	configFile string

	cfg      *config.Config
	logger   *zap.Logger
	metrics  *prometheus.Registry
	journal  *audit.Journal
	manager  *plugin.Manager
	fixedLog bool
}

// Option configures an App.
type Option func(*App)

// WithOutput redirects command output and error lines.
func WithOutput(stdout, stderr io.Writer) Option {
	return func(a *App) {
		a.stdout = stdout
		a.stderr = stderr
	}
}

// WithConfigOptions passes options through to config.Load.
func WithConfigOptions(opts ...config.Option) Option {
	return func(a *App) {
		a.configOpts = append(a.configOpts, opts...)
	}
}

// WithLogger uses logger instead of building one from configuration.
func WithLogger(logger *zap.Logger) Option {
	return func(a *App) {
		if logger != nil {
			a.logger = logger
			a.fixedLog = true
		}
	}
}

// New creates an App.
func New(opts ...Option) *App {
	a := &App{
		stdout:  os.Stdout,
		stderr:  os.Stderr,
		logger:  zap.NewNop(),
		metrics: prometheus.NewRegistry(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Run executes the command line and returns the process exit code.
func Run(ctx context.Context, args []string, opts ...Option) int {
	a := New(opts...)
	root := a.Command()
	root.SetArgs(args)
	root.SetOut(a.stdout)
	root.SetErr(a.stderr)

	err := root.ExecuteContext(ctx)
	a.Close(context.WithoutCancel(ctx))
	if err != nil {
		printError(a.stderr, err)
		return 1
	}
	return 0
}

// Command builds the root command.
func (a *App) Command() *cobra.Command {
	root := &cobra.Command{
		Use:   "aion",
		Short: "AION plugin host",
		Long: `AION discovers, loads and runs Lua plugins.

Plugins are found in the bundled plugin directories and in the user plugin
directory (~/.aion/plugins by default). Enable/disable choices are kept in
~/.aion/plugins_config.json.`,
		Version:       Version,
		SilenceErrors: true,
		SilenceUsage:  true,
	}
	root.SetVersionTemplate(fmt.Sprintf("{{.Name}} version {{.Version}}\nCommit: %s\nBuilt: %s\nGo version: %s\nPlatform: %s/%s\n",
		Commit, BuildDate, goVersion(), runtime.GOOS, runtime.GOARCH))

	root.PersistentFlags().StringVar(&a.configFile, "config", "", "config file (default is $HOME/.aion/config.yaml)")

	root.AddCommand(a.newPluginCommand())
	root.AddCommand(a.newVersionCommand())
	return root
}

// Config loads the configuration once.
func (a *App) Config() (*config.Config, error) {
	if a.cfg != nil {
		return a.cfg, nil
	}
	opts := a.configOpts
	if a.configFile != "" {
		opts = append(opts, config.WithConfigFile(a.configFile))
	}
	cfg, err := config.Load(opts...)
	if err != nil {
		return nil, err
	}
	if !a.fixedLog {
		logger, err := logging.New(cfg.Log)
		if err != nil {
			return nil, fmt.Errorf("failed to build logger: %w", err)
		}
		a.logger = logger
	}
	a.cfg = cfg
	return cfg, nil
}

// Manager returns the plugin manager, creating it and discovering the
// configured locations on first use.
func (a *App) Manager(ctx context.Context) (*plugin.Manager, error) {
	if a.manager != nil {
		return a.manager, nil
	}
	cfg, err := a.Config()
	if err != nil {
		return nil, err
	}

	opts := []plugin.ManagerOption{
		plugin.WithLogger(a.logger),
		plugin.WithLocations(cfg.Locations()...),
		plugin.WithConfigStore(plugin.NewFileStore(cfg.Plugins.ConfigFile)),
		plugin.WithCallTimeout(cfg.Plugins.ExecTimeout),
		plugin.WithMetrics(plugin.NewMetrics(a.metrics)),
	}
	if cfg.Plugins.AuditDB != "" {
		journal, err := audit.Open(cfg.Plugins.AuditDB, audit.WithLogger(a.logger))
		if err != nil {
			a.logger.Warn("audit journal unavailable", zap.String("path", cfg.Plugins.AuditDB), zap.Error(err))
		} else {
			a.journal = journal
			opts = append(opts, plugin.WithRecorder(journal))
		}
	}

	m := plugin.NewManager(opts...)
	if _, err := m.Discover(ctx); err != nil {
		return nil, err
	}
	a.manager = m
	return m, nil
}

// Close unloads live plugins and releases the journal.
func (a *App) Close(ctx context.Context) {
	if a.manager != nil {
		if err := a.manager.Shutdown(ctx); err != nil {
			a.logger.Warn("plugin shutdown incomplete", zap.Error(err))
		}
		a.manager = nil
	}
	if a.journal != nil {
		if err := a.journal.Close(); err != nil {
			a.logger.Warn("audit journal close failed", zap.Error(err))
		}
		a.journal = nil
	}
	_ = a.logger.Sync()
}

func goVersion() string {
	if info, ok := debug.ReadBuildInfo(); ok {
		return info.GoVersion
	}
	return "unknown"
}
