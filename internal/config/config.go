package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/aion-project/aion/internal/plugin"
)

// EnvPrefix prefixes every environment override, e.g. AION_LOG_LEVEL.
const EnvPrefix = "AION"

// Setting keys.
const (
	KeyBundledDirs = "plugins.bundled_dirs"
	KeyUserDir     = "plugins.user_dir"
	KeyConfigFile  = "plugins.config_file"
	KeyAuditDB     = "plugins.audit_db"
	KeyExecTimeout = "plugins.exec_timeout"
	KeyLogLevel    = "log.level"
	KeyLogFormat   = "log.format"
	KeyLogOutput   = "log.output_paths"
)

// Config is the resolved AION configuration.
type Config struct {
	Plugins PluginsConfig `mapstructure:"plugins"`
	Log     LogConfig     `mapstructure:"log"`

	// File is the config file that was read, empty when none was found.
	File string `mapstructure:"-"`
}

// PluginsConfig locates plugin units and their state.
type PluginsConfig struct {
	// BundledDirs are read-only locations, scanned first.
	BundledDirs []string `mapstructure:"bundled_dirs"`
	// UserDir is the writable location installs go to.
	UserDir string `mapstructure:"user_dir"`
	// ConfigFile persists enable/disable overrides.
	ConfigFile string `mapstructure:"config_file"`
	// AuditDB is the execution journal. Empty disables the journal.
	AuditDB string `mapstructure:"audit_db"`
	// ExecTimeout bounds each call into a plugin. Zero means no bound.
	ExecTimeout time.Duration `mapstructure:"exec_timeout"`
}

// LogConfig configures the zap logger.
type LogConfig struct {
	Level       string   `mapstructure:"level"`
	Format      string   `mapstructure:"format"`
	OutputPaths []string `mapstructure:"output_paths"`
}

// Option configures Load.
type Option func(*loader)

type loader struct {
	configFile string
	homeDir    string
	envFiles   []string
}

// WithConfigFile reads path instead of searching for config.{yaml,toml,json}.
func WithConfigFile(path string) Option {
	return func(l *loader) {
		l.configFile = path
	}
}

// WithHomeDir sets the directory holding .aion. Defaults to the user's home.
func WithHomeDir(dir string) Option {
	return func(l *loader) {
		l.homeDir = dir
	}
}

// WithEnvFiles sets the dotenv files loaded before the environment is read.
// Missing files are ignored. Defaults to .env in the working directory.
func WithEnvFiles(files ...string) Option {
	return func(l *loader) {
		l.envFiles = files
	}
}

// Load resolves the configuration from defaults, the config file, dotenv
// files and AION_ environment variables, in increasing precedence.
func Load(opts ...Option) (*Config, error) {
	l := &loader{envFiles: []string{".env"}}
	for _, opt := range opts {
		opt(l)
	}
	if l.homeDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			home = "."
		}
		l.homeDir = home
	}

	for _, f := range l.envFiles {
		// existing environment variables win over dotenv files
		_ = godotenv.Load(f)
	}

	v := viper.New()
	setDefaults(v, l.homeDir)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if l.configFile != "" {
		if _, err := os.Stat(l.configFile); err != nil {
			return nil, fmt.Errorf("%w: %s", ErrFileNotFound, l.configFile)
		}
		v.SetConfigFile(l.configFile)
	} else {
		v.AddConfigPath(filepath.Join(l.homeDir, ".aion"))
		v.SetConfigName("config")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, &ParseError{Path: v.ConfigFileUsed(), Err: err}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg.File = v.ConfigFileUsed()
	cfg.expandPaths(l.homeDir)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper, home string) {
	base := filepath.Join(home, ".aion")
	v.SetDefault(KeyBundledDirs, defaultBundledDirs())
	v.SetDefault(KeyUserDir, filepath.Join(base, "plugins"))
	v.SetDefault(KeyConfigFile, filepath.Join(base, "plugins_config.json"))
	v.SetDefault(KeyAuditDB, filepath.Join(base, "audit.db"))
	v.SetDefault(KeyExecTimeout, "0s")
	v.SetDefault(KeyLogLevel, "warn")
	v.SetDefault(KeyLogFormat, "console")
	v.SetDefault(KeyLogOutput, []string{"stderr"})
}

// defaultBundledDirs returns the plugins directory next to the executable
// when there is one.
func defaultBundledDirs() []string {
	exe, err := os.Executable()
	if err != nil {
		return []string{}
	}
	dir := filepath.Join(filepath.Dir(exe), "plugins")
	if info, err := os.Stat(dir); err == nil && info.IsDir() {
		return []string{dir}
	}
	return []string{}
}

func (c *Config) expandPaths(home string) {
	for i, d := range c.Plugins.BundledDirs {
		c.Plugins.BundledDirs[i] = expandHome(d, home)
	}
	c.Plugins.UserDir = expandHome(c.Plugins.UserDir, home)
	c.Plugins.ConfigFile = expandHome(c.Plugins.ConfigFile, home)
	c.Plugins.AuditDB = expandHome(c.Plugins.AuditDB, home)
}

func expandHome(path, home string) string {
	if path == "~" {
		return home
	}
	if strings.HasPrefix(path, "~/") {
		return filepath.Join(home, path[2:])
	}
	return path
}

var (
	logLevels  = []string{"debug", "info", "warn", "error"}
	logFormats = []string{"console", "json"}
)

// Validate checks the settings that cannot be defaulted.
func (c *Config) Validate() error {
	var errs []error
	if c.Plugins.UserDir == "" {
		errs = append(errs, &ValidationError{Key: KeyUserDir, Message: "must not be empty", Value: c.Plugins.UserDir})
	}
	if c.Plugins.ConfigFile == "" {
		errs = append(errs, &ValidationError{Key: KeyConfigFile, Message: "must not be empty", Value: c.Plugins.ConfigFile})
	}
	if c.Plugins.ExecTimeout < 0 {
		errs = append(errs, &ValidationError{Key: KeyExecTimeout, Message: "must not be negative", Value: c.Plugins.ExecTimeout})
	}
	if !slices.Contains(logLevels, c.Log.Level) {
		errs = append(errs, &ValidationError{Key: KeyLogLevel, Message: "must be one of " + strings.Join(logLevels, ", "), Value: c.Log.Level})
	}
	if !slices.Contains(logFormats, c.Log.Format) {
		errs = append(errs, &ValidationError{Key: KeyLogFormat, Message: "must be one of " + strings.Join(logFormats, ", "), Value: c.Log.Format})
	}
	return errors.Join(errs...)
}

// Locations returns the plugin search locations: bundled directories
// first, read-only, then the writable user directory.
func (c *Config) Locations() []plugin.Location {
	locs := make([]plugin.Location, 0, len(c.Plugins.BundledDirs)+1)
	for _, d := range c.Plugins.BundledDirs {
		if d == "" || d == c.Plugins.UserDir {
			continue
		}
		locs = append(locs, plugin.Location{Path: d})
	}
	return append(locs, plugin.Location{Path: c.Plugins.UserDir, Writable: true})
}
