// Package config loads satchel settings from satchel.toml, SATCHEL_*
// environment variables and built-in defaults, in that order of precedence
// (environment wins over the file).
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/spf13/viper"
)

// FileName is the config file looked up in the satchel home directory.
const FileName = "satchel.toml"

// EnvPrefix prefixes every environment override, e.g. SATCHEL_REMOTE_URL.
const EnvPrefix = "SATCHEL"

// Remote drivers.
const (
	DriverPostgres = "postgres"
	DriverSnapshot = "snapshot"
)

// Config is the resolved configuration.
type Config struct {
	DataDir     string `mapstructure:"data_dir"`
	DBPath      string `mapstructure:"db_path"`
	ProfilePath string `mapstructure:"profile_path"`

	Remote    RemoteConfig    `mapstructure:"remote"`
	Media     MediaConfig     `mapstructure:"media"`
	Dashboard DashboardConfig `mapstructure:"dashboard"`
	Daemon    DaemonConfig    `mapstructure:"daemon"`
	Log       LogConfig       `mapstructure:"log"`

	// File is the config file that was read, empty when none was found.
	File string `mapstructure:"-"`
}

// RemoteConfig selects and tunes the curriculum source.
type RemoteConfig struct {
	Driver   string        `mapstructure:"driver"`
	URL      string        `mapstructure:"url"`
	Snapshot string        `mapstructure:"snapshot"`
	Timeout  time.Duration `mapstructure:"timeout"`
	MaxConns int32         `mapstructure:"max_conns"`
}

// MediaConfig tunes lesson media downloads.
type MediaConfig struct {
	BaseURL  string        `mapstructure:"base_url"`
	Timeout  time.Duration `mapstructure:"timeout"`
	MaxBytes int64         `mapstructure:"max_bytes"`
}

type DashboardConfig struct {
	Port int `mapstructure:"port"`
}

type DaemonConfig struct {
	Debounce        time.Duration `mapstructure:"debounce"`
	RefreshInterval time.Duration `mapstructure:"refresh_interval"`
}

// LogConfig controls where logs go. An empty File logs to stderr.
type LogConfig struct {
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
}

// Home returns the satchel home directory: $SATCHEL_HOME, else ~/.satchel.
func Home() string {
	if dir := os.Getenv(EnvPrefix + "_HOME"); dir != "" {
		return dir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".satchel"
	}
	return filepath.Join(home, ".satchel")
}

// defaults maps every key to its default value. Durations are strings so the
// same table can be written to a TOML file.
func defaults(home string) map[string]any {
	return map[string]any{
		"data_dir":                home,
		"db_path":                 "",
		"profile_path":            "",
		"remote.driver":           DriverPostgres,
		"remote.url":              "",
		"remote.snapshot":         "",
		"remote.timeout":          "30s",
		"remote.max_conns":        4,
		"media.base_url":          "",
		"media.timeout":           "5m",
		"media.max_bytes":         256 << 20,
		"dashboard.port":          8080,
		"daemon.debounce":         "250ms",
		"daemon.refresh_interval": "15m",
		"log.file":                "",
		"log.max_size_mb":         50,
		"log.max_backups":         3,
		"log.max_age_days":        28,
	}
}

func newViper(home string) *viper.Viper {
	v := viper.New()
	for key, value := range defaults(home) {
		v.SetDefault(key, value)
	}
	v.SetConfigType("toml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Load reads configuration. When path is empty, satchel.toml is looked up in
// Home(); a missing file there is not an error. An explicit path must exist.
func Load(path string) (*Config, error) {
	home := Home()
	v := newViper(home)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName(strings.TrimSuffix(FileName, filepath.Ext(FileName)))
		v.AddConfigPath(home)
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	cfg.File = v.ConfigFileUsed()
	cfg.resolvePaths()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// resolvePaths fills file locations derived from DataDir.
func (c *Config) resolvePaths() {
	if c.DBPath == "" {
		c.DBPath = filepath.Join(c.DataDir, "satchel.db")
	}
	if c.ProfilePath == "" {
		c.ProfilePath = filepath.Join(c.DataDir, "profile.json")
	}
}

// Validate checks values that would otherwise fail later at use.
func (c *Config) Validate() error {
	var errs []error

	if c.DataDir == "" {
		errs = append(errs, fmt.Errorf("data_dir is required"))
	}
	switch c.Remote.Driver {
	case DriverPostgres, DriverSnapshot:
	default:
		errs = append(errs, fmt.Errorf("remote.driver must be %q or %q, got %q",
			DriverPostgres, DriverSnapshot, c.Remote.Driver))
	}
	if c.Remote.Timeout <= 0 {
		errs = append(errs, fmt.Errorf("remote.timeout must be positive"))
	}
	if c.Remote.MaxConns < 1 {
		errs = append(errs, fmt.Errorf("remote.max_conns must be at least 1"))
	}
	if c.Media.Timeout <= 0 {
		errs = append(errs, fmt.Errorf("media.timeout must be positive"))
	}
	if c.Media.MaxBytes <= 0 {
		errs = append(errs, fmt.Errorf("media.max_bytes must be positive"))
	}
	if c.Dashboard.Port < 0 || c.Dashboard.Port > 65535 {
		errs = append(errs, fmt.Errorf("dashboard.port must be between 0 and 65535"))
	}
	if c.Daemon.Debounce < 0 || c.Daemon.RefreshInterval < 0 {
		errs = append(errs, fmt.Errorf("daemon intervals must not be negative"))
	}
	if c.Log.MaxSizeMB < 0 || c.Log.MaxBackups < 0 || c.Log.MaxAgeDays < 0 {
		errs = append(errs, fmt.Errorf("log rotation limits must not be negative"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}

// RequireRemote checks that the selected driver has a source to read from.
// Commands that never touch the remote skip this check.
func (c *Config) RequireRemote() error {
	switch c.Remote.Driver {
	case DriverPostgres:
		if c.Remote.URL == "" {
			return fmt.Errorf("remote.url is required for the postgres driver (set SATCHEL_REMOTE_URL)")
		}
	case DriverSnapshot:
		if c.Remote.Snapshot == "" {
			return fmt.Errorf("remote.snapshot is required for the snapshot driver (set SATCHEL_REMOTE_SNAPSHOT)")
		}
	}
	return nil
}

// DefaultDocument returns the default settings nested by table, ready to be
// encoded as TOML.
func DefaultDocument(home string) map[string]any {
	doc := make(map[string]any)
	for key, value := range defaults(home) {
		table, name, nested := strings.Cut(key, ".")
		if !nested {
			doc[key] = value
			continue
		}
		sub, ok := doc[table].(map[string]any)
		if !ok {
			sub = make(map[string]any)
			doc[table] = sub
		}
		sub[name] = value
	}
	return doc
}

// WriteDefault writes a config file holding every default. An existing file
// is only replaced when force is set.
func WriteDefault(path string, force bool) error {
	if _, err := os.Stat(path); err == nil && !force {
		return fmt.Errorf("%s already exists (use --force to overwrite)", path)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	// #nosec G304 - controlled path from CLI
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	if err := toml.NewEncoder(f).Encode(DefaultDocument(Home())); err != nil {
		_ = f.Close()
		return fmt.Errorf("failed to write config: %w", err)
	}
	return f.Close()
}

// Settings returns the effective configuration as a flat key/value map for
// display.
func (c *Config) Settings() map[string]any {
	return map[string]any{
		"config_file":             c.File,
		"data_dir":                c.DataDir,
		"db_path":                 c.DBPath,
		"profile_path":            c.ProfilePath,
		"remote.driver":           c.Remote.Driver,
		"remote.url":              redactURL(c.Remote.URL),
		"remote.snapshot":         c.Remote.Snapshot,
		"remote.timeout":          c.Remote.Timeout.String(),
		"remote.max_conns":        c.Remote.MaxConns,
		"media.base_url":          c.Media.BaseURL,
		"media.timeout":           c.Media.Timeout.String(),
		"media.max_bytes":         c.Media.MaxBytes,
		"dashboard.port":          c.Dashboard.Port,
		"daemon.debounce":         c.Daemon.Debounce.String(),
		"daemon.refresh_interval": c.Daemon.RefreshInterval.String(),
		"log.file":                c.Log.File,
		"log.max_size_mb":         c.Log.MaxSizeMB,
		"log.max_backups":         c.Log.MaxBackups,
		"log.max_age_days":        c.Log.MaxAgeDays,
	}
}

// redactURL hides the password of a connection URL.
func redactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	return u.Redacted()
}
