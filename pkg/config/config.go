package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	badgercat "github.com/marmos91/snapfs/pkg/catalog/badger"
	"github.com/marmos91/snapfs/pkg/ctldir"
	"github.com/marmos91/snapfs/pkg/mounter"
)

// Config represents the complete snapfs configuration.
//
// This structure captures all configurable aspects of the snapshot
// automount daemon including:
//   - Logging configuration
//   - Daemon-wide settings
//   - Snapshot catalog selection and configuration
//   - Snapshot directory (automount) behavior
//   - Mount helper invocation settings
//   - Supervised dataset definitions
//
// Configuration sources (in order of precedence):
//  1. CLI flags (highest priority)
//  2. Environment variables (SNAPFS_*)
//  3. Configuration file (YAML or TOML)
//  4. Default values (lowest priority)
type Config struct {
	// Logging controls log output behavior
	Logging LoggingConfig `mapstructure:"logging"`

	// Server contains daemon-wide settings
	Server ServerConfig `mapstructure:"server"`

	// Catalog specifies the snapshot catalog type and type-specific
	// configuration
	Catalog CatalogConfig `mapstructure:"catalog"`

	// Snapdir controls snapshot automount behavior
	Snapdir SnapdirConfig `mapstructure:"snapdir"`

	// Mounter controls mount helper invocation
	Mounter mounter.Config `mapstructure:"mounter"`

	// Metrics controls the Prometheus metrics endpoint
	Metrics MetricsConfig `mapstructure:"metrics"`

	// Datasets lists the datasets whose snapshot directories are
	// supervised
	Datasets []DatasetConfig `mapstructure:"datasets" validate:"dive"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	// Level is the minimum log level to output
	// Valid values: DEBUG, INFO, WARN, ERROR (case-insensitive, normalized to uppercase)
	Level string `mapstructure:"level" validate:"required,oneof=DEBUG INFO WARN ERROR debug info warn error"`

	// Output specifies where logs are written
	// Valid values: stdout, stderr, or a file path
	Output string `mapstructure:"output" validate:"required"`
}

// ServerConfig contains daemon-wide settings.
type ServerConfig struct {
	// ShutdownTimeout is the maximum time to wait for graceful shutdown
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"required,gt=0"`
}

// CatalogConfig specifies snapshot catalog configuration.
//
// The Type field determines which catalog implementation is used.
// Only the corresponding type-specific configuration section is used.
type CatalogConfig struct {
	// Type specifies which catalog implementation to use
	// Valid values: memory, badger
	Type string `mapstructure:"type" validate:"required,oneof=memory badger"`

	// Badger contains BadgerDB-specific configuration
	// Only used when Type = "badger"
	Badger badgercat.Config `mapstructure:"badger"`
}

// SnapdirConfig controls snapshot automount behavior.
type SnapdirConfig struct {
	// ExpireAfterSeconds is how long an automounted snapshot stays
	// mounted without activity before it is unmounted.
	// Values <= 0 disable automatic expiry.
	ExpireAfterSeconds int `mapstructure:"expire_after_seconds"`

	// AdminMutationsEnabled allows snapshots to be created, destroyed,
	// and renamed through the snapshot directory (mkdir/rmdir/rename)
	AdminMutationsEnabled bool `mapstructure:"admin_mutations_enabled"`

	// DenySetuidOnAutomount mounts snapshots nosuid
	DenySetuidOnAutomount bool `mapstructure:"deny_setuid_on_automount"`

	// DirectoryName is the snapshot directory path relative to each
	// dataset mountpoint
	DirectoryName string `mapstructure:"directory_name" validate:"required"`
}

// MetricsConfig controls the Prometheus metrics endpoint.
type MetricsConfig struct {
	// Enabled turns metrics collection and the HTTP endpoint on
	Enabled bool `mapstructure:"enabled"`

	// Port to serve /metrics on
	Port int `mapstructure:"port" validate:"gte=0,lte=65535"`
}

// DatasetConfig defines a single supervised dataset.
type DatasetConfig struct {
	// Pool is the pool name (e.g., "tank")
	Pool string `mapstructure:"pool" validate:"required"`

	// Name is the full dataset name (e.g., "tank/data")
	Name string `mapstructure:"name" validate:"required"`

	// Mountpoint is the absolute path the dataset is mounted at
	Mountpoint string `mapstructure:"mountpoint" validate:"required,startswith=/"`
}

// Load loads configuration from file, environment, and defaults.
//
// Configuration precedence (highest to lowest):
//  1. Environment variables (SNAPFS_*)
//  2. Configuration file
//  3. Default values
//
// Parameters:
//   - configPath: Path to config file (empty string uses default location)
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: Configuration loading or validation error
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setupViper(v, configPath)

	if err := readConfigFile(v, configPath); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	ApplyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

// setupViper configures viper with environment variables and config file settings.
func setupViper(v *viper.Viper, configPath string) {
	// Environment variables use the SNAPFS_ prefix and underscores
	// Example: SNAPFS_LOGGING_LEVEL=DEBUG
	v.SetEnvPrefix("SNAPFS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Registered as a viper default instead of zero-filled after
	// unmarshalling: an explicit 0 in the file disables expiry and
	// must stay distinguishable from the knob being absent.
	v.SetDefault("snapdir.expire_after_seconds", ctldir.DefaultExpireAfterSeconds)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		// Use default location: $XDG_CONFIG_HOME/snapfs/config.{yaml,toml}
		configDir := getConfigDir()
		v.AddConfigPath(configDir)
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}
}

// readConfigFile reads the configuration file if it exists.
func readConfigFile(v *viper.Viper, configPath string) error {
	if err := v.ReadInConfig(); err != nil {
		// A missing config file is acceptable - use defaults
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}

	return nil
}

// getConfigDir returns the configuration directory path.
//
// Uses XDG_CONFIG_HOME if set, otherwise ~/.config, or falls back to
// current directory (.) if home directory cannot be determined.
func getConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "snapfs")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}

	return filepath.Join(home, ".config", "snapfs")
}

// GetDefaultConfigPath returns the default configuration file path.
func GetDefaultConfigPath() string {
	return filepath.Join(getConfigDir(), "config.yaml")
}
