package config

import (
	"strings"
	"time"

	badgercat "github.com/marmos91/snapfs/pkg/catalog/badger"
	"github.com/marmos91/snapfs/pkg/ctldir"
	"github.com/marmos91/snapfs/pkg/mounter"
)

// ApplyDefaults sets default values for any unspecified configuration fields.
//
// This function is called after loading configuration from file and environment
// variables to fill in any missing values with sensible defaults.
//
// Default Strategy:
//   - Zero values (0, "", false, nil) are replaced with defaults
//   - Explicit values are preserved
//   - snapdir.expire_after_seconds is exempt: 0 and negative values
//     mean "expiry disabled", so its default is registered with viper
//     in setupViper where absence and 0 are distinguishable
func ApplyDefaults(cfg *Config) {
	applyLoggingDefaults(&cfg.Logging)
	applyServerDefaults(&cfg.Server)
	applyCatalogDefaults(&cfg.Catalog)
	applySnapdirDefaults(&cfg.Snapdir)
	applyMounterDefaults(&cfg.Mounter)
	applyMetricsDefaults(&cfg.Metrics)

	if cfg.Datasets == nil {
		cfg.Datasets = []DatasetConfig{}
	}
}

// applyLoggingDefaults sets logging defaults and normalizes values.
func applyLoggingDefaults(cfg *LoggingConfig) {
	if cfg.Level == "" {
		cfg.Level = "INFO"
	}
	// Normalize log level to uppercase for consistent internal representation
	cfg.Level = strings.ToUpper(cfg.Level)

	if cfg.Output == "" {
		cfg.Output = "stdout"
	}
}

// applyServerDefaults sets daemon-wide defaults.
func applyServerDefaults(cfg *ServerConfig) {
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 30 * time.Second
	}
}

// applyCatalogDefaults sets catalog defaults.
func applyCatalogDefaults(cfg *CatalogConfig) {
	if cfg.Type == "" {
		cfg.Type = "memory"
	}
	if cfg.Badger.Dir == "" {
		cfg.Badger.Dir = "/var/lib/snapfs/catalog"
	}
}

// applySnapdirDefaults sets snapshot automount defaults.
//
// ExpireAfterSeconds is never touched here: any value <= 0 is an
// explicit "never expire" and must survive. The default comes from
// viper (setupViper) when the knob is absent from file and
// environment.
func applySnapdirDefaults(cfg *SnapdirConfig) {
	if cfg.DirectoryName == "" {
		cfg.DirectoryName = ctldir.DefaultDirectoryName
	}
}

// applyMounterDefaults sets mount helper defaults.
func applyMounterDefaults(cfg *mounter.Config) {
	if cfg.MountPath == "" {
		cfg.MountPath = "mount"
	}
	if cfg.UmountPath == "" {
		cfg.UmountPath = "umount"
	}
	if cfg.ExportfsPath == "" {
		cfg.ExportfsPath = "/usr/sbin/exportfs"
	}
	if cfg.HelperTimeout == 0 {
		cfg.HelperTimeout = time.Minute
	}
}

// applyMetricsDefaults sets metrics endpoint defaults.
func applyMetricsDefaults(cfg *MetricsConfig) {
	// Enabled defaults to false

	if cfg.Port == 0 {
		cfg.Port = 9090
	}
}

// GetDefaultConfig returns a Config struct with all default values applied.
//
// This is useful for:
//   - Generating sample configuration files
//   - Testing
//   - Documentation
func GetDefaultConfig() *Config {
	cfg := &Config{
		Logging: LoggingConfig{},
		Server:  ServerConfig{},
		Catalog: CatalogConfig{
			Badger: badgercat.Config{},
		},
		Snapdir: SnapdirConfig{
			ExpireAfterSeconds: ctldir.DefaultExpireAfterSeconds,
		},
		Mounter: mounter.Config{},
		Metrics: MetricsConfig{},
	}

	ApplyDefaults(cfg)
	return cfg
}
