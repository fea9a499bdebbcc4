// Package config handles configuration loading using viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the top-level static configuration.
// Maps to the `fedlink:` root key in YAML.
type Config struct {
	Federate FederateConfig `mapstructure:"federate"`
	RTI      RTIConfig      `mapstructure:"rti"`
	Log      LogConfig      `mapstructure:"log"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
}

// FederateConfig identifies this federate and bounds its execution.
type FederateConfig struct {
	// ID is this federate's identifier, assigned by the federation layout.
	// Must fit in 16 bits; it travels in every message header.
	ID int `mapstructure:"id"`

	// Duration is an optional run duration relative to the negotiated start
	// time (e.g. "30s"). Empty means unbounded execution.
	Duration string `mapstructure:"duration"`
}

// RTIConfig describes the runtime-infrastructure coordinator endpoint and the
// connect retry policy.
type RTIConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`

	// RetryInterval is the fixed wait between failed connect attempts.
	RetryInterval string `mapstructure:"retry_interval"`
	// MaxRetries is the maximum number of connect attempts before giving up.
	MaxRetries int `mapstructure:"max_retries"`

	// Federates is the expected federation size. Only the `fedlink rti`
	// broker consults it.
	Federates int `mapstructure:"federates"`
}

// LogConfig contains logging settings.
type LogConfig struct {
	Level   string           `mapstructure:"level"`  // debug / info / warn / error
	Format  string           `mapstructure:"format"` // json / text
	Outputs LogOutputsConfig `mapstructure:"outputs"`
}

// LogOutputsConfig contains structured log output destinations.
type LogOutputsConfig struct {
	File FileOutputConfig `mapstructure:"file"`
}

// FileOutputConfig configures file log output.
type FileOutputConfig struct {
	Enabled  bool           `mapstructure:"enabled"`
	Path     string         `mapstructure:"path"`
	Rotation RotationConfig `mapstructure:"rotation"`
}

// RotationConfig configures log file rotation.
type RotationConfig struct {
	MaxSizeMB  int  `mapstructure:"max_size_mb"`
	MaxAgeDays int  `mapstructure:"max_age_days"`
	MaxBackups int  `mapstructure:"max_backups"`
	Compress   bool `mapstructure:"compress"`
}

// MetricsConfig contains Prometheus metrics settings.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Listen  string `mapstructure:"listen"`
	Path    string `mapstructure:"path"`

	// HTTP timeouts for the scrape endpoint.
	ReadTimeout  string `mapstructure:"read_timeout"`
	WriteTimeout string `mapstructure:"write_timeout"`
	IdleTimeout  string `mapstructure:"idle_timeout"`
}

// configRoot is the wrapper matching the YAML structure `fedlink: ...`.
type configRoot struct {
	Fedlink Config `mapstructure:"fedlink"`
}

// Load loads configuration from file.
// The YAML file uses `fedlink:` as root key; env vars use the FEDLINK_ prefix
// (e.g. FEDLINK_RTI_HOST).
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// Environment variable overrides. The `fedlink.` key prefix maps to
	// FEDLINK_ via the key replacer (e.g. "fedlink.rti.host" → FEDLINK_RTI_HOST).
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	var root configRoot
	if err := v.Unmarshal(&root); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg := root.Fedlink

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets default values. All keys use the "fedlink." prefix to
// match the YAML root wrapper.
func setDefaults(v *viper.Viper) {
	// RTI defaults; the retry policy matches the reference runtime's
	// constants (2 second interval, 500 attempts).
	v.SetDefault("fedlink.rti.host", "localhost")
	v.SetDefault("fedlink.rti.port", 15045)
	v.SetDefault("fedlink.rti.retry_interval", "2s")
	v.SetDefault("fedlink.rti.max_retries", 500)
	v.SetDefault("fedlink.rti.federates", 1)

	// Log defaults
	v.SetDefault("fedlink.log.level", "info")
	v.SetDefault("fedlink.log.format", "text")
	v.SetDefault("fedlink.log.outputs.file.enabled", false)
	v.SetDefault("fedlink.log.outputs.file.path", "/var/log/fedlink/fedlink.log")
	v.SetDefault("fedlink.log.outputs.file.rotation.max_size_mb", 100)
	v.SetDefault("fedlink.log.outputs.file.rotation.max_age_days", 30)
	v.SetDefault("fedlink.log.outputs.file.rotation.max_backups", 5)
	v.SetDefault("fedlink.log.outputs.file.rotation.compress", true)

	// Metrics defaults
	v.SetDefault("fedlink.metrics.enabled", false)
	v.SetDefault("fedlink.metrics.listen", ":9092")
	v.SetDefault("fedlink.metrics.path", "/metrics")
	v.SetDefault("fedlink.metrics.read_timeout", "5s")
	v.SetDefault("fedlink.metrics.write_timeout", "10s")
	v.SetDefault("fedlink.metrics.idle_timeout", "60s")
}

// Validate checks field ranges and cross-field consistency.
func (cfg *Config) Validate() error {
	if cfg.Federate.ID < 0 || cfg.Federate.ID > 65535 {
		return fmt.Errorf("federate.id %d out of the 16-bit range", cfg.Federate.ID)
	}

	if cfg.Federate.Duration != "" {
		if _, err := time.ParseDuration(cfg.Federate.Duration); err != nil {
			return fmt.Errorf("invalid federate.duration: %w", err)
		}
	}

	if cfg.RTI.Host == "" {
		return fmt.Errorf("rti.host is required")
	}
	if cfg.RTI.Port <= 0 || cfg.RTI.Port > 65535 {
		return fmt.Errorf("rti.port %d out of range", cfg.RTI.Port)
	}
	if _, err := time.ParseDuration(cfg.RTI.RetryInterval); err != nil {
		return fmt.Errorf("invalid rti.retry_interval: %w", err)
	}
	if cfg.RTI.MaxRetries < 1 {
		return fmt.Errorf("rti.max_retries must be at least 1")
	}
	if cfg.RTI.Federates < 1 {
		return fmt.Errorf("rti.federates must be at least 1")
	}

	for name, val := range map[string]string{
		"metrics.read_timeout":  cfg.Metrics.ReadTimeout,
		"metrics.write_timeout": cfg.Metrics.WriteTimeout,
		"metrics.idle_timeout":  cfg.Metrics.IdleTimeout,
	} {
		if val == "" {
			continue
		}
		if _, err := time.ParseDuration(val); err != nil {
			return fmt.Errorf("invalid %s: %w", name, err)
		}
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[cfg.Log.Level] {
		return fmt.Errorf("invalid log level: %s (must be debug/info/warn/error)", cfg.Log.Level)
	}
	if cfg.Log.Format != "json" && cfg.Log.Format != "text" {
		return fmt.Errorf("invalid log format: %s (must be json/text)", cfg.Log.Format)
	}

	return nil
}

// RTIAddress returns the host:port endpoint of the RTI.
func (cfg *Config) RTIAddress() string {
	return fmt.Sprintf("%s:%d", cfg.RTI.Host, cfg.RTI.Port)
}

// RunDuration returns the configured run duration and whether one is set.
// The caller must have validated the config; a malformed duration yields
// no duration here.
func (cfg *Config) RunDuration() (time.Duration, bool) {
	if cfg.Federate.Duration == "" {
		return 0, false
	}
	d, err := time.ParseDuration(cfg.Federate.Duration)
	if err != nil {
		return 0, false
	}
	return d, true
}

// Timeouts returns the parsed HTTP timeouts of the scrape endpoint. Unset or
// malformed values yield zero, letting the server apply its own fallbacks.
func (m MetricsConfig) Timeouts() (read, write, idle time.Duration) {
	parse := func(s string) time.Duration {
		d, err := time.ParseDuration(s)
		if err != nil {
			return 0
		}
		return d
	}
	return parse(m.ReadTimeout), parse(m.WriteTimeout), parse(m.IdleTimeout)
}

// RetryInterval returns the parsed connect retry interval.
func (cfg *Config) RetryInterval() time.Duration {
	d, err := time.ParseDuration(cfg.RTI.RetryInterval)
	if err != nil {
		return 2 * time.Second
	}
	return d
}
