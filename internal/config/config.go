// Package config provides configuration management for spindle using Viper
// for flexible configuration loading from files, environment variables, and
// command-line flags.
//
// The configuration system supports YAML files, environment variable overrides
// with the SPINDLE_ prefix and validation. It manages dev server settings, the
// polling watcher cadence, build script discovery and logging.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/spf13/viper"

	"github.com/conneroisu/spindle/internal/errors"
)

// Default values applied by Load when a setting is absent.
const (
	DefaultHost         = "localhost"
	DefaultPort         = 8000
	DefaultInterval     = time.Second
	DefaultWaitInterval = 100 * time.Millisecond
	DefaultPattern      = "*.sh"
	DefaultOutput       = "output"
)

// EnvPrefix prefixes environment overrides, e.g. SPINDLE_SERVER_PORT.
const EnvPrefix = "SPINDLE"

// EnvKeyReplacer maps nested configuration keys onto environment names.
func EnvKeyReplacer() *strings.Replacer {
	return strings.NewReplacer(".", "_", "-", "_")
}

type Config struct {
	Server  ServerConfig  `yaml:"server" mapstructure:"server"`
	Watch   WatchConfig   `yaml:"watch" mapstructure:"watch"`
	Build   BuildConfig   `yaml:"build" mapstructure:"build"`
	Logging LoggingConfig `yaml:"logging" mapstructure:"logging"`
	Metrics MetricsConfig `yaml:"metrics" mapstructure:"metrics"`
}

type ServerConfig struct {
	Host string `yaml:"host" mapstructure:"host"`
	Port int    `yaml:"port" mapstructure:"port"`
	Open bool   `yaml:"open" mapstructure:"open"`
}

type WatchConfig struct {
	Interval     time.Duration `yaml:"interval" mapstructure:"interval"`
	WaitInterval time.Duration `yaml:"wait_interval" mapstructure:"wait_interval"`
	Notify       bool          `yaml:"notify" mapstructure:"notify"`
	Ignore       []string      `yaml:"ignore" mapstructure:"ignore"`
}

type BuildConfig struct {
	Pattern string `yaml:"pattern" mapstructure:"pattern"`
	Output  string `yaml:"output" mapstructure:"output"`
}

type LoggingConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

type MetricsConfig struct {
	Addr string `yaml:"addr" mapstructure:"addr"`
}

func Load() (*Config, error) {
	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, err
	}

	// Flags are bound under "log-level" at the root command.
	if viper.IsSet("log-level") && !viper.IsSet("logging.level") {
		config.Logging.Level = viper.GetString("log-level")
	}

	if viper.IsSet("watch.ignore") && len(config.Watch.Ignore) == 0 {
		config.Watch.Ignore = viper.GetStringSlice("watch.ignore")
	}

	applyDefaults(&config, viper.IsSet)

	if err := validateConfig(&config); err != nil {
		return nil, errors.WrapConfig(err, errors.ErrCodeConfigInvalid, "invalid configuration")
	}

	return &config, nil
}

// Default returns a configuration with every default applied, without
// consulting viper.
func Default() *Config {
	var config Config
	applyDefaults(&config, func(string) bool { return false })
	return &config
}

// applyDefaults fills zero values. isSet reports keys that were explicitly
// configured, so an explicit false or 0 survives.
func applyDefaults(config *Config, isSet func(key string) bool) {
	if config.Server.Host == "" {
		config.Server.Host = DefaultHost
	}
	if config.Server.Port == 0 && !isSet("server.port") {
		config.Server.Port = DefaultPort
	}

	if config.Watch.Interval == 0 {
		config.Watch.Interval = DefaultInterval
	}
	if config.Watch.WaitInterval == 0 {
		config.Watch.WaitInterval = DefaultWaitInterval
	}
	if !isSet("watch.notify") {
		config.Watch.Notify = true
	}
	if len(config.Watch.Ignore) == 0 {
		config.Watch.Ignore = []string{".git/**", "node_modules/**", "**/.DS_Store"}
	}

	if config.Build.Pattern == "" {
		config.Build.Pattern = DefaultPattern
	}
	if config.Build.Output == "" {
		config.Build.Output = DefaultOutput
	}

	if config.Logging.Level == "" {
		config.Logging.Level = "info"
	}
	if config.Logging.Format == "" {
		config.Logging.Format = "text"
	}
}

// validateConfig validates configuration values for correctness
func validateConfig(config *Config) error {
	if err := validateServerConfig(&config.Server); err != nil {
		return fmt.Errorf("server config: %w", err)
	}

	if err := validateWatchConfig(&config.Watch); err != nil {
		return fmt.Errorf("watch config: %w", err)
	}

	if err := validateBuildConfig(&config.Build); err != nil {
		return fmt.Errorf("build config: %w", err)
	}

	switch config.Logging.Format {
	case "text", "json":
	default:
		return errors.NewConfigError(errors.ErrCodeConfigInvalid,
			fmt.Sprintf("logging config: unknown format %q", config.Logging.Format))
	}

	return nil
}

// validateServerConfig validates server configuration values
func validateServerConfig(config *ServerConfig) error {
	// 0 asks the OS for a free port, which tests rely on.
	if config.Port < 0 || config.Port > 65535 {
		return fmt.Errorf("port %d is not in valid range 0-65535", config.Port)
	}

	dangerousChars := []string{";", "&", "|", "$", "`", "(", ")", "<", ">", "\"", "'", "\\", "/"}
	for _, char := range dangerousChars {
		if strings.Contains(config.Host, char) {
			return fmt.Errorf("host contains invalid character: %s", char)
		}
	}

	return nil
}

func validateWatchConfig(config *WatchConfig) error {
	if config.Interval < 0 {
		return fmt.Errorf("interval must be positive, got %s", config.Interval)
	}
	if config.WaitInterval < 0 {
		return fmt.Errorf("wait_interval must be positive, got %s", config.WaitInterval)
	}

	for _, pattern := range config.Ignore {
		if !doublestar.ValidatePattern(pattern) {
			return fmt.Errorf("invalid ignore pattern: %s", pattern)
		}
	}

	return nil
}

// validateBuildConfig validates build configuration values
func validateBuildConfig(config *BuildConfig) error {
	if !doublestar.ValidatePattern(config.Pattern) {
		return fmt.Errorf("invalid script pattern: %s", config.Pattern)
	}
	if strings.Contains(config.Pattern, "/") {
		return fmt.Errorf("script pattern must match base names only: %s", config.Pattern)
	}

	return nil
}
