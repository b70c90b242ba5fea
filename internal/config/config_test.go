package config

import (
	"os"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conneroisu/spindle/internal/errors"
)

func TestLoad(t *testing.T) {
	tests := []struct {
		name        string
		setup       func()
		expectError bool
		check       func(t *testing.T, cfg *Config)
	}{
		{
			name: "defaults",
			setup: func() {
				viper.Reset()
			},
			check: func(t *testing.T, cfg *Config) {
				assert.Equal(t, DefaultHost, cfg.Server.Host)
				assert.Equal(t, DefaultPort, cfg.Server.Port)
				assert.Equal(t, DefaultInterval, cfg.Watch.Interval)
				assert.Equal(t, DefaultWaitInterval, cfg.Watch.WaitInterval)
				assert.True(t, cfg.Watch.Notify)
				assert.Equal(t, DefaultPattern, cfg.Build.Pattern)
				assert.Equal(t, DefaultOutput, cfg.Build.Output)
				assert.Equal(t, "info", cfg.Logging.Level)
				assert.Contains(t, cfg.Watch.Ignore, ".git/**")
			},
		},
		{
			name: "explicit values",
			setup: func() {
				viper.Reset()
				viper.Set("server.host", "0.0.0.0")
				viper.Set("server.port", 9100)
				viper.Set("watch.interval", "250ms")
				viper.Set("watch.notify", false)
				viper.Set("watch.ignore", []string{"drafts/**"})
				viper.Set("build.pattern", "*.site")
			},
			check: func(t *testing.T, cfg *Config) {
				assert.Equal(t, "0.0.0.0", cfg.Server.Host)
				assert.Equal(t, 9100, cfg.Server.Port)
				assert.Equal(t, 250*time.Millisecond, cfg.Watch.Interval)
				assert.False(t, cfg.Watch.Notify)
				assert.Equal(t, []string{"drafts/**"}, cfg.Watch.Ignore)
				assert.Equal(t, "*.site", cfg.Build.Pattern)
			},
		},
		{
			name: "explicit zero port is kept",
			setup: func() {
				viper.Reset()
				viper.Set("server.port", 0)
			},
			check: func(t *testing.T, cfg *Config) {
				assert.Equal(t, 0, cfg.Server.Port)
			},
		},
		{
			name: "log level flag feeds logging config",
			setup: func() {
				viper.Reset()
				viper.Set("log-level", "debug")
			},
			check: func(t *testing.T, cfg *Config) {
				assert.Equal(t, "debug", cfg.Logging.Level)
			},
		},
		{
			name: "invalid port type",
			setup: func() {
				viper.Reset()
				viper.Set("server.port", "invalid_port")
			},
			expectError: true,
		},
		{
			name: "port out of range",
			setup: func() {
				viper.Reset()
				viper.Set("server.port", 70000)
			},
			expectError: true,
		},
		{
			name: "host with shell characters",
			setup: func() {
				viper.Reset()
				viper.Set("server.host", "localhost;rm")
			},
			expectError: true,
		},
		{
			name: "pattern with directory",
			setup: func() {
				viper.Reset()
				viper.Set("build.pattern", "scripts/*.sh")
			},
			expectError: true,
		},
		{
			name: "bad ignore pattern",
			setup: func() {
				viper.Reset()
				viper.Set("watch.ignore", []string{"[unclosed"})
			},
			expectError: true,
		},
		{
			name: "unknown log format",
			setup: func() {
				viper.Reset()
				viper.Set("logging.format", "xml")
			},
			expectError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.setup()
			defer viper.Reset()

			cfg, err := Load()

			if tt.expectError {
				assert.Error(t, err)
				assert.Nil(t, cfg)
				return
			}
			require.NoError(t, err)
			require.NotNil(t, cfg)
			tt.check(t, cfg)
		})
	}
}

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.Equal(t, DefaultHost, cfg.Server.Host)
	assert.Equal(t, DefaultPort, cfg.Server.Port)
	assert.True(t, cfg.Watch.Notify)
	assert.Equal(t, DefaultOutput, cfg.Build.Output)
}

func TestLoadWithEnvironment(t *testing.T) {
	t.Setenv("SPINDLE_SERVER_PORT", "9999")
	t.Setenv("SPINDLE_SERVER_HOST", "127.0.0.1")

	viper.Reset()
	defer viper.Reset()
	viper.SetEnvPrefix(EnvPrefix)
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(EnvKeyReplacer())
	viper.BindEnv("server.port")
	viper.BindEnv("server.host")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 9999, cfg.Server.Port)
	assert.Equal(t, "127.0.0.1", cfg.Server.Host)
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := dir + "/.spindle.yml"
	content := `server:
  port: 8123
watch:
  interval: 2s
  wait_interval: 50ms
build:
  output: public
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	viper.Reset()
	defer viper.Reset()
	viper.SetConfigFile(path)
	require.NoError(t, viper.ReadInConfig())

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8123, cfg.Server.Port)
	assert.Equal(t, 2*time.Second, cfg.Watch.Interval)
	assert.Equal(t, 50*time.Millisecond, cfg.Watch.WaitInterval)
	assert.Equal(t, "public", cfg.Build.Output)
}

func TestLoadReportsConfigError(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)
	viper.Set("server.port", 70000)

	_, err := Load()
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrCodeConfigInvalid))
	assert.False(t, errors.IsRecoverable(err))
	assert.Contains(t, err.Error(), "70000")
}
