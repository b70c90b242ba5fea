// Package testutils holds helpers shared by the package tests.
package testutils

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/conneroisu/spindle/internal/config"
)

var (
	mtimeMu   sync.Mutex
	mtimeStep = time.Now()
)

// WriteFile writes content to path, creating parent directories, and moves
// the mtime forward so a poller sees the change even on filesystems with
// coarse timestamps. It returns path.
func WriteFile(t *testing.T, path, content string) string {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	mtimeMu.Lock()
	mtimeStep = mtimeStep.Add(2 * time.Second)
	stamp := mtimeStep
	mtimeMu.Unlock()

	require.NoError(t, os.Chtimes(path, stamp, stamp))
	return path
}

// WriteScript writes an executable build script.
func WriteScript(t *testing.T, path, content string) string {
	t.Helper()
	WriteFile(t, path, content)
	require.NoError(t, os.Chmod(path, 0o755))
	return path
}

// ReadFile returns the content of path, failing the test if it is missing.
func ReadFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(data)
}

// TestConfig returns a configuration that polls fast, serves on loopback
// and lets the OS choose ports.
func TestConfig() *config.Config {
	cfg := config.Default()
	cfg.Server.Host = "127.0.0.1"
	cfg.Server.Port = 0
	cfg.Watch.Interval = 20 * time.Millisecond
	cfg.Watch.WaitInterval = 5 * time.Millisecond
	cfg.Watch.Notify = false
	return cfg
}

// WaitForContent waits until path holds want.
func WaitForContent(t *testing.T, path, want string, timeout time.Duration) {
	t.Helper()
	require.Eventually(t, func() bool {
		data, err := os.ReadFile(path)
		return err == nil && string(data) == want
	}, timeout, 10*time.Millisecond, "%s never held %q", path, want)
}
