package services

import (
	"context"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conneroisu/spindle/internal/config"
	"github.com/conneroisu/spindle/internal/errors"
	"github.com/conneroisu/spindle/internal/registry"
	"github.com/conneroisu/spindle/internal/script"
	"github.com/conneroisu/spindle/internal/server"
	"github.com/conneroisu/spindle/internal/testutils"
	"github.com/conneroisu/spindle/internal/watcher"
)

func quietRunner(cfg *config.Config) *Runner {
	r := NewRunner(cfg, nil, nil)
	exec := script.NewExecutor(nil)
	exec.Stdout = nil
	exec.Stderr = nil
	r.executor = exec
	r.OpenBrowser = nil
	return r
}

// start runs req in the background; stop cancels it and waits for Run.
func start(t *testing.T, r *Runner, req registry.CommandRequest) (stop func() error) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx, req) }()

	var once sync.Once
	var err error
	stop = func() error {
		once.Do(func() {
			cancel()
			select {
			case err = <-done:
			case <-time.After(10 * time.Second):
				t.Fatal("runner did not stop")
			}
		})
		return err
	}
	t.Cleanup(func() { _ = stop() })
	return stop
}

// get returns 0 when the server is not accepting, e.g. while paused.
func get(url string) (int, string) {
	client := &http.Client{Timeout: time.Second}
	resp, err := client.Get(url)
	if err != nil {
		return 0, ""
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, string(body)
}

func TestBuildServiceIsolatesFailures(t *testing.T) {
	dir := t.TempDir()
	testutils.WriteFile(t, filepath.Join(dir, "a.sh"), "fail broken\n")
	testutils.WriteFile(t, filepath.Join(dir, "b.sh"), "route /dog.html wow\n")

	svc := NewBuildService(testutils.TestConfig(), nil, nil)
	exec := script.NewExecutor(nil)
	exec.Stdout, exec.Stderr = nil, nil
	svc.executor = exec

	res, err := svc.Build(context.Background(), BuildOptions{Path: dir})
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Len(t, res.Errors, 1)
	require.Len(t, res.Targets, 1)

	data, err := os.ReadFile(filepath.Join(dir, "output", "dog.html"))
	require.NoError(t, err)
	assert.Equal(t, "wow", string(data))
}

func TestBuildServiceOutputOverride(t *testing.T) {
	dir := t.TempDir()
	out := filepath.Join(t.TempDir(), "public")
	testutils.WriteFile(t, filepath.Join(dir, "site.sh"), "route /a.html wow\n")

	res, err := NewBuildService(testutils.TestConfig(), nil, nil).Build(context.Background(), BuildOptions{Path: dir, Output: out})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.FileExists(t, filepath.Join(out, "a.html"))
}

func TestBuildServiceMissingPath(t *testing.T) {
	_, err := NewBuildService(testutils.TestConfig(), nil, nil).Build(context.Background(), BuildOptions{Path: "/does/not/exist"})
	require.Error(t, err)
	assert.True(t, errors.IsDiscoveryError(err))
}

func TestInitService(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "site")
	svc := NewInitService(nil)

	written, err := svc.InitProject(InitOptions{ProjectDir: dir})
	require.NoError(t, err)
	assert.NotEmpty(t, written)
	assert.FileExists(t, filepath.Join(dir, "site.sh"))
	assert.Len(t, svc.Templates(), 3)

	_, err = svc.InitProject(InitOptions{ProjectDir: dir})
	assert.Error(t, err)
}

// freePort returns a port that was free a moment ago.
func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())
	return port
}

// serverFor waits until script has a dev server in the running view.
func serverFor(t *testing.T, r *Runner, script string) *server.DevServer {
	t.Helper()
	var srv *server.DevServer
	require.Eventually(t, func() bool {
		pool := r.Pool()
		if pool == nil {
			return false
		}
		servers := pool.ServersFor(script)
		if len(servers) == 0 {
			return false
		}
		srv = servers[0]
		return true
	}, 5*time.Second, 10*time.Millisecond)
	return srv
}

func TestViewKeepsPortsWhenScriptDeleted(t *testing.T) {
	dir := t.TempDir()
	a := testutils.WriteFile(t, filepath.Join(dir, "a.sh"), "site --output out-a\nroute /a.html A\n")
	b := testutils.WriteFile(t, filepath.Join(dir, "b.sh"), "site --output out-b\nroute /b.html B\n")

	base := freePort(t)
	cfg := testutils.TestConfig()
	cfg.Server.Port = base
	r := quietRunner(cfg)
	start(t, r, registry.CommandRequest{Command: CommandView, Path: dir})

	aSrv := serverFor(t, r, a)
	bSrv := serverFor(t, r, b)
	assert.Equal(t, base, aSrv.Port)
	assert.Greater(t, bSrv.Port, base)
	bPort := bSrv.Port

	require.NoError(t, os.Remove(a))
	require.Eventually(t, func() bool {
		return len(r.Pool().ServersFor(a)) == 0
	}, 5*time.Second, 10*time.Millisecond)

	servers := r.Pool().ServersFor(b)
	require.Len(t, servers, 1)
	assert.Equal(t, bPort, servers[0].Port)
	require.Eventually(t, func() bool {
		code, body := get(servers[0].URL() + "b.html")
		return code == http.StatusOK && body == "B"
	}, 5*time.Second, 10*time.Millisecond)

	ln, err := net.Listen("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(base)))
	require.NoError(t, err)
	require.NoError(t, ln.Close())
}

func TestViewServesScriptsCreatedWhileRunning(t *testing.T) {
	dir := t.TempDir()
	testutils.WriteFile(t, filepath.Join(dir, "a.sh"), "site --output out-a\nroute /a.html A\n")

	r := quietRunner(testutils.TestConfig())
	start(t, r, registry.CommandRequest{Command: CommandView, Path: dir})
	serverFor(t, r, filepath.Join(dir, "a.sh"))

	c := testutils.WriteFile(t, filepath.Join(dir, "c.sh"), "site --output out-c\nroute /c.html C\n")
	cSrv := serverFor(t, r, c)
	require.Eventually(t, func() bool {
		code, body := get(cSrv.URL() + "c.html")
		return code == http.StatusOK && body == "C"
	}, 5*time.Second, 10*time.Millisecond)

	d := testutils.WriteFile(t, filepath.Join(dir, "d.sh"), "fail never built\n")
	dSrv := serverFor(t, r, d)
	require.Eventually(t, func() bool {
		code, body := get(dSrv.URL())
		return code == http.StatusInternalServerError && strings.Contains(body, "never built")
	}, 5*time.Second, 10*time.Millisecond)
}

func TestViewIsolatesFailingScript(t *testing.T) {
	dir := t.TempDir()
	a := testutils.WriteFile(t, filepath.Join(dir, "a.sh"), "fail broken\n")
	b := testutils.WriteFile(t, filepath.Join(dir, "b.sh"), "site --output out-b\nroute /b.html B\n")

	r := quietRunner(testutils.TestConfig())
	start(t, r, registry.CommandRequest{Command: CommandView, Path: dir})

	aSrv := serverFor(t, r, a)
	bSrv := serverFor(t, r, b)
	assert.NotEqual(t, aSrv.Port, bSrv.Port)

	require.Eventually(t, func() bool {
		code, body := get(aSrv.URL())
		return code == http.StatusInternalServerError && strings.Contains(body, "broken")
	}, 5*time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool {
		code, body := get(bSrv.URL() + "b.html")
		return code == http.StatusOK && body == "B"
	}, 5*time.Second, 10*time.Millisecond)
}

func TestViewPortZeroLetsOSChoose(t *testing.T) {
	dir := t.TempDir()
	site := testutils.WriteFile(t, filepath.Join(dir, "site.sh"), "route /a.html wow\n")

	configured := freePort(t)
	cfg := testutils.TestConfig()
	cfg.Server.Port = configured
	r := quietRunner(cfg)
	start(t, r, registry.CommandRequest{Command: CommandView, Path: site, Port: 0, PortSet: true})

	srv := serverFor(t, r, site)
	assert.NotZero(t, srv.Port)
	assert.NotEqual(t, configured, srv.Port)
}

func TestViewDefaultsToConfiguredPort(t *testing.T) {
	dir := t.TempDir()
	site := testutils.WriteFile(t, filepath.Join(dir, "site.sh"), "route /a.html wow\n")

	configured := freePort(t)
	cfg := testutils.TestConfig()
	cfg.Server.Port = configured
	r := quietRunner(cfg)
	start(t, r, registry.CommandRequest{Command: CommandView, Path: site})

	assert.Equal(t, configured, serverFor(t, r, site).Port)
}

func TestViewServesErrorPageUntilFixed(t *testing.T) {
	dir := t.TempDir()
	site := testutils.WriteFile(t, filepath.Join(dir, "site.sh"), "route /a.html wow\n")

	r := quietRunner(testutils.TestConfig())
	start(t, r, registry.CommandRequest{Command: CommandView, Path: site})

	var base string
	require.Eventually(t, func() bool {
		pool := r.Pool()
		if pool == nil || pool.Len() == 0 {
			return false
		}
		base = pool.Servers()[0].URL()
		return true
	}, 5*time.Second, 10*time.Millisecond)

	code, body := get(base + "a.html")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "wow", body)

	testutils.WriteFile(t, site, "route /a.html wow\nfail KeyError: missing\n")
	require.Eventually(t, func() bool {
		code, body := get(base + "anything")
		return code == http.StatusInternalServerError && strings.Contains(body, "KeyError: missing")
	}, 5*time.Second, 10*time.Millisecond)

	testutils.WriteFile(t, site, "route /a.html wow\n")
	require.Eventually(t, func() bool {
		code, body := get(base + "a.html")
		return code == http.StatusOK && body == "wow"
	}, 5*time.Second, 10*time.Millisecond)
}

func TestNestedCommandKeepsOnePoller(t *testing.T) {
	dir := t.TempDir()
	site := testutils.WriteFile(t, filepath.Join(dir, "site.sh"), "route /a.html wow\nview\n")
	before := watcher.ActivePollers()

	r := quietRunner(testutils.TestConfig())
	stop := start(t, r, registry.CommandRequest{Command: CommandWatch, Path: dir})

	require.Eventually(t, func() bool {
		req, ok := r.Active()
		return ok && req.Command == CommandView
	}, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, before+1, watcher.ActivePollers())

	// A rebuild inside the loop asks for view again, which is already running.
	ticks := r.Manager().Ticks()
	testutils.WriteFile(t, site, "route /a.html meow\nview\n")
	require.Eventually(t, func() bool {
		data, err := os.ReadFile(filepath.Join(dir, "output", "a.html"))
		return err == nil && string(data) == "meow"
	}, 5*time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool { return r.Manager().Ticks() > ticks+2 }, 5*time.Second, 5*time.Millisecond)

	req, _ := r.Active()
	assert.Equal(t, CommandView, req.Command)
	assert.Equal(t, before+1, watcher.ActivePollers())

	require.NoError(t, stop())
	assert.Equal(t, before, watcher.ActivePollers())
	assert.Equal(t, 0, r.Manager().Len())
}

func TestRunMissingPathFailsBeforePolling(t *testing.T) {
	before := watcher.ActivePollers()
	r := quietRunner(testutils.TestConfig())

	err := r.Run(context.Background(), registry.CommandRequest{Command: CommandWatch, Path: filepath.Join(t.TempDir(), "nope")})
	require.Error(t, err)
	assert.True(t, errors.IsDiscoveryError(err))
	assert.Equal(t, before, watcher.ActivePollers())
	assert.Equal(t, 0, r.Manager().Len())
}

func TestRunRejectsUnknownCommand(t *testing.T) {
	r := quietRunner(testutils.TestConfig())
	err := r.Run(context.Background(), registry.CommandRequest{Command: "build", Path: t.TempDir()})
	assert.Error(t, err)
}

func TestEditBuildsIntoTempDirAndOpensBrowser(t *testing.T) {
	dir := t.TempDir()
	testutils.WriteFile(t, filepath.Join(dir, "site.sh"), "route /a.html wow\n")

	var mu sync.Mutex
	var opened []string

	r := quietRunner(testutils.TestConfig())
	r.OpenBrowser = func(url string) error {
		mu.Lock()
		defer mu.Unlock()
		opened = append(opened, url)
		return nil
	}
	stop := start(t, r, registry.CommandRequest{Command: CommandEdit, Path: dir})

	var root string
	require.Eventually(t, func() bool {
		pool := r.Pool()
		if pool == nil || pool.Len() == 0 {
			return false
		}
		root = pool.Servers()[0].Root()
		return true
	}, 5*time.Second, 10*time.Millisecond)

	assert.NotEqual(t, filepath.Join(dir, "output"), root)
	assert.FileExists(t, filepath.Join(root, "a.html"))
	assert.NoDirExists(t, filepath.Join(dir, "output"))

	mu.Lock()
	assert.Len(t, opened, 1)
	mu.Unlock()

	require.NoError(t, stop())
	assert.NoDirExists(t, root)
}

func TestFailedSwitchKeepsRunningCommand(t *testing.T) {
	dir := t.TempDir()
	testutils.WriteFile(t, filepath.Join(dir, "site.sh"), "route /a.html wow\n")

	r := quietRunner(testutils.TestConfig())
	stop := start(t, r, registry.CommandRequest{Command: CommandWatch, Path: dir})
	require.Eventually(t, func() bool {
		_, ok := r.Active()
		return ok
	}, 5*time.Second, 10*time.Millisecond)

	ticks := r.Manager().Ticks()
	r.Switch(registry.CommandRequest{Command: "bogus", Path: dir})
	require.Eventually(t, func() bool { return r.Manager().Ticks() > ticks+2 }, 5*time.Second, 5*time.Millisecond)

	req, ok := r.Active()
	require.True(t, ok)
	assert.Equal(t, CommandWatch, req.Command)
	assert.Equal(t, dir, req.Path)
	require.NoError(t, stop())
}

func TestSwitchToMissingPathStopsRunner(t *testing.T) {
	dir := t.TempDir()
	testutils.WriteFile(t, filepath.Join(dir, "site.sh"), "route /a.html wow\n")

	r := quietRunner(testutils.TestConfig())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx, registry.CommandRequest{Command: CommandWatch, Path: dir}) }()

	require.Eventually(t, func() bool {
		_, ok := r.Active()
		return ok
	}, 5*time.Second, 10*time.Millisecond)
	r.Switch(registry.CommandRequest{Command: CommandWatch, Path: filepath.Join(dir, "nope")})

	select {
	case err := <-done:
		require.Error(t, err)
		assert.True(t, errors.IsDiscoveryError(err))
	case <-time.After(10 * time.Second):
		t.Fatal("runner kept running")
	}
	assert.Equal(t, 0, r.Manager().Len())
}

func TestSwitchNeverBlocks(t *testing.T) {
	r := quietRunner(testutils.TestConfig())
	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			r.Switch(registry.CommandRequest{Command: CommandWatch, Path: "."})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Switch blocked")
	}
}

func TestIsLongRunning(t *testing.T) {
	assert.True(t, IsLongRunning(CommandWatch))
	assert.True(t, IsLongRunning(CommandView))
	assert.True(t, IsLongRunning(CommandEdit))
	assert.False(t, IsLongRunning("build"))
}
