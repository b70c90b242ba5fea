// Package server serves build output over HTTP while a view or edit command
// runs, one server per build target.
package server

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	spindleerrors "github.com/conneroisu/spindle/internal/errors"
	"github.com/conneroisu/spindle/internal/logging"
	"github.com/conneroisu/spindle/internal/middleware"
)

// Status of a dev server.
type Status int

const (
	StatusStopped Status = iota
	StatusRunning
	StatusError
)

// String returns the string representation of the Status
func (s Status) String() string {
	switch s {
	case StatusRunning:
		return "running"
	case StatusError:
		return "error"
	default:
		return "stopped"
	}
}

const shutdownTimeout = 5 * time.Second

// DevServer serves one output directory on a fixed port. The port never
// changes while the server exists, across pause and resume.
type DevServer struct {
	Host   string
	Port   int
	Script string

	logger  logging.Logger
	hub     *Hub
	handler http.Handler

	mutex      sync.RWMutex
	key        string
	root       string
	errText    string
	httpServer *http.Server
	listener   net.Listener
	served     chan struct{}
	listening  bool
}

func newDevServer(host string, ln net.Listener, script string, hub *Hub, logger logging.Logger) *DevServer {
	d := &DevServer{
		Host:   host,
		Port:   ln.Addr().(*net.TCPAddr).Port,
		Script: script,
		logger: logger,
		hub:    hub,
	}
	d.handler = middleware.NewChain(middleware.Logging(logger), middleware.NoStore()).Apply(d)
	d.serve(ln)
	return d
}

// Addr returns host:port.
func (d *DevServer) Addr() string {
	return net.JoinHostPort(d.Host, strconv.Itoa(d.Port))
}

// URL returns the base URL of the server.
func (d *DevServer) URL() string {
	return "http://" + d.Addr() + "/"
}

// Key returns the target key this server belongs to; empty for a
// placeholder error server.
func (d *DevServer) Key() string {
	d.mutex.RLock()
	defer d.mutex.RUnlock()
	return d.key
}

// Root returns the served directory.
func (d *DevServer) Root() string {
	d.mutex.RLock()
	defer d.mutex.RUnlock()
	return d.root
}

// Status reports whether the server is serving pages, an error, or nothing.
func (d *DevServer) Status() Status {
	d.mutex.RLock()
	defer d.mutex.RUnlock()

	switch {
	case !d.listening:
		return StatusStopped
	case d.errText != "":
		return StatusError
	default:
		return StatusRunning
	}
}

// ErrorText returns the traceback shown in error mode.
func (d *DevServer) ErrorText() string {
	d.mutex.RLock()
	defer d.mutex.RUnlock()
	return d.errText
}

func (d *DevServer) retarget(key, root string) {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	d.key = key
	d.root = root
}

// SetError switches the server into error mode: every request gets a 500
// with the traceback until ClearError.
func (d *DevServer) SetError(traceback string) {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	if traceback == "" {
		traceback = "build failed"
	}
	d.errText = traceback
}

// ClearError returns the server to serving files.
func (d *DevServer) ClearError() {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	d.errText = ""
}

func (d *DevServer) serve(ln net.Listener) {
	srv := &http.Server{
		Handler:           d.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	served := make(chan struct{})

	d.mutex.Lock()
	d.httpServer = srv
	d.listener = ln
	d.served = served
	d.listening = true
	d.mutex.Unlock()

	go func() {
		defer close(served)
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) && !errors.Is(err, net.ErrClosed) {
			d.logger.Error(context.Background(), err, "Dev server stopped unexpectedly", "addr", d.Addr())
		}
	}()
}

// Pause stops accepting connections and waits for in-flight requests, so
// nobody sees a half-written output tree. The port is released before
// Pause returns and bound again by Resume.
func (d *DevServer) Pause() {
	d.mutex.Lock()
	srv, ln, served := d.httpServer, d.listener, d.served
	d.httpServer = nil
	d.listener = nil
	d.served = nil
	d.listening = false
	d.mutex.Unlock()

	if srv == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		d.logger.Warn(ctx, err, "Dev server did not pause cleanly", "addr", d.Addr())
	}

	// Shutdown only closes listeners Serve has already picked up.
	if err := ln.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		d.logger.Warn(ctx, err, "Closing dev server listener failed", "addr", d.Addr())
	}
	<-served
}

// Resume listens on the same port again.
func (d *DevServer) Resume() error {
	d.mutex.RLock()
	running := d.httpServer != nil
	d.mutex.RUnlock()
	if running {
		return nil
	}

	ln, err := net.Listen("tcp", d.Addr())
	if err != nil {
		return spindleerrors.ErrPortUnavailable(d.Addr(), err)
	}
	d.serve(ln)
	return nil
}

// Stop shuts the server down for good.
func (d *DevServer) Stop() {
	d.Pause()
}

// ServeHTTP serves the output tree, the error page in error mode, and the
// live reload socket.
func (d *DevServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path == LiveReloadPath && d.hub != nil {
		d.hub.ServeHTTP(w, r)
		return
	}

	d.mutex.RLock()
	errText := d.errText
	root := d.root
	script := d.Script
	d.mutex.RUnlock()

	if errText != "" {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.WriteHeader(http.StatusInternalServerError)
		if err := ErrorPage(script, errText).Render(r.Context(), w); err != nil {
			d.logger.Warn(r.Context(), err, "Rendering error page failed")
		}
		return
	}

	if root == "" {
		http.NotFound(w, r)
		return
	}

	r.URL.Path = sanitizePath(r.URL.Path)
	d.serveFile(w, r, root)
}

func (d *DevServer) serveFile(w http.ResponseWriter, r *http.Request, root string) {
	target := filepath.Join(root, filepath.FromSlash(r.URL.Path))

	info, err := os.Stat(target)
	if err == nil && info.IsDir() {
		if !strings.HasSuffix(r.URL.Path, "/") {
			http.Redirect(w, r, r.URL.Path+"/", http.StatusMovedPermanently)
			return
		}
		target = filepath.Join(target, "index.html")
		info, err = os.Stat(target)
	}

	if err == nil && !info.IsDir() && strings.EqualFold(filepath.Ext(target), ".html") {
		data, readErr := os.ReadFile(target)
		if readErr == nil {
			http.ServeContent(w, r, info.Name(), info.ModTime(), bytes.NewReader(injectLiveReload(data)))
			return
		}
	}

	http.FileServer(http.Dir(root)).ServeHTTP(w, r)
}

// sanitizePath drops empty, ".", ".." and drive-letter segments, so the
// result always stays inside the served root. A trailing slash is kept.
func sanitizePath(p string) string {
	p = strings.ReplaceAll(p, "\\", "/")
	trailing := strings.HasSuffix(p, "/")

	var kept []string
	for _, seg := range strings.Split(p, "/") {
		switch {
		case seg == "", seg == ".", seg == "..":
			continue
		case len(seg) == 2 && seg[1] == ':':
			continue
		}
		kept = append(kept, seg)
	}

	clean := "/" + path.Join(kept...)
	if trailing && clean != "/" {
		clean += "/"
	}
	return clean
}

// injectLiveReload adds the reload script to full HTML documents only;
// fragments are served untouched.
func injectLiveReload(data []byte) []byte {
	idx := bytes.LastIndex(bytes.ToLower(data), []byte("</body>"))
	if idx < 0 {
		return data
	}
	out := make([]byte, 0, len(data)+len(liveReloadScript))
	out = append(out, data[:idx]...)
	out = append(out, liveReloadScript...)
	out = append(out, data[idx:]...)
	return out
}

func (d *DevServer) String() string {
	return fmt.Sprintf("%s (%s) -> %s", d.URL(), d.Status(), d.Root())
}
