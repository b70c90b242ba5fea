package services

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/conneroisu/spindle/internal/config"
	"github.com/conneroisu/spindle/internal/errors"
	"github.com/conneroisu/spindle/internal/logging"
	"github.com/conneroisu/spindle/internal/monitoring"
	"github.com/conneroisu/spindle/internal/rebuild"
	"github.com/conneroisu/spindle/internal/registry"
	"github.com/conneroisu/spindle/internal/script"
	"github.com/conneroisu/spindle/internal/server"
	"github.com/conneroisu/spindle/internal/watcher"
)

// Long-running commands.
const (
	CommandWatch = "watch"
	CommandView  = "view"
	CommandEdit  = "edit"
)

// IsLongRunning reports whether command is handled by a Runner.
func IsLongRunning(command string) bool {
	switch command {
	case CommandWatch, CommandView, CommandEdit:
		return true
	}
	return false
}

// Runner drives watch, view and edit. It owns the process's only polling
// manager; a script asking for another command while it is rebuilt sends a
// request over a channel and the loop swaps commands on the same manager.
type Runner struct {
	config   *config.Config
	logger   logging.Logger
	metrics  *monitoring.Metrics
	executor rebuild.Executor
	manager  *watcher.Manager
	notifier *watcher.Notifier
	errs     *errors.ErrorHandler

	// OpenBrowser opens URLs for edit and server.open.
	OpenBrowser func(url string) error

	switches chan registry.CommandRequest

	mutex  sync.Mutex
	active *activeCommand
}

type activeCommand struct {
	req     registry.CommandRequest
	orch    *rebuild.Orchestrator
	pool    *server.Pool
	tempDir string
}

// NewRunner creates a runner with a stopped manager.
func NewRunner(cfg *config.Config, logger logging.Logger, metrics *monitoring.Metrics) *Runner {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Runner{
		config:      cfg,
		logger:      logger.WithComponent("runner"),
		metrics:     metrics,
		executor:    script.NewExecutor(logger),
		manager:     watcher.NewManager(cfg.Watch.Interval, logger),
		errs:        errors.NewErrorHandler(logger.WithComponent("runner")),
		OpenBrowser: server.OpenBrowser,
		switches:    make(chan registry.CommandRequest, 16),
	}
}

// Manager returns the runner's polling manager.
func (r *Runner) Manager() *watcher.Manager {
	return r.manager
}

// Active returns the running command request.
func (r *Runner) Active() (registry.CommandRequest, bool) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	if r.active == nil {
		return registry.CommandRequest{}, false
	}
	return r.active.req, true
}

// Pool returns the server pool of the running command, if it serves.
func (r *Runner) Pool() *server.Pool {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	if r.active == nil {
		return nil
	}
	return r.active.pool
}

// Switch asks the loop to change command. It never blocks, so it is safe to
// call from a watcher callback.
func (r *Runner) Switch(req registry.CommandRequest) {
	select {
	case r.switches <- req:
	default:
		r.logger.Warn(context.Background(), nil, "Command request dropped, loop is busy", "command", req.Command)
	}
}

// Run opens req and keeps it running until ctx is done. An error is
// returned only when a command cannot be opened, e.g. its path is missing.
func (r *Runner) Run(ctx context.Context, req registry.CommandRequest) error {
	if r.config.Watch.Notify && r.notifier == nil {
		n, err := watcher.NewNotifier(r.manager, r.manager.Interval()/10, r.logger)
		if err != nil {
			r.logger.Warn(ctx, err, "Kernel notifications unavailable, polling only")
		} else {
			r.notifier = n
			n.Start(ctx)
			defer func() {
				_ = n.Close()
				r.notifier = nil
			}()
		}
	}

	if err := r.open(ctx, req); err != nil {
		return err
	}
	defer r.Cancel()
	r.manager.Start()

	wait := r.config.Watch.WaitInterval
	if wait <= 0 {
		wait = config.DefaultWaitInterval
	}
	ticker := time.NewTicker(wait)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info(context.Background(), "Stopping")
			return nil

		case next := <-r.switches:
			current, _ := r.Active()
			if next.Same(current) {
				r.logger.Debug(ctx, "Already running", "command", next.Command, "path", next.Path)
				continue
			}

			r.logger.Info(ctx, "Switching command", "from", current.Command, "to", next.Command, "path", next.Path)
			r.Cancel()
			if err := r.open(ctx, next); err != nil {
				r.errs.Handle(ctx, err)
				if errors.IsFatalError(err) {
					return err
				}
				// Fall back to the command that was running.
				if err := r.open(ctx, current); err != nil {
					return err
				}
			}
			r.manager.Start()

		case <-ticker.C:
			if pool := r.Pool(); pool != nil {
				r.metrics.SetServers(pool.Len())
			}
			r.metrics.SetWatchers(r.manager.Len())
		}
	}
}

// open builds req's path, registers its watchers and, for view and edit,
// starts its servers. The manager must be stopped.
func (r *Runner) open(ctx context.Context, req registry.CommandRequest) error {
	if !IsLongRunning(req.Command) {
		return errors.NewValidationError(errors.ErrCodeValidationFailed, "unknown command: "+req.Command)
	}
	if req.Path == "" {
		req.Path = "."
	}
	if abs, err := filepath.Abs(req.Path); err == nil {
		req.Path = abs
	}
	if req.Host == "" {
		req.Host = r.config.Server.Host
	}
	if !req.PortSet {
		req.Port = r.config.Server.Port
		req.PortSet = true
	}

	cmd := &activeCommand{req: req}

	output := req.Output
	if output == "" {
		output = r.config.Build.Output
	}
	if req.Command == CommandEdit && req.Output == "" {
		dir, err := os.MkdirTemp("", "spindle-edit-*")
		if err != nil {
			return errors.WrapIO(err, "ERR_TEMP_DIR", "creating edit output directory")
		}
		cmd.tempDir = dir
		output = dir
	}

	opts := rebuild.Options{
		Pattern:       r.config.Build.Pattern,
		DefaultOutput: output,
		Ignore:        r.config.Watch.Ignore,
		Switch:        r.Switch,
		Metrics:       r.metrics,
	}
	if r.notifier != nil {
		opts.Notifier = r.notifier
	}
	if req.Command != CommandWatch {
		cmd.pool = server.NewPool(req.Host, req.Port, r.logger)
		opts.Listener = cmd.pool
	}

	cmd.orch = rebuild.New(r.manager, r.executor, r.logger, opts)
	res, err := cmd.orch.Watch(ctx, req.Path)
	if err != nil {
		cmd.close()
		return err
	}

	r.mutex.Lock()
	r.active = cmd
	r.mutex.Unlock()

	r.logger.Info(ctx, "Watching", "command", req.Command, "path", req.Path,
		"targets", len(res.Targets), "failures", len(res.Failures.Files()))

	if cmd.pool != nil {
		servers := cmd.pool.Servers()
		for _, s := range servers {
			r.logger.Info(ctx, "Serving", "url", s.URL(), "root", s.Root())
		}
		if len(servers) > 0 && (req.Command == CommandEdit || r.config.Server.Open) && r.OpenBrowser != nil {
			if err := r.OpenBrowser(servers[0].URL()); err != nil {
				r.logger.Warn(ctx, err, "Could not open browser", "url", servers[0].URL())
			}
		}
		r.metrics.SetServers(cmd.pool.Len())
	}

	for _, next := range res.Requests {
		r.Switch(next)
	}
	return nil
}

// Cancel tears the running command down: the manager is stopped first, then
// the watchers are cleared and finally the servers are stopped.
func (r *Runner) Cancel() {
	r.manager.Stop()

	r.mutex.Lock()
	cmd := r.active
	r.active = nil
	r.mutex.Unlock()

	r.manager.Clear()
	if cmd != nil {
		cmd.close()
	}
	r.metrics.SetServers(0)
	r.metrics.SetWatchers(0)
}

func (c *activeCommand) close() {
	if c.orch != nil {
		c.orch.Cancel()
	}
	if c.pool != nil {
		c.pool.StopAll()
	}
	if c.tempDir != "" {
		_ = os.RemoveAll(c.tempDir)
	}
}
