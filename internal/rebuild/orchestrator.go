// Package rebuild runs build scripts and keeps watchers and dev servers in
// step with the targets they produce.
package rebuild

import (
	"context"
	stderrors "errors"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/conneroisu/spindle/internal/config"
	"github.com/conneroisu/spindle/internal/errors"
	"github.com/conneroisu/spindle/internal/logging"
	"github.com/conneroisu/spindle/internal/monitoring"
	"github.com/conneroisu/spindle/internal/registry"
	"github.com/conneroisu/spindle/internal/script"
	"github.com/conneroisu/spindle/internal/watcher"
)

// Executor runs one build script against a build context.
type Executor interface {
	Execute(ctx context.Context, path string, bc *registry.BuildContext) error
}

// Listener is told about every rebuild. server.Pool implements it. Pause is
// always called before a script runs and Resume strictly after its targets
// were reconciled.
type Listener interface {
	Pause()
	Resume()
	Sync(script string, targets []registry.SiteRecord)
	Fail(script, traceback string)
	Drop(script string)
}

// Notifier adds kernel-level watches that nudge the polling manager.
type Notifier interface {
	AddRecursive(root string, filter watcher.FileFilter) error
	Remove(root string)
}

// Options configures an Orchestrator.
type Options struct {
	// Pattern matches build script base names. Defaults to "*.sh".
	Pattern string

	// DefaultOutput is the output directory of sites that do not name one.
	DefaultOutput string

	// Ignore holds globs, relative to a source root, that never trigger a
	// rebuild.
	Ignore []string

	Listener Listener

	// Switch receives command requests raised by scripts rebuilt from
	// inside the polling loop.
	Switch func(registry.CommandRequest)

	Notifier Notifier
	Metrics  *monitoring.Metrics
}

// Result is the outcome of one build pass.
type Result struct {
	// Targets are the used targets of every script, in script order then
	// declaration order.
	Targets []registry.SiteRecord

	// Failures maps failing scripts to their *script.Error.
	Failures *errors.ErrorCollector

	// Requests are the command requests the scripts raised.
	Requests []registry.CommandRequest
}

// Err returns the combined script failures, or nil.
func (r *Result) Err() error {
	return r.Failures.Err()
}

// Orchestrator builds a path once or keeps it built while a command runs.
type Orchestrator struct {
	manager  *watcher.Manager
	executor Executor
	logger   logging.Logger
	opts     Options

	mutex   sync.Mutex
	ctx     context.Context
	root    string
	rootDir bool
	scripts map[string]*scriptState
	watcher *watcher.Watcher

	// outputs holds every live output directory. Source watchers read it
	// from the polling goroutine, so it is published separately from mutex.
	outputs atomic.Pointer[[]string]
}

// New creates an orchestrator that registers its watchers with manager.
func New(manager *watcher.Manager, executor Executor, logger logging.Logger, opts Options) *Orchestrator {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	if opts.Pattern == "" {
		opts.Pattern = config.DefaultPattern
	}
	return &Orchestrator{
		manager:  manager,
		executor: executor,
		logger:   logger.WithComponent("rebuild"),
		opts:     opts,
		scripts:  make(map[string]*scriptState),
	}
}

// Scripts lists the build scripts at path: the file itself, or the
// top-level scripts of a directory in lexical order.
func (o *Orchestrator) Scripts(path string) ([]string, error) {
	abs, info, err := stat(path)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return []string{abs}, nil
	}

	entries, err := os.ReadDir(abs)
	if err != nil {
		return nil, errors.ErrPathNotFound(path, err)
	}
	var scripts []string
	for _, e := range entries {
		if e.Type().IsRegular() && script.IsScript(o.opts.Pattern, e.Name()) {
			scripts = append(scripts, filepath.Join(abs, e.Name()))
		}
	}
	return scripts, nil
}

func stat(path string) (string, os.FileInfo, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", nil, errors.ErrInvalidPath(path)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return "", nil, errors.ErrPathNotFound(path, err)
	}
	return abs, info, nil
}

// BuildPath runs every script at path once. A failing script is logged and
// recorded in the result; its siblings still run. Only a missing path is an
// error.
func (o *Orchestrator) BuildPath(ctx context.Context, path string) (*Result, error) {
	scripts, err := o.Scripts(path)
	if err != nil {
		return nil, err
	}

	res := &Result{Failures: errors.NewErrorCollector()}
	for _, s := range scripts {
		targets, requests, err := o.run(ctx, s)
		res.Targets = append(res.Targets, targets...)
		res.Requests = append(res.Requests, requests...)
		if err != nil {
			res.Failures.Add(s, err)
		}
	}
	return res, nil
}

// run executes one script in a fresh build context and returns the used
// targets it declared, including those declared before a failure.
func (o *Orchestrator) run(ctx context.Context, path string) ([]registry.SiteRecord, []registry.CommandRequest, error) {
	bc := registry.NewBuildContext(o.opts.DefaultOutput)
	bc.ScriptPattern = o.opts.Pattern
	bc.Enable()

	start := time.Now()
	err := o.executor.Execute(ctx, path, bc)
	elapsed := time.Since(start)
	o.opts.Metrics.ObserveRebuild(elapsed, err)

	targets, dumpErr := bc.Dump(true)
	if dumpErr != nil {
		// Only an executor that disabled the context gets here.
		panic(dumpErr)
	}
	requests := bc.TakeRequests()

	if err != nil {
		o.logger.Error(ctx, err, "Build script failed", "script", path, "traceback", traceback(err))
		return targets, requests, errors.ErrScriptFailed(path, err)
	}

	o.logger.Info(ctx, "Built", "script", path, "targets", len(targets), "duration", elapsed)
	return targets, requests, nil
}

// traceback renders err the way error pages show it.
func traceback(err error) string {
	var se *script.Error
	if stderrors.As(err, &se) {
		return se.Traceback()
	}
	return err.Error()
}

// Watch builds path and registers the watchers that keep it built: one for
// the build scripts and one per target source tree. Requests raised by the
// initial build are returned, not forwarded.
func (o *Orchestrator) Watch(ctx context.Context, path string) (*Result, error) {
	abs, info, err := stat(path)
	if err != nil {
		return nil, err
	}

	o.mutex.Lock()
	defer o.mutex.Unlock()

	o.ctx = ctx
	o.root = abs
	o.rootDir = info.IsDir()

	// The script watcher snapshots before the first build, so an edit made
	// while it runs is still seen on the next tick.
	dir, filter := abs, watcher.FileFilter(o.isScript)
	if !o.rootDir {
		dir, filter = filepath.Dir(abs), watcher.ExactFilter(abs)
	}
	w, err := watcher.New(dir, watcher.Options{Filter: filter})
	if err != nil {
		return nil, errors.ErrPathNotFound(path, err)
	}
	w.OnCreated = o.onScriptChanged
	w.OnModified = o.onScriptChanged
	w.OnDeleted = o.onScriptDeleted
	o.watcher = w
	o.manager.Add(w)

	scripts, err := o.Scripts(abs)
	if err != nil {
		return nil, err
	}

	res := &Result{Failures: errors.NewErrorCollector()}
	for _, s := range scripts {
		st := newScriptState(s)
		o.scripts[s] = st

		targets, requests, runErr := o.run(ctx, s)
		res.Targets = append(res.Targets, targets...)
		res.Requests = append(res.Requests, requests...)

		// There are no old targets yet, so whatever a failing script got
		// to declare is watched: fixing a source file rebuilds it too.
		o.reconcile(st, targets)
		if runErr != nil {
			res.Failures.Add(s, runErr)
			st.state, st.err = StateError, runErr
			o.fail(s, runErr)
		} else if o.opts.Listener != nil {
			o.opts.Listener.Sync(s, targets)
		}
	}

	if o.opts.Notifier != nil {
		if err := o.opts.Notifier.AddRecursive(w.Root(), watcher.NoHiddenFilter); err != nil {
			o.logger.Warn(ctx, err, "Kernel notifications unavailable", "path", dir)
		}
	}

	o.updateGauges()
	return res, nil
}

func (o *Orchestrator) isScript(p string) bool {
	return filepath.Dir(p) == o.root && script.IsScript(o.opts.Pattern, p)
}

func (o *Orchestrator) onScriptChanged(path string) {
	o.Rebuild(path)
}

func (o *Orchestrator) onScriptDeleted(path string) {
	o.Drop(path)
}

// Rebuild re-runs one script from inside the polling loop. A failure is
// isolated: the script keeps its previous targets and watchers, the
// listener shows the traceback and the error never leaves this call, so the
// script watcher stays alive to see the fix.
func (o *Orchestrator) Rebuild(path string) {
	o.mutex.Lock()
	ctx := o.ctx
	if ctx == nil {
		ctx = context.Background()
	}

	st, ok := o.scripts[path]
	if !ok {
		st = newScriptState(path)
		o.scripts[path] = st
		o.logger.Info(ctx, "New build script", "script", path)
	}
	st.state = StateRebuilding

	if o.opts.Listener != nil {
		o.opts.Listener.Pause()
	}

	targets, requests, err := o.run(ctx, path)
	if err != nil {
		st.state, st.err = StateError, err
		o.fail(path, err)
	} else {
		o.reconcile(st, targets)
		st.state, st.err = StateIdle, nil
		if o.opts.Listener != nil {
			o.opts.Listener.Sync(path, targets)
		}
	}

	if o.opts.Listener != nil {
		o.opts.Listener.Resume()
	}
	o.updateGauges()
	o.mutex.Unlock()

	o.forward(ctx, requests)
}

// forward hands requests to the command loop. Without a loop there is
// nobody to switch, so they are only logged.
func (o *Orchestrator) forward(ctx context.Context, requests []registry.CommandRequest) {
	for _, req := range requests {
		if o.opts.Switch == nil {
			o.logger.Warn(ctx, nil, "Command request ignored outside a command loop", "command", req.Command, "path", req.Path)
			continue
		}
		o.opts.Switch(req)
	}
}

func (o *Orchestrator) fail(path string, err error) {
	if o.opts.Listener != nil {
		o.opts.Listener.Fail(path, traceback(err))
	}
}

// Drop forgets a deleted script: its watchers, the output files no other
// target claims, and its servers.
func (o *Orchestrator) Drop(path string) {
	o.mutex.Lock()
	defer o.mutex.Unlock()

	st, ok := o.scripts[path]
	if !ok {
		return
	}
	ctx := o.ctx
	if ctx == nil {
		ctx = context.Background()
	}

	if o.opts.Listener != nil {
		o.opts.Listener.Pause()
	}
	o.reconcile(st, nil)
	delete(o.scripts, path)
	if o.opts.Listener != nil {
		o.opts.Listener.Drop(path)
		o.opts.Listener.Resume()
	}

	o.logger.Info(ctx, "Build script removed", "script", path)
	o.updateGauges()
}

// reconcile moves st from its old targets to targets: new targets get a
// source watcher, vanished ones lose it, and output files nothing produces
// any more are deleted.
func (o *Orchestrator) reconcile(st *scriptState, targets []registry.SiteRecord) {
	old := st.targets
	st.targets = targets
	o.publishOutputs()

	wanted := make(map[string]registry.SiteRecord, len(targets))
	for _, t := range targets {
		wanted[t.Key()] = t
	}

	for key, w := range st.watchers {
		if _, ok := wanted[key]; ok {
			continue
		}
		if err := o.manager.Remove(w); err != nil {
			o.logger.Error(context.Background(), err, "Watcher bookkeeping out of step", "root", w.Root())
		}
		o.unnotify(w)
		delete(st.watchers, key)
	}

	for _, t := range targets {
		if _, ok := st.watchers[t.Key()]; ok {
			continue
		}
		w, err := o.sourceWatcher(t)
		if err != nil {
			o.logger.Warn(context.Background(), err, "Cannot watch source", "source", t.Source)
			continue
		}
		st.watchers[t.Key()] = w
		o.manager.Add(w)
	}

	o.removeStale(old)
}

func (o *Orchestrator) sourceWatcher(t registry.SiteRecord) (*watcher.SimpleWatcher, error) {
	scriptPath := t.Script
	scriptDir := filepath.Dir(scriptPath)
	filter := watcher.AllFilters(
		watcher.NoHiddenFilter,
		watcher.ExcludeTreeFilter(t.Output),
		o.notOutput,
		watcher.ExcludePathsFilter(scriptPath),
		func(p string) bool {
			return filepath.Dir(p) != scriptDir || !script.IsScript(o.opts.Pattern, p)
		},
		watcher.IgnoreFilter(t.Source, o.opts.Ignore),
	)

	w, err := watcher.NewSimple(t.Source, watcher.Options{Recursive: true, Filter: filter}, func() {
		o.Rebuild(scriptPath)
	})
	if err != nil {
		return nil, err
	}

	if o.opts.Notifier != nil {
		if err := o.opts.Notifier.AddRecursive(w.Root(), filter); err != nil {
			o.logger.Warn(context.Background(), err, "Kernel notifications unavailable", "path", t.Source)
		}
	}
	return w, nil
}

func (o *Orchestrator) unnotify(w watcher.Checkable) {
	if o.opts.Notifier != nil {
		o.opts.Notifier.Remove(w.Root())
	}
}

func (o *Orchestrator) publishOutputs() {
	var outputs []string
	for _, st := range o.scripts {
		for _, t := range st.targets {
			outputs = append(outputs, filepath.Clean(t.Output))
		}
	}
	o.outputs.Store(&outputs)
}

// notOutput rejects paths inside any live output directory, so one
// script's output never retriggers a sibling whose source tree holds it.
func (o *Orchestrator) notOutput(p string) bool {
	outputs := o.outputs.Load()
	if outputs == nil {
		return true
	}
	p = filepath.Clean(p)
	for _, out := range *outputs {
		if p == out || strings.HasPrefix(p, out+string(filepath.Separator)) {
			return false
		}
	}
	return true
}

// removeStale deletes files that old targets wrote and no live target of any
// script still claims.
func (o *Orchestrator) removeStale(old []registry.SiteRecord) {
	if len(old) == 0 {
		return
	}

	claimed := make(map[string]struct{})
	for _, st := range o.scripts {
		for _, t := range st.targets {
			for _, f := range t.OutputFiles() {
				claimed[f] = struct{}{}
			}
		}
	}

	for _, t := range old {
		for _, f := range t.OutputFiles() {
			if _, ok := claimed[f]; ok {
				continue
			}
			if err := os.Remove(f); err != nil && !os.IsNotExist(err) {
				o.logger.Warn(context.Background(), err, "Cannot remove stale output", "file", f)
				continue
			}
			o.logger.Debug(context.Background(), "Removed stale output", "file", f)
			pruneEmptyDirs(filepath.Dir(f), t.Output)
		}
	}
}

// pruneEmptyDirs removes empty directories from dir up to, not including,
// stop.
func pruneEmptyDirs(dir, stop string) {
	stop = filepath.Clean(stop)
	for dir = filepath.Clean(dir); dir != stop && len(dir) > len(stop); dir = filepath.Dir(dir) {
		if err := os.Remove(dir); err != nil {
			return
		}
	}
}

// Cancel unregisters every watcher the orchestrator owns.
func (o *Orchestrator) Cancel() {
	o.mutex.Lock()
	defer o.mutex.Unlock()

	if o.watcher != nil {
		if o.manager.Contains(o.watcher) {
			_ = o.manager.Remove(o.watcher)
		}
		o.unnotify(o.watcher)
	}
	o.watcher = nil

	for _, st := range o.scripts {
		for key, w := range st.watchers {
			if o.manager.Contains(w) {
				_ = o.manager.Remove(w)
			}
			o.unnotify(w)
			delete(st.watchers, key)
		}
	}
	o.scripts = make(map[string]*scriptState)
	o.publishOutputs()
	o.updateGauges()
}

// State returns the state of script and its last error.
func (o *Orchestrator) State(path string) (State, error) {
	o.mutex.Lock()
	defer o.mutex.Unlock()
	st, ok := o.scripts[path]
	if !ok {
		return StateIdle, nil
	}
	return st.state, st.err
}

// Targets returns the last good targets of every script, in script order.
func (o *Orchestrator) Targets() []registry.SiteRecord {
	o.mutex.Lock()
	defer o.mutex.Unlock()

	var out []registry.SiteRecord
	for _, p := range o.scriptPaths() {
		out = append(out, o.scripts[p].targets...)
	}
	return out
}

// SourceWatchers returns how many source trees are watched.
func (o *Orchestrator) SourceWatchers() int {
	o.mutex.Lock()
	defer o.mutex.Unlock()
	return o.sourceWatchers()
}

func (o *Orchestrator) sourceWatchers() int {
	n := 0
	for _, st := range o.scripts {
		n += len(st.watchers)
	}
	return n
}

func (o *Orchestrator) scriptPaths() []string {
	paths := make([]string, 0, len(o.scripts))
	for p := range o.scripts {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

func (o *Orchestrator) updateGauges() {
	failing := 0
	for _, st := range o.scripts {
		if st.state == StateError {
			failing++
		}
	}
	o.opts.Metrics.SetFailing(failing)
	o.opts.Metrics.SetWatchers(o.manager.Len())
}
