package watcher

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/conneroisu/spindle/internal/logging"
)

// Nudger is told that something on disk probably changed.
type Nudger interface {
	Nudge()
}

// Notifier listens for kernel file notifications and nudges a poller so a
// change is picked up before the next scheduled tick. It never reports
// changes itself; the poller stays the single source of truth, so a
// dropped or coalesced notification only costs latency.
type Notifier struct {
	watcher *fsnotify.Watcher
	target  Nudger
	delay   time.Duration
	logger  logging.Logger

	mutex  sync.Mutex
	timer  *time.Timer
	closed bool
	refs   map[string]int        // directory -> adds covering it
	roots  map[string][][]string // root -> directories of each add
}

// NewNotifier creates a notifier that nudges target at most once per delay.
func NewNotifier(target Nudger, delay time.Duration, logger logging.Logger) (*Notifier, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}

	return &Notifier{
		watcher: w,
		target:  target,
		delay:   delay,
		logger:  logger.WithComponent("notify"),
		refs:    make(map[string]int),
		roots:   make(map[string][][]string),
	}, nil
}

// AddRecursive watches root and every directory beneath it that filter
// accepts. Each call is undone by one Remove of the same root.
func (n *Notifier) AddRecursive(root string, filter FileFilter) error {
	var dirs []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			// Vanished while walking.
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if path != root && filter != nil && !filter(path) {
			return filepath.SkipDir
		}
		if err := n.watcher.Add(path); err != nil {
			return err
		}
		dirs = append(dirs, path)
		return nil
	})

	n.mutex.Lock()
	defer n.mutex.Unlock()
	for _, d := range dirs {
		n.refs[d]++
	}
	n.roots[root] = append(n.roots[root], dirs)
	return err
}

// Remove undoes the latest AddRecursive of root. A directory stays watched
// while another add still covers it. Unknown roots are ignored.
func (n *Notifier) Remove(root string) {
	n.mutex.Lock()
	defer n.mutex.Unlock()

	adds := n.roots[root]
	if len(adds) == 0 {
		return
	}
	dirs := adds[len(adds)-1]
	if len(adds) == 1 {
		delete(n.roots, root)
	} else {
		n.roots[root] = adds[:len(adds)-1]
	}

	for _, d := range dirs {
		n.refs[d]--
		if n.refs[d] > 0 {
			continue
		}
		delete(n.refs, d)
		_ = n.watcher.Remove(d)
	}
}

// Start runs the event loop until ctx is done or Close is called.
func (n *Notifier) Start(ctx context.Context) {
	go n.loop(ctx)
}

func (n *Notifier) loop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-n.watcher.Events:
			if !ok {
				return
			}
			n.handleEvent(event)
		case err, ok := <-n.watcher.Errors:
			if !ok {
				return
			}
			n.logger.Warn(ctx, err, "File notification error")
		}
	}
}

func (n *Notifier) handleEvent(event fsnotify.Event) {
	if event.Op&fsnotify.Create == fsnotify.Create {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			_ = n.watcher.Add(event.Name)
		}
	}
	if event.Op == fsnotify.Chmod {
		return
	}
	n.schedule()
}

// schedule coalesces bursts of events into one nudge.
func (n *Notifier) schedule() {
	n.mutex.Lock()
	defer n.mutex.Unlock()

	if n.closed || n.timer != nil {
		return
	}
	n.timer = time.AfterFunc(n.delay, func() {
		n.mutex.Lock()
		n.timer = nil
		closed := n.closed
		n.mutex.Unlock()

		if !closed {
			n.target.Nudge()
		}
	})
}

// Close stops the notifier. Pending nudges are dropped.
func (n *Notifier) Close() error {
	n.mutex.Lock()
	if n.closed {
		n.mutex.Unlock()
		return nil
	}
	n.closed = true
	if n.timer != nil {
		n.timer.Stop()
		n.timer = nil
	}
	n.mutex.Unlock()

	return n.watcher.Close()
}
