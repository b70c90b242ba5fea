// Package watcher implements polling filesystem watchers and the Manager that
// drives them on a fixed interval.
//
// A Watcher keeps a snapshot of one subtree and, on every Check, walks the
// tree again and diffs the result against the snapshot. Polling is used so
// that create, modify and delete semantics are identical on every platform
// and so that watchers can be added and removed while a tick is running.
package watcher

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

// Kind distinguishes files from directories in a snapshot.
type Kind int

const (
	KindFile Kind = iota
	KindDir
)

// String returns the string representation of the Kind
func (k Kind) String() string {
	if k == KindDir {
		return "dir"
	}
	return "file"
}

// Identity is enough to notice a modification without reading content.
type Identity struct {
	ModTime time.Time
	Size    int64
	Mode    fs.FileMode
	UID     uint32
	GID     uint32
}

// Entry is one observed path.
type Entry struct {
	Path     string
	Kind     Kind
	Identity Identity
}

// Snapshot maps absolute paths to their last observed entry.
type Snapshot map[string]Entry

// Equal reports whether two snapshots hold the same paths with the same
// identities.
func (s Snapshot) Equal(other Snapshot) bool {
	if len(s) != len(other) {
		return false
	}
	for path, entry := range s {
		o, ok := other[path]
		if !ok || !entry.equal(o) {
			return false
		}
	}
	return true
}

func (e Entry) equal(o Entry) bool {
	return e.Kind == o.Kind &&
		e.Identity.ModTime.Equal(o.Identity.ModTime) &&
		e.Identity.Size == o.Identity.Size &&
		e.Identity.Mode == o.Identity.Mode &&
		e.Identity.UID == o.Identity.UID &&
		e.Identity.GID == o.Identity.GID
}

// EventType represents the type of file change
type EventType int

const (
	EventTypeCreated EventType = iota
	EventTypeModified
	EventTypeDeleted
)

// String returns the string representation of the EventType
func (e EventType) String() string {
	switch e {
	case EventTypeCreated:
		return "created"
	case EventTypeModified:
		return "modified"
	case EventTypeDeleted:
		return "deleted"
	default:
		return "unknown"
	}
}

// ChangeEvent represents a single file change
type ChangeEvent struct {
	Type EventType
	Path string
}

// ChangeSet is the result of one Check. Each list is sorted.
type ChangeSet struct {
	Created  []string
	Modified []string
	Deleted  []string
}

// Empty reports whether nothing changed.
func (c ChangeSet) Empty() bool {
	return len(c.Created) == 0 && len(c.Modified) == 0 && len(c.Deleted) == 0
}

// Events flattens the change set in created, modified, deleted order.
func (c ChangeSet) Events() []ChangeEvent {
	events := make([]ChangeEvent, 0, len(c.Created)+len(c.Modified)+len(c.Deleted))
	for _, p := range c.Created {
		events = append(events, ChangeEvent{Type: EventTypeCreated, Path: p})
	}
	for _, p := range c.Modified {
		events = append(events, ChangeEvent{Type: EventTypeModified, Path: p})
	}
	for _, p := range c.Deleted {
		events = append(events, ChangeEvent{Type: EventTypeDeleted, Path: p})
	}
	return events
}

// Checkable is anything the Manager can poll.
type Checkable interface {
	Check() ChangeSet
	Root() string
}

// Options configure the subtree a watcher observes.
type Options struct {
	// Recursive walks the whole tree; otherwise only the top level is read.
	Recursive bool

	// Filter decides which paths are recorded. A directory that fails the
	// filter is not descended into. Nil accepts everything.
	Filter FileFilter
}

// tree holds the snapshot logic shared by both watcher flavours.
type tree struct {
	root      string
	recursive bool
	filter    FileFilter

	mu       sync.Mutex
	snapshot Snapshot
}

func newTree(root string, opts Options) (*tree, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	filter := opts.Filter
	if filter == nil {
		filter = func(string) bool { return true }
	}

	t := &tree{
		root:      abs,
		recursive: opts.Recursive,
		filter:    filter,
	}
	t.snapshot = t.scan()
	return t, nil
}

// scan walks the tree and returns a fresh snapshot. Paths that vanish
// between listing and stat are simply left out, which later reads as a
// deletion.
func (t *tree) scan() Snapshot {
	snap := make(Snapshot)
	t.scanDir(t.root, snap)
	return snap
}

func (t *tree) scanDir(dir string, snap Snapshot) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return
	}

	for _, de := range entries {
		path := filepath.Join(dir, de.Name())
		if !t.filter(path) {
			continue
		}

		info, err := os.Lstat(path)
		if err != nil {
			continue
		}

		entry := Entry{Path: path, Kind: KindFile, Identity: identityOf(info)}
		if info.IsDir() {
			entry.Kind = KindDir
		}
		snap[path] = entry

		if entry.Kind == KindDir && t.recursive {
			t.scanDir(path, snap)
		}
	}
}

// diff rescans, replaces the snapshot and reports what changed.
func (t *tree) diff() (ChangeSet, bool) {
	next := t.scan()

	t.mu.Lock()
	prev := t.snapshot
	t.snapshot = next
	t.mu.Unlock()

	var cs ChangeSet
	for path, entry := range next {
		old, ok := prev[path]
		switch {
		case !ok:
			cs.Created = append(cs.Created, path)
		case !old.equal(entry):
			cs.Modified = append(cs.Modified, path)
		}
	}
	for path := range prev {
		if _, ok := next[path]; !ok {
			cs.Deleted = append(cs.Deleted, path)
		}
	}

	sort.Strings(cs.Created)
	sort.Strings(cs.Modified)
	sort.Strings(cs.Deleted)

	return cs, !prev.Equal(next)
}

func (t *tree) Root() string {
	return t.root
}

// Snapshot returns a copy of the current snapshot.
func (t *tree) Snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make(Snapshot, len(t.snapshot))
	for k, v := range t.snapshot {
		out[k] = v
	}
	return out
}

// Watcher reports created, modified and deleted paths one by one. It is used
// for build scripts, where each event matters on its own.
type Watcher struct {
	*tree

	OnCreated  func(path string)
	OnModified func(path string)
	OnDeleted  func(path string)
}

// New creates a granular watcher rooted at root. The initial snapshot is
// taken immediately, so an unchanged tree reports nothing on the first Check.
func New(root string, opts Options) (*Watcher, error) {
	t, err := newTree(root, opts)
	if err != nil {
		return nil, err
	}
	return &Watcher{tree: t}, nil
}

// Check rescans the tree and fires one callback per affected path.
func (w *Watcher) Check() ChangeSet {
	cs, _ := w.diff()

	for _, p := range cs.Created {
		if w.OnCreated != nil {
			w.OnCreated(p)
		}
	}
	for _, p := range cs.Modified {
		if w.OnModified != nil {
			w.OnModified(p)
		}
	}
	for _, p := range cs.Deleted {
		if w.OnDeleted != nil {
			w.OnDeleted(p)
		}
	}

	return cs
}

// SimpleWatcher fires a single bound target when anything in its tree
// changed, no matter how many paths did. A source tree rebuild is one
// operation, not one per file.
type SimpleWatcher struct {
	*tree

	target func()
}

// NewSimple creates a coarse watcher that calls target on change.
func NewSimple(root string, opts Options, target func()) (*SimpleWatcher, error) {
	if target == nil {
		return nil, errors.New("watcher: nil target")
	}
	t, err := newTree(root, opts)
	if err != nil {
		return nil, err
	}
	return &SimpleWatcher{tree: t, target: target}, nil
}

// Check rescans the tree and calls the target once if the snapshot changed.
func (w *SimpleWatcher) Check() ChangeSet {
	cs, changed := w.diff()
	if changed {
		w.target()
	}
	return cs
}
