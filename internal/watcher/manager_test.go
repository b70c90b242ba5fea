package watcher

import (
	"bytes"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conneroisu/spindle/internal/errors"
	"github.com/conneroisu/spindle/internal/logging"
)

// fakeWatcher counts checks and optionally runs a hook inside Check.
type fakeWatcher struct {
	root   string
	checks atomic.Int32
	hook   func()
}

func (f *fakeWatcher) Check() ChangeSet {
	f.checks.Add(1)
	if f.hook != nil {
		f.hook()
	}
	return ChangeSet{}
}

func (f *fakeWatcher) Root() string { return f.root }

func TestManagerAddIsIdempotent(t *testing.T) {
	m := NewManager(time.Hour, nil)
	w := &fakeWatcher{root: "/a"}

	m.Add(w)
	m.Add(w)
	assert.Equal(t, 1, m.Len())
	assert.True(t, m.Contains(w))
}

func TestManagerRemoveUnknown(t *testing.T) {
	m := NewManager(time.Hour, nil)

	err := m.Remove(&fakeWatcher{root: "/nope"})
	require.Error(t, err)
	assert.True(t, errors.IsInternal(err))
	assert.True(t, errors.HasCode(err, errors.ErrCodeUnknownWatcher))
}

func TestManagerCheckOrderAndRemovalDuringPass(t *testing.T) {
	m := NewManager(time.Hour, nil)

	var order []string
	second := &fakeWatcher{root: "/b"}
	first := &fakeWatcher{root: "/a"}
	first.hook = func() {
		order = append(order, "a")
		require.NoError(t, m.Remove(second))
	}
	second.hook = func() { order = append(order, "b") }
	third := &fakeWatcher{root: "/c", hook: func() { order = append(order, "c") }}

	m.Add(first)
	m.Add(second)
	m.Add(third)
	m.Check()

	assert.Equal(t, []string{"a", "c"}, order)
	assert.Equal(t, int32(0), second.checks.Load())
}

func TestManagerAddDuringPassIsPickedUpNextTick(t *testing.T) {
	m := NewManager(time.Hour, nil)
	late := &fakeWatcher{root: "/late"}
	first := &fakeWatcher{root: "/a"}
	first.hook = func() { m.Add(late) }

	m.Add(first)
	m.Check()
	assert.Equal(t, int32(0), late.checks.Load())

	m.Check()
	assert.Equal(t, int32(1), late.checks.Load())
}

func TestManagerRecoversPanics(t *testing.T) {
	m := NewManager(time.Hour, nil)
	bad := &fakeWatcher{root: "/bad", hook: func() { panic("boom") }}
	good := &fakeWatcher{root: "/good"}

	m.Add(bad)
	m.Add(good)

	assert.NotPanics(t, m.Check)
	assert.Equal(t, int32(1), good.checks.Load())
}

func TestManagerStartTicksImmediately(t *testing.T) {
	m := NewManager(time.Hour, nil)
	w := &fakeWatcher{root: "/a"}
	m.Add(w)

	m.Start()
	defer m.Stop()

	assert.Eventually(t, func() bool { return w.checks.Load() == 1 }, 2*time.Second, 5*time.Millisecond)
}

func TestManagerReschedules(t *testing.T) {
	m := NewManager(10*time.Millisecond, nil)
	w := &fakeWatcher{root: "/a"}
	m.Add(w)

	m.Start()
	defer m.Stop()

	assert.Eventually(t, func() bool { return m.Ticks() >= 3 }, 2*time.Second, 5*time.Millisecond)
}

func TestManagerStopJoinsInflightTick(t *testing.T) {
	m := NewManager(time.Hour, nil)

	entered := make(chan struct{})
	release := make(chan struct{})
	var finished atomic.Bool

	w := &fakeWatcher{root: "/slow"}
	w.hook = func() {
		close(entered)
		<-release
		finished.Store(true)
	}
	m.Add(w)
	m.Start()

	<-entered
	stopped := make(chan struct{})
	go func() {
		m.Stop()
		close(stopped)
	}()

	select {
	case <-stopped:
		t.Fatal("Stop returned while a tick was in flight")
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	<-stopped
	assert.True(t, finished.Load())
	assert.False(t, m.Running())
}

func TestManagerStopIsFinal(t *testing.T) {
	m := NewManager(5*time.Millisecond, nil)
	w := &fakeWatcher{root: "/a"}
	m.Add(w)

	m.Start()
	require.Eventually(t, func() bool { return w.checks.Load() > 0 }, 2*time.Second, time.Millisecond)
	m.Stop()

	after := w.checks.Load()
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, after, w.checks.Load())
}

func TestManagerRestartKeepsOnePoller(t *testing.T) {
	base := ActivePollers()
	m := NewManager(time.Hour, nil)

	m.Start()
	m.Start()
	assert.Equal(t, base+1, ActivePollers())

	m.Stop()
	m.Stop()
	assert.Equal(t, base, ActivePollers())

	m.Start()
	assert.Equal(t, base+1, ActivePollers())
	m.Stop()
	assert.Equal(t, base, ActivePollers())
}

func TestManagerNudge(t *testing.T) {
	m := NewManager(time.Hour, nil)
	w := &fakeWatcher{root: "/a"}
	m.Add(w)

	m.Start()
	defer m.Stop()
	require.Eventually(t, func() bool { return m.Ticks() == 1 }, 2*time.Second, time.Millisecond)

	m.Nudge()
	assert.Eventually(t, func() bool { return m.Ticks() == 2 }, 2*time.Second, time.Millisecond)
}

func TestManagerWithRealWatchers(t *testing.T) {
	root := t.TempDir()
	m := NewManager(10*time.Millisecond, nil)

	var mu sync.Mutex
	var created []string
	w, err := New(root, Options{})
	require.NoError(t, err)
	w.OnCreated = func(p string) {
		mu.Lock()
		created = append(created, p)
		mu.Unlock()
	}
	m.Add(w)
	m.Start()
	defer m.Stop()

	writeFile(t, filepath.Join(root, "x.sh"), "echo")

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(created) == 1
	}, 2*time.Second, 5*time.Millisecond)
}

type changingWatcher struct {
	root    string
	changes ChangeSet
}

func (c *changingWatcher) Check() ChangeSet { return c.changes }

func (c *changingWatcher) Root() string { return c.root }

func TestManagerLogsChanges(t *testing.T) {
	var buf bytes.Buffer
	logger := logging.NewLogger(&logging.LoggerConfig{
		Level:  logging.LevelDebug,
		Format: "text",
		Output: &buf,
	})
	m := NewManager(time.Hour, logger)
	m.Add(&changingWatcher{root: "/a", changes: ChangeSet{
		Created: []string{"/a/new.txt"},
		Deleted: []string{"/a/old.txt"},
	}})

	m.Check()

	out := buf.String()
	assert.Contains(t, out, "event=created")
	assert.Contains(t, out, "path=/a/new.txt")
	assert.Contains(t, out, "event=deleted")
	assert.Contains(t, out, "path=/a/old.txt")
}
