package watcher

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/conneroisu/spindle/internal/errors"
	"github.com/conneroisu/spindle/internal/logging"
)

var activePollers atomic.Int64

// ActivePollers returns the number of started managers in the process. A
// command switch must never leave more than one behind.
func ActivePollers() int64 {
	return activePollers.Load()
}

// Manager polls a set of watchers on a fixed interval. Each tick schedules
// the next one, so a slow tick delays the schedule instead of overlapping it.
//
// Watchers may be added or removed at any time, including from inside a
// watcher callback. A watcher removed during a tick is not checked for the
// rest of that tick.
type Manager struct {
	interval time.Duration
	logger   logging.Logger

	mu       sync.Mutex
	watchers []Checkable
	running  bool
	timer    *time.Timer
	inflight sync.WaitGroup

	// checkMu serializes ticks with explicit Check calls.
	checkMu sync.Mutex
	ticks   atomic.Uint64
}

// NewManager creates a stopped manager.
func NewManager(interval time.Duration, logger logging.Logger) *Manager {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Manager{
		interval: interval,
		logger:   logger.WithComponent("watcher"),
	}
}

// Interval returns the polling interval.
func (m *Manager) Interval() time.Duration {
	return m.interval
}

// Add registers w. Adding a watcher twice is a no-op.
func (m *Manager) Add(w Checkable) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.indexOf(w) >= 0 {
		return
	}
	m.watchers = append(m.watchers, w)
}

// Remove unregisters w. Removing a watcher that was never added is an
// internal error.
func (m *Manager) Remove(w Checkable) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	i := m.indexOf(w)
	if i < 0 {
		return errors.ErrUnknownWatcher(w.Root())
	}
	m.watchers = append(m.watchers[:i], m.watchers[i+1:]...)
	return nil
}

// Contains reports whether w is registered.
func (m *Manager) Contains(w Checkable) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.indexOf(w) >= 0
}

// Len returns the number of registered watchers.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.watchers)
}

// Watchers returns the registered watchers in insertion order.
func (m *Manager) Watchers() []Checkable {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Checkable, len(m.watchers))
	copy(out, m.watchers)
	return out
}

// Clear unregisters every watcher.
func (m *Manager) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.watchers = nil
}

func (m *Manager) indexOf(w Checkable) int {
	for i, existing := range m.watchers {
		if existing == w {
			return i
		}
	}
	return -1
}

// Ticks returns how many scheduled ticks have completed.
func (m *Manager) Ticks() uint64 {
	return m.ticks.Load()
}

// Running reports whether the schedule is armed.
func (m *Manager) Running() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

// Start arms the schedule. The first tick runs immediately. Starting a
// running manager is a no-op.
func (m *Manager) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return
	}
	m.running = true
	activePollers.Add(1)
	m.timer = time.AfterFunc(0, m.tick)
}

// Stop disarms the schedule and waits for an in-flight tick to finish. After
// Stop returns no callback of this manager is running or will run.
//
// Stop must not be called from a watcher callback; the tick would wait on
// itself.
func (m *Manager) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	m.timer.Stop()
	m.mu.Unlock()

	m.inflight.Wait()
	activePollers.Add(-1)
}

// Nudge pulls the next tick forward to now. It is a no-op while a tick is
// already running or the manager is stopped.
func (m *Manager) Nudge() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running && m.timer.Stop() {
		m.timer.Reset(0)
	}
}

func (m *Manager) tick() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.inflight.Add(1)
	m.mu.Unlock()

	defer m.inflight.Done()

	m.Check()

	m.mu.Lock()
	if m.running {
		m.timer.Reset(m.interval)
	}
	m.mu.Unlock()

	m.ticks.Add(1)
}

// Check polls every registered watcher once, in insertion order.
func (m *Manager) Check() {
	m.checkMu.Lock()
	defer m.checkMu.Unlock()

	for _, w := range m.Watchers() {
		// Removed by an earlier callback in this pass.
		if !m.Contains(w) {
			continue
		}
		m.checkOne(w)
	}
}

func (m *Manager) checkOne(w Checkable) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error(context.Background(), fmt.Errorf("panic: %v", r),
				"Watcher callback panicked", "root", w.Root())
		}
	}()

	for _, ev := range w.Check().Events() {
		m.logger.Debug(context.Background(), "File changed", "event", ev.Type.String(), "path", ev.Path, "root", w.Root())
	}
}
