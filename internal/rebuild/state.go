package rebuild

import (
	"github.com/conneroisu/spindle/internal/registry"
	"github.com/conneroisu/spindle/internal/watcher"
)

// State of one build script.
type State int

const (
	StateIdle State = iota
	StateRebuilding
	StateError
)

// String returns the string representation of the State
func (s State) String() string {
	switch s {
	case StateRebuilding:
		return "rebuilding"
	case StateError:
		return "error"
	default:
		return "idle"
	}
}

// scriptState is everything the orchestrator knows about one script: its
// last good targets and the source watcher of each.
type scriptState struct {
	path     string
	state    State
	err      error
	targets  []registry.SiteRecord
	watchers map[string]*watcher.SimpleWatcher
}

func newScriptState(path string) *scriptState {
	return &scriptState{
		path:     path,
		watchers: make(map[string]*watcher.SimpleWatcher),
	}
}
