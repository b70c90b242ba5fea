package registry

import (
	"path/filepath"
	"sort"
)

// Meta is a string map that remembers insertion order.
type Meta struct {
	keys   []string
	values map[string]string
}

// Set stores value under key. Re-setting a key keeps its position.
func (m *Meta) Set(key, value string) {
	if m.values == nil {
		m.values = make(map[string]string)
	}
	if _, ok := m.values[key]; !ok {
		m.keys = append(m.keys, key)
	}
	m.values[key] = value
}

// Get returns the value for key.
func (m *Meta) Get(key string) (string, bool) {
	v, ok := m.values[key]
	return v, ok
}

// Keys returns keys in insertion order.
func (m *Meta) Keys() []string {
	out := make([]string, len(m.keys))
	copy(out, m.keys)
	return out
}

// Len returns the number of keys.
func (m *Meta) Len() int {
	return len(m.keys)
}

// Map returns an unordered copy.
func (m *Meta) Map() map[string]string {
	out := make(map[string]string, len(m.values))
	for k, v := range m.values {
		out[k] = v
	}
	return out
}

// Clone returns an independent copy.
func (m *Meta) Clone() Meta {
	var c Meta
	for _, k := range m.keys {
		c.Set(k, m.values[k])
	}
	return c
}

// SiteRecord is what the tracker remembers about one build target.
type SiteRecord struct {
	ID      int64
	Script  string
	Source  string
	Output  string
	Default bool
	Used    bool

	// Files are output-relative paths written during the pass, sorted.
	Files []string
	Meta  Meta
}

// Key identifies a target across passes. Two passes that declare the same
// script, source and output describe the same target.
func (r SiteRecord) Key() string {
	return r.Script + "\x00" + r.Source + "\x00" + r.Output
}

// OutputFiles returns absolute paths of the files the target wrote.
func (r SiteRecord) OutputFiles() []string {
	out := make([]string, 0, len(r.Files))
	for _, f := range r.Files {
		out = append(out, filepath.Join(r.Output, filepath.FromSlash(f)))
	}
	sort.Strings(out)
	return out
}

// CommandRequest asks the running command loop to switch to another command.
// Scripts raise it with the watch, view and edit builtins.
type CommandRequest struct {
	Command string
	Path    string
	Host    string
	Port    int
	Output  string

	// PortSet marks Port as given explicitly. An explicit 0 lets the OS
	// choose ports; otherwise the configured port is used.
	PortSet bool
}

// Same reports whether two requests name the same command on the same path.
func (c CommandRequest) Same(other CommandRequest) bool {
	return c.Command == other.Command && filepath.Clean(c.Path) == filepath.Clean(other.Path)
}
