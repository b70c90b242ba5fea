// Package registry tracks the build targets a build pass declares.
package registry

import (
	"sort"
	"sync"

	"github.com/conneroisu/spindle/internal/errors"
)

// BuildContext collects every target instantiated while tracking is enabled.
// One context belongs to one build pass; it is passed explicitly into script
// execution instead of living in process-wide state.
type BuildContext struct {
	// DefaultOutput is the output directory for sites that do not name one.
	DefaultOutput string

	// ScriptPattern matches build script base names, which a site never
	// publishes.
	ScriptPattern string

	mutex    sync.RWMutex
	enabled  bool
	records  map[int64]SiteRecord
	requests []CommandRequest
}

// NewBuildContext creates a disabled context.
func NewBuildContext(defaultOutput string) *BuildContext {
	return &BuildContext{
		DefaultOutput: defaultOutput,
		records:       make(map[int64]SiteRecord),
	}
}

// Enable starts tracking.
func (bc *BuildContext) Enable() {
	bc.mutex.Lock()
	defer bc.mutex.Unlock()
	bc.enabled = true
}

// Disable stops tracking without discarding records.
func (bc *BuildContext) Disable() {
	bc.mutex.Lock()
	defer bc.mutex.Unlock()
	bc.enabled = false
}

// Enabled reports whether Update records anything.
func (bc *BuildContext) Enabled() bool {
	bc.mutex.RLock()
	defer bc.mutex.RUnlock()
	return bc.enabled
}

// Update records or refreshes a target. It is a no-op while disabled.
func (bc *BuildContext) Update(record SiteRecord) {
	bc.mutex.Lock()
	defer bc.mutex.Unlock()

	if !bc.enabled {
		return
	}

	bc.records[record.ID] = record
}

// Len returns the number of records held.
func (bc *BuildContext) Len() int {
	bc.mutex.RLock()
	defer bc.mutex.RUnlock()
	return len(bc.records)
}

// Dump returns the recorded targets in declaration order, clears them and
// disables tracking. With skipUnused, targets that never produced anything
// are left out. Dumping a disabled context is a contract violation.
func (bc *BuildContext) Dump(skipUnused bool) ([]SiteRecord, error) {
	bc.mutex.Lock()
	defer bc.mutex.Unlock()

	if !bc.enabled {
		return nil, errors.ErrTrackerDisabled()
	}

	out := make([]SiteRecord, 0, len(bc.records))
	for _, r := range bc.records {
		if skipUnused && !r.Used {
			continue
		}
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })

	bc.records = make(map[int64]SiteRecord)
	bc.enabled = false

	return out, nil
}

// RequestCommand queues a control-transfer request raised during the pass.
func (bc *BuildContext) RequestCommand(req CommandRequest) {
	bc.mutex.Lock()
	defer bc.mutex.Unlock()
	bc.requests = append(bc.requests, req)
}

// TakeRequests returns and clears the queued requests.
func (bc *BuildContext) TakeRequests() []CommandRequest {
	bc.mutex.Lock()
	defer bc.mutex.Unlock()
	out := bc.requests
	bc.requests = nil
	return out
}
