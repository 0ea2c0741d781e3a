package scheduler

import (
	"sync"
	"time"
)

type debounceEntry struct {
	fn       func()
	deadline time.Time
}

// DebounceManager coalesces bursts of calls per operation id: only the most
// recently registered function fires, once the quiet window elapses. Pending
// deadlines are evaluated by the owning scheduler's tick loop rather than
// per-call timers.
type DebounceManager struct {
	mu      sync.Mutex
	pending map[string]*debounceEntry
}

func NewDebounceManager() *DebounceManager {
	return &DebounceManager{
		pending: make(map[string]*debounceEntry),
	}
}

// Debounce registers fn under the operation id, replacing any pending
// registration and restarting the quiet window.
func (d *DebounceManager) Debounce(operationID string, fn func(), delay time.Duration) {
	if operationID == "" || fn == nil {
		return
	}

	d.mu.Lock()
	d.pending[operationID] = &debounceEntry{
		fn:       fn,
		deadline: time.Now().Add(delay),
	}
	d.mu.Unlock()
}

// due removes and returns every function whose quiet window has elapsed.
func (d *DebounceManager) due(now time.Time) []func() {
	d.mu.Lock()
	defer d.mu.Unlock()

	var fns []func()
	for id, entry := range d.pending {
		if !now.Before(entry.deadline) {
			fns = append(fns, entry.fn)
			delete(d.pending, id)
		}
	}
	return fns
}

// Cancel drops a pending registration without firing it.
func (d *DebounceManager) Cancel(operationID string) {
	d.mu.Lock()
	delete(d.pending, operationID)
	d.mu.Unlock()
}

func (d *DebounceManager) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.pending)
}
