package telegram

import (
	"sync"
	"time"

	"watchpost/internal/database"
	"watchpost/internal/observability"
)

// PendingFeedback is what a reply to an alert needs to correct its event.
type PendingFeedback struct {
	Timestamp    time.Time
	OriginalPath string
	ZoomPath     string
	Status       database.Status
	CreatedAt    time.Time
}

type pendingEntry struct {
	feedback PendingFeedback
	handles  []int64
}

// PendingTable maps correlation handles (message ids) to pending feedback.
// Several handles may alias one entry; removing through any of them removes
// the entry for all.
type PendingTable struct {
	mu      sync.Mutex
	handles map[int64]*pendingEntry
	entries int
	ttl     time.Duration
	now     func() time.Time
}

// NewPendingTable creates a table whose entries expire after ttl. A ttl of
// zero keeps entries until they are resolved.
func NewPendingTable(ttl time.Duration) *PendingTable {
	return &PendingTable{
		handles: make(map[int64]*pendingEntry),
		ttl:     ttl,
		now:     time.Now,
	}
}

// Register creates an entry under handle.
func (t *PendingTable) Register(handle int64, fb PendingFeedback) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if fb.CreatedAt.IsZero() {
		fb.CreatedAt = t.now()
	}
	if old, ok := t.handles[handle]; ok {
		t.dropLocked(old)
	}
	t.handles[handle] = &pendingEntry{feedback: fb, handles: []int64{handle}}
	t.entries++
	observability.PendingFeedback.Set(float64(t.entries))
}

// Alias makes alias resolve to the same entry as handle. It reports false
// when handle is unknown.
func (t *PendingTable) Alias(handle, alias int64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.handles[handle]
	if !ok {
		return false
	}
	if other, taken := t.handles[alias]; taken && other != e {
		t.dropLocked(other)
	}
	t.handles[alias] = e
	e.handles = append(e.handles, alias)
	return true
}

// Lookup resolves a handle. Expired entries are removed and reported missing.
func (t *PendingTable) Lookup(handle int64) (PendingFeedback, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.handles[handle]
	if !ok {
		return PendingFeedback{}, false
	}
	if t.expiredLocked(e, t.now()) {
		t.dropLocked(e)
		return PendingFeedback{}, false
	}
	return e.feedback, true
}

// Remove deletes the entry behind handle together with all its aliases.
func (t *PendingTable) Remove(handle int64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if e, ok := t.handles[handle]; ok {
		t.dropLocked(e)
	}
}

// Sweep drops entries older than the ttl and returns how many were dropped.
func (t *PendingTable) Sweep(now time.Time) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	seen := make(map[*pendingEntry]bool)
	var expired []*pendingEntry
	for _, e := range t.handles {
		if seen[e] {
			continue
		}
		seen[e] = true
		if t.expiredLocked(e, now) {
			expired = append(expired, e)
		}
	}
	for _, e := range expired {
		t.dropLocked(e)
	}
	return len(expired)
}

// Len returns the number of distinct pending entries.
func (t *PendingTable) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.entries
}

func (t *PendingTable) expiredLocked(e *pendingEntry, now time.Time) bool {
	return t.ttl > 0 && now.Sub(e.feedback.CreatedAt) >= t.ttl
}

func (t *PendingTable) dropLocked(e *pendingEntry) {
	for _, h := range e.handles {
		if t.handles[h] == e {
			delete(t.handles, h)
		}
	}
	e.handles = nil
	t.entries--
	observability.PendingFeedback.Set(float64(t.entries))
}
