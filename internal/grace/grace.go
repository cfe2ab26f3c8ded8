// Package grace tracks, per app key, the time of the last successful
// verification and answers whether a key is still inside its grace window.
package grace

import (
	"sync"
	"time"
)

// Tracker is safe for concurrent use by verification flows for different
// keys. Entries are evicted lazily on lookup; no background sweep.
type Tracker struct {
	mu      sync.Mutex
	entries map[string]time.Time
}

func NewTracker() *Tracker {
	return &Tracker{entries: make(map[string]time.Time)}
}

// InGrace reports whether key was verified less than period ago at time now.
// An expired entry is dropped as a side effect.
func (t *Tracker) InGrace(key string, now time.Time, period time.Duration) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	verifiedAt, ok := t.entries[key]
	if !ok {
		return false
	}
	if now.Sub(verifiedAt) < period {
		return true
	}
	delete(t.entries, key)
	return false
}

// Record inserts or refreshes the entry for key.
func (t *Tracker) Record(key string, now time.Time) {
	t.mu.Lock()
	t.entries[key] = now
	t.mu.Unlock()
}

// Forget drops the entry for key, ending its grace window early.
func (t *Tracker) Forget(key string) {
	t.mu.Lock()
	delete(t.entries, key)
	t.mu.Unlock()
}

// Snapshot returns a copy of the current entries for status reporting.
func (t *Tracker) Snapshot() map[string]time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[string]time.Time, len(t.entries))
	for k, v := range t.entries {
		out[k] = v
	}
	return out
}
