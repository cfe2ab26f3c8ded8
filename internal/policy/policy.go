package policy

import (
	"strings"
	"sync/atomic"
	"time"
)

// Default lock parameters applied when the config omits them.
const (
	DefaultGracePeriod = 60 * time.Second
	DefaultMaxAttempts = 3
)

// Policy is an immutable snapshot of the protected-app configuration.
// Keywords are lowercase and kept in configured order; matching is
// first-match-wins, so order matters. A Policy is never mutated after
// construction; reloads replace the whole snapshot via Store.
type Policy struct {
	Keywords    []string
	GracePeriod time.Duration
	MaxAttempts int
}

// New normalizes keywords (lowercase, trimmed, duplicates dropped while
// preserving first occurrence order) and fills in defaults for grace and
// attempts when unset.
func New(keywords []string, grace time.Duration, maxAttempts int) Policy {
	seen := make(map[string]struct{}, len(keywords))
	kws := make([]string, 0, len(keywords))
	for _, k := range keywords {
		k = strings.ToLower(strings.TrimSpace(k))
		if k == "" {
			continue
		}
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		kws = append(kws, k)
	}
	if grace <= 0 {
		grace = DefaultGracePeriod
	}
	if maxAttempts < 1 {
		maxAttempts = DefaultMaxAttempts
	}
	return Policy{Keywords: kws, GracePeriod: grace, MaxAttempts: maxAttempts}
}

// Match returns the first configured keyword that is a case-insensitive
// substring of displayName. Empty display names never match.
func (p Policy) Match(displayName string) (string, bool) {
	if displayName == "" {
		return "", false
	}
	name := strings.ToLower(displayName)
	for _, k := range p.Keywords {
		if strings.Contains(name, k) {
			return k, true
		}
	}
	return "", false
}

// Store holds the active Policy snapshot. Reload swaps it atomically, so
// readers racing a reload see either the old or the new snapshot, never a
// partial one. In-flight verification sessions keep using the snapshot they
// captured at start.
type Store struct {
	p atomic.Pointer[Policy]
}

func NewStore(p Policy) *Store {
	s := &Store{}
	s.p.Store(&p)
	return s
}

// Snapshot returns the current policy by value.
func (s *Store) Snapshot() Policy { return *s.p.Load() }

// Reload replaces the active snapshot.
func (s *Store) Reload(p Policy) { s.p.Store(&p) }
