// Package audit records the coordinator's user-visible decisions for later
// inspection. Sink failures never influence lock decisions; the coordinator
// logs and proceeds.
package audit

import (
	"context"
	"time"
)

// Kind classifies an audit event.
type Kind string

const (
	// KindIntercepted is emitted when a protected launch is suspended.
	KindIntercepted Kind = "intercepted"
	// KindVerified is emitted after a successful verification and restore.
	KindVerified Kind = "verified"
	// KindDenied is emitted when verification failed and the process was
	// terminated (wrong credential exhaustion, cancel, backend failure).
	KindDenied Kind = "denied"
	// KindTimeout is emitted when the session deadline expired.
	KindTimeout Kind = "timeout"
	// KindVanished is emitted when the target disappeared mid-session.
	KindVanished Kind = "vanished"
	// KindGraceHit is emitted when an event was suppressed by a grace window.
	KindGraceHit Kind = "grace_hit"
	// KindStaleResult is emitted when a late verifier result was discarded.
	KindStaleResult Kind = "stale_result"
	// KindReload is emitted when the policy snapshot was replaced.
	KindReload Kind = "reload"
)

// Event is one audit record.
type Event struct {
	OccurredAt  time.Time `json:"occurred_at"`
	Kind        Kind      `json:"kind"`
	AppKey      string    `json:"app_key"`
	PID         int       `json:"pid"`
	DisplayName string    `json:"display_name"`
	Attempt     int       `json:"attempt"`
	Detail      string    `json:"detail"`
}

// Sink is a destination for audit events. Implementations must be safe for
// concurrent use.
type Sink interface {
	Send(ctx context.Context, e Event) error
	Close() error
}

// Reader is implemented by sinks that can also serve recent events back
// (sqlite and postgres; clickhouse is write-only here).
type Reader interface {
	Recent(ctx context.Context, limit int) ([]Event, error)
}
