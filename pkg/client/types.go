package client

import "time"

// Policy is the active protection policy as reported by the daemon.
type Policy struct {
	Keywords    []string `json:"keywords"`
	GracePeriod string   `json:"grace_period"`
	MaxAttempts int      `json:"max_attempts"`
}

// Session is one in-flight verification session.
type Session struct {
	AppKey      string    `json:"app_key"`
	PID         int       `json:"pid"`
	DisplayName string    `json:"display_name"`
	State       string    `json:"state"`
	StartedAt   time.Time `json:"started_at"`
	Attempt     int       `json:"attempt"`
}

// Status is the daemon's coordinator snapshot.
type Status struct {
	Policy   Policy               `json:"policy"`
	Sessions []Session            `json:"sessions"`
	Grace    map[string]time.Time `json:"grace"`
}

// AuditEvent is one row of the daemon's audit trail.
type AuditEvent struct {
	OccurredAt  time.Time `json:"occurred_at"`
	Kind        string    `json:"kind"`
	AppKey      string    `json:"app_key,omitempty"`
	PID         int       `json:"pid,omitempty"`
	DisplayName string    `json:"display_name,omitempty"`
	Attempt     int       `json:"attempt,omitempty"`
	Detail      string    `json:"detail,omitempty"`
}

type keywordRequest struct {
	Keyword string `json:"keyword"`
}

// ErrorResponse represents an API error response
type ErrorResponse struct {
	Error string `json:"error"`
}
