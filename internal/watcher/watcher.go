// Package watcher turns platform process observations into validated Events
// for the coordinator. The poll source is the portable default; any push
// mechanism can feed a coordinator the same way by calling the subscribed
// handler.
package watcher

import (
	"errors"
	"fmt"
	"strings"
)

// Kind distinguishes how the process came to our attention.
type Kind int

const (
	// Launch means the process was newly observed.
	Launch Kind = iota
	// Activate means an already-running process came to the foreground.
	// The poll source cannot observe activation; push sources may emit it.
	Activate
)

func (k Kind) String() string {
	if k == Activate {
		return "activate"
	}
	return "launch"
}

// Event is a validated process observation. Construct via NewEvent so
// malformed payloads are rejected at the notification boundary instead of
// leaking downstream.
type Event struct {
	PID  int
	Name string
	Kind Kind
}

var errMalformedEvent = errors.New("malformed process event")

// NewEvent validates the raw observation. PID must be positive and the
// display name non-empty.
func NewEvent(pid int, name string, kind Kind) (Event, error) {
	name = strings.TrimSpace(name)
	if pid <= 0 || name == "" {
		return Event{}, fmt.Errorf("%w: pid=%d name=%q", errMalformedEvent, pid, name)
	}
	return Event{PID: pid, Name: name, Kind: kind}, nil
}

// Source delivers Events to subscribed handlers. Handlers must not block;
// the coordinator's OnEvent suspends synchronously and returns.
type Source interface {
	Subscribe(fn func(Event))
	Start() error
	Stop()
}
