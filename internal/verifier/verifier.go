// Package verifier defines the credential verification boundary. The
// coordinator owns timeouts and retry counting; a Verifier performs exactly
// one verification round and classifies its outcome.
package verifier

import "context"

// Outcome classifies a single verification round.
type Outcome int

const (
	// Success means the credential was accepted.
	Success Outcome = iota
	// WrongCredential means the user responded but the credential did not
	// match. It consumes one attempt; other outcomes end the session.
	WrongCredential
	// Cancelled means the user dismissed the prompt.
	Cancelled
	// Unavailable means the backend could not run a verification at all.
	Unavailable
)

func (o Outcome) String() string {
	switch o {
	case Success:
		return "success"
	case WrongCredential:
		return "wrong_credential"
	case Cancelled:
		return "cancelled"
	default:
		return "unavailable"
	}
}

// Request carries what the prompt layer needs to render one round.
type Request struct {
	// Prompt is the human-readable label, typically the process display name.
	Prompt string
	// Attempt is 1-based within the session.
	Attempt int
	// Remaining is how many attempts are left including this one.
	Remaining int
}

// Verifier performs one blocking verification round. Implementations must
// honor ctx cancellation; the coordinator cancels ctx when its session
// deadline expires or the target process disappears.
type Verifier interface {
	Verify(ctx context.Context, req Request) (Outcome, error)
}

// Func adapts a function to the Verifier interface.
type Func func(ctx context.Context, req Request) (Outcome, error)

func (f Func) Verify(ctx context.Context, req Request) (Outcome, error) { return f(ctx, req) }
