package verifier

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
)

// CommandVerifier delegates one verification round to an external dialog
// command (for example an osascript or zenity wrapper). The prompt label,
// attempt number and remaining attempts are passed as arguments so the
// dialog can show remaining-attempts information.
//
// Exit status contract:
//
//	0 -> Success
//	1 -> WrongCredential
//	2 -> Cancelled
//	anything else, or a spawn failure -> Unavailable
type CommandVerifier struct {
	Command string
	Args    []string
}

func NewCommandVerifier(command string, args ...string) (*CommandVerifier, error) {
	if strings.TrimSpace(command) == "" {
		return nil, errors.New("verifier command required")
	}
	return &CommandVerifier{Command: command, Args: args}, nil
}

func (v *CommandVerifier) Verify(ctx context.Context, req Request) (Outcome, error) {
	args := append([]string(nil), v.Args...)
	args = append(args, req.Prompt, strconv.Itoa(req.Attempt), strconv.Itoa(req.Remaining))
	// #nosec G204 -- command comes from the operator's own config
	cmd := exec.CommandContext(ctx, v.Command, args...)
	cmd.Stdout = nil
	cmd.Stderr = nil
	err := cmd.Run()
	if err == nil {
		return Success, nil
	}
	if ctx.Err() != nil {
		return Unavailable, ctx.Err()
	}
	var ee *exec.ExitError
	if errors.As(err, &ee) {
		switch ee.ExitCode() {
		case 1:
			return WrongCredential, nil
		case 2:
			return Cancelled, nil
		default:
			return Unavailable, fmt.Errorf("verifier command exited %d", ee.ExitCode())
		}
	}
	return Unavailable, err
}
