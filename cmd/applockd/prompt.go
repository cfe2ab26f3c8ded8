package main

import (
	"context"
	"fmt"
	"os"

	"golang.org/x/term"

	"github.com/applockd/applockd/internal/verifier"
)

// terminalPrompt collects the password on the daemon's controlling terminal.
// It prefers /dev/tty so the prompt works even with redirected stdio.
func terminalPrompt(ctx context.Context, req verifier.Request) (string, error) {
	tty, err := os.OpenFile("/dev/tty", os.O_RDWR, 0)
	if err != nil {
		tty = os.Stdin
	} else {
		defer func() { _ = tty.Close() }()
	}

	if req.Attempt > 1 {
		fmt.Fprintf(os.Stderr, "Wrong password. %d attempt(s) remaining.\n", req.Remaining)
	}
	fmt.Fprintf(os.Stderr, "%q is locked. Enter password: ", req.Prompt)

	secret, err := readSecret(ctx, tty)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", err
	}
	return secret, nil
}

// readSecret reads a password without echo, honoring ctx cancellation.
func readSecret(ctx context.Context, f *os.File) (string, error) {
	type answer struct {
		secret string
		err    error
	}
	ch := make(chan answer, 1)
	go func() {
		b, err := term.ReadPassword(int(f.Fd()))
		ch <- answer{string(b), err}
	}()
	select {
	case a := <-ch:
		return a.secret, a.err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}
