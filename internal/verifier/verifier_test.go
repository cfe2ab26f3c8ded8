package verifier

import (
	"context"
	"errors"
	"runtime"
	"testing"
)

func TestHashPassword(t *testing.T) {
	// sha256("1234")
	const want = "03ac674216f3e15c761ee1a5e255f067953623c8b388b4459e13f978d7c846f4"
	if got := HashPassword("1234"); got != want {
		t.Fatalf("HashPassword mismatch: %s", got)
	}
}

func TestNewPasswordVerifierValidation(t *testing.T) {
	prompt := func(ctx context.Context, req Request) (string, error) { return "", nil }
	if _, err := NewPasswordVerifier("short", prompt); err == nil {
		t.Fatalf("expected error for short hash")
	}
	if _, err := NewPasswordVerifier(HashPassword("x"), nil); err == nil {
		t.Fatalf("expected error for nil prompt")
	}
	if _, err := NewPasswordVerifier("zz"+HashPassword("x")[2:], prompt); err == nil {
		t.Fatalf("expected error for non-hex hash")
	}
}

func TestPasswordVerifierOutcomes(t *testing.T) {
	hash := HashPassword("secret")

	cases := []struct {
		name   string
		prompt PromptFunc
		want   Outcome
	}{
		{"correct", func(ctx context.Context, req Request) (string, error) { return "secret", nil }, Success},
		{"wrong", func(ctx context.Context, req Request) (string, error) { return "nope", nil }, WrongCredential},
		{"cancelled", func(ctx context.Context, req Request) (string, error) { return "", ErrPromptCancelled }, Cancelled},
		{"backend down", func(ctx context.Context, req Request) (string, error) { return "", errors.New("no tty") }, Unavailable},
	}
	for _, c := range cases {
		v, err := NewPasswordVerifier(hash, c.prompt)
		if err != nil {
			t.Fatalf("%s: %v", c.name, err)
		}
		got, _ := v.Verify(context.Background(), Request{Prompt: "App", Attempt: 1, Remaining: 3})
		if got != c.want {
			t.Fatalf("%s: outcome %v, want %v", c.name, got, c.want)
		}
	}
}

func TestCommandVerifierExitCodes(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("sh not available")
	}
	cases := []struct {
		script string
		want   Outcome
	}{
		{"exit 0", Success},
		{"exit 1", WrongCredential},
		{"exit 2", Cancelled},
		{"exit 7", Unavailable},
	}
	for _, c := range cases {
		v, err := NewCommandVerifier("sh", "-c", c.script, "--")
		if err != nil {
			t.Fatalf("new: %v", err)
		}
		got, _ := v.Verify(context.Background(), Request{Prompt: "App", Attempt: 1, Remaining: 1})
		if got != c.want {
			t.Fatalf("script %q: outcome %v, want %v", c.script, got, c.want)
		}
	}
}

func TestCommandVerifierCancelled(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("sh not available")
	}
	v, err := NewCommandVerifier("sh", "-c", "sleep 5", "--")
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	got, verr := v.Verify(ctx, Request{Prompt: "App", Attempt: 1, Remaining: 1})
	if got != Unavailable || verr == nil {
		t.Fatalf("expected Unavailable with error, got %v %v", got, verr)
	}
}

func TestNewCommandVerifierEmpty(t *testing.T) {
	if _, err := NewCommandVerifier("  "); err == nil {
		t.Fatalf("expected error for empty command")
	}
}
