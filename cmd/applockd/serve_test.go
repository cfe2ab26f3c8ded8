package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/applockd/applockd/internal/config"
	"github.com/applockd/applockd/internal/verifier"
)

func TestBuildVerifierFailSafeConfig(t *testing.T) {
	// a broken config file falls back to an empty keyword set; the daemon
	// must still come up instead of refusing over the missing password_hash
	path := filepath.Join(t.TempDir(), "applockd.toml")
	if err := os.WriteFile(path, []byte("[policy\nkeywords = not toml"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg := config.LoadOrFailSafe(path)
	if len(cfg.Policy.Keywords) != 0 {
		t.Fatalf("fail-safe config should carry no keywords, got %v", cfg.Policy.Keywords)
	}

	v, err := buildVerifier(cfg)
	if err != nil {
		t.Fatalf("fail-safe config must still build a verifier: %v", err)
	}
	out, _ := v.Verify(context.Background(), verifier.Request{Prompt: "Chat App", Attempt: 1, Remaining: 1})
	if out != verifier.Unavailable {
		t.Fatalf("stub verifier must fail closed, got %v", out)
	}
}

func TestBuildVerifierMissingHashWithKeywords(t *testing.T) {
	cfg := config.Default()
	cfg.Policy.Keywords = []string{"whatsapp"}
	cfg.Verifier.PasswordHash = ""
	if _, err := buildVerifier(cfg); err == nil {
		t.Fatalf("protected keywords without a password_hash must be rejected")
	}
}

func TestBuildVerifierCommand(t *testing.T) {
	cfg := config.Default()
	cfg.Verifier.Type = "command"
	cfg.Verifier.Command = []string{"/usr/bin/true"}
	if _, err := buildVerifier(cfg); err != nil {
		t.Fatalf("command verifier: %v", err)
	}
}
