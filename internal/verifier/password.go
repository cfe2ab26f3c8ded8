package verifier

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

// PromptFunc collects a secret from the user for one round. Returning
// ErrPromptCancelled maps to Cancelled; any other error maps to Unavailable.
type PromptFunc func(ctx context.Context, req Request) (string, error)

// ErrPromptCancelled is returned by a PromptFunc when the user dismissed the
// dialog rather than entering a credential.
var ErrPromptCancelled = errors.New("prompt cancelled")

// PasswordVerifier compares a SHA-256 digest of the collected secret against
// a configured hash. The dialog itself stays external via PromptFunc.
type PasswordVerifier struct {
	hash   string
	prompt PromptFunc
}

// NewPasswordVerifier builds a verifier for the given lowercase hex SHA-256
// hash. The hash must be exactly 64 hex characters.
func NewPasswordVerifier(hash string, prompt PromptFunc) (*PasswordVerifier, error) {
	h := strings.ToLower(strings.TrimSpace(hash))
	if len(h) != sha256.Size*2 {
		return nil, fmt.Errorf("password hash must be %d hex chars, got %d", sha256.Size*2, len(h))
	}
	if _, err := hex.DecodeString(h); err != nil {
		return nil, fmt.Errorf("password hash is not valid hex: %w", err)
	}
	if prompt == nil {
		return nil, errors.New("prompt func required")
	}
	return &PasswordVerifier{hash: h, prompt: prompt}, nil
}

// HashPassword returns the lowercase hex SHA-256 digest of secret.
func HashPassword(secret string) string {
	sum := sha256.Sum256([]byte(secret))
	return hex.EncodeToString(sum[:])
}

func (v *PasswordVerifier) Verify(ctx context.Context, req Request) (Outcome, error) {
	secret, err := v.prompt(ctx, req)
	if err != nil {
		if errors.Is(err, ErrPromptCancelled) {
			return Cancelled, nil
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return Unavailable, err
		}
		return Unavailable, err
	}
	got := HashPassword(secret)
	if subtle.ConstantTimeCompare([]byte(got), []byte(v.hash)) == 1 {
		return Success, nil
	}
	return WrongCredential, nil
}
