package main

import (
	"context"
	"fmt"
	"os"

	"github.com/applockd/applockd/internal/config"
	"github.com/applockd/applockd/internal/verifier"
)

// runPasswd prompts for a new password twice and writes its SHA-256 hash to
// the config file.
func runPasswd(path string) error {
	cfg, err := config.Load(path)
	if err != nil {
		return err
	}

	first, err := promptSecret("New password: ")
	if err != nil {
		return err
	}
	if first == "" {
		return fmt.Errorf("password must not be empty")
	}
	second, err := promptSecret("Confirm new password: ")
	if err != nil {
		return err
	}
	if first != second {
		return fmt.Errorf("passwords do not match")
	}

	cfg.Verifier.PasswordHash = verifier.HashPassword(first)
	if err := cfg.Save(path); err != nil {
		return err
	}
	fmt.Printf("password updated in %s\n", path)
	return nil
}

func promptSecret(label string) (string, error) {
	fmt.Fprint(os.Stderr, label)
	secret, err := readSecret(context.Background(), os.Stdin)
	fmt.Fprintln(os.Stderr)
	return secret, err
}
