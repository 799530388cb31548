package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"syscall"

	"golang.org/x/term"

	"github.com/ahmad-cheema/file-verse/pkg/retry"
	"github.com/ahmad-cheema/file-verse/pkg/workspace"
)

// dial creates a workspace client from the loaded config.
func dial() (*workspace.Client, error) {
	saveRetry := retry.DefaultConfig()
	saveRetry.MaxAttempts = cfg.SaveRetryAttempts
	return workspace.Dial(cfg.Endpoint, workspace.Config{
		CallTimeout: cfg.CallTimeout.Duration,
		SaveRetry:   saveRetry,
	})
}

// resolvePassword takes --password, then OFS_PASSWORD, then prompts on a
// terminal.
func resolvePassword(prompt string) (string, error) {
	if password != "" {
		return password, nil
	}
	if p := os.Getenv("OFS_PASSWORD"); p != "" {
		return p, nil
	}
	if !term.IsTerminal(int(syscall.Stdin)) {
		return "", errors.New("no password: use --password, OFS_PASSWORD, or a terminal")
	}

	fmt.Fprint(os.Stderr, prompt)
	b, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("read password: %w", err)
	}
	return string(b), nil
}

// loggedIn dials and logs in with --user.
func loggedIn(ctx context.Context) (*workspace.Client, error) {
	if username == "" {
		return nil, errors.New("no username: use --user or OFS_USER")
	}
	pw, err := resolvePassword(fmt.Sprintf("Password for %s: ", username))
	if err != nil {
		return nil, err
	}

	c, err := dial()
	if err != nil {
		return nil, err
	}
	if _, err := c.Login(ctx, username, pw); err != nil {
		c.Close()
		return nil, err
	}
	return c, nil
}
