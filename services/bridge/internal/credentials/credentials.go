// Package credentials resolves the API token the bridge forwards to the Keptn API.
package credentials

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"time"
)

var (
	ErrEmptyToken = errors.New("api token is empty")
	ErrNoCommand  = errors.New("no token command configured")
)

// Runner executes a command and returns its standard output.
type Runner func(ctx context.Context, name string, args ...string) ([]byte, error)

// Resolver produces the API token, either from configuration or from the
// output of an external command that prints the base64 encoded secret.
type Resolver struct {
	command []string
	timeout time.Duration
	run     Runner
	logger  *slog.Logger
}

func NewResolver(command string, timeout time.Duration) *Resolver {
	return &Resolver{
		command: strings.Fields(command),
		timeout: timeout,
		run:     execRunner,
		logger:  slog.Default().With("component", "credentials"),
	}
}

// WithRunner replaces the command runner, used by tests.
func (r *Resolver) WithRunner(run Runner) *Resolver {
	r.run = run
	return r
}

// Resolve returns token unchanged when it is set. Otherwise it runs the
// configured command and decodes its output. Any failure is an error; an
// empty token is never returned.
func (r *Resolver) Resolve(ctx context.Context, token string) (string, error) {
	if token != "" {
		return token, nil
	}
	if len(r.command) == 0 {
		return "", ErrNoCommand
	}

	r.logger.Info("API token was not provided, fetching it via command", "command", r.command[0])

	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	out, err := r.run(ctx, r.command[0], r.command[1:]...)
	if err != nil {
		return "", fmt.Errorf("token command %q failed: %w", r.command[0], err)
	}

	return Decode(out)
}

// Decode turns base64 command output into the token.
func Decode(out []byte) (string, error) {
	encoded := strings.TrimSpace(string(out))
	if encoded == "" {
		return "", ErrEmptyToken
	}

	decoded, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("decode token: %w", err)
	}

	token := strings.TrimSpace(string(decoded))
	if token == "" {
		return "", ErrEmptyToken
	}
	return token, nil
}

func execRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	out, err := cmd.Output()
	if err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return nil, fmt.Errorf("%w: %s", err, msg)
		}
		return nil, err
	}
	return out, nil
}
