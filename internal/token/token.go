// Package token supplies the optional anti-automation token attached to the
// login request. Tokens are obtained out of process so no browser tooling is
// linked into the bot.
package token

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// ErrUnavailable means the token step failed. No session is opened after it.
var ErrUnavailable = errors.New("token unavailable")

// Provider returns one token per call. Implementations block until they have
// a token or ctx is done.
type Provider interface {
	Token(ctx context.Context) (string, error)
}

// None is the provider used when no token is configured.
type None struct{}

func (None) Token(context.Context) (string, error) { return "", nil }

// Static always returns the same token.
type Static string

func (s Static) Token(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	return string(s), nil
}

type runFunc func(ctx context.Context, name string, args ...string) (stdout string, stderr string, err error)

// Command runs an external program and takes its trimmed stdout as the token.
type Command struct {
	name string
	args []string
	run  runFunc
}

// NewCommand parses line as a program followed by whitespace separated
// arguments.
func NewCommand(line string) (*Command, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return nil, errors.New("token command is empty")
	}
	return &Command{name: fields[0], args: fields[1:], run: runCommand}, nil
}

func (c *Command) Token(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("%w: %w", ErrUnavailable, err)
	}

	stdout, stderr, err := c.run(ctx, c.name, c.args...)
	if err != nil {
		if stderr == "" {
			return "", fmt.Errorf("%w: %s: %w", ErrUnavailable, c.name, err)
		}
		return "", fmt.Errorf("%w: %s: %w: %s", ErrUnavailable, c.name, err, stderr)
	}

	tok := strings.TrimSpace(stdout)
	if tok == "" {
		return "", fmt.Errorf("%w: %s printed nothing", ErrUnavailable, c.name)
	}
	return tok, nil
}

func runCommand(ctx context.Context, name string, args ...string) (string, string, error) {
	path, err := exec.LookPath(name)
	if err != nil {
		return "", "", fmt.Errorf("locate %s: %w", name, err)
	}

	cmd := exec.CommandContext(ctx, path, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err = cmd.Run()
	return stdout.String(), strings.TrimSpace(stderr.String()), err
}

// Timeout bounds every call to p.
func Timeout(p Provider, d time.Duration) Provider {
	if d <= 0 {
		return p
	}
	return timeoutProvider{p: p, d: d}
}

type timeoutProvider struct {
	p Provider
	d time.Duration
}

func (t timeoutProvider) Token(ctx context.Context) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, t.d)
	defer cancel()
	return t.p.Token(ctx)
}

// FromConfig picks the provider for the configured values. A command wins
// over a static token; neither yields None.
func FromConfig(static, command string, timeout time.Duration) (Provider, error) {
	switch {
	case command != "":
		c, err := NewCommand(command)
		if err != nil {
			return nil, err
		}
		return Timeout(c, timeout), nil
	case static != "":
		return Static(static), nil
	default:
		return None{}, nil
	}
}
