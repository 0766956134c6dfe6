package session

import (
	"log/slog"
	"time"
)

// Config holds the protocol constants and timing budgets of a session.
type Config struct {
	Zone    string
	Version string
	Lang    string

	// HandshakeStepDelay separates the fire-and-forget handshake frames.
	HandshakeStepDelay time.Duration
	// AuthTimeout bounds the wait for the login reply.
	AuthTimeout time.Duration
	// AuthPollInterval is the per-receive timeout while waiting for it.
	AuthPollInterval time.Duration
	// DrainWindow is spent discarding backlog after a successful login.
	DrainWindow time.Duration
	// ActionTimeout bounds the wait for each action reply.
	ActionTimeout time.Duration
	// ActionDelay is the minimum spacing between two action requests.
	ActionDelay time.Duration
	// BacklogSize is how many discarded frames are kept for diagnostics.
	BacklogSize int
}

// DefaultConfig returns the values the live server expects.
func DefaultConfig() Config {
	return Config{
		Zone:               "EmpireEx_2",
		Version:            "166",
		Lang:               "de",
		HandshakeStepDelay: 100 * time.Millisecond,
		AuthTimeout:        15 * time.Second,
		AuthPollInterval:   500 * time.Millisecond,
		DrainWindow:        time.Second,
		ActionTimeout:      15 * time.Second,
		ActionDelay:        300 * time.Millisecond,
		BacklogSize:        16,
	}
}

// Credentials identify the account a session logs in with.
type Credentials struct {
	Username string
	Password string
	// Token is the optional anti-automation token.
	Token string
}

// LogValue keeps the password and token out of logs.
func (c Credentials) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("username", c.Username),
		slog.Bool("password_set", c.Password != ""),
		slog.Int("token_len", len(c.Token)),
	)
}
