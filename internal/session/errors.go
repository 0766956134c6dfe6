package session

import (
	"errors"
	"fmt"

	"github.com/EmilLidir/spinbot-discord/internal/transport"
)

var (
	// ErrConnectTimeout means the transport could not be opened in time.
	ErrConnectTimeout = transport.ErrConnectTimeout
	// ErrHandshakeRejected means the server refused the websocket upgrade.
	ErrHandshakeRejected = transport.ErrHandshakeRejected
	// ErrAuthConflict means the server answered the login with a non-zero
	// status, for example because the account is already logged in.
	ErrAuthConflict = errors.New("authentication rejected")
	// ErrAuthTimeout means no login reply arrived within the auth window.
	ErrAuthTimeout = errors.New("authentication timed out")
	// ErrConnectionLost means the transport failed mid-session.
	ErrConnectionLost = errors.New("connection lost")
)

// AuthConflictError carries the status the server answered the login with.
type AuthConflictError struct {
	Status int
}

func (e *AuthConflictError) Error() string {
	return fmt.Sprintf("authentication rejected with status %d", e.Status)
}

// Unwrap lets errors.Is match ErrAuthConflict.
func (e *AuthConflictError) Unwrap() error {
	return ErrAuthConflict
}
