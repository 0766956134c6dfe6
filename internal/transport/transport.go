// Package transport provides the persistent duplex connection a session runs
// over: whole text frames, timed sends and timed receives.
package transport

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrTimeout is returned by Receive when no frame arrived in time.
	ErrTimeout = errors.New("receive timed out")
	// ErrClosed is returned once the connection is gone.
	ErrClosed = errors.New("connection closed")
	// ErrConnectTimeout is returned when opening took longer than allowed.
	ErrConnectTimeout = errors.New("connect timed out")
	// ErrHandshakeRejected is returned when the server refused the upgrade.
	ErrHandshakeRejected = errors.New("websocket handshake rejected")
	// ErrUnreachable is returned for any other failure to open.
	ErrUnreachable = errors.New("endpoint unreachable")
)

// Transport is a message oriented connection to one endpoint. It is owned by
// a single session and is not safe for concurrent Receive calls.
type Transport interface {
	// Send writes one frame.
	Send(frame string) error
	// Receive waits up to timeout for the next frame. A zero timeout
	// returns a pending frame or ErrTimeout without blocking.
	Receive(timeout time.Duration) (string, error)
	// Close releases the connection. It is safe to call more than once.
	Close() error
}

// HandshakeError reports the HTTP status of a refused upgrade.
type HandshakeError struct {
	StatusCode int
	Err        error
}

func (e *HandshakeError) Error() string {
	return fmt.Sprintf("websocket handshake rejected with status %d: %v", e.StatusCode, e.Err)
}

// Unwrap lets errors.Is match ErrHandshakeRejected.
func (e *HandshakeError) Unwrap() error {
	return ErrHandshakeRejected
}
