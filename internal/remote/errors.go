package remote

import (
	"errors"
	"fmt"
)

// Standard errors returned by the transport manager.
var (
	// ErrNoUsableKey indicates no usable private key material was found for
	// the host.
	ErrNoUsableKey = errors.New("no usable private key")

	// ErrNotConnected indicates the session has no live transport.
	ErrNotConnected = errors.New("session not connected")

	// ErrSessionClosed indicates the session was explicitly disconnected.
	ErrSessionClosed = errors.New("session closed")

	// ErrSessionFailed indicates reconnection was exhausted and the session
	// is terminally failed.
	ErrSessionFailed = errors.New("session failed permanently")
)

// ConnectError wraps a failure to establish a transport connection.
type ConnectError struct {
	HostKey string
	Err     error
}

// Error implements the error interface.
func (e *ConnectError) Error() string {
	return fmt.Sprintf("connect %s: %v", e.HostKey, e.Err)
}

// Unwrap returns the underlying error.
func (e *ConnectError) Unwrap() error {
	return e.Err
}
