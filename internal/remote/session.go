package remote

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// State is the lifecycle state of a pooled session.
type State int

const (
	// StateConnected means the transport is live.
	StateConnected State = iota
	// StateDisconnected means the transport dropped and reconnection may be
	// in progress.
	StateDisconnected
	// StateFailed means reconnection was exhausted; the session is terminal
	// and never retried.
	StateFailed
	// StateClosed means the session was explicitly disconnected.
	StateClosed
)

// String returns a human-readable state name.
func (s State) String() string {
	switch s {
	case StateConnected:
		return "connected"
	case StateDisconnected:
		return "disconnected"
	case StateFailed:
		return "failed"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// EventType identifies a session lifecycle notification.
type EventType int

const (
	// EventDisconnected signals the transport dropped.
	EventDisconnected EventType = iota
	// EventReconnecting signals a reconnection attempt is scheduled.
	EventReconnecting
	// EventReconnected signals the transport is live again.
	EventReconnected
	// EventFailed is the terminal signal after reconnection exhaustion.
	EventFailed
)

// Event is a session lifecycle notification delivered to listeners.
type Event struct {
	Type    EventType
	HostKey string
	Attempt int
	Err     error
}

// HostDetails identifies and authenticates a remote host.
type HostDetails struct {
	Hostname       string
	Port           int
	Username       string
	PrivateKeyPath string
}

// HostKey derives the pooling identity from the resolved credentials.
func (d HostDetails) HostKey() string {
	return fmt.Sprintf("%s@%s:%d", d.Username, d.Hostname, d.Port)
}

// Addr returns the dialable network address.
func (d HostDetails) Addr() string {
	return fmt.Sprintf("%s:%d", d.Hostname, d.Port)
}

// Session is one pooled transport connection and its reconnect bookkeeping.
// Sessions are created by Manager.Connect and destroyed by an explicit
// disconnect or by reconnection exhaustion.
type Session struct {
	mu sync.Mutex

	id      string
	details HostDetails
	conn    Conn

	state        State
	lastActivity time.Time
	attempts     int
	closed       bool

	// stopConn releases the prober and monitor bound to the current conn.
	stopConn chan struct{}

	events    chan Event
	closeOnce sync.Once
}

func newSession(details HostDetails) *Session {
	return &Session{
		id:      uuid.NewString(),
		details: details,
		state:   StateDisconnected,
		events:  make(chan Event, 16),
	}
}

// ID returns the session's unique instance id, used in diagnostics.
func (s *Session) ID() string { return s.id }

// HostKey returns the pooling identity.
func (s *Session) HostKey() string { return s.details.HostKey() }

// State returns the current session state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// LastActivity returns the time of the last successful liveness probe or
// connection event.
func (s *Session) LastActivity() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActivity
}

// Attempts returns the reconnect attempts consumed since the last successful
// connect.
func (s *Session) Attempts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attempts
}

// Events returns the lifecycle notification channel. It is closed when the
// session is torn down; listener lifetime is scoped to the session.
func (s *Session) Events() <-chan Event {
	return s.events
}

// Spawn executes a command on the remote host and returns its stream handles.
func (s *Session) Spawn(command string) (*Process, error) {
	s.mu.Lock()
	conn := s.conn
	state := s.state
	s.mu.Unlock()

	switch state {
	case StateConnected:
	case StateFailed:
		return nil, ErrSessionFailed
	case StateClosed:
		return nil, ErrSessionClosed
	default:
		return nil, ErrNotConnected
	}
	return conn.Exec(command)
}

// emit delivers an event without blocking; events are dropped when the
// listener lags.
func (s *Session) emit(ev Event) {
	ev.HostKey = s.details.HostKey()
	select {
	case s.events <- ev:
	default:
	}
}

func (s *Session) closeEvents() {
	s.closeOnce.Do(func() {
		close(s.events)
	})
}
