// Package remote owns the remote-shell transport: SSH connections pooled by
// host identity, transport keepalive, periodic liveness probes, bounded
// auto-reconnect, and remote process spawning.
package remote

import (
	"context"
	"sync"
	"time"

	"github.com/dshills/remotedbg/internal/diag"
)

// Reconnection policy: a dropped transport is retried a fixed number of
// times with fixed spacing, then the session fails terminally.
const (
	DefaultProbeInterval  = 30 * time.Second
	DefaultReconnectDelay = 2 * time.Second
	DefaultMaxAttempts    = 3
	DefaultConnectTimeout = 10 * time.Second
)

// Manager pools transport sessions keyed by host identity.
type Manager struct {
	mu       sync.Mutex
	sessions map[string]*Session

	dial           Dialer
	sink           diag.Sink
	probeInterval  time.Duration
	reconnectDelay time.Duration
	maxAttempts    int
}

// ManagerOption configures the manager.
type ManagerOption func(*Manager)

// WithDialer replaces the production SSH dialer.
func WithDialer(d Dialer) ManagerOption {
	return func(m *Manager) {
		m.dial = d
	}
}

// WithProbeInterval overrides the liveness probe interval.
func WithProbeInterval(d time.Duration) ManagerOption {
	return func(m *Manager) {
		m.probeInterval = d
	}
}

// WithReconnectDelay overrides the fixed spacing between reconnect attempts.
func WithReconnectDelay(d time.Duration) ManagerOption {
	return func(m *Manager) {
		m.reconnectDelay = d
	}
}

// NewManager creates a transport manager.
func NewManager(sink diag.Sink, opts ...ManagerOption) *Manager {
	m := &Manager{
		sessions:       make(map[string]*Session),
		dial:           DialSSH,
		sink:           sink,
		probeInterval:  DefaultProbeInterval,
		reconnectDelay: DefaultReconnectDelay,
		maxAttempts:    DefaultMaxAttempts,
	}
	if m.sink == nil {
		m.sink = diag.Discard()
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Connect returns the pooled session for the host, opening a new transport
// connection when none is live. An existing Connected session is returned
// unchanged.
func (m *Manager) Connect(ctx context.Context, details HostDetails, timeout time.Duration) (*Session, error) {
	if timeout <= 0 {
		timeout = DefaultConnectTimeout
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	key := details.HostKey()

	m.mu.Lock()
	s, exists := m.sessions[key]
	if exists && s.State() == StateConnected {
		m.mu.Unlock()
		return s, nil
	}
	if !exists {
		s = newSession(details)
		m.sessions[key] = s
	}
	m.mu.Unlock()

	conn, err := m.dial(details, timeout)
	if err != nil {
		return nil, &ConnectError{HostKey: key, Err: err}
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		conn.Close()
		return nil, ErrSessionClosed
	}
	m.installConnLocked(s, conn)
	s.mu.Unlock()

	m.sink.Infof("session %s connected (%s)", s.ID(), key)
	return s, nil
}

// installConnLocked registers a live connection on the session, resets the
// reconnect counter, and starts the monitor and liveness prober. Caller
// holds s.mu.
func (m *Manager) installConnLocked(s *Session, conn Conn) {
	if s.stopConn != nil {
		close(s.stopConn)
	}
	stop := make(chan struct{})
	s.stopConn = stop
	s.conn = conn
	s.state = StateConnected
	s.attempts = 0
	s.lastActivity = time.Now()

	go m.monitor(s, conn, stop)
	go m.probe(s, conn, stop)
}

// monitor waits for the transport to drop and starts the reconnect loop.
func (m *Manager) monitor(s *Session, conn Conn, stop chan struct{}) {
	select {
	case <-stop:
		return
	case err := <-conn.Done():
		m.handleClose(s, err)
	}
}

// probe runs the periodic no-op remote command. A missed probe is logged but
// never fails the session; the transport keepalive owns failure detection.
func (m *Manager) probe(s *Session, conn Conn, stop chan struct{}) {
	ticker := time.NewTicker(m.probeInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if err := conn.Ping(); err != nil {
				m.sink.Warnf("session %s missed liveness probe: %v", s.ID(), err)
				continue
			}
			s.mu.Lock()
			s.lastActivity = time.Now()
			s.mu.Unlock()
		}
	}
}

// handleClose reacts to a dropped transport: mark Disconnected, notify
// listeners, and run the bounded reconnect loop.
func (m *Manager) handleClose(s *Session, cause error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	if s.stopConn != nil {
		close(s.stopConn)
		s.stopConn = nil
	}
	s.conn = nil
	s.state = StateDisconnected
	s.mu.Unlock()

	m.sink.Warnf("session %s transport closed: %v", s.ID(), cause)
	s.emit(Event{Type: EventDisconnected, Err: cause})

	go m.reconnectLoop(s, cause)
}

// reconnectLoop re-runs the full connect logic up to maxAttempts times with
// fixed spacing. On exhaustion the session is marked Failed, listeners get
// one terminal signal, and no further retry ever happens.
func (m *Manager) reconnectLoop(s *Session, cause error) {
	for {
		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			return
		}
		if s.attempts >= m.maxAttempts {
			s.state = StateFailed
			s.mu.Unlock()
			m.sink.Errorf("session %s failed permanently after %d attempts", s.ID(), m.maxAttempts)
			s.emit(Event{Type: EventFailed, Attempt: m.maxAttempts, Err: cause})
			s.closeEvents()
			return
		}
		s.attempts++
		attempt := s.attempts
		s.mu.Unlock()

		s.emit(Event{Type: EventReconnecting, Attempt: attempt})
		time.Sleep(m.reconnectDelay)

		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			return
		}
		s.mu.Unlock()

		conn, err := m.dial(s.details, DefaultConnectTimeout)
		if err != nil {
			m.sink.Warnf("session %s reconnect attempt %d failed: %v", s.ID(), attempt, err)
			cause = err
			continue
		}

		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			conn.Close()
			return
		}
		m.installConnLocked(s, conn)
		s.mu.Unlock()

		m.sink.Infof("session %s reconnected on attempt %d", s.ID(), attempt)
		s.emit(Event{Type: EventReconnected, Attempt: attempt})
		return
	}
}

// Spawn executes a command on the session's remote host.
func (m *Manager) Spawn(s *Session, command string) (*Process, error) {
	return s.Spawn(command)
}

// Disconnect tears the session down immediately and removes all pooling and
// reconnect bookkeeping. No reconnection happens after an explicit
// disconnect.
func (m *Manager) Disconnect(details HostDetails) {
	key := details.HostKey()

	m.mu.Lock()
	s, exists := m.sessions[key]
	delete(m.sessions, key)
	m.mu.Unlock()

	if !exists {
		return
	}

	s.mu.Lock()
	s.closed = true
	s.state = StateClosed
	if s.stopConn != nil {
		close(s.stopConn)
		s.stopConn = nil
	}
	conn := s.conn
	s.conn = nil
	s.mu.Unlock()

	if conn != nil {
		conn.Close()
	}
	s.closeEvents()
	m.sink.Infof("session %s disconnected (%s)", s.ID(), key)
}

// Session returns the pooled session for a host, if any.
func (m *Manager) Session(details HostDetails) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[details.HostKey()]
	return s, ok
}
