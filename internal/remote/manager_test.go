package remote

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dshills/remotedbg/internal/diag"
)

// fakeConn is an in-memory Conn whose drop can be triggered from the test.
type fakeConn struct {
	mu       sync.Mutex
	closed   bool
	pingErr  error
	execed   []string
	done     chan error
	dropOnce sync.Once
}

func newFakeConn() *fakeConn {
	return &fakeConn{done: make(chan error, 1)}
}

func (c *fakeConn) Exec(command string) (*Process, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, errors.New("conn closed")
	}
	c.execed = append(c.execed, command)
	r, w := io.Pipe()
	return NewProcess(w, r, strings.NewReader(""), nil, nil), nil
}

func (c *fakeConn) Ping() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pingErr
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	c.drop(errors.New("closed"))
	return nil
}

func (c *fakeConn) Done() <-chan error { return c.done }

func (c *fakeConn) drop(err error) {
	c.dropOnce.Do(func() {
		c.done <- err
		close(c.done)
	})
}

// fakeDialer scripts a sequence of dial outcomes; nil entries mean failure.
type fakeDialer struct {
	mu    sync.Mutex
	conns []*fakeConn
	calls int
}

func (d *fakeDialer) dial(details HostDetails, timeout time.Duration) (Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	idx := d.calls
	d.calls++
	if idx >= len(d.conns) || d.conns[idx] == nil {
		return nil, errors.New("dial refused")
	}
	return d.conns[idx], nil
}

func (d *fakeDialer) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls
}

func testDetails() HostDetails {
	return HostDetails{Hostname: "build1", Port: 22, Username: "dev", PrivateKeyPath: "/dev/null"}
}

func testManager(d *fakeDialer) *Manager {
	return NewManager(diag.Discard(),
		WithDialer(d.dial),
		WithReconnectDelay(5*time.Millisecond),
		WithProbeInterval(time.Hour))
}

func waitEvent(t *testing.T, ch <-chan Event, want EventType) Event {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				t.Fatalf("events closed while waiting for %v", want)
			}
			if ev.Type == want {
				return ev
			}
		case <-deadline:
			t.Fatalf("timed out waiting for event %v", want)
		}
	}
}

func TestConnectPoolsByHostKey(t *testing.T) {
	d := &fakeDialer{conns: []*fakeConn{newFakeConn(), newFakeConn()}}
	m := testManager(d)

	s1, err := m.Connect(context.Background(), testDetails(), time.Second)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	s2, err := m.Connect(context.Background(), testDetails(), time.Second)
	if err != nil {
		t.Fatalf("second connect: %v", err)
	}
	if s1 != s2 {
		t.Error("expected pooled session for identical host key")
	}
	if d.count() != 1 {
		t.Errorf("dial count = %d, want 1", d.count())
	}

	other := testDetails()
	other.Username = "ops"
	s3, err := m.Connect(context.Background(), other, time.Second)
	if err != nil {
		t.Fatalf("connect other: %v", err)
	}
	if s3 == s1 {
		t.Error("different credentials must not share a session")
	}
}

func TestConnectDialFailure(t *testing.T) {
	d := &fakeDialer{}
	m := testManager(d)

	_, err := m.Connect(context.Background(), testDetails(), time.Second)
	if err == nil {
		t.Fatal("expected dial error")
	}
	var ce *ConnectError
	if !errors.As(err, &ce) {
		t.Fatalf("error = %T, want *ConnectError", err)
	}
	if ce.HostKey != "dev@build1:22" {
		t.Errorf("host key = %q", ce.HostKey)
	}
}

func TestReconnectAfterDrop(t *testing.T) {
	first := newFakeConn()
	second := newFakeConn()
	d := &fakeDialer{conns: []*fakeConn{first, second}}
	m := testManager(d)

	s, err := m.Connect(context.Background(), testDetails(), time.Second)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	events := s.Events()

	first.drop(errors.New("network reset"))

	waitEvent(t, events, EventDisconnected)
	rec := waitEvent(t, events, EventReconnecting)
	if rec.Attempt != 1 {
		t.Errorf("attempt = %d, want 1", rec.Attempt)
	}
	waitEvent(t, events, EventReconnected)

	if got := s.State(); got != StateConnected {
		t.Errorf("state = %v, want connected", got)
	}
	if got := s.Attempts(); got != 0 {
		t.Errorf("attempts = %d, want 0 after successful reconnect", got)
	}
}

func TestReconnectExhaustionIsTerminal(t *testing.T) {
	first := newFakeConn()
	// Only the initial dial succeeds; all reconnect attempts fail.
	d := &fakeDialer{conns: []*fakeConn{first}}
	m := testManager(d)

	s, err := m.Connect(context.Background(), testDetails(), time.Second)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	events := s.Events()

	first.drop(errors.New("network reset"))

	waitEvent(t, events, EventDisconnected)
	for want := 1; want <= DefaultMaxAttempts; want++ {
		ev := waitEvent(t, events, EventReconnecting)
		if ev.Attempt != want {
			t.Errorf("attempt = %d, want %d", ev.Attempt, want)
		}
	}
	fail := waitEvent(t, events, EventFailed)
	if fail.Attempt != DefaultMaxAttempts {
		t.Errorf("failed attempt = %d, want %d", fail.Attempt, DefaultMaxAttempts)
	}

	// Channel closes after the terminal event; no further retries run.
	if _, ok := <-events; ok {
		t.Error("expected events channel closed after terminal failure")
	}
	if got := s.State(); got != StateFailed {
		t.Errorf("state = %v, want failed", got)
	}
	dials := d.count()
	time.Sleep(50 * time.Millisecond)
	if d.count() != dials {
		t.Error("dialer called again after terminal failure")
	}

	if _, err := s.Spawn("gdb"); !errors.Is(err, ErrSessionFailed) {
		t.Errorf("spawn error = %v, want ErrSessionFailed", err)
	}
}

func TestDisconnectStopsReconnection(t *testing.T) {
	first := newFakeConn()
	d := &fakeDialer{conns: []*fakeConn{first}}
	m := testManager(d)

	s, err := m.Connect(context.Background(), testDetails(), time.Second)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}

	m.Disconnect(testDetails())

	if got := s.State(); got != StateClosed {
		t.Errorf("state = %v, want closed", got)
	}
	first.mu.Lock()
	closed := first.closed
	first.mu.Unlock()
	if !closed {
		t.Error("expected underlying conn closed")
	}
	if _, ok := m.Session(testDetails()); ok {
		t.Error("session still pooled after disconnect")
	}

	// The conn drop that follows Close must not trigger reconnection.
	time.Sleep(50 * time.Millisecond)
	if d.count() != 1 {
		t.Errorf("dial count = %d after disconnect, want 1", d.count())
	}

	if _, err := s.Spawn("gdb"); !errors.Is(err, ErrSessionClosed) {
		t.Errorf("spawn error = %v, want ErrSessionClosed", err)
	}
}

func TestSpawnRunsCommandOnConn(t *testing.T) {
	conn := newFakeConn()
	d := &fakeDialer{conns: []*fakeConn{conn}}
	m := testManager(d)

	s, err := m.Connect(context.Background(), testDetails(), time.Second)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	p, err := m.Spawn(s, "gdb --interpreter=mi /srv/app")
	if err != nil {
		t.Fatalf("spawn: %v", err)
	}
	if p == nil || p.Stdin() == nil {
		t.Fatal("expected process with attached stdin")
	}
	conn.mu.Lock()
	defer conn.mu.Unlock()
	if len(conn.execed) != 1 || conn.execed[0] != "gdb --interpreter=mi /srv/app" {
		t.Errorf("execed = %v", conn.execed)
	}
}

func TestProbeUpdatesActivity(t *testing.T) {
	conn := newFakeConn()
	d := &fakeDialer{conns: []*fakeConn{conn}}
	m := NewManager(diag.Discard(),
		WithDialer(d.dial),
		WithReconnectDelay(5*time.Millisecond),
		WithProbeInterval(10*time.Millisecond))

	s, err := m.Connect(context.Background(), testDetails(), time.Second)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	before := s.LastActivity()
	time.Sleep(50 * time.Millisecond)
	if !s.LastActivity().After(before) {
		t.Error("expected activity timestamp to advance on successful probes")
	}

	// A failing probe is tolerated: logged, not fatal.
	conn.mu.Lock()
	conn.pingErr = errors.New("slow host")
	conn.mu.Unlock()
	time.Sleep(50 * time.Millisecond)
	if got := s.State(); got != StateConnected {
		t.Errorf("state = %v after missed probes, want connected", got)
	}
}
