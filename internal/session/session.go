// Package session implements the debug-session orchestrator: a state machine
// that sequences debugger startup over the remote transport, reconciles
// desired breakpoints against remote debugger state, and turns asynchronous
// protocol notifications into session-level events for the host.
package session

import (
	"bufio"
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/dshills/remotedbg/internal/diag"
	"github.com/dshills/remotedbg/internal/gdb"
	"github.com/dshills/remotedbg/internal/mi"
	"github.com/dshills/remotedbg/internal/pathmap"
	"github.com/dshills/remotedbg/internal/remote"
)

// Transport is the slice of the transport manager the orchestrator needs.
// Injectable so tests can supply fakes.
type Transport interface {
	Connect(ctx context.Context, details remote.HostDetails, timeout time.Duration) (TransportSession, error)
	Disconnect(details remote.HostDetails)
}

// TransportSession is one pooled transport connection.
type TransportSession interface {
	Spawn(command string) (*remote.Process, error)
	Events() <-chan remote.Event
	HostKey() string
	State() remote.State
}

// ManagerTransport adapts the production transport manager to Transport.
type ManagerTransport struct {
	Manager *remote.Manager
}

// Connect delegates to the manager.
func (t ManagerTransport) Connect(ctx context.Context, details remote.HostDetails, timeout time.Duration) (TransportSession, error) {
	return t.Manager.Connect(ctx, details, timeout)
}

// Disconnect delegates to the manager.
func (t ManagerTransport) Disconnect(details remote.HostDetails) {
	t.Manager.Disconnect(details)
}

// fileBreakpoints tracks one source file's desired lines and their
// remote-assigned breakpoint ids. At most one binding exists per line.
type fileBreakpoints struct {
	path  string
	lines []int
	ids   map[int]int
}

// Session is one remote debugger process bound to one transport connection
// and its state machine.
type Session struct {
	mu sync.Mutex

	cfg       LaunchConfig
	details   remote.HostDetails
	transport Transport
	paths     *pathmap.Mapper
	sink      diag.Sink

	state  State
	ts     TransportSession
	proc   *remote.Process
	client *gdb.Client

	// Breakpoint state survives debugger respawn; order preserves first
	// arrival per path for the pre-ready flush.
	files map[string]*fileBreakpoints
	order []string

	// lastStop is the last halt observed, preserved across transport gaps.
	lastStop *StoppedEvent

	readyCh   chan struct{}
	readyOnce *sync.Once

	events    chan Event
	closeOnce sync.Once
	closed    bool
}

// Option configures the session.
type Option func(*Session)

// WithPathMapper sets the local/remote path translation table.
func WithPathMapper(m *pathmap.Mapper) Option {
	return func(s *Session) {
		s.paths = m
	}
}

// New creates an orchestrator for one debug session.
func New(cfg LaunchConfig, details remote.HostDetails, transport Transport, sink diag.Sink, opts ...Option) *Session {
	cfg.applyDefaults()
	s := &Session{
		cfg:       cfg,
		details:   details,
		transport: transport,
		paths:     pathmap.New(nil),
		sink:      sink,
		state:     StateIdle,
		files:     make(map[string]*fileBreakpoints),
		readyCh:   make(chan struct{}),
		readyOnce: &sync.Once{},
		events:    make(chan Event, 16),
	}
	if s.sink == nil {
		s.sink = diag.Discard()
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Events returns the notification channel. It closes when the session ends.
func (s *Session) Events() <-chan Event {
	return s.events
}

// State returns the current orchestrator state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Launch connects to the remote host, starts the debugger with the MI
// interpreter, waits for its ready marker, applies setup configuration, and
// moves the session to Ready. Queued breakpoints are flushed before the
// Initialized event is emitted.
func (s *Session) Launch(ctx context.Context) error {
	s.mu.Lock()
	if s.state != StateIdle {
		s.mu.Unlock()
		return ErrAlreadyLaunched
	}
	if s.cfg.Program == "" {
		s.mu.Unlock()
		return ErrNoProgram
	}
	s.state = StateConnecting
	s.mu.Unlock()

	ts, err := s.transport.Connect(ctx, s.details, s.cfg.ConnectTimeout)
	if err != nil {
		s.fail(err)
		return err
	}

	s.mu.Lock()
	s.ts = ts
	s.state = StateStartingDebugger
	s.mu.Unlock()
	go s.watchTransport(ts.Events())

	if err := s.startDebugger(ctx); err != nil {
		s.fail(err)
		return err
	}

	s.applySetup(ctx)

	s.mu.Lock()
	s.state = StateReady
	s.mu.Unlock()
	s.emit(Event{Type: EventInitialized})

	s.flushQueued(ctx)
	return nil
}

// startDebugger spawns the debugger process, wires the correlation client to
// its streams, and waits for the first prompt line.
func (s *Session) startDebugger(ctx context.Context) error {
	command := s.debuggerCommand()
	proc, err := s.ts.Spawn(command)
	if err != nil {
		return fmt.Errorf("spawn debugger: %w", err)
	}

	client := gdb.NewClient(proc.Stdin(), s.sink, gdb.WithRecordHandler(s.handleRecord))

	s.mu.Lock()
	s.proc = proc
	s.client = client
	ready := s.readyCh
	s.mu.Unlock()

	go s.readLoop(proc)
	s.sink.Infof("debugger started: %s", command)

	select {
	case <-ready:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(s.cfg.ConnectTimeout):
		return fmt.Errorf("debugger produced no ready marker within %s", s.cfg.ConnectTimeout)
	}
}

func (s *Session) debuggerCommand() string {
	parts := []string{s.cfg.GDBPath, "--interpreter=mi", s.cfg.Program}
	if s.cfg.CoreDump != "" {
		parts = append(parts, s.cfg.CoreDump)
	}
	return strings.Join(parts, " ")
}

// applySetup applies environment, working directory, target arguments, and
// the configured setup commands as individual correlated commands, in that
// order. A failing setup command is logged but never fatal.
func (s *Session) applySetup(ctx context.Context) {
	client := s.currentClient()
	if client == nil {
		return
	}
	run := func(name, args string) {
		if _, err := client.Send(ctx, name, args); err != nil {
			s.sink.Warnf("setup command %s failed: %v", name, err)
		}
	}

	for _, key := range sortedKeys(s.cfg.Env) {
		run("gdb-set", fmt.Sprintf("environment %s=%s", key, s.cfg.Env[key]))
	}
	if s.cfg.WorkDir != "" {
		run("environment-cd", s.cfg.WorkDir)
	}
	if len(s.cfg.Args) > 0 {
		run("exec-arguments", strings.Join(s.cfg.Args, " "))
	}
	for _, cmd := range s.cfg.SetupCommands {
		name, args := splitSetupCommand(cmd)
		run(name, args)
	}
}

// splitSetupCommand turns one configured setup line into an MI command. An
// MI-form line (leading dash) is sent as-is; anything else runs through the
// console interpreter.
func splitSetupCommand(cmd string) (name, args string) {
	cmd = strings.TrimSpace(cmd)
	if strings.HasPrefix(cmd, "-") {
		rest := strings.TrimPrefix(cmd, "-")
		if i := strings.IndexByte(rest, ' '); i >= 0 {
			return rest[:i], rest[i+1:]
		}
		return rest, ""
	}
	return "interpreter-exec", "console " + mi.QuoteArg(cmd)
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// readLoop drains the debugger's output stream, feeding parsed records to
// the correlation client. One malformed line never aborts the session.
func (s *Session) readLoop(proc *remote.Process) {
	client := s.currentClient()
	scanner := bufio.NewScanner(proc.Stdout())
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if mi.IsPrompt(line) {
			s.signalReady()
			continue
		}
		rec, ok, err := mi.ParseLine(line)
		if err != nil {
			// The record still carries everything parsed before the stuck
			// position; dispatch it and keep going.
			s.sink.Warnf("malformed line: %v", err)
		}
		if !ok {
			continue
		}
		client.Dispatch(rec)
	}
	if err := scanner.Err(); err != nil {
		s.sink.Debugf("debugger stream closed: %v", err)
	}
	s.handleStreamEnd(proc)
}

// signalReady completes the one-shot readiness signal the first time the
// prompt line is observed.
func (s *Session) signalReady() {
	s.mu.Lock()
	once, ready := s.readyOnce, s.readyCh
	s.mu.Unlock()
	once.Do(func() { close(ready) })
}

// handleStreamEnd reacts to the debugger output channel closing. During an
// active session with a healthy transport this is an unexpected termination;
// when the transport itself dropped, the reconnect path owns recovery and
// this loop simply retires.
func (s *Session) handleStreamEnd(proc *remote.Process) {
	s.mu.Lock()
	if s.closed || s.state == StateTerminated || s.state == StateFailed || s.proc != proc {
		s.mu.Unlock()
		return
	}
	if s.ts != nil && s.ts.State() != remote.StateConnected {
		s.mu.Unlock()
		return
	}
	wasActive := s.state.active()
	s.state = StateTerminated
	client := s.client
	s.mu.Unlock()

	if client != nil {
		client.Close()
	}
	if wasActive {
		s.sink.Warnf("debugger output channel closed unexpectedly")
		s.emit(Event{Type: EventTerminated})
		s.closeEvents()
	}
}

// handleRecord consumes async and stream records that correlate to no
// pending command.
func (s *Session) handleRecord(rec mi.Record) {
	switch rec.Kind {
	case mi.KindExec:
		switch rec.Class {
		case "stopped":
			s.handleStopped(rec)
		case "running":
			s.mu.Lock()
			s.state = StateRunning
			s.mu.Unlock()
			s.emit(Event{Type: EventContinued})
		}
	case mi.KindNotify:
		s.handleNotify(rec)
	case mi.KindConsole, mi.KindTarget:
		s.emit(Event{Type: EventOutput, Output: rec.Text, Stream: "stdout"})
	case mi.KindLog:
		// Debugger-internal chatter surfaces only in verbose diagnostics.
		if s.cfg.Verbose || s.sink.Verbose() {
			s.sink.Debugf("gdb: %s", strings.TrimRight(rec.Text, "\n"))
		}
	}
}

// handleStopped maps a *stopped record onto the state machine. Exit reasons
// short-circuit straight to Terminated.
func (s *Session) handleStopped(rec mi.Record) {
	reason := rec.Str("reason")
	if strings.Contains(reason, "exited") {
		code, _ := rec.Int("exit-code")
		s.mu.Lock()
		s.state = StateTerminated
		s.mu.Unlock()
		s.emit(Event{Type: EventExited, ExitCode: code})
		s.emit(Event{Type: EventTerminated})
		s.closeEvents()
		return
	}

	stop := &StoppedEvent{
		Reason: mapStopReason(reason),
		Signal: rec.Str("signal-name"),
	}
	stop.ThreadID, _ = rec.Int("thread-id")
	stop.BreakpointID, _ = rec.Int("bkptno")
	if frame, ok := rec.Tuple("frame"); ok {
		stop.Frame = s.parseFrame(frame)
	}

	s.mu.Lock()
	s.state = StateStopped
	s.lastStop = stop
	s.mu.Unlock()
	s.emit(Event{Type: EventStopped, Stop: stop})
}

// mapStopReason is exhaustive with a default: anything unrecognized is a
// pause.
func mapStopReason(reason string) StopReason {
	switch reason {
	case "breakpoint-hit":
		return StopBreakpoint
	case "end-stepping-range":
		return StopStep
	case "signal-received":
		return StopException
	default:
		return StopPause
	}
}

func (s *Session) parseFrame(t mi.Tuple) *Frame {
	f := &Frame{
		Address:  t.Str("addr"),
		Function: t.Str("func"),
		File:     t.Str("file"),
	}
	f.Level, _ = t.Int("level")
	f.Line, _ = t.Int("line")
	if full := t.Str("fullname"); full != "" {
		f.FullPath = s.paths.ToLocal(full)
	}
	return f
}

// handleNotify surfaces remote-side breakpoint changes to the host.
func (s *Session) handleNotify(rec mi.Record) {
	switch rec.Class {
	case "breakpoint-created", "breakpoint-modified":
		if bkpt, ok := rec.Tuple("bkpt"); ok {
			bp := &Breakpoint{Verified: true}
			bp.ID, _ = bkpt.Int("number")
			bp.Line, _ = bkpt.Int("line")
			s.emit(Event{Type: EventBreakpoint, Breakpoint: bp})
		}
	case "breakpoint-deleted":
		bp := &Breakpoint{}
		bp.ID, _ = rec.Int("id")
		s.emit(Event{Type: EventBreakpoint, Breakpoint: bp})
	}
}

// watchTransport consumes transport lifecycle events for the session's
// connection. Reconnection exhaustion is fatal; a successful reconnect
// respawns the debugger and restores breakpoint bindings.
func (s *Session) watchTransport(events <-chan remote.Event) {
	for ev := range events {
		switch ev.Type {
		case remote.EventDisconnected:
			s.sink.Warnf("transport to %s dropped", ev.HostKey)
		case remote.EventReconnecting:
			s.sink.Infof("reconnecting to %s (attempt %d)", ev.HostKey, ev.Attempt)
		case remote.EventReconnected:
			s.sink.Infof("transport to %s restored", ev.HostKey)
			s.respawn()
		case remote.EventFailed:
			s.fail(fmt.Errorf("transport to %s failed permanently: %w", ev.HostKey, ev.Err))
		}
	}
}

// respawn restarts the debugger after a transport gap, preserving breakpoint
// bindings and the last-known stopped state.
func (s *Session) respawn() {
	s.mu.Lock()
	if s.closed || !s.state.active() {
		s.mu.Unlock()
		return
	}
	old := s.client
	s.readyOnce = &sync.Once{}
	s.readyCh = make(chan struct{})
	s.state = StateStartingDebugger
	s.mu.Unlock()

	if old != nil {
		old.Close()
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.ConnectTimeout)
	defer cancel()

	if err := s.startDebugger(ctx); err != nil {
		s.fail(fmt.Errorf("respawn debugger: %w", err))
		return
	}
	s.applySetup(ctx)

	s.mu.Lock()
	if s.lastStop != nil {
		s.state = StateStopped
	} else {
		s.state = StateReady
	}
	paths := append([]string(nil), s.order...)
	s.mu.Unlock()

	for _, path := range paths {
		s.mu.Lock()
		f := s.files[path]
		// Bindings belong to the dead debugger; re-insert from scratch.
		f.ids = nil
		s.mu.Unlock()
		if _, err := s.reconcile(ctx, f); err != nil {
			s.sink.Warnf("restoring breakpoints for %s: %v", path, err)
		}
	}
}

// Disconnect ends the session and tears down the transport.
func (s *Session) Disconnect() {
	s.shutdown(true)
}

// Terminate kills the target and ends the session; the pooled transport
// connection is left alone for other sessions.
func (s *Session) Terminate(ctx context.Context) {
	if client := s.currentClient(); client != nil {
		if _, err := client.Send(ctx, "gdb-exit", ""); err != nil {
			s.sink.Debugf("gdb-exit: %v", err)
		}
	}
	s.shutdown(false)
}

func (s *Session) shutdown(dropTransport bool) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.state = StateTerminated
	client := s.client
	proc := s.proc
	s.mu.Unlock()

	if client != nil {
		client.Close()
	}
	if proc != nil {
		proc.Kill()
	}
	if dropTransport {
		s.transport.Disconnect(s.details)
	}
	s.emit(Event{Type: EventTerminated})
	s.closeEvents()
}

// fail moves the session to Failed from any state and reports it terminally.
func (s *Session) fail(err error) {
	s.mu.Lock()
	if s.closed || s.state == StateFailed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.state = StateFailed
	client := s.client
	proc := s.proc
	s.mu.Unlock()

	s.sink.Errorf("session failed: %v", err)
	if client != nil {
		client.Close()
	}
	if proc != nil {
		proc.Kill()
	}
	s.emit(Event{Type: EventTerminated, Err: err})
	s.closeEvents()
}

func (s *Session) currentClient() *gdb.Client {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.client
}

// emit delivers an event without blocking; events are dropped when the host
// lags.
func (s *Session) emit(ev Event) {
	select {
	case s.events <- ev:
	default:
		s.sink.Debugf("dropping %s event, listener lagging", ev.Type)
	}
}

func (s *Session) closeEvents() {
	s.closeOnce.Do(func() {
		close(s.events)
	})
}
