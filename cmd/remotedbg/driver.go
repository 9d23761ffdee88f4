package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/dshills/remotedbg/internal/diag"
	"github.com/dshills/remotedbg/internal/hostcfg"
	"github.com/dshills/remotedbg/internal/remote"
	"github.com/dshills/remotedbg/internal/session"
)

// driver bridges JSON-line requests on stdin to the session orchestrator and
// streams session events back as JSON lines.
type driver struct {
	mu sync.Mutex

	cfg      *hostcfg.Config
	resolver *hostcfg.Resolver
	manager  *remote.Manager
	sink     diag.Sink

	sess *session.Session

	in  io.Reader
	out io.Writer
	// outMu serializes writes so event and response lines never interleave.
	outMu sync.Mutex

	done chan struct{}
}

type driverOptions struct {
	Config  *hostcfg.Config
	Manager *remote.Manager
	Sink    diag.Sink
	In      io.Reader
	Out     io.Writer
}

func newDriver(opts driverOptions) *driver {
	if opts.Config == nil {
		opts.Config = &hostcfg.Config{}
	}
	d := &driver{
		cfg:      opts.Config,
		resolver: hostcfg.NewResolver(opts.Config),
		manager:  opts.Manager,
		sink:     opts.Sink,
		in:       opts.In,
		out:      opts.Out,
		done:     make(chan struct{}),
	}
	if d.sink == nil {
		d.sink = diag.Discard()
	}
	return d
}

// SetConfig swaps in a freshly reloaded host configuration. The active
// session keeps the mapper it was launched with.
func (d *driver) SetConfig(cfg *hostcfg.Config) {
	d.mu.Lock()
	d.cfg = cfg
	d.resolver = hostcfg.NewResolver(cfg)
	d.mu.Unlock()
}

// Run reads requests until stdin closes.
func (d *driver) Run() error {
	scanner := bufio.NewScanner(d.in)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		select {
		case <-d.done:
			return nil
		default:
		}
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		d.handle(line)
	}
	d.Shutdown()
	return scanner.Err()
}

// Shutdown ends the active session and stops the request loop.
func (d *driver) Shutdown() {
	d.mu.Lock()
	sess := d.sess
	d.sess = nil
	select {
	case <-d.done:
	default:
		close(d.done)
	}
	d.mu.Unlock()

	if sess != nil {
		sess.Disconnect()
	}
}

func (d *driver) handle(line []byte) {
	if !gjson.ValidBytes(line) {
		d.respondErr(0, fmt.Errorf("invalid request"))
		return
	}
	req := gjson.ParseBytes(line)
	seq := req.Get("seq").Int()
	cmd := req.Get("cmd").String()
	ctx := context.Background()

	switch cmd {
	case "initialize":
		out, _ := sjson.SetBytes([]byte("{}"), "version", version)
		d.respond(seq, out, nil)
	case "launch", "attach":
		// Attach is core-dump analysis: the same startup flow with a
		// coreDump path in the configuration.
		d.handleLaunch(seq, req)
	case "setBreakpoints":
		d.handleSetBreakpoints(seq, req)
	case "run":
		d.respond(seq, nil, d.withSession(func(s *session.Session) error { return s.Run(ctx) }))
	case "continue":
		d.respond(seq, nil, d.withSession(func(s *session.Session) error { return s.Continue(ctx) }))
	case "stepOver":
		d.respond(seq, nil, d.withSession(func(s *session.Session) error { return s.StepOver(ctx) }))
	case "stepIn":
		d.respond(seq, nil, d.withSession(func(s *session.Session) error { return s.StepInto(ctx) }))
	case "stepOut":
		d.respond(seq, nil, d.withSession(func(s *session.Session) error { return s.StepOut(ctx) }))
	case "pause":
		d.respond(seq, nil, d.withSession(func(s *session.Session) error { return s.Pause(ctx) }))
	case "threads":
		d.handleThreads(seq)
	case "stackTrace":
		d.handleStackTrace(seq, req)
	case "scopes":
		d.handleScopes(seq, req)
	case "variables":
		d.handleVariables(seq, req)
	case "evaluate":
		d.handleEvaluate(seq, req)
	case "disconnect":
		d.handleDisconnect(seq)
	case "terminate":
		d.handleTerminate(seq)
	default:
		d.respondErr(seq, fmt.Errorf("unknown command %q", cmd))
	}
}

func (d *driver) handleLaunch(seq int64, req gjson.Result) {
	cfg, err := session.ParseLaunchConfig([]byte(req.Get("config").Raw))
	if err != nil {
		d.respondErr(seq, err)
		return
	}

	d.mu.Lock()
	resolver := d.resolver
	mapper := d.cfg.Mapper()
	d.mu.Unlock()

	details, err := resolver.Resolve(cfg.Host, hostcfg.Overrides{
		Hostname: cfg.Hostname,
		Port:     cfg.Port,
		Username: cfg.Username,
		KeyFile:  cfg.KeyFile,
	})
	if err != nil {
		d.respondErr(seq, err)
		return
	}

	sess := session.New(cfg, details, session.ManagerTransport{Manager: d.manager}, d.sink,
		session.WithPathMapper(mapper))

	d.mu.Lock()
	if d.sess != nil {
		d.mu.Unlock()
		d.respondErr(seq, session.ErrAlreadyLaunched)
		return
	}
	d.sess = sess
	d.mu.Unlock()

	go d.pumpEvents(sess)

	if err := sess.Launch(context.Background()); err != nil {
		d.mu.Lock()
		d.sess = nil
		d.mu.Unlock()
		d.respondErr(seq, err)
		return
	}
	d.respond(seq, nil, nil)
}

func (d *driver) handleSetBreakpoints(seq int64, req gjson.Result) {
	path := req.Get("path").String()
	var lines []int
	for _, l := range req.Get("lines").Array() {
		lines = append(lines, int(l.Int()))
	}

	var out []byte
	err := d.withSession(func(s *session.Session) error {
		bps, err := s.SetBreakpoints(context.Background(), path, lines)
		if err != nil {
			return err
		}
		out = encodeBreakpoints(bps)
		return nil
	})
	d.respond(seq, out, err)
}

func (d *driver) handleThreads(seq int64) {
	var out []byte
	err := d.withSession(func(s *session.Session) error {
		threads, err := s.Threads(context.Background())
		if err != nil {
			return err
		}
		out = []byte("[]")
		for _, th := range threads {
			item, _ := sjson.SetBytes([]byte("{}"), "id", th.ID)
			item, _ = sjson.SetBytes(item, "name", th.Name)
			item, _ = sjson.SetBytes(item, "state", th.State)
			out = appendRaw(out, item)
		}
		return nil
	})
	d.respond(seq, out, err)
}

func (d *driver) handleStackTrace(seq int64, req gjson.Result) {
	threadID := int(req.Get("threadId").Int())
	var out []byte
	err := d.withSession(func(s *session.Session) error {
		frames, err := s.StackTrace(context.Background(), threadID)
		if err != nil {
			return err
		}
		out = []byte("[]")
		for i := range frames {
			out = appendRaw(out, frameBytes(&frames[i]))
		}
		return nil
	})
	d.respond(seq, out, err)
}

func (d *driver) handleScopes(seq int64, req gjson.Result) {
	frameID := int(req.Get("frameId").Int())
	var out []byte
	err := d.withSession(func(s *session.Session) error {
		scopes, err := s.Scopes(context.Background(), frameID)
		if err != nil {
			return err
		}
		out = []byte("[]")
		for _, sc := range scopes {
			item, _ := sjson.SetBytes([]byte("{}"), "name", sc.Name)
			item, _ = sjson.SetBytes(item, "frameId", sc.FrameID)
			out = appendRaw(out, item)
		}
		return nil
	})
	d.respond(seq, out, err)
}

func (d *driver) handleVariables(seq int64, req gjson.Result) {
	scope := session.Scope{
		Name:    req.Get("scope").String(),
		FrameID: int(req.Get("frameId").Int()),
	}
	var out []byte
	err := d.withSession(func(s *session.Session) error {
		vars, err := s.Variables(context.Background(), scope)
		if err != nil {
			return err
		}
		out = []byte("[]")
		for _, v := range vars {
			item, _ := sjson.SetBytes([]byte("{}"), "name", v.Name)
			item, _ = sjson.SetBytes(item, "value", v.Value)
			out = appendRaw(out, item)
		}
		return nil
	})
	d.respond(seq, out, err)
}

func (d *driver) handleEvaluate(seq int64, req gjson.Result) {
	expr := req.Get("expression").String()
	var out []byte
	err := d.withSession(func(s *session.Session) error {
		val, err := s.Evaluate(context.Background(), expr)
		if err != nil {
			return err
		}
		out, _ = sjson.SetBytes([]byte("{}"), "value", val)
		return nil
	})
	d.respond(seq, out, err)
}

func (d *driver) handleDisconnect(seq int64) {
	d.mu.Lock()
	sess := d.sess
	d.sess = nil
	d.mu.Unlock()
	if sess != nil {
		sess.Disconnect()
	}
	d.respond(seq, nil, nil)
}

func (d *driver) handleTerminate(seq int64) {
	d.mu.Lock()
	sess := d.sess
	d.sess = nil
	d.mu.Unlock()
	if sess != nil {
		sess.Terminate(context.Background())
	}
	d.respond(seq, nil, nil)
}

func (d *driver) withSession(fn func(*session.Session) error) error {
	d.mu.Lock()
	sess := d.sess
	d.mu.Unlock()
	if sess == nil {
		return session.ErrNotReady
	}
	return fn(sess)
}

// pumpEvents streams session events as JSON lines until the session ends.
func (d *driver) pumpEvents(sess *session.Session) {
	for ev := range sess.Events() {
		d.writeLine(encodeEvent(ev))
	}
	d.mu.Lock()
	if d.sess == sess {
		d.sess = nil
	}
	d.mu.Unlock()
}

func (d *driver) respond(seq int64, result []byte, err error) {
	if err != nil {
		d.respondErr(seq, err)
		return
	}
	out, _ := sjson.SetBytes([]byte("{}"), "seq", seq)
	out, _ = sjson.SetBytes(out, "ok", true)
	if result != nil {
		out, _ = sjson.SetRawBytes(out, "result", result)
	}
	d.writeLine(out)
}

func (d *driver) respondErr(seq int64, err error) {
	out, _ := sjson.SetBytes([]byte("{}"), "seq", seq)
	out, _ = sjson.SetBytes(out, "ok", false)
	out, _ = sjson.SetBytes(out, "error", err.Error())
	d.writeLine(out)
}

func (d *driver) writeLine(line []byte) {
	d.outMu.Lock()
	defer d.outMu.Unlock()
	d.out.Write(line)
	io.WriteString(d.out, "\n")
}

func encodeEvent(ev session.Event) []byte {
	out, _ := sjson.SetBytes([]byte("{}"), "event", ev.Type.String())
	switch ev.Type {
	case session.EventStopped:
		if ev.Stop != nil {
			out, _ = sjson.SetBytes(out, "reason", string(ev.Stop.Reason))
			out, _ = sjson.SetBytes(out, "threadId", ev.Stop.ThreadID)
			if ev.Stop.BreakpointID > 0 {
				out, _ = sjson.SetBytes(out, "breakpointId", ev.Stop.BreakpointID)
			}
			if ev.Stop.Signal != "" {
				out, _ = sjson.SetBytes(out, "signal", ev.Stop.Signal)
			}
			if ev.Stop.Frame != nil {
				out, _ = sjson.SetRawBytes(out, "frame", frameBytes(ev.Stop.Frame))
			}
		}
	case session.EventExited:
		out, _ = sjson.SetBytes(out, "exitCode", ev.ExitCode)
	case session.EventOutput:
		out, _ = sjson.SetBytes(out, "output", ev.Output)
		out, _ = sjson.SetBytes(out, "stream", ev.Stream)
	case session.EventBreakpoint:
		if ev.Breakpoint != nil {
			out, _ = sjson.SetBytes(out, "id", ev.Breakpoint.ID)
			out, _ = sjson.SetBytes(out, "line", ev.Breakpoint.Line)
			out, _ = sjson.SetBytes(out, "verified", ev.Breakpoint.Verified)
		}
	case session.EventTerminated:
		if ev.Err != nil {
			out, _ = sjson.SetBytes(out, "error", ev.Err.Error())
		}
	}
	return out
}

func encodeBreakpoints(bps []session.Breakpoint) []byte {
	out := []byte("[]")
	for _, bp := range bps {
		item, _ := sjson.SetBytes([]byte("{}"), "id", bp.ID)
		item, _ = sjson.SetBytes(item, "line", bp.Line)
		item, _ = sjson.SetBytes(item, "verified", bp.Verified)
		out = appendRaw(out, item)
	}
	return out
}

func frameBytes(f *session.Frame) []byte {
	out, _ := sjson.SetBytes([]byte("{}"), "level", f.Level)
	out, _ = sjson.SetBytes(out, "function", f.Function)
	out, _ = sjson.SetBytes(out, "line", f.Line)
	if f.Address != "" {
		out, _ = sjson.SetBytes(out, "address", f.Address)
	}
	if f.File != "" {
		out, _ = sjson.SetBytes(out, "file", f.File)
	}
	if f.FullPath != "" {
		out, _ = sjson.SetBytes(out, "path", f.FullPath)
	}
	return out
}

// appendRaw appends one encoded element to a JSON array.
func appendRaw(arr, item []byte) []byte {
	out, err := sjson.SetRawBytes(arr, "-1", item)
	if err != nil {
		return arr
	}
	return out
}
