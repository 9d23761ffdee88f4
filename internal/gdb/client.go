// Package gdb implements token-based command correlation over one shared MI
// byte stream.
//
// Exactly one command stream feeds exactly one remote debugger process.
// Outgoing lines are written in strict issuance order; the per-command token
// echoed back on result records is the only thing correlation trusts. Async
// and stream records arriving between a command and its result are routed to
// the record handler and can never resolve a pending command.
package gdb

import (
	"context"
	"io"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/dshills/remotedbg/internal/diag"
	"github.com/dshills/remotedbg/internal/mi"
)

// tokenBase is the arbitrary fixed base of the per-session token counter.
const tokenBase = 1000

// DefaultCommandTimeout bounds every correlated command round trip.
const DefaultCommandTimeout = 5 * time.Second

// RecordHandler receives async and stream records that correlate to no
// pending command.
type RecordHandler func(rec mi.Record)

// Client issues tokenized commands onto a transport-provided byte stream and
// routes matching result records back to callers.
type Client struct {
	mu      sync.Mutex
	w       io.Writer
	next    int
	pending map[int]chan mi.Record
	closed  bool

	handler RecordHandler
	sink    diag.Sink
	timeout time.Duration

	// flights coalesces idempotent inspection commands: concurrent callers
	// of the same command share one outstanding round trip.
	flights singleflight.Group
}

// Option configures the client.
type Option func(*Client)

// WithTimeout overrides the per-command timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.timeout = d
	}
}

// WithRecordHandler sets the handler for uncorrelated records.
func WithRecordHandler(h RecordHandler) Option {
	return func(c *Client) {
		c.handler = h
	}
}

// NewClient creates a client writing commands to w. Records read from the
// transport must be pushed in via Dispatch by the owning read loop.
func NewClient(w io.Writer, sink diag.Sink, opts ...Option) *Client {
	c := &Client{
		w:       w,
		next:    tokenBase,
		pending: make(map[int]chan mi.Record),
		sink:    sink,
		timeout: DefaultCommandTimeout,
	}
	if c.sink == nil {
		c.sink = diag.Discard()
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Send issues one correlated command and waits for its result record.
// Exactly one of three outcomes retires the command: a matching non-error
// result (success), a matching error result (*CommandError), or the timeout
// (ErrCommandTimeout). A late result for a retired token is discarded.
func (c *Client) Send(ctx context.Context, name, args string) (mi.Record, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return mi.Record{}, ErrClientClosed
	}
	token := c.next
	c.next++
	ch := make(chan mi.Record, 1)
	c.pending[token] = ch

	// Writing while holding the lock keeps issuance order and token order
	// identical on the wire.
	line := mi.EncodeCommand(token, name, args)
	_, err := io.WriteString(c.w, line+"\n")
	c.mu.Unlock()

	if err != nil {
		c.retire(token)
		return mi.Record{}, err
	}
	c.sink.Debugf("sent %s", line)

	timer := time.NewTimer(c.timeout)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		c.retire(token)
		return mi.Record{}, ctx.Err()
	case <-timer.C:
		c.retire(token)
		return mi.Record{}, ErrCommandTimeout
	case rec, ok := <-ch:
		if !ok {
			return mi.Record{}, ErrClientClosed
		}
		if rec.Class == "error" {
			msg := rec.Str("msg")
			if msg == "" {
				msg = "command failed"
			}
			return mi.Record{}, &CommandError{Command: name, Message: msg}
		}
		return rec, nil
	}
}

// SendShared issues a command with request coalescing: while an identical
// command is outstanding, additional callers attach to the same round trip
// instead of issuing a duplicate. The shared slot clears once the command
// settles, so the next call issues fresh.
func (c *Client) SendShared(ctx context.Context, name, args string) (mi.Record, error) {
	key := name + " " + args
	v, err, _ := c.flights.Do(key, func() (any, error) {
		return c.Send(ctx, name, args)
	})
	if err != nil {
		return mi.Record{}, err
	}
	return v.(mi.Record), nil
}

// Dispatch routes one parsed record. Result records with a pending token
// resolve that command; everything else goes to the record handler. Results
// for already-retired tokens are discarded silently.
func (c *Client) Dispatch(rec mi.Record) {
	if rec.Kind == mi.KindResult && rec.Token != mi.NoToken {
		c.mu.Lock()
		ch, ok := c.pending[rec.Token]
		if ok {
			delete(c.pending, rec.Token)
		}
		c.mu.Unlock()
		if ok {
			ch <- rec
		} else {
			c.sink.Debugf("discarding late result for token %d", rec.Token)
		}
		return
	}

	c.mu.Lock()
	handler := c.handler
	c.mu.Unlock()
	if handler != nil {
		handler(rec)
	}
}

// OnRecord replaces the handler for uncorrelated records.
func (c *Client) OnRecord(h RecordHandler) {
	c.mu.Lock()
	c.handler = h
	c.mu.Unlock()
}

// Close rejects all outstanding commands and refuses further sends.
func (c *Client) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	for token, ch := range c.pending {
		close(ch)
		delete(c.pending, token)
	}
	c.mu.Unlock()
}

// retire drops the pending entry for a token after a local outcome (timeout,
// cancellation, write failure) so a late result cannot resolve anything.
func (c *Client) retire(token int) {
	c.mu.Lock()
	delete(c.pending, token)
	c.mu.Unlock()
}
