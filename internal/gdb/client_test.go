package gdb

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dshills/remotedbg/internal/diag"
	"github.com/dshills/remotedbg/internal/mi"
)

// lineBuffer collects written command lines and is safe for concurrent use.
type lineBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lineBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lineBuffer) Lines() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	var lines []string
	sc := bufio.NewScanner(strings.NewReader(b.buf.String()))
	for sc.Scan() {
		lines = append(lines, sc.Text())
	}
	return lines
}

func dispatchLine(t *testing.T, c *Client, line string) {
	t.Helper()
	rec, ok, err := mi.ParseLine(line)
	if err != nil {
		t.Fatalf("ParseLine(%q) error = %v", line, err)
	}
	if !ok {
		t.Fatalf("ParseLine(%q) produced no record", line)
	}
	c.Dispatch(rec)
}

func TestClient_SendResolvesByToken(t *testing.T) {
	var out lineBuffer
	c := NewClient(&out, diag.Discard())

	done := make(chan error, 1)
	go func() {
		_, err := c.Send(context.Background(), "exec-run", "")
		done <- err
	}()

	// Wait for the command line to appear, then answer it.
	waitFor(t, func() bool { return len(out.Lines()) == 1 })
	line := out.Lines()[0]
	if line != "1000-exec-run" {
		t.Fatalf("first command = %q, want 1000-exec-run", line)
	}

	dispatchLine(t, c, "1000^done")

	if err := <-done; err != nil {
		t.Fatalf("Send() error = %v", err)
	}
}

func TestClient_TokensNeverRepeat(t *testing.T) {
	var out lineBuffer
	c := NewClient(&out, diag.Discard(), WithTimeout(50*time.Millisecond))

	const n = 50
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			// Every command times out; only token allocation matters here.
			_, _ = c.Send(context.Background(), "exec-next", "")
		}()
	}
	wg.Wait()

	seen := make(map[string]bool)
	for _, line := range out.Lines() {
		token := strings.SplitN(line, "-", 2)[0]
		if seen[token] {
			t.Fatalf("token %s issued twice", token)
		}
		seen[token] = true
	}
	if len(seen) != n {
		t.Fatalf("expected %d unique tokens, got %d", n, len(seen))
	}
}

func TestClient_ErrorResultRejectsWithMessage(t *testing.T) {
	var out lineBuffer
	c := NewClient(&out, diag.Discard())

	done := make(chan error, 1)
	go func() {
		_, err := c.Send(context.Background(), "data-evaluate-expression", "x")
		done <- err
	}()
	waitFor(t, func() bool { return len(out.Lines()) == 1 })

	dispatchLine(t, c, `1000^error,msg="No symbol \"x\" in current context."`)

	err := <-done
	var cmdErr *CommandError
	if !errors.As(err, &cmdErr) {
		t.Fatalf("expected *CommandError, got %v", err)
	}
	if cmdErr.Message != `No symbol "x" in current context.` {
		t.Errorf("message = %q", cmdErr.Message)
	}
}

func TestClient_Timeout(t *testing.T) {
	var out lineBuffer
	c := NewClient(&out, diag.Discard(), WithTimeout(30*time.Millisecond))

	_, err := c.Send(context.Background(), "exec-continue", "")
	if !errors.Is(err, ErrCommandTimeout) {
		t.Fatalf("expected ErrCommandTimeout, got %v", err)
	}

	// A late reply for the retired token is discarded, not delivered anywhere.
	dispatchLine(t, c, "1000^done")
}

func TestClient_StreamRecordNeverResolvesCommand(t *testing.T) {
	var out lineBuffer

	var handled atomic.Int32
	c := NewClient(&out, diag.Discard(),
		WithTimeout(100*time.Millisecond),
		WithRecordHandler(func(rec mi.Record) { handled.Add(1) }),
	)

	done := make(chan error, 1)
	go func() {
		_, err := c.Send(context.Background(), "exec-step", "")
		done <- err
	}()
	waitFor(t, func() bool { return len(out.Lines()) == 1 })

	// Interleaved stream and async records between send and result.
	dispatchLine(t, c, `~"console noise\n"`)
	dispatchLine(t, c, `*running,thread-id="all"`)

	select {
	case err := <-done:
		t.Fatalf("command resolved by a non-result record: %v", err)
	case <-time.After(20 * time.Millisecond):
	}

	dispatchLine(t, c, "1000^done")
	if err := <-done; err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if handled.Load() != 2 {
		t.Errorf("handler saw %d records, want 2", handled.Load())
	}
}

func TestClient_SendSharedCoalesces(t *testing.T) {
	var out lineBuffer
	c := NewClient(&out, diag.Discard())

	const callers = 2
	var wg sync.WaitGroup
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = c.SendShared(context.Background(), "stack-list-frames", "")
		}(i)
	}

	waitFor(t, func() bool { return len(out.Lines()) >= 1 })
	// Give the second caller time to attach to the shared flight.
	time.Sleep(20 * time.Millisecond)
	if got := len(out.Lines()); got != 1 {
		t.Fatalf("expected exactly 1 remote invocation, got %d: %v", got, out.Lines())
	}

	dispatchLine(t, c, "1000^done,stack=[]")
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Errorf("caller %d error = %v", i, err)
		}
	}

	// The shared slot is cleared once settled; the next call issues fresh.
	go func() { _, _ = c.SendShared(context.Background(), "stack-list-frames", "") }()
	waitFor(t, func() bool { return len(out.Lines()) == 2 })
}

func TestClient_CloseRejectsPendingAndFurtherSends(t *testing.T) {
	var out lineBuffer
	c := NewClient(&out, diag.Discard())

	done := make(chan error, 1)
	go func() {
		_, err := c.Send(context.Background(), "exec-run", "")
		done <- err
	}()
	waitFor(t, func() bool { return len(out.Lines()) == 1 })

	c.Close()

	if err := <-done; !errors.Is(err, ErrClientClosed) {
		t.Fatalf("pending command error = %v, want ErrClientClosed", err)
	}
	if _, err := c.Send(context.Background(), "exec-run", ""); !errors.Is(err, ErrClientClosed) {
		t.Fatalf("Send after Close error = %v, want ErrClientClosed", err)
	}
	// Double close is safe.
	c.Close()
}

func TestClient_ContextCancellation(t *testing.T) {
	var out lineBuffer
	c := NewClient(&out, diag.Discard())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := c.Send(ctx, "exec-run", "")
		done <- err
	}()
	waitFor(t, func() bool { return len(out.Lines()) == 1 })
	cancel()

	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Fatalf("Send() error = %v, want context.Canceled", err)
	}
}

// waitFor polls until cond holds or the deadline passes.
func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}
