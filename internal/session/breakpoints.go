package session

import (
	"context"
	"fmt"
	"sort"
	"strconv"
)

// SetBreakpoints replaces the breakpoint set for one local source file.
// Before the debugger is Ready the request is stored verbatim and every line
// answered as unverified; queued requests are flushed once Ready is reached,
// in the order their paths first arrived. For a reconciled path the policy is
// full replace: every prior binding is deleted, then each requested line is
// inserted fresh — never a diff.
func (s *Session) SetBreakpoints(ctx context.Context, localPath string, lines []int) ([]Breakpoint, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrTerminated
	}

	f, known := s.files[localPath]
	if !known {
		f = &fileBreakpoints{path: localPath}
		s.files[localPath] = f
		s.order = append(s.order, localPath)
	}
	f.lines = append([]int(nil), lines...)

	if !s.state.active() {
		s.mu.Unlock()
		return pendingBreakpoints(lines), nil
	}
	s.mu.Unlock()

	return s.reconcile(ctx, f)
}

// pendingBreakpoints answers a pre-Ready request with all lines unverified.
func pendingBreakpoints(lines []int) []Breakpoint {
	out := make([]Breakpoint, 0, len(lines))
	for _, line := range lines {
		out = append(out, Breakpoint{Line: line, Verified: false})
	}
	return out
}

// flushQueued reconciles every stored request after Ready is reached, in
// path first-arrival order.
func (s *Session) flushQueued(ctx context.Context) {
	s.mu.Lock()
	paths := append([]string(nil), s.order...)
	s.mu.Unlock()

	for _, path := range paths {
		s.mu.Lock()
		f := s.files[path]
		s.mu.Unlock()
		if _, err := s.reconcile(ctx, f); err != nil {
			s.sink.Warnf("flushing breakpoints for %s: %v", path, err)
		}
	}
}

// reconcile applies the full-replace policy for one file: one delete command
// per previously recorded remote id, then one insert command per requested
// line. The remote numeric id from each successful insert becomes the new
// (path,line) binding; a failing insert leaves that line unverified.
func (s *Session) reconcile(ctx context.Context, f *fileBreakpoints) ([]Breakpoint, error) {
	client := s.currentClient()
	if client == nil {
		return nil, ErrNotReady
	}

	s.mu.Lock()
	oldIDs := make([]int, 0, len(f.ids))
	for _, id := range f.ids {
		oldIDs = append(oldIDs, id)
	}
	lines := append([]int(nil), f.lines...)
	s.mu.Unlock()
	sort.Ints(oldIDs)

	for _, id := range oldIDs {
		if _, err := client.Send(ctx, "break-delete", strconv.Itoa(id)); err != nil {
			s.sink.Warnf("break-delete %d: %v", id, err)
		}
	}

	remotePath := s.paths.ToRemote(f.path)
	ids := make(map[int]int, len(lines))
	out := make([]Breakpoint, 0, len(lines))
	for _, line := range lines {
		rec, err := client.Send(ctx, "break-insert", fmt.Sprintf("%s:%d", remotePath, line))
		if err != nil {
			s.sink.Warnf("break-insert %s:%d: %v", remotePath, line, err)
			out = append(out, Breakpoint{Line: line, Verified: false})
			continue
		}
		bkpt, ok := rec.Tuple("bkpt")
		if !ok {
			out = append(out, Breakpoint{Line: line, Verified: false})
			continue
		}
		id, _ := bkpt.Int("number")
		ids[line] = id
		out = append(out, Breakpoint{ID: id, Line: line, Verified: true})
	}

	s.mu.Lock()
	f.ids = ids
	s.mu.Unlock()
	return out, nil
}

// Bindings returns the current (line, remote id) bindings for a file.
func (s *Session) Bindings(localPath string) map[int]int {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.files[localPath]
	if !ok {
		return nil
	}
	out := make(map[int]int, len(f.ids))
	for line, id := range f.ids {
		out[line] = id
	}
	return out
}
