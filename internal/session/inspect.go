package session

import (
	"context"
	"strconv"

	"github.com/dshills/remotedbg/internal/mi"
)

// Thread is one target thread.
type Thread struct {
	ID    int
	Name  string
	State string
}

// Variable is one named value in a scope.
type Variable struct {
	Name  string
	Value string
}

// Scope is a handle to one group of variables within a frame. Only locals
// are exposed; the scope handle is the frame id it belongs to.
type Scope struct {
	Name    string
	FrameID int
}

// Threads lists the target's threads.
func (s *Session) Threads(ctx context.Context) ([]Thread, error) {
	client := s.currentClient()
	if client == nil {
		return nil, ErrNotReady
	}
	rec, err := client.Send(ctx, "thread-info", "")
	if err != nil {
		return nil, err
	}

	list, ok := rec.List("threads")
	if !ok {
		return nil, nil
	}
	threads := make([]Thread, 0, len(list.Items))
	for _, item := range list.Items {
		t, ok := mi.AsTuple(item)
		if !ok {
			continue
		}
		th := Thread{
			Name:  t.Str("name"),
			State: t.Str("state"),
		}
		th.ID, _ = t.Int("id")
		if th.Name == "" {
			th.Name = t.Str("target-id")
		}
		threads = append(threads, th)
	}
	return threads, nil
}

// StackTrace lists the stopped thread's stack frames. Concurrent callers
// share one outstanding remote command; identical requests never duplicate
// on the wire while one is in flight.
func (s *Session) StackTrace(ctx context.Context, threadID int) ([]Frame, error) {
	client := s.currentClient()
	if client == nil {
		return nil, ErrNotReady
	}
	args := ""
	if threadID > 0 {
		args = "--thread " + strconv.Itoa(threadID)
	}
	rec, err := client.SendShared(ctx, "stack-list-frames", args)
	if err != nil {
		return nil, err
	}

	list, ok := rec.List("stack")
	if !ok {
		return nil, nil
	}
	frames := make([]Frame, 0, len(list.Items))
	for _, item := range list.Items {
		// List elements arrive as frame={...} pairs, normalized into
		// single-field tuples.
		t, ok := mi.AsTuple(item)
		if !ok {
			continue
		}
		if inner, ok := t.Get("frame"); ok {
			if ft, ok := mi.AsTuple(inner); ok {
				t = ft
			}
		}
		frames = append(frames, *s.parseFrame(t))
	}
	return frames, nil
}

// Scopes selects a frame and returns its variable scopes.
func (s *Session) Scopes(ctx context.Context, frameID int) ([]Scope, error) {
	client := s.currentClient()
	if client == nil {
		return nil, ErrNotReady
	}
	if _, err := client.Send(ctx, "stack-select-frame", strconv.Itoa(frameID)); err != nil {
		return nil, err
	}
	return []Scope{{Name: "Locals", FrameID: frameID}}, nil
}

// Variables lists the variables of a previously selected frame's scope.
func (s *Session) Variables(ctx context.Context, scope Scope) ([]Variable, error) {
	client := s.currentClient()
	if client == nil {
		return nil, ErrNotReady
	}
	rec, err := client.Send(ctx, "stack-list-variables", "--all-values")
	if err != nil {
		return nil, err
	}

	list, ok := rec.List("variables")
	if !ok {
		return nil, nil
	}
	vars := make([]Variable, 0, len(list.Items))
	for _, item := range list.Items {
		t, ok := mi.AsTuple(item)
		if !ok {
			continue
		}
		vars = append(vars, Variable{
			Name:  t.Str("name"),
			Value: t.Str("value"),
		})
	}
	return vars, nil
}

// Evaluate evaluates an expression in the current frame.
func (s *Session) Evaluate(ctx context.Context, expr string) (string, error) {
	client := s.currentClient()
	if client == nil {
		return "", ErrNotReady
	}
	rec, err := client.Send(ctx, "data-evaluate-expression", mi.QuoteArg(expr))
	if err != nil {
		return "", err
	}
	return rec.Str("value"), nil
}
