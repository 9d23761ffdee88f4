package session

import "context"

// Run starts target execution. With StopAtEntry set, the target halts at its
// entry point instead of running freely.
func (s *Session) Run(ctx context.Context) error {
	args := ""
	if s.cfg.StopAtEntry {
		args = "--start"
	}
	return s.execCommand(ctx, "exec-run", args)
}

// Continue resumes the target after a stop.
func (s *Session) Continue(ctx context.Context) error {
	return s.execCommand(ctx, "exec-continue", "")
}

// StepOver executes the next source line, stepping over calls.
func (s *Session) StepOver(ctx context.Context) error {
	return s.execCommand(ctx, "exec-next", "")
}

// StepInto executes the next source line, stepping into calls.
func (s *Session) StepInto(ctx context.Context) error {
	return s.execCommand(ctx, "exec-step", "")
}

// StepOut runs until the current function returns.
func (s *Session) StepOut(ctx context.Context) error {
	return s.execCommand(ctx, "exec-finish", "")
}

// Pause interrupts a running target.
func (s *Session) Pause(ctx context.Context) error {
	client := s.currentClient()
	if client == nil {
		return ErrNotReady
	}
	_, err := client.Send(ctx, "exec-interrupt", "")
	return err
}

// execCommand issues one execution-control command and moves the state
// machine to Running on success. The matching *stopped notification later
// moves it back.
func (s *Session) execCommand(ctx context.Context, name, args string) error {
	s.mu.Lock()
	if !s.state.active() {
		state := s.state
		s.mu.Unlock()
		if state == StateTerminated || state == StateFailed {
			return ErrTerminated
		}
		return ErrNotReady
	}
	client := s.client
	s.mu.Unlock()

	if _, err := client.Send(ctx, name, args); err != nil {
		return err
	}

	s.mu.Lock()
	s.state = StateRunning
	s.lastStop = nil
	s.mu.Unlock()
	return nil
}
