package session

import "errors"

var (
	// ErrAlreadyLaunched indicates Launch was called on a session that has
	// left Idle.
	ErrAlreadyLaunched = errors.New("session already launched")

	// ErrNotReady indicates an operation that needs a running debugger was
	// called before startup completed.
	ErrNotReady = errors.New("debugger not ready")

	// ErrTerminated indicates the debug session has ended.
	ErrTerminated = errors.New("session terminated")

	// ErrNoProgram indicates the launch configuration names no target
	// program.
	ErrNoProgram = errors.New("no program configured")
)
