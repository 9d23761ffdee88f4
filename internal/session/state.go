package session

// State is the orchestrator lifecycle state. Failed is reachable from any
// state on unrecoverable error.
type State int

const (
	// StateIdle means no launch has been requested.
	StateIdle State = iota
	// StateConnecting means the transport connection is being established.
	StateConnecting
	// StateStartingDebugger means the debugger process was spawned and its
	// ready marker is awaited.
	StateStartingDebugger
	// StateReady means the debugger accepts commands; the target is not
	// executing.
	StateReady
	// StateRunning means the target is executing.
	StateRunning
	// StateStopped means the target halted at a breakpoint, step, or signal.
	StateStopped
	// StateTerminated means the target exited or the session was torn down.
	StateTerminated
	// StateFailed means an unrecoverable error ended the session.
	StateFailed
)

// String returns a human-readable state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateStartingDebugger:
		return "starting-debugger"
	case StateReady:
		return "ready"
	case StateRunning:
		return "running"
	case StateStopped:
		return "stopped"
	case StateTerminated:
		return "terminated"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// active reports whether the debugger process is usable.
func (s State) active() bool {
	switch s {
	case StateReady, StateRunning, StateStopped:
		return true
	default:
		return false
	}
}
