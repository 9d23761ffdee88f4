package session

// EventType identifies a session-level notification delivered to the host.
type EventType int

const (
	// EventInitialized signals the debugger finished startup.
	EventInitialized EventType = iota
	// EventStopped signals the target halted; Stop carries the details.
	EventStopped
	// EventContinued signals the target resumed execution.
	EventContinued
	// EventExited signals the target process exited; ExitCode is set.
	EventExited
	// EventTerminated signals the debug session ended.
	EventTerminated
	// EventOutput carries console or target text output.
	EventOutput
	// EventBreakpoint signals a remote-side breakpoint change.
	EventBreakpoint
)

// String returns a human-readable event name.
func (t EventType) String() string {
	switch t {
	case EventInitialized:
		return "initialized"
	case EventStopped:
		return "stopped"
	case EventContinued:
		return "continued"
	case EventExited:
		return "exited"
	case EventTerminated:
		return "terminated"
	case EventOutput:
		return "output"
	case EventBreakpoint:
		return "breakpoint"
	default:
		return "unknown"
	}
}

// StopReason classifies why the target halted.
type StopReason string

const (
	StopBreakpoint StopReason = "breakpoint"
	StopStep       StopReason = "step"
	StopException  StopReason = "exception"
	StopPause      StopReason = "pause"
)

// Frame is one stack frame.
type Frame struct {
	Level    int
	Address  string
	Function string
	File     string
	FullPath string
	Line     int
}

// StoppedEvent describes a halt of the target.
type StoppedEvent struct {
	Reason       StopReason
	ThreadID     int
	BreakpointID int
	Signal       string
	Frame        *Frame
}

// Breakpoint is the host-visible view of one requested breakpoint.
type Breakpoint struct {
	ID       int
	Line     int
	Verified bool
}

// Event is a session notification. Exactly one payload field is meaningful
// per Type.
type Event struct {
	Type EventType

	Stop       *StoppedEvent
	Output     string
	Stream     string
	ExitCode   int
	Breakpoint *Breakpoint
	Err        error
}
