package gdb

import (
	"errors"
	"fmt"
)

// Standard errors returned by the correlation client.
var (
	// ErrClientClosed indicates the client has been closed and can issue no
	// further commands.
	ErrClientClosed = errors.New("gdb client closed")

	// ErrCommandTimeout indicates a command received no result before the
	// deadline. Only the timed-out command is affected.
	ErrCommandTimeout = errors.New("command timeout")
)

// CommandError is a failure reported by the debugger itself through an MI
// error result. It rejects only the command it answers.
type CommandError struct {
	Command string
	Message string
}

// Error implements the error interface.
func (e *CommandError) Error() string {
	return fmt.Sprintf("%s: %s", e.Command, e.Message)
}
