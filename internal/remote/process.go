package remote

import "io"

// Process is a command running on the remote host with its standard streams
// attached. This is how the debugger binary itself is started.
type Process struct {
	stdin  io.WriteCloser
	stdout io.Reader
	stderr io.Reader
	kill   func()
	done   chan error
}

// NewProcess wires a remote process handle around its streams. wait must
// block until the process exits; kill force-terminates it. Both may be nil
// in tests.
func NewProcess(stdin io.WriteCloser, stdout, stderr io.Reader, kill func(), wait func() error) *Process {
	p := &Process{
		stdin:  stdin,
		stdout: stdout,
		stderr: stderr,
		kill:   kill,
		done:   make(chan error, 1),
	}
	if wait != nil {
		go func() {
			p.done <- wait()
			close(p.done)
		}()
	}
	return p
}

// Stdin returns the process input stream.
func (p *Process) Stdin() io.WriteCloser { return p.stdin }

// Stdout returns the process output stream.
func (p *Process) Stdout() io.Reader { return p.stdout }

// Stderr returns the process error stream.
func (p *Process) Stderr() io.Reader { return p.stderr }

// Kill force-terminates the process.
func (p *Process) Kill() {
	if p.kill != nil {
		p.kill()
	}
}

// Done reports process exit. The channel yields the exit error (possibly
// nil) and is then closed.
func (p *Process) Done() <-chan error { return p.done }
