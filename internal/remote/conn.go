package remote

import (
	"fmt"
	"os"
	"time"

	"golang.org/x/crypto/ssh"
)

// Transport-level keepalive: debugging sessions sit idle for long stretches
// without application traffic, so probe aggressively and tolerate a few
// misses before declaring the connection dead.
const (
	keepaliveInterval  = 15 * time.Second
	keepaliveTolerance = 4
)

// Conn is one live transport connection to a remote host.
type Conn interface {
	// Exec starts a command on the remote host with attached streams.
	Exec(command string) (*Process, error)
	// Ping runs a trivial no-op remote command to confirm liveness.
	Ping() error
	// Close tears the connection down.
	Close() error
	// Done is closed (after yielding the cause) when the transport drops.
	Done() <-chan error
}

// Dialer opens a Conn for a host. Injectable so tests can supply fakes.
type Dialer func(details HostDetails, timeout time.Duration) (Conn, error)

// DialSSH is the production dialer: public-key authenticated SSH with an
// aggressive keepalive loop on the underlying connection.
func DialSSH(details HostDetails, timeout time.Duration) (Conn, error) {
	signer, err := loadSigner(details.PrivateKeyPath)
	if err != nil {
		return nil, err
	}

	cfg := &ssh.ClientConfig{
		User:            details.Username,
		Auth:            []ssh.AuthMethod{ssh.PublicKeys(signer)},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         timeout,
	}

	client, err := ssh.Dial("tcp", details.Addr(), cfg)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", details.Addr(), err)
	}

	c := &sshConn{client: client, done: make(chan error, 1)}
	go c.watch()
	go c.keepalive()
	return c, nil
}

// loadSigner reads and parses private-key material, failing fast when none
// is usable.
func loadSigner(path string) (ssh.Signer, error) {
	if path == "" {
		return nil, ErrNoUsableKey
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrNoUsableKey, path, err)
	}
	signer, err := ssh.ParsePrivateKey(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrNoUsableKey, path, err)
	}
	return signer, nil
}

type sshConn struct {
	client *ssh.Client
	done   chan error
}

func (c *sshConn) watch() {
	err := c.client.Wait()
	c.done <- err
	close(c.done)
}

// keepalive sends transport-level probes and closes the connection after
// several consecutive misses.
func (c *sshConn) keepalive() {
	ticker := time.NewTicker(keepaliveInterval)
	defer ticker.Stop()
	misses := 0
	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			_, _, err := c.client.SendRequest("keepalive@openssh.com", true, nil)
			if err != nil {
				misses++
				if misses >= keepaliveTolerance {
					_ = c.client.Close()
					return
				}
				continue
			}
			misses = 0
		}
	}
}

func (c *sshConn) Exec(command string) (*Process, error) {
	sess, err := c.client.NewSession()
	if err != nil {
		return nil, fmt.Errorf("open exec channel: %w", err)
	}
	stdin, err := sess.StdinPipe()
	if err != nil {
		sess.Close()
		return nil, fmt.Errorf("stdin pipe: %w", err)
	}
	stdout, err := sess.StdoutPipe()
	if err != nil {
		sess.Close()
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := sess.StderrPipe()
	if err != nil {
		sess.Close()
		return nil, fmt.Errorf("stderr pipe: %w", err)
	}
	if err := sess.Start(command); err != nil {
		sess.Close()
		return nil, fmt.Errorf("start %q: %w", command, err)
	}

	kill := func() {
		_ = sess.Signal(ssh.SIGKILL)
		_ = sess.Close()
	}
	return NewProcess(stdin, stdout, stderr, kill, sess.Wait), nil
}

func (c *sshConn) Ping() error {
	sess, err := c.client.NewSession()
	if err != nil {
		return err
	}
	defer sess.Close()
	return sess.Run("true")
}

func (c *sshConn) Close() error {
	return c.client.Close()
}

func (c *sshConn) Done() <-chan error {
	return c.done
}
