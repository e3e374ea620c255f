// Package deploy ships build artifacts to remote hosts over SSH and runs
// the activation command there. Failures are classified so callers can
// tell an unreachable host from a failed remote command.
package deploy

import (
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"path"
	"time"

	"golang.org/x/crypto/ssh"

	"github.com/stackd-io/stackd/internal/creds"
)

const (
	defaultSSHPort     = 22
	defaultDialTimeout = 15 * time.Second
)

// ConnectionError wraps failures to reach or authenticate against the
// target host. The dial is bounded by the configured timeout and is not
// retried here.
type ConnectionError struct {
	Addr string
	Err  error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connection to %s failed: %v", e.Addr, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// TransferError wraps artifact upload failures. Remote execution never
// starts after a failed transfer.
type TransferError struct {
	Local  string
	Remote string
	Err    error
}

func (e *TransferError) Error() string {
	return fmt.Sprintf("transfer of %s to %s failed: %v", e.Local, e.Remote, e.Err)
}

func (e *TransferError) Unwrap() error { return e.Err }

// ExitError wraps a remote command that ran but returned non-zero.
type ExitError struct {
	Command string
	Output  string
	Err     error
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("remote command failed: %v", e.Err)
}

func (e *ExitError) Unwrap() error { return e.Err }

// Target identifies the machine a deployment lands on.
type Target struct {
	Host        string
	Port        int
	User        string
	PrivateKey  creds.Secret
	DialTimeout time.Duration
}

func (t Target) addr() string {
	port := t.Port
	if port == 0 {
		port = defaultSSHPort
	}
	return net.JoinHostPort(t.Host, fmt.Sprintf("%d", port))
}

// Client holds an established SSH connection to a target.
type Client struct {
	addr string
	conn *ssh.Client
}

// Connect dials the target and authenticates with its private key. Host
// keys are not verified; deployment targets are ephemeral machines the
// provisioner created moments earlier.
func Connect(ctx context.Context, target Target) (*Client, error) {
	if target.Host == "" {
		return nil, fmt.Errorf("target host must not be empty")
	}
	if target.User == "" {
		return nil, fmt.Errorf("target user must not be empty")
	}

	signer, err := ssh.ParsePrivateKey([]byte(target.PrivateKey.Reveal()))
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %w", err)
	}

	timeout := target.DialTimeout
	if timeout == 0 {
		timeout = defaultDialTimeout
	}

	cfg := &ssh.ClientConfig{
		User:            target.User,
		Auth:            []ssh.AuthMethod{ssh.PublicKeys(signer)},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(), //nolint:gosec
		Timeout:         timeout,
	}

	addr := target.addr()

	dialer := net.Dialer{Timeout: timeout}
	netConn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, &ConnectionError{Addr: addr, Err: err}
	}

	sshConn, chans, reqs, err := ssh.NewClientConn(netConn, addr, cfg)
	if err != nil {
		netConn.Close()
		return nil, &ConnectionError{Addr: addr, Err: err}
	}

	return &Client{addr: addr, conn: ssh.NewClient(sshConn, chans, reqs)}, nil
}

func (c *Client) Close() error {
	return c.conn.Close()
}

// Execute runs a command on the target and returns its combined output.
// A non-zero exit comes back as an ExitError carrying the output.
func (c *Client) Execute(ctx context.Context, command string) (string, error) {
	session, err := c.conn.NewSession()
	if err != nil {
		return "", &ConnectionError{Addr: c.addr, Err: err}
	}
	defer session.Close()

	type result struct {
		output []byte
		err    error
	}
	done := make(chan result, 1)
	go func() {
		out, runErr := session.CombinedOutput(command)
		done <- result{output: out, err: runErr}
	}()

	select {
	case <-ctx.Done():
		_ = session.Signal(ssh.SIGKILL)
		return "", fmt.Errorf("remote command timed out on %s: %w", c.addr, ctx.Err())
	case res := <-done:
		if res.err != nil {
			return string(res.output), &ExitError{Command: command, Output: string(res.output), Err: res.err}
		}
		return string(res.output), nil
	}
}

// Upload streams a local file to remotePath through an exec session.
func (c *Client) Upload(ctx context.Context, localPath, remotePath string) error {
	f, err := os.Open(localPath)
	if err != nil {
		return &TransferError{Local: localPath, Remote: remotePath, Err: err}
	}
	defer f.Close()

	session, err := c.conn.NewSession()
	if err != nil {
		return &ConnectionError{Addr: c.addr, Err: err}
	}
	defer session.Close()

	stdin, err := session.StdinPipe()
	if err != nil {
		return &TransferError{Local: localPath, Remote: remotePath, Err: err}
	}

	cmd := fmt.Sprintf("mkdir -p %q && cat > %q", path.Dir(remotePath), remotePath)
	if err := session.Start(cmd); err != nil {
		return &TransferError{Local: localPath, Remote: remotePath, Err: err}
	}

	copyErr := make(chan error, 1)
	go func() {
		_, err := io.Copy(stdin, f)
		stdin.Close()
		copyErr <- err
	}()

	select {
	case <-ctx.Done():
		return &TransferError{Local: localPath, Remote: remotePath, Err: ctx.Err()}
	case err := <-copyErr:
		if err != nil {
			return &TransferError{Local: localPath, Remote: remotePath, Err: err}
		}
	}

	if err := session.Wait(); err != nil {
		return &TransferError{Local: localPath, Remote: remotePath, Err: err}
	}
	return nil
}
