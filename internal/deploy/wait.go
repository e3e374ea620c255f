package deploy

import (
	"context"
	"fmt"
	"net"
	"time"
)

const (
	// DefaultReadyTimeout bounds how long WaitReady polls before the
	// host is declared unreachable.
	DefaultReadyTimeout = 5 * time.Minute

	defaultPollInterval = 3 * time.Second
	probeDialTimeout    = 2 * time.Second
)

// ReadinessTimeoutError reports a host that never opened its port within
// the bounded polling window.
type ReadinessTimeoutError struct {
	Addr    string
	Elapsed time.Duration
}

func (e *ReadinessTimeoutError) Error() string {
	return fmt.Sprintf("host %s not ready after %s", e.Addr, e.Elapsed.Round(time.Second))
}

// WaitReady polls a TCP port until it accepts connections or the timeout
// elapses. The first probe fires immediately so an already-up host adds
// no delay.
func WaitReady(ctx context.Context, host string, port int, timeout time.Duration) error {
	if timeout == 0 {
		timeout = DefaultReadyTimeout
	}
	addr := net.JoinHostPort(host, fmt.Sprintf("%d", port))

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(defaultPollInterval)
	defer ticker.Stop()

	start := time.Now()
	for {
		conn, err := net.DialTimeout("tcp", addr, probeDialTimeout)
		if err == nil {
			_ = conn.Close()
			return nil
		}

		select {
		case <-ctx.Done():
			if ctx.Err() == context.DeadlineExceeded {
				return &ReadinessTimeoutError{Addr: addr, Elapsed: time.Since(start)}
			}
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
