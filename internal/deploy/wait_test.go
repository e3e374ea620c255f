package deploy

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWaitReady_OpenPort(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	port := ln.Addr().(*net.TCPAddr).Port

	start := time.Now()
	err = WaitReady(context.Background(), "127.0.0.1", port, 5*time.Second)
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 2*time.Second, "open port should be detected on the first probe")
}

func TestWaitReady_ClosedPortTimesOut(t *testing.T) {
	port := closedPort(t)

	start := time.Now()
	err := WaitReady(context.Background(), "127.0.0.1", port, 300*time.Millisecond)
	elapsed := time.Since(start)

	var timeoutErr *ReadinessTimeoutError
	require.ErrorAs(t, err, &timeoutErr)
	assert.Contains(t, timeoutErr.Addr, "127.0.0.1")
	assert.Less(t, elapsed, 10*time.Second, "polling must stay bounded by the timeout")
}

func TestWaitReady_ContextCancellation(t *testing.T) {
	port := closedPort(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := WaitReady(ctx, "127.0.0.1", port, time.Minute)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}

// closedPort reserves a port and releases it so nothing is listening.
func closedPort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())
	return port
}
