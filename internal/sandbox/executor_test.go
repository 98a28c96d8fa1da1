package sandbox

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newTestExecutor(t *testing.T) *Executor {
	t.Helper()
	e, err := New(nil)
	if err != nil {
		t.Skipf("docker not available for integration tests: %v", err)
	}
	return e
}

func TestRunEchoesStdout(t *testing.T) {
	e := newTestExecutor(t)

	result, err := e.Run(context.Background(), RunSpec{
		Image:   "busybox:latest",
		Args:    []string{"echo", "hello"},
		Timeout: 30 * time.Second,
	})
	if err != nil {
		t.Skipf("docker run not available: %v", err)
	}
	require.Equal(t, 0, result.ExitCode)
	require.Contains(t, result.Stdout, "hello")
}

func TestRunTimesOut(t *testing.T) {
	e := newTestExecutor(t)

	result, err := e.Run(context.Background(), RunSpec{
		Image:   "busybox:latest",
		Args:    []string{"sleep", "30"},
		Timeout: 500 * time.Millisecond,
	})
	if err != nil {
		t.Skipf("docker run not available: %v", err)
	}
	require.True(t, result.TimedOut)
	require.Equal(t, -1, result.ExitCode)
}
