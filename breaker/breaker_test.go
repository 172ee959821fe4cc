package breaker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dbplane/go-dbplane-common/logger"
)

var errBackend = errors.New("backend down")

func failingOp(calls *int) func(context.Context) error {
	return func(context.Context) error {
		*calls++
		return errBackend
	}
}

// TestOpensAfterThreshold feeds threshold consecutive failures and asserts
// that the next call is rejected without invoking the operation.
func TestOpensAfterThreshold(t *testing.T) {
	logger.New("NOOP")
	defer logger.OnExit()

	b := New("test", Config{FailureThreshold: 3, ResetTimeout: time.Minute})

	calls := 0
	for i := 0; i < 3; i++ {
		err := b.Execute(context.Background(), failingOp(&calls))
		assert.ErrorIs(t, err, errBackend)
	}
	assert.Equal(t, Open, b.State())
	assert.Equal(t, 3, calls)

	err := b.Execute(context.Background(), failingOp(&calls))
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.Equal(t, 3, calls, "operation must not be invoked while open")
}

// TestSuccessResetsFailureCount interleaves failures with a success; the
// circuit must not open.
func TestSuccessResetsFailureCount(t *testing.T) {
	logger.New("NOOP")
	defer logger.OnExit()

	b := New("test", Config{FailureThreshold: 3, ResetTimeout: time.Minute})

	calls := 0
	for i := 0; i < 2; i++ {
		_ = b.Execute(context.Background(), failingOp(&calls))
	}
	err := b.Execute(context.Background(), func(context.Context) error { return nil })
	require.NoError(t, err)
	assert.Equal(t, 0, b.ConsecutiveFailures())

	for i := 0; i < 2; i++ {
		_ = b.Execute(context.Background(), failingOp(&calls))
	}
	assert.Equal(t, Closed, b.State())
}

// TestHalfOpenProbeCloses opens the circuit, waits out the reset timeout and
// asserts that a single successful probe closes it again.
func TestHalfOpenProbeCloses(t *testing.T) {
	logger.New("NOOP")
	defer logger.OnExit()

	var events []Event
	b := New("test", Config{
		FailureThreshold: 2,
		ResetTimeout:     20 * time.Millisecond,
		OnStateChange:    func(e Event) { events = append(events, e) },
	})

	calls := 0
	for i := 0; i < 2; i++ {
		_ = b.Execute(context.Background(), failingOp(&calls))
	}
	require.Equal(t, Open, b.State())

	time.Sleep(30 * time.Millisecond)

	err := b.Execute(context.Background(), func(context.Context) error { return nil })
	require.NoError(t, err)
	assert.Equal(t, Closed, b.State())
	assert.Equal(t, 0, b.ConsecutiveFailures())

	// closed -> open -> half-open -> closed
	require.Len(t, events, 3)
	assert.Equal(t, Open, events[0].To)
	assert.Equal(t, HalfOpen, events[1].To)
	assert.Equal(t, Closed, events[2].To)
	for _, e := range events {
		assert.False(t, e.At.IsZero())
	}
}

// TestHalfOpenProbeFailureReopens asserts a failed probe restarts the open
// timer.
func TestHalfOpenProbeFailureReopens(t *testing.T) {
	logger.New("NOOP")
	defer logger.OnExit()

	b := New("test", Config{FailureThreshold: 1, ResetTimeout: 20 * time.Millisecond})

	calls := 0
	_ = b.Execute(context.Background(), failingOp(&calls))
	require.Equal(t, Open, b.State())

	time.Sleep(30 * time.Millisecond)

	err := b.Execute(context.Background(), failingOp(&calls))
	assert.ErrorIs(t, err, errBackend)
	assert.Equal(t, Open, b.State())

	// Immediately after the failed probe the circuit is open again and
	// rejecting.
	err = b.Execute(context.Background(), failingOp(&calls))
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.Equal(t, 2, calls)
}

// TestSingleProbeAdmission holds one probe in flight and asserts concurrent
// callers are rejected rather than admitted or queued.
func TestSingleProbeAdmission(t *testing.T) {
	logger.New("NOOP")
	defer logger.OnExit()

	b := New("test", Config{FailureThreshold: 1, ResetTimeout: 10 * time.Millisecond})

	calls := 0
	_ = b.Execute(context.Background(), failingOp(&calls))
	require.Equal(t, Open, b.State())

	time.Sleep(20 * time.Millisecond)

	probeStarted := make(chan struct{})
	release := make(chan struct{})

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = b.Execute(context.Background(), func(context.Context) error {
			close(probeStarted)
			<-release
			return nil
		})
	}()

	<-probeStarted
	err := b.Execute(context.Background(), func(context.Context) error { return nil })
	assert.ErrorIs(t, err, ErrCircuitOpen)

	close(release)
	wg.Wait()
	assert.Equal(t, Closed, b.State())
}

// TestProbeTimeoutApplied gives the probe its own deadline.
func TestProbeTimeoutApplied(t *testing.T) {
	logger.New("NOOP")
	defer logger.OnExit()

	b := New("test", Config{
		FailureThreshold: 1,
		ResetTimeout:     10 * time.Millisecond,
		ProbeTimeout:     20 * time.Millisecond,
	})

	calls := 0
	_ = b.Execute(context.Background(), failingOp(&calls))
	time.Sleep(20 * time.Millisecond)

	err := b.Execute(context.Background(), func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, Open, b.State())
}
