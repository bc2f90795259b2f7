package circuitbreaker_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"notifyhub/pkg/circuitbreaker"
)

func testConfig() circuitbreaker.Config {
	return circuitbreaker.Config{
		FailureThreshold:    3,
		SuccessThreshold:    2,
		Timeout:             time.Second,
		ResetTimeout:        50 * time.Millisecond,
		HalfOpenMaxRequests: 3,
	}
}

func failN(t *testing.T, cb *circuitbreaker.CircuitBreaker, n int) {
	t.Helper()
	boom := errors.New("dependency down")
	for i := 0; i < n; i++ {
		err := cb.Execute(context.Background(), func(ctx context.Context) error {
			return boom
		})
		require.Equal(t, boom, err)
	}
}

func TestOpensAfterConsecutiveFailures(t *testing.T) {
	cb := circuitbreaker.NewCircuitBreaker(testConfig())
	failN(t, cb, 3)

	called := false
	err := cb.Execute(context.Background(), func(ctx context.Context) error {
		called = true
		return nil
	})

	assert.ErrorIs(t, err, circuitbreaker.ErrCircuitOpen)
	assert.False(t, called, "open breaker must fail fast without invoking the call")
	assert.Equal(t, circuitbreaker.StateOpen, cb.GetState())
}

func TestSuccessResetsFailureCount(t *testing.T) {
	cb := circuitbreaker.NewCircuitBreaker(testConfig())
	failN(t, cb, 2)

	err := cb.Execute(context.Background(), func(ctx context.Context) error {
		return nil
	})
	require.NoError(t, err)

	// Two more failures should not open it: the streak was broken.
	failN(t, cb, 2)
	err = cb.Execute(context.Background(), func(ctx context.Context) error {
		return nil
	})
	assert.NoError(t, err)
}

func TestHalfOpenProbeClosesAfterSuccesses(t *testing.T) {
	cb := circuitbreaker.NewCircuitBreaker(testConfig())
	failN(t, cb, 3)

	// Trip into open.
	err := cb.Execute(context.Background(), func(ctx context.Context) error { return nil })
	require.ErrorIs(t, err, circuitbreaker.ErrCircuitOpen)

	time.Sleep(60 * time.Millisecond)

	// Probes pass through in half-open.
	for i := 0; i < 2; i++ {
		err := cb.Execute(context.Background(), func(ctx context.Context) error { return nil })
		require.NoError(t, err)
	}

	// With the success threshold met, the next call runs closed.
	err = cb.Execute(context.Background(), func(ctx context.Context) error { return nil })
	require.NoError(t, err)
	assert.Equal(t, circuitbreaker.StateClosed, cb.GetState())
}

func TestHalfOpenProbeFailureReopens(t *testing.T) {
	cb := circuitbreaker.NewCircuitBreaker(testConfig())
	failN(t, cb, 3)

	err := cb.Execute(context.Background(), func(ctx context.Context) error { return nil })
	require.ErrorIs(t, err, circuitbreaker.ErrCircuitOpen)

	time.Sleep(60 * time.Millisecond)

	boom := errors.New("still down")
	err = cb.Execute(context.Background(), func(ctx context.Context) error { return boom })
	require.Equal(t, boom, err)

	assert.Equal(t, circuitbreaker.StateOpen, cb.GetState())

	called := false
	err = cb.Execute(context.Background(), func(ctx context.Context) error {
		called = true
		return nil
	})
	assert.ErrorIs(t, err, circuitbreaker.ErrCircuitOpen)
	assert.False(t, called)
}

func TestExecuteAppliesCallTimeout(t *testing.T) {
	cfg := testConfig()
	cfg.Timeout = 20 * time.Millisecond
	cb := circuitbreaker.NewCircuitBreaker(cfg)

	err := cb.Execute(context.Background(), func(ctx context.Context) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Second):
			return nil
		}
	})

	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestResetForcesClosed(t *testing.T) {
	cb := circuitbreaker.NewCircuitBreaker(testConfig())
	failN(t, cb, 3)

	err := cb.Execute(context.Background(), func(ctx context.Context) error { return nil })
	require.ErrorIs(t, err, circuitbreaker.ErrCircuitOpen)

	cb.Reset()

	err = cb.Execute(context.Background(), func(ctx context.Context) error { return nil })
	assert.NoError(t, err)
	assert.Equal(t, circuitbreaker.StateClosed, cb.GetState())
}

func TestRegistryIsolatesKeys(t *testing.T) {
	reg := circuitbreaker.NewRegistry(testConfig())

	boom := errors.New("push provider down")
	for i := 0; i < 3; i++ {
		err := reg.Execute(context.Background(), "push", func(ctx context.Context) error { return boom })
		require.Equal(t, boom, err)
	}

	err := reg.Execute(context.Background(), "push", func(ctx context.Context) error { return nil })
	assert.ErrorIs(t, err, circuitbreaker.ErrCircuitOpen)

	// An unrelated key is unaffected.
	err = reg.Execute(context.Background(), "email", func(ctx context.Context) error { return nil })
	assert.NoError(t, err)
}
