package retry_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"notifyhub/pkg/retry"
)

func newExecutor(opts retry.Options) *retry.Executor {
	return retry.NewExecutor(zap.NewNop()).WithOptions(opts)
}

func fastOptions() retry.Options {
	return retry.Options{
		MaxRetries: 3,
		BaseDelay:  time.Millisecond,
		MaxDelay:   5 * time.Millisecond,
		Multiplier: 2,
	}
}

func TestDoRetriesUntilBudgetExhausted(t *testing.T) {
	exec := newExecutor(fastOptions())

	calls := 0
	boom := errors.New("provider unavailable")
	err := exec.Do(context.Background(), "op", func(ctx context.Context) error {
		calls++
		return boom
	})

	require.Error(t, err)
	assert.Equal(t, boom, err, "last error must be returned unwrapped")
	// MaxRetries of 3 means one initial attempt plus three retries.
	assert.Equal(t, 4, calls)
}

func TestDoSucceedsMidway(t *testing.T) {
	exec := newExecutor(fastOptions())

	calls := 0
	err := exec.Do(context.Background(), "op", func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestDoNonRetryableShortCircuits(t *testing.T) {
	exec := newExecutor(fastOptions())

	calls := 0
	err := exec.Do(context.Background(), "op", func(ctx context.Context) error {
		calls++
		return retry.NewHTTPError(404, "workflow not found")
	})

	require.Error(t, err)
	assert.Equal(t, 1, calls)

	var httpErr *retry.HTTPError
	require.ErrorAs(t, err, &httpErr)
	assert.Equal(t, 404, httpErr.StatusCode)
}

func TestDoExplicitNonRetryableFlag(t *testing.T) {
	exec := newExecutor(fastOptions())

	calls := 0
	err := exec.Do(context.Background(), "op", func(ctx context.Context) error {
		calls++
		return retry.NonRetryable(errors.New("bad payload"))
	})

	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestDoValueReturnsResult(t *testing.T) {
	exec := newExecutor(fastOptions())

	calls := 0
	got, err := retry.DoValue(context.Background(), exec, "op", func(ctx context.Context) (string, error) {
		calls++
		if calls == 1 {
			return "", errors.New("transient")
		}
		return "delivery-123", nil
	})

	require.NoError(t, err)
	assert.Equal(t, "delivery-123", got)
	assert.Equal(t, 2, calls)
}

func TestDoHonorsContextCancellation(t *testing.T) {
	exec := newExecutor(retry.Options{
		MaxRetries: 5,
		BaseDelay:  time.Hour,
		MaxDelay:   time.Hour,
		Multiplier: 2,
	})

	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	boom := errors.New("transient")
	err := exec.Do(ctx, "op", func(ctx context.Context) error {
		calls++
		return boom
	})

	require.Error(t, err)
	assert.Equal(t, boom, err)
	assert.Equal(t, 1, calls, "cancellation during backoff must stop further attempts")
}

func TestDelaySchedule(t *testing.T) {
	opts := retry.Options{
		MaxRetries: 3,
		BaseDelay:  500 * time.Millisecond,
		MaxDelay:   2000 * time.Millisecond,
		Multiplier: 2,
	}

	assert.Equal(t, 500*time.Millisecond, opts.Delay(0))
	assert.Equal(t, 1000*time.Millisecond, opts.Delay(1))
	assert.Equal(t, 2000*time.Millisecond, opts.Delay(2))
	// Past the cap the delay stays pinned at MaxDelay.
	assert.Equal(t, 2000*time.Millisecond, opts.Delay(3))
	assert.Equal(t, 2000*time.Millisecond, opts.Delay(10))
}
