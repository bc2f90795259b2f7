package retry

import (
	"context"
	"math"
	"time"

	"go.uber.org/zap"
)

// Options controls the backoff schedule of an Executor.
type Options struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
	Multiplier float64
}

func DefaultOptions() Options {
	return Options{
		MaxRetries: 3,
		BaseDelay:  1000 * time.Millisecond,
		MaxDelay:   30000 * time.Millisecond,
		Multiplier: 2,
	}
}

// Delay computes the backoff delay for a zero-based attempt index,
// capped at MaxDelay.
func (o Options) Delay(attempt int) time.Duration {
	d := time.Duration(float64(o.BaseDelay) * math.Pow(o.Multiplier, float64(attempt)))
	if d > o.MaxDelay || d < 0 {
		return o.MaxDelay
	}
	return d
}

// Executor runs operations with bounded exponential-backoff retry.
// Errors are classified before each retry; non-retryable errors are
// returned immediately and the original error is never wrapped.
type Executor struct {
	opts   Options
	logger *zap.Logger
}

func NewExecutor(logger *zap.Logger) *Executor {
	return &Executor{
		opts:   DefaultOptions(),
		logger: logger,
	}
}

// WithOptions overrides the default backoff schedule.
func (e *Executor) WithOptions(opts Options) *Executor {
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	if opts.BaseDelay <= 0 {
		opts.BaseDelay = DefaultOptions().BaseDelay
	}
	if opts.MaxDelay <= 0 {
		opts.MaxDelay = DefaultOptions().MaxDelay
	}
	if opts.Multiplier <= 0 {
		opts.Multiplier = DefaultOptions().Multiplier
	}
	e.opts = opts
	return e
}

// Do runs op until it succeeds, fails with a non-retryable error, or the
// retry budget is exhausted. The returned error is the last error produced
// by op.
func (e *Executor) Do(ctx context.Context, name string, op func(ctx context.Context) error) error {
	var lastErr error

	for attempt := 0; attempt <= e.opts.MaxRetries; attempt++ {
		lastErr = op(ctx)
		if lastErr == nil {
			return nil
		}

		retryable, reason := Classify(lastErr)

		e.logger.Warn("Operation attempt failed",
			zap.String("operation", name),
			zap.Int("attempt", attempt+1),
			zap.Int("max_attempts", e.opts.MaxRetries+1),
			zap.Bool("retryable", retryable),
			zap.String("reason", reason),
			zap.Error(lastErr),
		)

		if !retryable || attempt == e.opts.MaxRetries {
			break
		}

		if err := sleep(ctx, e.opts.Delay(attempt)); err != nil {
			return lastErr
		}
	}

	e.logger.Error("Operation failed after retries",
		zap.String("operation", name),
		zap.Error(lastErr),
	)
	return lastErr
}

// DoValue is Do for operations that produce a value.
func DoValue[T any](ctx context.Context, e *Executor, name string, op func(ctx context.Context) (T, error)) (T, error) {
	var result T
	err := e.Do(ctx, name, func(ctx context.Context) error {
		v, err := op(ctx)
		if err != nil {
			return err
		}
		result = v
		return nil
	})
	return result, err
}

// sleep waits for d without blocking the scheduler, honoring ctx cancellation.
func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
