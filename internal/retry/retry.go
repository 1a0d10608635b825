// Package retry provides the exponential-backoff-with-jitter primitive
// shared by every component that calls an external collaborator.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/backlogd/internal/fault"
)

// Options configures retry behavior.
type Options struct {
	// MaxAttempts is the total number of attempts, including the first.
	// Default: 3
	MaxAttempts int

	// BaseDelay is the undithered delay before the first retry.
	// Default: 1 second
	BaseDelay time.Duration

	// MaxDelay caps the undithered exponential delay.
	// Default: 30 seconds
	MaxDelay time.Duration

	// BackoffFactor is the exponential growth factor.
	// Default: 2
	BackoffFactor float64

	// JitterFactor bounds the positive jitter added to each delay.
	// Default: 0.2
	JitterFactor float64

	// IsRetryable classifies errors. Default: DefaultRetryable.
	IsRetryable func(error) bool

	// Logger records retry attempts. Default: no-op.
	Logger *zap.Logger

	// rand overrides the jitter source in tests.
	rand func() float64
}

// DefaultOptions returns the default retry configuration.
func DefaultOptions() *Options {
	return &Options{
		MaxAttempts:   3,
		BaseDelay:     time.Second,
		MaxDelay:      30 * time.Second,
		BackoffFactor: 2.0,
		JitterFactor:  0.2,
	}
}

// ApplyDefaults sets default values for unset fields.
func (o *Options) ApplyDefaults() {
	defaults := DefaultOptions()

	if o.MaxAttempts == 0 {
		o.MaxAttempts = defaults.MaxAttempts
	}
	if o.BaseDelay == 0 {
		o.BaseDelay = defaults.BaseDelay
	}
	if o.MaxDelay == 0 {
		o.MaxDelay = defaults.MaxDelay
	}
	if o.MaxDelay < o.BaseDelay {
		o.MaxDelay = o.BaseDelay
	}
	if o.BackoffFactor == 0 {
		o.BackoffFactor = defaults.BackoffFactor
	}
	if o.JitterFactor == 0 {
		o.JitterFactor = defaults.JitterFactor
	}
	if o.IsRetryable == nil {
		o.IsRetryable = DefaultRetryable
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	if o.rand == nil {
		o.rand = rand.Float64
	}
}

// Delay computes the sleep before retry number attempt (zero-based).
// The exponential component is capped at MaxDelay; the jitter component
// is strictly positive, so the result always exceeds the undithered
// value: delay is in [exp+1, exp*(1+JitterFactor)).
func Delay(attempt int, o *Options) time.Duration {
	exp := float64(o.BaseDelay) * math.Pow(o.BackoffFactor, float64(attempt))
	if exp > float64(o.MaxDelay) {
		exp = float64(o.MaxDelay)
	}

	jitter := exp * o.JitterFactor * o.rand()
	if jitter < 1 {
		jitter = 1
	}

	return time.Duration(math.Floor(exp + jitter))
}

// DefaultRetryable treats collaborator and task failures as transient.
// Validation, environment, and explicit fatal errors are permanent, as
// is context cancellation.
func DefaultRetryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var fe *fault.Error
	if errors.As(err, &fe) {
		switch fe.Kind {
		case fault.KindValidation, fault.KindEnvironment, fault.KindFatal:
			return false
		}
	}
	return true
}

// Do runs op up to MaxAttempts times, sleeping Delay between attempts.
// A non-retryable error is returned immediately. When attempts are
// exhausted the last error is re-raised wrapped with attempt-count
// context.
func Do[T any](ctx context.Context, o *Options, op func(context.Context) (T, error)) (T, error) {
	var zero T
	if o == nil {
		o = DefaultOptions()
	}
	o.ApplyDefaults()

	var lastErr error
	start := time.Now()

	for attempt := 0; attempt < o.MaxAttempts; attempt++ {
		result, err := op(ctx)
		if err == nil {
			if attempt > 0 {
				o.Logger.Info("operation recovered after retries",
					zap.Int("attempts", attempt+1),
					zap.Duration("total_time", time.Since(start)),
				)
			}
			return result, nil
		}

		lastErr = err

		if !o.IsRetryable(err) {
			o.Logger.Debug("error is not retryable", fault.Fields(err)...)
			return zero, err
		}

		if attempt == o.MaxAttempts-1 {
			break
		}

		delay := Delay(attempt, o)
		o.Logger.Info("retrying after transient error",
			zap.Int("attempt", attempt+1),
			zap.Int("max_attempts", o.MaxAttempts),
			zap.Duration("backoff", delay),
			zap.Error(err),
		)

		select {
		case <-ctx.Done():
			return zero, fmt.Errorf("operation canceled: %w", ctx.Err())
		case <-time.After(delay):
		}
	}

	o.Logger.Warn("operation failed after all retries exhausted",
		zap.Int("total_attempts", o.MaxAttempts),
		zap.Duration("total_time", time.Since(start)),
		zap.Error(lastErr),
	)

	kind := fault.KindAgent
	var fe *fault.Error
	if errors.As(lastErr, &fe) {
		kind = fe.Kind
	}
	wrapped := fault.Wrap(kind, fault.CodeRetryExhausted,
		fmt.Sprintf("operation failed after %d attempts", o.MaxAttempts), lastErr).
		With("attempts", o.MaxAttempts)
	return zero, wrapped
}
