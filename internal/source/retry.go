package source

import (
	"context"
	"log/slog"
	"math"
	"time"
)

// RetryPolicy bounds retries of transient failures. Delays double from
// BaseDelay between attempts.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 3, BaseDelay: time.Second}
}

// Retry calls fn until it succeeds, fails with a non-transient error, or the
// attempts run out. The last error is returned unchanged.
func Retry[T any](ctx context.Context, p RetryPolicy, fn func(context.Context) (T, error)) (T, error) {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var zero T
	var lastErr error
	for attempt := range attempts {
		v, err := fn(ctx)
		if err == nil {
			return v, nil
		}
		if !IsTransient(err) {
			return zero, err
		}

		lastErr = err
		if attempt < attempts-1 {
			backoff := time.Duration(float64(p.BaseDelay) * math.Pow(2, float64(attempt)))
			slog.Debug("retrying transient source error", "attempt", attempt+1, "backoff", backoff, "error", err)
			select {
			case <-ctx.Done():
				return zero, ctx.Err()
			case <-time.After(backoff):
			}
		}
	}
	return zero, lastErr
}
