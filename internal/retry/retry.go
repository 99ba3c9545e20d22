// Package retry wraps synchronous remote calls with a bounded, fixed-delay
// retry policy. Every failure is considered retryable; the delay is fixed
// rather than exponential to bound worst-case latency under rate limiting.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"
)

const (
	// MaxAttempts is the number of tries before a call is given up.
	MaxAttempts = 3
	// Delay is the pause between consecutive attempts.
	Delay = time.Second
)

// Do invokes fn up to MaxAttempts times, sleeping Delay between attempts.
// On success the result is returned immediately. On exhaustion it returns a
// single aggregate error carrying every attempt error in order. Context
// cancellation aborts between attempts.
func Do[T any](ctx context.Context, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	var attempts []error
	for i := 0; i < MaxAttempts; i++ {
		if i > 0 {
			select {
			case <-ctx.Done():
				return zero, ctx.Err()
			case <-time.After(Delay):
			}
		}
		res, err := fn(ctx)
		if err == nil {
			return res, nil
		}
		attempts = append(attempts, err)
	}
	return zero, fmt.Errorf("retry: %d attempts failed: %w", MaxAttempts, errors.Join(attempts...))
}
