// internal/retry/retry.go

// Package retry provides a small reusable retry policy shared by the fetch
// client and the sync engine, replacing ad hoc inline retry loops.
package retry

import (
	"context"
	"time"
)

// Policy retries an operation up to MaxAttempts total attempts. Retryable
// decides whether an error is worth another attempt; Wait suspends between
// attempts.
type Policy struct {
	MaxAttempts int
	Retryable   func(err error) bool
	// Wait is called before each re-attempt with the 1-based number of the
	// attempt that just failed and its error. Returning an error aborts the
	// retry loop (used for context cancellation during a rate-limit wait).
	Wait func(ctx context.Context, attempt int, err error) error
}

// Do runs op, re-attempting per the policy. It returns nil on the first
// success, or the last error once attempts are exhausted or the error is not
// retryable.
func (p Policy) Do(ctx context.Context, op func(ctx context.Context) error) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err = op(ctx); err == nil {
			return nil
		}
		if attempt == attempts {
			break
		}
		if p.Retryable != nil && !p.Retryable(err) {
			return err
		}
		if p.Wait != nil {
			if werr := p.Wait(ctx, attempt, err); werr != nil {
				return werr
			}
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
	return err
}

// FixedWait returns a wait strategy sleeping a constant duration between
// attempts, honouring context cancellation.
func FixedWait(d time.Duration) func(ctx context.Context, attempt int, err error) error {
	return func(ctx context.Context, _ int, _ error) error {
		timer := time.NewTimer(d)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
			return nil
		}
	}
}
