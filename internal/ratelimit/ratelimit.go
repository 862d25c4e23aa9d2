// internal/ratelimit/ratelimit.go
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"
)

// resetBuffer is added on top of the reported reset time before resuming, to
// absorb clock skew between us and the API.
const resetBuffer = 1 * time.Second

// safetyMargin is the fraction of the intended API cost reserved on top of
// the cost itself when checking quota.
const safetyMargin = 0.1

// Status is a snapshot of the remote API's rate-limit state. It is refreshed
// only by polling; readers tolerate slightly stale values.
type Status struct {
	Remaining int
	Limit     int
	Used      int
	ResetAt   time.Time
}

// StatusFetcher polls the remote API's dedicated rate-limit endpoint.
type StatusFetcher interface {
	FetchRateLimit(ctx context.Context) (Status, error)
}

// QuotaCheck is the result of checking whether an intended number of API
// calls fits in the remaining quota.
type QuotaCheck struct {
	Sufficient     bool
	Shortfall      int
	ResetAt        time.Time
	ResetInSeconds int
}

// Limiter tracks the last-polled rate-limit status and computes wait
// durations. It is the only cross-task shared state in a batch run.
type Limiter struct {
	fetcher StatusFetcher
	logger  *slog.Logger

	mu     sync.RWMutex
	status Status
	now    func() time.Time
}

// NewLimiter creates a Limiter. The fetcher may be nil for tests that seed
// status via SetStatus.
func NewLimiter(fetcher StatusFetcher, logger *slog.Logger) *Limiter {
	return &Limiter{
		fetcher: fetcher,
		logger:  logger,
		now:     time.Now,
	}
}

// Refresh polls the remote rate-limit endpoint and replaces the snapshot.
// With no fetcher configured it returns an error rather than panicking.
func (l *Limiter) Refresh(ctx context.Context) error {
	if l.fetcher == nil {
		return errors.New("no rate limit fetcher configured")
	}
	status, err := l.fetcher.FetchRateLimit(ctx)
	if err != nil {
		return fmt.Errorf("failed to refresh rate limit status: %w", err)
	}

	l.mu.Lock()
	l.status = status
	l.mu.Unlock()

	l.logger.Debug("Rate limit status refreshed",
		"remaining", status.Remaining, "limit", status.Limit, "reset_at", status.ResetAt)
	return nil
}

// SetStatus replaces the snapshot directly, used when a response carries
// fresher rate-limit headers than the last poll.
func (l *Limiter) SetStatus(status Status) {
	l.mu.Lock()
	l.status = status
	l.mu.Unlock()
}

// Status returns the last-polled snapshot.
func (l *Limiter) Status() Status {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.status
}

// CheckQuota reports whether apiCost calls fit in the remaining quota with a
// 10% safety margin. Pure function of the last-polled status plus wall clock.
func (l *Limiter) CheckQuota(apiCost int) QuotaCheck {
	status := l.Status()

	needed := apiCost + int(math.Ceil(float64(apiCost)*safetyMargin))
	check := QuotaCheck{
		Sufficient: status.Remaining >= needed,
		ResetAt:    status.ResetAt,
	}
	if !check.Sufficient {
		check.Shortfall = needed - status.Remaining
	}
	if in := status.ResetAt.Sub(l.now()); in > 0 {
		check.ResetInSeconds = int(in.Seconds())
	}
	return check
}

// WaitForReset suspends the calling task until resetAt plus a one second
// buffer, or until the context is cancelled.
func (l *Limiter) WaitForReset(ctx context.Context, resetAt time.Time) error {
	wait := resetAt.Add(resetBuffer).Sub(l.now())
	if wait <= 0 {
		return nil
	}

	l.logger.Info("Waiting for rate limit reset",
		"reset_at", FormatResetTime(resetAt), "wait", wait.Round(time.Second).String())

	timer := time.NewTimer(wait)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// FormatResetTime renders a reset timestamp for log and UI messages.
func FormatResetTime(resetAt time.Time) string {
	return resetAt.Local().Format("15:04:05 MST")
}

// FormatCountdown renders the remaining wait as "XmYs".
func FormatCountdown(resetAt time.Time, now time.Time) string {
	d := resetAt.Sub(now)
	if d < 0 {
		d = 0
	}
	d = d.Round(time.Second)
	return fmt.Sprintf("%dm%02ds", int(d.Minutes()), int(d.Seconds())%60)
}
