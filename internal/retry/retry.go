// Package retry implements bounded retries with exponential backoff for
// calls against rate-limited external services.
package retry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"time"
)

// Policy bounds a retry loop. Delays grow exponentially from BaseDelay,
// capped at MaxDelay, and are multiplied by a random factor in
// [JitterMin, JitterMax] to spread concurrent workers apart.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	JitterMin   float64
	JitterMax   float64
}

// DefaultPolicy matches the annotation service limits: three attempts
// with a 2s base delay capped at one minute.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: 3,
		BaseDelay:   2 * time.Second,
		MaxDelay:    60 * time.Second,
		JitterMin:   0.8,
		JitterMax:   1.2,
	}
}

// RateLimitError reports a quota rejection. ResetAfter carries the
// service-provided wait, when the response included one.
type RateLimitError struct {
	ResetAfter time.Duration
	Err        error
}

func (e *RateLimitError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("rate limited: %v", e.Err)
	}
	return "rate limited"
}

func (e *RateLimitError) Unwrap() error { return e.Err }

// PermanentError marks a failure that retrying cannot fix, such as a
// malformed request or an input the service definitively rejected.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return e.Err.Error() }
func (e *PermanentError) Unwrap() error { return e.Err }

// Permanent wraps err so Do stops retrying immediately.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

// Do runs fn up to p.MaxAttempts times. Permanent errors abort at once
// and keep their PermanentError wrapper so callers can tell a
// definitive rejection from attempt exhaustion. Rate-limit errors wait
// for the larger of the computed backoff and the service-provided
// reset. Context cancellation aborts the wait.
func Do(ctx context.Context, p Policy, fn func(ctx context.Context) error) error {
	if p.MaxAttempts < 1 {
		p.MaxAttempts = 1
	}
	var lastErr error
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		var perm *PermanentError
		if errors.As(err, &perm) {
			return err
		}
		lastErr = err
		if attempt == p.MaxAttempts {
			break
		}

		delay := p.backoff(attempt)
		var rl *RateLimitError
		if errors.As(err, &rl) && rl.ResetAfter > delay {
			delay = rl.ResetAfter
		}
		slog.Warn("retrying after failure",
			"attempt", attempt,
			"maxAttempts", p.MaxAttempts,
			"delay", delay.String(),
			"error", err)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	return fmt.Errorf("all %d attempts failed: %w", p.MaxAttempts, lastErr)
}

func (p Policy) backoff(attempt int) time.Duration {
	delay := p.BaseDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= p.MaxDelay {
			delay = p.MaxDelay
			break
		}
	}
	if p.JitterMax > p.JitterMin && p.JitterMin > 0 {
		factor := p.JitterMin + rand.Float64()*(p.JitterMax-p.JitterMin)
		delay = time.Duration(float64(delay) * factor)
	}
	if p.MaxDelay > 0 && delay > p.MaxDelay {
		delay = p.MaxDelay
	}
	return delay
}
