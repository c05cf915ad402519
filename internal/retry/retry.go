// Package retry implements the bounded exponential backoff of §7: base
// 500ms, factor 2, cap 30s, 5 attempts. Grounded on the teacher's
// internal/classification/retry/adaptive_retry.go, simplified from its
// historical-success-rate heuristic to a pure bounded backoff since the
// core has a fixed, spec-mandated retry policy rather than a tunable one
// per collaborator.
package retry

import (
	"context"
	"time"

	"sentryml/internal/apperrors"
)

// Policy is the default retry policy for transient storage errors.
type Policy struct {
	BaseDelay  time.Duration
	Factor     float64
	MaxDelay   time.Duration
	MaxAttempts int
}

// Default returns the spec-mandated policy: base 500ms, factor 2, cap 30s,
// 5 attempts.
func Default() Policy {
	return Policy{
		BaseDelay:   500 * time.Millisecond,
		Factor:      2,
		MaxDelay:    30 * time.Second,
		MaxAttempts: 5,
	}
}

// Do runs fn, retrying while apperrors.Classify(err) reports the error is
// retryable and attempts remain. It returns the last error once attempts are
// exhausted or fn returns a non-retryable error. The caller's ctx governs
// cancellation between attempts.
func Do(ctx context.Context, p Policy, fn func(ctx context.Context) error) error {
	delay := p.BaseDelay
	var lastErr error
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if !apperrors.Classify(lastErr) {
			return lastErr
		}
		if attempt == p.MaxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay = time.Duration(float64(delay) * p.Factor)
		if delay > p.MaxDelay {
			delay = p.MaxDelay
		}
	}
	return lastErr
}
