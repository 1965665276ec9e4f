// Package retry provides bounded retry with deterministic backoff.
//
// Backoff is a pure function of the attempt count so retry behavior is
// testable without real waiting; Do layers context-aware sleeping on top.
package retry

import (
	"context"
	"time"
)

// Policy bounds a retry loop.
type Policy struct {
	// Attempts is the total number of tries, including the first.
	Attempts int
	// BaseDelay is the delay after the first failed attempt; subsequent
	// delays grow linearly with the attempt count.
	BaseDelay time.Duration
}

// DefaultPolicy matches the bounded retry used for ledger appends and
// transfer line execution: three attempts with short increasing backoff.
var DefaultPolicy = Policy{Attempts: 3, BaseDelay: 25 * time.Millisecond}

// Backoff returns the delay to wait after the given failed attempt
// (1-based). Attempt values below 1 are treated as 1.
func (p Policy) Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	return time.Duration(attempt) * p.BaseDelay
}

// Do runs op up to p.Attempts times, retrying only when retryable reports
// the error as transient. The last error is returned when attempts are
// exhausted. Waiting honors ctx cancellation.
func Do(ctx context.Context, p Policy, retryable func(error) bool, op func(context.Context) error) error {
	if p.Attempts < 1 {
		p.Attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= p.Attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		lastErr = op(ctx)
		if lastErr == nil {
			return nil
		}
		if retryable == nil || !retryable(lastErr) {
			return lastErr
		}
		if attempt == p.Attempts {
			break
		}

		timer := time.NewTimer(p.Backoff(attempt))
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	return lastErr
}
