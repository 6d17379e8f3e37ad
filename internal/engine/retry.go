package engine

import (
	"context"
	"log/slog"
	"time"

	"github.com/roach88/murelay/internal/metrics"
)

// RetryPolicy bounds retries of retriable leaf calls.
//
// Attempt n (counting from 1) waits BaseDelay * 2^(n-2) before running,
// capped at MaxDelay. The first attempt does not wait.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// DefaultRetryPolicy tries three times with 200ms then 400ms of backoff.
var DefaultRetryPolicy = RetryPolicy{
	MaxAttempts: 3,
	BaseDelay:   200 * time.Millisecond,
	MaxDelay:    5 * time.Second,
}

// NoRetry runs every call exactly once.
var NoRetry = RetryPolicy{MaxAttempts: 1}

func (p RetryPolicy) backoff(attempt int) time.Duration {
	d := p.BaseDelay << (attempt - 1)
	if d <= 0 || (p.MaxDelay > 0 && d > p.MaxDelay) {
		d = p.MaxDelay
	}
	return d
}

// do runs fn until it succeeds, fails with a non-retriable error, or the
// attempts run out. The context bounds the total retry time.
func (p RetryPolicy) do(ctx context.Context, op string, fn func() error) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			timer := time.NewTimer(p.backoff(attempt))
			select {
			case <-ctx.Done():
				timer.Stop()
				return lastErr
			case <-timer.C:
			}
			metrics.Retries.WithLabelValues(op).Inc()
		}

		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err

		if !IsRetriable(err) || attempt+1 == attempts {
			return err
		}

		slog.Warn("transient failure, retrying",
			"op", op,
			"attempt", attempt+1,
			"max_attempts", attempts,
			"error", err,
		)
	}
	return lastErr
}
