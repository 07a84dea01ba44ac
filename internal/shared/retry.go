package shared

import (
	"context"
	"log/slog"
	"time"
)

// ConflictRetry configures RetryOnConflict.
type ConflictRetry struct {
	Attempts  int
	BaseDelay time.Duration
}

// DefaultConflictRetry backs off 100ms, 200ms, 400ms.
var DefaultConflictRetry = ConflictRetry{Attempts: 4, BaseDelay: 100 * time.Millisecond}

// RetryOnConflict runs fn until it succeeds, fails with a non-contention
// error, or the attempts are used up. Delays double after each attempt.
func RetryOnConflict(ctx context.Context, policy ConflictRetry, op string, fn func() error) error {
	if policy.Attempts < 1 {
		policy.Attempts = 1
	}
	var err error
	for i := 0; i < policy.Attempts; i++ {
		err = fn()
		if err == nil || !IsSQLiteConflictError(err) || i == policy.Attempts-1 {
			return err
		}

		delay := policy.BaseDelay * time.Duration(1<<i)
		slog.Debug("sqlite contention, retrying", "op", op, "attempt", i+1, "delay", delay)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	return err
}
