package common

import (
	"context"
	"errors"
	"time"
)

const DefaultConflictAttempts = 3

// RetryOnConflict runs fn until it succeeds, fails with something other than
// ErrConflict, or attempts are exhausted. Exhaustion yields a *ConflictError.
func RetryOnConflict(ctx context.Context, resource, id string, attempts int, fn func(ctx context.Context) error) error {
	if attempts <= 0 {
		attempts = DefaultConflictAttempts
	}
	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		err = fn(ctx)
		if err == nil || !errors.Is(err, ErrConflict) {
			return err
		}
		var exhausted *ConflictError
		if errors.As(err, &exhausted) {
			return err
		}
		if attempt < attempts {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Duration(attempt*10) * time.Millisecond):
			}
		}
	}
	return &ConflictError{Resource: resource, ID: id, Attempts: attempts}
}
