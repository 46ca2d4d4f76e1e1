package ai

import (
	"context"
	"fmt"
	"time"
)

// defaultMaxAttempts is one: a scheduled run is the unit of retry.
const defaultMaxAttempts = 1

// sleep is swapped out in tests.
var sleep = func(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// retryWithBackoff executes fn up to maxAttempts times, waiting between attempts
// according to getBackoffDuration. With maxAttempts <= 1 fn runs exactly once.
func retryWithBackoff[T any](ctx context.Context, maxAttempts int, fn func() (T, error)) (T, error) {
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	var result T
	var lastErr error

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		var err error
		result, err = fn()
		if err == nil {
			return result, nil
		}
		lastErr = err

		if attempt < maxAttempts {
			if err := sleep(ctx, getBackoffDuration(lastErr, attempt)); err != nil {
				return result, err
			}
		}
	}

	if maxAttempts == 1 {
		return result, lastErr
	}
	return result, fmt.Errorf("all %d attempts failed: %w", maxAttempts, lastErr)
}
