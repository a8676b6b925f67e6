package util

import (
	"context"
	"time"
)

// Retry calls fn up to maxAttempts times with exponential backoff starting at
// baseDelay and capped at capDelay. It returns nil on the first successful
// call, or the last error if all attempts fail. When fn reports the failure
// as non-retryable, Retry stops immediately. The function respects context
// cancellation between retries.
func Retry(ctx context.Context, maxAttempts int, baseDelay, capDelay time.Duration, fn func() (retryable bool, err error)) error {
	var err error
	var retryable bool
	delay := baseDelay

	for attempt := 0; attempt < maxAttempts; attempt++ {
		retryable, err = fn()
		if err == nil {
			return nil
		}
		if !retryable {
			return err
		}

		// Don't sleep after the last failed attempt.
		if attempt < maxAttempts-1 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
			delay *= 2
			if capDelay > 0 && delay > capDelay {
				delay = capDelay
			}
		}
	}

	return err
}
