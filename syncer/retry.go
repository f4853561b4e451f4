package syncer

import (
	"context"
	"fmt"
	"time"
)

// retryWithBackoff runs fn up to attempts times, doubling the delay between
// attempts starting from baseDelay. It returns nil on the first success and
// the last error once attempts are spent. The context cancels the wait.
func retryWithBackoff(ctx context.Context, fn func() error, attempts int, baseDelay time.Duration) error {
	var lastErr error
	delay := baseDelay
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := fn(); err == nil {
			return nil
		} else {
			lastErr = err
		}
		if attempt == attempts {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
	}
	return fmt.Errorf("after %d attempts: %w", attempts, lastErr)
}
