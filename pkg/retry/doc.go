// Package retry provides exponential backoff retry logic for transient failures.
//
// The live core uses it to establish the transport connection and to queue
// channel subscriptions requested while the transport is down. Reconnecting an
// established connection belongs to the transport itself.
//
// Presets:
//
//   - DefaultConfig(): 3 attempts, 100ms-5s delay
//   - Quick(): 10 attempts, 50ms-1s delay
//   - Forever(): unlimited attempts until the context is cancelled
//
// Example:
//
//	cfg := retry.Forever()
//	cfg.OnRetry = func(attempt int, err error, next time.Duration) {
//	    logger.Warn("connect failed", "attempt", attempt, "error", err, "retry_in", next)
//	}
//	err := retry.Do(ctx, cfg, func() error { return transport.Connect(ctx) })
//
// Wrap an error with NonRetryable to stop immediately. All operations respect
// context cancellation, both while the operation runs and during backoff.
package retry
