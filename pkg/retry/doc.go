// Package retry provides backoff strategies and a retry loop for transient
// failures in page fetches and HTTP round trips.
//
// Features:
//   - Linear, exponential and constant backoff, selectable by name
//   - Typed attempt outcomes (Success, Retryable, Fatal)
//   - Context support for cancellation
//   - Configurable retry predicates for plain error-returning operations
//
// Basic usage:
//
//	backoff, _ := retry.NewStrategy("linear", 15*time.Second, 5*time.Minute)
//	cfg := &retry.Config{MaxAttempts: 3, Backoff: backoff, Logger: log}
//
//	page, attempts, err := retry.Run(ctx, cfg, func(ctx context.Context, attempt int) retry.Outcome[*Page] {
//		p, err := fetch(ctx)
//		switch {
//		case err == nil:
//			return retry.Succeed(p)
//		case errors.IsTransient(err):
//			return retry.Again[*Page](err)
//		default:
//			return retry.Stop[*Page](err)
//		}
//	})
//
// When every attempt is Retryable, Run returns *ExhaustedError wrapping the
// last cause. Do and DoWithResult adapt plain functions using Config.RetryIf.
package retry
