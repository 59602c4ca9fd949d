package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	errs "boardscraper/pkg/errors"
	"boardscraper/pkg/logger"
)

// Kind tells the retry loop what to do with an attempt's result
type Kind int

const (
	// Success stops the loop and returns the value
	Success Kind = iota
	// Retryable schedules another attempt if the budget allows
	Retryable
	// Fatal stops the loop and returns the error unchanged
	Fatal
)

func (k Kind) String() string {
	switch k {
	case Success:
		return "success"
	case Retryable:
		return "retryable"
	case Fatal:
		return "fatal"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Outcome is the typed result of one attempt
type Outcome[T any] struct {
	Kind  Kind
	Value T
	Err   error
}

// Succeed wraps a successful value
func Succeed[T any](v T) Outcome[T] {
	return Outcome[T]{Kind: Success, Value: v}
}

// Again marks err as worth another attempt
func Again[T any](err error) Outcome[T] {
	return Outcome[T]{Kind: Retryable, Err: err}
}

// Stop marks err as final
func Stop[T any](err error) Outcome[T] {
	return Outcome[T]{Kind: Fatal, Err: err}
}

// Attempt performs one try; attempt is 1-based
type Attempt[T any] func(ctx context.Context, attempt int) Outcome[T]

// Operation is a plain error-returning operation used with Do
type Operation func(ctx context.Context) error

// Config holds retry configuration
type Config struct {
	// MaxAttempts is the maximum number of attempts (0 means unlimited)
	MaxAttempts int
	// Backoff strategy to use between attempts
	Backoff BackoffStrategy
	// RetryIf classifies errors for Do
	RetryIf func(error) bool
	// OnRetry is called before each wait
	OnRetry func(attempt int, err error, delay time.Duration)
	// Sleep replaces Wait, mostly for tests
	Sleep func(ctx context.Context, d time.Duration) error
	// Logger for retry attempts, may be nil
	Logger logger.Logger
}

// DefaultConfig returns a retry configuration with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		MaxAttempts: 3,
		Backoff:     DefaultLinearBackoff(),
		RetryIf:     DefaultRetryIf,
	}
}

// ExhaustedError is returned by Run when every attempt came back Retryable
type ExhaustedError struct {
	Attempts int
	Last     error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("max retry attempts (%d) exceeded: %v", e.Attempts, e.Last)
}

func (e *ExhaustedError) Unwrap() error {
	return e.Last
}

// DefaultRetryIf retries classified transient errors and unclassified ones,
// never context cancellation.
func DefaultRetryIf(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var apiErr *errs.Error
	if errors.As(err, &apiErr) {
		return errs.IsRetryable(apiErr.Type)
	}
	var schemaErr *errs.SchemaError
	if errors.As(err, &schemaErr) {
		return false
	}

	return true
}

// Run calls op until it reports Success or Fatal, or the attempt budget is
// spent. It returns the value, the number of attempts made and an error,
// which is *ExhaustedError when the budget ran out.
func Run[T any](ctx context.Context, cfg *Config, op Attempt[T]) (T, int, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	sleep := cfg.Sleep
	if sleep == nil {
		sleep = Wait
	}

	var zero T
	var lastErr error
	attempt := 0

	for {
		attempt++

		if cfg.MaxAttempts > 0 && attempt > cfg.MaxAttempts {
			if cfg.Logger != nil {
				cfg.Logger.ErrorWithFields("max retry attempts exceeded", map[string]interface{}{
					"attempts":   attempt - 1,
					"last_error": lastErr.Error(),
				})
			}
			return zero, attempt - 1, &ExhaustedError{Attempts: attempt - 1, Last: lastErr}
		}

		if err := ctx.Err(); err != nil {
			return zero, attempt - 1, fmt.Errorf("retry cancelled: %w", err)
		}

		out := op(ctx, attempt)
		switch out.Kind {
		case Success:
			if attempt > 1 && cfg.Logger != nil {
				cfg.Logger.DebugWithFields("operation succeeded after retry", map[string]interface{}{
					"attempt": attempt,
				})
			}
			return out.Value, attempt, nil
		case Fatal:
			if cfg.Logger != nil && out.Err != nil {
				cfg.Logger.DebugWithFields("error is not retryable", map[string]interface{}{
					"error": out.Err.Error(),
				})
			}
			return zero, attempt, out.Err
		}

		lastErr = out.Err
		if lastErr == nil {
			lastErr = errors.New("attempt reported retryable without an error")
		}

		// No wait after the final attempt.
		if cfg.MaxAttempts > 0 && attempt >= cfg.MaxAttempts {
			continue
		}

		var delay time.Duration
		if cfg.Backoff != nil {
			delay = cfg.Backoff.NextDelay(attempt)
		}

		if cfg.OnRetry != nil {
			cfg.OnRetry(attempt, lastErr, delay)
		}

		if cfg.Logger != nil {
			cfg.Logger.WarnWithFields("retrying operation", map[string]interface{}{
				"attempt":      attempt,
				"error":        lastErr.Error(),
				"delay_ms":     delay.Milliseconds(),
				"max_attempts": cfg.MaxAttempts,
			})
		}

		if err := sleep(ctx, delay); err != nil {
			if cfg.Logger != nil {
				cfg.Logger.WarnWithFields("retry cancelled", map[string]interface{}{
					"attempt": attempt,
					"reason":  err.Error(),
				})
			}
			return zero, attempt, fmt.Errorf("retry cancelled: %w", err)
		}
	}
}

// Do executes op with retry logic, classifying errors with cfg.RetryIf
func Do(ctx context.Context, op Operation, cfg *Config) error {
	_, err := DoWithResult(ctx, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, op(ctx)
	}, cfg)
	return err
}

// DoWithResult executes an operation that returns a result with retry logic
func DoWithResult[T any](ctx context.Context, op func(ctx context.Context) (T, error), cfg *Config) (T, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	retryIf := cfg.RetryIf
	if retryIf == nil {
		retryIf = DefaultRetryIf
	}

	v, _, err := Run(ctx, cfg, func(ctx context.Context, _ int) Outcome[T] {
		v, err := op(ctx)
		switch {
		case err == nil:
			return Succeed(v)
		case retryIf(err):
			return Again[T](err)
		default:
			return Stop[T](err)
		}
	})
	return v, err
}
