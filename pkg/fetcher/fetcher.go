package fetcher

import (
	"context"
	"errors"
	"time"

	"boardscraper/pkg/client"
	"boardscraper/pkg/config"
	errs "boardscraper/pkg/errors"
	"boardscraper/pkg/logger"
	"boardscraper/pkg/retry"
)

// PageSource fetches a single page without page-level retries
type PageSource interface {
	FetchPage(ctx context.Context, page, pageSize int) (*client.PageResult, error)
}

// Hooks observe the fetcher without coupling it to a metrics backend
type Hooks struct {
	OnRetry   func(page, attempt int, err error, delay time.Duration)
	OnFetched func(page int, attempts int, elapsed time.Duration)
}

// Fetcher retries whole page fetches with a configurable backoff
type Fetcher struct {
	source      PageSource
	maxAttempts int
	backoff     retry.BackoffStrategy
	sleep       func(ctx context.Context, d time.Duration) error
	hooks       Hooks
	logger      logger.Logger
}

// Option customises a Fetcher
type Option func(*Fetcher)

// WithSleep replaces the wait between attempts
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(f *Fetcher) { f.sleep = sleep }
}

// WithHooks installs observation callbacks
func WithHooks(h Hooks) Option {
	return func(f *Fetcher) { f.hooks = h }
}

// New creates a Fetcher from the retry section of the config
func New(source PageSource, cfg config.RetryConfig, log logger.Logger, opts ...Option) (*Fetcher, error) {
	backoff, err := retry.NewStrategy(cfg.Strategy, cfg.BaseDelay, cfg.MaxDelay)
	if err != nil {
		return nil, err
	}
	if log == nil {
		log = logger.NewNopLogger()
	}
	attempts := cfg.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	f := &Fetcher{
		source:      source,
		maxAttempts: attempts,
		backoff:     backoff,
		sleep:       retry.Wait,
		logger:      log,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f, nil
}

// MaxAttempts returns the page-level attempt budget
func (f *Fetcher) MaxAttempts() int {
	return f.maxAttempts
}

// FetchPage returns the page, or FetchExhaustedError once every attempt
// failed. Schema and fatal errors are returned after the first attempt.
func (f *Fetcher) FetchPage(ctx context.Context, page, pageSize int) (*client.PageResult, error) {
	start := time.Now()
	log := f.logger.WithField("page", page)

	cfg := &retry.Config{
		MaxAttempts: f.maxAttempts,
		Backoff:     f.backoff,
		Sleep:       f.sleep,
		Logger:      log,
		OnRetry: func(attempt int, err error, delay time.Duration) {
			if f.hooks.OnRetry != nil {
				f.hooks.OnRetry(page, attempt, err, delay)
			}
		},
	}

	result, attempts, err := retry.Run(ctx, cfg, func(ctx context.Context, attempt int) retry.Outcome[*client.PageResult] {
		res, err := f.source.FetchPage(ctx, page, pageSize)
		switch {
		case err == nil:
			return retry.Succeed(res)
		case ctx.Err() != nil:
			return retry.Stop[*client.PageResult](ctx.Err())
		case errs.IsFatal(err), errs.IsSchema(err):
			return retry.Stop[*client.PageResult](err)
		default:
			return retry.Again[*client.PageResult](err)
		}
	})
	if err != nil {
		var exhausted *retry.ExhaustedError
		if errors.As(err, &exhausted) {
			log.ErrorWithFields("page fetch exhausted", map[string]interface{}{
				"attempts": exhausted.Attempts,
				"error":    exhausted.Last.Error(),
			})
			return nil, &errs.FetchExhaustedError{Page: page, Attempts: exhausted.Attempts, Last: exhausted.Last}
		}
		return nil, err
	}

	if f.hooks.OnFetched != nil {
		f.hooks.OnFetched(page, attempts, time.Since(start))
	}
	return result, nil
}
