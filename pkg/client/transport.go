package client

import (
	"io"
	"net/http"
	"strconv"
	"time"

	"boardscraper/pkg/config"
	"boardscraper/pkg/logger"
	"boardscraper/pkg/ratelimit"
)

// retryTransport retries a round trip on configured status codes and
// network errors, replaying the body through GetBody.
type retryTransport struct {
	base       http.RoundTripper
	maxRetries int
	factor     time.Duration
	codes      map[int]bool
	limiter    ratelimit.Limiter
	sleep      ratelimit.SleepFunc
	onRetry    func(status int)
	logger     logger.Logger
}

func newRetryTransport(base http.RoundTripper, cfg config.TransportConfig, opts Options) *retryTransport {
	codes := make(map[int]bool, len(cfg.StatusCodes))
	for _, c := range cfg.StatusCodes {
		codes[c] = true
	}
	sleep := opts.Sleep
	if sleep == nil {
		sleep = ratelimit.Sleep
	}
	return &retryTransport{
		base:       base,
		maxRetries: cfg.MaxRetries,
		factor:     cfg.BackoffFactor,
		codes:      codes,
		limiter:    opts.Limiter,
		sleep:      sleep,
		onRetry:    opts.OnTransportRetry,
		logger:     opts.Logger,
	}
}

func (t *retryTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	ctx := req.Context()
	attemptReq := req

	maxRetries := t.maxRetries
	if req.Body != nil && req.Body != http.NoBody && req.GetBody == nil {
		maxRetries = 0
	}

	for n := 0; ; n++ {
		if n > 0 {
			next, err := rewind(req)
			if err != nil {
				return nil, err
			}
			attemptReq = next
		}

		if t.limiter != nil {
			if err := t.limiter.Wait(ctx); err != nil {
				return nil, err
			}
		}

		resp, err := t.base.RoundTrip(attemptReq)
		if err == nil && !t.codes[resp.StatusCode] {
			return resp, nil
		}
		if err != nil && ctx.Err() != nil {
			return nil, err
		}
		if n >= maxRetries {
			return resp, err
		}

		status := 0
		delay := t.delay(n + 1)
		if resp != nil {
			status = resp.StatusCode
			if ra := retryAfter(resp); ra > delay {
				delay = ra
			}
			_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
			resp.Body.Close()
		}

		if t.onRetry != nil {
			t.onRetry(status)
		}
		fields := map[string]interface{}{
			"url":      req.URL.String(),
			"retry":    n + 1,
			"status":   status,
			"delay_ms": delay.Milliseconds(),
		}
		if err != nil {
			fields["error"] = err.Error()
		}
		t.logger.WarnWithFields("retrying HTTP request", fields)

		if err := t.sleep(ctx, delay); err != nil {
			return nil, err
		}
	}
}

// delay returns factor * 2^(n-1) for the n-th retry
func (t *retryTransport) delay(n int) time.Duration {
	if t.factor <= 0 {
		return 0
	}
	d := t.factor << uint(n-1)
	if d <= 0 || d > 5*time.Minute {
		return 5 * time.Minute
	}
	return d
}

func rewind(req *http.Request) (*http.Request, error) {
	if req.Body == nil || req.Body == http.NoBody {
		return req, nil
	}
	body, err := req.GetBody()
	if err != nil {
		return nil, err
	}
	next := req.Clone(req.Context())
	next.Body = body
	return next, nil
}

// retryAfter honours a Retry-After header given in seconds
func retryAfter(resp *http.Response) time.Duration {
	v := resp.Header.Get("Retry-After")
	if v == "" {
		return 0
	}
	secs, err := strconv.Atoi(v)
	if err != nil || secs < 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}
