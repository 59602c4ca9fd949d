package ratelimit

import (
	"context"
	"math/rand"
	"sync"
	"time"
)

// Limiter defines the interface for request pacing
type Limiter interface {
	// Allow reports whether a request may go out right now
	Allow() bool
	// Wait blocks until a request may go out or ctx is done
	Wait(ctx context.Context) error
	// Reset returns the limiter to its initial state
	Reset()
}

// SleepFunc sleeps for d or until ctx is done
type SleepFunc func(ctx context.Context, d time.Duration) error

// Sleep is the real SleepFunc
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// TokenBucket refills to full capacity once per refill period
type TokenBucket struct {
	capacity     int
	tokens       int
	refillPeriod time.Duration
	lastRefill   time.Time
	now          func() time.Time
	sleep        SleepFunc
	mu           sync.Mutex
}

// NewTokenBucket creates a bucket holding capacity tokens per refillPeriod
func NewTokenBucket(capacity int, refillPeriod time.Duration) *TokenBucket {
	return &TokenBucket{
		capacity:     capacity,
		tokens:       capacity,
		refillPeriod: refillPeriod,
		lastRefill:   time.Now(),
		now:          time.Now,
		sleep:        Sleep,
	}
}

// PerMinute returns a bucket for n requests per minute, or nil when n <= 0
func PerMinute(n int) *TokenBucket {
	if n <= 0 {
		return nil
	}
	return NewTokenBucket(n, time.Minute)
}

// Allow takes a token if one is available
func (tb *TokenBucket) Allow() bool {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	tb.refill()
	if tb.tokens > 0 {
		tb.tokens--
		return true
	}
	return false
}

// Wait blocks until a token is available
func (tb *TokenBucket) Wait(ctx context.Context) error {
	for !tb.Allow() {
		tb.mu.Lock()
		untilRefill := tb.refillPeriod - tb.now().Sub(tb.lastRefill)
		tb.mu.Unlock()

		if untilRefill <= 0 {
			untilRefill = 100 * time.Millisecond
		}
		if err := tb.sleep(ctx, untilRefill); err != nil {
			return err
		}
	}
	return nil
}

// Reset refills the bucket
func (tb *TokenBucket) Reset() {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	tb.tokens = tb.capacity
	tb.lastRefill = tb.now()
}

func (tb *TokenBucket) refill() {
	now := tb.now()
	if now.Sub(tb.lastRefill) >= tb.refillPeriod {
		tb.tokens = tb.capacity
		tb.lastRefill = now
	}
}

// RandomDelay pauses for a uniformly random duration in [Min, Max)
// between consecutive pages.
type RandomDelay struct {
	Min   time.Duration
	Max   time.Duration
	Sleep SleepFunc
	// OnWait is called with the drawn delay before sleeping
	OnWait func(time.Duration)

	mu  sync.Mutex
	rng *rand.Rand
}

// NewRandomDelay creates a politeness delay in [min, max)
func NewRandomDelay(min, max time.Duration) *RandomDelay {
	if max < min {
		max = min
	}
	return &RandomDelay{
		Min:   min,
		Max:   max,
		Sleep: Sleep,
		rng:   rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Next draws the next delay
func (d *RandomDelay) Next() time.Duration {
	if d.Max <= d.Min {
		return d.Min
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.rng == nil {
		d.rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return d.Min + time.Duration(d.rng.Int63n(int64(d.Max-d.Min)))
}

// Wait sleeps for the next delay and returns how long it waited
func (d *RandomDelay) Wait(ctx context.Context) (time.Duration, error) {
	delay := d.Next()
	sleep := d.Sleep
	if sleep == nil {
		sleep = Sleep
	}
	if delay <= 0 {
		return 0, ctx.Err()
	}
	if d.OnWait != nil {
		d.OnWait(delay)
	}
	return delay, sleep(ctx, delay)
}
