package retry

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"strings"
	"time"
)

// BackoffStrategy defines the interface for different backoff strategies
type BackoffStrategy interface {
	// NextDelay returns the delay to wait after the given failed attempt (1-based)
	NextDelay(attempt int) time.Duration
	// Reset resets the backoff strategy to initial state
	Reset()
}

// Strategy names accepted by NewStrategy
const (
	StrategyLinear      = "linear"
	StrategyExponential = "exponential"
	StrategyConstant    = "constant"
)

// ExponentialBackoff implements exponential backoff with optional jitter
type ExponentialBackoff struct {
	// BaseDelay is the delay after the first failed attempt
	BaseDelay time.Duration
	// MaxDelay caps the delay (0 means no cap)
	MaxDelay time.Duration
	// Multiplier is the factor by which delay increases
	Multiplier float64
	// JitterFactor adds randomness (0.0 to 1.0)
	JitterFactor float64
}

// DefaultExponentialBackoff returns the page retry backoff used by listing crawls
func DefaultExponentialBackoff() *ExponentialBackoff {
	return &ExponentialBackoff{
		BaseDelay:  2 * time.Second,
		MaxDelay:   5 * time.Minute,
		Multiplier: 2.0,
	}
}

// NextDelay calculates BaseDelay * Multiplier^(attempt-1), capped at MaxDelay
func (eb *ExponentialBackoff) NextDelay(attempt int) time.Duration {
	if attempt <= 0 {
		return 0
	}

	mult := eb.Multiplier
	if mult <= 0 {
		mult = 2.0
	}
	delay := float64(eb.BaseDelay) * math.Pow(mult, float64(attempt-1))
	if eb.MaxDelay > 0 && delay > float64(eb.MaxDelay) {
		delay = float64(eb.MaxDelay)
	}

	return jitter(delay, eb.JitterFactor)
}

// Reset is a no-op; the delay depends only on the attempt number
func (eb *ExponentialBackoff) Reset() {}

// LinearBackoff implements linear backoff strategy
type LinearBackoff struct {
	// BaseDelay is the delay after the first failed attempt
	BaseDelay time.Duration
	// MaxDelay caps the delay (0 means no cap)
	MaxDelay time.Duration
	// Increment is added for every further attempt
	Increment time.Duration
	// JitterFactor adds randomness (0.0 to 1.0)
	JitterFactor float64
}

// DefaultLinearBackoff waits 15s, 30s, 45s, ... between page attempts
func DefaultLinearBackoff() *LinearBackoff {
	return &LinearBackoff{
		BaseDelay: 15 * time.Second,
		Increment: 15 * time.Second,
		MaxDelay:  5 * time.Minute,
	}
}

// NextDelay calculates BaseDelay + Increment*(attempt-1), capped at MaxDelay
func (lb *LinearBackoff) NextDelay(attempt int) time.Duration {
	if attempt <= 0 {
		return 0
	}

	delay := float64(lb.BaseDelay + lb.Increment*time.Duration(attempt-1))
	if lb.MaxDelay > 0 && delay > float64(lb.MaxDelay) {
		delay = float64(lb.MaxDelay)
	}

	return jitter(delay, lb.JitterFactor)
}

// Reset resets the backoff to initial state
func (lb *LinearBackoff) Reset() {}

// ConstantBackoff implements constant delay backoff
type ConstantBackoff struct {
	Delay time.Duration
}

// NextDelay returns a constant delay
func (cb *ConstantBackoff) NextDelay(attempt int) time.Duration {
	if attempt <= 0 {
		return 0
	}
	return cb.Delay
}

// Reset resets the backoff (no-op for constant backoff)
func (cb *ConstantBackoff) Reset() {}

// NewStrategy builds a backoff from its configured name. For "linear" the
// delay grows by base on every attempt, for "exponential" it doubles.
func NewStrategy(name string, base, maxDelay time.Duration) (BackoffStrategy, error) {
	switch strings.ToLower(name) {
	case StrategyLinear:
		return &LinearBackoff{BaseDelay: base, Increment: base, MaxDelay: maxDelay}, nil
	case StrategyExponential:
		return &ExponentialBackoff{BaseDelay: base, Multiplier: 2.0, MaxDelay: maxDelay}, nil
	case StrategyConstant:
		return &ConstantBackoff{Delay: base}, nil
	default:
		return nil, fmt.Errorf("unknown backoff strategy %q", name)
	}
}

func jitter(delay, factor float64) time.Duration {
	if factor > 0 {
		j := delay * factor
		delay += (rand.Float64() * 2 * j) - j
	}
	if delay < 0 {
		delay = 0
	}
	return time.Duration(delay)
}

// Wait waits for the specified duration or until context is cancelled
func Wait(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
