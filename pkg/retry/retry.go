// Package retry wraps user-facing data operations with exponential
// backoff retried only on a KindRetryable error from the underlying
// provider, cache, or metadata layer.
package retry

import (
	"context"
	"math"
	"math/rand"
	"time"

	"github.com/objectfs/msc/pkg/errors"
)

// Config defines retry behavior: attempt i sleeps delay*2^i plus
// uniform jitter in [0,1) seconds, up to MaxAttempts tries total.
type Config struct {
	MaxAttempts int
	Delay       time.Duration
}

// DefaultConfig returns the defaults: 3 attempts, 1s base delay.
func DefaultConfig() Config {
	return Config{MaxAttempts: 3, Delay: time.Second}
}

// Retryer retries a function under Config, but only for errors of
// Kind KindRetryable.
type Retryer struct {
	config Config
}

// New creates a Retryer, applying DefaultConfig's values for any zero
// field.
func New(config Config) *Retryer {
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = 3
	}
	if config.Delay <= 0 {
		config.Delay = time.Second
	}
	return &Retryer{config: config}
}

// Do runs fn, retrying on KindRetryable errors until it succeeds, a
// non-retryable error is returned, MaxAttempts is exhausted, or ctx is
// canceled.
func (r *Retryer) Do(ctx context.Context, fn func(context.Context) error) error {
	var lastErr error
	for attempt := 0; attempt < r.config.MaxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		err := fn(ctx)
		if err == nil {
			return nil
		}
		lastErr = err

		if !errors.Is(err, errors.KindRetryable) {
			return err
		}
		if attempt == r.config.MaxAttempts-1 {
			break
		}

		delay := r.backoff(attempt)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	return lastErr
}

// backoff computes delay*2^attempt plus uniform jitter in [0,1)
// seconds.
func (r *Retryer) backoff(attempt int) time.Duration {
	base := float64(r.config.Delay) * math.Pow(2, float64(attempt))
	jitter := rand.Float64() * float64(time.Second)
	return time.Duration(base + jitter)
}
