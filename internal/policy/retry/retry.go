// Package retry implements jittered exponential backoff around fallible
// operations.
package retry

import (
	"context"
	"crypto/rand"
	"errors"
	"math"
	"math/big"
	"time"

	"github.com/regdata/harvester/internal/harvest"
	"github.com/regdata/harvester/internal/telemetry"
)

// Defaults applied when a Policy field is zero.
const (
	DefaultMaxAttempts   = 3
	DefaultBackoffFactor = 2.0
)

// Policy retries an operation with exponentially growing, jittered delays.
// The policy does not assume operations are idempotent; that is the
// caller's obligation for anything that mutates external state.
type Policy struct {
	MaxAttempts   int
	BackoffFactor float64

	// sleep is overridable in tests.
	sleep func(context.Context, time.Duration) error
}

// New builds a Policy with the given instance defaults.
func New(maxAttempts int, backoffFactor float64) *Policy {
	return &Policy{MaxAttempts: maxAttempts, BackoffFactor: backoffFactor}
}

// Option overrides policy parameters for a single call site.
type Option func(*callConfig)

type callConfig struct {
	maxAttempts   int
	backoffFactor float64
}

// WithMaxAttempts overrides the attempt budget for one call.
func WithMaxAttempts(n int) Option {
	return func(c *callConfig) { c.maxAttempts = n }
}

// WithBackoffFactor overrides the backoff base for one call.
func WithBackoffFactor(f float64) Option {
	return func(c *callConfig) { c.backoffFactor = f }
}

// Do attempts op up to the configured number of times. The first attempt
// runs immediately; the delay before attempt k+1 is backoff^k plus up to
// one second of jitter. Success on any attempt short-circuits. When every
// attempt fails the last error is returned wrapped in a
// *harvest.RetryExhaustedError.
func (p *Policy) Do(ctx context.Context, op func(context.Context) error, opts ...Option) error {
	cfg := callConfig{maxAttempts: p.MaxAttempts, backoffFactor: p.BackoffFactor}
	for _, o := range opts {
		o(&cfg)
	}
	if cfg.maxAttempts <= 0 {
		cfg.maxAttempts = DefaultMaxAttempts
	}
	if cfg.backoffFactor <= 0 {
		cfg.backoffFactor = DefaultBackoffFactor
	}

	var lastErr error
	for attempt := 0; attempt < cfg.maxAttempts; attempt++ {
		if attempt > 0 {
			if err := p.wait(ctx, backoffDelay(cfg.backoffFactor, attempt-1)); err != nil {
				return err
			}
			telemetry.ObserveRetry()
		}
		lastErr = op(ctx)
		if lastErr == nil {
			return nil
		}
		if !retryable(lastErr) {
			return lastErr
		}
	}
	return &harvest.RetryExhaustedError{Attempts: cfg.maxAttempts, Cause: lastErr}
}

// backoffDelay computes factor^k plus uniform jitter in [0, 1s) so that
// concurrent retriers do not re-synchronize.
func backoffDelay(factor float64, k int) time.Duration {
	base := time.Duration(math.Pow(factor, float64(k)) * float64(time.Second))
	return base + randomJitter(time.Second)
}

func randomJitter(limit time.Duration) time.Duration {
	if limit <= 0 {
		return 0
	}
	bound := big.NewInt(int64(limit))
	n, err := rand.Int(rand.Reader, bound)
	if err != nil {
		return limit / 2
	}
	return time.Duration(n.Int64())
}

func retryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if errors.Is(err, harvest.ErrNotInitialized) {
		return false
	}
	// Anti-bot blocks are surfaced, not hammered.
	return !harvest.IsBlocked(err)
}

func (p *Policy) wait(ctx context.Context, d time.Duration) error {
	if p.sleep != nil {
		return p.sleep(ctx, d)
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
