// Package pacing injects human-like delays between page operations and
// enforces a hard request-rate ceiling.
package pacing

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Pacer sleeps a random interval per request to avoid machine-regular
// traffic, optionally capped by a shared token bucket.
type Pacer struct {
	min     time.Duration
	max     time.Duration
	limiter *rate.Limiter

	mu  sync.Mutex
	rng *rand.Rand
}

// Option configures a Pacer.
type Option func(*Pacer)

// WithLimit adds a hard requests-per-second ceiling on top of the random
// delay. rps <= 0 means unlimited.
func WithLimit(rps float64, burst int) Option {
	return func(p *Pacer) {
		r := rate.Limit(rps)
		if rps <= 0 {
			r = rate.Inf
		}
		if burst <= 0 {
			burst = 1
		}
		p.limiter = rate.NewLimiter(r, burst)
	}
}

// New creates a Pacer sleeping uniformly between min and max per call.
func New(min, max time.Duration, opts ...Option) *Pacer {
	if min < 0 {
		min = 0
	}
	if max < min {
		max = min
	}
	p := &Pacer{
		min: min,
		max: max,
		rng: rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Sleep blocks for a random interval in [min, max], then waits for a rate
// token if a limit is configured. Returns early with the context error on
// cancellation.
func (p *Pacer) Sleep(ctx context.Context) error {
	return p.SleepRange(ctx, p.min, p.max)
}

// SleepRange is Sleep with a one-off interval override, used where a stage
// wants heavier pacing (e.g. between result pages).
func (p *Pacer) SleepRange(ctx context.Context, min, max time.Duration) error {
	if max < min {
		max = min
	}
	d := min
	if span := max - min; span > 0 {
		p.mu.Lock()
		d += time.Duration(p.rng.Int63n(int64(span)))
		p.mu.Unlock()
	}
	if d > 0 {
		timer := time.NewTimer(d)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			return fmt.Errorf("pacing sleep canceled: %w", ctx.Err())
		}
	}
	if p.limiter != nil {
		if err := p.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("rate limit wait: %w", err)
		}
	}
	return nil
}
