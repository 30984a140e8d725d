// Package admission implements a bounded-concurrency gate around fallible
// operations.
package admission

import (
	"context"
	"fmt"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
)

// DefaultMaxConcurrent bounds in-flight operations when no limit is given.
const DefaultMaxConcurrent = 3

// Gate admits at most N operations at a time across the whole process.
// Excess callers block until a slot frees; there is no ordering guarantee
// among queued callers beyond eventual admission.
type Gate struct {
	sem      *semaphore.Weighted
	inFlight atomic.Int64
}

// New creates a Gate admitting up to maxConcurrent operations.
func New(maxConcurrent int) *Gate {
	if maxConcurrent <= 0 {
		maxConcurrent = DefaultMaxConcurrent
	}
	return &Gate{sem: semaphore.NewWeighted(int64(maxConcurrent))}
}

// Do runs op once a slot is available. The slot is released on both normal
// return and error, so a failing operation never leaks a permit. A caller
// whose context is canceled while queued gets the context error back
// without having consumed a slot.
func (g *Gate) Do(ctx context.Context, op func(context.Context) error) error {
	if err := g.sem.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("admission wait canceled: %w", err)
	}
	g.inFlight.Add(1)
	defer func() {
		g.inFlight.Add(-1)
		g.sem.Release(1)
	}()
	return op(ctx)
}

// InFlight reports how many operations currently hold a slot.
func (g *Gate) InFlight() int {
	return int(g.inFlight.Load())
}
