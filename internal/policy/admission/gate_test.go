package admission

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestGate_ConcurrencyBound(t *testing.T) {
	t.Parallel()

	const limit = 3
	const callers = 20

	g := New(limit)

	var (
		current atomic.Int64
		peak    atomic.Int64
		wg      sync.WaitGroup
	)

	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := g.Do(context.Background(), func(context.Context) error {
				n := current.Add(1)
				for {
					p := peak.Load()
					if n <= p || peak.CompareAndSwap(p, n) {
						break
					}
				}
				time.Sleep(5 * time.Millisecond)
				current.Add(-1)
				return nil
			})
			require.NoError(t, err)
		}()
	}
	wg.Wait()

	require.LessOrEqual(t, peak.Load(), int64(limit))
	require.Equal(t, 0, g.InFlight())
}

func TestGate_NoPermitLeakOnError(t *testing.T) {
	t.Parallel()

	g := New(1)
	boom := errors.New("boom")

	err := g.Do(context.Background(), func(context.Context) error { return boom })
	require.ErrorIs(t, err, boom)

	// The slot must be immediately available again.
	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	require.NoError(t, g.Do(ctx, func(context.Context) error { return nil }))
}

func TestGate_CanceledWhileQueued(t *testing.T) {
	t.Parallel()

	g := New(1)
	release := make(chan struct{})
	held := make(chan struct{})

	go func() {
		_ = g.Do(context.Background(), func(context.Context) error {
			close(held)
			<-release
			return nil
		})
	}()
	<-held

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := g.Do(ctx, func(context.Context) error {
		t.Error("operation must not run after cancellation")
		return nil
	})
	require.ErrorIs(t, err, context.Canceled)

	close(release)
	require.Eventually(t, func() bool { return g.InFlight() == 0 }, time.Second, 5*time.Millisecond)
}

func TestGate_DefaultLimit(t *testing.T) {
	t.Parallel()

	g := New(0)
	require.NoError(t, g.Do(context.Background(), func(context.Context) error { return nil }))
}
