package browser

import (
	"context"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
)

var (
	sharedMu sync.Mutex
	shared   atomic.Pointer[Manager]
)

// Shared returns the process-wide Manager, constructing and initializing it
// on first call. Concurrent first-time callers converge on one instance and
// one initialization sequence: the fast path checks outside the lock, the
// slow path re-checks after acquiring it.
func Shared(ctx context.Context, cfg Config, logger *zap.Logger) (*Manager, error) {
	if m := shared.Load(); m != nil {
		return m, nil
	}

	sharedMu.Lock()
	defer sharedMu.Unlock()
	if m := shared.Load(); m != nil {
		return m, nil
	}

	m := NewManager(logger)
	if err := m.Initialize(ctx, cfg); err != nil {
		m.Close()
		return nil, err
	}
	shared.Store(m)
	return m, nil
}

// ResetShared closes and forgets the shared Manager. Mainly for tests.
func ResetShared() {
	sharedMu.Lock()
	defer sharedMu.Unlock()
	if m := shared.Swap(nil); m != nil {
		m.Close()
	}
}
