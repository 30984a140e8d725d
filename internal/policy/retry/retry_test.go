package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/regdata/harvester/internal/harvest"
)

func instantPolicy(maxAttempts int, factor float64) *Policy {
	p := New(maxAttempts, factor)
	p.sleep = func(context.Context, time.Duration) error { return nil }
	return p
}

func TestDo_SucceedsAfterTransientFailures(t *testing.T) {
	t.Parallel()

	p := instantPolicy(3, 2.0)
	attempts := 0
	err := p.Do(context.Background(), func(context.Context) error {
		attempts++
		if attempts <= 2 {
			return harvest.Transient("navigate", errors.New("timeout"))
		}
		return nil
	})

	require.NoError(t, err)
	require.Equal(t, 3, attempts)
}

func TestDo_SuccessShortCircuits(t *testing.T) {
	t.Parallel()

	p := instantPolicy(5, 2.0)
	attempts := 0
	require.NoError(t, p.Do(context.Background(), func(context.Context) error {
		attempts++
		return nil
	}))
	require.Equal(t, 1, attempts)
}

func TestDo_Exhaustion(t *testing.T) {
	t.Parallel()

	p := instantPolicy(3, 2.0)
	cause := errors.New("always broken")
	attempts := 0
	err := p.Do(context.Background(), func(context.Context) error {
		attempts++
		return cause
	})

	require.Equal(t, 3, attempts)
	var exhausted *harvest.RetryExhaustedError
	require.ErrorAs(t, err, &exhausted)
	require.Equal(t, 3, exhausted.Attempts)
	require.ErrorIs(t, err, cause)
}

func TestDo_PerCallOverrides(t *testing.T) {
	t.Parallel()

	p := instantPolicy(3, 2.0)
	attempts := 0
	err := p.Do(context.Background(), func(context.Context) error {
		attempts++
		return errors.New("nope")
	}, WithMaxAttempts(5), WithBackoffFactor(1.1))

	require.Equal(t, 5, attempts)
	var exhausted *harvest.RetryExhaustedError
	require.ErrorAs(t, err, &exhausted)
	require.Equal(t, 5, exhausted.Attempts)
}

func TestDo_BlockedNotRetried(t *testing.T) {
	t.Parallel()

	p := instantPolicy(3, 2.0)
	attempts := 0
	err := p.Do(context.Background(), func(context.Context) error {
		attempts++
		return &harvest.BlockedError{Kind: "captcha", Marker: ".g-recaptcha"}
	})

	require.Equal(t, 1, attempts)
	require.True(t, harvest.IsBlocked(err))
}

func TestDo_NotInitializedNotRetried(t *testing.T) {
	t.Parallel()

	p := instantPolicy(3, 2.0)
	attempts := 0
	err := p.Do(context.Background(), func(context.Context) error {
		attempts++
		return harvest.ErrNotInitialized
	})

	require.Equal(t, 1, attempts)
	require.ErrorIs(t, err, harvest.ErrNotInitialized)
}

func TestDo_ContextCanceledDuringBackoff(t *testing.T) {
	t.Parallel()

	p := New(3, 2.0)
	p.sleep = func(ctx context.Context, _ time.Duration) error { return context.Canceled }

	attempts := 0
	err := p.Do(context.Background(), func(context.Context) error {
		attempts++
		return errors.New("flaky")
	})

	require.Equal(t, 1, attempts)
	require.ErrorIs(t, err, context.Canceled)
}

func TestBackoffDelay_GrowsExponentially(t *testing.T) {
	t.Parallel()

	// jitter is bounded by one second, so delay k sits in [f^k, f^k + 1s).
	for k := 0; k < 4; k++ {
		d := backoffDelay(2.0, k)
		base := time.Duration(float64(time.Second) * pow2(k))
		require.GreaterOrEqual(t, d, base)
		require.Less(t, d, base+time.Second)
	}
}

func pow2(k int) float64 {
	out := 1.0
	for i := 0; i < k; i++ {
		out *= 2
	}
	return out
}
