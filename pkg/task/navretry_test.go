package task

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mozilla/pilo-sub005/pkg/types"
)

func TestNavRetryTimeoutFor(t *testing.T) {
	policy := DefaultNavRetryPolicy()
	assert.Equal(t, 30*time.Second, policy.TimeoutFor(1))
	assert.Equal(t, 60*time.Second, policy.TimeoutFor(2))
	assert.Equal(t, 120*time.Second, policy.TimeoutFor(3))
	// Past the cap, attempts stay at the cap.
	assert.Equal(t, 120*time.Second, policy.TimeoutFor(4))
}

func TestNavRetryNavigate(t *testing.T) {
	policy := NavRetryPolicy{
		BaseTimeout: 10 * time.Millisecond,
		Multiplier:  2,
		MaxTimeout:  40 * time.Millisecond,
		MaxAttempts: 3,
	}

	t.Run("retries timeouts with escalating deadlines", func(t *testing.T) {
		var seen []time.Duration
		err := policy.Navigate(context.Background(), nil, "t1", "https://slow.example", func(ctx context.Context, timeout time.Duration) error {
			seen = append(seen, timeout)
			if len(seen) < 3 {
				return NewNavigationTimeoutError("https://slow.example", timeout, nil)
			}
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, []time.Duration{10 * time.Millisecond, 20 * time.Millisecond, 40 * time.Millisecond}, seen)
	})

	t.Run("publishes a retry event per extra attempt", func(t *testing.T) {
		bus := types.NewBus()
		var retries []*types.Event
		bus.Subscribe(func(e *types.Event) { retries = append(retries, e) }, types.EventNavigationRetry)

		attempts := 0
		err := policy.Navigate(context.Background(), bus, "t1", "https://slow.example", func(ctx context.Context, timeout time.Duration) error {
			attempts++
			return NewNavigationTimeoutError("https://slow.example", timeout, nil)
		})
		require.Error(t, err)
		assert.Equal(t, 3, attempts)
		assert.Len(t, retries, 2)
		assert.Equal(t, 2, retries[0].Detail["attempt"])
	})

	t.Run("an exhausted budget is terminal, not recoverable", func(t *testing.T) {
		err := policy.Navigate(context.Background(), nil, "t1", "https://slow.example", func(ctx context.Context, timeout time.Duration) error {
			return NewNavigationTimeoutError("https://slow.example", timeout, nil)
		})
		require.Error(t, err)
		assert.False(t, IsRecoverable(err))

		var terminal *TerminalError
		require.ErrorAs(t, err, &terminal)
		assert.Contains(t, terminal.Reason, "navigation unreachable")
		assert.Contains(t, terminal.Reason, "https://slow.example")
		assert.Equal(t, "https://slow.example", terminal.Context["url"])
		assert.Equal(t, 3, terminal.Context["attempts"])
		assert.Equal(t, int64(40), terminal.Context["timeout_ms"])
	})

	t.Run("non-timeout failures are not retried", func(t *testing.T) {
		attempts := 0
		wantErr := errors.New("dns failure")
		err := policy.Navigate(context.Background(), nil, "t1", "https://bad.example", func(ctx context.Context, timeout time.Duration) error {
			attempts++
			return wantErr
		})
		assert.ErrorIs(t, err, wantErr)
		assert.Equal(t, 1, attempts)
	})

	t.Run("cancellation wins over retries", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		err := policy.Navigate(ctx, nil, "t1", "https://slow.example", func(ctx context.Context, timeout time.Duration) error {
			cancel()
			return NewNavigationTimeoutError("https://slow.example", timeout, nil)
		})
		assert.ErrorIs(t, err, context.Canceled)
	})
}
