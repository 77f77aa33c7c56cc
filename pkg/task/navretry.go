package task

import (
	"context"
	"fmt"
	"time"

	"github.com/mozilla/pilo-sub005/pkg/types"
)

// NavRetryPolicy escalates the load timeout across navigation attempts.
// Slow pages often settle given more patience, so each retry waits longer
// instead of hammering with the same deadline.
type NavRetryPolicy struct {
	BaseTimeout time.Duration
	Multiplier  float64
	MaxTimeout  time.Duration
	MaxAttempts int
}

// DefaultNavRetryPolicy returns the production defaults: three attempts at
// 30s, 60s, and 120s.
func DefaultNavRetryPolicy() NavRetryPolicy {
	return NavRetryPolicy{
		BaseTimeout: 30 * time.Second,
		Multiplier:  2,
		MaxTimeout:  120 * time.Second,
		MaxAttempts: 3,
	}
}

// TimeoutFor returns the load timeout for a 1-based attempt number.
func (p NavRetryPolicy) TimeoutFor(attempt int) time.Duration {
	timeout := p.BaseTimeout
	for i := 1; i < attempt; i++ {
		timeout = time.Duration(float64(timeout) * p.Multiplier)
		if timeout >= p.MaxTimeout {
			return p.MaxTimeout
		}
	}
	if timeout > p.MaxTimeout {
		return p.MaxTimeout
	}
	return timeout
}

// Navigate runs nav under the policy, retrying timeouts with escalating
// deadlines and publishing a retry event before each extra attempt. Only
// navigation timeouts are retried. Once the budget is spent the page is
// declared unreachable with a terminal error: a URL that did not load at
// the longest deadline is not worth more conversation turns.
func (p NavRetryPolicy) Navigate(ctx context.Context, bus *types.Bus, taskID, url string, nav func(ctx context.Context, timeout time.Duration) error) error {
	var lastTimeout time.Duration
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		timeout := p.TimeoutFor(attempt)
		if attempt > 1 && bus != nil {
			bus.Publish(types.NewNavigationRetryEvent(taskID, url, attempt, float64(timeout.Milliseconds())))
		}

		err := nav(ctx, timeout)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if KindOf(err) != KindNavigationTimeout {
			return err
		}
		lastTimeout = timeout
	}
	return &TerminalError{
		Reason: fmt.Sprintf("navigation unreachable: %s did not load within %s after %d attempts",
			url, lastTimeout, p.MaxAttempts),
		Context: map[string]any{
			"url":        url,
			"timeout_ms": lastTimeout.Milliseconds(),
			"attempts":   p.MaxAttempts,
		},
	}
}
