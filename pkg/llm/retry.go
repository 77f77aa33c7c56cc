package llm

import (
	"context"
	"errors"
	"math/rand"
	"net/http"
	"strings"
	"time"
)

// RetryPolicy controls how transient provider failures are retried.
type RetryPolicy struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
}

// DefaultRetryPolicy returns the policy used when none is configured:
// three attempts with exponential backoff between one and ten seconds.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:  3,
		InitialDelay: time.Second,
		MaxDelay:     10 * time.Second,
		Multiplier:   2,
	}
}

// Delay returns the backoff before the given retry, with up to 25% random
// jitter added so concurrent sessions don't retry in lockstep. attempt is
// 1-based: Delay(1) precedes the second request.
func (p RetryPolicy) Delay(attempt int) time.Duration {
	d := p.InitialDelay
	for i := 1; i < attempt; i++ {
		d = time.Duration(float64(d) * p.Multiplier)
		if d >= p.MaxDelay {
			d = p.MaxDelay
			break
		}
	}
	if d > p.MaxDelay {
		d = p.MaxDelay
	}
	return d + time.Duration(rand.Int63n(int64(d)/4+1))
}

// Retryable reports whether a Generate error is worth retrying. Rate
// limits and server-side failures are transient; every other 4xx means
// the request itself is bad and will fail again, as do credential errors
// surfaced by proxies without a clean status code.
func Retryable(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		if apiErr.StatusCode == http.StatusTooManyRequests {
			return true
		}
		return apiErr.StatusCode >= 500
	}

	msg := strings.ToLower(err.Error())
	for _, fatal := range []string{"api key", "unauthorized", "authentication"} {
		if strings.Contains(msg, fatal) {
			return false
		}
	}
	// Network-level failures are transient.
	return true
}

// GenerateWithRetry wraps provider.Generate with the retry policy. It
// returns the last error once attempts are exhausted or as soon as an
// error is not retryable.
func GenerateWithRetry(ctx context.Context, provider Provider, req *Request, policy RetryPolicy) (*Result, error) {
	var lastErr error
	for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
		result, err := provider.Generate(ctx, req)
		if err == nil {
			return result, nil
		}
		lastErr = err

		if !Retryable(err) || attempt == policy.MaxAttempts {
			break
		}
		timer := time.NewTimer(policy.Delay(attempt))
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		}
	}
	return nil, lastErr
}
