package llm

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type scriptedProvider struct {
	errs  []error
	calls int
}

func (s *scriptedProvider) Generate(ctx context.Context, req *Request) (*Result, error) {
	i := s.calls
	s.calls++
	if i < len(s.errs) && s.errs[i] != nil {
		return nil, s.errs[i]
	}
	return &Result{Text: "ok"}, nil
}

func (s *scriptedProvider) GetModel() string   { return "test" }
func (s *scriptedProvider) GetBaseURL() string { return "http://test" }

func fastPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:  3,
		InitialDelay: time.Millisecond,
		MaxDelay:     5 * time.Millisecond,
		Multiplier:   2,
	}
}

func TestRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"rate limit", &APIError{StatusCode: 429}, true},
		{"server error", &APIError{StatusCode: 503}, true},
		{"bad request", &APIError{StatusCode: 400}, false},
		{"unauthorized status", &APIError{StatusCode: 401}, false},
		{"network failure", errors.New("dial tcp: connection refused"), true},
		{"bad credentials without status", errors.New("invalid API key provided"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Retryable(tt.err))
		})
	}
}

func TestRetryPolicyDelay(t *testing.T) {
	policy := RetryPolicy{
		InitialDelay: time.Second,
		MaxDelay:     10 * time.Second,
		Multiplier:   2,
	}

	// Base delays double per attempt; jitter adds at most 25%.
	assert.GreaterOrEqual(t, policy.Delay(1), time.Second)
	assert.LessOrEqual(t, policy.Delay(1), 1250*time.Millisecond)
	assert.GreaterOrEqual(t, policy.Delay(2), 2*time.Second)
	assert.LessOrEqual(t, policy.Delay(10), 12500*time.Millisecond)
}

func TestGenerateWithRetry(t *testing.T) {
	t.Run("recovers from transient failures", func(t *testing.T) {
		p := &scriptedProvider{errs: []error{
			&APIError{StatusCode: 500},
			&APIError{StatusCode: 429},
			nil,
		}}
		result, err := GenerateWithRetry(context.Background(), p, &Request{}, fastPolicy())
		require.NoError(t, err)
		assert.Equal(t, "ok", result.Text)
		assert.Equal(t, 3, p.calls)
	})

	t.Run("stops immediately on non-retryable errors", func(t *testing.T) {
		p := &scriptedProvider{errs: []error{&APIError{StatusCode: 400}}}
		_, err := GenerateWithRetry(context.Background(), p, &Request{}, fastPolicy())
		var apiErr *APIError
		require.ErrorAs(t, err, &apiErr)
		assert.Equal(t, 400, apiErr.StatusCode)
		assert.Equal(t, 1, p.calls)
	})

	t.Run("returns the last error once attempts are exhausted", func(t *testing.T) {
		p := &scriptedProvider{errs: []error{
			&APIError{StatusCode: 500},
			&APIError{StatusCode: 502},
			&APIError{StatusCode: 503},
		}}
		_, err := GenerateWithRetry(context.Background(), p, &Request{}, fastPolicy())
		var apiErr *APIError
		require.ErrorAs(t, err, &apiErr)
		assert.Equal(t, 503, apiErr.StatusCode)
		assert.Equal(t, 3, p.calls)
	})

	t.Run("honors context cancellation during backoff", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		p := &scriptedProvider{errs: []error{&APIError{StatusCode: 500}}}
		_, err := GenerateWithRetry(ctx, p, &Request{}, fastPolicy())
		assert.ErrorIs(t, err, context.Canceled)
	})
}
