package openai

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mozilla/pilo-sub005/pkg/llm"
	"github.com/mozilla/pilo-sub005/pkg/types"
)

func TestNewProvider(t *testing.T) {
	t.Run("requires an API key", func(t *testing.T) {
		t.Setenv("OPENAI_API_KEY", "")
		_, err := NewProvider("")
		assert.Error(t, err)
	})

	t.Run("applies options", func(t *testing.T) {
		p, err := NewProvider("sk-test",
			WithModel("gpt-4o-mini"),
			WithBaseURL("http://localhost:8080/v1"))
		require.NoError(t, err)
		assert.Equal(t, "gpt-4o-mini", p.GetModel())
		assert.Equal(t, "http://localhost:8080/v1", p.GetBaseURL())
	})

	t.Run("falls back to environment base URL", func(t *testing.T) {
		t.Setenv("OPENAI_BASE_URL", "http://proxy.internal/v1")
		p, err := NewProvider("sk-test")
		require.NoError(t, err)
		assert.Equal(t, "http://proxy.internal/v1", p.GetBaseURL())
	})
}

func TestCloneWithModel(t *testing.T) {
	p, err := NewProvider("sk-test", WithModel("gpt-4o"))
	require.NoError(t, err)

	clone := p.CloneWithModel("gpt-4o-mini")
	assert.Equal(t, "gpt-4o-mini", clone.GetModel())
	assert.Equal(t, "gpt-4o", p.GetModel())
}

func TestGenerate(t *testing.T) {
	t.Run("forces the requested tool and returns its call", func(t *testing.T) {
		var gotBody map[string]any
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			body, _ := io.ReadAll(r.Body)
			require.NoError(t, json.Unmarshal(body, &gotBody))
			w.Write([]byte(`{"choices":[{"message":{"tool_calls":[
				{"function":{"name":"browser_action","arguments":"{\"kind\":\"click\",\"ref\":\"E3\"}"}}
			]}}]}`))
		}))
		defer server.Close()

		p, err := NewProvider("sk-test", WithBaseURL(server.URL))
		require.NoError(t, err)

		result, err := p.Generate(context.Background(), &llm.Request{
			Messages: []*types.Message{types.NewUserMessage("click it")},
			Tool: &llm.ToolSpec{
				Name:       "browser_action",
				Parameters: map[string]any{"type": "object"},
			},
		})
		require.NoError(t, err)
		require.NotNil(t, result.ToolCall)
		assert.Equal(t, "browser_action", result.ToolCall.Name)
		assert.Contains(t, result.ToolCall.Arguments, `"click"`)

		choice, ok := gotBody["tool_choice"].(map[string]any)
		require.True(t, ok)
		assert.Equal(t, "function", choice["type"])
	})

	t.Run("returns plain text when no tool call comes back", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{"choices":[{"message":{"content":"hello"}}]}`))
		}))
		defer server.Close()

		p, err := NewProvider("sk-test", WithBaseURL(server.URL))
		require.NoError(t, err)

		result, err := p.Generate(context.Background(), &llm.Request{
			Messages: []*types.Message{types.NewUserMessage("hi")},
		})
		require.NoError(t, err)
		assert.Nil(t, result.ToolCall)
		assert.Equal(t, "hello", result.Text)
	})

	t.Run("surfaces API failures as typed errors", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusTooManyRequests)
			w.Write([]byte(`{"error":{"message":"rate limited"}}`))
		}))
		defer server.Close()

		p, err := NewProvider("sk-test", WithBaseURL(server.URL))
		require.NoError(t, err)

		_, err = p.Generate(context.Background(), &llm.Request{
			Messages: []*types.Message{types.NewUserMessage("hi")},
		})
		var apiErr *llm.APIError
		require.True(t, errors.As(err, &apiErr))
		assert.Equal(t, http.StatusTooManyRequests, apiErr.StatusCode)
	})

	t.Run("rejects an empty choices array", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{"choices":[]}`))
		}))
		defer server.Close()

		p, err := NewProvider("sk-test", WithBaseURL(server.URL))
		require.NoError(t, err)

		_, err = p.Generate(context.Background(), &llm.Request{
			Messages: []*types.Message{types.NewUserMessage("hi")},
		})
		assert.Error(t, err)
	})
}
