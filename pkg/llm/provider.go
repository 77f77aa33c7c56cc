// Package llm provides abstractions for LLM provider integration.
//
// Providers accept a full conversation plus an optional tool schema and
// return either a structured tool call or plain text. This design keeps
// providers focused on API communication without coupling them to the
// task loop: the task layer owns prompt assembly, validation of the tool
// arguments, and retry-on-bad-output policy, while providers stay reusable
// in non-agent contexts (batch extraction, evals, CLI tools).
//
// Example usage:
//
//	provider, err := openai.NewProvider(
//	    os.Getenv("OPENAI_API_KEY"),
//	    openai.WithModel("gpt-4o"),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	result, err := provider.Generate(ctx, &llm.Request{
//	    Messages: []*types.Message{types.NewUserMessage("Hello!")},
//	})
package llm

import (
	"context"
	"fmt"

	"github.com/mozilla/pilo-sub005/pkg/types"
)

// ToolSpec describes a tool the model may call. Parameters is a JSON
// Schema object in the shape the chat-completions tools API expects.
type ToolSpec struct {
	Name        string
	Description string
	Parameters  map[string]any
}

// Request is a single generation turn.
type Request struct {
	Messages []*types.Message

	// Tool, when set, forces the model to respond with a call to this
	// tool rather than free text.
	Tool *ToolSpec
}

// ToolCall is the model's structured response to a forced tool request.
// Arguments is the raw JSON argument object, unparsed: callers own
// validation and recovery of malformed output.
type ToolCall struct {
	Name      string
	Arguments string
}

// Result is what one generation produced: exactly one of ToolCall or Text
// is meaningful (ToolCall wins when both are present).
type Result struct {
	ToolCall *ToolCall
	Text     string
}

// Provider defines the interface for LLM integrations.
type Provider interface {
	// Generate sends the conversation to the model and returns its
	// response. Returns an error for transport and API failures; a
	// malformed tool call is NOT an error here, it comes back in
	// Result.ToolCall.Arguments for the caller to recover.
	Generate(ctx context.Context, req *Request) (*Result, error)

	// GetModel returns the model name being used.
	GetModel() string

	// GetBaseURL returns the base URL being used for API requests.
	GetBaseURL() string
}

// ModelCloner is an optional interface that providers can implement to
// support lightweight per-call model overrides without constructing a full
// second provider. The returned provider shares credentials and transport
// with the original but directs calls to the given model.
type ModelCloner interface {
	CloneWithModel(model string) Provider
}

// APIError is a non-2xx response from the provider's API. It survives
// wrapping so retry policy can inspect the status code.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API request failed with status %d: %s", e.StatusCode, e.Body)
}
