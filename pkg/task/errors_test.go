package task

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorTaxonomy(t *testing.T) {
	tests := []struct {
		name     string
		err      *RecoverableError
		wantKind ErrorKind
		wantCtx  map[string]any
	}{
		{
			"invalid ref",
			NewInvalidRefError("E7"),
			KindInvalidRef,
			map[string]any{"ref": "E7"},
		},
		{
			"element not found",
			NewElementNotFoundError("E3"),
			KindElementNotFound,
			map[string]any{"ref": "E3"},
		},
		{
			"action failed",
			NewActionFailedError("click E1", errors.New("detached")),
			KindActionFailed,
			map[string]any{"action": "click E1"},
		},
		{
			"tool execution failed",
			NewToolExecutionFailedError("fill E2", "element is read-only"),
			KindToolExecutionFailed,
			map[string]any{"action": "fill E2"},
		},
		{
			"navigation timeout",
			NewNavigationTimeoutError("https://slow.example", 30*time.Second, nil),
			KindNavigationTimeout,
			map[string]any{"url": "https://slow.example", "timeout_ms": int64(30000)},
		},
		{
			"repeated action",
			NewRepeatedActionError("click|E1|", 3),
			KindRepeatedAction,
			map[string]any{"signature": "click|E1|", "count": 3},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.True(t, IsRecoverable(tt.err))
			assert.Equal(t, tt.wantKind, KindOf(tt.err))
			assert.Equal(t, tt.wantCtx, tt.err.Context)
			assert.NotEmpty(t, tt.err.Error())
		})
	}
}

func TestRecoverableErrorSurvivesWrapping(t *testing.T) {
	err := fmt.Errorf("iteration 3: %w", NewInvalidRefError("E9"))
	assert.True(t, IsRecoverable(err))
	assert.Equal(t, KindInvalidRef, KindOf(err))
}

func TestToolFailureMessageCarriesToolReport(t *testing.T) {
	err := NewToolExecutionFailedError("click E4", "blocked by overlay")
	assert.Contains(t, err.Error(), "click E4")
	assert.Contains(t, err.Error(), "blocked by overlay")
}

func TestTerminalErrorIsNotRecoverable(t *testing.T) {
	var err error = &TerminalError{Reason: "abandoned"}
	assert.False(t, IsRecoverable(err))
	assert.Equal(t, ErrorKind(""), KindOf(err))

	var terminal *TerminalError
	require.ErrorAs(t, err, &terminal)
	assert.Equal(t, "abandoned", terminal.Reason)
}
