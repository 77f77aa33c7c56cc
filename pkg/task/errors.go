// Package task runs the agent loop: snapshot the page, ask the model for
// one action, validate it, perform it, repeat until the model declares the
// task done or a budget runs out.
package task

import (
	"errors"
	"fmt"
	"time"
)

// ErrorKind classifies a recoverable failure so prompts and logs can react
// to the class without string matching.
type ErrorKind string

const (
	KindInvalidRef          ErrorKind = "invalid_ref"
	KindElementNotFound     ErrorKind = "element_not_found"
	KindActionFailed        ErrorKind = "action_failed"
	KindToolExecutionFailed ErrorKind = "tool_execution_failed"
	KindNavigationTimeout   ErrorKind = "navigation_timeout"
	KindMalformedAction     ErrorKind = "malformed_action"
	KindRepeatedAction      ErrorKind = "repeated_action"
)

// RecoverableError is a failure the loop feeds back to the model as an
// observation instead of aborting the task. The message is written for the
// model: it names what went wrong and what to do differently. Context holds
// the structured diagnostics (ref, action, URL) for logs and events.
type RecoverableError struct {
	Kind    ErrorKind
	Context map[string]any
	msg     string
	cause   error
}

func (e *RecoverableError) Error() string { return e.msg }
func (e *RecoverableError) Unwrap() error { return e.cause }

// IsRecoverable reports whether the loop should continue after err.
func IsRecoverable(err error) bool {
	var r *RecoverableError
	return errors.As(err, &r)
}

// KindOf returns the error's kind, or "" for errors outside the taxonomy.
func KindOf(err error) ErrorKind {
	var r *RecoverableError
	if errors.As(err, &r) {
		return r.Kind
	}
	return ""
}

// NewInvalidRefError reports a ref that is not present in the current
// snapshot, usually because the page changed since it was captured.
func NewInvalidRefError(ref string) *RecoverableError {
	return &RecoverableError{
		Kind:    KindInvalidRef,
		Context: map[string]any{"ref": ref},
		msg: fmt.Sprintf("ref %s does not exist in the current page snapshot; "+
			"it may be stale. Use a ref from the latest snapshot", ref),
	}
}

// NewElementNotFoundError reports a ref that was valid in the snapshot but
// no longer resolves to a live element.
func NewElementNotFoundError(ref string) *RecoverableError {
	return &RecoverableError{
		Kind:    KindElementNotFound,
		Context: map[string]any{"ref": ref},
		msg: fmt.Sprintf("element for ref %s is no longer attached to the page; "+
			"take the next snapshot and pick a fresh ref", ref),
	}
}

// NewActionFailedError wraps a browser-level failure of an otherwise valid
// action.
func NewActionFailedError(action string, cause error) *RecoverableError {
	return &RecoverableError{
		Kind:    KindActionFailed,
		Context: map[string]any{"action": action},
		msg:     fmt.Sprintf("action %s failed: %v", action, cause),
		cause:   cause,
	}
}

// NewToolExecutionFailedError reports an action that executed but came back
// with success=false. The tool's own message is the single report the model
// sees; nothing else re-raises it.
func NewToolExecutionFailedError(action, message string) *RecoverableError {
	return &RecoverableError{
		Kind:    KindToolExecutionFailed,
		Context: map[string]any{"action": action},
		msg:     fmt.Sprintf("action %s reported failure: %s", action, message),
	}
}

// NewNavigationTimeoutError reports a page load that did not settle within
// the attempt's timeout.
func NewNavigationTimeoutError(url string, timeout time.Duration, cause error) *RecoverableError {
	return &RecoverableError{
		Kind:    KindNavigationTimeout,
		Context: map[string]any{"url": url, "timeout_ms": timeout.Milliseconds()},
		msg:     fmt.Sprintf("navigation to %s did not settle within %s", url, timeout),
		cause:   cause,
	}
}

// NewMalformedActionError reports model output that could not be parsed
// into an action even after recovery.
func NewMalformedActionError(cause error) *RecoverableError {
	return &RecoverableError{
		Kind: KindMalformedAction,
		msg: fmt.Sprintf("the previous response was not a valid action (%v); "+
			"respond with exactly one tool call", cause),
		cause: cause,
	}
}

// NewRepeatedActionError reports that the model keeps issuing the same
// action without making progress.
func NewRepeatedActionError(signature string, count int) *RecoverableError {
	return &RecoverableError{
		Kind:    KindRepeatedAction,
		Context: map[string]any{"signature": signature, "count": count},
		msg: fmt.Sprintf("the action %q has now been issued %d times in a row "+
			"without changing the page; try a different approach", signature, count),
	}
}
