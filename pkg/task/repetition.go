package task

import (
	"github.com/mozilla/pilo-sub005/pkg/types"
)

const (
	// defaultRepeatThreshold is how many consecutive identical actions
	// trigger a recovery message.
	defaultRepeatThreshold = 3
	// defaultMaxRecoveries caps how often the loop will nudge the model
	// off a repeated action before giving up on the task.
	defaultMaxRecoveries = 5
)

// RepetitionGuard detects a model stuck re-issuing the same action.
// Identity is the action signature, so "click E4" twice with a page change
// in between still counts as a repeat; the threshold absorbs legitimate
// double-clicks and retries.
type RepetitionGuard struct {
	threshold     int
	maxRecoveries int

	lastSignature string
	runLength     int
	recoveries    int
}

// NewRepetitionGuard returns a guard with the default threshold and
// recovery cap.
func NewRepetitionGuard() *RepetitionGuard {
	return &RepetitionGuard{threshold: defaultRepeatThreshold, maxRecoveries: defaultMaxRecoveries}
}

// Observe records one proposed action. It returns a recoverable error when
// the run reaches the threshold, and a terminal (non-recoverable) error
// once the recovery cap is spent.
func (g *RepetitionGuard) Observe(action *types.Action) error {
	sig := action.Signature()
	if sig != g.lastSignature {
		g.lastSignature = sig
		g.runLength = 1
		return nil
	}

	g.runLength++
	if g.runLength < g.threshold {
		return nil
	}

	g.recoveries++
	// Reset the run so one recovery message covers one burst.
	g.runLength = 0
	g.lastSignature = ""

	if g.recoveries > g.maxRecoveries {
		return &TerminalError{
			Reason: "abandoned after repeated identical actions made no progress",
		}
	}
	return NewRepeatedActionError(sig, g.threshold)
}

// Recoveries reports how many repetition recoveries have been spent.
func (g *RepetitionGuard) Recoveries() int { return g.recoveries }

// TerminalError aborts the task. It is deliberately outside the
// recoverable taxonomy and never wraps a recoverable cause: a terminal
// failure must not look recoverable through an unwrap chain. Context holds
// the structured diagnostics for the final result and logs.
type TerminalError struct {
	Reason  string
	Context map[string]any
}

func (e *TerminalError) Error() string { return e.Reason }
