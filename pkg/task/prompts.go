package task

import (
	"fmt"
	"strings"

	"github.com/mozilla/pilo-sub005/pkg/llm"
	"github.com/mozilla/pilo-sub005/pkg/types"
)

// systemPrompt explains the loop contract: one tool call per turn, refs
// come from the latest snapshot only.
const systemPrompt = `You are a browser automation agent. You are given a task and, each turn, a
snapshot of the current page as an indented outline of its interactive and
semantic elements.

Snapshot format:
- Each line is one element: its role, its visible name in quotes, state
  flags in brackets, and for actionable elements a ref like [ref=E12].
- Refs are only valid for the snapshot they appear in. Never reuse a ref
  from an earlier snapshot.

Each turn you must respond with exactly one browser_action tool call that
makes progress on the task. Prefer the smallest action that moves forward.
When the task is fully accomplished, respond with the "done" action and
summarize what you achieved in its value. If the task cannot be completed,
respond with "done" and explain why.`

// ActionToolSpec returns the schema for the per-iteration action call.
func ActionToolSpec() *llm.ToolSpec {
	return &llm.ToolSpec{
		Name:        "browser_action",
		Description: "Perform one browser action toward completing the task.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"action": map[string]any{
					"type": "string",
					"enum": []string{
						"click", "fill", "select", "press", "hover", "scroll",
						"back", "forward", "goto", "wait", "extract", "done",
					},
					"description": "The kind of action to perform.",
				},
				"ref": map[string]any{
					"type":        "string",
					"description": "Target element ref from the current snapshot, e.g. E12. Required for click, fill, select, and hover.",
				},
				"value": map[string]any{
					"type":        "string",
					"description": "Action input: text for fill, option for select, key for press, direction for scroll, URL for goto, milliseconds for wait, summary for done.",
				},
			},
			"required": []string{"action"},
		},
	}
}

// planToolSpec asks for an upfront plan when no starting page was given.
func planToolSpec() *llm.ToolSpec {
	return &llm.ToolSpec{
		Name:        "task_plan",
		Description: "Plan how to accomplish the task before touching the browser.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"explanation": map[string]any{
					"type":        "string",
					"description": "One paragraph describing the approach.",
				},
				"steps": map[string]any{
					"type":        "array",
					"items":       map[string]any{"type": "string"},
					"description": "The intended high level steps, in order.",
				},
				"start_url": map[string]any{
					"type":        "string",
					"description": "The full URL of the page to start from.",
				},
			},
			"required": []string{"explanation", "start_url"},
		},
	}
}

// buildPlanRequest asks the model where to begin.
func buildPlanRequest() string {
	return "No starting page was provided. Decide where to begin and respond " +
		"with one task_plan tool call naming the start URL."
}

// recordPlan keeps the plan in the transcript so later turns can follow it.
func recordPlan(explanation string, steps []string) *types.Message {
	var b strings.Builder
	b.WriteString("Plan: ")
	b.WriteString(explanation)
	for i, step := range steps {
		b.WriteString(fmt.Sprintf("\n%d. %s", i+1, step))
	}
	return types.NewAssistantMessage(b.String())
}

// assessmentToolSpec grades the finished task.
func assessmentToolSpec() *llm.ToolSpec {
	return &llm.ToolSpec{
		Name:        "task_assessment",
		Description: "Report how completely the task was accomplished.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"quality": map[string]any{
					"type":        "string",
					"enum":        []string{"failed", "partial", "complete", "excellent"},
					"description": "failed: nothing useful happened. partial: some progress. complete: the task goal was met. excellent: met with all details verified.",
				},
				"summary": map[string]any{
					"type":        "string",
					"description": "One paragraph describing the outcome and any caveats.",
				},
			},
			"required": []string{"quality", "summary"},
		},
	}
}

// buildObservation assembles the per-iteration user message: the fresh
// snapshot, the previous action's result, and any recovery context.
func buildObservation(snapshot, lastResult, errorContext string) string {
	var b strings.Builder
	if errorContext != "" {
		b.WriteString("Previous action problem: ")
		b.WriteString(errorContext)
		b.WriteString("\n\n")
	}
	if lastResult != "" {
		b.WriteString("Previous action result: ")
		b.WriteString(lastResult)
		b.WriteString("\n\n")
	}
	b.WriteString("Current page snapshot:\n")
	b.WriteString(snapshot)
	b.WriteString("\nRespond with one browser_action tool call.")
	return b.String()
}

// buildAssessmentRequest asks for the final quality grade after done.
func buildAssessmentRequest(doneSummary string) string {
	return fmt.Sprintf("The agent declared the task done with this summary:\n%s\n\n"+
		"Review the conversation and grade the outcome with one task_assessment tool call.", doneSummary)
}

// recordAction keeps the transcript readable for later turns.
func recordAction(action *types.Action) *types.Message {
	return types.NewAssistantMessage("Action: " + action.String())
}
