package task

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/mozilla/pilo-sub005/pkg/llm"
	"github.com/mozilla/pilo-sub005/pkg/logging"
	"github.com/mozilla/pilo-sub005/pkg/types"
)

// State is where the orchestrator is in its lifecycle.
type State string

const (
	StatePlanning   State = "planning"
	StateIterating  State = "iterating"
	StateValidating State = "validating"
	StateDone       State = "done"
	StateAborted    State = "aborted"
	StateFailed     State = "failed"
)

// Quality grades how well a finished task went.
type Quality string

const (
	QualityFailed    Quality = "failed"
	QualityPartial   Quality = "partial"
	QualityComplete  Quality = "complete"
	QualityExcellent Quality = "excellent"
)

// maxConsecutiveErrors is the circuit breaker: this many recoverable
// errors in a row without one successful action aborts the task.
const maxConsecutiveErrors = 5

// maxTotalErrors aborts a task that keeps limping along: recoverable
// errors across the whole run, regardless of successes in between.
const maxTotalErrors = 12

// maxValidationAttempts bounds how many times a rejected done declaration
// sends the task back to iterating before the answer is accepted anyway.
const maxValidationAttempts = 2

// defaultMaxIterations bounds the observe/act loop.
const defaultMaxIterations = 40

// Driver is the browser surface the orchestrator drives. Implementations
// translate actions into page interactions and report failures through the
// task error taxonomy so the loop can decide what is recoverable.
type Driver interface {
	// Navigate loads a URL, waiting up to timeout for the page to settle.
	// A load that does not settle returns a navigation timeout error.
	Navigate(ctx context.Context, url string, timeout time.Duration) error

	// Perform executes one validated action against the live page.
	Perform(ctx context.Context, action types.Action) (*types.ActionResult, error)

	// Snapshot captures the current page as ref-annotated outline text.
	Snapshot(ctx context.Context) (string, error)
}

// Outcome is the final report of one task run.
type Outcome struct {
	State      State
	Quality    Quality
	Summary    string
	Iterations int
	// Extracted accumulates everything extract actions pulled from pages.
	Extracted []string
}

// Orchestrator runs the task loop end to end: plan the entry navigation,
// iterate observe/act cycles, then validate the declared result.
type Orchestrator struct {
	provider llm.Provider
	driver   Driver
	bus      *types.Bus
	log      *logging.Logger

	maxIterations int
	tokenBudget   int
	retry         llm.RetryPolicy
	navRetry      NavRetryPolicy
	validator     Validator
}

// OrchestratorOption configures an orchestrator.
type OrchestratorOption func(*Orchestrator)

// WithBus sets the event bus task lifecycle events are published on.
func WithBus(bus *types.Bus) OrchestratorOption {
	return func(o *Orchestrator) { o.bus = bus }
}

// WithMaxIterations caps the number of observe/act cycles.
func WithMaxIterations(max int) OrchestratorOption {
	return func(o *Orchestrator) { o.maxIterations = max }
}

// WithTokenBudget caps the prompt size per generation.
func WithTokenBudget(budget int) OrchestratorOption {
	return func(o *Orchestrator) { o.tokenBudget = budget }
}

// WithRetryPolicy overrides the provider retry policy.
func WithRetryPolicy(policy llm.RetryPolicy) OrchestratorOption {
	return func(o *Orchestrator) { o.retry = policy }
}

// WithNavRetryPolicy overrides navigation timeout escalation.
func WithNavRetryPolicy(policy NavRetryPolicy) OrchestratorOption {
	return func(o *Orchestrator) { o.navRetry = policy }
}

// NewOrchestrator creates an orchestrator over the given provider and
// browser driver.
func NewOrchestrator(provider llm.Provider, driver Driver, opts ...OrchestratorOption) *Orchestrator {
	log, err := logging.NewLogger("task")
	if err != nil {
		log.Warnf("Failed to initialize task logger, using stderr fallback: %v", err)
	}

	o := &Orchestrator{
		provider:      provider,
		driver:        driver,
		bus:           types.NewBus(),
		log:           log,
		maxIterations: defaultMaxIterations,
		retry:         llm.DefaultRetryPolicy(),
		navRetry:      DefaultNavRetryPolicy(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Run executes the task starting from startURL and blocks until a terminal
// state. The returned error is non-nil only for infrastructure failures
// (provider down, browser gone, context canceled); a task the model could
// not complete is a normal Outcome with a low quality grade.
func (o *Orchestrator) Run(ctx context.Context, task, startURL string) (*Outcome, error) {
	taskID := uuid.New().String()
	o.log.Infof("task %s starting: %s", taskID, task)
	o.bus.Publish(types.NewTaskStartedEvent(taskID, task))

	conv := NewConversation(systemPrompt, "Task: "+task, o.tokenBudget)

	// Planning: reach the starting page before the model sees anything.
	// Without a caller-supplied start page, the model picks one.
	if startURL == "" {
		var err error
		startURL, err = o.plan(ctx, conv)
		if err != nil {
			o.bus.Publish(types.NewTaskCompletedEvent(taskID, false, err.Error()))
			return nil, err
		}
	}
	err := o.navRetry.Navigate(ctx, o.bus, taskID, startURL, func(ctx context.Context, timeout time.Duration) error {
		return o.driver.Navigate(ctx, startURL, timeout)
	})
	if err != nil {
		var terminal *TerminalError
		if errors.As(err, &terminal) {
			o.log.Warnf("task %s failed before the first iteration: %s", taskID, terminal.Reason)
			o.bus.Publish(types.NewTaskCompletedEvent(taskID, false, terminal.Reason))
			return &Outcome{State: StateFailed, Quality: QualityFailed, Summary: terminal.Reason}, nil
		}
		o.bus.Publish(types.NewTaskCompletedEvent(taskID, false, err.Error()))
		return nil, fmt.Errorf("failed to reach start page: %w", err)
	}

	outcome, err := o.iterate(ctx, taskID, conv)
	if err != nil {
		o.bus.Publish(types.NewTaskCompletedEvent(taskID, false, err.Error()))
		return nil, err
	}

	o.bus.Publish(types.NewTaskCompletedEvent(taskID, outcome.State == StateDone, outcome.Summary))
	o.log.Infof("task %s finished: state=%s quality=%s iterations=%d",
		taskID, outcome.State, outcome.Quality, outcome.Iterations)
	return outcome, nil
}

// plan asks the model for an upfront plan and returns its start URL. The
// plan itself stays in the transcript so later turns can follow it.
func (o *Orchestrator) plan(ctx context.Context, conv *Conversation) (string, error) {
	request := types.NewUserMessage(buildPlanRequest())
	result, err := llm.GenerateWithRetry(ctx, o.provider, &llm.Request{
		Messages: append(conv.Messages(), request),
		Tool:     planToolSpec(),
	}, o.retry)
	if err != nil {
		return "", fmt.Errorf("planning failed: %w", err)
	}
	if result.ToolCall == nil {
		return "", fmt.Errorf("planning failed: no task_plan call in response")
	}

	var plan struct {
		Explanation string   `json:"explanation"`
		Steps       []string `json:"steps"`
		StartURL    string   `json:"start_url"`
	}
	if err := json.Unmarshal([]byte(result.ToolCall.Arguments), &plan); err != nil {
		return "", fmt.Errorf("planning failed: malformed task_plan arguments: %w", err)
	}
	if plan.StartURL == "" {
		return "", fmt.Errorf("planning failed: task_plan named no start URL")
	}

	conv.Add(request)
	conv.Add(recordPlan(plan.Explanation, plan.Steps))
	return plan.StartURL, nil
}

// iterate is the observe/act loop. Recoverable errors become context for
// the next prompt; maxConsecutiveErrors of them in a row trips the breaker.
func (o *Orchestrator) iterate(ctx context.Context, taskID string, conv *Conversation) (*Outcome, error) {
	guard := NewRepetitionGuard()
	errorContext := ""
	lastResult := ""
	consecutiveErrors := 0
	totalErrors := 0
	validationAttempts := 0
	var extracted []string

	// abortReason returns a non-empty breaker message once either error
	// budget is spent.
	abortReason := func(err error) string {
		consecutiveErrors++
		totalErrors++
		if consecutiveErrors >= maxConsecutiveErrors {
			return fmt.Sprintf("circuit breaker triggered: %d consecutive errors, last: %v", consecutiveErrors, err)
		}
		if totalErrors >= maxTotalErrors {
			return fmt.Sprintf("error budget exhausted: %d errors over the whole run, last: %v", totalErrors, err)
		}
		return ""
	}

	// aborted resolves the run instead of surfacing an error: even a task
	// that dies keeps its partial progress.
	aborted := func(summary string, iterations int) *Outcome {
		o.bus.Publish(types.NewTaskAbortedEvent(taskID))
		return &Outcome{State: StateAborted, Quality: QualityFailed, Summary: summary, Iterations: iterations, Extracted: extracted}
	}

	for iteration := 1; iteration <= o.maxIterations; iteration++ {
		if err := ctx.Err(); err != nil {
			return aborted("canceled: "+err.Error(), iteration-1), nil
		}
		o.bus.Publish(types.NewIterationEvent(taskID, iteration))

		action, err := o.proposeAction(ctx, taskID, iteration, conv, errorContext, lastResult)
		if err != nil {
			var terminal *TerminalError
			if errors.As(err, &terminal) {
				o.log.Warnf("task %s aborted: %s", taskID, terminal.Reason)
				return aborted(terminal.Reason, iteration), nil
			}
			if isCancellation(err) {
				return aborted("canceled: "+err.Error(), iteration), nil
			}
			if !IsRecoverable(err) {
				return nil, err
			}

			if reason := abortReason(err); reason != "" {
				o.log.Warnf("task %s: %s", taskID, reason)
				return aborted(reason, iteration), nil
			}
			o.bus.Publish(types.NewValidationErrorEvent(taskID, iteration, []string{err.Error()}))
			errorContext = err.Error()
			lastResult = ""
			continue
		}
		observe := guard.Observe(action)
		if observe != nil {
			var terminal *TerminalError
			if errors.As(observe, &terminal) {
				return aborted(terminal.Reason, iteration), nil
			}
			errorContext = observe.Error()
			lastResult = ""
			continue
		}

		conv.Add(recordAction(action))

		if action.Kind == types.ActionDone {
			quality, summary, graded := o.assess(ctx, conv, action.Value)
			accepted := quality == QualityComplete || quality == QualityExcellent
			// A grade the model never delivered cannot send the task back.
			if accepted || !graded || validationAttempts >= maxValidationAttempts {
				return &Outcome{State: StateDone, Quality: quality, Summary: summary, Iterations: iteration, Extracted: extracted}, nil
			}
			validationAttempts++
			conv.Add(types.NewUserMessage(fmt.Sprintf(
				"The declared result was judged %s: %s\nThe task is not finished. Keep working and declare done again once it truly is.",
				quality, summary)))
			errorContext = ""
			lastResult = ""
			continue
		}

		result, err := o.performAction(ctx, taskID, iteration, action)
		if err != nil {
			var terminal *TerminalError
			if errors.As(err, &terminal) {
				o.log.Warnf("task %s aborted: %s", taskID, terminal.Reason)
				return aborted(terminal.Reason, iteration), nil
			}
			if isCancellation(err) {
				return aborted("canceled: "+err.Error(), iteration), nil
			}
			if !IsRecoverable(err) {
				return nil, err
			}
			if reason := abortReason(err); reason != "" {
				return aborted(reason, iteration), nil
			}
			errorContext = err.Error()
			lastResult = ""
			continue
		}

		consecutiveErrors = 0
		errorContext = ""
		lastResult = result.Message
		if result.Extracted != "" {
			extracted = append(extracted, result.Extracted)
			conv.Add(types.NewUserMessage("Extracted data:\n" + result.Extracted))
		}
	}

	summary := fmt.Sprintf("stopped after the %d iteration budget without a done action", o.maxIterations)
	return &Outcome{State: StateFailed, Quality: QualityPartial, Summary: summary, Iterations: o.maxIterations, Extracted: extracted}, nil
}

// proposeAction captures a snapshot, asks the model for the next action,
// and validates it against that snapshot.
func (o *Orchestrator) proposeAction(ctx context.Context, taskID string, iteration int, conv *Conversation, errorContext, lastResult string) (*types.Action, error) {
	snapshot, err := o.driver.Snapshot(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to capture snapshot: %w", err)
	}
	o.bus.Publish(types.NewSnapshotCapturedEvent(taskID, iteration, len(snapshot)))

	observation := types.NewUserMessage(buildObservation(snapshot, lastResult, errorContext))
	result, err := llm.GenerateWithRetry(ctx, o.provider, &llm.Request{
		Messages: append(conv.Messages(), observation),
		Tool:     ActionToolSpec(),
	}, o.retry)
	if err != nil {
		o.bus.Publish(types.NewGenerationErrorEvent(taskID, err))
		return nil, fmt.Errorf("generation failed: %w", err)
	}
	conv.Add(observation)

	action, recovered, err := ParseAction(result.ToolCall)
	if err != nil {
		return nil, err
	}
	if recovered {
		// The model emitted several concatenated or prose-wrapped objects;
		// only the first was kept, and the model is told so.
		conv.Add(types.NewUserMessage("Only the first complete action object in the previous response was used. " +
			"Respond with exactly one tool call containing one JSON object."))
	}
	if err := o.validator.Validate(action, snapshot); err != nil {
		return nil, err
	}
	return action, nil
}

// isCancellation reports whether err came from the run's context ending.
func isCancellation(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

// performAction runs the action, routing goto through navigation retry so
// slow page loads escalate their timeout instead of failing outright.
func (o *Orchestrator) performAction(ctx context.Context, taskID string, iteration int, action *types.Action) (*types.ActionResult, error) {
	o.bus.Publish(types.NewActionStartedEvent(taskID, iteration, *action))

	var result *types.ActionResult
	var err error
	if action.Kind == types.ActionGoto {
		err = o.navRetry.Navigate(ctx, o.bus, taskID, action.Value, func(ctx context.Context, timeout time.Duration) error {
			return o.driver.Navigate(ctx, action.Value, timeout)
		})
		if err == nil {
			result = &types.ActionResult{Success: true, Message: "navigated to " + action.Value}
		}
	} else {
		result, err = o.driver.Perform(ctx, *action)
	}
	if err != nil {
		o.log.Warnf("task %s action %s failed: %v", taskID, action, err)
		return nil, err
	}

	o.bus.Publish(types.NewActionCompletedEvent(taskID, iteration, *action, result))
	if !result.Success {
		return nil, NewToolExecutionFailedError(action.String(), result.Message)
	}
	return result, nil
}

// assess asks the model to grade the finished task. Grading failures never
// fail a task that already ran: they degrade to a partial grade with the
// model's own done summary and graded=false so the caller accepts the
// answer instead of re-iterating.
func (o *Orchestrator) assess(ctx context.Context, conv *Conversation, doneSummary string) (quality Quality, summary string, graded bool) {
	request := types.NewUserMessage(buildAssessmentRequest(doneSummary))
	result, err := llm.GenerateWithRetry(ctx, o.provider, &llm.Request{
		Messages: append(conv.Messages(), request),
		Tool:     assessmentToolSpec(),
	}, o.retry)
	if err != nil || result.ToolCall == nil {
		return QualityPartial, doneSummary, false
	}

	var assessment struct {
		Quality string `json:"quality"`
		Summary string `json:"summary"`
	}
	if err := json.Unmarshal([]byte(result.ToolCall.Arguments), &assessment); err != nil {
		return QualityPartial, doneSummary, false
	}

	switch Quality(assessment.Quality) {
	case QualityFailed, QualityPartial, QualityComplete, QualityExcellent:
		summary = assessment.Summary
		if summary == "" {
			summary = doneSummary
		}
		return Quality(assessment.Quality), summary, true
	default:
		return QualityPartial, doneSummary, false
	}
}
