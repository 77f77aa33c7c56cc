package task

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mozilla/pilo-sub005/pkg/llm"
	"github.com/mozilla/pilo-sub005/pkg/types"
)

type scriptedLLM struct {
	responses []*llm.Result
	requests  []*llm.Request
}

func (s *scriptedLLM) Generate(ctx context.Context, req *llm.Request) (*llm.Result, error) {
	s.requests = append(s.requests, req)
	i := len(s.requests) - 1
	if i >= len(s.responses) {
		i = len(s.responses) - 1
	}
	return s.responses[i], nil
}

func (s *scriptedLLM) GetModel() string   { return "test" }
func (s *scriptedLLM) GetBaseURL() string { return "http://test" }

func actionCall(args string) *llm.Result {
	return &llm.Result{ToolCall: &llm.ToolCall{Name: "browser_action", Arguments: args}}
}

func assessmentCall(quality, summary string) *llm.Result {
	return &llm.Result{ToolCall: &llm.ToolCall{
		Name:      "task_assessment",
		Arguments: `{"quality":"` + quality + `","summary":"` + summary + `"}`,
	}}
}

type fakeDriver struct {
	snapshot  string
	navErrs   []error
	navSeen   []time.Duration
	performed []types.Action
	results   []*types.ActionResult
	onPerform func(types.Action)
}

func (d *fakeDriver) Navigate(ctx context.Context, url string, timeout time.Duration) error {
	d.navSeen = append(d.navSeen, timeout)
	if len(d.navErrs) > 0 {
		err := d.navErrs[0]
		d.navErrs = d.navErrs[1:]
		return err
	}
	return nil
}

func (d *fakeDriver) Perform(ctx context.Context, action types.Action) (*types.ActionResult, error) {
	d.performed = append(d.performed, action)
	if d.onPerform != nil {
		d.onPerform(action)
	}
	if len(d.results) > 0 {
		r := d.results[0]
		d.results = d.results[1:]
		return r, nil
	}
	return &types.ActionResult{Success: true, Message: "ok"}, nil
}

func (d *fakeDriver) Snapshot(ctx context.Context) (string, error) {
	return d.snapshot, nil
}

const orchestratorSnapshot = "- button \"Search\" [ref=E1]\n"

func fastNavPolicy() NavRetryPolicy {
	return NavRetryPolicy{
		BaseTimeout: time.Millisecond,
		Multiplier:  2,
		MaxTimeout:  4 * time.Millisecond,
		MaxAttempts: 3,
	}
}

func TestOrchestratorHappyPath(t *testing.T) {
	provider := &scriptedLLM{responses: []*llm.Result{
		actionCall(`{"action":"click","ref":"E1"}`),
		actionCall(`{"action":"done","value":"found it"}`),
		assessmentCall("complete", "Search was performed"),
	}}
	driver := &fakeDriver{snapshot: orchestratorSnapshot}
	o := NewOrchestrator(provider, driver)

	outcome, err := o.Run(context.Background(), "run a search", "https://example.com")
	require.NoError(t, err)
	assert.Equal(t, StateDone, outcome.State)
	assert.Equal(t, QualityComplete, outcome.Quality)
	assert.Equal(t, "Search was performed", outcome.Summary)
	assert.Equal(t, 2, outcome.Iterations)

	require.Len(t, driver.performed, 1)
	assert.Equal(t, types.ActionClick, driver.performed[0].Kind)
	// One navigation: the start page.
	assert.Len(t, driver.navSeen, 1)
}

func TestOrchestratorPublishesLifecycleEvents(t *testing.T) {
	provider := &scriptedLLM{responses: []*llm.Result{
		actionCall(`{"action":"click","ref":"E1"}`),
		actionCall(`{"action":"done","value":"done"}`),
		assessmentCall("complete", "ok"),
	}}
	driver := &fakeDriver{snapshot: orchestratorSnapshot}

	bus := types.NewBus()
	seen := map[types.EventType]int{}
	bus.SubscribeAll(func(e *types.Event) { seen[e.Type]++ })

	o := NewOrchestrator(provider, driver, WithBus(bus))
	_, err := o.Run(context.Background(), "run a search", "https://example.com")
	require.NoError(t, err)

	assert.Equal(t, 1, seen[types.EventTaskStarted])
	assert.Equal(t, 2, seen[types.EventIteration])
	assert.Equal(t, 2, seen[types.EventSnapshotCaptured])
	assert.Equal(t, 1, seen[types.EventActionStarted])
	assert.Equal(t, 1, seen[types.EventActionCompleted])
	assert.Equal(t, 1, seen[types.EventTaskCompleted])
}

func TestOrchestratorRecoversFromInvalidRef(t *testing.T) {
	provider := &scriptedLLM{responses: []*llm.Result{
		actionCall(`{"action":"click","ref":"E9"}`),
		actionCall(`{"action":"click","ref":"E1"}`),
		actionCall(`{"action":"done","value":"ok"}`),
		assessmentCall("complete", "ok"),
	}}
	driver := &fakeDriver{snapshot: orchestratorSnapshot}
	o := NewOrchestrator(provider, driver)

	outcome, err := o.Run(context.Background(), "click search", "https://example.com")
	require.NoError(t, err)
	assert.Equal(t, StateDone, outcome.State)
	assert.Equal(t, 3, outcome.Iterations)

	// The second prompt carries the recovery context for the stale ref.
	require.GreaterOrEqual(t, len(provider.requests), 2)
	second := provider.requests[1].Messages
	assert.Contains(t, second[len(second)-1].Content, "E9")
	assert.Contains(t, second[len(second)-1].Content, "stale")
}

func TestOrchestratorRecoversFromActionFailure(t *testing.T) {
	provider := &scriptedLLM{responses: []*llm.Result{
		actionCall(`{"action":"click","ref":"E1"}`),
		actionCall(`{"action":"click","ref":"E1"}`),
		actionCall(`{"action":"done","value":"ok"}`),
		assessmentCall("complete", "ok"),
	}}
	driver := &fakeDriver{
		snapshot: orchestratorSnapshot,
		results:  []*types.ActionResult{{Success: false, Message: "blocked by overlay"}},
	}
	o := NewOrchestrator(provider, driver)

	outcome, err := o.Run(context.Background(), "click search", "https://example.com")
	require.NoError(t, err)
	assert.Equal(t, StateDone, outcome.State)

	second := provider.requests[1].Messages
	assert.Contains(t, second[len(second)-1].Content, "blocked by overlay")
}

func TestOrchestratorCircuitBreaker(t *testing.T) {
	provider := &scriptedLLM{responses: []*llm.Result{
		actionCall(`this is not json`),
	}}
	driver := &fakeDriver{snapshot: orchestratorSnapshot}
	o := NewOrchestrator(provider, driver)

	outcome, err := o.Run(context.Background(), "do something", "https://example.com")
	require.NoError(t, err)
	assert.Equal(t, StateAborted, outcome.State)
	assert.Equal(t, QualityFailed, outcome.Quality)
	assert.Contains(t, outcome.Summary, "circuit breaker")
	assert.Equal(t, maxConsecutiveErrors, outcome.Iterations)
	assert.Empty(t, driver.performed)
}

func TestOrchestratorIterationBudget(t *testing.T) {
	provider := &scriptedLLM{responses: []*llm.Result{
		actionCall(`{"action":"click","ref":"E1"}`),
	}}
	driver := &fakeDriver{snapshot: orchestratorSnapshot}
	o := NewOrchestrator(provider, driver, WithMaxIterations(2))

	outcome, err := o.Run(context.Background(), "click forever", "https://example.com")
	require.NoError(t, err)
	assert.Equal(t, StateFailed, outcome.State)
	assert.Equal(t, QualityPartial, outcome.Quality)
	assert.Equal(t, 2, outcome.Iterations)
}

func TestOrchestratorStartNavigationFailure(t *testing.T) {
	timeoutErr := NewNavigationTimeoutError("https://down.example", time.Millisecond, nil)
	driver := &fakeDriver{
		snapshot: orchestratorSnapshot,
		navErrs:  []error{timeoutErr, timeoutErr, timeoutErr},
	}
	provider := &scriptedLLM{responses: []*llm.Result{actionCall(`{"action":"done"}`)}}
	o := NewOrchestrator(provider, driver, WithNavRetryPolicy(fastNavPolicy()))

	outcome, err := o.Run(context.Background(), "anything", "https://down.example")
	require.NoError(t, err)
	assert.Equal(t, StateFailed, outcome.State)
	assert.Equal(t, QualityFailed, outcome.Quality)
	assert.Contains(t, outcome.Summary, "navigation unreachable")
	assert.Contains(t, outcome.Summary, "https://down.example")
	// All three escalating attempts were made and the model never saw a turn.
	assert.Len(t, driver.navSeen, 3)
	assert.Empty(t, provider.requests)
}

func TestOrchestratorUnreachableGotoAbortsRun(t *testing.T) {
	timeoutErr := NewNavigationTimeoutError("https://dead.example", time.Millisecond, nil)
	provider := &scriptedLLM{responses: []*llm.Result{
		actionCall(`{"action":"goto","value":"https://dead.example"}`),
	}}
	driver := &fakeDriver{
		snapshot: orchestratorSnapshot,
		navErrs:  []error{nil, timeoutErr, timeoutErr, timeoutErr},
	}
	o := NewOrchestrator(provider, driver, WithNavRetryPolicy(fastNavPolicy()))

	outcome, err := o.Run(context.Background(), "visit the dead page", "https://example.com")
	require.NoError(t, err)
	assert.Equal(t, StateAborted, outcome.State)
	assert.Contains(t, outcome.Summary, "navigation unreachable")
	// Start navigation plus the goto's exhausted retry schedule.
	assert.Len(t, driver.navSeen, 4)
}

func TestOrchestratorRoutesGotoThroughNavRetry(t *testing.T) {
	provider := &scriptedLLM{responses: []*llm.Result{
		actionCall(`{"action":"goto","value":"https://example.com/next"}`),
		actionCall(`{"action":"done","value":"ok"}`),
		assessmentCall("excellent", "all verified"),
	}}
	driver := &fakeDriver{
		snapshot: orchestratorSnapshot,
		navErrs:  []error{NewNavigationTimeoutError("https://example.com/next", time.Millisecond, nil)},
	}
	o := NewOrchestrator(provider, driver, WithNavRetryPolicy(fastNavPolicy()))

	outcome, err := o.Run(context.Background(), "go next", "https://example.com")
	require.NoError(t, err)
	assert.Equal(t, QualityExcellent, outcome.Quality)
	// goto is not a Perform call; the start navigation plus the timed out
	// attempt and its retry.
	assert.Empty(t, driver.performed)
	assert.Len(t, driver.navSeen, 3)
}

func TestOrchestratorCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	provider := &scriptedLLM{responses: []*llm.Result{actionCall(`{"action":"done"}`)}}
	driver := &fakeDriver{snapshot: orchestratorSnapshot}
	o := NewOrchestrator(provider, driver)

	outcome, err := o.Run(ctx, "anything", "https://example.com")
	require.NoError(t, err)
	assert.Equal(t, StateAborted, outcome.State)
	assert.Contains(t, outcome.Summary, "canceled")
	assert.Zero(t, outcome.Iterations)
}

func TestOrchestratorCancellationPreservesExtracted(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	provider := &scriptedLLM{responses: []*llm.Result{
		actionCall(`{"action":"extract"}`),
		actionCall(`{"action":"click","ref":"E1"}`),
	}}
	driver := &fakeDriver{
		snapshot: orchestratorSnapshot,
		results:  []*types.ActionResult{{Success: true, Message: "extracted", Extracted: "Price: $42"}},
	}
	// The run is canceled right after the extract lands.
	driver.onPerform = func(action types.Action) {
		if action.Kind == types.ActionExtract {
			cancel()
		}
	}
	o := NewOrchestrator(provider, driver)

	outcome, err := o.Run(ctx, "read the price", "https://example.com")
	require.NoError(t, err)
	assert.Equal(t, StateAborted, outcome.State)
	assert.Contains(t, outcome.Summary, "canceled")
	require.Len(t, outcome.Extracted, 1)
	assert.Equal(t, "Price: $42", outcome.Extracted[0])
}

func TestOrchestratorFlagsRecoveredConcatenatedActions(t *testing.T) {
	one := `{"action":"click","ref":"E1"}`
	provider := &scriptedLLM{responses: []*llm.Result{
		actionCall(one + one + one),
		actionCall(`{"action":"done","value":"ok"}`),
		assessmentCall("complete", "ok"),
	}}
	driver := &fakeDriver{snapshot: orchestratorSnapshot}
	o := NewOrchestrator(provider, driver)

	outcome, err := o.Run(context.Background(), "click the button", "https://example.com")
	require.NoError(t, err)
	assert.Equal(t, StateDone, outcome.State)
	// The first object was executed despite the duplication.
	require.Len(t, driver.performed, 1)
	assert.Equal(t, types.ActionClick, driver.performed[0].Kind)

	// The next prompt tells the model only one object was used.
	require.GreaterOrEqual(t, len(provider.requests), 2)
	joined := ""
	for _, m := range provider.requests[1].Messages {
		joined += m.Content + "\n"
	}
	assert.Contains(t, joined, "exactly one tool call")
}

func TestOrchestratorAssessmentFallback(t *testing.T) {
	// Garbage assessment output degrades to a partial grade with the done
	// summary, never an error.
	provider := &scriptedLLM{responses: []*llm.Result{
		actionCall(`{"action":"done","value":"finished the thing"}`),
		{Text: "no tool call here"},
	}}
	driver := &fakeDriver{snapshot: orchestratorSnapshot}
	o := NewOrchestrator(provider, driver)

	outcome, err := o.Run(context.Background(), "anything", "https://example.com")
	require.NoError(t, err)
	assert.Equal(t, StateDone, outcome.State)
	assert.Equal(t, QualityPartial, outcome.Quality)
	assert.Equal(t, "finished the thing", outcome.Summary)
}

func TestOrchestratorPlansStartURL(t *testing.T) {
	planCall := &llm.Result{ToolCall: &llm.ToolCall{
		Name:      "task_plan",
		Arguments: `{"explanation":"search from the homepage","steps":["open the site","search"],"start_url":"https://planned.example"}`,
	}}
	provider := &scriptedLLM{responses: []*llm.Result{
		planCall,
		actionCall(`{"action":"done","value":"ok"}`),
		assessmentCall("complete", "ok"),
	}}
	driver := &fakeDriver{snapshot: orchestratorSnapshot}
	o := NewOrchestrator(provider, driver)

	outcome, err := o.Run(context.Background(), "find the docs", "")
	require.NoError(t, err)
	assert.Equal(t, StateDone, outcome.State)

	// The plan's URL drove the start navigation.
	assert.Len(t, driver.navSeen, 1)
	require.GreaterOrEqual(t, len(provider.requests), 2)
	assert.Equal(t, "task_plan", provider.requests[0].Tool.Name)

	// Later turns see the recorded plan.
	second := provider.requests[1].Messages
	joined := ""
	for _, m := range second {
		joined += m.Content + "\n"
	}
	assert.Contains(t, joined, "search from the homepage")
	assert.Contains(t, joined, "1. open the site")
}

func TestOrchestratorPlanWithoutStartURLFails(t *testing.T) {
	planCall := &llm.Result{ToolCall: &llm.ToolCall{
		Name:      "task_plan",
		Arguments: `{"explanation":"no idea where to go"}`,
	}}
	provider := &scriptedLLM{responses: []*llm.Result{planCall}}
	driver := &fakeDriver{snapshot: orchestratorSnapshot}
	o := NewOrchestrator(provider, driver)

	_, err := o.Run(context.Background(), "find the docs", "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "start URL")
	assert.Empty(t, driver.navSeen)
}

func TestOrchestratorCollectsExtractedData(t *testing.T) {
	provider := &scriptedLLM{responses: []*llm.Result{
		actionCall(`{"action":"extract"}`),
		actionCall(`{"action":"done","value":"ok"}`),
		assessmentCall("complete", "ok"),
	}}
	driver := &fakeDriver{
		snapshot: orchestratorSnapshot,
		results:  []*types.ActionResult{{Success: true, Message: "extracted", Extracted: "Price: $42"}},
	}
	o := NewOrchestrator(provider, driver)

	outcome, err := o.Run(context.Background(), "read the price", "https://example.com")
	require.NoError(t, err)
	require.Len(t, outcome.Extracted, 1)
	assert.Equal(t, "Price: $42", outcome.Extracted[0])
}

func TestOrchestratorRejectedDoneReturnsToIterating(t *testing.T) {
	provider := &scriptedLLM{responses: []*llm.Result{
		actionCall(`{"action":"done","value":"half done"}`),
		assessmentCall("partial", "missing the second item"),
		actionCall(`{"action":"click","ref":"E1"}`),
		actionCall(`{"action":"done","value":"all done"}`),
		assessmentCall("complete", "both items handled"),
	}}
	driver := &fakeDriver{snapshot: orchestratorSnapshot}
	o := NewOrchestrator(provider, driver)

	outcome, err := o.Run(context.Background(), "handle both items", "https://example.com")
	require.NoError(t, err)
	assert.Equal(t, StateDone, outcome.State)
	assert.Equal(t, QualityComplete, outcome.Quality)
	assert.Equal(t, 3, outcome.Iterations)
	require.Len(t, driver.performed, 1)

	// The rejection reason reached the model before the retry.
	third := provider.requests[2].Messages
	joined := ""
	for _, m := range third {
		joined += m.Content + "\n"
	}
	assert.Contains(t, joined, "missing the second item")
}

func TestOrchestratorForcedAcceptanceAfterValidationBudget(t *testing.T) {
	provider := &scriptedLLM{responses: []*llm.Result{
		actionCall(`{"action":"done","value":"attempt 1"}`),
		assessmentCall("partial", "not quite"),
		actionCall(`{"action":"done","value":"attempt 2"}`),
		assessmentCall("partial", "still not quite"),
		actionCall(`{"action":"done","value":"attempt 3"}`),
		assessmentCall("partial", "accepted anyway"),
	}}
	driver := &fakeDriver{snapshot: orchestratorSnapshot}
	o := NewOrchestrator(provider, driver)

	outcome, err := o.Run(context.Background(), "anything", "https://example.com")
	require.NoError(t, err)
	// Two rejections spend the validation budget; the third declaration is
	// accepted with the judged grade.
	assert.Equal(t, StateDone, outcome.State)
	assert.Equal(t, QualityPartial, outcome.Quality)
	assert.Equal(t, "accepted anyway", outcome.Summary)
	assert.Equal(t, 3, outcome.Iterations)
}

func TestOrchestratorTotalErrorBudget(t *testing.T) {
	// Alternating failures and successes never trip the consecutive
	// breaker, but the run-wide budget still ends the task.
	var responses []*llm.Result
	for i := 0; i < maxTotalErrors; i++ {
		responses = append(responses,
			actionCall(`{"action":"click","ref":"E9"}`),
			actionCall(fmt.Sprintf(`{"action":"fill","ref":"E1","value":"entry %d"}`, i)),
		)
	}
	provider := &scriptedLLM{responses: responses}
	driver := &fakeDriver{snapshot: orchestratorSnapshot}
	o := NewOrchestrator(provider, driver, WithMaxIterations(3*maxTotalErrors))

	outcome, err := o.Run(context.Background(), "keep clicking", "https://example.com")
	require.NoError(t, err)
	assert.Equal(t, StateAborted, outcome.State)
	assert.Contains(t, outcome.Summary, "error budget exhausted")
	assert.Equal(t, 2*maxTotalErrors-1, outcome.Iterations)
}
