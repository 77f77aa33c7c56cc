package types

import "sync"

// EventType defines the type of lifecycle event emitted while running a task.
type EventType string

const (
	EventTaskStarted      EventType = "task_started"      // EventTaskStarted indicates a task has begun planning.
	EventTaskCompleted    EventType = "task_completed"    // EventTaskCompleted indicates a task finished (successfully or not).
	EventTaskAborted      EventType = "task_aborted"      // EventTaskAborted indicates a task was canceled.
	EventIteration        EventType = "iteration"         // EventIteration marks the start of one observe/act cycle.
	EventActionStarted    EventType = "action_started"    // EventActionStarted indicates a validated action is about to run.
	EventActionCompleted  EventType = "action_completed"  // EventActionCompleted indicates an action finished executing.
	EventValidationError  EventType = "validation_error"  // EventValidationError indicates a proposed action failed validation.
	EventNavigationRetry  EventType = "navigation_retry"  // EventNavigationRetry indicates a navigation attempt timed out and will be retried.
	EventGenerationError  EventType = "generation_error"  // EventGenerationError indicates the generation capability returned an error.
	EventSnapshotCaptured EventType = "snapshot_captured" // EventSnapshotCaptured indicates a fresh page snapshot was taken.
)

// Event is one lifecycle notification. Only the fields relevant to its Type
// are populated.
type Event struct {
	Type      EventType
	TaskID    string
	Iteration int
	Action    *Action
	Result    *ActionResult
	Error     error
	// Detail carries free-form context: validation messages, retry timing,
	// snapshot sizes.
	Detail map[string]interface{}
}

// NewTaskStartedEvent creates a task started event.
func NewTaskStartedEvent(taskID, task string) *Event {
	return &Event{Type: EventTaskStarted, TaskID: taskID, Detail: map[string]interface{}{"task": task}}
}

// NewTaskCompletedEvent creates a task completed event.
func NewTaskCompletedEvent(taskID string, success bool, reason string) *Event {
	return &Event{Type: EventTaskCompleted, TaskID: taskID, Detail: map[string]interface{}{"success": success, "reason": reason}}
}

// NewTaskAbortedEvent creates a task aborted event.
func NewTaskAbortedEvent(taskID string) *Event {
	return &Event{Type: EventTaskAborted, TaskID: taskID}
}

// NewIterationEvent creates a per-iteration step event.
func NewIterationEvent(taskID string, iteration int) *Event {
	return &Event{Type: EventIteration, TaskID: taskID, Iteration: iteration}
}

// NewActionStartedEvent creates an action started event.
func NewActionStartedEvent(taskID string, iteration int, action Action) *Event {
	a := action
	return &Event{Type: EventActionStarted, TaskID: taskID, Iteration: iteration, Action: &a}
}

// NewActionCompletedEvent creates an action completed event.
func NewActionCompletedEvent(taskID string, iteration int, action Action, result *ActionResult) *Event {
	a := action
	return &Event{Type: EventActionCompleted, TaskID: taskID, Iteration: iteration, Action: &a, Result: result}
}

// NewValidationErrorEvent creates a validation error event.
func NewValidationErrorEvent(taskID string, iteration int, messages []string) *Event {
	return &Event{Type: EventValidationError, TaskID: taskID, Iteration: iteration, Detail: map[string]interface{}{"messages": messages}}
}

// NewNavigationRetryEvent creates a navigation retry event.
func NewNavigationRetryEvent(taskID, url string, attempt int, timeoutMs float64) *Event {
	return &Event{Type: EventNavigationRetry, TaskID: taskID, Detail: map[string]interface{}{
		"url": url, "attempt": attempt, "timeout_ms": timeoutMs,
	}}
}

// NewGenerationErrorEvent creates a generation error event.
func NewGenerationErrorEvent(taskID string, err error) *Event {
	return &Event{Type: EventGenerationError, TaskID: taskID, Error: err}
}

// NewSnapshotCapturedEvent creates a snapshot captured event. size is the
// length of the snapshot text the model will see, after any compression.
func NewSnapshotCapturedEvent(taskID string, iteration, size int) *Event {
	return &Event{Type: EventSnapshotCaptured, TaskID: taskID, Iteration: iteration, Detail: map[string]interface{}{
		"size": size,
	}}
}

// Subscriber receives events. Delivery is fire-and-forget: a panicking
// subscriber is isolated and never fails the publishing task.
type Subscriber func(*Event)

// Bus is an in-process pub/sub channel for task lifecycle events.
// Subscribers register for specific event types or for everything.
type Bus struct {
	mu       sync.RWMutex
	byType   map[EventType][]Subscriber
	wildcard []Subscriber
}

// NewBus creates an empty event bus.
func NewBus() *Bus {
	return &Bus{byType: make(map[EventType][]Subscriber)}
}

// Subscribe registers fn for the given event types.
func (b *Bus) Subscribe(fn Subscriber, eventTypes ...EventType) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, et := range eventTypes {
		b.byType[et] = append(b.byType[et], fn)
	}
}

// SubscribeAll registers fn for every event type, present and future.
func (b *Bus) SubscribeAll(fn Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.wildcard = append(b.wildcard, fn)
}

// Publish delivers the event to all matching subscribers synchronously.
// A nil event is ignored. Subscriber panics are swallowed.
func (b *Bus) Publish(event *Event) {
	if event == nil {
		return
	}
	b.mu.RLock()
	subs := make([]Subscriber, 0, len(b.byType[event.Type])+len(b.wildcard))
	subs = append(subs, b.byType[event.Type]...)
	subs = append(subs, b.wildcard...)
	b.mu.RUnlock()

	for _, fn := range subs {
		deliver(fn, event)
	}
}

func deliver(fn Subscriber, event *Event) {
	defer func() {
		_ = recover() // subscriber failures must not reach the task
	}()
	fn(event)
}
