package task

import (
	"context"

	"github.com/poiesic/docsync/core"
)

// State is a task status declared by a strategy.
type State string

// Event triggers a transition between states.
type Event string

// Events with framework-level semantics. Strategies declare transitions for
// them like any other event; the strategy base additionally maintains retry
// bookkeeping when they fire.
const (
	// EventError moves a task into its failure state.
	EventError Event = "ERROR"

	// EventRetry re-enters processing. Gated by retries < maxRetries;
	// firing it increments the retry counter.
	EventRetry Event = "RETRY"

	// EventRetriesExceeded dead-letters a task whose retry budget is spent.
	EventRetriesExceeded Event = "RETRIES_EXCEEDED"

	// EventCancel cooperatively cancels a task, where declared.
	EventCancel Event = "CANCEL"
)

// ContextKeyError is the task context key carrying the last failure message.
const ContextKeyError = "errorMessage"

// Transition is a legal (state, event) -> state rule, optionally guarded and
// hooked. The set of (From, Event) pairs across a strategy's table must be
// unique; ambiguity is a configuration error, not a runtime choice.
type Transition struct {
	From  State
	To    State
	Event Event

	// Condition, if set, is evaluated against the task with the event
	// context already merged. A false result refuses the transition.
	Condition func(task *core.Task) bool

	// BeforeHook runs before any state is persisted. An error aborts the
	// transition with no mutation.
	BeforeHook func(ctx context.Context, task *core.Task) error

	// Action runs after the new state is persisted.
	Action func(ctx context.Context, task *core.Task) error

	// AfterHook runs after Action.
	AfterHook func(ctx context.Context, task *core.Task) error
}

// transitionKey identifies a transition row by its (from, event) pair.
type transitionKey struct {
	from  State
	event Event
}
