package task

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/poiesic/docsync/core"
	"github.com/poiesic/docsync/storage"
)

// Strategy owns one task type: its transition table, its states and its
// pipeline-specific execution.
type Strategy interface {
	// TaskType returns the task type this strategy owns.
	TaskType() string

	// InitialState returns the state new tasks are created in.
	InitialState() State

	// TerminalStates returns every state the reaper may delete from:
	// successful finals, the dead state, and cancelled.
	TerminalStates() []State

	// FinalStates returns the successful terminal states.
	FinalStates() []State

	// DeadState returns the terminal failure state, or "" if the strategy
	// does not dead-letter.
	DeadState() State

	// CreateTask persists a new task in the initial state.
	CreateTask(ctx context.Context, id string, initialContext map[string]string) (*core.Task, error)

	// HandleTransition applies an event to the task, per the transition table.
	HandleTransition(ctx context.Context, id string, event Event, eventContext map[string]string) error

	// ExecuteTask runs the strategy's pipeline for the task until it reaches
	// a final state or fails.
	ExecuteTask(ctx context.Context, id string) error

	// HandleError records a task execution failure, leaving the task in its
	// failure state or a retry-eligible state.
	HandleError(ctx context.Context, id string, execErr error) error
}

// BaseConfig declares a strategy's state machine.
type BaseConfig struct {
	TaskType     string
	InitialState State
	// FinalStates are the successful terminal states.
	FinalStates []State
	// DeadState is the terminal failure state, if the strategy dead-letters.
	DeadState State
	// CancelledState is the cooperative-cancel terminal state, if declared.
	CancelledState State
	// MaxRetries bounds the RETRY event. Zero means no retries.
	MaxRetries  int
	Transitions []Transition
}

// Base implements the generic half of a Strategy: table-driven transition
// validation, persistence, retry bookkeeping and logging. Concrete strategies
// embed it and add ExecuteTask/HandleError.
type Base struct {
	taskType       string
	initialState   State
	finalStates    map[State]struct{}
	deadState      State
	cancelledState State
	maxRetries     int
	states         map[State]struct{}
	transitions    map[transitionKey]*Transition
	store          storage.TaskStore
	logger         *slog.Logger
}

// NewBase builds the generic strategy base and validates the transition table.
//
// Validation rules:
//   - every (from, event) pair is unique
//   - every state reachable from the initial state can reach a final state,
//     the dead state, or the cancelled state (conditions are ignored for
//     reachability, which makes bounded retry cycles legal)
func NewBase(config BaseConfig, store storage.TaskStore, logger *slog.Logger) (*Base, error) {
	if config.TaskType == "" {
		return nil, fmt.Errorf("task type required")
	}
	if store == nil {
		return nil, fmt.Errorf("task store required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	b := &Base{
		taskType:       config.TaskType,
		initialState:   config.InitialState,
		finalStates:    make(map[State]struct{}, len(config.FinalStates)),
		deadState:      config.DeadState,
		cancelledState: config.CancelledState,
		maxRetries:     config.MaxRetries,
		states:         make(map[State]struct{}),
		transitions:    make(map[transitionKey]*Transition, len(config.Transitions)),
		store:          store,
		logger:         logger.With("strategy", config.TaskType),
	}

	for _, s := range config.FinalStates {
		b.finalStates[s] = struct{}{}
	}

	b.states[config.InitialState] = struct{}{}
	for i := range config.Transitions {
		tr := config.Transitions[i]
		key := transitionKey{from: tr.From, event: tr.Event}
		if _, exists := b.transitions[key]; exists {
			return nil, fmt.Errorf("%w: (%s, %s)", ErrAmbiguousTransition, tr.From, tr.Event)
		}
		b.transitions[key] = &tr
		b.states[tr.From] = struct{}{}
		b.states[tr.To] = struct{}{}
	}

	if err := b.validateReachability(); err != nil {
		return nil, err
	}

	return b, nil
}

// TaskType returns the task type this strategy owns.
func (b *Base) TaskType() string { return b.taskType }

// InitialState returns the state new tasks are created in.
func (b *Base) InitialState() State { return b.initialState }

// MaxRetries returns the retry ceiling for the RETRY event.
func (b *Base) MaxRetries() int { return b.maxRetries }

// Store returns the task store backing this strategy.
func (b *Base) Store() storage.TaskStore { return b.store }

// Logger returns the strategy-tagged logger.
func (b *Base) Logger() *slog.Logger { return b.logger }

// TerminalStates returns the reap-eligible states.
func (b *Base) TerminalStates() []State {
	states := make([]State, 0, len(b.finalStates)+2)
	for s := range b.finalStates {
		states = append(states, s)
	}
	if b.deadState != "" {
		states = append(states, b.deadState)
	}
	if b.cancelledState != "" {
		states = append(states, b.cancelledState)
	}
	return states
}

// FinalStates returns the successful terminal states.
func (b *Base) FinalStates() []State {
	states := make([]State, 0, len(b.finalStates))
	for s := range b.finalStates {
		states = append(states, s)
	}
	return states
}

// DeadState returns the terminal failure state, or "" if none is declared.
func (b *Base) DeadState() State { return b.deadState }

// IsFinalState reports whether the state is a successful terminal state.
func (b *Base) IsFinalState(s State) bool {
	_, ok := b.finalStates[s]
	return ok
}

// IsDeclaredState reports whether the state appears in the transition table.
func (b *Base) IsDeclaredState(s State) bool {
	_, ok := b.states[s]
	return ok
}

// CanRetry reports whether the task still has retry budget.
// Evaluated fresh on every call; never cached.
func (b *Base) CanRetry(task *core.Task) bool {
	return task.Retries < b.maxRetries
}

// CreateTask persists a new task in the initial state.
// Fails with ErrTaskExists if the ID is taken; the existing task is untouched.
func (b *Base) CreateTask(ctx context.Context, id string, initialContext map[string]string) (*core.Task, error) {
	now := time.Now().UTC()
	t := &core.Task{
		Id:        id,
		TaskType:  b.taskType,
		Status:    string(b.initialState),
		Context:   initialContext,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := b.store.SaveTask(ctx, t); err != nil {
		if err == storage.ErrDuplicateKey {
			return nil, fmt.Errorf("%w: %s", ErrTaskExists, id)
		}
		return nil, err
	}
	b.logger.Info("task created", "task", id, "state", b.initialState)
	return t, nil
}

// HandleTransition applies an event to the task.
//
// Order of operations:
//  1. find the transition row for (currentState, event); none refuses
//  2. evaluate Condition against the task with eventContext merged
//  3. run BeforeHook (an error aborts before any mutation)
//  4. persist the new status and merged context
//  5. run Action, then AfterHook
//
// Failures in step 5 happen after the persist and cannot be rolled back;
// actions are expected to be idempotent under re-execution.
func (b *Base) HandleTransition(ctx context.Context, id string, event Event, eventContext map[string]string) error {
	t, err := b.store.GetTask(ctx, id)
	if err != nil {
		return err
	}

	from := State(t.Status)
	tr, ok := b.transitions[transitionKey{from: from, event: event}]
	if !ok {
		b.logger.Warn("transition refused: no rule", "task", id, "state", from, "event", event)
		return fmt.Errorf("%w: no rule for (%s, %s)", ErrInvalidTransition, from, event)
	}

	// Evaluate against a merged view without mutating stored state.
	candidate := t.Clone()
	candidate.MergeContext(eventContext)

	if tr.Condition != nil && !tr.Condition(candidate) {
		b.logger.Warn("transition refused: condition false", "task", id, "state", from, "event", event)
		return fmt.Errorf("%w: condition refused (%s, %s)", ErrInvalidTransition, from, event)
	}

	if tr.BeforeHook != nil {
		if err := tr.BeforeHook(ctx, candidate); err != nil {
			return fmt.Errorf("before hook: %w", err)
		}
	}

	update := storage.TaskUpdate{Context: eventContext}
	status := string(tr.To)
	update.Status = &status

	b.applyEventBookkeeping(t, event, eventContext, &update)

	if b.isTerminal(tr.To) {
		now := time.Now().UTC()
		update.CompletedAt = &now
		if b.IsFinalState(tr.To) {
			full := 100
			update.Progress = &full
		}
	}

	updated, err := b.store.UpdateTask(ctx, id, update)
	if err != nil {
		return err
	}
	b.logger.Info("transition applied", "task", id, "from", from, "to", tr.To, "event", event)

	if tr.Action != nil {
		if err := tr.Action(ctx, updated); err != nil {
			return fmt.Errorf("action after (%s, %s): %w", from, event, err)
		}
	}
	if tr.AfterHook != nil {
		if err := tr.AfterHook(ctx, updated); err != nil {
			return fmt.Errorf("after hook (%s, %s): %w", from, event, err)
		}
	}
	return nil
}

// applyEventBookkeeping maintains retry and error fields for the
// framework-level events.
func (b *Base) applyEventBookkeeping(t *core.Task, event Event, eventContext map[string]string, update *storage.TaskUpdate) {
	switch event {
	case EventRetry:
		retries := t.Retries + 1
		now := time.Now().UTC()
		update.Retries = &retries
		update.LastAttemptAt = &now
	case EventError:
		if msg, ok := eventContext[ContextKeyError]; ok {
			update.Error = &msg
		}
	}
}

func (b *Base) isTerminal(s State) bool {
	if b.IsFinalState(s) {
		return true
	}
	return (b.deadState != "" && s == b.deadState) ||
		(b.cancelledState != "" && s == b.cancelledState)
}

// validateReachability checks that every declared state can reach a terminal
// state through the transition table.
func (b *Base) validateReachability() error {
	terminal := make(map[State]struct{})
	for s := range b.finalStates {
		terminal[s] = struct{}{}
	}
	if b.deadState != "" {
		terminal[b.deadState] = struct{}{}
	}
	if b.cancelledState != "" {
		terminal[b.cancelledState] = struct{}{}
	}

	// canFinish: states with a path to a terminal state. Fixed point over
	// the (small) table.
	canFinish := make(map[State]struct{}, len(terminal))
	for s := range terminal {
		canFinish[s] = struct{}{}
	}
	for changed := true; changed; {
		changed = false
		for key, tr := range b.transitions {
			if _, done := canFinish[key.from]; done {
				continue
			}
			if _, ok := canFinish[tr.To]; ok {
				canFinish[key.from] = struct{}{}
				changed = true
			}
		}
	}

	for s := range b.states {
		if _, ok := canFinish[s]; !ok {
			return fmt.Errorf("%w: %s", ErrUnreachableFinalState, s)
		}
	}
	return nil
}
