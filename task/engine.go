package task

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"
	"github.com/poiesic/docsync/core"
	"github.com/poiesic/docsync/storage"
)

// Engine is the registry of task strategies. It creates tasks, dispatches
// transitions and execution to the owning strategy, aggregates metrics,
// batch-processes tasks and reaps expired terminal tasks.
//
// Task execution is single-threaded per task: callers must not invoke
// ExecuteTask or TransitionState concurrently for the same task ID. The
// engine may run distinct tasks in parallel waves.
type Engine struct {
	store      storage.TaskStore
	strategies map[string]Strategy
	mu         sync.RWMutex
	logger     *slog.Logger
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) EngineOption {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// NewEngine creates an engine backed by the given task store.
func NewEngine(store storage.TaskStore, opts ...EngineOption) (*Engine, error) {
	if store == nil {
		return nil, fmt.Errorf("task store required")
	}
	e := &Engine{
		store:      store,
		strategies: make(map[string]Strategy),
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.logger.With("component", "task-engine")
	return e, nil
}

// RegisterStrategy registers one strategy per task type.
// Re-registering the same type fails.
func (e *Engine) RegisterStrategy(s Strategy) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	taskType := s.TaskType()
	if _, exists := e.strategies[taskType]; exists {
		return fmt.Errorf("%w: %s", ErrStrategyRegistered, taskType)
	}
	e.strategies[taskType] = s
	e.logger.Info("strategy registered", "taskType", taskType)
	return nil
}

// strategyFor resolves the strategy owning a task type.
func (e *Engine) strategyFor(taskType string) (Strategy, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	s, ok := e.strategies[taskType]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrStrategyNotFound, taskType)
	}
	return s, nil
}

// GetTask retrieves a task by ID.
func (e *Engine) GetTask(ctx context.Context, id string) (*core.Task, error) {
	return e.store.GetTask(ctx, id)
}

// CreateTask creates a task of the given type.
// Fails with ErrTaskExists if the ID is taken; the existing task is untouched.
func (e *Engine) CreateTask(ctx context.Context, taskType, id string, initialContext map[string]string) (*core.Task, error) {
	s, err := e.strategyFor(taskType)
	if err != nil {
		return nil, err
	}
	return s.CreateTask(ctx, id, initialContext)
}

// TransitionState applies an event to a task, delegating to the owning
// strategy. Returns false on any failure; errors are logged, not returned,
// to keep external callers simple.
func (e *Engine) TransitionState(ctx context.Context, id string, event Event, eventContext map[string]string) bool {
	t, err := e.store.GetTask(ctx, id)
	if err != nil {
		e.logger.Error("transition failed: task lookup", "task", id, "event", event, "err", err)
		return false
	}
	s, err := e.strategyFor(t.TaskType)
	if err != nil {
		e.logger.Error("transition failed: strategy lookup", "task", id, "taskType", t.TaskType, "err", err)
		return false
	}
	if err := s.HandleTransition(ctx, id, event, eventContext); err != nil {
		e.logger.Error("transition failed", "task", id, "event", event, "err", err)
		return false
	}
	return true
}

// ExecuteTask runs a task's pipeline. On failure the owning strategy's
// HandleError records the failure (leaving the task failed or retry-eligible)
// and the original error is returned to the caller.
func (e *Engine) ExecuteTask(ctx context.Context, id string) error {
	t, err := e.store.GetTask(ctx, id)
	if err != nil {
		return err
	}
	s, err := e.strategyFor(t.TaskType)
	if err != nil {
		return err
	}

	if err := s.ExecuteTask(ctx, id); err != nil {
		if handleErr := s.HandleError(ctx, id, err); handleErr != nil {
			e.logger.Error("error handling failed", "task", id, "err", handleErr)
		}
		return fmt.Errorf("execute task %s: %w", id, err)
	}
	return nil
}

// TaskSpec describes one task in a batch creation request.
type TaskSpec struct {
	TaskType string
	Id       string
	Context  map[string]string
}

// CreateTasks creates tasks in bulk. A single task's failure is isolated
// and logged; the remaining specs are still processed. Returns the tasks
// that were created.
func (e *Engine) CreateTasks(ctx context.Context, specs []TaskSpec) []*core.Task {
	created := make([]*core.Task, 0, len(specs))
	for _, spec := range specs {
		t, err := e.CreateTask(ctx, spec.TaskType, spec.Id, spec.Context)
		if err != nil {
			e.logger.Error("batch create: task failed", "task", spec.Id, "err", err)
			continue
		}
		created = append(created, t)
	}
	return created
}

// BatchResult reports the outcome of a batch execution.
type BatchResult struct {
	Succeeded []string
	Failed    []string
}

// ExecuteTasks executes distinct tasks in bounded-concurrency waves.
// A single task's failure is isolated (logged) and does not abort the wave.
func (e *Engine) ExecuteTasks(ctx context.Context, ids []string, concurrency int) (*BatchResult, error) {
	if concurrency < 1 {
		concurrency = 1
	}

	pool, err := ants.NewPool(concurrency)
	if err != nil {
		return nil, err
	}
	defer pool.Release()

	var (
		mu     sync.Mutex
		result BatchResult
		wg     sync.WaitGroup
	)

	for _, id := range ids {
		id := id
		wg.Add(1)
		submitErr := pool.Submit(func() {
			defer wg.Done()
			if err := e.ExecuteTask(ctx, id); err != nil {
				e.logger.Error("batch execute: task failed", "task", id, "err", err)
				mu.Lock()
				result.Failed = append(result.Failed, id)
				mu.Unlock()
				return
			}
			mu.Lock()
			result.Succeeded = append(result.Succeeded, id)
			mu.Unlock()
		})
		if submitErr != nil {
			wg.Done()
			e.logger.Error("batch execute: submit failed", "task", id, "err", submitErr)
			mu.Lock()
			result.Failed = append(result.Failed, id)
			mu.Unlock()
		}
	}

	wg.Wait()
	return &result, nil
}

// CleanupExpiredTasks deletes tasks across all registered types whose status
// is terminal and whose UpdatedAt is older than olderThan.
// Returns the count deleted.
func (e *Engine) CleanupExpiredTasks(ctx context.Context, olderThan time.Time) (int, error) {
	e.mu.RLock()
	strategies := make([]Strategy, 0, len(e.strategies))
	for _, s := range e.strategies {
		strategies = append(strategies, s)
	}
	e.mu.RUnlock()

	total := 0
	for _, s := range strategies {
		terminal := make([]string, 0)
		for _, state := range s.TerminalStates() {
			terminal = append(terminal, string(state))
		}
		deleted, err := e.store.CleanupExpiredTasks(ctx, s.TaskType(), terminal, olderThan)
		if err != nil {
			return total, err
		}
		total += deleted
	}
	if total > 0 {
		e.logger.Info("expired tasks reaped", "count", total)
	}
	return total, nil
}
