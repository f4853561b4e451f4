package task

import (
	"context"
	"fmt"
)

// StrategyMetrics summarizes the persisted tasks of one task type.
type StrategyMetrics struct {
	TaskType       string
	Total          int
	ByStatus       map[string]int
	Completed      int
	Dead           int
	CompletionRate float64
	DeadRate       float64
	AvgRetries     float64
}

// GlobalMetrics aggregates metrics across all registered strategies.
type GlobalMetrics struct {
	TotalTasks     int
	Completed      int
	Dead           int
	CompletionRate float64
	ByType         map[string]*StrategyMetrics
}

// GetStrategyMetrics computes metrics for one task type by scanning its
// persisted tasks.
func (e *Engine) GetStrategyMetrics(ctx context.Context, taskType string) (*StrategyMetrics, error) {
	s, err := e.strategyFor(taskType)
	if err != nil {
		return nil, err
	}
	return e.computeStrategyMetrics(ctx, s)
}

// GetGlobalMetrics computes metrics for every registered strategy and
// combines them.
func (e *Engine) GetGlobalMetrics(ctx context.Context) (*GlobalMetrics, error) {
	e.mu.RLock()
	strategies := make([]Strategy, 0, len(e.strategies))
	for _, s := range e.strategies {
		strategies = append(strategies, s)
	}
	e.mu.RUnlock()

	global := &GlobalMetrics{
		ByType: make(map[string]*StrategyMetrics, len(strategies)),
	}
	for _, s := range strategies {
		metrics, err := e.computeStrategyMetrics(ctx, s)
		if err != nil {
			return nil, fmt.Errorf("metrics for %s: %w", s.TaskType(), err)
		}
		global.ByType[s.TaskType()] = metrics
		global.TotalTasks += metrics.Total
		global.Completed += metrics.Completed
		global.Dead += metrics.Dead
	}

	if global.TotalTasks > 0 {
		global.CompletionRate = float64(global.Completed) / float64(global.TotalTasks)
	}
	return global, nil
}

func (e *Engine) computeStrategyMetrics(ctx context.Context, s Strategy) (*StrategyMetrics, error) {
	tasks, err := e.store.GetTasksByType(ctx, s.TaskType())
	if err != nil {
		return nil, err
	}

	final := make(map[string]struct{})
	for _, state := range s.FinalStates() {
		final[string(state)] = struct{}{}
	}
	dead := string(s.DeadState())

	metrics := &StrategyMetrics{
		TaskType: s.TaskType(),
		ByStatus: make(map[string]int),
	}

	totalRetries := 0
	for _, t := range tasks {
		metrics.Total++
		metrics.ByStatus[t.Status]++
		totalRetries += t.Retries
		if _, ok := final[t.Status]; ok {
			metrics.Completed++
		}
		if dead != "" && t.Status == dead {
			metrics.Dead++
		}
	}

	// Guard all divisions: a type may have no tasks at all.
	if metrics.Total > 0 {
		metrics.CompletionRate = float64(metrics.Completed) / float64(metrics.Total)
		metrics.DeadRate = float64(metrics.Dead) / float64(metrics.Total)
		metrics.AvgRetries = float64(totalRetries) / float64(metrics.Total)
	}
	return metrics, nil
}
