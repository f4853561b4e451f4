package task

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/poiesic/docsync/storage"
)

// stubStrategy wires a Base to injectable execution behavior.
type stubStrategy struct {
	*Base
	executeFunc func(ctx context.Context, id string) error
	handled     atomic.Int32
}

func (s *stubStrategy) ExecuteTask(ctx context.Context, id string) error {
	if s.executeFunc != nil {
		return s.executeFunc(ctx, id)
	}
	return s.HandleTransition(ctx, id, "GO", nil)
}

func (s *stubStrategy) HandleError(ctx context.Context, id string, execErr error) error {
	s.handled.Add(1)
	return nil
}

func newStubStrategy(t *testing.T, store storage.TaskStore) *stubStrategy {
	t.Helper()
	base, err := NewBase(testConfig(1), store, nil)
	require.NoError(t, err)
	return &stubStrategy{Base: base}
}

func TestEngine_RegisterStrategy(t *testing.T) {
	store := newTestStore(t)
	engine, err := NewEngine(store)
	require.NoError(t, err)

	s := newStubStrategy(t, store)
	require.NoError(t, engine.RegisterStrategy(s))

	t.Run("duplicate registration fails", func(t *testing.T) {
		err := engine.RegisterStrategy(s)
		require.ErrorIs(t, err, ErrStrategyRegistered)
	})

	t.Run("unknown type is refused", func(t *testing.T) {
		_, err := engine.CreateTask(context.Background(), "nope", "t1", nil)
		require.ErrorIs(t, err, ErrStrategyNotFound)
	})
}

func TestEngine_CreateAndExecute(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	engine, err := NewEngine(store)
	require.NoError(t, err)
	s := newStubStrategy(t, store)
	require.NoError(t, engine.RegisterStrategy(s))

	created, err := engine.CreateTask(ctx, "test_work", "t1", nil)
	require.NoError(t, err)
	assert.Equal(t, "START", created.Status)

	require.NoError(t, engine.ExecuteTask(ctx, "t1"))

	got, err := engine.GetTask(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, "DONE", got.Status)
}

func TestEngine_ExecuteTask_FailureInvokesErrorHandling(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	engine, err := NewEngine(store)
	require.NoError(t, err)

	s := newStubStrategy(t, store)
	s.executeFunc = func(ctx context.Context, id string) error {
		return fmt.Errorf("boom")
	}
	require.NoError(t, engine.RegisterStrategy(s))

	_, err = engine.CreateTask(ctx, "test_work", "t1", nil)
	require.NoError(t, err)

	err = engine.ExecuteTask(ctx, "t1")
	require.Error(t, err)
	assert.Equal(t, int32(1), s.handled.Load())
}

func TestEngine_TransitionState(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	engine, err := NewEngine(store)
	require.NoError(t, err)
	s := newStubStrategy(t, store)
	require.NoError(t, engine.RegisterStrategy(s))

	_, err = engine.CreateTask(ctx, "test_work", "t1", nil)
	require.NoError(t, err)

	assert.True(t, engine.TransitionState(ctx, "t1", "GO", nil))
	assert.False(t, engine.TransitionState(ctx, "t1", "GO", nil))
	assert.False(t, engine.TransitionState(ctx, "ghost", "GO", nil))
}

func TestEngine_Batches(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	engine, err := NewEngine(store)
	require.NoError(t, err)

	s := newStubStrategy(t, store)
	s.executeFunc = func(ctx context.Context, id string) error {
		if id == "bad" {
			return fmt.Errorf("boom")
		}
		return s.HandleTransition(ctx, id, "GO", nil)
	}
	require.NoError(t, engine.RegisterStrategy(s))

	specs := []TaskSpec{
		{TaskType: "test_work", Id: "a"},
		{TaskType: "test_work", Id: "bad"},
		{TaskType: "test_work", Id: "b"},
		{TaskType: "unknown_type", Id: "c"},
	}
	created := engine.CreateTasks(ctx, specs)
	// The unknown type is skipped, the rest are created.
	assert.Len(t, created, 3)

	result, err := engine.ExecuteTasks(ctx, []string{"a", "bad", "b"}, 2)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"a", "b"}, result.Succeeded)
	assert.ElementsMatch(t, []string{"bad"}, result.Failed)
}

func TestEngine_CleanupExpiredTasks(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	engine, err := NewEngine(store)
	require.NoError(t, err)
	s := newStubStrategy(t, store)
	require.NoError(t, engine.RegisterStrategy(s))

	_, err = engine.CreateTask(ctx, "test_work", "done", nil)
	require.NoError(t, err)
	require.NoError(t, engine.ExecuteTask(ctx, "done"))

	_, err = engine.CreateTask(ctx, "test_work", "pending", nil)
	require.NoError(t, err)

	t.Run("young terminal tasks survive", func(t *testing.T) {
		deleted, err := engine.CleanupExpiredTasks(ctx, time.Now().Add(-time.Hour))
		require.NoError(t, err)
		assert.Equal(t, 0, deleted)
	})

	t.Run("old terminal tasks are reaped, live ones survive", func(t *testing.T) {
		deleted, err := engine.CleanupExpiredTasks(ctx, time.Now().Add(time.Hour))
		require.NoError(t, err)
		assert.Equal(t, 1, deleted)

		_, err = engine.GetTask(ctx, "done")
		require.ErrorIs(t, err, storage.ErrNotFound)

		_, err = engine.GetTask(ctx, "pending")
		require.NoError(t, err)
	})
}

func TestEngine_Metrics(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	engine, err := NewEngine(store)
	require.NoError(t, err)
	s := newStubStrategy(t, store)
	require.NoError(t, engine.RegisterStrategy(s))

	for _, id := range []string{"a", "b", "c"} {
		_, err := engine.CreateTask(ctx, "test_work", id, nil)
		require.NoError(t, err)
	}
	require.NoError(t, engine.ExecuteTask(ctx, "a"))
	require.NoError(t, engine.ExecuteTask(ctx, "b"))

	metrics, err := engine.GetStrategyMetrics(ctx, "test_work")
	require.NoError(t, err)
	assert.Equal(t, 3, metrics.Total)
	assert.Equal(t, 2, metrics.Completed)
	assert.Equal(t, 0, metrics.Dead)
	assert.InDelta(t, 2.0/3.0, metrics.CompletionRate, 1e-9)
	assert.Equal(t, 2, metrics.ByStatus["DONE"])
	assert.Equal(t, 1, metrics.ByStatus["START"])

	global, err := engine.GetGlobalMetrics(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, global.TotalTasks)
	assert.Equal(t, 2, global.Completed)
	assert.Contains(t, global.ByType, "test_work")
}
