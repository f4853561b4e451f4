package task

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/poiesic/docsync/core"
	"github.com/poiesic/docsync/storage"
	"github.com/poiesic/docsync/storage/badger"
)

func newTestStore(t *testing.T) storage.TaskStore {
	t.Helper()
	backend, err := badger.OpenBackend("", true)
	require.NoError(t, err)
	t.Cleanup(func() { backend.Close() })
	return badger.NewTaskStore(backend)
}

func testConfig(maxRetries int) BaseConfig {
	return BaseConfig{
		TaskType:     "test_work",
		InitialState: "START",
		FinalStates:  []State{"DONE"},
		DeadState:    "DEAD",
		MaxRetries:   maxRetries,
		Transitions: []Transition{
			{From: "START", Event: "GO", To: "DONE"},
			{From: "START", Event: EventError, To: "FAILED"},
			{From: "FAILED", Event: EventRetry, To: "START",
				Condition: func(t *core.Task) bool { return t.Retries < maxRetries }},
			{From: "FAILED", Event: EventRetriesExceeded, To: "DEAD",
				Condition: func(t *core.Task) bool { return t.Retries >= maxRetries }},
		},
	}
}

func newTestBase(t *testing.T, maxRetries int) *Base {
	t.Helper()
	base, err := NewBase(testConfig(maxRetries), newTestStore(t), nil)
	require.NoError(t, err)
	return base
}

func TestNewBase_Validation(t *testing.T) {
	store := newTestStore(t)

	t.Run("rejects duplicate (from, event) pairs", func(t *testing.T) {
		cfg := testConfig(1)
		cfg.Transitions = append(cfg.Transitions, Transition{From: "START", Event: "GO", To: "FAILED"})
		_, err := NewBase(cfg, store, nil)
		require.ErrorIs(t, err, ErrAmbiguousTransition)
	})

	t.Run("rejects states that cannot finish", func(t *testing.T) {
		cfg := testConfig(1)
		cfg.Transitions = append(cfg.Transitions, Transition{From: "START", Event: "DETOUR", To: "STUCK"})
		_, err := NewBase(cfg, store, nil)
		require.ErrorIs(t, err, ErrUnreachableFinalState)
	})

	t.Run("allows retry cycles", func(t *testing.T) {
		base, err := NewBase(testConfig(2), store, nil)
		require.NoError(t, err)
		assert.Equal(t, "test_work", base.TaskType())
		assert.ElementsMatch(t, []State{"DONE", "DEAD"}, base.TerminalStates())
	})

	t.Run("requires a task type", func(t *testing.T) {
		cfg := testConfig(1)
		cfg.TaskType = ""
		_, err := NewBase(cfg, store, nil)
		require.Error(t, err)
	})
}

func TestCreateTask(t *testing.T) {
	ctx := context.Background()
	base := newTestBase(t, 1)

	created, err := base.CreateTask(ctx, "t1", map[string]string{"documentId": "d1"})
	require.NoError(t, err)
	assert.Equal(t, "START", created.Status)
	assert.Equal(t, "d1", created.Context["documentId"])
	assert.False(t, created.CreatedAt.IsZero())

	t.Run("duplicate id fails and leaves existing task unmodified", func(t *testing.T) {
		_, err := base.CreateTask(ctx, "t1", map[string]string{"documentId": "other"})
		require.ErrorIs(t, err, ErrTaskExists)

		existing, err := base.Store().GetTask(ctx, "t1")
		require.NoError(t, err)
		assert.Equal(t, "d1", existing.Context["documentId"])
		assert.Equal(t, "START", existing.Status)
	})
}

func TestHandleTransition(t *testing.T) {
	ctx := context.Background()

	t.Run("applies a matching rule", func(t *testing.T) {
		base := newTestBase(t, 1)
		_, err := base.CreateTask(ctx, "t1", nil)
		require.NoError(t, err)

		require.NoError(t, base.HandleTransition(ctx, "t1", "GO", nil))

		got, err := base.Store().GetTask(ctx, "t1")
		require.NoError(t, err)
		assert.Equal(t, "DONE", got.Status)
		assert.Equal(t, 100, got.Progress)
		assert.NotNil(t, got.CompletedAt)
	})

	t.Run("refuses an event with no rule", func(t *testing.T) {
		base := newTestBase(t, 1)
		_, err := base.CreateTask(ctx, "t1", nil)
		require.NoError(t, err)

		err = base.HandleTransition(ctx, "t1", "NOPE", nil)
		require.ErrorIs(t, err, ErrInvalidTransition)

		got, err := base.Store().GetTask(ctx, "t1")
		require.NoError(t, err)
		assert.Equal(t, "START", got.Status)
	})

	t.Run("merges event context into the task", func(t *testing.T) {
		base := newTestBase(t, 1)
		_, err := base.CreateTask(ctx, "t1", map[string]string{"documentId": "d1"})
		require.NoError(t, err)

		require.NoError(t, base.HandleTransition(ctx, "t1", "GO", map[string]string{"chunkCount": "3"}))

		got, err := base.Store().GetTask(ctx, "t1")
		require.NoError(t, err)
		assert.Equal(t, "d1", got.Context["documentId"])
		assert.Equal(t, "3", got.Context["chunkCount"])
	})

	t.Run("records the error message on ERROR", func(t *testing.T) {
		base := newTestBase(t, 1)
		_, err := base.CreateTask(ctx, "t1", nil)
		require.NoError(t, err)

		require.NoError(t, base.HandleTransition(ctx, "t1", EventError, map[string]string{
			ContextKeyError: "splitter exploded",
		}))

		got, err := base.Store().GetTask(ctx, "t1")
		require.NoError(t, err)
		assert.Equal(t, "FAILED", got.Status)
		assert.Equal(t, "splitter exploded", got.Error)
	})

	t.Run("missing task", func(t *testing.T) {
		base := newTestBase(t, 1)
		err := base.HandleTransition(ctx, "ghost", "GO", nil)
		require.ErrorIs(t, err, storage.ErrNotFound)
	})
}

func TestHandleTransition_Hooks(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	var order []string
	cfg := testConfig(1)
	cfg.Transitions[0].BeforeHook = func(ctx context.Context, task *core.Task) error {
		order = append(order, "before")
		return nil
	}
	cfg.Transitions[0].Action = func(ctx context.Context, task *core.Task) error {
		order = append(order, "action:"+task.Status)
		return nil
	}
	cfg.Transitions[0].AfterHook = func(ctx context.Context, task *core.Task) error {
		order = append(order, "after")
		return nil
	}

	base, err := NewBase(cfg, store, nil)
	require.NoError(t, err)
	_, err = base.CreateTask(ctx, "t1", nil)
	require.NoError(t, err)

	require.NoError(t, base.HandleTransition(ctx, "t1", "GO", nil))
	// The action observes the already-persisted new state.
	assert.Equal(t, []string{"before", "action:DONE", "after"}, order)
}

func TestHandleTransition_BeforeHookAbortsBeforePersist(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	cfg := testConfig(1)
	cfg.Transitions[0].BeforeHook = func(ctx context.Context, task *core.Task) error {
		return assert.AnError
	}
	base, err := NewBase(cfg, store, nil)
	require.NoError(t, err)
	_, err = base.CreateTask(ctx, "t1", nil)
	require.NoError(t, err)

	err = base.HandleTransition(ctx, "t1", "GO", nil)
	require.ErrorIs(t, err, assert.AnError)

	got, err := store.GetTask(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, "START", got.Status)
}

func TestRetryBudget(t *testing.T) {
	ctx := context.Background()
	const maxRetries = 2
	base := newTestBase(t, maxRetries)
	_, err := base.CreateTask(ctx, "t1", nil)
	require.NoError(t, err)

	for i := 0; i < maxRetries; i++ {
		require.NoError(t, base.HandleTransition(ctx, "t1", EventError, nil))
		require.NoError(t, base.HandleTransition(ctx, "t1", EventRetry, nil))

		got, err := base.Store().GetTask(ctx, "t1")
		require.NoError(t, err)
		assert.Equal(t, i+1, got.Retries)
		assert.Equal(t, "START", got.Status)
		assert.NotNil(t, got.LastAttemptAt)
	}

	// Budget spent: RETRY's condition is re-evaluated and refuses, the
	// retries-exceeded edge dead-letters.
	require.NoError(t, base.HandleTransition(ctx, "t1", EventError, nil))
	err = base.HandleTransition(ctx, "t1", EventRetry, nil)
	require.ErrorIs(t, err, ErrInvalidTransition)

	require.NoError(t, base.HandleTransition(ctx, "t1", EventRetriesExceeded, nil))

	got, err := base.Store().GetTask(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, "DEAD", got.Status)
	assert.Equal(t, maxRetries, got.Retries)
	assert.False(t, base.CanRetry(got))
}
