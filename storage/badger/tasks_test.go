package badger

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/poiesic/docsync/core"
	"github.com/poiesic/docsync/storage"
)

func newTaskStore(t *testing.T) *TaskStore {
	t.Helper()
	backend, err := OpenBackend("", true)
	require.NoError(t, err)
	t.Cleanup(func() { backend.Close() })
	return NewTaskStore(backend)
}

func newTask(id, status string) *core.Task {
	return &core.Task{
		Id:       id,
		TaskType: "document_sync",
		Status:   status,
		Context:  map[string]string{"documentId": "d-" + id},
	}
}

func TestTaskStore_SaveAndGet(t *testing.T) {
	ctx := context.Background()
	store := newTaskStore(t)

	saved := newTask("t1", "NEW")
	require.NoError(t, store.SaveTask(ctx, saved))
	assert.False(t, saved.CreatedAt.IsZero())
	assert.False(t, saved.UpdatedAt.IsZero())

	got, err := store.GetTask(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, "t1", got.Id)
	assert.Equal(t, "NEW", got.Status)
	assert.Equal(t, "d-t1", got.Context["documentId"])

	t.Run("duplicate save is refused", func(t *testing.T) {
		err := store.SaveTask(ctx, newTask("t1", "OTHER"))
		require.ErrorIs(t, err, storage.ErrDuplicateKey)

		got, err := store.GetTask(ctx, "t1")
		require.NoError(t, err)
		assert.Equal(t, "NEW", got.Status)
	})

	t.Run("missing task", func(t *testing.T) {
		_, err := store.GetTask(ctx, "ghost")
		require.ErrorIs(t, err, storage.ErrNotFound)
	})
}

func TestTaskStore_UpdateTask(t *testing.T) {
	ctx := context.Background()
	store := newTaskStore(t)
	require.NoError(t, store.SaveTask(ctx, newTask("t1", "NEW")))

	status := "SPLIT_OK"
	retries := 2
	progress := 40
	updated, err := store.UpdateTask(ctx, "t1", storage.TaskUpdate{
		Status:   &status,
		Retries:  &retries,
		Progress: &progress,
		Context:  map[string]string{"chunkCount": "5"},
	})
	require.NoError(t, err)
	assert.Equal(t, "SPLIT_OK", updated.Status)
	assert.Equal(t, 2, updated.Retries)
	assert.Equal(t, 40, updated.Progress)
	// Context entries merge; existing keys survive.
	assert.Equal(t, "d-t1", updated.Context["documentId"])
	assert.Equal(t, "5", updated.Context["chunkCount"])

	t.Run("nil fields are left unchanged", func(t *testing.T) {
		errMsg := "boom"
		got, err := store.UpdateTask(ctx, "t1", storage.TaskUpdate{Error: &errMsg})
		require.NoError(t, err)
		assert.Equal(t, "SPLIT_OK", got.Status)
		assert.Equal(t, 2, got.Retries)
		assert.Equal(t, "boom", got.Error)
	})

	t.Run("missing task", func(t *testing.T) {
		_, err := store.UpdateTask(ctx, "ghost", storage.TaskUpdate{})
		require.ErrorIs(t, err, storage.ErrNotFound)
	})
}

func TestTaskStore_UpdateTask_ConcurrentWriters(t *testing.T) {
	ctx := context.Background()
	store := newTaskStore(t)
	require.NoError(t, store.SaveTask(ctx, newTask("t1", "NEW")))

	// A transition and a progress update can land on the same key at the
	// same time; neither side may surface a commit conflict.
	const rounds = 25
	var wg sync.WaitGroup
	errs := make(chan error, 2*rounds)
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < rounds; i++ {
			progress := i
			_, err := store.UpdateTask(ctx, "t1", storage.TaskUpdate{Progress: &progress})
			errs <- err
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < rounds; i++ {
			status := "SPLIT_OK"
			_, err := store.UpdateTask(ctx, "t1", storage.TaskUpdate{Status: &status})
			errs <- err
		}
	}()
	wg.Wait()
	close(errs)

	for err := range errs {
		require.NoError(t, err)
	}

	got, err := store.GetTask(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, "SPLIT_OK", got.Status)
}

func TestTaskStore_Queries(t *testing.T) {
	ctx := context.Background()
	store := newTaskStore(t)

	require.NoError(t, store.SaveTask(ctx, newTask("a", "NEW")))
	require.NoError(t, store.SaveTask(ctx, newTask("b", "SYNCED")))
	require.NoError(t, store.SaveTask(ctx, newTask("c", "SYNCED")))
	other := newTask("d", "SYNCED")
	other.TaskType = "other_type"
	require.NoError(t, store.SaveTask(ctx, other))

	byType, err := store.GetTasksByType(ctx, "document_sync")
	require.NoError(t, err)
	assert.Len(t, byType, 3)

	byStatus, err := store.GetTasksByStatus(ctx, "document_sync", "SYNCED")
	require.NoError(t, err)
	assert.Len(t, byStatus, 2)

	none, err := store.GetTasksByStatus(ctx, "document_sync", "DEAD")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestTaskStore_DeleteTask(t *testing.T) {
	ctx := context.Background()
	store := newTaskStore(t)
	require.NoError(t, store.SaveTask(ctx, newTask("t1", "NEW")))

	require.NoError(t, store.DeleteTask(ctx, "t1"))
	_, err := store.GetTask(ctx, "t1")
	require.ErrorIs(t, err, storage.ErrNotFound)

	require.ErrorIs(t, store.DeleteTask(ctx, "t1"), storage.ErrNotFound)
}

func TestTaskStore_CleanupExpiredTasks(t *testing.T) {
	ctx := context.Background()
	store := newTaskStore(t)

	require.NoError(t, store.SaveTask(ctx, newTask("done", "SYNCED")))
	require.NoError(t, store.SaveTask(ctx, newTask("dead", "DEAD")))
	require.NoError(t, store.SaveTask(ctx, newTask("live", "NEW")))

	terminal := []string{"SYNCED", "DEAD"}

	t.Run("nothing is old enough yet", func(t *testing.T) {
		deleted, err := store.CleanupExpiredTasks(ctx, "document_sync", terminal, time.Now().Add(-time.Hour))
		require.NoError(t, err)
		assert.Equal(t, 0, deleted)
	})

	t.Run("terminal tasks are reaped, live ones survive", func(t *testing.T) {
		deleted, err := store.CleanupExpiredTasks(ctx, "document_sync", terminal, time.Now().Add(time.Hour))
		require.NoError(t, err)
		assert.Equal(t, 2, deleted)

		_, err = store.GetTask(ctx, "live")
		require.NoError(t, err)
		_, err = store.GetTask(ctx, "done")
		require.ErrorIs(t, err, storage.ErrNotFound)
	})
}
