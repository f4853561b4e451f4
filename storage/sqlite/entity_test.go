package sqlite

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/poiesic/docsync/storage"
)

func entityData(name string) map[string]any {
	now := time.Now().UTC().UnixMicro()
	return map[string]any{"name": name, "created_at": now, "updated_at": now}
}

func TestInsertEntity(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	require.NoError(t, InsertEntity(ctx, store.DB(), KindCollection, "c1", entityData("docs")))

	t.Run("duplicate id fails without writing", func(t *testing.T) {
		err := InsertEntity(ctx, store.DB(), KindCollection, "c1", entityData("other"))
		require.ErrorIs(t, err, storage.ErrDuplicateKey)

		row, err := FindEntity(ctx, store.DB(), KindCollection, "c1")
		require.NoError(t, err)
		assert.Equal(t, "docs", row["name"])
	})

	t.Run("unknown kind", func(t *testing.T) {
		err := InsertEntity(ctx, store.DB(), "widget", "w1", nil)
		require.ErrorIs(t, err, storage.ErrUnknownEntityKind)
	})

	t.Run("unknown column", func(t *testing.T) {
		err := InsertEntity(ctx, store.DB(), KindCollection, "c2", map[string]any{"shade": "blue"})
		require.ErrorIs(t, err, storage.ErrInvalidQuery)
	})
}

func TestFindEntity(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	require.NoError(t, InsertEntity(ctx, store.DB(), KindCollection, "c1", entityData("docs")))

	row, err := FindEntity(ctx, store.DB(), KindCollection, "c1")
	require.NoError(t, err)
	assert.Equal(t, "c1", row["id"])
	assert.Equal(t, "docs", row["name"])
	assert.Contains(t, row, "created_at")

	_, err = FindEntity(ctx, store.DB(), KindCollection, "ghost")
	require.ErrorIs(t, err, storage.ErrNotFound)
}

func TestEntityExists(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	require.NoError(t, InsertEntity(ctx, store.DB(), KindCollection, "c1", entityData("docs")))

	exists, err := EntityExists(ctx, store.DB(), KindCollection, "c1")
	require.NoError(t, err)
	assert.True(t, exists)

	exists, err = EntityExists(ctx, store.DB(), KindCollection, "ghost")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestUpdateEntity(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	require.NoError(t, InsertEntity(ctx, store.DB(), KindCollection, "c1", entityData("before")))

	require.NoError(t, UpdateEntity(ctx, store.DB(), KindCollection, "c1", map[string]any{"name": "after"}))
	row, err := FindEntity(ctx, store.DB(), KindCollection, "c1")
	require.NoError(t, err)
	assert.Equal(t, "after", row["name"])

	t.Run("empty update is a no-op", func(t *testing.T) {
		require.NoError(t, UpdateEntity(ctx, store.DB(), KindCollection, "c1", nil))
	})

	t.Run("missing row", func(t *testing.T) {
		err := UpdateEntity(ctx, store.DB(), KindCollection, "ghost", map[string]any{"name": "x"})
		require.ErrorIs(t, err, storage.ErrNotFound)
	})
}

func TestDeleteEntity(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	require.NoError(t, InsertEntity(ctx, store.DB(), KindCollection, "c1", entityData("docs")))

	require.NoError(t, DeleteEntity(ctx, store.DB(), KindCollection, "c1"))

	_, err := FindEntity(ctx, store.DB(), KindCollection, "c1")
	require.ErrorIs(t, err, storage.ErrNotFound)

	require.ErrorIs(t, DeleteEntity(ctx, store.DB(), KindCollection, "c1"), storage.ErrNotFound)
}
