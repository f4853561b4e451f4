package storage

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/poiesic/docsync/core"
)

func TestIDSerialization(t *testing.T) {
	id := core.IDFromContent("d1#0")

	got, err := UnmarshalID(MarshalID(id))
	require.NoError(t, err)
	assert.Equal(t, id, got)

	t.Run("empty input", func(t *testing.T) {
		_, err := UnmarshalID(nil)
		require.ErrorIs(t, err, ErrSerializationFailed)
	})
}

func TestTaskSerialization(t *testing.T) {
	now := time.Now().UTC().Truncate(time.Microsecond)
	task := &core.Task{
		Id:            "t1",
		TaskType:      "document_sync",
		Status:        "SPLIT_OK",
		Retries:       2,
		LastAttemptAt: &now,
		Error:         "previous failure",
		CreatedAt:     now,
		UpdatedAt:     now,
		Progress:      40,
		Context:       map[string]string{"documentId": "d1", "chunkCount": "3"},
	}

	got, err := UnmarshalTask(MarshalTask(task))
	require.NoError(t, err)
	assert.Equal(t, task, got)

	t.Run("optional fields stay nil", func(t *testing.T) {
		bare := &core.Task{Id: "t2", TaskType: "document_sync", Status: "NEW", CreatedAt: now, UpdatedAt: now}
		got, err := UnmarshalTask(MarshalTask(bare))
		require.NoError(t, err)
		assert.Equal(t, bare, got)
		assert.Nil(t, got.LastAttemptAt)
		assert.Nil(t, got.Context)
	})

	t.Run("truncated input", func(t *testing.T) {
		data := MarshalTask(task)
		_, err := UnmarshalTask(data[:len(data)/2])
		require.ErrorIs(t, err, ErrSerializationFailed)
	})
}

func TestPointSerialization(t *testing.T) {
	point := &core.Point{
		Id:           core.PointID("d1", 0),
		CollectionId: "c1",
		DocumentId:   "d1",
		ChunkIndex:   0,
		Vector:       []float32{0.25, -0.5, 1},
		Payload:      map[string]string{"text": "hello"},
	}

	got, err := UnmarshalPoint(MarshalPoint(point))
	require.NoError(t, err)
	assert.Equal(t, point, got)

	t.Run("truncated input", func(t *testing.T) {
		data := MarshalPoint(point)
		_, err := UnmarshalPoint(data[:3])
		require.ErrorIs(t, err, ErrSerializationFailed)
	})
}
