package core

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTaskClone(t *testing.T) {
	now := time.Now().UTC()
	original := &Task{
		Id:            "t1",
		TaskType:      "document_sync",
		Status:        "NEW",
		Retries:       1,
		LastAttemptAt: &now,
		CreatedAt:     now,
		Context:       map[string]string{"documentId": "d1"},
	}

	clone := original.Clone()
	require.NotNil(t, clone)
	assert.Equal(t, original, clone)

	t.Run("mutating the clone leaves the original untouched", func(t *testing.T) {
		clone.Status = "SYNCED"
		clone.Context["documentId"] = "other"
		later := now.Add(time.Hour)
		*clone.LastAttemptAt = later

		assert.Equal(t, "NEW", original.Status)
		assert.Equal(t, "d1", original.Context["documentId"])
		assert.Equal(t, now, *original.LastAttemptAt)
	})

	t.Run("nil task clones to nil", func(t *testing.T) {
		var task *Task
		assert.Nil(t, task.Clone())
	})
}

func TestTaskMergeContext(t *testing.T) {
	t.Run("allocates the context when nil", func(t *testing.T) {
		task := &Task{}
		task.MergeContext(map[string]string{"a": "1"})
		assert.Equal(t, "1", task.Context["a"])
	})

	t.Run("overwrites existing keys and keeps the rest", func(t *testing.T) {
		task := &Task{Context: map[string]string{"a": "1", "b": "2"}}
		task.MergeContext(map[string]string{"b": "changed", "c": "3"})
		assert.Equal(t, map[string]string{"a": "1", "b": "changed", "c": "3"}, task.Context)
	})

	t.Run("empty merge is a no-op", func(t *testing.T) {
		task := &Task{}
		task.MergeContext(nil)
		assert.Nil(t, task.Context)
	})
}
