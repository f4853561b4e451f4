package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIDFromContent(t *testing.T) {
	t.Run("is deterministic", func(t *testing.T) {
		a := IDFromContent("hello world")
		b := IDFromContent("hello world")
		assert.Equal(t, a, b)
	})

	t.Run("differs for different content", func(t *testing.T) {
		a := IDFromContent("hello world")
		b := IDFromContent("hello worlds")
		assert.NotEqual(t, a, b)
	})

	t.Run("handles empty content", func(t *testing.T) {
		assert.NotPanics(t, func() { IDFromContent("") })
	})
}

func TestPointID(t *testing.T) {
	t.Run("same document and index produce the same id", func(t *testing.T) {
		assert.Equal(t, PointID("doc-1", 0), PointID("doc-1", 0))
	})

	t.Run("index distinguishes points within a document", func(t *testing.T) {
		assert.NotEqual(t, PointID("doc-1", 0), PointID("doc-1", 1))
	})

	t.Run("document distinguishes points at the same index", func(t *testing.T) {
		assert.NotEqual(t, PointID("doc-1", 0), PointID("doc-2", 0))
	})
}

func TestChunkID(t *testing.T) {
	assert.Equal(t, "doc-1#0", ChunkID("doc-1", 0))
	assert.Equal(t, "doc-1#12", ChunkID("doc-1", 12))
}
