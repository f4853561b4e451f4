package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateCollection(t *testing.T) {
	t.Run("valid", func(t *testing.T) {
		err := ValidateCollection(&Collection{Id: "c1", Name: "docs"})
		assert.NoError(t, err)
	})

	t.Run("nil", func(t *testing.T) {
		err := ValidateCollection(nil)
		require.ErrorIs(t, err, ErrInvalidCollection)
	})

	t.Run("empty id", func(t *testing.T) {
		err := ValidateCollection(&Collection{Name: "docs"})
		require.ErrorIs(t, err, ErrInvalidCollection)
		require.ErrorIs(t, err, ErrEmptyID)
	})

	t.Run("empty name", func(t *testing.T) {
		err := ValidateCollection(&Collection{Id: "c1"})
		require.ErrorIs(t, err, ErrEmptyName)
	})
}

func TestValidateDocument(t *testing.T) {
	valid := func() *Document {
		return &Document{Id: "d1", CollectionId: "c1", Name: "doc.txt"}
	}

	t.Run("valid", func(t *testing.T) {
		assert.NoError(t, ValidateDocument(valid()))
	})

	t.Run("empty content is legal", func(t *testing.T) {
		document := valid()
		document.Content = ""
		assert.NoError(t, ValidateDocument(document))
	})

	t.Run("missing collection id", func(t *testing.T) {
		document := valid()
		document.CollectionId = ""
		err := ValidateDocument(document)
		require.ErrorIs(t, err, ErrInvalidDocument)
		require.ErrorIs(t, err, ErrEmptyID)
	})

	t.Run("missing name", func(t *testing.T) {
		document := valid()
		document.Name = ""
		require.ErrorIs(t, ValidateDocument(document), ErrEmptyName)
	})
}

func TestValidateChunk(t *testing.T) {
	t.Run("valid", func(t *testing.T) {
		assert.NoError(t, ValidateChunk(&Chunk{Id: "d1#0", DocumentId: "d1", Index: 0}))
	})

	t.Run("negative index", func(t *testing.T) {
		err := ValidateChunk(&Chunk{Id: "d1#0", DocumentId: "d1", Index: -1})
		require.ErrorIs(t, err, ErrNegativeChunkIndex)
	})

	t.Run("missing document id", func(t *testing.T) {
		err := ValidateChunk(&Chunk{Id: "d1#0", Index: 0})
		require.ErrorIs(t, err, ErrEmptyID)
	})
}

func TestValidatePoint(t *testing.T) {
	valid := func() *Point {
		return &Point{
			Id:           PointID("d1", 0),
			CollectionId: "c1",
			DocumentId:   "d1",
			Vector:       []float32{0.1, 0.2},
		}
	}

	t.Run("valid", func(t *testing.T) {
		assert.NoError(t, ValidatePoint(valid()))
	})

	t.Run("empty vector", func(t *testing.T) {
		point := valid()
		point.Vector = nil
		err := ValidatePoint(point)
		require.ErrorIs(t, err, ErrInvalidPoint)
		require.ErrorIs(t, err, ErrEmptyVector)
	})

	t.Run("negative chunk index", func(t *testing.T) {
		point := valid()
		point.ChunkIndex = -1
		require.ErrorIs(t, ValidatePoint(point), ErrNegativeChunkIndex)
	})

	t.Run("missing ids", func(t *testing.T) {
		point := valid()
		point.CollectionId = ""
		require.ErrorIs(t, ValidatePoint(point), ErrEmptyID)
	})
}
