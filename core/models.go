package core

import (
	"encoding/binary"
	"fmt"
	"time"

	"github.com/go-crypt/x/blake2b"
)

// ID is a unique identifier for vector points.
// It is generated using content-based hashing so that re-ingesting the same
// document chunk always produces the same point.
type ID uint64

// IDFromContent generates a deterministic ID from text content using BLAKE2b hashing.
// This ensures that identical content produces identical IDs.
func IDFromContent(text string) ID {
	h, _ := blake2b.New(8, nil) // 8 bytes = 64 bits
	h.Write([]byte(text))
	sum := h.Sum(nil)
	return ID(binary.LittleEndian.Uint64(sum))
}

// PointID generates the deterministic vector point ID for a document chunk.
// The ID is derived from the document ID and the chunk's position, so an
// upsert for the same chunk replaces the previous point instead of
// duplicating it.
func PointID(documentID string, chunkIndex int) ID {
	return IDFromContent(fmt.Sprintf("%s#%d", documentID, chunkIndex))
}

// Collection groups documents that are indexed together in the vector store.
type Collection struct {
	Id        string
	Name      string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Document is a source document registered for ingestion.
// Content is the raw text recorded at import time; Synced reports whether the
// split/embed/index pipeline has completed for the current content.
type Document struct {
	Id           string
	CollectionId string
	Name         string
	Content      string
	Synced       bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Chunk is one ordered slice of a document's text content produced by the splitter.
type Chunk struct {
	Id         string
	DocumentId string
	Index      int
	Text       string
	CreatedAt  time.Time
}

// ChunkID returns the deterministic chunk row ID for a document position.
// Re-splitting a document overwrites its chunk rows in place.
func ChunkID(documentID string, index int) string {
	return fmt.Sprintf("%s#%d", documentID, index)
}

// Point is a vector-store record: an embedding vector plus payload, keyed by
// a deterministic ID derived from the document ID and chunk index.
type Point struct {
	Id           ID
	CollectionId string
	DocumentId   string
	ChunkIndex   int
	Vector       []float32
	Payload      map[string]string
}

// ScoredPoint is a point returned from similarity search with its score.
type ScoredPoint struct {
	Point *Point
	Score float32
}
