package storage

import (
	"context"
	"time"

	"github.com/poiesic/docsync/core"
)

// TaskUpdate is a partial update applied to a persisted task.
// Nil fields are left unchanged; Context entries are merged into the
// existing context.
type TaskUpdate struct {
	Status        *string
	Retries       *int
	Error         *string
	Progress      *int
	LastAttemptAt *time.Time
	StartedAt     *time.Time
	CompletedAt   *time.Time
	Context       map[string]string
}

// TaskStore provides durable storage for FSM task records, keyed by task ID.
// Implementations must be thread-safe and support concurrent access.
type TaskStore interface {
	// SaveTask persists a new task.
	// Returns ErrDuplicateKey if a task with the same ID already exists.
	SaveTask(ctx context.Context, task *core.Task) error

	// GetTask retrieves a task by ID.
	// Returns ErrNotFound if the task doesn't exist.
	GetTask(ctx context.Context, id string) (*core.Task, error)

	// GetTasksByStatus retrieves all tasks of the given type with the given status.
	GetTasksByStatus(ctx context.Context, taskType, status string) ([]*core.Task, error)

	// GetTasksByType retrieves all tasks of the given type.
	GetTasksByType(ctx context.Context, taskType string) ([]*core.Task, error)

	// UpdateTask applies a partial update to an existing task and stamps
	// UpdatedAt. Returns the updated task, or ErrNotFound if it doesn't exist.
	UpdateTask(ctx context.Context, id string, update TaskUpdate) (*core.Task, error)

	// DeleteTask removes a task by ID.
	// Returns ErrNotFound if the task doesn't exist.
	DeleteTask(ctx context.Context, id string) error

	// CleanupExpiredTasks deletes tasks of the given type whose status is one
	// of terminalStatuses and whose UpdatedAt is older than olderThan.
	// Returns the number of tasks deleted.
	CleanupExpiredTasks(ctx context.Context, taskType string, terminalStatuses []string, olderThan time.Time) (int, error)

	// Close closes the store and releases resources.
	Close() error
}

// VectorRepo provides storage and similarity search for vector points.
// Implementations must be thread-safe and support concurrent access.
type VectorRepo interface {
	// UpsertCollection writes points into the collection's index.
	// Existing points with the same ID are replaced.
	UpsertCollection(ctx context.Context, collectionID string, points []*core.Point) error

	// DeletePointsByCollection removes every point in the collection.
	DeletePointsByCollection(ctx context.Context, collectionID string) error

	// DeletePointsByDoc removes every point belonging to the document,
	// across collections.
	DeletePointsByDoc(ctx context.Context, documentID string) error

	// Search finds points in the collection similar to the given vector.
	// Returns points with score >= minScore, up to limit results, ordered by
	// score (highest first). Vectors are expected to be unit-normalized.
	Search(ctx context.Context, collectionID string, vector []float32, minScore float32, limit int) ([]*core.ScoredPoint, error)
}

// DocumentStore provides the relational access the sync pipeline needs.
// It is intentionally narrow; compound multi-entity writes go through the
// transaction coordinator instead.
type DocumentStore interface {
	// GetDocument retrieves a document by ID.
	// Returns ErrNotFound if the document doesn't exist.
	GetDocument(ctx context.Context, id string) (*core.Document, error)

	// ReplaceChunks atomically replaces the document's chunk rows with the
	// given ordered set.
	ReplaceChunks(ctx context.Context, documentID string, chunks []*core.Chunk) error

	// GetChunksByDocument retrieves the document's chunks ordered by index.
	GetChunksByDocument(ctx context.Context, documentID string) ([]*core.Chunk, error)

	// SetDocumentSynced flips the document's persisted synced flag.
	// Returns ErrNotFound if the document doesn't exist.
	SetDocumentSynced(ctx context.Context, id string, synced bool) error

	// UpsertFullText writes the document's full-text mirror row.
	UpsertFullText(ctx context.Context, documentID, content string) error
}
