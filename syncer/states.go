package syncer

import "github.com/poiesic/docsync/task"

// TaskType is the task type owned by the document sync strategy.
const TaskType = "document_sync"

// Pipeline states. NEW -> SPLIT_OK -> EMBED_OK -> SYNCED is the success path;
// FAILED is recoverable through RETRYING up to the retry ceiling; DEAD is
// terminal failure, reached only from FAILED via retries-exceeded.
const (
	StateNew       task.State = "NEW"
	StateSplitOK   task.State = "SPLIT_OK"
	StateEmbedOK   task.State = "EMBED_OK"
	StateSynced    task.State = "SYNCED"
	StateFailed    task.State = "FAILED"
	StateRetrying  task.State = "RETRYING"
	StateDead      task.State = "DEAD"
	StateCancelled task.State = "CANCELLED"
)

// Pipeline events.
const (
	EventChunksSaved     task.Event = "CHUNKS_SAVED"
	EventVectorsInserted task.Event = "VECTORS_INSERTED"
	EventMetaUpdated     task.Event = "META_UPDATED"
)

// ContextKeyDocumentID is the task context key carrying the document to sync.
const ContextKeyDocumentID = "documentId"
