package syncer

import "errors"

var (
	// ErrConsistency indicates a mismatch between the chunks of a document
	// and the embeddings returned for them.
	ErrConsistency = errors.New("embedding count mismatch")

	// ErrNoDocumentID indicates a sync task created without a document ID
	// in its context.
	ErrNoDocumentID = errors.New("task context has no document id")

	// ErrTaskNotRunnable indicates an execution attempt on a task whose
	// state has no pipeline step (FAILED awaiting retry decision, or DEAD).
	ErrTaskNotRunnable = errors.New("task is not in a runnable state")

	// ErrDocStoreRequired indicates a missing document store dependency.
	ErrDocStoreRequired = errors.New("document store required")

	// ErrSplitterRequired indicates a missing splitter dependency.
	ErrSplitterRequired = errors.New("splitter required")

	// ErrEmbedderRequired indicates a missing embedder dependency.
	ErrEmbedderRequired = errors.New("embedder required")

	// ErrVectorRepoRequired indicates a missing vector repo dependency.
	ErrVectorRepoRequired = errors.New("vector repo required")
)
