// Package syncer implements the document synchronization pipeline as a task
// strategy: a document's content is split into chunks, the chunks are
// embedded as one ordered batch, the resulting points are upserted into the
// vector index, and the document's metadata is finalized.
//
// Each step persists its output before the state transition that records it,
// so an interrupted or failed task can resume from the last completed step:
// the resume point is derived from the persisted domain state (synced flag,
// chunk rows), never from a transient marker.
package syncer
