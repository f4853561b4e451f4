// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.


package syncer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/poiesic/docsync/ai"
	"github.com/poiesic/docsync/core"
	"github.com/poiesic/docsync/split"
	"github.com/poiesic/docsync/storage"
	"github.com/poiesic/docsync/task"
)

const (
	defaultMaxRetries     = 3
	defaultEmbedAttempts  = 3
	defaultEmbedBaseDelay = time.Second
)

// Strategy implements the document sync pipeline as a task strategy:
// split -> embed -> index, with retry and dead-lettering.
type Strategy struct {
	*task.Base

	docs     storage.DocumentStore
	splitter split.Splitter
	embedder ai.Embedder
	vectors  storage.VectorRepo

	embedAttempts  int
	embedBaseDelay time.Duration
	progress       progressConfig
	logger         *slog.Logger
}

var _ task.Strategy = (*Strategy)(nil)

// Option configures a Strategy.
type Option func(*options)

type options struct {
	maxRetries     int
	embedAttempts  int
	embedBaseDelay time.Duration
	progress       progressConfig
	logger         *slog.Logger
}

// WithMaxRetries sets the task-level retry ceiling for failed executions.
func WithMaxRetries(n int) Option {
	return func(o *options) {
		if n >= 0 {
			o.maxRetries = n
		}
	}
}

// WithEmbedRetry sets the call-level retry policy around the embedding API.
func WithEmbedRetry(attempts int, baseDelay time.Duration) Option {
	return func(o *options) {
		if attempts > 0 {
			o.embedAttempts = attempts
		}
		if baseDelay > 0 {
			o.embedBaseDelay = baseDelay
		}
	}
}

// WithProgressTicker sets the background progress nudger's interval, step
// and cap.
func WithProgressTicker(interval time.Duration, step, cap int) Option {
	return func(o *options) {
		if interval > 0 {
			o.progress.interval = interval
		}
		if step > 0 {
			o.progress.step = step
		}
		if cap > 0 && cap <= 100 {
			o.progress.cap = cap
		}
	}
}

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// NewStrategy creates the document sync strategy.
func NewStrategy(
	store storage.TaskStore,
	docs storage.DocumentStore,
	splitter split.Splitter,
	embedder ai.Embedder,
	vectors storage.VectorRepo,
	opts ...Option,
) (*Strategy, error) {
	if docs == nil {
		return nil, ErrDocStoreRequired
	}
	if splitter == nil {
		return nil, ErrSplitterRequired
	}
	if embedder == nil {
		return nil, ErrEmbedderRequired
	}
	if vectors == nil {
		return nil, ErrVectorRepoRequired
	}

	o := &options{
		maxRetries:     defaultMaxRetries,
		embedAttempts:  defaultEmbedAttempts,
		embedBaseDelay: defaultEmbedBaseDelay,
		progress:       defaultProgressConfig(),
		logger:         slog.Default(),
	}
	for _, opt := range opts {
		opt(o)
	}

	s := &Strategy{
		docs:           docs,
		splitter:       splitter,
		embedder:       embedder,
		vectors:        vectors,
		embedAttempts:  o.embedAttempts,
		embedBaseDelay: o.embedBaseDelay,
		progress:       o.progress,
		logger:         o.logger.With("component", "document-sync"),
	}

	base, err := task.NewBase(task.BaseConfig{
		TaskType:       TaskType,
		InitialState:   StateNew,
		FinalStates:    []task.State{StateSynced},
		DeadState:      StateDead,
		CancelledState: StateCancelled,
		MaxRetries:     o.maxRetries,
		Transitions:    s.transitionTable(),
	}, store, o.logger)
	if err != nil {
		return nil, err
	}
	s.Base = base
	return s, nil
}

// transitionTable declares the pipeline's state machine.
func (s *Strategy) transitionTable() []task.Transition {
	canRetry := func(t *core.Task) bool { return s.CanRetry(t) }
	retriesSpent := func(t *core.Task) bool { return !s.CanRetry(t) }

	return []task.Transition{
		// Success path.
		{From: StateNew, Event: EventChunksSaved, To: StateSplitOK},
		{From: StateSplitOK, Event: EventVectorsInserted, To: StateEmbedOK},
		{From: StateEmbedOK, Event: EventMetaUpdated, To: StateSynced},

		// An empty document skips splitting and embedding entirely.
		{From: StateNew, Event: EventMetaUpdated, To: StateSynced},

		// Failure edges from every processing state.
		{From: StateNew, Event: task.EventError, To: StateFailed},
		{From: StateSplitOK, Event: task.EventError, To: StateFailed},
		{From: StateEmbedOK, Event: task.EventError, To: StateFailed},
		{From: StateRetrying, Event: task.EventError, To: StateFailed},

		// Bounded retry loop. The condition is re-evaluated on every call.
		{From: StateFailed, Event: task.EventRetry, To: StateRetrying, Condition: canRetry},
		{From: StateFailed, Event: task.EventRetriesExceeded, To: StateDead, Condition: retriesSpent},

		// A retried task re-enters wherever its persisted progress left off.
		{From: StateRetrying, Event: EventChunksSaved, To: StateSplitOK},
		{From: StateRetrying, Event: EventVectorsInserted, To: StateEmbedOK},
		{From: StateRetrying, Event: EventMetaUpdated, To: StateSynced},

		// Cooperative cancel, only before processing started.
		{From: StateNew, Event: task.EventCancel, To: StateCancelled},
	}
}

// ExecuteTask walks the pipeline for one task until it reaches SYNCED.
//
// Any failure in the loop is caught once here at the task boundary, recorded
// in the task context and propagated as an ERROR event before being returned
// to the caller.
func (s *Strategy) ExecuteTask(ctx context.Context, id string) error {
	t, err := s.Store().GetTask(ctx, id)
	if err != nil {
		return err
	}
	docID := t.Context[ContextKeyDocumentID]
	if docID == "" {
		return fmt.Errorf("%w: task %s", ErrNoDocumentID, id)
	}

	if t.StartedAt == nil {
		now := time.Now().UTC()
		if _, err := s.Store().UpdateTask(ctx, id, storage.TaskUpdate{StartedAt: &now}); err != nil {
			return err
		}
	}

	// The nudger is owned by this call and must not outlive it.
	nudger := newProgressNudger(s.Store(), id, s.progress, s.logger)
	nudger.start(ctx)
	defer nudger.stop()

	if err := s.runPipeline(ctx, id, docID); err != nil {
		s.logger.Error("sync failed", "task", id, "document", docID, "err", err)
		if trErr := s.HandleTransition(ctx, id, task.EventError, map[string]string{
			task.ContextKeyError: err.Error(),
		}); trErr != nil {
			s.logger.Error("error transition failed", "task", id, "err", trErr)
		}
		return err
	}
	return nil
}

// runPipeline advances the task step by step, re-reading the persisted
// status between steps.
func (s *Strategy) runPipeline(ctx context.Context, id, docID string) error {
	for {
		t, err := s.Store().GetTask(ctx, id)
		if err != nil {
			return err
		}

		state, err := s.resolveState(ctx, t, docID)
		if err != nil {
			return err
		}

		switch state {
		case StateNew:
			err = s.runSplit(ctx, id, docID)
		case StateSplitOK:
			err = s.runEmbed(ctx, id, docID)
		case StateEmbedOK:
			err = s.runFinalize(ctx, id, docID)
		case StateSynced:
			return nil
		case StateFailed, StateDead, StateCancelled:
			return fmt.Errorf("%w: %s in %s", ErrTaskNotRunnable, id, state)
		default:
			return fmt.Errorf("%w: %q", task.ErrUnknownState, t.Status)
		}
		if err != nil {
			return err
		}
	}
}

// resolveState maps the persisted task status to the next pipeline step.
// A RETRYING task resumes from the step its persisted domain state implies:
// the document's synced flag and chunk rows decide, never a transient marker.
func (s *Strategy) resolveState(ctx context.Context, t *core.Task, docID string) (task.State, error) {
	state := task.State(t.Status)
	if state != StateRetrying {
		return state, nil
	}

	doc, err := s.docs.GetDocument(ctx, docID)
	if err != nil {
		return "", err
	}
	if doc.Synced {
		// Finalize again; it is idempotent and fires the closing event.
		return StateEmbedOK, nil
	}

	chunks, err := s.docs.GetChunksByDocument(ctx, docID)
	if err != nil {
		return "", err
	}
	if len(chunks) > 0 {
		return StateSplitOK, nil
	}
	return StateNew, nil
}

// runSplit loads the document, splits it and persists the chunk rows.
// An empty document is trivially synced and skips the rest of the pipeline.
func (s *Strategy) runSplit(ctx context.Context, id, docID string) error {
	doc, err := s.docs.GetDocument(ctx, docID)
	if err != nil {
		return err
	}

	if doc.Content == "" {
		s.logger.Info("document empty, marking synced", "task", id, "document", docID)
		if err := s.docs.SetDocumentSynced(ctx, docID, true); err != nil {
			return err
		}
		return s.HandleTransition(ctx, id, EventMetaUpdated, nil)
	}

	raw, err := s.splitter.Split(ctx, doc.Content, split.Options{Name: doc.Name})
	if err != nil {
		return fmt.Errorf("split document %s: %w", docID, err)
	}
	normalized, err := split.Normalize(raw)
	if err != nil {
		return err
	}
	// Whitespace-only content normalizes to nothing; treat it like an
	// empty document instead of handing zero chunks to the embedder.
	if len(normalized) == 0 {
		s.logger.Info("document has no embeddable text, marking synced", "task", id, "document", docID)
		if err := s.docs.SetDocumentSynced(ctx, docID, true); err != nil {
			return err
		}
		return s.HandleTransition(ctx, id, EventMetaUpdated, nil)
	}

	now := time.Now().UTC()
	chunks := make([]*core.Chunk, len(normalized))
	for i, c := range normalized {
		chunks[i] = &core.Chunk{
			Id:         core.ChunkID(docID, i),
			DocumentId: docID,
			Index:      i,
			Text:       c.Content,
			CreatedAt:  now,
		}
	}
	if err := s.docs.ReplaceChunks(ctx, docID, chunks); err != nil {
		return err
	}

	s.logger.Info("chunks persisted", "task", id, "document", docID, "chunks", len(chunks))
	return s.HandleTransition(ctx, id, EventChunksSaved, map[string]string{
		"chunkCount": fmt.Sprintf("%d", len(chunks)),
	})
}

// runEmbed embeds the document's chunks as one ordered batch and upserts the
// resulting points under the document's collection.
func (s *Strategy) runEmbed(ctx context.Context, id, docID string) error {
	chunks, err := s.docs.GetChunksByDocument(ctx, docID)
	if err != nil {
		return err
	}
	if len(chunks) == 0 {
		return fmt.Errorf("%w: document %s has no chunks to embed", ErrConsistency, docID)
	}

	texts := make([]string, len(chunks))
	for i, chunk := range chunks {
		texts[i] = chunk.Text
	}

	var embeddings [][]float32
	err = retryWithBackoff(ctx, func() error {
		var embedErr error
		embeddings, embedErr = s.embedder.EmbedTexts(ctx, texts)
		return embedErr
	}, s.embedAttempts, s.embedBaseDelay)
	if err != nil {
		return fmt.Errorf("embed document %s: %w", docID, err)
	}

	if len(embeddings) != len(chunks) {
		return fmt.Errorf("%w: expected %d, received %d", ErrConsistency, len(chunks), len(embeddings))
	}

	doc, err := s.docs.GetDocument(ctx, docID)
	if err != nil {
		return err
	}

	points := make([]*core.Point, len(chunks))
	for i, chunk := range chunks {
		points[i] = &core.Point{
			Id:           core.PointID(docID, chunk.Index),
			CollectionId: doc.CollectionId,
			DocumentId:   docID,
			ChunkIndex:   chunk.Index,
			Vector:       NormalizeVector(embeddings[i]),
			Payload: map[string]string{
				"document": doc.Name,
				"text":     chunk.Text,
			},
		}
	}

	if err := s.vectors.UpsertCollection(ctx, doc.CollectionId, points); err != nil {
		return fmt.Errorf("upsert vectors for %s: %w", docID, err)
	}

	s.logger.Info("vectors upserted", "task", id, "document", docID, "points", len(points))
	return s.HandleTransition(ctx, id, EventVectorsInserted, map[string]string{
		"pointCount": fmt.Sprintf("%d", len(points)),
	})
}

// runFinalize flips the document's synced flag and mirrors its full text.
func (s *Strategy) runFinalize(ctx context.Context, id, docID string) error {
	doc, err := s.docs.GetDocument(ctx, docID)
	if err != nil {
		return err
	}
	if err := s.docs.UpsertFullText(ctx, docID, doc.Content); err != nil {
		return err
	}
	if err := s.docs.SetDocumentSynced(ctx, docID, true); err != nil {
		return err
	}
	return s.HandleTransition(ctx, id, EventMetaUpdated, nil)
}

// HandleError records an execution failure and decides between retry and
// dead-lettering. The ERROR transition has usually already fired at the task
// boundary; this settles what happens next.
func (s *Strategy) HandleError(ctx context.Context, id string, execErr error) error {
	t, err := s.Store().GetTask(ctx, id)
	if err != nil {
		return err
	}

	if task.State(t.Status) != StateFailed {
		if trErr := s.HandleTransition(ctx, id, task.EventError, map[string]string{
			task.ContextKeyError: execErr.Error(),
		}); trErr != nil && !errors.Is(trErr, task.ErrInvalidTransition) {
			return trErr
		}
		t, err = s.Store().GetTask(ctx, id)
		if err != nil {
			return err
		}
	}

	if task.State(t.Status) != StateFailed {
		return nil
	}

	if s.CanRetry(t) {
		s.logger.Info("scheduling retry", "task", id, "retries", t.Retries, "max", s.MaxRetries())
		return s.HandleTransition(ctx, id, task.EventRetry, nil)
	}

	s.logger.Warn("retry budget spent, dead-lettering", "task", id, "retries", t.Retries)
	return s.HandleTransition(ctx, id, task.EventRetriesExceeded, nil)
}
