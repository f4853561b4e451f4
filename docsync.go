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

package docsync

import (
	"context"
	"log/slog"

	"github.com/poiesic/docsync/ai"
	"github.com/poiesic/docsync/ai/openai"
	"github.com/poiesic/docsync/core"
	"github.com/poiesic/docsync/split"
	"github.com/poiesic/docsync/storage"
	"github.com/poiesic/docsync/storage/badger"
	"github.com/poiesic/docsync/storage/sqlite"
	"github.com/poiesic/docsync/syncer"
	"github.com/poiesic/docsync/task"
	"github.com/poiesic/docsync/txn"
)

// Service bundles the relational store, the index backend and the
// transaction coordinator behind a single handle.
type Service struct {
	relational  *sqlite.Store
	backend     *badger.Backend
	tasks       *badger.TaskStore
	vectors     *badger.VectorRepo
	embedder    ai.Embedder
	coordinator *txn.Coordinator
	logger      *slog.Logger
}

// ServiceOption configures a Service.
type ServiceOption func(*serviceOptions)

type serviceOptions struct {
	aiConfig *ai.Config
	embedder ai.Embedder
}

func WithAIConfig(config *ai.Config) ServiceOption {
	return func(o *serviceOptions) {
		o.aiConfig = config
	}
}

// WithServiceEmbedder replaces the embedding client, bypassing the
// configured provider entirely.
func WithServiceEmbedder(embedder ai.Embedder) ServiceOption {
	return func(o *serviceOptions) {
		o.embedder = embedder
	}
}

func NewService(dbPath, indexPath string, opts ...ServiceOption) (*Service, error) {
	// Apply options
	options := &serviceOptions{
		aiConfig: ai.DefaultConfig(), // Default if not provided
	}
	for _, opt := range opts {
		opt(options)
	}

	// Open relational store
	relational, err := sqlite.Open(dbPath)
	if err != nil {
		return nil, err
	}

	// Open index backend
	backend, err := badger.OpenBackend(indexPath, false)
	if err != nil {
		relational.Close()
		return nil, err
	}

	// Create embedding client with configured settings
	embedder := options.embedder
	if embedder == nil {
		embedder, err = openai.NewEmbedder(options.aiConfig)
		if err != nil {
			backend.Close()
			relational.Close()
			return nil, err
		}
	}

	vectors := badger.NewVectorRepo(backend)

	// Create transaction coordinator
	coordinator, err := txn.NewCoordinator(relational, txn.WithVectorRepo(vectors))
	if err != nil {
		backend.Close()
		relational.Close()
		return nil, err
	}

	return &Service{
		relational:  relational,
		backend:     backend,
		tasks:       badger.NewTaskStore(backend),
		vectors:     vectors,
		embedder:    embedder,
		coordinator: coordinator,
		logger:      slog.Default(),
	}, nil
}

func (s *Service) Close() error {
	// Close coordinator first so pending purges land before the backend goes away
	if err := s.coordinator.Close(context.Background()); err != nil {
		s.logger.Error("error closing coordinator", "err", err)
	}

	if err := s.tasks.Close(); err != nil {
		s.logger.Error("error closing task store", "err", err)
		return err
	}
	if err := s.backend.Close(); err != nil {
		s.logger.Error("error closing index backend", "err", err)
		return err
	}
	if err := s.relational.Close(); err != nil {
		s.logger.Error("error closing relational store", "err", err)
		return err
	}
	return nil
}

func (s *Service) Documents() *sqlite.Store {
	return s.relational
}

func (s *Service) Tasks() storage.TaskStore {
	return s.tasks
}

func (s *Service) Vectors() storage.VectorRepo {
	return s.vectors
}

func (s *Service) Coordinator() *txn.Coordinator {
	return s.coordinator
}

// NewSyncEngine builds a task engine with the document sync strategy
// registered against this service's stores.
func (s *Service) NewSyncEngine(opts ...syncer.Option) (*task.Engine, error) {
	strategy, err := syncer.NewStrategy(s.tasks, s.relational, split.NewRecursiveSplitter(), s.embedder, s.vectors, opts...)
	if err != nil {
		return nil, err
	}
	engine, err := task.NewEngine(s.tasks, task.WithLogger(s.logger))
	if err != nil {
		return nil, err
	}
	if err := engine.RegisterStrategy(strategy); err != nil {
		return nil, err
	}
	return engine, nil
}

// Search embeds the query and returns the closest points in the collection.
func (s *Service) Search(ctx context.Context, collectionId, query string, minScore float32, limit int) ([]*core.ScoredPoint, error) {
	vector, err := s.embedder.EmbedText(ctx, query)
	if err != nil {
		return nil, err
	}
	return s.vectors.Search(ctx, collectionId, syncer.NormalizeVector(vector), minScore, limit)
}
