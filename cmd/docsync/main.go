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


package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/urfave/cli/v2"

	"github.com/poiesic/docsync/ai"
	"github.com/poiesic/docsync/ai/openai"
	"github.com/poiesic/docsync/split"
	"github.com/poiesic/docsync/storage/badger"
	"github.com/poiesic/docsync/storage/sqlite"
	"github.com/poiesic/docsync/syncer"
	"github.com/poiesic/docsync/task"
	"github.com/poiesic/docsync/txn"
)

func main() {
	app := &cli.App{
		Name:  "docsync",
		Usage: "Document ingestion and synchronization pipeline",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "log-level",
				Aliases: []string{"l"},
				Usage:   "Set logging level (debug, info, warn, error)",
				Value:   "info",
			},
		},
		Before: setupLogger,
		Commands: []*cli.Command{
			{
				Name:      "import",
				Usage:     "Import documents from files into a collection and sync them",
				Action:    importCommand,
				ArgsUsage: "FILE [FILE...]",
				Flags: append(append(storageFlags(), embeddingFlags()...),
					&cli.StringFlag{
						Name:    "collection",
						Aliases: []string{"c"},
						Usage:   "Collection name",
						Value:   "default",
					},
				),
			},
			{
				Name:   "delete-collection",
				Usage:  "Delete a collection, its documents and its vectors",
				Action: deleteCollectionCommand,
				Flags: append(storageFlags(),
					&cli.StringFlag{
						Name:     "collection",
						Aliases:  []string{"c"},
						Usage:    "Collection name",
						Required: true,
					},
				),
			},
			{
				Name:   "search",
				Usage:  "Search a collection for text similar to the query",
				Action: searchCommand,
				Flags: append(append(storageFlags(), embeddingFlags()...),
					&cli.StringFlag{
						Name:     "collection",
						Aliases:  []string{"c"},
						Usage:    "Collection name",
						Required: true,
					},
					&cli.Float64Flag{
						Name:  "min-score",
						Usage: "Minimum similarity score",
						Value: 0.3,
					},
					&cli.IntFlag{
						Name:  "limit",
						Usage: "Maximum number of results",
						Value: 10,
					},
				),
			},
			{
				Name:   "tasks",
				Usage:  "Report sync task metrics",
				Action: tasksCommand,
				Flags:  storageFlags(),
			},
			{
				Name:   "cleanup",
				Usage:  "Delete terminal tasks older than the given age",
				Action: cleanupCommand,
				Flags: append(storageFlags(),
					&cli.DurationFlag{
						Name:  "older-than",
						Usage: "Minimum age of terminal tasks to delete",
						Value: 7 * 24 * time.Hour,
					},
				),
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func storageFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:     "db",
			Aliases:  []string{"d"},
			Usage:    "Path to the SQLite database file",
			Required: true,
		},
		&cli.StringFlag{
			Name:     "index",
			Aliases:  []string{"i"},
			Usage:    "Path to the BadgerDB index directory",
			Required: true,
		},
	}
}

func embeddingFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:  "embedding-host",
			Usage: "Embedding service host URL",
			Value: "http://localhost:11434/v1",
		},
		&cli.StringFlag{
			Name:     "embedding-model",
			Usage:    "Embedding model name",
			Required: true,
		},
		&cli.IntFlag{
			Name:  "concurrency",
			Usage: "Number of documents to sync in parallel",
			Value: 4,
		},
		&cli.IntFlag{
			Name:  "max-retries",
			Usage: "Maximum retry attempts for failed sync tasks",
			Value: 3,
		},
	}
}

// stores bundles the open storage handles a command needs.
type stores struct {
	relational *sqlite.Store
	backend    *badger.Backend
	tasks      *badger.TaskStore
	vectors    *badger.VectorRepo
}

func openStores(c *cli.Context) (*stores, error) {
	relational, err := sqlite.Open(c.String("db"))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	backend, err := badger.OpenBackend(c.String("index"), false)
	if err != nil {
		relational.Close()
		return nil, fmt.Errorf("failed to open index: %w", err)
	}

	return &stores{
		relational: relational,
		backend:    backend,
		tasks:      badger.NewTaskStore(backend),
		vectors:    badger.NewVectorRepo(backend),
	}, nil
}

func (s *stores) close() {
	s.backend.Close()
	s.relational.Close()
}

func newEmbedder(c *cli.Context) (ai.Embedder, error) {
	aiConfig := ai.NewConfig(
		ai.WithEmbeddingHost(c.String("embedding-host")),
		ai.WithEmbeddingModel(c.String("embedding-model")),
	)
	if err := aiConfig.Validate(); err != nil {
		return nil, fmt.Errorf("invalid AI configuration: %w", err)
	}
	return openai.NewEmbedder(aiConfig)
}

func importCommand(c *cli.Context) error {
	ctx := context.Background()

	if c.NArg() == 0 {
		return fmt.Errorf("at least one file argument is required")
	}

	s, err := openStores(c)
	if err != nil {
		return err
	}
	defer s.close()

	embedder, err := newEmbedder(c)
	if err != nil {
		return fmt.Errorf("failed to create embedder: %w", err)
	}

	strategy, err := syncer.NewStrategy(
		s.tasks, s.relational, split.NewRecursiveSplitter(), embedder, s.vectors,
		syncer.WithMaxRetries(c.Int("max-retries")),
	)
	if err != nil {
		return fmt.Errorf("failed to create sync strategy: %w", err)
	}

	engine, err := task.NewEngine(s.tasks)
	if err != nil {
		return err
	}
	if err := engine.RegisterStrategy(strategy); err != nil {
		return err
	}

	coordinator, err := txn.NewCoordinator(s.relational, txn.WithVectorRepo(s.vectors))
	if err != nil {
		return err
	}
	defer coordinator.Close(ctx)

	// Create the collection (if missing) and the document rows as one
	// atomic unit, then hand each document to the sync engine.
	collectionId := ""
	documentIds := make(map[string]string, c.NArg())
	err = coordinator.ExecuteInTransaction(ctx, func(ctx context.Context, t *txn.Tx) error {
		now := time.Now().UTC().UnixMicro()
		name := c.String("collection")
		if name == "" {
			name = "default"
		}

		existing, err := s.relational.GetCollectionByName(ctx, name)
		if err == nil {
			collectionId = existing.Id
		} else {
			collectionId = uuid.NewString()
			if err := coordinator.ExecuteOperation(ctx, t.Id(), txn.OpCreate,
				sqlite.KindCollection, collectionId, map[string]any{
					"name": name, "created_at": now, "updated_at": now,
				}); err != nil {
				return err
			}
		}

		for _, path := range c.Args().Slice() {
			content, err := os.ReadFile(path)
			if err != nil {
				return fmt.Errorf("read %s: %w", path, err)
			}
			docId := uuid.NewString()
			if err := coordinator.ExecuteOperation(ctx, t.Id(), txn.OpCreate,
				sqlite.KindDocument, docId, map[string]any{
					"collection_id": collectionId,
					"name":          filepath.Base(path),
					"content":       string(content),
					"synced":        0,
					"created_at":    now,
					"updated_at":    now,
				}); err != nil {
				return err
			}
			documentIds[path] = docId
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("import transaction failed: %w", err)
	}

	specs := make([]task.TaskSpec, 0, len(documentIds))
	for _, docId := range documentIds {
		specs = append(specs, task.TaskSpec{
			TaskType: syncer.TaskType,
			Id:       uuid.NewString(),
			Context:  map[string]string{syncer.ContextKeyDocumentID: docId},
		})
	}
	tasks := engine.CreateTasks(ctx, specs)

	ids := make([]string, 0, len(tasks))
	for _, t := range tasks {
		ids = append(ids, t.Id)
	}
	result, err := engine.ExecuteTasks(ctx, ids, c.Int("concurrency"))
	if err != nil {
		return err
	}

	fmt.Fprintf(os.Stderr, "Synced: %d  Failed: %d\n", len(result.Succeeded), len(result.Failed))
	if len(result.Failed) > 0 {
		return fmt.Errorf("%d document(s) failed to sync", len(result.Failed))
	}
	return nil
}

func deleteCollectionCommand(c *cli.Context) error {
	ctx := context.Background()

	s, err := openStores(c)
	if err != nil {
		return err
	}
	defer s.close()

	collection, err := s.relational.GetCollectionByName(ctx, c.String("collection"))
	if err != nil {
		return fmt.Errorf("failed to resolve collection: %w", err)
	}

	coordinator, err := txn.NewCoordinator(s.relational, txn.WithVectorRepo(s.vectors))
	if err != nil {
		return err
	}
	defer coordinator.Close(ctx)

	if err := coordinator.DeleteCollectionInTransaction(ctx, collection.Id); err != nil {
		return fmt.Errorf("failed to delete collection: %w", err)
	}

	fmt.Fprintf(os.Stderr, "Deleted collection %s\n", collection.Name)
	return nil
}

func searchCommand(c *cli.Context) error {
	ctx := context.Background()

	query := strings.TrimSpace(strings.Join(c.Args().Slice(), " "))
	if query == "" {
		return fmt.Errorf("a query argument is required")
	}

	s, err := openStores(c)
	if err != nil {
		return err
	}
	defer s.close()

	collection, err := s.relational.GetCollectionByName(ctx, c.String("collection"))
	if err != nil {
		return fmt.Errorf("failed to resolve collection: %w", err)
	}

	embedder, err := newEmbedder(c)
	if err != nil {
		return fmt.Errorf("failed to create embedder: %w", err)
	}

	vector, err := embedder.EmbedText(ctx, query)
	if err != nil {
		return fmt.Errorf("failed to embed query: %w", err)
	}

	results, err := s.vectors.Search(ctx, collection.Id, syncer.NormalizeVector(vector),
		float32(c.Float64("min-score")), c.Int("limit"))
	if err != nil {
		return fmt.Errorf("search failed: %w", err)
	}

	for _, result := range results {
		fmt.Printf("%.4f  %s#%d\n  %s\n",
			result.Score, result.Point.DocumentId, result.Point.ChunkIndex,
			result.Point.Payload["text"])
	}
	return nil
}

func tasksCommand(c *cli.Context) error {
	ctx := context.Background()

	s, err := openStores(c)
	if err != nil {
		return err
	}
	defer s.close()

	engine, err := newReadOnlyEngine(s)
	if err != nil {
		return err
	}

	metrics, err := engine.GetGlobalMetrics(ctx)
	if err != nil {
		return err
	}

	fmt.Printf("Total tasks: %d  Completed: %d  Dead: %d  Completion rate: %.1f%%\n",
		metrics.TotalTasks, metrics.Completed, metrics.Dead, metrics.CompletionRate*100)
	for taskType, m := range metrics.ByType {
		fmt.Printf("  %s: %d tasks, avg retries %.2f\n", taskType, m.Total, m.AvgRetries)
		for status, count := range m.ByStatus {
			fmt.Printf("    %-12s %d\n", status, count)
		}
	}
	return nil
}

func cleanupCommand(c *cli.Context) error {
	ctx := context.Background()

	s, err := openStores(c)
	if err != nil {
		return err
	}
	defer s.close()

	engine, err := newReadOnlyEngine(s)
	if err != nil {
		return err
	}

	deleted, err := engine.CleanupExpiredTasks(ctx, time.Now().Add(-c.Duration("older-than")))
	if err != nil {
		return err
	}

	fmt.Fprintf(os.Stderr, "Deleted %d expired task(s)\n", deleted)
	return nil
}

// newReadOnlyEngine builds an engine whose strategies never execute, for
// commands that only inspect or reap tasks. The sync strategy still needs
// its dependencies, so inert ones are wired in.
func newReadOnlyEngine(s *stores) (*task.Engine, error) {
	strategy, err := syncer.NewStrategy(
		s.tasks, s.relational, split.NewRecursiveSplitter(), inertEmbedder{}, s.vectors,
	)
	if err != nil {
		return nil, err
	}
	engine, err := task.NewEngine(s.tasks)
	if err != nil {
		return nil, err
	}
	if err := engine.RegisterStrategy(strategy); err != nil {
		return nil, err
	}
	return engine, nil
}

type inertEmbedder struct{}

func (inertEmbedder) EmbedText(context.Context, string) ([]float32, error) {
	return nil, fmt.Errorf("embedding not available in this command")
}

func (inertEmbedder) EmbedTexts(context.Context, []string) ([][]float32, error) {
	return nil, fmt.Errorf("embedding not available in this command")
}

func setupLogger(c *cli.Context) error {
	levelStr := strings.ToLower(c.String("log-level"))

	var level slog.Level
	switch levelStr {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		return fmt.Errorf("invalid log level %q: must be one of debug, info, warn, error", levelStr)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	return nil
}
