package badger

import (
	"context"
	"log/slog"
	"slices"

	"github.com/dgraph-io/badger/v4"
	"github.com/poiesic/docsync/core"
	"github.com/poiesic/docsync/storage"
)

// VectorRepo implements storage.VectorRepo for BadgerDB.
// Points are keyed by collection and deterministic point ID, so re-upserting
// a document's chunks replaces the previous points in place.
type VectorRepo struct {
	backend *Backend
	logger  *slog.Logger
}

var _ storage.VectorRepo = (*VectorRepo)(nil)

// NewVectorRepo creates a new VectorRepo.
func NewVectorRepo(backend *Backend) *VectorRepo {
	return &VectorRepo{
		backend: backend,
		logger:  slog.Default().With("component", "vector-repo"),
	}
}

// UpsertCollection writes points into the collection's index.
func (r *VectorRepo) UpsertCollection(ctx context.Context, collectionID string, points []*core.Point) error {
	if collectionID == "" {
		return storage.ErrInvalidQuery
	}

	return r.backend.WithTx(func(tx *badger.Txn) error {
		for _, point := range points {
			if err := core.ValidatePoint(point); err != nil {
				return err
			}
			value := storage.MarshalPoint(point)
			if err := tx.Set(makePointKey(collectionID, point.Id), value); err != nil {
				return err
			}
		}
		return tx.Commit()
	}, true)
}

// DeletePointsByCollection removes every point in the collection.
func (r *VectorRepo) DeletePointsByCollection(ctx context.Context, collectionID string) error {
	if collectionID == "" {
		return storage.ErrInvalidQuery
	}

	return r.backend.WithTx(func(tx *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = makeCollectionPrefix(collectionID)
		opts.PrefetchValues = false
		iter := tx.NewIterator(opts)

		var keys [][]byte
		for iter.Rewind(); iter.Valid(); iter.Next() {
			keys = append(keys, iter.Item().KeyCopy(nil))
		}
		iter.Close()

		for _, key := range keys {
			if err := tx.Delete(key); err != nil {
				return err
			}
		}
		return tx.Commit()
	}, true)
}

// DeletePointsByDoc removes every point belonging to the document.
func (r *VectorRepo) DeletePointsByDoc(ctx context.Context, documentID string) error {
	if documentID == "" {
		return storage.ErrInvalidQuery
	}

	return r.backend.WithTx(func(tx *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(vectorPointPrefix)
		iter := tx.NewIterator(opts)

		var keys [][]byte
		for iter.Rewind(); iter.Valid(); iter.Next() {
			item := iter.Item()
			var point *core.Point
			err := item.Value(func(val []byte) error {
				var err error
				point, err = storage.UnmarshalPoint(val)
				return err
			})
			if err != nil {
				iter.Close()
				return err
			}
			if point.DocumentId == documentID {
				keys = append(keys, item.KeyCopy(nil))
			}
		}
		iter.Close()

		for _, key := range keys {
			if err := tx.Delete(key); err != nil {
				return err
			}
		}
		return tx.Commit()
	}, true)
}

// Search finds points in the collection similar to the given vector.
func (r *VectorRepo) Search(ctx context.Context, collectionID string, vector []float32, minScore float32, limit int) ([]*core.ScoredPoint, error) {
	if collectionID == "" || limit <= 0 {
		return nil, storage.ErrInvalidQuery
	}

	var results []*core.ScoredPoint
	err := r.backend.WithTx(func(tx *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = makeCollectionPrefix(collectionID)
		iter := tx.NewIterator(opts)
		defer iter.Close()

		for iter.Rewind(); iter.Valid(); iter.Next() {
			item := iter.Item()
			var point *core.Point
			err := item.Value(func(val []byte) error {
				var err error
				point, err = storage.UnmarshalPoint(val)
				return err
			})
			if err != nil {
				return err
			}
			if len(point.Vector) == 0 {
				continue
			}

			// Cosine similarity (dot product for normalized vectors)
			score := dotProduct(vector, point.Vector)
			if score >= minScore {
				results = append(results, &core.ScoredPoint{Point: point, Score: score})
			}
		}
		return nil
	}, false)
	if err != nil {
		return nil, err
	}

	// Sort by score descending
	slices.SortFunc(results, func(a, b *core.ScoredPoint) int {
		if a.Score > b.Score {
			return -1
		}
		if a.Score < b.Score {
			return 1
		}
		return 0
	})

	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

// dotProduct calculates the dot product of two vectors.
func dotProduct(a, b []float32) float32 {
	var sum float32
	minLen := len(a)
	if len(b) < minLen {
		minLen = len(b)
	}
	for i := 0; i < minLen; i++ {
		sum += a[i] * b[i]
	}
	return sum
}
