package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/poiesic/docsync/core"
	"github.com/poiesic/docsync/storage"
)

var _ storage.DocumentStore = (*Store)(nil)

// GetDocument retrieves a document by ID.
func (s *Store) GetDocument(ctx context.Context, id string) (*core.Document, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, collection_id, name, content, synced, created_at, updated_at
		 FROM documents WHERE id = ?`, id)
	return scanDocument(row)
}

// GetDocumentsByCollection retrieves all documents in a collection, ordered by name.
func (s *Store) GetDocumentsByCollection(ctx context.Context, collectionID string) ([]*core.Document, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, collection_id, name, content, synced, created_at, updated_at
		 FROM documents WHERE collection_id = ? ORDER BY name`, collectionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var documents []*core.Document
	for rows.Next() {
		document, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		documents = append(documents, document)
	}
	return documents, rows.Err()
}

// ReplaceChunks atomically replaces the document's chunk rows.
func (s *Store) ReplaceChunks(ctx context.Context, documentID string, chunks []*core.Chunk) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM chunks WHERE document_id = ?`, documentID); err != nil {
		return err
	}

	for _, chunk := range chunks {
		if err := core.ValidateChunk(chunk); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx,
			`INSERT INTO chunks (id, document_id, idx, text, created_at) VALUES (?, ?, ?, ?, ?)`,
			chunk.Id, chunk.DocumentId, chunk.Index, chunk.Text, timeToMicros(chunk.CreatedAt))
		if err != nil {
			return err
		}
	}

	return tx.Commit()
}

// GetChunksByDocument retrieves the document's chunks ordered by index.
func (s *Store) GetChunksByDocument(ctx context.Context, documentID string) ([]*core.Chunk, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, document_id, idx, text, created_at
		 FROM chunks WHERE document_id = ? ORDER BY idx`, documentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var chunks []*core.Chunk
	for rows.Next() {
		var chunk core.Chunk
		var createdAt int64
		if err := rows.Scan(&chunk.Id, &chunk.DocumentId, &chunk.Index, &chunk.Text, &createdAt); err != nil {
			return nil, err
		}
		chunk.CreatedAt = microsToTime(createdAt)
		chunks = append(chunks, &chunk)
	}
	return chunks, rows.Err()
}

// SetDocumentSynced flips the document's persisted synced flag.
func (s *Store) SetDocumentSynced(ctx context.Context, id string, synced bool) error {
	flag := 0
	if synced {
		flag = 1
	}
	result, err := s.db.ExecContext(ctx,
		`UPDATE documents SET synced = ?, updated_at = ? WHERE id = ?`,
		flag, timeToMicros(time.Now().UTC()), id)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("%w: document %s", storage.ErrNotFound, id)
	}
	return nil
}

// UpsertFullText writes the document's full-text mirror row.
func (s *Store) UpsertFullText(ctx context.Context, documentID, content string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO document_fts (document_id, content) VALUES (?, ?)
		 ON CONFLICT(document_id) DO UPDATE SET content = excluded.content`,
		documentID, content)
	return err
}

// GetCollection retrieves a collection by ID.
func (s *Store) GetCollection(ctx context.Context, id string) (*core.Collection, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, name, created_at, updated_at FROM collections WHERE id = ?`, id)
	return scanCollection(row)
}

// GetCollectionByName retrieves a collection by its unique name.
func (s *Store) GetCollectionByName(ctx context.Context, name string) (*core.Collection, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, name, created_at, updated_at FROM collections WHERE name = ?`, name)
	return scanCollection(row)
}

// rowScanner abstracts *sql.Row and *sql.Rows for the scan helpers.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanDocument(row rowScanner) (*core.Document, error) {
	var document core.Document
	var synced int
	var createdAt, updatedAt int64
	err := row.Scan(&document.Id, &document.CollectionId, &document.Name,
		&document.Content, &synced, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	document.Synced = synced != 0
	document.CreatedAt = microsToTime(createdAt)
	document.UpdatedAt = microsToTime(updatedAt)
	return &document, nil
}

func scanCollection(row rowScanner) (*core.Collection, error) {
	var collection core.Collection
	var createdAt, updatedAt int64
	err := row.Scan(&collection.Id, &collection.Name, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	collection.CreatedAt = microsToTime(createdAt)
	collection.UpdatedAt = microsToTime(updatedAt)
	return &collection, nil
}

// timeToMicros converts a time to epoch microseconds for storage.
func timeToMicros(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMicro()
}

// microsToTime converts stored epoch microseconds back to a UTC time.
func microsToTime(us int64) time.Time {
	if us == 0 {
		return time.Time{}
	}
	return time.UnixMicro(us).UTC()
}
