package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"

	"github.com/poiesic/docsync/storage"
)

// Entity kinds understood by the generic surface.
const (
	KindCollection = "collection"
	KindDocument   = "document"
	KindChunk      = "chunk"
)

// Querier is the subset of database/sql execution methods shared by
// *sql.DB, *sql.Conn and *sql.Tx. The transaction coordinator passes its
// transaction here so entity writes land inside the physical transaction.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// entityTable maps an entity kind to its table and writable columns.
type entityTable struct {
	table   string
	columns map[string]struct{}
}

var entityTables = map[string]entityTable{
	KindCollection: {
		table:   "collections",
		columns: columnSet("name", "created_at", "updated_at"),
	},
	KindDocument: {
		table:   "documents",
		columns: columnSet("collection_id", "name", "content", "synced", "created_at", "updated_at"),
	},
	KindChunk: {
		table:   "chunks",
		columns: columnSet("document_id", "idx", "text", "created_at"),
	},
}

func columnSet(names ...string) map[string]struct{} {
	set := make(map[string]struct{}, len(names))
	for _, name := range names {
		set[name] = struct{}{}
	}
	return set
}

// FindEntity reads one row of the given kind by ID as a column map.
// Returns storage.ErrNotFound if the row doesn't exist.
func FindEntity(ctx context.Context, q Querier, kind, id string) (map[string]any, error) {
	spec, ok := entityTables[kind]
	if !ok {
		return nil, fmt.Errorf("%w: %q", storage.ErrUnknownEntityKind, kind)
	}

	rows, err := q.QueryContext(ctx, fmt.Sprintf("SELECT * FROM %s WHERE id = ?", spec.table), id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, err
		}
		return nil, storage.ErrNotFound
	}

	values := make([]any, len(columns))
	pointers := make([]any, len(columns))
	for i := range values {
		pointers[i] = &values[i]
	}
	if err := rows.Scan(pointers...); err != nil {
		return nil, err
	}

	row := make(map[string]any, len(columns))
	for i, column := range columns {
		row[column] = values[i]
	}
	return row, nil
}

// EntityExists reports whether a row of the given kind exists.
func EntityExists(ctx context.Context, q Querier, kind, id string) (bool, error) {
	spec, ok := entityTables[kind]
	if !ok {
		return false, fmt.Errorf("%w: %q", storage.ErrUnknownEntityKind, kind)
	}

	var one int
	err := q.QueryRowContext(ctx, fmt.Sprintf("SELECT 1 FROM %s WHERE id = ?", spec.table), id).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// InsertEntity inserts a new row of the given kind.
// Returns storage.ErrDuplicateKey if the ID already exists, without writing.
func InsertEntity(ctx context.Context, q Querier, kind, id string, data map[string]any) error {
	spec, ok := entityTables[kind]
	if !ok {
		return fmt.Errorf("%w: %q", storage.ErrUnknownEntityKind, kind)
	}

	exists, err := EntityExists(ctx, q, kind, id)
	if err != nil {
		return err
	}
	if exists {
		return fmt.Errorf("%w: %s %s", storage.ErrDuplicateKey, kind, id)
	}

	columns := []string{"id"}
	args := []any{id}
	for _, column := range sortedColumns(data) {
		if _, ok := spec.columns[column]; !ok {
			return fmt.Errorf("%w: column %q for kind %q", storage.ErrInvalidQuery, column, kind)
		}
		columns = append(columns, column)
		args = append(args, data[column])
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(columns)), ", ")
	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		spec.table, strings.Join(columns, ", "), placeholders)
	_, err = q.ExecContext(ctx, query, args...)
	return err
}

// UpdateEntity updates columns of an existing row.
// Returns storage.ErrNotFound if the row doesn't exist.
func UpdateEntity(ctx context.Context, q Querier, kind, id string, data map[string]any) error {
	spec, ok := entityTables[kind]
	if !ok {
		return fmt.Errorf("%w: %q", storage.ErrUnknownEntityKind, kind)
	}
	if len(data) == 0 {
		return nil
	}

	assignments := make([]string, 0, len(data))
	args := make([]any, 0, len(data)+1)
	for _, column := range sortedColumns(data) {
		if _, ok := spec.columns[column]; !ok {
			return fmt.Errorf("%w: column %q for kind %q", storage.ErrInvalidQuery, column, kind)
		}
		assignments = append(assignments, column+" = ?")
		args = append(args, data[column])
	}
	args = append(args, id)

	query := fmt.Sprintf("UPDATE %s SET %s WHERE id = ?", spec.table, strings.Join(assignments, ", "))
	result, err := q.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("%w: %s %s", storage.ErrNotFound, kind, id)
	}
	return nil
}

// DeleteEntity removes a row of the given kind.
// Returns storage.ErrNotFound if the row doesn't exist.
func DeleteEntity(ctx context.Context, q Querier, kind, id string) error {
	spec, ok := entityTables[kind]
	if !ok {
		return fmt.Errorf("%w: %q", storage.ErrUnknownEntityKind, kind)
	}

	result, err := q.ExecContext(ctx, fmt.Sprintf("DELETE FROM %s WHERE id = ?", spec.table), id)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("%w: %s %s", storage.ErrNotFound, kind, id)
	}
	return nil
}

// sortedColumns returns data's keys in a stable order so generated SQL is
// deterministic.
func sortedColumns(data map[string]any) []string {
	columns := make([]string, 0, len(data))
	for column := range data {
		columns = append(columns, column)
	}
	sort.Strings(columns)
	return columns
}
