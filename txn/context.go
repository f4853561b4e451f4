package txn

import (
	"database/sql"
	"sync"
	"time"

	"github.com/poiesic/docsync/storage/sqlite"
)

// OperationType classifies an entity write inside a transaction.
type OperationType string

const (
	OpCreate OperationType = "CREATE"
	OpUpdate OperationType = "UPDATE"
	OpDelete OperationType = "DELETE"
)

// Operation is one entity write recorded in a transaction's log.
type Operation struct {
	Type     OperationType
	Target   string // entity kind: collection, document, chunk
	TargetId string
	Data     map[string]any
	// RollbackData captures the row's pre-state for UPDATE and DELETE, so
	// the log carries enough information to reconstruct what was undone.
	RollbackData map[string]any
	AppliedAt    time.Time
}

// Savepoint is a named rollback boundary inside one transaction context.
// Rolling back to it undoes the physical writes since its creation and
// truncates the operation log to LogPosition.
type Savepoint struct {
	// physicalName is the identifier used in SAVEPOINT statements. It is
	// always coordinator-generated, never caller input.
	physicalName string
	Name         string
	Metadata     map[string]string
	LogPosition  int
	CreatedAt    time.Time
}

// Tx is one transaction context. A root context owns a dedicated connection
// and the physical transaction; nested contexts share the root's transaction
// and are bounded by an implicit savepoint.
type Tx struct {
	id       string
	parentId string
	level    int
	metadata map[string]string

	// conn is non-nil only on the root context.
	conn *sql.Conn
	tx   *sql.Tx

	// beginSavepoint bounds a nested context; empty on the root.
	beginSavepoint string

	mu         sync.Mutex
	status     Status
	ops        []Operation
	savepoints []Savepoint
	createdAt  time.Time
}

// Id returns the transaction's identifier.
func (t *Tx) Id() string { return t.id }

// ParentId returns the parent transaction's identifier, or "" on a root.
func (t *Tx) ParentId() string { return t.parentId }

// Level returns the nesting depth: 0 for a root context.
func (t *Tx) Level() int { return t.level }

// IsRoot reports whether this context owns the physical transaction.
func (t *Tx) IsRoot() bool { return t.parentId == "" }

// Status returns the transaction's current lifecycle status.
func (t *Tx) Status() Status {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.status
}

// Metadata returns the metadata the transaction was begun with.
func (t *Tx) Metadata() map[string]string { return t.metadata }

// Operations returns a copy of the transaction's operation log.
func (t *Tx) Operations() []Operation {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Operation, len(t.ops))
	copy(out, t.ops)
	return out
}

// Querier exposes the physical transaction for direct SQL inside compound
// writes. All statements issued through it share the transaction's atomicity.
func (t *Tx) Querier() sqlite.Querier { return t.tx }

// appendOp records an applied operation. Caller must hold t.mu.
func (t *Tx) appendOp(op Operation) {
	t.ops = append(t.ops, op)
}

// findSavepoint returns the most recent savepoint with the given name.
// Caller must hold t.mu.
func (t *Tx) findSavepoint(name string) (int, *Savepoint) {
	for i := len(t.savepoints) - 1; i >= 0; i-- {
		if t.savepoints[i].Name == name {
			return i, &t.savepoints[i]
		}
	}
	return -1, nil
}
