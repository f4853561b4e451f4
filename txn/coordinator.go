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


package txn

import (
	"context"
	"database/sql"
	"encoding/hex"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/poiesic/docsync/storage"
	"github.com/poiesic/docsync/storage/sqlite"
)

// Coordinator manages transaction contexts over the relational store.
// One physical transaction exists per root context; nested contexts share it
// and are bounded by savepoints.
type Coordinator struct {
	store   *sqlite.Store
	vectors storage.VectorRepo

	mu     sync.Mutex
	active map[string]*Tx

	// purges tracks in-flight best-effort vector deletions so tests and
	// shutdown can wait for them.
	purges sync.WaitGroup

	logger *slog.Logger
}

// CoordinatorOption configures a Coordinator.
type CoordinatorOption func(*Coordinator)

// WithVectorRepo attaches the vector store used by compound deletes for
// best-effort vector cleanup.
func WithVectorRepo(vectors storage.VectorRepo) CoordinatorOption {
	return func(c *Coordinator) { c.vectors = vectors }
}

// WithCoordinatorLogger sets a custom logger.
// Default is slog.Default().
func WithCoordinatorLogger(logger *slog.Logger) CoordinatorOption {
	return func(c *Coordinator) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// NewCoordinator creates a transaction coordinator over the given store.
func NewCoordinator(store *sqlite.Store, opts ...CoordinatorOption) (*Coordinator, error) {
	if store == nil {
		return nil, fmt.Errorf("sqlite store required")
	}
	c := &Coordinator{
		store:  store,
		active: make(map[string]*Tx),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With("component", "txn-coordinator")
	return c, nil
}

// savepointName generates a SQL-safe savepoint identifier.
// User-supplied names never reach SQL text.
func savepointName() string {
	id := uuid.New()
	return "sp_" + hex.EncodeToString(id[:])
}

// Begin opens a root transaction on a dedicated connection.
// The context starts PENDING and is promoted to ACTIVE by its first operation.
func (c *Coordinator) Begin(ctx context.Context, metadata map[string]string) (*Tx, error) {
	conn, err := c.store.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire connection: %w", err)
	}
	sqlTx, err := conn.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("begin transaction: %w", err)
	}

	t := &Tx{
		id:        uuid.NewString(),
		metadata:  metadata,
		conn:      conn,
		tx:        sqlTx,
		status:    StatusPending,
		createdAt: time.Now().UTC(),
	}

	c.mu.Lock()
	c.active[t.id] = t
	c.mu.Unlock()

	c.logger.Info("transaction begun", "tx", t.id)
	return t, nil
}

// BeginNested opens a nested transaction under an existing parent.
// The nested context shares the parent's physical transaction, bounded by an
// implicit savepoint created here.
func (c *Coordinator) BeginNested(ctx context.Context, parentId string, metadata map[string]string) (*Tx, error) {
	parent, err := c.lookup(parentId)
	if err != nil {
		return nil, err
	}

	parent.mu.Lock()
	if parent.status != StatusPending && parent.status != StatusActive {
		status := parent.status
		parent.mu.Unlock()
		return nil, fmt.Errorf("%w: %s is %s", ErrParentNotActive, parentId, status)
	}

	boundary := savepointName()
	if _, err := parent.tx.ExecContext(ctx, "SAVEPOINT "+boundary); err != nil {
		parent.mu.Unlock()
		return nil, fmt.Errorf("create nested savepoint: %w", err)
	}
	parent.mu.Unlock()

	t := &Tx{
		id:             uuid.NewString(),
		parentId:       parentId,
		level:          parent.level + 1,
		metadata:       metadata,
		tx:             parent.tx,
		beginSavepoint: boundary,
		status:         StatusPending,
		createdAt:      time.Now().UTC(),
	}

	c.mu.Lock()
	c.active[t.id] = t
	c.mu.Unlock()

	c.logger.Info("nested transaction begun", "tx", t.id, "parent", parentId, "level", t.level)
	return t, nil
}

// GetTransaction returns an active transaction by ID.
func (c *Coordinator) GetTransaction(id string) (*Tx, error) {
	return c.lookup(id)
}

func (c *Coordinator) lookup(id string) (*Tx, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	t, ok := c.active[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrTransactionNotFound, id)
	}
	return t, nil
}

func (c *Coordinator) forget(id string) {
	c.mu.Lock()
	delete(c.active, id)
	c.mu.Unlock()
}

// ExecuteOperation applies one entity write inside the transaction and
// records it in the operation log. UPDATE and DELETE capture the row's
// pre-state as rollback data before writing. A CREATE whose row already
// exists fails without mutating anything.
func (c *Coordinator) ExecuteOperation(ctx context.Context, txId string, opType OperationType, target, targetId string, data map[string]any) error {
	t, err := c.lookup(txId)
	if err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	switch t.status {
	case StatusPending:
		if err := t.setStatus(StatusActive); err != nil {
			return err
		}
	case StatusActive:
	default:
		return fmt.Errorf("%w: operation on %s transaction %s", ErrTransactionState, t.status, txId)
	}

	op := Operation{
		Type:      opType,
		Target:    target,
		TargetId:  targetId,
		Data:      data,
		AppliedAt: time.Now().UTC(),
	}

	switch opType {
	case OpCreate:
		if err := sqlite.InsertEntity(ctx, t.tx, target, targetId, data); err != nil {
			return err
		}
	case OpUpdate:
		before, err := sqlite.FindEntity(ctx, t.tx, target, targetId)
		if err != nil {
			return err
		}
		op.RollbackData = before
		if err := sqlite.UpdateEntity(ctx, t.tx, target, targetId, data); err != nil {
			return err
		}
	case OpDelete:
		before, err := sqlite.FindEntity(ctx, t.tx, target, targetId)
		if err != nil {
			return err
		}
		op.RollbackData = before
		if err := sqlite.DeleteEntity(ctx, t.tx, target, targetId); err != nil {
			return err
		}
	default:
		return fmt.Errorf("%w: %q", ErrUnknownOperation, opType)
	}

	t.appendOp(op)
	return nil
}

// Commit completes the transaction.
//
// A root context physically commits and releases its connection. A nested
// context releases its boundary savepoint and merges its operation log and
// surviving savepoints into the parent; the physical transaction is untouched,
// the nested scope simply stops being a rollback boundary.
func (c *Coordinator) Commit(ctx context.Context, txId string) error {
	t, err := c.lookup(txId)
	if err != nil {
		return err
	}
	defer c.forget(txId)

	if t.IsRoot() {
		return c.commitRoot(t)
	}
	return c.commitNested(ctx, t)
}

func (c *Coordinator) commitRoot(t *Tx) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	defer c.releaseConn(t)

	if t.status != StatusPending && t.status != StatusActive {
		return fmt.Errorf("%w: commit on %s transaction %s", ErrTransactionState, t.status, t.id)
	}
	if err := t.tx.Commit(); err != nil {
		t.status = StatusFailed
		return fmt.Errorf("commit: %w", err)
	}
	if err := t.setStatus(StatusCommitted); err != nil {
		return err
	}
	c.logger.Info("transaction committed", "tx", t.id, "operations", len(t.ops))
	return nil
}

func (c *Coordinator) commitNested(ctx context.Context, t *Tx) error {
	parent, err := c.lookup(t.parentId)
	if err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.status != StatusPending && t.status != StatusActive {
		return fmt.Errorf("%w: commit on %s transaction %s", ErrTransactionState, t.status, t.id)
	}
	if _, err := t.tx.ExecContext(ctx, "RELEASE SAVEPOINT "+t.beginSavepoint); err != nil {
		t.status = StatusFailed
		return fmt.Errorf("release nested savepoint: %w", err)
	}

	parent.mu.Lock()
	offset := len(parent.ops)
	parent.ops = append(parent.ops, t.ops...)
	for _, sp := range t.savepoints {
		sp.LogPosition += offset
		parent.savepoints = append(parent.savepoints, sp)
	}
	parent.mu.Unlock()

	if err := t.setStatus(StatusCommitted); err != nil {
		return err
	}
	c.logger.Info("nested transaction merged", "tx", t.id, "parent", t.parentId, "operations", len(t.ops))
	return nil
}

// Rollback undoes the transaction.
//
// A root context physically rolls back and releases its connection. A nested
// context rolls back to its boundary savepoint, undoing exactly the writes
// made since its begin; the parent's earlier writes survive. Resources are
// released even when the rollback call itself fails.
func (c *Coordinator) Rollback(ctx context.Context, txId string) error {
	t, err := c.lookup(txId)
	if err != nil {
		return err
	}
	defer c.forget(txId)

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.status.IsTerminal() {
		return fmt.Errorf("%w: rollback on %s transaction %s", ErrTransactionState, t.status, t.id)
	}

	if t.IsRoot() {
		defer c.releaseConn(t)
		if err := t.tx.Rollback(); err != nil {
			t.status = StatusFailed
			return fmt.Errorf("rollback: %w", err)
		}
	} else {
		if _, err := t.tx.ExecContext(ctx, "ROLLBACK TO SAVEPOINT "+t.beginSavepoint); err != nil {
			t.status = StatusFailed
			return fmt.Errorf("rollback to nested savepoint: %w", err)
		}
		// Drop the boundary itself; the enclosing transaction keeps going.
		if _, err := t.tx.ExecContext(ctx, "RELEASE SAVEPOINT "+t.beginSavepoint); err != nil {
			t.status = StatusFailed
			return fmt.Errorf("release nested savepoint: %w", err)
		}
		t.ops = nil
		t.savepoints = nil
	}

	if err := t.setStatus(StatusRolledBack); err != nil {
		return err
	}
	c.logger.Info("transaction rolled back", "tx", t.id, "root", t.IsRoot())
	return nil
}

// releaseConn closes the root's dedicated connection, exactly once.
func (c *Coordinator) releaseConn(t *Tx) {
	if t.conn == nil {
		return
	}
	if err := t.conn.Close(); err != nil {
		c.logger.Warn("connection close failed", "tx", t.id, "err", err)
	}
	t.conn = nil
}

// ExecuteInTransaction runs fn inside a fresh root transaction: commit on
// success, rollback on error. A rollback failure is logged but never masks
// fn's error.
func (c *Coordinator) ExecuteInTransaction(ctx context.Context, fn func(ctx context.Context, t *Tx) error) error {
	t, err := c.Begin(ctx, nil)
	if err != nil {
		return err
	}
	return c.run(ctx, t, fn)
}

// ExecuteInNestedTransaction runs fn inside a nested transaction under the
// given parent, with the same commit/rollback contract.
func (c *Coordinator) ExecuteInNestedTransaction(ctx context.Context, parentId string, fn func(ctx context.Context, t *Tx) error) error {
	t, err := c.BeginNested(ctx, parentId, nil)
	if err != nil {
		return err
	}
	return c.run(ctx, t, fn)
}

func (c *Coordinator) run(ctx context.Context, t *Tx, fn func(ctx context.Context, t *Tx) error) error {
	if err := fn(ctx, t); err != nil {
		if rbErr := c.Rollback(ctx, t.id); rbErr != nil {
			c.logger.Error("rollback after failure also failed", "tx", t.id, "err", rbErr)
		}
		return err
	}
	return c.Commit(ctx, t.id)
}

// CreateSavepoint records a named savepoint at the current log position and
// creates the matching physical savepoint.
func (c *Coordinator) CreateSavepoint(ctx context.Context, txId, name string, metadata map[string]string) error {
	t, err := c.lookup(txId)
	if err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.status != StatusPending && t.status != StatusActive {
		return fmt.Errorf("%w: savepoint on %s transaction %s", ErrTransactionState, t.status, txId)
	}

	sp := Savepoint{
		physicalName: savepointName(),
		Name:         name,
		Metadata:     metadata,
		LogPosition:  len(t.ops),
		CreatedAt:    time.Now().UTC(),
	}
	if _, err := t.tx.ExecContext(ctx, "SAVEPOINT "+sp.physicalName); err != nil {
		return fmt.Errorf("create savepoint %s: %w", name, err)
	}
	t.savepoints = append(t.savepoints, sp)
	return nil
}

// RollbackToSavepoint physically rolls back to the named savepoint and
// truncates the operation log to the position recorded at its creation.
// Both halves happen under one lock; if the physical rollback fails the log
// is left untouched.
func (c *Coordinator) RollbackToSavepoint(ctx context.Context, txId, name string) error {
	t, err := c.lookup(txId)
	if err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	idx, sp := t.findSavepoint(name)
	if sp == nil {
		return fmt.Errorf("%w: %s in %s", ErrSavepointNotFound, name, txId)
	}
	if _, err := t.tx.ExecContext(ctx, "ROLLBACK TO SAVEPOINT "+sp.physicalName); err != nil {
		return fmt.Errorf("rollback to savepoint %s: %w", name, err)
	}

	t.ops = t.ops[:sp.LogPosition]
	// Savepoints created after this one are gone; this one survives and can
	// be rolled back to again.
	t.savepoints = t.savepoints[:idx+1]
	c.logger.Info("rolled back to savepoint", "tx", txId, "savepoint", name, "operations", len(t.ops))
	return nil
}

// ReleaseSavepoint discards the named savepoint, keeping its writes.
// Savepoints created after it are discarded with it.
func (c *Coordinator) ReleaseSavepoint(ctx context.Context, txId, name string) error {
	t, err := c.lookup(txId)
	if err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	idx, sp := t.findSavepoint(name)
	if sp == nil {
		return fmt.Errorf("%w: %s in %s", ErrSavepointNotFound, name, txId)
	}
	if _, err := t.tx.ExecContext(ctx, "RELEASE SAVEPOINT "+sp.physicalName); err != nil {
		return fmt.Errorf("release savepoint %s: %w", name, err)
	}
	t.savepoints = t.savepoints[:idx]
	return nil
}

// DeleteCollectionInTransaction removes a collection and everything under it
// as one atomic relational transaction: chunks, full-text rows, documents,
// then the collection row. Afterward the collection's vectors are purged from
// the vector store best-effort in the background; a vector-store failure is
// logged as a warning and never affects the committed relational delete.
func (c *Coordinator) DeleteCollectionInTransaction(ctx context.Context, collectionId string) error {
	err := c.ExecuteInTransaction(ctx, func(ctx context.Context, t *Tx) error {
		q := t.Querier()

		if _, err := q.ExecContext(ctx,
			"DELETE FROM chunks WHERE document_id IN (SELECT id FROM documents WHERE collection_id = ?)",
			collectionId); err != nil {
			return fmt.Errorf("delete chunks: %w", err)
		}
		if _, err := q.ExecContext(ctx,
			"DELETE FROM document_fts WHERE document_id IN (SELECT id FROM documents WHERE collection_id = ?)",
			collectionId); err != nil {
			return fmt.Errorf("delete full-text rows: %w", err)
		}
		if _, err := q.ExecContext(ctx,
			"DELETE FROM documents WHERE collection_id = ?", collectionId); err != nil {
			return fmt.Errorf("delete documents: %w", err)
		}
		return c.ExecuteOperation(ctx, t.Id(), OpDelete, sqlite.KindCollection, collectionId, nil)
	})
	if err != nil {
		return err
	}

	if c.vectors != nil {
		c.purges.Add(1)
		go func() {
			defer c.purges.Done()
			purgeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
			defer cancel()
			if err := c.vectors.DeletePointsByCollection(purgeCtx, collectionId); err != nil {
				c.logger.Warn("vector purge failed, store will be reconciled later",
					"collection", collectionId, "err", err)
			}
		}()
	}
	return nil
}

// Close rolls back every still-active root transaction and waits for
// in-flight vector purges.
func (c *Coordinator) Close(ctx context.Context) error {
	c.mu.Lock()
	roots := make([]*Tx, 0, len(c.active))
	for _, t := range c.active {
		if t.IsRoot() {
			roots = append(roots, t)
		}
	}
	c.mu.Unlock()

	for _, t := range roots {
		if err := c.Rollback(ctx, t.id); err != nil {
			c.logger.Warn("rollback on close failed", "tx", t.id, "err", err)
		}
	}
	c.purges.Wait()
	return nil
}
