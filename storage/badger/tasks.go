package badger

import (
	"context"
	"errors"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/poiesic/docsync/core"
	"github.com/poiesic/docsync/storage"
)

// TaskStore implements storage.TaskStore for BadgerDB.
type TaskStore struct {
	backend *Backend
}

var _ storage.TaskStore = (*TaskStore)(nil)

// NewTaskStore creates a new TaskStore.
func NewTaskStore(backend *Backend) *TaskStore {
	return &TaskStore{backend: backend}
}

// Close releases store resources. The backend is owned by the caller.
func (s *TaskStore) Close() error {
	return nil
}

// SaveTask persists a new task. Fails with ErrDuplicateKey if the ID exists.
func (s *TaskStore) SaveTask(ctx context.Context, task *core.Task) error {
	return s.backend.WithTx(func(tx *badger.Txn) error {
		key := makeTaskKey(task.Id)

		_, err := tx.Get(key)
		if err == nil {
			return storage.ErrDuplicateKey
		}
		if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}

		now := time.Now().UTC()
		if task.CreatedAt.IsZero() {
			task.CreatedAt = now
		}
		task.UpdatedAt = now

		value := storage.MarshalTask(task)
		if err := tx.Set(key, value); err != nil {
			return err
		}
		return tx.Commit()
	}, true)
}

// GetTask retrieves a task by ID.
func (s *TaskStore) GetTask(ctx context.Context, id string) (*core.Task, error) {
	var task *core.Task
	err := s.backend.WithTx(func(tx *badger.Txn) error {
		var err error
		task, err = s.readTask(tx, id)
		return err
	}, false)
	if err != nil {
		return nil, err
	}
	return task, nil
}

// GetTasksByStatus retrieves all tasks of the given type with the given status.
func (s *TaskStore) GetTasksByStatus(ctx context.Context, taskType, status string) ([]*core.Task, error) {
	return s.scanTasks(func(task *core.Task) bool {
		return task.TaskType == taskType && task.Status == status
	})
}

// GetTasksByType retrieves all tasks of the given type.
func (s *TaskStore) GetTasksByType(ctx context.Context, taskType string) ([]*core.Task, error) {
	return s.scanTasks(func(task *core.Task) bool {
		return task.TaskType == taskType
	})
}

// UpdateTask applies a partial update to an existing task.
// Concurrent writers can race on the same key (a transition and a progress
// update, for instance); the read-modify-write is re-run when the loser's
// commit reports a conflict.
func (s *TaskStore) UpdateTask(ctx context.Context, id string, update storage.TaskUpdate) (*core.Task, error) {
	var updated *core.Task
	var err error
	for attempt := 0; attempt < updateTaskAttempts; attempt++ {
		updated, err = s.tryUpdateTask(id, update)
		if !errors.Is(err, badger.ErrConflict) {
			break
		}
	}
	if err != nil {
		return nil, err
	}
	return updated, nil
}

const updateTaskAttempts = 10

func (s *TaskStore) tryUpdateTask(id string, update storage.TaskUpdate) (*core.Task, error) {
	var updated *core.Task
	err := s.backend.WithTx(func(tx *badger.Txn) error {
		task, err := s.readTask(tx, id)
		if err != nil {
			return err
		}

		if update.Status != nil {
			task.Status = *update.Status
		}
		if update.Retries != nil {
			task.Retries = *update.Retries
		}
		if update.Error != nil {
			task.Error = *update.Error
		}
		if update.Progress != nil {
			task.Progress = *update.Progress
		}
		if update.LastAttemptAt != nil {
			task.LastAttemptAt = update.LastAttemptAt
		}
		if update.StartedAt != nil {
			task.StartedAt = update.StartedAt
		}
		if update.CompletedAt != nil {
			task.CompletedAt = update.CompletedAt
		}
		task.MergeContext(update.Context)
		task.UpdatedAt = time.Now().UTC()

		value := storage.MarshalTask(task)
		if err := tx.Set(makeTaskKey(id), value); err != nil {
			return err
		}
		updated = task
		return tx.Commit()
	}, true)
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// DeleteTask removes a task by ID.
func (s *TaskStore) DeleteTask(ctx context.Context, id string) error {
	return s.backend.WithTx(func(tx *badger.Txn) error {
		key := makeTaskKey(id)
		if _, err := tx.Get(key); err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return storage.ErrNotFound
			}
			return err
		}
		if err := tx.Delete(key); err != nil {
			return err
		}
		return tx.Commit()
	}, true)
}

// CleanupExpiredTasks deletes terminal tasks of the given type older than olderThan.
func (s *TaskStore) CleanupExpiredTasks(ctx context.Context, taskType string, terminalStatuses []string, olderThan time.Time) (int, error) {
	terminal := make(map[string]struct{}, len(terminalStatuses))
	for _, status := range terminalStatuses {
		terminal[status] = struct{}{}
	}

	expired, err := s.scanTasks(func(task *core.Task) bool {
		if task.TaskType != taskType {
			return false
		}
		if _, ok := terminal[task.Status]; !ok {
			return false
		}
		return task.UpdatedAt.Before(olderThan)
	})
	if err != nil {
		return 0, err
	}

	deleted := 0
	for _, task := range expired {
		if err := s.DeleteTask(ctx, task.Id); err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				continue
			}
			return deleted, err
		}
		deleted++
	}
	return deleted, nil
}

// readTask reads and unmarshals one task within a transaction.
func (s *TaskStore) readTask(tx *badger.Txn, id string) (*core.Task, error) {
	item, err := tx.Get(makeTaskKey(id))
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil, storage.ErrNotFound
		}
		return nil, err
	}

	var task *core.Task
	err = item.Value(func(val []byte) error {
		var err error
		task, err = storage.UnmarshalTask(val)
		return err
	})
	if err != nil {
		return nil, err
	}
	return task, nil
}

// scanTasks iterates all task records and returns those matching the filter.
func (s *TaskStore) scanTasks(match func(*core.Task) bool) ([]*core.Task, error) {
	var tasks []*core.Task
	err := s.backend.WithTx(func(tx *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(taskRecordPrefix)
		iter := tx.NewIterator(opts)
		defer iter.Close()

		for iter.Rewind(); iter.Valid(); iter.Next() {
			item := iter.Item()
			var task *core.Task
			err := item.Value(func(val []byte) error {
				var err error
				task, err = storage.UnmarshalTask(val)
				return err
			})
			if err != nil {
				return err
			}
			if match(task) {
				tasks = append(tasks, task)
			}
		}
		return nil
	}, false)
	if err != nil {
		return nil, err
	}
	return tasks, nil
}
