package core

import "time"

// Task is one durable unit of FSM-tracked work, such as one document's sync.
// A task is created once, mutated only through transitions or progress
// updates, and deleted only by the reaper once terminal and expired.
type Task struct {
	Id            string
	TaskType      string
	Status        string
	Retries       int
	LastAttemptAt *time.Time
	Error         string
	CreatedAt     time.Time
	UpdatedAt     time.Time
	StartedAt     *time.Time
	CompletedAt   *time.Time
	Progress      int // 0..100
	Context       map[string]string
}

// Clone returns a deep copy of the task.
// Stores hand out clones so callers cannot mutate persisted state in place.
func (t *Task) Clone() *Task {
	if t == nil {
		return nil
	}
	clone := *t
	if t.LastAttemptAt != nil {
		v := *t.LastAttemptAt
		clone.LastAttemptAt = &v
	}
	if t.StartedAt != nil {
		v := *t.StartedAt
		clone.StartedAt = &v
	}
	if t.CompletedAt != nil {
		v := *t.CompletedAt
		clone.CompletedAt = &v
	}
	if t.Context != nil {
		clone.Context = make(map[string]string, len(t.Context))
		for k, v := range t.Context {
			clone.Context[k] = v
		}
	}
	return &clone
}

// MergeContext copies the given entries into the task context, allocating it
// if needed. Existing keys are overwritten.
func (t *Task) MergeContext(entries map[string]string) {
	if len(entries) == 0 {
		return
	}
	if t.Context == nil {
		t.Context = make(map[string]string, len(entries))
	}
	for k, v := range entries {
		t.Context[k] = v
	}
}
