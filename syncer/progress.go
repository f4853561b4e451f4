package syncer

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/poiesic/docsync/storage"
)

type progressConfig struct {
	interval time.Duration
	step     int
	cap      int
}

func defaultProgressConfig() progressConfig {
	return progressConfig{
		interval: 2 * time.Second,
		step:     5,
		cap:      90,
	}
}

// progressNudger periodically bumps a task's persisted progress while its
// pipeline runs, up to a cap below 100 so that only a final state reports
// completion. Progress only ever moves up.
type progressNudger struct {
	store  storage.TaskStore
	taskID string
	config progressConfig
	logger *slog.Logger

	stopCh   chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

func newProgressNudger(store storage.TaskStore, taskID string, config progressConfig, logger *slog.Logger) *progressNudger {
	return &progressNudger{
		store:  store,
		taskID: taskID,
		config: config,
		logger: logger,
		stopCh: make(chan struct{}),
		done:   make(chan struct{}),
	}
}

func (n *progressNudger) start(ctx context.Context) {
	go func() {
		defer close(n.done)
		ticker := time.NewTicker(n.config.interval)
		defer ticker.Stop()
		for {
			select {
			case <-n.stopCh:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				n.nudge(ctx)
			}
		}
	}()
}

// stop halts the nudger and waits for the goroutine to exit, so no update
// races a terminal transition written after stop returns.
func (n *progressNudger) stop() {
	n.stopOnce.Do(func() { close(n.stopCh) })
	<-n.done
}

func (n *progressNudger) nudge(ctx context.Context) {
	t, err := n.store.GetTask(ctx, n.taskID)
	if err != nil {
		n.logger.Warn("progress read failed", "task", n.taskID, "err", err)
		return
	}
	if t.Progress >= n.config.cap {
		return
	}
	next := min(t.Progress+n.config.step, n.config.cap)
	if _, err := n.store.UpdateTask(ctx, n.taskID, storage.TaskUpdate{Progress: &next}); err != nil {
		n.logger.Warn("progress update failed", "task", n.taskID, "err", err)
	}
}
