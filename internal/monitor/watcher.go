package monitor

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"aria2bot/internal/aria2"
	"aria2bot/internal/domain"
	"aria2bot/internal/notify"
)

// StatusClient is the slice of the RPC client the polling loops need.
type StatusClient interface {
	TellStatus(ctx context.Context, gid string) (domain.Task, error)
}

// Watcher runs per-task completion monitors: poll until a terminal state,
// then notify the originating chat exactly once.
type Watcher struct {
	rpc    StatusClient
	sink   notify.Sink
	guards *Guards
	logger *logrus.Logger

	// Interval and MaxPolls default to 5s and 17280 (roughly 24 hours).
	Interval time.Duration
	MaxPolls int

	mu      sync.Mutex
	running map[string]struct{}
	wg      sync.WaitGroup
}

func NewWatcher(rpc StatusClient, sink notify.Sink, guards *Guards, logger *logrus.Logger) *Watcher {
	if logger == nil {
		logger = logrus.New()
	}
	return &Watcher{
		rpc:      rpc,
		sink:     sink,
		guards:   guards,
		logger:   logger,
		Interval: 5 * time.Second,
		MaxPolls: 17280,
		running:  make(map[string]struct{}),
	}
}

// Watch starts a background monitor for gid unless one is already running.
func (w *Watcher) Watch(ctx context.Context, gid string, chatID int64) {
	w.mu.Lock()
	if _, ok := w.running[gid]; ok {
		w.mu.Unlock()
		return
	}
	w.running[gid] = struct{}{}
	w.mu.Unlock()

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		defer func() {
			w.mu.Lock()
			delete(w.running, gid)
			w.mu.Unlock()
		}()
		w.Run(ctx, gid, chatID)
	}()
}

// Wait blocks until all monitors have exited.
func (w *Watcher) Wait() {
	w.wg.Wait()
}

// Run polls gid until a terminal state, the task disappears, or the poll cap
// is hit. It blocks; Watch is the fire-and-forget entry point. Safe to run
// concurrently for the same gid: the notified guard arbitrates.
func (w *Watcher) Run(ctx context.Context, gid string, chatID int64) {
	logger := w.logger.WithField("gid", gid)

	for i := 0; i < w.MaxPolls; i++ {
		task, err := w.rpc.TellStatus(ctx, gid)
		if err != nil {
			if !aria2.IsNotFound(err) {
				logger.Warnf("status poll failed: %v", err)
			}
			// Task deleted before reaching a terminal state.
			return
		}

		switch task.Status {
		case domain.TaskStatusComplete:
			if w.guards.MarkNotified(gid) {
				w.notify(ctx, chatID, renderCompletion(task), logger)
			}
			return
		case domain.TaskStatusError:
			if w.guards.MarkNotified(gid) {
				w.notify(ctx, chatID, renderFailure(task), logger)
			}
			return
		case domain.TaskStatusRemoved:
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(w.Interval):
		}
	}
}

func (w *Watcher) notify(ctx context.Context, chatID int64, text string, logger *logrus.Entry) {
	if _, err := w.sink.SendMessage(ctx, chatID, text); err != nil {
		logger.Warnf("send notification: %v", err)
	}
}
