package monitor

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"aria2bot/internal/domain"
	"aria2bot/internal/notify"
)

// SurfaceKey identifies one renderable chat message. At most one refresh
// loop targets a surface at any time.
type SurfaceKey struct {
	ChatID    int64
	MessageID int64
}

// Uploader is the coordinator hand-off the refresher fires when a watched
// task completes and any backend has auto-upload enabled.
type Uploader interface {
	AutoUploadEnabled() bool
	AutoUpload(ctx context.Context, chatID int64, task domain.Task)
}

type refreshLoop struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// Refresher keeps task detail messages live, re-rendering on change until
// the task reaches a terminal state or the iteration cap.
type Refresher struct {
	rpc      StatusClient
	sink     notify.Sink
	guards   *Guards
	uploader Uploader
	logger   *logrus.Logger

	// Interval and MaxPolls default to 2s and 60 (roughly two minutes).
	Interval time.Duration
	MaxPolls int

	mu    sync.Mutex
	loops map[SurfaceKey]*refreshLoop
}

func NewRefresher(rpc StatusClient, sink notify.Sink, guards *Guards, uploader Uploader, logger *logrus.Logger) *Refresher {
	if logger == nil {
		logger = logrus.New()
	}
	return &Refresher{
		rpc:      rpc,
		sink:     sink,
		guards:   guards,
		uploader: uploader,
		logger:   logger,
		Interval: 2 * time.Second,
		MaxPolls: 60,
		loops:    make(map[SurfaceKey]*refreshLoop),
	}
}

// Start begins refreshing the surface with gid's detail view. Any loop
// already bound to the key is cancelled and awaited first, so a superseded
// loop never renders again.
func (r *Refresher) Start(ctx context.Context, key SurfaceKey, gid string) {
	r.Stop(key)

	loopCtx, cancel := context.WithCancel(ctx)
	loop := &refreshLoop{cancel: cancel, done: make(chan struct{})}

	r.mu.Lock()
	r.loops[key] = loop
	r.mu.Unlock()

	go func() {
		defer close(loop.done)
		defer func() {
			r.mu.Lock()
			if r.loops[key] == loop {
				delete(r.loops, key)
			}
			r.mu.Unlock()
		}()
		r.run(loopCtx, key, gid)
	}()
}

// Stop cancels the loop bound to key, if any, and waits for it to exit.
func (r *Refresher) Stop(key SurfaceKey) {
	r.mu.Lock()
	loop, ok := r.loops[key]
	if ok {
		delete(r.loops, key)
	}
	r.mu.Unlock()

	if ok {
		loop.cancel()
		<-loop.done
	}
}

// StopAll cancels every running loop. Used on shutdown.
func (r *Refresher) StopAll() {
	r.mu.Lock()
	loops := make([]*refreshLoop, 0, len(r.loops))
	for key, loop := range r.loops {
		loops = append(loops, loop)
		delete(r.loops, key)
	}
	r.mu.Unlock()

	for _, loop := range loops {
		loop.cancel()
		<-loop.done
	}
}

func (r *Refresher) run(ctx context.Context, key SurfaceKey, gid string) {
	logger := r.logger.WithField("gid", gid)
	ref := notify.MessageRef{ChatID: key.ChatID, MessageID: key.MessageID}

	lastText := ""
	for i := 0; i < r.MaxPolls; i++ {
		if ctx.Err() != nil {
			return
		}

		task, err := r.rpc.TellStatus(ctx, gid)
		if err != nil {
			// Disappeared or unreachable; either way this surface is done.
			return
		}

		text := RenderDetail(task)
		if text != lastText {
			if err := r.sink.EditMessage(ctx, ref, text); err != nil {
				logger.Warnf("edit detail message: %v", err)
				return
			}
			lastText = text
		}

		if task.Status.Terminal() {
			if task.Status == domain.TaskStatusComplete {
				r.maybeAutoUpload(ctx, key.ChatID, task)
			}
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(r.Interval):
		}
	}
}

// maybeAutoUpload hands a completed task to the upload coordinator at most
// once per gid, no matter how many refreshers or monitors saw the
// completion. The guard is claimed before the goroutine is spawned.
func (r *Refresher) maybeAutoUpload(ctx context.Context, chatID int64, task domain.Task) {
	if r.uploader == nil || !r.uploader.AutoUploadEnabled() {
		return
	}
	if !r.guards.MarkAutoUploaded(task.GID) {
		return
	}
	// The coordinator drives the channel leg from this same hand-off, so its
	// per-backend claim is taken here; any separately added channel trigger
	// must consult this marker before uploading.
	r.guards.MarkChannelUploaded(task.GID)
	go r.uploader.AutoUpload(context.WithoutCancel(ctx), chatID, task)
}
