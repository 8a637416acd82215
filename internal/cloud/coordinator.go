package cloud

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"aria2bot/internal/domain"
	"aria2bot/internal/notify"
)

// Coordinator runs zero, one or two upload backends against a completed
// download and owns the local-delete decision. When both backends are
// enabled with auto-upload and delete-after-upload, uploads run in parallel
// and the local file is deleted only if every required backend succeeds.
// Any other flag combination runs the backends independently, each deleting
// on its own success per its own flag.
type Coordinator struct {
	remote       Backend
	channel      Backend
	settings     SettingsSource
	sink         notify.Sink
	downloadRoot string
	logger       *logrus.Logger

	// ProgressInterval throttles upload progress edits, default 2s.
	ProgressInterval time.Duration
}

func NewCoordinator(remote, channel Backend, settings SettingsSource, sink notify.Sink, downloadRoot string, logger *logrus.Logger) *Coordinator {
	if logger == nil {
		logger = logrus.New()
	}
	return &Coordinator{
		remote:           remote,
		channel:          channel,
		settings:         settings,
		sink:             sink,
		downloadRoot:     downloadRoot,
		logger:           logger,
		ProgressInterval: 2 * time.Second,
	}
}

// AutoUploadEnabled reports whether any backend would act on a completed
// task right now. Flags are read live, not cached.
func (c *Coordinator) AutoUploadEnabled() bool {
	rf, cf := c.settings.RemoteFlags(), c.settings.ChannelFlags()
	return (c.remote != nil && rf.Enabled && rf.AutoUpload) ||
		(c.channel != nil && cf.Enabled && cf.AutoUpload)
}

// AutoUpload is the automatic trigger invoked once per GID by the refresher
// hand-off. It never panics past its boundary: every outcome ends in a
// user-visible message.
func (c *Coordinator) AutoUpload(ctx context.Context, chatID int64, task domain.Task) {
	logger := c.logger.WithField("gid", task.GID)

	localPath := filepath.Join(task.Dir, task.Name)
	if _, err := os.Stat(localPath); err != nil {
		logger.Errorf("auto upload skipped, local file missing: %v", err)
		return
	}

	rf, cf := c.settings.RemoteFlags(), c.settings.ChannelFlags()
	needRemote := c.remote != nil && rf.Enabled && rf.AutoUpload && c.remote.Ready(ctx)
	needChannel := c.channel != nil && cf.Enabled && cf.AutoUpload && c.channel.Ready(ctx)

	// Coordinated delete only when both sides want auto-upload AND delete;
	// any weaker combination falls back to fully independent runs.
	if needRemote && rf.DeleteAfterUpload && needChannel && cf.DeleteAfterUpload {
		logger.Info("starting coordinated parallel upload")
		c.coordinatedUpload(ctx, chatID, task, localPath)
		return
	}

	var wg sync.WaitGroup
	if needRemote {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.runUpload(ctx, chatID, c.remote, task, localPath, rf.DeleteAfterUpload)
		}()
	}
	if needChannel {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if !c.checkPayloadSize(ctx, chatID, c.channel, task, localPath) {
				return
			}
			c.runUpload(ctx, chatID, c.channel, task, localPath, cf.DeleteAfterUpload)
		}()
	}
	wg.Wait()
}

// coordinatedUpload runs both backends in parallel with per-backend deletes
// suppressed, then deletes the local file only if all required backends
// succeeded. A channel skip for payload size removes it from the required
// set instead of counting as a failure.
func (c *Coordinator) coordinatedUpload(ctx context.Context, chatID int64, task domain.Task, localPath string) {
	logger := c.logger.WithField("gid", task.GID)

	type result struct {
		name string
		err  error
	}

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		results []result
	)
	runRequired := func(b Backend) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := c.runUpload(ctx, chatID, b, task, localPath, false)
			mu.Lock()
			results = append(results, result{name: b.Name(), err: err})
			mu.Unlock()
		}()
	}

	runRequired(c.remote)
	if c.checkPayloadSize(ctx, chatID, c.channel, task, localPath) {
		runRequired(c.channel)
	}
	wg.Wait()

	if len(results) == 0 {
		logger.Warn("coordinated upload skipped, no eligible backend")
		return
	}

	allOK := true
	for _, r := range results {
		if r.err != nil {
			logger.Errorf("coordinated upload failed (%s): %v", r.name, r.err)
			allOK = false
		}
	}

	if allOK {
		deleteMsg := c.deleteLocal(localPath, task.GID)
		c.send(ctx, chatID, fmt.Sprintf("All uploads complete: %s\n%s", task.Name, deleteMsg))
	} else {
		c.send(ctx, chatID, fmt.Sprintf("Some uploads failed, keeping local file: %s", task.Name))
	}
}

// ManualUpload re-runs one backend on user request. It bypasses the
// automatic dedup guards and never coordinates deletes: the backend's own
// delete flag applies. Validation errors return synchronously; the upload
// itself runs in the background.
func (c *Coordinator) ManualUpload(ctx context.Context, chatID int64, task domain.Task, backendName string) error {
	var (
		backend Backend
		flags   Flags
	)
	switch backendName {
	case c.backendName(c.remote):
		backend, flags = c.remote, c.settings.RemoteFlags()
	case c.backendName(c.channel):
		backend, flags = c.channel, c.settings.ChannelFlags()
	default:
		return fmt.Errorf("unknown upload backend %q", backendName)
	}
	if backend == nil || !flags.Enabled {
		return fmt.Errorf("backend %s is not enabled", backendName)
	}
	if task.Status != domain.TaskStatusComplete {
		return fmt.Errorf("task is not complete, cannot upload")
	}

	localPath := filepath.Join(task.Dir, task.Name)
	info, err := os.Stat(localPath)
	if err != nil {
		return fmt.Errorf("local file missing: %w", err)
	}
	if limited, ok := backend.(SizeLimited); ok && info.Size() > limited.MaxPayloadSize() {
		return fmt.Errorf("file exceeds %dMB limit", limited.MaxPayloadSize()/(1024*1024))
	}
	if !backend.Ready(ctx) {
		return fmt.Errorf("backend %s is not ready", backendName)
	}

	go c.runUpload(context.WithoutCancel(ctx), chatID, backend, task, localPath, flags.DeleteAfterUpload)
	return nil
}

// runUpload drives one backend: start message, throttled progress edits and
// a final outcome message. Returns the backend error for the coordinated
// path to inspect.
func (c *Coordinator) runUpload(ctx context.Context, chatID int64, b Backend, task domain.Task, localPath string, deleteAfter bool) error {
	logger := c.logger.WithField("gid", task.GID)

	ref, err := c.sink.SendMessage(ctx, chatID, fmt.Sprintf("Uploading to %s: %s", b.Name(), task.Name))
	if err != nil {
		logger.Errorf("upload start message: %v", err)
		// Continue without a progress surface; the outcome still gets
		// reported, so the fallback must target the real chat.
		ref.ChatID = chatID
	}

	var progressMu sync.Mutex
	lastEdit := time.Time{}
	progress := func(p Progress) {
		if p.State != UploadStateUploading || p.TotalSize <= 0 {
			return
		}
		progressMu.Lock()
		defer progressMu.Unlock()
		now := time.Now()
		if now.Sub(lastEdit) < c.ProgressInterval {
			return
		}
		lastEdit = now
		text := fmt.Sprintf("Uploading to %s: %s\n%.1f%% (%s/%s)",
			b.Name(), task.Name, p.Percent(),
			domain.FormatSize(p.UploadedSize), domain.FormatSize(p.TotalSize))
		if err := c.sink.EditMessage(ctx, ref, text); err != nil {
			logger.Debugf("progress edit: %v", err)
		}
	}

	uploadErr := b.Upload(ctx, localPath, c.remoteHint(localPath), progress)
	if uploadErr != nil {
		logger.Errorf("upload to %s failed: %v", b.Name(), uploadErr)
		c.edit(ctx, ref, fmt.Sprintf("Upload to %s failed: %s\nError: %v", b.Name(), task.Name, uploadErr))
		return uploadErr
	}

	text := fmt.Sprintf("Upload to %s complete: %s", b.Name(), task.Name)
	if deleteAfter {
		text += "\n" + c.deleteLocal(localPath, task.GID)
	}
	c.edit(ctx, ref, text)
	logger.Infof("upload to %s complete", b.Name())
	return nil
}

// checkPayloadSize warns and reports false when the file exceeds a
// size-limited backend's cap. The skip is user-visible but not a failure.
func (c *Coordinator) checkPayloadSize(ctx context.Context, chatID int64, b Backend, task domain.Task, localPath string) bool {
	limited, ok := b.(SizeLimited)
	if !ok {
		return true
	}
	info, err := os.Stat(localPath)
	if err != nil {
		return true
	}
	if info.Size() <= limited.MaxPayloadSize() {
		return true
	}
	limitMB := limited.MaxPayloadSize() / (1024 * 1024)
	c.send(ctx, chatID, fmt.Sprintf("File %s exceeds the %dMB limit, skipping %s upload",
		task.Name, limitMB, b.Name()))
	return false
}

func (c *Coordinator) deleteLocal(localPath, gid string) string {
	if err := os.RemoveAll(localPath); err != nil {
		c.logger.WithField("gid", gid).Errorf("delete local file: %v", err)
		return fmt.Sprintf("failed to delete local file: %v", err)
	}
	c.logger.WithField("gid", gid).Infof("deleted local file %s", localPath)
	return "local file deleted"
}

// remoteHint preserves the download's directory structure relative to the
// download root when uploading to the remote store.
func (c *Coordinator) remoteHint(localPath string) string {
	if c.downloadRoot == "" {
		return ""
	}
	rel, err := filepath.Rel(c.downloadRoot, filepath.Dir(localPath))
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		return ""
	}
	return filepath.ToSlash(rel)
}

func (c *Coordinator) backendName(b Backend) string {
	if b == nil {
		return ""
	}
	return b.Name()
}

func (c *Coordinator) send(ctx context.Context, chatID int64, text string) {
	if _, err := c.sink.SendMessage(ctx, chatID, text); err != nil {
		c.logger.Warnf("send message: %v", err)
	}
}

func (c *Coordinator) edit(ctx context.Context, ref notify.MessageRef, text string) {
	if err := c.sink.EditMessage(ctx, ref, text); err != nil {
		// Fall back to a fresh message so the final state is never lost.
		if _, sendErr := c.sink.SendMessage(ctx, ref.ChatID, text); sendErr != nil {
			c.logger.Warnf("report upload outcome: %v", sendErr)
		}
	}
}
