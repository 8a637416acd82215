package monitor

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"aria2bot/internal/domain"
	"aria2bot/internal/notify"
)

type countingUploader struct {
	enabled bool
	count   atomic.Int64
	lastGID atomic.Value
}

func (u *countingUploader) AutoUploadEnabled() bool { return u.enabled }

func (u *countingUploader) AutoUpload(ctx context.Context, chatID int64, task domain.Task) {
	u.count.Add(1)
	u.lastGID.Store(task.GID)
}

func newTestRefresher(rpc StatusClient, sink notify.Sink, uploader Uploader) *Refresher {
	r := NewRefresher(rpc, sink, NewGuards(), uploader, nil)
	r.Interval = time.Millisecond
	r.MaxPolls = 100
	return r
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

// sequenceClient serves a scripted series of task snapshots per gid; the
// final snapshot repeats once the script is exhausted.
type sequenceClient struct {
	mu    sync.Mutex
	tasks []domain.Task
	idx   int
}

func (c *sequenceClient) TellStatus(ctx context.Context, gid string) (domain.Task, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	task := c.tasks[c.idx]
	if c.idx < len(c.tasks)-1 {
		c.idx++
	}
	task.GID = gid
	return task, nil
}

func TestRefresherSuppressesUnchangedRenders(t *testing.T) {
	sink := &recordingSink{}
	rpc := statusFunc(func(ctx context.Context, gid string) (domain.Task, error) {
		return domain.Task{GID: gid, Status: domain.TaskStatusActive, Name: "same.iso", TotalLength: 100, CompletedLength: 50}, nil
	})
	r := newTestRefresher(rpc, sink, nil)

	key := SurfaceKey{ChatID: 1, MessageID: 10}
	r.Start(context.Background(), key, "gid1")

	waitFor(t, "first render", func() bool { return len(sink.editsSnapshot()) >= 1 })
	time.Sleep(30 * time.Millisecond)
	r.StopAll()

	if got := len(sink.editsSnapshot()); got != 1 {
		t.Errorf("renders = %d, want 1 for unchanged text", got)
	}
}

func TestRefresherSupersession(t *testing.T) {
	sink := &recordingSink{}
	rpc := statusFunc(func(ctx context.Context, gid string) (domain.Task, error) {
		return domain.Task{GID: gid, Status: domain.TaskStatusActive, Name: gid + ".iso", TotalLength: 100, CompletedLength: 10}, nil
	})
	r := newTestRefresher(rpc, sink, nil)

	key := SurfaceKey{ChatID: 1, MessageID: 10}
	r.Start(context.Background(), key, "first")
	waitFor(t, "first loop render", func() bool {
		return countContaining(sink.editsSnapshot(), "first.iso") >= 1
	})

	// Start returns only after the superseded loop has fully exited.
	r.Start(context.Background(), key, "second")
	before := countContaining(sink.editsSnapshot(), "first.iso")

	time.Sleep(30 * time.Millisecond)
	r.StopAll()

	after := countContaining(sink.editsSnapshot(), "first.iso")
	if after != before {
		t.Errorf("superseded loop rendered again: %d -> %d", before, after)
	}
	if countContaining(sink.editsSnapshot(), "second.iso") == 0 {
		t.Error("replacement loop never rendered")
	}
}

func countContaining(texts []string, sub string) int {
	n := 0
	for _, text := range texts {
		if strings.Contains(text, sub) {
			n++
		}
	}
	return n
}

func TestRefresherStopsOnEditFailure(t *testing.T) {
	sink := &recordingSink{editErr: context.DeadlineExceeded}
	uploader := &countingUploader{enabled: true}
	rpc := statusFunc(func(ctx context.Context, gid string) (domain.Task, error) {
		return completedTask(gid), nil
	})
	r := newTestRefresher(rpc, sink, uploader)

	key := SurfaceKey{ChatID: 1, MessageID: 10}
	r.Start(context.Background(), key, "gid1")
	waitFor(t, "loop exit", func() bool { return r.loopCount() == 0 })

	if got := uploader.count.Load(); got != 0 {
		t.Errorf("uploads = %d, want 0 when the surface is gone", got)
	}
}

func (r *Refresher) loopCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.loops)
}

func TestRefresherAutoUploadsOncePerGID(t *testing.T) {
	uploader := &countingUploader{enabled: true}
	sink := &recordingSink{}
	rpc := statusFunc(func(ctx context.Context, gid string) (domain.Task, error) {
		return completedTask(gid), nil
	})
	r := newTestRefresher(rpc, sink, uploader)

	// Two surfaces watching the same download.
	r.Start(context.Background(), SurfaceKey{ChatID: 1, MessageID: 10}, "gid1")
	r.Start(context.Background(), SurfaceKey{ChatID: 2, MessageID: 20}, "gid1")

	waitFor(t, "auto upload", func() bool { return uploader.count.Load() >= 1 })
	time.Sleep(30 * time.Millisecond)
	r.StopAll()

	if got := uploader.count.Load(); got != 1 {
		t.Errorf("uploads = %d, want exactly 1", got)
	}
	if gid, _ := uploader.lastGID.Load().(string); gid != "gid1" {
		t.Errorf("uploaded gid = %q, want gid1", gid)
	}
}

func TestRefresherSkipsUploadWhenDisabled(t *testing.T) {
	uploader := &countingUploader{enabled: false}
	sink := &recordingSink{}
	rpc := statusFunc(func(ctx context.Context, gid string) (domain.Task, error) {
		return completedTask(gid), nil
	})
	r := newTestRefresher(rpc, sink, uploader)

	key := SurfaceKey{ChatID: 1, MessageID: 10}
	r.Start(context.Background(), key, "gid1")
	waitFor(t, "loop exit", func() bool { return r.loopCount() == 0 })

	if got := uploader.count.Load(); got != 0 {
		t.Errorf("uploads = %d, want 0 when auto-upload is disabled", got)
	}
}

func TestRefresherLifecycleEndToEnd(t *testing.T) {
	size := int64(100 * 1024 * 1024)
	rpc := &sequenceClient{tasks: []domain.Task{
		{Status: domain.TaskStatusWaiting, Name: "film.mkv", TotalLength: size},
		{Status: domain.TaskStatusActive, Name: "film.mkv", TotalLength: size, CompletedLength: size / 2, DownloadSpeed: 1 << 20},
		{Status: domain.TaskStatusComplete, Name: "film.mkv", TotalLength: size, CompletedLength: size, Dir: "/downloads"},
	}}
	sink := &recordingSink{}
	uploader := &countingUploader{enabled: true}
	r := newTestRefresher(rpc, sink, uploader)

	key := SurfaceKey{ChatID: 5, MessageID: 42}
	r.Start(context.Background(), key, "gid9")

	waitFor(t, "terminal render", func() bool {
		return countContaining(sink.editsSnapshot(), "Status: complete") >= 1
	})
	r.StopAll()

	edits := sink.editsSnapshot()
	if len(edits) != 3 {
		t.Errorf("renders = %d, want 3 distinct states", len(edits))
	}
	final := edits[len(edits)-1]
	if !strings.Contains(final, "100.0MB/100.0MB") {
		t.Errorf("final render %q should contain 100.0MB/100.0MB", final)
	}
	waitFor(t, "auto upload", func() bool { return uploader.count.Load() == 1 })
}

func TestGuardsFirstClaimWins(t *testing.T) {
	g := NewGuards()

	var wins atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if g.MarkAutoUploaded("gid") {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()

	if got := wins.Load(); got != 1 {
		t.Errorf("winners = %d, want 1", got)
	}
	if g.MarkNotified("gid") != true {
		t.Error("independent guard sets must not interfere")
	}
	if g.MarkNotified("gid") {
		t.Error("second notify claim must lose")
	}
}
