package cloud

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"aria2bot/internal/notify"
)

// flakySink fails SendDocument a fixed number of times before succeeding.
type flakySink struct {
	mu           sync.Mutex
	failures     int
	calls        int
	destinations []string
}

func (s *flakySink) SendMessage(ctx context.Context, chatID int64, text string) (notify.MessageRef, error) {
	return notify.MessageRef{}, nil
}

func (s *flakySink) EditMessage(ctx context.Context, ref notify.MessageRef, text string) error {
	return nil
}

func (s *flakySink) SendDocument(ctx context.Context, destination, localPath, caption string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	s.destinations = append(s.destinations, destination)
	if s.calls <= s.failures {
		return fmt.Errorf("transport glitch %d", s.calls)
	}
	return nil
}

func staticDestination(dest string) func() string {
	return func() string { return dest }
}

func TestChannelUploadRetriesTransientFailures(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "film.mkv")
	if err := os.WriteFile(path, []byte("data"), 0o644); err != nil {
		t.Fatal(err)
	}

	sink := &flakySink{failures: 2}
	b := NewChannelBackend(sink, staticDestination("@downloads"), false, nil)
	b.retryDelay = time.Millisecond

	var states []UploadState
	err := b.Upload(context.Background(), path, "", func(p Progress) {
		states = append(states, p.State)
	})
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}
	if sink.calls != 3 {
		t.Errorf("attempts = %d, want 3", sink.calls)
	}
	if len(states) == 0 || states[len(states)-1] != UploadStateCompleted {
		t.Errorf("final state = %v, want completed", states)
	}
}

func TestChannelUploadGivesUpAfterRetries(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "film.mkv")
	if err := os.WriteFile(path, []byte("data"), 0o644); err != nil {
		t.Fatal(err)
	}

	sink := &flakySink{failures: 10}
	b := NewChannelBackend(sink, staticDestination("@downloads"), false, nil)
	b.retryDelay = time.Millisecond

	if err := b.Upload(context.Background(), path, "", nil); err == nil {
		t.Fatal("expected error after exhausting retries")
	}
	if sink.calls != channelUploadAttempts {
		t.Errorf("attempts = %d, want %d", sink.calls, channelUploadAttempts)
	}
}

func TestChannelUploadRejectsDirectories(t *testing.T) {
	b := NewChannelBackend(&flakySink{}, staticDestination("@downloads"), false, nil)
	if err := b.Upload(context.Background(), t.TempDir(), "", nil); err == nil {
		t.Fatal("directories must be rejected")
	}
}

func TestChannelLimits(t *testing.T) {
	standard := NewChannelBackend(&flakySink{}, staticDestination("@downloads"), false, nil)
	if got := standard.MaxPayloadSize(); got != 50*1024*1024 {
		t.Errorf("standard limit = %d", got)
	}
	selfHosted := NewChannelBackend(&flakySink{}, staticDestination("@downloads"), true, nil)
	if got := selfHosted.MaxPayloadSize(); got != 2*1024*1024*1024 {
		t.Errorf("self-hosted limit = %d", got)
	}
}

func TestChannelDestinationReadLive(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "film.mkv")
	if err := os.WriteFile(path, []byte("data"), 0o644); err != nil {
		t.Fatal(err)
	}

	var mu sync.Mutex
	dest := ""
	sink := &flakySink{}
	b := NewChannelBackend(sink, func() string {
		mu.Lock()
		defer mu.Unlock()
		return dest
	}, false, nil)
	b.retryDelay = time.Millisecond

	if b.Ready(context.Background()) {
		t.Error("backend must not be ready without a destination")
	}
	if err := b.Upload(context.Background(), path, "", nil); err == nil {
		t.Fatal("upload must fail without a destination")
	}

	// A settings update lands without reconstructing the backend.
	mu.Lock()
	dest = "@archive"
	mu.Unlock()

	if !b.Ready(context.Background()) {
		t.Error("backend should become ready once a destination is set")
	}
	if err := b.Upload(context.Background(), path, "", nil); err != nil {
		t.Fatalf("Upload: %v", err)
	}
	sink.mu.Lock()
	defer sink.mu.Unlock()
	if len(sink.destinations) != 1 || sink.destinations[0] != "@archive" {
		t.Errorf("destinations = %v, want [@archive]", sink.destinations)
	}
}
