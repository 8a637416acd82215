package service

import (
	"context"
	"sync"
	"testing"

	"aria2bot/internal/cloud"
	"aria2bot/internal/notify"
	"aria2bot/internal/repository"
)

// memorySettingsRepo is an in-memory stand-in for the sqlite repository.
type memorySettingsRepo struct {
	mu   sync.Mutex
	rows map[string]repository.BackendSettings
}

func newMemorySettingsRepo() *memorySettingsRepo {
	return &memorySettingsRepo{rows: make(map[string]repository.BackendSettings)}
}

func (r *memorySettingsRepo) Init(ctx context.Context) error { return nil }

func (r *memorySettingsRepo) Get(ctx context.Context, name string) (*repository.BackendSettings, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	row, ok := r.rows[name]
	if !ok {
		return nil, nil
	}
	return &row, nil
}

func (r *memorySettingsRepo) Save(ctx context.Context, s *repository.BackendSettings) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rows[s.Name] = *s
	return nil
}

func TestSettingsServiceSeedsFromDefaults(t *testing.T) {
	repo := newMemorySettingsRepo()
	svc, err := NewSettingsService(context.Background(), repo,
		repository.BackendSettings{Enabled: true, AutoUpload: true},
		repository.BackendSettings{Enabled: false, Destination: "@downloads"},
	)
	if err != nil {
		t.Fatalf("NewSettingsService: %v", err)
	}

	rf := svc.RemoteFlags()
	if !rf.Enabled || !rf.AutoUpload || rf.DeleteAfterUpload {
		t.Errorf("remote flags = %+v", rf)
	}
	if svc.ChannelFlags().Enabled {
		t.Error("channel should be disabled by seed")
	}
	if svc.ChannelDestination() != "@downloads" {
		t.Errorf("channel destination = %q", svc.ChannelDestination())
	}
}

func TestSettingsServicePersistedRowWinsOverSeed(t *testing.T) {
	repo := newMemorySettingsRepo()
	repo.rows[BackendRemote] = repository.BackendSettings{
		Name: BackendRemote, Enabled: true, AutoUpload: true, DeleteAfterUpload: true,
	}

	svc, err := NewSettingsService(context.Background(), repo,
		repository.BackendSettings{Enabled: false},
		repository.BackendSettings{},
	)
	if err != nil {
		t.Fatalf("NewSettingsService: %v", err)
	}

	rf := svc.RemoteFlags()
	if !rf.Enabled || !rf.AutoUpload || !rf.DeleteAfterUpload {
		t.Errorf("remote flags = %+v, want persisted row to win", rf)
	}
}

type readyBackend struct{ name string }

func (b readyBackend) Name() string { return b.name }

func (b readyBackend) Ready(ctx context.Context) bool { return true }
func (b readyBackend) Upload(ctx context.Context, localPath, remoteHint string, progress cloud.ProgressFunc) error {
	return nil
}

// A backend enabled only through a persisted row must drive the coordinator,
// even when the environment seed had it disabled.
func TestPersistedEnablementReachesCoordinator(t *testing.T) {
	repo := newMemorySettingsRepo()
	repo.rows[BackendChannel] = repository.BackendSettings{
		Name: BackendChannel, Enabled: true, AutoUpload: true, Destination: "@archive",
	}

	svc, err := NewSettingsService(context.Background(), repo,
		repository.BackendSettings{},
		repository.BackendSettings{},
	)
	if err != nil {
		t.Fatalf("NewSettingsService: %v", err)
	}

	c := cloud.NewCoordinator(nil, readyBackend{name: "channel"}, svc, notify.NewLogSink(nil), "", nil)
	if !c.AutoUploadEnabled() {
		t.Error("coordinator should honor flags merged from the persisted row")
	}
	if svc.ChannelDestination() != "@archive" {
		t.Errorf("channel destination = %q, want @archive", svc.ChannelDestination())
	}
}

func TestSettingsServiceUpdatePersists(t *testing.T) {
	repo := newMemorySettingsRepo()
	svc, err := NewSettingsService(context.Background(), repo,
		repository.BackendSettings{},
		repository.BackendSettings{},
	)
	if err != nil {
		t.Fatalf("NewSettingsService: %v", err)
	}

	updated, err := svc.Update(context.Background(), BackendChannel, func(s *repository.BackendSettings) {
		s.Enabled = true
		s.AutoUpload = true
		s.Destination = "@archive"
	})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if !updated.Enabled || updated.Destination != "@archive" {
		t.Errorf("updated = %+v", updated)
	}

	if !svc.ChannelFlags().Enabled {
		t.Error("in-memory flags should reflect the update")
	}
	saved, _ := repo.Get(context.Background(), BackendChannel)
	if saved == nil || !saved.AutoUpload {
		t.Error("update must be persisted to the repository")
	}

	if _, err := svc.Update(context.Background(), "gdrive", func(*repository.BackendSettings) {}); err == nil {
		t.Error("unknown backend must be rejected")
	}
}
