package service

import (
	"context"
	"fmt"
	"sync"

	"aria2bot/internal/cloud"
	"aria2bot/internal/repository"
)

const (
	BackendRemote  = "s3"
	BackendChannel = "channel"
)

// SettingsService keeps the live upload backend flags and persists user
// changes so toggles survive restarts. Environment config seeds the initial
// state; a saved row represents a later user action and wins over the seed.
type SettingsService interface {
	cloud.SettingsSource
	ChannelDestination() string
	Update(ctx context.Context, backend string, mutate func(*repository.BackendSettings)) (repository.BackendSettings, error)
	Snapshot() map[string]repository.BackendSettings
}

type settingsService struct {
	repo repository.SettingsRepository

	mu      sync.RWMutex
	remote  repository.BackendSettings
	channel repository.BackendSettings
}

// NewSettingsService seeds from the given defaults, then overlays whatever
// the repository has persisted.
func NewSettingsService(ctx context.Context, repo repository.SettingsRepository, remoteSeed, channelSeed repository.BackendSettings) (SettingsService, error) {
	remoteSeed.Name = BackendRemote
	channelSeed.Name = BackendChannel

	s := &settingsService{
		repo:    repo,
		remote:  remoteSeed,
		channel: channelSeed,
	}

	for _, seed := range []*repository.BackendSettings{&s.remote, &s.channel} {
		saved, err := repo.Get(ctx, seed.Name)
		if err != nil {
			return nil, fmt.Errorf("load %s settings: %w", seed.Name, err)
		}
		if saved != nil {
			*seed = *saved
		}
	}
	return s, nil
}

func toFlags(s repository.BackendSettings) cloud.Flags {
	return cloud.Flags{
		Enabled:           s.Enabled,
		AutoUpload:        s.AutoUpload,
		DeleteAfterUpload: s.DeleteAfterUpload,
	}
}

func (s *settingsService) RemoteFlags() cloud.Flags {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return toFlags(s.remote)
}

func (s *settingsService) ChannelFlags() cloud.Flags {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return toFlags(s.channel)
}

func (s *settingsService) ChannelDestination() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.channel.Destination
}

// Update applies mutate to one backend's settings and persists the result.
func (s *settingsService) Update(ctx context.Context, backend string, mutate func(*repository.BackendSettings)) (repository.BackendSettings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var target *repository.BackendSettings
	switch backend {
	case BackendRemote:
		target = &s.remote
	case BackendChannel:
		target = &s.channel
	default:
		return repository.BackendSettings{}, fmt.Errorf("unknown backend %q", backend)
	}

	updated := *target
	mutate(&updated)
	updated.Name = backend

	if err := s.repo.Save(ctx, &updated); err != nil {
		return repository.BackendSettings{}, err
	}
	*target = updated
	return updated, nil
}

func (s *settingsService) Snapshot() map[string]repository.BackendSettings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return map[string]repository.BackendSettings{
		BackendRemote:  s.remote,
		BackendChannel: s.channel,
	}
}
