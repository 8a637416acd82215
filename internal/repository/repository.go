package repository

import (
	"context"
	"time"
)

// BackendSettings is one upload backend's persisted user preferences. The
// destination column carries the channel id for the channel backend and the
// remote key prefix for the object store.
type BackendSettings struct {
	Name              string
	Enabled           bool
	AutoUpload        bool
	DeleteAfterUpload bool
	Destination       string
	UpdatedAt         time.Time
}

// SettingsRepository persists backend preferences across restarts. Task
// state is never persisted; aria2 stays the sole source of truth.
type SettingsRepository interface {
	Init(ctx context.Context) error
	Get(ctx context.Context, name string) (*BackendSettings, error)
	Save(ctx context.Context, settings *BackendSettings) error
}

// User is an API account allowed to drive the bot.
type User struct {
	ID           int64
	Username     string
	PasswordHash string
	CreatedAt    time.Time
}

type UserRepository interface {
	Init(ctx context.Context) error
	Create(ctx context.Context, user *User) (int64, error)
	GetByUsername(ctx context.Context, username string) (*User, error)
}
