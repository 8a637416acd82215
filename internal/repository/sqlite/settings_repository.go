package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"aria2bot/internal/repository"
)

const createBackendSettingsTable = `
CREATE TABLE IF NOT EXISTS backend_settings (
	name TEXT PRIMARY KEY,
	enabled INTEGER NOT NULL DEFAULT 0,
	auto_upload INTEGER NOT NULL DEFAULT 0,
	delete_after_upload INTEGER NOT NULL DEFAULT 0,
	destination TEXT NOT NULL DEFAULT '',
	updated_at DATETIME NOT NULL
);
`

type SettingsRepository struct {
	db *sql.DB
}

func NewSettingsRepository(db *sql.DB) repository.SettingsRepository {
	return &SettingsRepository{db: db}
}

func (r *SettingsRepository) Init(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, createBackendSettingsTable); err != nil {
		return fmt.Errorf("create backend settings table: %w", err)
	}
	return nil
}

// Get returns nil without error when no row exists for name.
func (r *SettingsRepository) Get(ctx context.Context, name string) (*repository.BackendSettings, error) {
	row := r.db.QueryRowContext(ctx, `
SELECT name, enabled, auto_upload, delete_after_upload, destination, updated_at
FROM backend_settings
WHERE name = ?`,
		name,
	)

	var s repository.BackendSettings
	if err := row.Scan(&s.Name, &s.Enabled, &s.AutoUpload, &s.DeleteAfterUpload, &s.Destination, &s.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan backend settings: %w", err)
	}
	return &s, nil
}

func (r *SettingsRepository) Save(ctx context.Context, s *repository.BackendSettings) error {
	s.UpdatedAt = time.Now().UTC()
	_, err := r.db.ExecContext(ctx, `
INSERT INTO backend_settings (name, enabled, auto_upload, delete_after_upload, destination, updated_at)
VALUES (?, ?, ?, ?, ?, ?)
ON CONFLICT(name) DO UPDATE SET
	enabled = excluded.enabled,
	auto_upload = excluded.auto_upload,
	delete_after_upload = excluded.delete_after_upload,
	destination = excluded.destination,
	updated_at = excluded.updated_at`,
		s.Name,
		s.Enabled,
		s.AutoUpload,
		s.DeleteAfterUpload,
		s.Destination,
		s.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("save backend settings: %w", err)
	}
	return nil
}

var _ repository.SettingsRepository = (*SettingsRepository)(nil)
