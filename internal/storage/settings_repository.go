package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/RaajeevKalyan/portfolio-analyzer/internal/models"
)

// SettingsRepository stores the single user settings row
type SettingsRepository struct {
	db               *PostgresDB
	defaultRetention int
}

// NewSettingsRepository creates a settings repository. defaultRetention is
// returned until settings are first saved.
func NewSettingsRepository(db *PostgresDB, defaultRetention int) *SettingsRepository {
	return &SettingsRepository{db: db, defaultRetention: defaultRetention}
}

// Get returns the settings, falling back to defaults when none are saved
func (r *SettingsRepository) Get(ctx context.Context) (*models.UserSettings, error) {
	var s models.UserSettings
	err := r.db.Pool().QueryRow(ctx, `
		SELECT snapshot_retention_limit, updated_at FROM user_settings WHERE id = 1
	`).Scan(&s.SnapshotRetentionLimit, &s.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return &models.UserSettings{SnapshotRetentionLimit: r.defaultRetention}, nil
		}
		return nil, fmt.Errorf("failed to get settings: %w", err)
	}
	return &s, nil
}

// Save upserts the settings row
func (r *SettingsRepository) Save(ctx context.Context, settings *models.UserSettings) error {
	settings.UpdatedAt = time.Now().UTC()
	_, err := r.db.Pool().Exec(ctx, `
		INSERT INTO user_settings (id, snapshot_retention_limit, updated_at)
		VALUES (1, $1, $2)
		ON CONFLICT (id) DO UPDATE SET
			snapshot_retention_limit = EXCLUDED.snapshot_retention_limit,
			updated_at = EXCLUDED.updated_at
	`, settings.SnapshotRetentionLimit, settings.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to save settings: %w", err)
	}
	return nil
}
