package service

import (
	"context"

	apperrors "github.com/RaajeevKalyan/portfolio-analyzer/internal/errors"
	"github.com/RaajeevKalyan/portfolio-analyzer/internal/models"
)

// MaxSnapshotRetention caps the retention setting
const MaxSnapshotRetention = 1000

// SettingsRepository reads and writes the user settings row
type SettingsRepository interface {
	Get(ctx context.Context) (*models.UserSettings, error)
	Save(ctx context.Context, settings *models.UserSettings) error
}

// SettingsService validates settings updates
type SettingsService struct {
	repo SettingsRepository
}

// NewSettingsService creates a settings service
func NewSettingsService(repo SettingsRepository) *SettingsService {
	return &SettingsService{repo: repo}
}

// Get returns the current settings
func (s *SettingsService) Get(ctx context.Context) (*models.UserSettings, error) {
	settings, err := s.repo.Get(ctx)
	if err != nil {
		return nil, apperrors.NewDatabaseError("get settings", err)
	}
	return settings, nil
}

// UpdateInput carries the fields a client may change
type UpdateInput struct {
	SnapshotRetentionLimit *int `json:"snapshotRetentionLimit"`
}

// Update applies the provided fields and saves
func (s *SettingsService) Update(ctx context.Context, in UpdateInput) (*models.UserSettings, error) {
	settings, err := s.Get(ctx)
	if err != nil {
		return nil, err
	}

	if in.SnapshotRetentionLimit != nil {
		limit := *in.SnapshotRetentionLimit
		if limit < 1 || limit > MaxSnapshotRetention {
			return nil, apperrors.NewInvalidParameterError("snapshotRetentionLimit", "must be between 1 and 1000")
		}
		settings.SnapshotRetentionLimit = limit
	}

	if err := s.repo.Save(ctx, settings); err != nil {
		return nil, apperrors.NewDatabaseError("save settings", err)
	}
	return settings, nil
}
