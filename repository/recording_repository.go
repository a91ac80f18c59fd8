package repository

import (
	"context"

	"github.com/asrbekshokirovich-bot/learn-korean-ai-coach-sub000/models"
)

// RecordingRepository stores the metadata rows of group lesson recordings.
//
// Create also bumps the per-group totals; both writes are atomic.
type RecordingRepository interface {
	Create(ctx context.Context, rec *models.Recording) error
	GetByID(ctx context.Context, id string) (*models.Recording, error)
	ListByGroup(ctx context.Context, groupID string) ([]models.Recording, error)
	Stats(ctx context.Context, groupID string) (*models.GroupRecordingStats, error)
	Delete(ctx context.Context, id string) error
}
