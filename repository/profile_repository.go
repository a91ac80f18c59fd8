package repository

import (
	"context"

	"github.com/asrbekshokirovich-bot/learn-korean-ai-coach-sub000/models"
)

// ProfileRepository stores participant profiles.
type ProfileRepository interface {
	GetByUserID(ctx context.Context, userID string) (*models.Profile, error)
	// Ensure creates a profile on first sight and leaves existing rows alone.
	Ensure(ctx context.Context, profile *models.Profile) error
	Update(ctx context.Context, userID string, req *models.UpdateProfileRequest) (*models.Profile, error)
}
