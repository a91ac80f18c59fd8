package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/asrbekshokirovich-bot/learn-korean-ai-coach-sub000/models"
	"github.com/asrbekshokirovich-bot/learn-korean-ai-coach-sub000/pkg"
)

type sqliteProfileRepo struct {
	db *sql.DB
}

// NewSQLiteProfileRepo returns the SQLite ProfileRepository.
func NewSQLiteProfileRepo(db *sql.DB) ProfileRepository {
	return &sqliteProfileRepo{db: db}
}

func (r *sqliteProfileRepo) GetByUserID(ctx context.Context, userID string) (*models.Profile, error) {
	query := `
		SELECT user_id, display_name, role, profile_picture_url, language, updated_at
		FROM profiles WHERE user_id = ?`

	var p models.Profile
	err := r.db.QueryRowContext(ctx, query, userID).Scan(
		&p.UserID, &p.DisplayName, &p.Role, &p.ProfilePictureURL, &p.Language, &p.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, pkg.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get profile: %w", err)
	}

	return &p, nil
}

func (r *sqliteProfileRepo) Ensure(ctx context.Context, p *models.Profile) error {
	if p.Language == "" {
		p.Language = "en"
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO profiles (user_id, display_name, role, profile_picture_url, language)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(user_id) DO NOTHING`,
		p.UserID, p.DisplayName, string(p.Role), p.ProfilePictureURL, p.Language,
	)
	if err != nil {
		return fmt.Errorf("failed to ensure profile: %w", err)
	}
	return nil
}

func (r *sqliteProfileRepo) Update(ctx context.Context, userID string, req *models.UpdateProfileRequest) (*models.Profile, error) {
	result, err := r.db.ExecContext(ctx, `
		UPDATE profiles SET
			display_name = COALESCE(?, display_name),
			profile_picture_url = COALESCE(?, profile_picture_url),
			language = COALESCE(?, language),
			updated_at = CURRENT_TIMESTAMP
		WHERE user_id = ?`,
		req.DisplayName, req.ProfilePictureURL, req.Language, userID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to update profile: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to check rows affected: %w", err)
	}
	if affected == 0 {
		return nil, pkg.ErrNotFound
	}

	return r.GetByUserID(ctx, userID)
}
