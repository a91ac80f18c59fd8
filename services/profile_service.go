package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/asrbekshokirovich-bot/learn-korean-ai-coach-sub000/models"
	"github.com/asrbekshokirovich-bot/learn-korean-ai-coach-sub000/pkg"
	"github.com/asrbekshokirovich-bot/learn-korean-ai-coach-sub000/repository"
)

// ProfileService resolves the identity shown on participant tiles.
type ProfileService interface {
	Get(ctx context.Context, userID string) (*models.Profile, error)
	// Ensure returns the caller's profile, creating a default one the first
	// time the user is seen.
	Ensure(ctx context.Context, user *models.AuthUser) (*models.Profile, error)
	Update(ctx context.Context, user *models.AuthUser, req *models.UpdateProfileRequest) (*models.Profile, error)
}

type profileService struct {
	profileRepo repository.ProfileRepository
}

// NewProfileService, constructor.
func NewProfileService(profileRepo repository.ProfileRepository) ProfileService {
	return &profileService{profileRepo: profileRepo}
}

func (s *profileService) Get(ctx context.Context, userID string) (*models.Profile, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: user id is required", pkg.ErrBadRequest)
	}
	return s.profileRepo.GetByUserID(ctx, userID)
}

func (s *profileService) Ensure(ctx context.Context, user *models.AuthUser) (*models.Profile, error) {
	profile, err := s.profileRepo.GetByUserID(ctx, user.ID)
	if err == nil {
		return profile, nil
	}
	if !errors.Is(err, pkg.ErrNotFound) {
		return nil, err
	}

	role := user.Role
	if !role.Valid() {
		role = models.RoleStudent
	}

	if err := s.profileRepo.Ensure(ctx, &models.Profile{
		UserID:      user.ID,
		DisplayName: defaultDisplayName(user),
		Role:        role,
	}); err != nil {
		return nil, err
	}
	return s.profileRepo.GetByUserID(ctx, user.ID)
}

func (s *profileService) Update(ctx context.Context, user *models.AuthUser, req *models.UpdateProfileRequest) (*models.Profile, error) {
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", pkg.ErrBadRequest, err)
	}
	if _, err := s.Ensure(ctx, user); err != nil {
		return nil, err
	}
	return s.profileRepo.Update(ctx, user.ID, req)
}

// defaultDisplayName uses the local part of the email, or the user id.
func defaultDisplayName(user *models.AuthUser) string {
	if local, _, ok := strings.Cut(user.Email, "@"); ok && local != "" {
		return local
	}
	return user.ID
}
