package models

import (
	"fmt"
	"strings"
	"time"
)

// Profile is the public identity shown on a participant tile.
type Profile struct {
	UserID            string    `json:"user_id"`
	DisplayName       string    `json:"display_name"`
	Role              Role      `json:"role"`
	ProfilePictureURL string    `json:"profile_picture_url"`
	Language          string    `json:"language"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// UpdateProfileRequest is the body of PUT /api/profiles/me.
type UpdateProfileRequest struct {
	DisplayName       *string `json:"display_name"`
	ProfilePictureURL *string `json:"profile_picture_url"`
	Language          *string `json:"language"`
}

// Validate checks the fields that are present.
func (r *UpdateProfileRequest) Validate() error {
	if r.DisplayName != nil {
		name := strings.TrimSpace(*r.DisplayName)
		if name == "" || len(name) > 64 {
			return fmt.Errorf("display_name must be 1-64 characters")
		}
		*r.DisplayName = name
	}
	if r.Language != nil && *r.Language != "en" && *r.Language != "ko" {
		return fmt.Errorf("language must be en or ko")
	}
	return nil
}
