package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/asrbekshokirovich-bot/learn-korean-ai-coach-sub000/models"
	"github.com/asrbekshokirovich-bot/learn-korean-ai-coach-sub000/pkg"
	"github.com/asrbekshokirovich-bot/learn-korean-ai-coach-sub000/services"
)

// ProfileHandler serves participant profiles.
type ProfileHandler struct {
	profileService services.ProfileService
}

// NewProfileHandler, constructor.
func NewProfileHandler(profileService services.ProfileService) *ProfileHandler {
	return &ProfileHandler{profileService: profileService}
}

// Get returns one user's public profile.
//
//	GET /api/profiles/{userId}
func (h *ProfileHandler) Get(w http.ResponseWriter, r *http.Request) {
	profile, err := h.profileService.Get(r.Context(), r.PathValue("userId"))
	if err != nil {
		pkg.Error(w, err)
		return
	}
	pkg.JSON(w, http.StatusOK, profile)
}

// Me returns the caller's profile, creating it on first use.
//
//	GET /api/profiles/me
func (h *ProfileHandler) Me(w http.ResponseWriter, r *http.Request) {
	user, ok := requireUser(w, r)
	if !ok {
		return
	}

	profile, err := h.profileService.Ensure(r.Context(), user)
	if err != nil {
		pkg.Error(w, err)
		return
	}
	pkg.JSON(w, http.StatusOK, profile)
}

// UpdateMe changes the caller's display name, picture or language.
//
//	PUT /api/profiles/me
//	Request: { "display_name"?: "...", "profile_picture_url"?: "...", "language"?: "ko" }
func (h *ProfileHandler) UpdateMe(w http.ResponseWriter, r *http.Request) {
	user, ok := requireUser(w, r)
	if !ok {
		return
	}

	var req models.UpdateProfileRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkg.ErrorWithMessage(w, http.StatusBadRequest, "invalid request body")
		return
	}

	profile, err := h.profileService.Update(r.Context(), user, &req)
	if err != nil {
		pkg.Error(w, err)
		return
	}
	pkg.JSON(w, http.StatusOK, profile)
}
