package handlers

import (
	"net/http"

	"github.com/asrbekshokirovich-bot/learn-korean-ai-coach-sub000/models"
	"github.com/asrbekshokirovich-bot/learn-korean-ai-coach-sub000/pkg"
)

// contextKey keeps our context values out of other packages' namespace.
type contextKey string

// UserContextKey carries the *models.AuthUser set by AuthMiddleware.
const UserContextKey contextKey = "user"

// requireUser returns the authenticated caller, writing a 401 when the
// route was registered without the auth middleware.
func requireUser(w http.ResponseWriter, r *http.Request) (*models.AuthUser, bool) {
	user, ok := r.Context().Value(UserContextKey).(*models.AuthUser)
	if !ok {
		pkg.ErrorWithMessage(w, http.StatusUnauthorized, "user not found in context")
		return nil, false
	}
	return user, true
}
