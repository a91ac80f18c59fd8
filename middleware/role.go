package middleware

import (
	"net/http"

	"github.com/asrbekshokirovich-bot/learn-korean-ai-coach-sub000/handlers"
	"github.com/asrbekshokirovich-bot/learn-korean-ai-coach-sub000/models"
	"github.com/asrbekshokirovich-bot/learn-korean-ai-coach-sub000/pkg"
)

// RoleMiddleware restricts a route to some platform roles.
//
// Runs after AuthMiddleware:
//
//	authMw.Require(roleMw.Require(http.HandlerFunc(h.Upload), models.RoleTeacher))
type RoleMiddleware struct{}

// NewRoleMiddleware, constructor.
func NewRoleMiddleware() *RoleMiddleware {
	return &RoleMiddleware{}
}

// Require answers 403 unless the caller has one of roles.
func (m *RoleMiddleware) Require(next http.Handler, roles ...models.Role) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, ok := r.Context().Value(handlers.UserContextKey).(*models.AuthUser)
		if !ok {
			pkg.ErrorWithMessage(w, http.StatusUnauthorized, "user not found in context")
			return
		}

		for _, role := range roles {
			if user.Role == role {
				next.ServeHTTP(w, r)
				return
			}
		}
		pkg.ErrorWithMessage(w, http.StatusForbidden, "insufficient role")
	})
}
