// Package middleware holds the handlers wrapped around API routes.
// A middleware is a func(next http.Handler) http.Handler; it either calls
// next or writes the response itself and stops the chain.
package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/asrbekshokirovich-bot/learn-korean-ai-coach-sub000/handlers"
	"github.com/asrbekshokirovich-bot/learn-korean-ai-coach-sub000/models"
	"github.com/asrbekshokirovich-bot/learn-korean-ai-coach-sub000/pkg"
)

// TokenValidator verifies an access token and returns its user.
type TokenValidator interface {
	ValidateAccessToken(tokenString string) (*models.AuthUser, error)
}

// AuthMiddleware requires a valid bearer access token.
type AuthMiddleware struct {
	tokens TokenValidator
}

// NewAuthMiddleware, constructor.
func NewAuthMiddleware(tokens TokenValidator) *AuthMiddleware {
	return &AuthMiddleware{tokens: tokens}
}

// Require rejects the request with 401 unless it carries
// "Authorization: Bearer <token>" with a valid token. The caller is put in
// the request context under handlers.UserContextKey.
func (m *AuthMiddleware) Require(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			pkg.ErrorWithMessage(w, http.StatusUnauthorized, "authorization header required")
			return
		}

		tokenString, ok := strings.CutPrefix(authHeader, "Bearer ")
		if !ok {
			pkg.ErrorWithMessage(w, http.StatusUnauthorized, "invalid authorization format, use: Bearer <token>")
			return
		}

		user, err := m.tokens.ValidateAccessToken(tokenString)
		if err != nil {
			pkg.Error(w, err)
			return
		}

		ctx := context.WithValue(r.Context(), handlers.UserContextKey, user)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
