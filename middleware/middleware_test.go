package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/asrbekshokirovich-bot/learn-korean-ai-coach-sub000/handlers"
	"github.com/asrbekshokirovich-bot/learn-korean-ai-coach-sub000/models"
	"github.com/asrbekshokirovich-bot/learn-korean-ai-coach-sub000/pkg"
)

type stubValidator map[string]*models.AuthUser

func (s stubValidator) ValidateAccessToken(token string) (*models.AuthUser, error) {
	if u, ok := s[token]; ok {
		return u, nil
	}
	return nil, pkg.ErrUnauthorized
}

func TestAuthAndRole(t *testing.T) {
	tokens := stubValidator{
		"teacher-token": {ID: "t1", Role: models.RoleTeacher},
		"student-token": {ID: "s1", Role: models.RoleStudent},
	}
	authMw := NewAuthMiddleware(tokens)
	roleMw := NewRoleMiddleware()

	var seen string
	final := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = r.Context().Value(handlers.UserContextKey).(*models.AuthUser).ID
		w.WriteHeader(http.StatusNoContent)
	})
	h := authMw.Require(roleMw.Require(final, models.RoleTeacher))

	tests := []struct {
		name   string
		header string
		status int
		user   string
	}{
		{"missing header", "", http.StatusUnauthorized, ""},
		{"not bearer", "Basic abc", http.StatusUnauthorized, ""},
		{"bad token", "Bearer nope", http.StatusUnauthorized, ""},
		{"wrong role", "Bearer student-token", http.StatusForbidden, ""},
		{"ok", "Bearer teacher-token", http.StatusNoContent, "t1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			seen = ""
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			if rec.Code != tt.status {
				t.Fatalf("status = %d, want %d", rec.Code, tt.status)
			}
			if seen != tt.user {
				t.Fatalf("handler saw user %q, want %q", seen, tt.user)
			}
		})
	}
}
