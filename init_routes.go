package main

import (
	"net/http"

	"github.com/asrbekshokirovich-bot/learn-korean-ai-coach-sub000/middleware"
	"github.com/asrbekshokirovich-bot/learn-korean-ai-coach-sub000/models"
)

// initRoutes wires every endpoint into mux.
//
// Literal paths are registered before parametric ones on the same prefix
// ("/api/profiles/me" before "/api/profiles/{userId}").
func initRoutes(mux *http.ServeMux, h *Handlers, tokens middleware.TokenValidator) {
	authMw := middleware.NewAuthMiddleware(tokens)
	roleMw := middleware.NewRoleMiddleware()

	auth := func(handler http.HandlerFunc) http.Handler {
		return authMw.Require(handler)
	}
	authTeacher := func(handler http.HandlerFunc) http.Handler {
		return authMw.Require(roleMw.Require(handler, models.RoleTeacher, models.RoleAdmin))
	}

	// Health
	mux.HandleFunc("GET /api/health", h.Stats.Health)

	// Sessions
	mux.Handle("POST /api/sessions/token", auth(h.Session.Token))
	mux.Handle("GET /api/ice-servers", auth(h.Session.ICEServers))
	mux.Handle("GET /api/sessions/{topic}/presence", auth(h.Session.Presence))

	// Recordings
	mux.Handle("POST /api/groups/{groupId}/recordings", authTeacher(h.Recording.Upload))
	mux.Handle("GET /api/groups/{groupId}/recordings", auth(h.Recording.List))
	mux.Handle("GET /api/recordings/{id}/file", auth(h.Recording.File))
	mux.Handle("DELETE /api/recordings/{id}", authTeacher(h.Recording.Delete))

	// Profiles
	mux.Handle("GET /api/profiles/me", auth(h.Profile.Me))
	mux.Handle("PUT /api/profiles/me", auth(h.Profile.UpdateMe))
	mux.Handle("GET /api/profiles/{userId}", auth(h.Profile.Get))

	// Relay
	mux.HandleFunc("GET /ws", h.WS.HandleConnection)
}
