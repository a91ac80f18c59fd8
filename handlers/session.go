package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/asrbekshokirovich-bot/learn-korean-ai-coach-sub000/models"
	"github.com/asrbekshokirovich-bot/learn-korean-ai-coach-sub000/pkg"
	"github.com/asrbekshokirovich-bot/learn-korean-ai-coach-sub000/services"
)

// SessionHandler admits participants to lesson sessions.
type SessionHandler struct {
	sessionService services.SessionService
	iceService     services.ICEService
}

// NewSessionHandler, constructor.
func NewSessionHandler(sessionService services.SessionService, iceService services.ICEService) *SessionHandler {
	return &SessionHandler{
		sessionService: sessionService,
		iceService:     iceService,
	}
}

// Token issues a room token for the session's relay topic.
//
//	POST /api/sessions/token
//	Request:  { "lesson_id": "..." } or { "group_id": "..." }
//	Response: { "topic": "group_g1", "room_token": "eyJ...", "ice_servers": [...] }
func (h *SessionHandler) Token(w http.ResponseWriter, r *http.Request) {
	user, ok := requireUser(w, r)
	if !ok {
		return
	}

	var req models.SessionTokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkg.ErrorWithMessage(w, http.StatusBadRequest, "invalid request body")
		return
	}

	resp, err := h.sessionService.Token(r.Context(), user, &req)
	if err != nil {
		pkg.Error(w, err)
		return
	}

	pkg.JSON(w, http.StatusOK, resp)
}

// ICEServers returns STUN and short-lived TURN credentials.
//
//	GET /api/ice-servers
func (h *SessionHandler) ICEServers(w http.ResponseWriter, r *http.Request) {
	servers, err := h.iceService.Servers()
	if err != nil {
		pkg.Error(w, err)
		return
	}
	if servers == nil {
		servers = []models.ICEServer{}
	}
	pkg.JSON(w, http.StatusOK, servers)
}

// Presence lists the users currently subscribed to a session topic.
//
//	GET /api/sessions/{topic}/presence
func (h *SessionHandler) Presence(w http.ResponseWriter, r *http.Request) {
	presence, err := h.sessionService.Presence(r.PathValue("topic"))
	if err != nil {
		pkg.Error(w, err)
		return
	}
	pkg.JSON(w, http.StatusOK, presence)
}
