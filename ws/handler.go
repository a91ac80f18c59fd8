package ws

import (
	"log"
	"net/http"
	"strconv"

	"github.com/asrbekshokirovich-bot/learn-korean-ai-coach-sub000/models"
	"github.com/asrbekshokirovich-bot/learn-korean-ai-coach-sub000/pkg/ratelimit"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// TokenValidator verifies the access token passed on connect.
//
// Declared here so ws only needs the one method of services.AuthService.
type TokenValidator interface {
	ValidateAccessToken(tokenString string) (*models.AuthUser, error)
}

// RoomTokenVerifier checks a room token and returns its identity and room.
type RoomTokenVerifier interface {
	Verify(token string) (identity, room string, err error)
}

// BroadcastLimiter throttles broadcasts per user.
type BroadcastLimiter interface {
	Allow(userID string) bool
	CooldownSeconds(userID string) int
}

// ConnectLimiter throttles connection attempts per IP.
type ConnectLimiter interface {
	Allow(ip string) bool
	RetryAfterSeconds(ip string) int
}

// Handler upgrades HTTP requests on /ws to relay connections.
type Handler struct {
	hub      *Hub
	tokens   TokenValidator
	rooms    RoomTokenVerifier
	limiter  BroadcastLimiter
	connects ConnectLimiter
	upgrader websocket.Upgrader
}

// NewHandler, constructor. limiter and connects may be nil.
//
// allowedOrigins restricts browser origins; empty allows all, which is
// what non-browser participants need anyway since they send no Origin.
func NewHandler(hub *Hub, tokens TokenValidator, rooms RoomTokenVerifier, limiter BroadcastLimiter, connects ConnectLimiter, allowedOrigins []string) *Handler {
	return &Handler{
		hub:      hub,
		tokens:   tokens,
		rooms:    rooms,
		limiter:  limiter,
		connects: connects,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     originChecker(allowedOrigins),
		},
	}
}

func originChecker(allowed []string) func(r *http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" || len(allowed) == 0 {
			return true
		}
		for _, a := range allowed {
			if a == "*" || a == origin {
				return true
			}
		}
		return false
	}
}

// HandleConnection upgrades the request and serves the connection until it
// closes.
//
// Browsers cannot set headers on a websocket handshake, so the access
// token travels in the query string:
//
//	ws://server/ws?token=JWT
func (h *Handler) HandleConnection(w http.ResponseWriter, r *http.Request) {
	if h.connects != nil {
		ip := ratelimit.ExtractIP(r)
		if !h.connects.Allow(ip) {
			retry := h.connects.RetryAfterSeconds(ip)
			w.Header().Set("Retry-After", strconv.Itoa(retry))
			http.Error(w, ratelimit.FormatRetryMessage(retry), http.StatusTooManyRequests)
			return
		}
	}

	token := r.URL.Query().Get("token")
	if token == "" {
		http.Error(w, "missing token", http.StatusUnauthorized)
		return
	}

	user, err := h.tokens.ValidateAccessToken(token)
	if err != nil {
		http.Error(w, "invalid token", http.StatusUnauthorized)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[ws] upgrade failed for user %s: %v", user.ID, err)
		return
	}

	client := &Client{
		hub:     h.hub,
		conn:    conn,
		id:      uuid.NewString(),
		userID:  user.ID,
		send:    make(chan []byte, sendBufferSize),
		rooms:   h.rooms,
		limiter: h.limiter,
	}

	if !h.hub.Register(client) {
		conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"))
		conn.Close()
		return
	}

	client.sendEvent(Event{Op: OpReady, Data: ReadyData{UserID: user.ID, ConnectionID: client.id}})

	go client.WritePump()
	client.ReadPump()
}
