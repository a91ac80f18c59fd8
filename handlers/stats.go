// Package handlers holds the HTTP handlers of the relay API.
//
// Handlers stay thin: parse the request, call a service, write the
// {success, data, error} envelope. Business rules live in services.
package handlers

import (
	"net/http"
	"time"

	"github.com/asrbekshokirovich-bot/learn-korean-ai-coach-sub000/pkg"
)

// ConnectionCounter reports open relay connections. Implemented by ws.Hub.
type ConnectionCounter interface {
	ConnectionCount() int
}

// StatsResponse is the body of GET /api/health.
type StatsResponse struct {
	Status        string `json:"status"`
	Connections   int    `json:"connections"`
	UptimeSeconds int64  `json:"uptime_seconds"`
}

// StatsHandler serves the unauthenticated health endpoint.
type StatsHandler struct {
	conns   ConnectionCounter
	started time.Time
}

// NewStatsHandler, constructor.
func NewStatsHandler(conns ConnectionCounter) *StatsHandler {
	return &StatsHandler{conns: conns, started: time.Now()}
}

// Health reports liveness and relay load.
//
//	GET /api/health
//	Response: { "success": true, "data": { "status": "ok", "connections": 3, ... } }
func (h *StatsHandler) Health(w http.ResponseWriter, r *http.Request) {
	pkg.JSON(w, http.StatusOK, StatsResponse{
		Status:        "ok",
		Connections:   h.conns.ConnectionCount(),
		UptimeSeconds: int64(time.Since(h.started).Seconds()),
	})
}
