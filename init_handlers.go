package main

import (
	"github.com/asrbekshokirovich-bot/learn-korean-ai-coach-sub000/config"
	"github.com/asrbekshokirovich-bot/learn-korean-ai-coach-sub000/handlers"
	"github.com/asrbekshokirovich-bot/learn-korean-ai-coach-sub000/ws"
)

// Handlers groups the HTTP handlers registered in initRoutes.
type Handlers struct {
	Stats     *handlers.StatsHandler
	Session   *handlers.SessionHandler
	Recording *handlers.RecordingHandler
	Profile   *handlers.ProfileHandler
	WS        *ws.Handler
}

func initHandlers(svcs *Services, limiters *RateLimiters, hub *ws.Hub, cfg *config.Config) *Handlers {
	return &Handlers{
		Stats:     handlers.NewStatsHandler(hub),
		Session:   handlers.NewSessionHandler(svcs.Session, svcs.ICE),
		Recording: handlers.NewRecordingHandler(svcs.Recording, cfg.Storage.MaxUploadSize),
		Profile:   handlers.NewProfileHandler(svcs.Profile),
		WS: ws.NewHandler(hub, svcs.Auth, svcs.RoomToken,
			limiters.Broadcast, limiters.Connect, cfg.Server.CORSOrigins),
	}
}
