package main

import (
	"log"
	"time"

	"github.com/asrbekshokirovich-bot/learn-korean-ai-coach-sub000/config"
	"github.com/asrbekshokirovich-bot/learn-korean-ai-coach-sub000/pkg/email"
	"github.com/asrbekshokirovich-bot/learn-korean-ai-coach-sub000/pkg/ratelimit"
	"github.com/asrbekshokirovich-bot/learn-korean-ai-coach-sub000/services"
	"github.com/asrbekshokirovich-bot/learn-korean-ai-coach-sub000/ws"
)

// Services groups the service instances handed to the handlers.
type Services struct {
	Auth      services.AuthService
	RoomToken services.RoomTokenService
	ICE       services.ICEService
	Profile   services.ProfileService
	Session   services.SessionService
	Recording services.RecordingService
}

// RateLimiters groups the limiters whose cleanup loops must be stopped on
// shutdown.
type RateLimiters struct {
	Broadcast *ratelimit.BroadcastRateLimiter
	Connect   *ratelimit.ConnectRateLimiter
}

// Stop ends every limiter's cleanup goroutine.
func (rl *RateLimiters) Stop() {
	rl.Broadcast.Stop()
	rl.Connect.Stop()
}

func initServices(repos *Repositories, hub *ws.Hub, cfg *config.Config) (*Services, *RateLimiters) {
	var sender email.Sender = email.NopSender{}
	if cfg.Email.ResendAPIKey != "" && cfg.Email.FromEmail != "" {
		sender = email.NewResendSender(cfg.Email.ResendAPIKey, cfg.Email.FromEmail, cfg.Server.PublicURL)
		log.Printf("[main] email service enabled (from=%s)", cfg.Email.FromEmail)
	} else {
		log.Println("[main] email service disabled (RESEND_API_KEY or RESEND_FROM not set)")
	}

	authService := services.NewAuthService(cfg.Auth.JWTSecret)
	roomTokenService := services.NewRoomTokenService(cfg.Room.APIKey, cfg.Room.APISecret, cfg.Room.TokenTTL)
	iceService := services.NewICEService(cfg.ICE.STUNURLs, cfg.ICE.TURNURLs, cfg.ICE.TURNSecret, cfg.ICE.CredentialTTL)
	profileService := services.NewProfileService(repos.Profile)

	svcs := &Services{
		Auth:      authService,
		RoomToken: roomTokenService,
		ICE:       iceService,
		Profile:   profileService,
		Session:   services.NewSessionService(roomTokenService, iceService, profileService, hub),
		Recording: services.NewRecordingService(
			repos.Recording, repos.Profile, sender,
			cfg.Storage.RecordingsDir, cfg.Storage.MaxUploadSize,
		),
	}

	limiters := &RateLimiters{
		Broadcast: ratelimit.NewBroadcastRateLimiter(cfg.Relay.BroadcastsPerSecond, time.Second, cfg.Relay.BroadcastCooldown),
		Connect:   ratelimit.NewConnectRateLimiter(cfg.Relay.ConnectsPerMinute, time.Minute),
	}

	return svcs, limiters
}
