// Package main is the lesson relay server: the realtime broadcast relay the
// lesson-room participants signal through, plus the session token,
// recording storage and profile API they call.
//
// Wire-up order:
//  1. Config
//  2. i18n translations
//  3. Recordings directory
//  4. Repositories (SQLite, optionally Postgres)
//  5. WebSocket Hub
//  6. Services and rate limiters
//  7. Handlers and routes
//  8. CORS
//  9. HTTP server
//  10. Graceful shutdown
//
// `lessonrelay token -user ID [-role teacher] [-email E]` prints a signed
// access token for local development instead of starting the server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/asrbekshokirovich-bot/learn-korean-ai-coach-sub000/config"
	"github.com/asrbekshokirovich-bot/learn-korean-ai-coach-sub000/models"
	"github.com/asrbekshokirovich-bot/learn-korean-ai-coach-sub000/pkg/i18n"
	"github.com/asrbekshokirovich-bot/learn-korean-ai-coach-sub000/services"
	"github.com/asrbekshokirovich-bot/learn-korean-ai-coach-sub000/ws"
	"github.com/rs/cors"
)

func main() {
	log.SetFlags(log.Ldate | log.Ltime | log.Lshortfile)

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("[main] failed to load config: %v", err)
	}

	if len(os.Args) > 1 && os.Args[1] == "token" {
		if err := runTokenCommand(cfg, os.Args[2:]); err != nil {
			log.Fatalf("[main] %v", err)
		}
		return
	}

	log.Printf("[main] lesson relay starting (port=%d, db=%s)", cfg.Server.Port, cfg.Database.Driver)

	if err := i18n.LoadEmbedded(); err != nil {
		log.Fatalf("[main] failed to load i18n translations: %v", err)
	}

	if err := os.MkdirAll(cfg.Storage.RecordingsDir, 0755); err != nil {
		log.Fatalf("[main] failed to create recordings directory: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	repos, closeRepos, err := initRepositories(ctx, cfg)
	if err != nil {
		log.Fatalf("[main] %v", err)
	}
	defer closeRepos()

	hub := ws.NewHub()
	registerHubCallbacks(hub)
	go hub.Run()

	svcs, limiters := initServices(repos, hub, cfg)
	defer limiters.Stop()

	h := initHandlers(svcs, limiters, hub, cfg)

	mux := http.NewServeMux()
	initRoutes(mux, h, svcs.Auth)

	corsHandler := cors.New(cors.Options{
		AllowedOrigins:   cfg.Server.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Authorization", "Content-Type", "Range"},
		ExposedHeaders:   []string{"Content-Range", "Retry-After"},
		AllowCredentials: true,
	})

	// No Read/WriteTimeout: recording uploads and downloads are long
	// streams, and /ws connections live for the whole lesson.
	srv := &http.Server{
		Addr:              cfg.Server.Addr(),
		Handler:           corsHandler.Handler(mux),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Printf("[main] server listening on %s", cfg.Server.Addr())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("[main] server error: %v", err)
		}
	}()

	<-ctx.Done()
	log.Println("[main] shutting down...")

	// Close relay connections first so participants see the close frame,
	// then stop accepting requests and drain the in-flight ones.
	hub.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("[main] forced shutdown: %v", err)
	}

	log.Println("[main] server stopped gracefully")
}

// runTokenCommand signs a development access token with JWT_SECRET.
func runTokenCommand(cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("token", flag.ContinueOnError)
	userID := fs.String("user", "", "user id (sub claim)")
	role := fs.String("role", string(models.RoleStudent), "student, teacher or admin")
	email := fs.String("email", "", "email claim")
	ttl := fs.Duration("ttl", 24*time.Hour, "token lifetime")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if *userID == "" {
		return fmt.Errorf("-user is required")
	}
	r := models.Role(*role)
	if !r.Valid() {
		return fmt.Errorf("invalid -role %q", *role)
	}

	token, err := services.NewAuthService(cfg.Auth.JWTSecret).IssueAccessToken(&models.AuthUser{
		ID:    *userID,
		Email: *email,
		Role:  r,
	}, *ttl)
	if err != nil {
		return err
	}

	fmt.Println(token)
	return nil
}
