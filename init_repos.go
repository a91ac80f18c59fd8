package main

import (
	"context"
	"fmt"
	"log"

	"github.com/asrbekshokirovich-bot/learn-korean-ai-coach-sub000/config"
	"github.com/asrbekshokirovich-bot/learn-korean-ai-coach-sub000/database"
	"github.com/asrbekshokirovich-bot/learn-korean-ai-coach-sub000/repository"
)

// Repositories groups the repository instances handed to the services.
type Repositories struct {
	Recording repository.RecordingRepository
	Profile   repository.ProfileRepository
}

// initRepositories opens the metadata stores. Profiles always live in the
// local SQLite file; recordings go to Postgres when DATABASE_DRIVER is
// postgres. The returned func closes whatever was opened.
func initRepositories(ctx context.Context, cfg *config.Config) (*Repositories, func(), error) {
	db, err := database.New(cfg.Database.Path, database.Migrations())
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	repos := &Repositories{
		Recording: repository.NewSQLiteRecordingRepo(db.Conn),
		Profile:   repository.NewSQLiteProfileRepo(db.Conn),
	}
	closeFn := func() { db.Close() }

	if cfg.Database.Driver == "postgres" {
		pool, err := database.NewPostgres(ctx, cfg.Database.URL, database.PGMigrations())
		if err != nil {
			db.Close()
			return nil, nil, fmt.Errorf("failed to initialize postgres: %w", err)
		}
		repos.Recording = repository.NewPGRecordingRepo(pool)
		closeFn = func() {
			pool.Close()
			db.Close()
		}
		log.Println("[main] recording metadata stored in postgres")
	}

	return repos, closeFn, nil
}
