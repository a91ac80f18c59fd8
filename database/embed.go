package database

import (
	"embed"
	"io/fs"
)

//go:embed migrations/*.sql
var embeddedMigrations embed.FS

//go:embed migrations_pg/*.sql
var embeddedPGMigrations embed.FS

// Migrations returns the SQLite migrations compiled into the binary.
func Migrations() fs.FS {
	sub, err := fs.Sub(embeddedMigrations, "migrations")
	if err != nil {
		panic(err) // the directory is embedded at build time
	}
	return sub
}

// PGMigrations returns the Postgres migrations compiled into the binary.
func PGMigrations() fs.FS {
	sub, err := fs.Sub(embeddedPGMigrations, "migrations_pg")
	if err != nil {
		panic(err)
	}
	return sub
}
