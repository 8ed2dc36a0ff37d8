package db

import (
	"database/sql"
	"embed"
	"fmt"

	"github.com/pressly/goose/v3"
)

// migrationFS embeds the goose SQL migrations so the binary runs from any directory.
//
//go:embed migrations/*.sql
var migrationFS embed.FS

// Migrate applies all pending migrations.
func Migrate(database *sql.DB) error {
	goose.SetBaseFS(migrationFS)
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("failed to set goose dialect: %w", err)
	}
	if err := goose.Up(database, "migrations"); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}

// Reset rolls back every migration. Intended for test teardown.
func Reset(database *sql.DB) error {
	goose.SetBaseFS(migrationFS)
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("failed to set goose dialect: %w", err)
	}
	if err := goose.Reset(database, "migrations"); err != nil {
		return fmt.Errorf("failed to reset migrations: %w", err)
	}
	return nil
}
