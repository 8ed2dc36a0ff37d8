package tests

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/mobilemoney/server/internal/db"
)

// ledgerTables lists every application table, children first.
var ledgerTables = []string{"notification_logs", "transactions", "otp_credentials", "accounts"}

// RunMigrations applies the embedded goose migrations.
func RunMigrations(database *sql.DB) error {
	if err := db.Migrate(database); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

// TruncateTables empties all application tables for a clean test state.
func TruncateTables(ctx context.Context, database *sql.DB) error {
	for _, table := range ledgerTables {
		if _, err := database.ExecContext(ctx, "TRUNCATE TABLE "+table+" CASCADE"); err != nil {
			return fmt.Errorf("truncate %s: %w", table, err)
		}
	}
	return nil
}
