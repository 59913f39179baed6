package db

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

type SeedDevOptions struct {
	// Location is stored as the install identity unless one is already set.
	Location string
}

// SeedDev prepares a dev database so the dashboard accepts mutations
// immediately: a location identity and a zeroed counters row.
func SeedDev(ctx context.Context, db *sql.DB, opt SeedDevOptions) error {
	now := time.Now().UTC().UnixMilli()

	loc := strings.TrimSpace(opt.Location)
	if loc == "" {
		loc = "Dev Chapel"
	}

	if _, err := db.ExecContext(ctx, `
INSERT OR IGNORE INTO settings(key, value, updated_at_ms)
VALUES ('location', ?, ?);`, loc, now); err != nil {
		return fmt.Errorf("seed location: %w", err)
	}

	if _, err := db.ExecContext(ctx, `
INSERT OR IGNORE INTO counters(id, male, female, updated_at_ms)
VALUES (1, 0, 0, ?);`, now); err != nil {
		return fmt.Errorf("seed counters: %w", err)
	}

	return nil
}
