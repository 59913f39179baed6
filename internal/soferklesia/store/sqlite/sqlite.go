// Package sqlite implements the store contracts on a modernc.org/sqlite
// database. Reads use the pool directly; every write goes through db.Worker.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	dbpkg "github.com/BrandonDHaskell/Soferklesia/internal/db"
	"github.com/BrandonDHaskell/Soferklesia/internal/soferklesia/store"
)

const (
	settingLastSeen = "last_seen_period"
	settingLocation = "location"
)

// Stores returns every store bound to the same connection and writer.
func Stores(db *sql.DB, writer *dbpkg.Worker) store.Backend {
	settings := NewSettings(db, writer)
	return store.Backend{
		Counters: NewCounterStore(db, writer),
		Log:      NewActivityLog(db, writer),
		Rollups:  NewRollupArchive(db, writer),
		Marker:   settings,
		Identity: settings,
	}
}

type Settings struct {
	db     *sql.DB
	writer *dbpkg.Worker
}

func NewSettings(db *sql.DB, writer *dbpkg.Worker) *Settings {
	return &Settings{db: db, writer: writer}
}

func (s *Settings) get(ctx context.Context, key string) (string, bool, error) {
	var v string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM settings WHERE key = ?;`, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("read setting %s: %w", key, err)
	}
	return v, true, nil
}

func (s *Settings) set(ctx context.Context, key, value string) error {
	now := time.Now().UTC().UnixMilli()
	return s.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
INSERT INTO settings(key, value, updated_at_ms) VALUES (?, ?, ?)
ON CONFLICT(key) DO UPDATE SET
  value = excluded.value,
  updated_at_ms = excluded.updated_at_ms;
`, key, value, now); err != nil {
			return fmt.Errorf("write setting %s: %w", key, err)
		}
		return nil
	})
}
