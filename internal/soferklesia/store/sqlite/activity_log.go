package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	dbpkg "github.com/BrandonDHaskell/Soferklesia/internal/db"
	"github.com/BrandonDHaskell/Soferklesia/internal/soferklesia/period"
	"github.com/BrandonDHaskell/Soferklesia/internal/soferklesia/store"
)

// ActivityLog stores entries in activity_log. Archive copies a period's rows
// into activity_log_archive, replacing any earlier copy.
type ActivityLog struct {
	db     *sql.DB
	writer *dbpkg.Worker
}

func NewActivityLog(db *sql.DB, writer *dbpkg.Worker) *ActivityLog {
	return &ActivityLog{db: db, writer: writer}
}

func (l *ActivityLog) Append(ctx context.Context, key period.Key, e store.LogEntry) error {
	if e.At.IsZero() {
		e.At = time.Now()
	}
	return l.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
INSERT INTO activity_log(period_key, at_ms, operator, location, action, total)
VALUES (?, ?, ?, ?, ?, ?);
`, key.String(), e.At.UTC().UnixMilli(), e.Operator, e.Location, e.Action, e.Total); err != nil {
			return fmt.Errorf("append log %s: %w", key, err)
		}
		return nil
	})
}

func (l *ActivityLog) Entries(ctx context.Context, key period.Key) (store.LogSnapshot, error) {
	rows, err := l.db.QueryContext(ctx, `
SELECT at_ms, operator, location, action, total
FROM activity_log
WHERE period_key = ?
ORDER BY id;
`, key.String())
	if err != nil {
		return store.LogSnapshot{}, fmt.Errorf("query log %s: %w", key, err)
	}
	defer rows.Close()

	var snap store.LogSnapshot
	for rows.Next() {
		var (
			atMs int64
			e    store.LogEntry
		)
		if err := rows.Scan(&atMs, &e.Operator, &e.Location, &e.Action, &e.Total); err != nil {
			return store.LogSnapshot{}, fmt.Errorf("scan log %s: %w", key, err)
		}
		if e.Total < 0 {
			snap.Skipped++
			continue
		}
		e.At = time.UnixMilli(atMs).UTC()
		snap.Entries = append(snap.Entries, e)
	}
	if err := rows.Err(); err != nil {
		return store.LogSnapshot{}, fmt.Errorf("read log %s: %w", key, err)
	}
	if len(snap.Entries) == 0 && snap.Skipped == 0 {
		return store.LogSnapshot{}, store.ErrNotFound
	}
	return snap, nil
}

func (l *ActivityLog) Archive(ctx context.Context, key period.Key) error {
	now := time.Now().UTC().UnixMilli()
	return l.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		var n int
		if err := tx.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM activity_log WHERE period_key = ?;`, key.String(),
		).Scan(&n); err != nil {
			return fmt.Errorf("archive log %s: %w", key, err)
		}
		if n == 0 {
			return store.ErrNotFound
		}

		if _, err := tx.ExecContext(ctx,
			`DELETE FROM activity_log_archive WHERE period_key = ?;`, key.String(),
		); err != nil {
			return fmt.Errorf("archive log %s: clear: %w", key, err)
		}
		if _, err := tx.ExecContext(ctx, `
INSERT INTO activity_log_archive(id, period_key, at_ms, operator, location, action, total, archived_at_ms)
SELECT id, period_key, at_ms, operator, location, action, total, ?
FROM activity_log
WHERE period_key = ?;
`, now, key.String()); err != nil {
			return fmt.Errorf("archive log %s: copy: %w", key, err)
		}
		return nil
	})
}
