package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	dbpkg "github.com/BrandonDHaskell/Soferklesia/internal/db"
	"github.com/BrandonDHaskell/Soferklesia/internal/soferklesia/store"
)

type RollupArchive struct {
	db     *sql.DB
	writer *dbpkg.Worker
}

func NewRollupArchive(db *sql.DB, writer *dbpkg.Worker) *RollupArchive {
	return &RollupArchive{db: db, writer: writer}
}

func (a *RollupArchive) Write(ctx context.Context, rec store.RollupRecord) error {
	now := time.Now().UTC().UnixMilli()
	return a.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
INSERT INTO rollups(period_key, year, week, total, updated_at_ms)
VALUES (?, ?, ?, ?, ?)
ON CONFLICT(period_key) DO UPDATE SET
  total = excluded.total,
  updated_at_ms = excluded.updated_at_ms;
`, rec.Period.String(), rec.Period.Year, rec.Period.Week, rec.Total, now); err != nil {
			return fmt.Errorf("write rollup %s: %w", rec.Period, err)
		}
		return nil
	})
}

func (a *RollupArchive) ReadAll(ctx context.Context) ([]store.RollupRecord, error) {
	rows, err := a.db.QueryContext(ctx, `
SELECT year, week, total FROM rollups ORDER BY year, week;
`)
	if err != nil {
		return nil, fmt.Errorf("query rollups: %w", err)
	}
	defer rows.Close()

	var out []store.RollupRecord
	for rows.Next() {
		var rec store.RollupRecord
		if err := rows.Scan(&rec.Period.Year, &rec.Period.Week, &rec.Total); err != nil {
			return nil, fmt.Errorf("scan rollup: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read rollups: %w", err)
	}
	return out, nil
}
