package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	dbpkg "github.com/BrandonDHaskell/Soferklesia/internal/db"
	"github.com/BrandonDHaskell/Soferklesia/internal/soferklesia/store"
	"github.com/BrandonDHaskell/Soferklesia/internal/soferklesia/types"
)

type CounterStore struct {
	db     *sql.DB
	writer *dbpkg.Worker
}

func NewCounterStore(db *sql.DB, writer *dbpkg.Worker) *CounterStore {
	return &CounterStore{db: db, writer: writer}
}

func (s *CounterStore) Load(ctx context.Context) (types.Counts, error) {
	var male, female int
	err := s.db.QueryRowContext(ctx, `SELECT male, female FROM counters WHERE id = 1;`).Scan(&male, &female)
	if errors.Is(err, sql.ErrNoRows) {
		return types.Counts{}, nil
	}
	if err != nil {
		return types.Counts{}, fmt.Errorf("load counters: %w", err)
	}
	if male < 0 || female < 0 {
		return types.Counts{}, fmt.Errorf("%w: male=%d female=%d", store.ErrCorruptState, male, female)
	}
	return types.Counts{Male: male, Female: female}, nil
}

// Save writes both columns in one statement.
func (s *CounterStore) Save(ctx context.Context, c types.Counts) error {
	now := time.Now().UTC().UnixMilli()
	return s.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
INSERT INTO counters(id, male, female, updated_at_ms) VALUES (1, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
  male = excluded.male,
  female = excluded.female,
  updated_at_ms = excluded.updated_at_ms;
`, c.Male, c.Female, now); err != nil {
			return fmt.Errorf("save counters: %w", err)
		}
		return nil
	})
}
