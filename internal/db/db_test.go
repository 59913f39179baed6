package db_test

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"

	"github.com/BrandonDHaskell/Soferklesia/internal/db"
)

func TestOpen_MigratesAndSeedsDev(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "soferklesia.db")

	conn, err := db.Open(ctx, db.Config{Path: path, Env: "dev", DevLocation: "Test Chapel"})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer conn.Close()

	var loc string
	if err := conn.QueryRowContext(ctx, `SELECT value FROM settings WHERE key = 'location'`).Scan(&loc); err != nil {
		t.Fatalf("read seeded location: %v", err)
	}
	if loc != "Test Chapel" {
		t.Errorf("expected seeded location, got %q", loc)
	}

	// Re-running migrations is a no-op.
	if err := db.Migrate(ctx, conn); err != nil {
		t.Fatalf("second Migrate: %v", err)
	}
	var applied int
	if err := conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM schema_migrations`).Scan(&applied); err != nil {
		t.Fatalf("count migrations: %v", err)
	}
	if applied != 1 {
		t.Errorf("expected 1 applied migration, got %d", applied)
	}
}

func TestOpen_ProdSkipsSeed(t *testing.T) {
	ctx := context.Background()
	conn, err := db.Open(ctx, db.Config{Path: filepath.Join(t.TempDir(), "p.db"), Env: "prod"})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer conn.Close()

	var n int
	if err := conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM settings`).Scan(&n); err != nil {
		t.Fatalf("count settings: %v", err)
	}
	if n != 0 {
		t.Errorf("expected no seeded settings in prod, got %d", n)
	}
}

func TestWorker_RollsBackOnErrorAndRejectsAfterClose(t *testing.T) {
	ctx := context.Background()
	conn, err := db.OpenDSN(ctx, db.MemoryDSN("test_worker"))
	if err != nil {
		t.Fatalf("OpenDSN: %v", err)
	}
	defer conn.Close()

	w := db.NewWorker(conn)
	boom := errors.New("boom")

	err = w.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO settings(key, value, updated_at_ms) VALUES ('k', 'v', 0)`); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}

	var n int
	if err := conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM settings`).Scan(&n); err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 0 {
		t.Errorf("expected rollback, found %d rows", n)
	}

	w.Close()
	w.Close()
	if err := w.Do(ctx, func(context.Context, *sql.Tx) error { return nil }); !errors.Is(err, db.ErrWorkerClosed) {
		t.Errorf("expected ErrWorkerClosed, got %v", err)
	}
}
