package sqlite_test

import (
	"context"
	"database/sql"
	"strings"
	"testing"

	"github.com/BrandonDHaskell/Soferklesia/internal/db"
	"github.com/BrandonDHaskell/Soferklesia/internal/soferklesia/store"
	sqlitestore "github.com/BrandonDHaskell/Soferklesia/internal/soferklesia/store/sqlite"
)

// openTestDB returns a migrated in-memory database unique to the test. The
// shared-cache URI keeps it alive while the pool holds its one connection.
func openTestDB(t *testing.T) *sql.DB {
	t.Helper()

	name := "test_" + strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	conn, err := db.OpenDSN(context.Background(), db.MemoryDSN(name))
	if err != nil {
		t.Fatalf("openTestDB: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

// newTestStores returns every sqlite store wired to one writer. The writer is
// closed before the connection when the test finishes.
func newTestStores(t *testing.T) (*sql.DB, store.Backend) {
	t.Helper()

	conn := openTestDB(t)
	w := db.NewWorker(conn)
	t.Cleanup(func() { w.Close() })
	return conn, sqlitestore.Stores(conn, w)
}
