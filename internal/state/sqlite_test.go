package state

import (
	"context"
	"database/sql"
	"os"
	"strconv"
	"path/filepath"
	"testing"
)

func openTestSQLite(t *testing.T, path string, max int) *SQLiteStore {
	t.Helper()
	st, err := OpenSQLite(path, max)
	if err != nil {
		t.Fatalf("open sqlite store: %v", err)
	}
	t.Cleanup(func() {
		_ = st.Close()
	})
	return st
}

func TestOpenSQLiteAndMigrate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "marketpan.db")
	st := openTestSQLite(t, path, 0)

	if _, err := os.Stat(path); err != nil {
		t.Fatalf("db file not created: %v", err)
	}

	var version string
	if err := st.db.QueryRow("SELECT value FROM metadata WHERE key = 'schema_version'").Scan(&version); err != nil {
		t.Fatalf("read schema version: %v", err)
	}
	if version != "1" {
		t.Fatalf("unexpected schema version: %s", version)
	}
}

func TestSQLiteStore_FlushAndReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "marketpan.db")
	ctx := context.Background()

	st, err := OpenSQLite(path, 0)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	st.MarkSeen("tweets", "a", "b")
	st.MarkSeen("news", "1")
	st.SetIdentity("CathieDWood", "2361631088")
	if err := st.Flush(ctx); err != nil {
		t.Fatalf("flush: %v", err)
	}

	var count int
	if err := st.db.QueryRow("SELECT COUNT(*) FROM seen_items").Scan(&count); err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 3 {
		t.Fatalf("seen rows = %d, want 3", count)
	}
	if err := st.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	reopened := openTestSQLite(t, path, 0)
	if !reopened.IsSeen("tweets", "a") || !reopened.IsSeen("tweets", "b") || !reopened.IsSeen("news", "1") {
		t.Error("seen items not restored")
	}
	if id, ok := reopened.Identity("cathiedwood"); !ok || id != "2361631088" {
		t.Errorf("identity = %q, %v", id, ok)
	}
}

func TestSQLiteStore_FlushNoop(t *testing.T) {
	st := openTestSQLite(t, filepath.Join(t.TempDir(), "m.db"), 0)
	if err := st.Flush(context.Background()); err != nil {
		t.Fatalf("empty flush: %v", err)
	}
}

func TestSQLiteStore_CapEvictsOldest(t *testing.T) {
	path := filepath.Join(t.TempDir(), "m.db")
	ctx := context.Background()

	st := openTestSQLite(t, path, 2)
	st.MarkSeen("news", "1", "2", "3")
	if err := st.Flush(ctx); err != nil {
		t.Fatalf("flush: %v", err)
	}

	var count int
	if err := st.db.QueryRow("SELECT COUNT(*) FROM seen_items WHERE kind = 'news'").Scan(&count); err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 2 {
		t.Fatalf("rows = %d, want 2", count)
	}
	if st.IsSeen("news", "1") {
		t.Error("oldest id should be evicted")
	}

	// Re-marking an evicted id must survive the flush.
	st.MarkSeen("news", "1")
	if err := st.Flush(ctx); err != nil {
		t.Fatalf("flush: %v", err)
	}
	var present int
	if err := st.db.QueryRow("SELECT COUNT(*) FROM seen_items WHERE kind = 'news' AND item_id = '1'").Scan(&present); err != nil {
		t.Fatalf("query: %v", err)
	}
	if present != 1 {
		t.Errorf("re-marked id rows = %d, want 1", present)
	}
}

func TestSQLiteStore_IdentityUpdate(t *testing.T) {
	st := openTestSQLite(t, filepath.Join(t.TempDir(), "m.db"), 0)
	ctx := context.Background()

	st.SetIdentity("garyvee", "1")
	st.SetIdentity("GaryVee", "2")
	if err := st.Flush(ctx); err != nil {
		t.Fatalf("flush: %v", err)
	}

	var id string
	if err := st.db.QueryRow("SELECT source_id FROM identities WHERE name = 'garyvee'").Scan(&id); err != nil {
		t.Fatalf("query: %v", err)
	}
	if id != "2" {
		t.Errorf("source_id = %q, want 2", id)
	}
	if ids := st.Identities(); len(ids) != 1 {
		t.Errorf("identities = %v, want 1 entry", ids)
	}
}

func TestOpenSQLite_EmptyPath(t *testing.T) {
	if _, err := OpenSQLite(" ", 0); err == nil {
		t.Fatal("expected error for empty path")
	}
}

func openRawDB(t *testing.T, path string) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatalf("open raw db: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func readSchemaVersion(t *testing.T, db *sql.DB) string {
	t.Helper()
	var version string
	if err := db.QueryRow("SELECT value FROM metadata WHERE key = 'schema_version'").Scan(&version); err != nil {
		t.Fatalf("read schema version: %v", err)
	}
	return version
}

func TestMigrate_UnversionedDatabaseUpgraded(t *testing.T) {
	path := filepath.Join(t.TempDir(), "m.db")
	db := openRawDB(t, path)
	ctx := context.Background()

	if _, err := db.Exec(`CREATE TABLE identities (name TEXT PRIMARY KEY, source_id TEXT NOT NULL, resolved_at TEXT NOT NULL)`); err != nil {
		t.Fatalf("create legacy table: %v", err)
	}
	if _, err := db.Exec(`INSERT INTO identities VALUES ('elonmusk', '44196397', '2025-01-01T00:00:00Z')`); err != nil {
		t.Fatalf("insert legacy row: %v", err)
	}

	if err := migrate(ctx, db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	if got := readSchemaVersion(t, db); got != strconv.Itoa(schemaVersion()) {
		t.Fatalf("schema version = %s, want %d", got, schemaVersion())
	}
	var id string
	if err := db.QueryRow("SELECT source_id FROM identities WHERE name = 'elonmusk'").Scan(&id); err != nil || id != "44196397" {
		t.Fatalf("legacy identity lost: id=%q err=%v", id, err)
	}

	// A second run is a no-op.
	if err := migrate(ctx, db); err != nil {
		t.Fatalf("second migrate: %v", err)
	}
	if got := readSchemaVersion(t, db); got != strconv.Itoa(schemaVersion()) {
		t.Fatalf("schema version after rerun = %s", got)
	}
}

func TestMigrate_RejectsNewerVersion(t *testing.T) {
	path := filepath.Join(t.TempDir(), "m.db")
	st := openTestSQLite(t, path, 0)
	if _, err := st.db.Exec("UPDATE metadata SET value = '99' WHERE key = 'schema_version'"); err != nil {
		t.Fatalf("bump version: %v", err)
	}
	_ = st.Close()

	if _, err := OpenSQLite(path, 0); err == nil {
		t.Fatal("expected error for newer schema version")
	}
}

func TestMigrate_BadVersionValue(t *testing.T) {
	db := openRawDB(t, filepath.Join(t.TempDir(), "m.db"))
	if _, err := db.Exec(metadataDDL); err != nil {
		t.Fatalf("create metadata: %v", err)
	}
	if _, err := db.Exec("INSERT INTO metadata(key, value) VALUES('schema_version', 'one')"); err != nil {
		t.Fatalf("insert version: %v", err)
	}
	if err := migrate(context.Background(), db); err == nil {
		t.Fatal("expected error for non-numeric schema version")
	}
}
