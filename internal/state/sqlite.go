package state

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore keeps state in a SQLite database. Everything is loaded into
// memory on open; marks and identities are buffered and committed in a single
// transaction by Flush.
type SQLiteStore struct {
	db  *sql.DB
	mem *memory

	pendingMu         sync.Mutex
	pendingSeen       []seenOp
	pendingIdentities map[string]string
}

// seenOp is a buffered insert or, with evict set, delete of a seen item.
// Ops are replayed in order so an evicted-then-re-marked ID ends up present.
type seenOp struct {
	kind  string
	id    string
	evict bool
}

// OpenSQLite opens (or creates) the database at path and loads its state.
func OpenSQLite(path string, maxPerType int) (*SQLiteStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("path is required")
	}

	dir := filepath.Dir(path)
	if dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)

	ctx := context.Background()
	if err := migrate(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}

	st := &SQLiteStore{
		db:                db,
		mem:               newMemory(maxPerType),
		pendingIdentities: make(map[string]string),
	}
	if err := st.load(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *SQLiteStore) load(ctx context.Context) error {
	rows, err := s.db.QueryContext(ctx, "SELECT name, source_id FROM identities")
	if err != nil {
		return fmt.Errorf("load identities: %w", err)
	}
	for rows.Next() {
		var name, id string
		if err := rows.Scan(&name, &id); err != nil {
			_ = rows.Close()
			return fmt.Errorf("scan identity: %w", err)
		}
		s.mem.setIdentity(name, id)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return fmt.Errorf("iterate identities: %w", err)
	}
	_ = rows.Close()

	rows, err = s.db.QueryContext(ctx, "SELECT kind, item_id FROM seen_items ORDER BY seq ASC")
	if err != nil {
		return fmt.Errorf("load seen items: %w", err)
	}
	defer func() { _ = rows.Close() }()

	byKind := make(map[string][]string)
	var kinds []string
	for rows.Next() {
		var kind, id string
		if err := rows.Scan(&kind, &id); err != nil {
			return fmt.Errorf("scan seen item: %w", err)
		}
		if _, ok := byKind[kind]; !ok {
			kinds = append(kinds, kind)
		}
		byKind[kind] = append(byKind[kind], id)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate seen items: %w", err)
	}

	for _, kind := range kinds {
		_, evicted := s.mem.markSeen(kind, byKind[kind])
		s.queueEvicted(kind, evicted)
	}
	return nil
}

func (s *SQLiteStore) IsSeen(kind, id string) bool { return s.mem.isSeen(kind, id) }

func (s *SQLiteStore) MarkSeen(kind string, ids ...string) {
	added, evicted := s.mem.markSeen(kind, ids)

	s.pendingMu.Lock()
	for _, id := range added {
		s.pendingSeen = append(s.pendingSeen, seenOp{kind: kind, id: id})
	}
	s.pendingMu.Unlock()

	s.queueEvicted(kind, evicted)
}

func (s *SQLiteStore) queueEvicted(kind string, ids []string) {
	if len(ids) == 0 {
		return
	}
	s.pendingMu.Lock()
	defer s.pendingMu.Unlock()
	for _, id := range ids {
		s.pendingSeen = append(s.pendingSeen, seenOp{kind: kind, id: id, evict: true})
	}
}

func (s *SQLiteStore) SeenCount(kind string) int { return s.mem.seenCount(kind) }

func (s *SQLiteStore) SeenKinds() []string { return s.mem.kinds() }

func (s *SQLiteStore) Identity(name string) (string, bool) { return s.mem.identity(name) }

func (s *SQLiteStore) SetIdentity(name, id string) {
	if !s.mem.setIdentity(name, id) {
		return
	}
	s.pendingMu.Lock()
	s.pendingIdentities[identityKey(name)] = id
	s.pendingMu.Unlock()
}

func (s *SQLiteStore) Identities() map[string]string { return s.mem.identitiesCopy() }

// Flush commits buffered identities, marks and evictions in one transaction.
// On failure the buffers are kept so the next Flush retries them.
func (s *SQLiteStore) Flush(ctx context.Context) error {
	if s == nil || s.db == nil {
		return errors.New("store is not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	s.pendingMu.Lock()
	defer s.pendingMu.Unlock()

	if len(s.pendingSeen) == 0 && len(s.pendingIdentities) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin flush: %w", err)
	}

	now := formatTime(time.Now())

	for name, id := range s.pendingIdentities {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO identities (name, source_id, resolved_at) VALUES (?, ?, ?)
			ON CONFLICT(name) DO UPDATE SET
				source_id = excluded.source_id,
				resolved_at = excluded.resolved_at
		`, name, id, now); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("save identity: %w", err)
		}
	}

	for _, op := range s.pendingSeen {
		if op.evict {
			if _, err := tx.ExecContext(ctx,
				"DELETE FROM seen_items WHERE kind = ? AND item_id = ?",
				op.kind, op.id,
			); err != nil {
				_ = tx.Rollback()
				return fmt.Errorf("evict seen item: %w", err)
			}
			continue
		}
		if _, err := tx.ExecContext(ctx,
			"INSERT OR IGNORE INTO seen_items (kind, item_id, seen_at) VALUES (?, ?, ?)",
			op.kind, op.id, now,
		); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("save seen item: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit flush: %w", err)
	}

	s.pendingSeen = nil
	s.pendingIdentities = make(map[string]string)
	return nil
}

// Close flushes pending changes and closes the database.
func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	flushErr := s.Flush(context.Background())
	if err := s.db.Close(); err != nil {
		return err
	}
	return flushErr
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}
