package state

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"

	_ "embed"
)

//go:embed schema.sql
var schemaSQL string

const metadataDDL = `CREATE TABLE IF NOT EXISTS metadata (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
)`

// migrations[v] moves a database from schema version v to v+1. Append new
// steps; never edit a released one.
var migrations = []string{
	schemaSQL,
}

func schemaVersion() int { return len(migrations) }

// migrate brings db up to schemaVersion in one transaction. A database
// without a recorded version is treated as version 0.
func migrate(ctx context.Context, db *sql.DB) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, metadataDDL); err != nil {
		return fmt.Errorf("create metadata: %w", err)
	}

	version, err := readVersion(ctx, tx)
	if err != nil {
		return err
	}
	target := schemaVersion()
	if version > target {
		return fmt.Errorf("database schema version %d is newer than supported %d", version, target)
	}

	for v := version; v < target; v++ {
		if _, err := tx.ExecContext(ctx, migrations[v]); err != nil {
			return fmt.Errorf("migrate schema %d -> %d: %w", v, v+1, err)
		}
	}
	if version < target {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO metadata(key, value) VALUES('schema_version', ?)
			 ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
			strconv.Itoa(target)); err != nil {
			return fmt.Errorf("record schema version: %w", err)
		}
	}

	return tx.Commit()
}

func readVersion(ctx context.Context, tx *sql.Tx) (int, error) {
	var s string
	err := tx.QueryRowContext(ctx, "SELECT value FROM metadata WHERE key = 'schema_version'").Scan(&s)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read schema version: %w", err)
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("parse schema version %q: %w", s, err)
	}
	return v, nil
}
