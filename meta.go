package statdb

import (
	"context"
	"database/sql"
	"fmt"
)

const createMetaTableSQL = `
CREATE TABLE IF NOT EXISTS meta (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
)`

// MetaValue returns the value stored under key. Absent keys return an
// empty string and no error.
func (db *DB) MetaValue(ctx context.Context, key string) (string, error) {
	return db.metaValue(ctx, key)
}

func (db *DB) metaValue(ctx context.Context, key string) (string, error) {
	sqldb, err := db.handle()
	if err != nil {
		return "", err
	}

	var value string
	err = sqldb.QueryRowContext(ctx, `SELECT value FROM meta WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	} else if err != nil {
		return "", fmt.Errorf("read meta %q: %w", key, err)
	}
	return value, nil
}

// SetMetaValue stores value under key, replacing any previous value.
func (db *DB) SetMetaValue(ctx context.Context, key, value string) error {
	return db.setMetaValue(ctx, key, value)
}

func (db *DB) setMetaValue(ctx context.Context, key, value string) error {
	sqldb, err := db.handle()
	if err != nil {
		return err
	}

	_, err = sqldb.ExecContext(ctx, `
		INSERT INTO meta (key, value) VALUES (?, ?)
		ON CONFLICT (key) DO UPDATE SET value = excluded.value`,
		key, value,
	)
	if err != nil {
		return fmt.Errorf("write meta %q: %w", key, err)
	}
	return nil
}

// ensureMetaTable creates the meta table. It runs before migrations so
// engine bookkeeping is available even on a schema-less database.
func (db *DB) ensureMetaTable(ctx context.Context) error {
	sqldb, err := db.handle()
	if err != nil {
		return err
	}
	_, err = sqldb.ExecContext(ctx, createMetaTableSQL)
	return err
}
