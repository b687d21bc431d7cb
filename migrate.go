package statdb

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
)

// Migration is a single forward-only schema change. Released versions are
// never edited; schema fixes land as a new version.
type Migration struct {
	Version int
	Name    string
	SQL     string
}

// MigrationRecord describes a migration that has been applied.
type MigrationRecord struct {
	Version   int       `json:"version"`
	Name      string    `json:"name"`
	AppliedAt time.Time `json:"appliedAt"`
}

// Migrations lists every schema version in application order.
var Migrations = []Migration{
	{
		Version: 1,
		Name:    "create query_events",
		SQL: `
CREATE TABLE query_events (
	id                TEXT PRIMARY KEY,
	ts                INTEGER NOT NULL,
	model             TEXT NOT NULL,
	prompt_tokens     INTEGER NOT NULL DEFAULT 0,
	completion_tokens INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX idx_query_events_ts ON query_events (ts);
`,
	},
	{
		Version: 2,
		Name:    "create auto_run_sessions",
		SQL: `
CREATE TABLE auto_run_sessions (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	reason     TEXT NOT NULL,
	started_at INTEGER NOT NULL,
	ended_at   INTEGER,
	outcome    TEXT
);
CREATE INDEX idx_auto_run_sessions_started_at ON auto_run_sessions (started_at);
`,
	},
	{
		Version: 3,
		Name:    "create daily_usage",
		SQL: `
CREATE TABLE daily_usage (
	day               TEXT PRIMARY KEY,
	query_count       INTEGER NOT NULL DEFAULT 0,
	prompt_tokens     INTEGER NOT NULL DEFAULT 0,
	completion_tokens INTEGER NOT NULL DEFAULT 0
);
`,
	},
	{
		Version: 4,
		Name:    "add query_events.duration_ms",
		SQL:     `ALTER TABLE query_events ADD COLUMN duration_ms INTEGER NOT NULL DEFAULT 0;`,
	},
}

const createMigrationsTableSQL = `
CREATE TABLE IF NOT EXISTS migrations (
	version    INTEGER PRIMARY KEY,
	name       TEXT NOT NULL,
	applied_at TEXT NOT NULL
)`

// TargetVersion returns the newest schema version this build knows about.
func (db *DB) TargetVersion() int {
	if len(Migrations) == 0 {
		return 0
	}
	return Migrations[len(Migrations)-1].Version
}

// CurrentVersion returns the highest schema version recorded in the
// database, or zero when no migration has ever been applied.
func (db *DB) CurrentVersion(ctx context.Context) (int, error) {
	sqldb, err := db.handle()
	if err != nil {
		return 0, err
	}

	var version int
	if err := sqldb.QueryRowContext(ctx, `SELECT COALESCE(MAX(version), 0) FROM migrations`).Scan(&version); err != nil {
		return 0, fmt.Errorf("read schema version: %w", err)
	}
	return version, nil
}

// HasPendingMigrations reports whether the database schema is behind the
// version this build targets.
func (db *DB) HasPendingMigrations(ctx context.Context) (bool, error) {
	current, err := db.CurrentVersion(ctx)
	if err != nil {
		return false, err
	}
	return current < db.TargetVersion(), nil
}

// MigrationHistory returns every applied migration in version order.
func (db *DB) MigrationHistory(ctx context.Context) ([]MigrationRecord, error) {
	sqldb, err := db.handle()
	if err != nil {
		return nil, err
	}

	rows, err := sqldb.QueryContext(ctx, `SELECT version, name, applied_at FROM migrations ORDER BY version`)
	if err != nil {
		return nil, fmt.Errorf("read migration history: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var records []MigrationRecord
	for rows.Next() {
		var rec MigrationRecord
		var appliedAt string
		if err := rows.Scan(&rec.Version, &rec.Name, &appliedAt); err != nil {
			return nil, err
		}
		if rec.AppliedAt, err = time.Parse(time.RFC3339, appliedAt); err != nil {
			return nil, fmt.Errorf("parse applied_at for version %d: %w", rec.Version, err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// migrate applies every migration past the recorded version, in order.
// Each migration commits atomically with its version row; a failure leaves
// the schema at the last committed version.
func (db *DB) migrate(ctx context.Context) error {
	sqldb, err := db.handle()
	if err != nil {
		return err
	}

	if _, err := sqldb.ExecContext(ctx, createMigrationsTableSQL); err != nil {
		return fmt.Errorf("ensure migrations table: %w", err)
	}

	current, err := db.CurrentVersion(ctx)
	if err != nil {
		return err
	}
	TraceLog.Printf("[Migrate(%s)]: current=%d target=%d", db.Name(), current, db.TargetVersion())

	prev := 0
	for _, migration := range Migrations {
		assert(migration.Version > prev, "migrations must be ordered by version")
		prev = migration.Version

		if migration.Version <= current {
			continue
		}
		if err := db.applyMigration(ctx, sqldb, migration); err != nil {
			return fmt.Errorf("migration %d (%s): %w", migration.Version, migration.Name, err)
		}

		db.Logger.WithFields(logrus.Fields{
			"db":      db.Name(),
			"version": migration.Version,
			"name":    migration.Name,
		}).Info("migration applied")
	}
	return nil
}

func (db *DB) applyMigration(ctx context.Context, sqldb *sql.DB, migration Migration) error {
	tx, err := sqldb.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, migration.SQL); err != nil {
		return err
	}

	appliedAt := db.Now().UTC().Format(time.RFC3339)
	if _, err := tx.ExecContext(ctx, `INSERT INTO migrations (version, name, applied_at) VALUES (?, ?, ?)`,
		migration.Version, migration.Name, appliedAt); err != nil {
		return err
	}
	return tx.Commit()
}
