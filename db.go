package statdb

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// Default maintenance settings.
const (
	DefaultMonitorInterval = 1 * time.Minute
	DefaultRetentionDays   = 7
	DefaultVacuumInterval  = 7 * 24 * time.Hour
	DefaultVacuumThreshold = 10 << 20 // 10MB
)

// DB represents a managed SQLite database file. It owns the file
// exclusively for as long as it is open: it validates the file on open,
// recovers it from backups when it is corrupt, and runs backup and vacuum
// maintenance in the background.
//
// All state lives on the instance. Exported fields may be set between
// NewDB() and Open().
type DB struct {
	mu      sync.Mutex // guards lifecycle state
	maintMu sync.Mutex // serializes maintenance & recovery operations

	path  string
	sqldb *sql.DB // nil when closed

	ctx    context.Context
	cancel context.CancelFunc
	g      *errgroup.Group

	// MonitorInterval is the wake-up cadence of the background maintenance
	// loop. Zero disables the loop.
	MonitorInterval time.Duration

	// DailyBackupEnabled controls the dated-backup check performed at open
	// and on every monitor tick.
	DailyBackupEnabled bool

	// RetentionDays bounds the age of daily backups kept on disk.
	RetentionDays int

	// VacuumInterval & VacuumThreshold gate the scheduled vacuum. Both
	// gates must pass before space is reclaimed.
	VacuumInterval  time.Duration
	VacuumThreshold int64

	// Replica, when set, receives a copy of every backup artifact.
	Replica ReplicaClient

	// Logger receives engine events.
	Logger logrus.FieldLogger

	// Now returns the current time. Overridable for testing.
	Now func() time.Time
}

// NewDB returns a new instance of DB for the database file at path.
func NewDB(path string) *DB {
	return &DB{
		path: path,

		MonitorInterval:    DefaultMonitorInterval,
		DailyBackupEnabled: true,
		RetentionDays:      DefaultRetentionDays,
		VacuumInterval:     DefaultVacuumInterval,
		VacuumThreshold:    DefaultVacuumThreshold,

		Logger: logrus.StandardLogger(),
		Now:    time.Now,
	}
}

// Name returns the base name of the database file.
func (db *DB) Name() string { return filepath.Base(db.path) }

// Path returns the location of the database file.
func (db *DB) Path() string { return db.path }

// WALPath returns the path of the write-ahead log sidecar.
func (db *DB) WALPath() string { return db.path + WALSuffix }

// SHMPath returns the path of the shared-memory sidecar.
func (db *DB) SHMPath() string { return db.path + SHMSuffix }

// Ready reports whether the database is open and holding a live handle.
func (db *DB) Ready() bool {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.sqldb != nil
}

// Handle returns the raw SQL handle for delegate modules to issue
// statements against. Calling it before a successful Open is a bug in the
// caller and panics.
func (db *DB) Handle() *sql.DB {
	sqldb, err := db.handle()
	if err != nil {
		panic("statdb: " + err.Error())
	}
	return sqldb
}

// handle returns the current handle, or ErrDatabaseNotOpen when closed.
func (db *DB) handle() (*sql.DB, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.sqldb == nil {
		return nil, ErrDatabaseNotOpen
	}
	return db.sqldb, nil
}

// Size returns the size of the main database file in bytes.
func (db *DB) Size() (int64, error) {
	fi, err := os.Stat(db.path)
	if err != nil {
		return 0, err
	}
	return fi.Size(), nil
}

// Open initializes the database, creating or recovering the file as
// needed. It is idempotent; opening an already open database is a no-op.
// By the time Open returns, the file has passed an integrity check, WAL
// mode is active, and all schema migrations have been applied. Maintenance
// failures during open are logged, never returned.
func (db *DB) Open(ctx context.Context) (retErr error) {
	db.maintMu.Lock()
	defer db.maintMu.Unlock()

	if db.Ready() {
		return nil
	}

	TraceLog.Printf("[Open(%s)]:", db.Name())
	defer func() {
		TraceLog.Printf("[Open.Done(%s)]: %s", db.Name(), errorKeyValue(retErr))
	}()

	if err := os.MkdirAll(filepath.Dir(db.path), 0o755); err != nil {
		return fmt.Errorf("create data directory: %w", err)
	}

	info, err := db.openDatabaseFile(ctx)
	if err != nil {
		return err
	}

	switch {
	case info.RestoredFromBackup:
		db.Logger.WithFields(logrus.Fields{
			"db":          db.Name(),
			"backup":      info.BackupPath,
			"quarantined": info.QuarantinedPath,
		}).Warn("database restored from backup")
	case info.Recovered && info.Fresh:
		db.Logger.WithFields(logrus.Fields{
			"db":          db.Name(),
			"quarantined": info.QuarantinedPath,
		}).Warn("database recreated, no usable backup found")
	}

	if err := db.initSchema(ctx); err != nil {
		db.mu.Lock()
		if db.sqldb != nil {
			_ = db.sqldb.Close()
			db.sqldb = nil
		}
		db.mu.Unlock()
		return err
	}

	// Best-effort maintenance pass; the open has already succeeded.
	db.runMaintenance(ctx)

	db.mu.Lock()
	db.ctx, db.cancel = context.WithCancel(context.Background())
	db.g = &errgroup.Group{}
	if db.MonitorInterval > 0 {
		mctx := db.ctx
		db.g.Go(func() error { return db.monitor(mctx) })
	}
	db.mu.Unlock()

	dbOpenCountMetricVec.WithLabelValues(db.Name()).Inc()
	return nil
}

// Close stops background maintenance, releases the handle, and returns the
// database to its unopened state. A later Open performs the full open
// sequence again.
func (db *DB) Close() (retErr error) {
	db.mu.Lock()
	cancel, g := db.cancel, db.g
	db.mu.Unlock()

	// Stop the monitor before taking maintMu; an in-flight tick holds it.
	if cancel != nil {
		cancel()
	}
	if g != nil {
		if err := g.Wait(); err != nil && retErr == nil {
			retErr = err
		}
	}

	db.maintMu.Lock()
	defer db.maintMu.Unlock()
	db.mu.Lock()
	defer db.mu.Unlock()

	if db.sqldb != nil {
		if err := db.sqldb.Close(); err != nil && retErr == nil {
			retErr = err
		}
		db.sqldb = nil
	}
	db.ctx, db.cancel, db.g = nil, nil, nil
	return retErr
}

// openDatabaseFile produces a validated open handle at db.path, recovering
// or recreating the file when necessary.
func (db *DB) openDatabaseFile(ctx context.Context) (RecoveryInfo, error) {
	var info RecoveryInfo

	_, err := os.Stat(db.path)
	switch {
	case err == nil:
		info, err = db.openExisting(ctx)
		if err == nil {
			return info, nil
		}

		// Recovery may have quarantined the file before failing. A fresh
		// database is still preferable to not opening at all.
		if _, serr := os.Stat(db.path); !os.IsNotExist(serr) {
			return info, err
		}
		db.Logger.WithError(err).WithField("db", db.Name()).Warn("recovery failed, creating fresh database")
		info.Fresh = true
		return info, db.createFresh(ctx)

	case os.IsNotExist(err):
		db.Logger.WithFields(logrus.Fields{"db": db.Name(), "path": db.path}).Info("creating database")
		return info, db.createFresh(ctx)

	default:
		return info, err
	}
}

// createFresh opens a brand new database file at db.path.
func (db *DB) createFresh(ctx context.Context) error {
	sqldb, err := db.openSQLDB(ctx, db.path)
	if err != nil {
		return fmt.Errorf("create database: %w", err)
	}

	db.mu.Lock()
	db.sqldb = sqldb
	db.mu.Unlock()
	return nil
}

// openSQLDB opens a SQLite handle for path and applies the engine pragmas.
// The pool is capped at a single connection so every database call runs on
// one dedicated connection, preserving the single-writer contract.
func (db *DB) openSQLDB(ctx context.Context, path string) (*sql.DB, error) {
	sqldb, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}
	sqldb.SetMaxOpenConns(1)

	for _, pragma := range []string{
		`PRAGMA busy_timeout = 5000`,
		`PRAGMA journal_mode = WAL`,
		`PRAGMA synchronous = NORMAL`,
		`PRAGMA foreign_keys = ON`,
	} {
		if _, err := sqldb.ExecContext(ctx, pragma); err != nil {
			_ = sqldb.Close()
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}
	return sqldb, nil
}

// initSchema brings the schema up to date. Runs within Open, before any
// delegate module can issue a statement.
func (db *DB) initSchema(ctx context.Context) error {
	if err := db.ensureMetaTable(ctx); err != nil {
		return fmt.Errorf("ensure meta table: %w", err)
	}
	if err := db.migrate(ctx); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

// runMaintenance performs a single maintenance pass. All failures are
// logged and swallowed; maintenance never breaks an open database.
// Callers must hold maintMu.
func (db *DB) runMaintenance(ctx context.Context) {
	if db.DailyBackupEnabled {
		if err := db.ensureDailyBackup(ctx); err != nil {
			db.Logger.WithError(err).WithField("db", db.Name()).Warn("daily backup failed")
		}
	}

	if _, _, err := db.vacuumIfDue(ctx, db.VacuumInterval, db.VacuumThreshold); err != nil {
		db.Logger.WithError(err).WithField("db", db.Name()).Warn("scheduled vacuum failed")
	}

	if size, err := db.Size(); err == nil {
		dbSizeMetricVec.WithLabelValues(db.Name()).Set(float64(size))
	}
}

// monitor runs in a background goroutine and performs periodic maintenance
// until the database is closed.
func (db *DB) monitor(ctx context.Context) error {
	ticker := time.NewTicker(db.MonitorInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}

		db.maintMu.Lock()
		db.runMaintenance(ctx)
		db.maintMu.Unlock()
	}
}

var (
	dbSizeMetricVec = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "statdb_db_size_bytes",
		Help: "Size of the database file on disk.",
	}, []string{"db"})

	dbOpenCountMetricVec = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "statdb_db_open_count",
		Help: "Number of times the database has been opened.",
	}, []string{"db"})
)
