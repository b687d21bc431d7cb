package statdb

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/sirupsen/logrus"
)

// RecoveryInfo describes how an existing database file was brought back
// into service.
type RecoveryInfo struct {
	Recovered          bool   // live file failed validation and recovery ran
	RestoredFromBackup bool   // a validated backup overwrote the live file
	BackupPath         string // source backup when RestoredFromBackup is set
	QuarantinedPath    string // where the corrupt original was moved, if the rename succeeded
	Fresh              bool   // live file replaced by a brand new database
}

// recoveryOutcome tags the result of a single recovery step.
type recoveryOutcome int

const (
	recoveryTryNext recoveryOutcome = iota // step could not produce a database
	recoveryOpened                         // db.sqldb now holds a validated handle
)

// recoveryStep is one candidate source for a usable database file. Steps
// are evaluated in order; the first one to open wins.
type recoveryStep struct {
	name string
	run  func(ctx context.Context) (recoveryOutcome, error)
}

// openExisting validates and opens a pre-existing database file, entering
// the recovery path when validation fails. Callers must hold maintMu.
func (db *DB) openExisting(ctx context.Context) (info RecoveryInfo, err error) {
	// Stale sidecars from an unclean exit can make a sound database look
	// corrupt, and a WAL left behind by an unrelated file can leak stale
	// rows back in after a restore. Opening wins over replaying them.
	if err := removeSidecars(db.path); err != nil {
		return info, err
	}

	if res := ValidateDatabaseFile(ctx, db.path); res.OK {
		sqldb, err := db.openSQLDB(ctx, db.path)
		if err == nil {
			db.mu.Lock()
			db.sqldb = sqldb
			db.mu.Unlock()
			return info, nil // open directly
		}
		db.Logger.WithError(err).WithField("db", db.Name()).Warn("database failed to open, entering recovery")
	} else {
		db.Logger.WithFields(logrus.Fields{
			"db":     db.Name(),
			"errors": res.Errors,
		}).Warn("database failed integrity check, entering recovery")
	}

	info.Recovered = true
	dbRecoveryCountMetricVec.WithLabelValues(db.Name()).Inc()

	quarantined, err := db.quarantine()
	if err != nil {
		return info, err
	}
	info.QuarantinedPath = quarantined

	// The quarantine rename moves only the main file; its sidecars keep
	// the live name and must not pollute whatever lands there next.
	if err := removeSidecars(db.path); err != nil {
		return info, err
	}

	steps, err := db.recoverySteps(&info)
	if err != nil {
		return info, err
	}

	for _, step := range steps {
		TraceLog.Printf("[Recover(%s)]: step=%s", db.Name(), step.name)
		outcome, err := step.run(ctx)
		if err != nil {
			return info, fmt.Errorf("recovery step %q: %w", step.name, err)
		}
		if outcome == recoveryOpened {
			return info, nil
		}
	}

	// The final step opens a fresh database or errors, so the loop cannot
	// fall through.
	return info, fmt.Errorf("no recovery step produced a database")
}

// quarantine moves the corrupt database aside for inspection, preserving
// it under a timestamped name. If the rename fails the file is removed
// outright; a half-broken file must never remain on the live path.
func (db *DB) quarantine() (string, error) {
	dst := CorruptedPath(db.path, db.Now())
	if err := os.Rename(db.path, dst); err != nil {
		db.Logger.WithError(err).WithField("db", db.Name()).Warn("quarantine rename failed, removing corrupt file")
		if err := os.Remove(db.path); err != nil && !os.IsNotExist(err) {
			return "", fmt.Errorf("remove corrupt database: %w", err)
		}
		return "", nil
	}

	db.Logger.WithFields(logrus.Fields{"db": db.Name(), "path": dst}).Warn("corrupt database quarantined")
	dbQuarantineCountMetricVec.WithLabelValues(db.Name()).Inc()
	return dst, nil
}

// recoverySteps builds the ordered fallback list: every known backup,
// newest first, then a fresh empty database. Candidate order follows the
// parsed date key, never file mtime, so a stale copy with a fresh mtime
// cannot jump the line.
func (db *DB) recoverySteps(info *RecoveryInfo) ([]recoveryStep, error) {
	backups, err := db.ListBackups()
	if err != nil {
		return nil, fmt.Errorf("list backups: %w", err)
	}

	steps := make([]recoveryStep, 0, len(backups)+1)
	for _, backup := range backups {
		backup := backup
		steps = append(steps, recoveryStep{
			name: filepath.Base(backup.Path),
			run: func(ctx context.Context) (recoveryOutcome, error) {
				outcome, err := db.recoverFromBackup(ctx, backup)
				if outcome == recoveryOpened {
					info.RestoredFromBackup = true
					info.BackupPath = backup.Path
				}
				return outcome, err
			},
		})
	}

	steps = append(steps, recoveryStep{
		name: "fresh",
		run: func(ctx context.Context) (recoveryOutcome, error) {
			outcome, err := db.recoverFresh(ctx)
			if outcome == recoveryOpened {
				info.Fresh = true
			}
			return outcome, err
		},
	})
	return steps, nil
}

// recoverFromBackup validates one backup candidate and, if it is sound,
// restores it over the live path and opens it. Validation failures move on
// to the next candidate; filesystem failures abort recovery.
func (db *DB) recoverFromBackup(ctx context.Context, backup BackupInfo) (recoveryOutcome, error) {
	// Drop the candidate's own stale sidecars so validation sees exactly
	// the bytes a restore would copy.
	if err := removeSidecars(backup.Path); err != nil {
		return recoveryTryNext, err
	}

	if res := ValidateDatabaseFile(ctx, backup.Path); !res.OK {
		db.Logger.WithFields(logrus.Fields{
			"db":     db.Name(),
			"backup": backup.Path,
			"errors": res.Errors,
		}).Warn("backup failed validation, trying next")
		return recoveryTryNext, nil
	}

	if err := db.restoreFile(backup.Path); err != nil {
		return recoveryTryNext, err
	}

	sqldb, err := db.openSQLDB(ctx, db.path)
	if err != nil {
		return recoveryTryNext, fmt.Errorf("open restored database: %w", err)
	}

	db.mu.Lock()
	db.sqldb = sqldb
	db.mu.Unlock()
	return recoveryOpened, nil
}

// recoverFresh abandons the existing file entirely and opens a brand new
// database. Always the final step.
func (db *DB) recoverFresh(ctx context.Context) (recoveryOutcome, error) {
	if err := os.Remove(db.path); err != nil && !os.IsNotExist(err) {
		return recoveryTryNext, err
	}
	if err := removeSidecars(db.path); err != nil {
		return recoveryTryNext, err
	}
	if err := db.createFresh(ctx); err != nil {
		return recoveryTryNext, err
	}
	return recoveryOpened, nil
}

// removeSidecars deletes the WAL & SHM files belonging to the database
// file at path. Missing sidecars are not an error.
func removeSidecars(path string) error {
	for _, p := range []string{path + WALSuffix, path + SHMSuffix} {
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("remove %s: %w", filepath.Base(p), err)
		}
	}
	return nil
}

var (
	dbRecoveryCountMetricVec = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "statdb_db_recovery_count",
		Help: "Number of times corruption recovery has run.",
	}, []string{"db"})

	dbQuarantineCountMetricVec = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "statdb_db_quarantine_count",
		Help: "Number of corrupt database files quarantined.",
	}, []string{"db"})
)
