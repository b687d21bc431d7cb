package statdb

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/natefinch/atomic"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/sirupsen/logrus"
	"github.com/statdb/statdb/internal"
)

// CreateConsistentCopy writes a self-contained snapshot of the database to
// dst. The WAL is always checkpointed into the main file first so the copy
// never depends on a sidecar to be complete.
func (db *DB) CreateConsistentCopy(ctx context.Context, dst string) error {
	db.maintMu.Lock()
	defer db.maintMu.Unlock()
	return db.createConsistentCopy(ctx, dst)
}

func (db *DB) createConsistentCopy(ctx context.Context, dst string) (retErr error) {
	TraceLog.Printf("[CreateConsistentCopy(%s)]: dst=%s", db.Name(), dst)
	defer func() {
		TraceLog.Printf("[CreateConsistentCopy.Done(%s)]: %s", db.Name(), errorKeyValue(retErr))
	}()

	if err := db.checkpoint(ctx); err != nil {
		return err
	}

	f, err := os.Open(db.path)
	if err != nil {
		return fmt.Errorf("open source database: %w", err)
	}
	defer func() { _ = f.Close() }()

	// Copy lands under a temporary name and is renamed into place so a
	// crashed copy never leaves a partial artifact under the final name.
	if err := atomic.WriteFile(dst, f); err != nil {
		return fmt.Errorf("write copy: %w", err)
	}
	return internal.Sync(filepath.Dir(dst))
}

// checkpoint merges the WAL into the main database file and truncates it.
func (db *DB) checkpoint(ctx context.Context) error {
	sqldb, err := db.handle()
	if err != nil {
		return err
	}

	var busy, logN, ckptN int
	if err := sqldb.QueryRowContext(ctx, `PRAGMA wal_checkpoint(TRUNCATE)`).Scan(&busy, &logN, &ckptN); err != nil {
		return fmt.Errorf("checkpoint: %w", err)
	} else if busy != 0 {
		return fmt.Errorf("checkpoint blocked: wal pages=%d checkpointed=%d", logN, ckptN)
	}
	return nil
}

// BackupNow creates an ad-hoc timestamped backup next to the database
// file. It fails with ErrSourceNotFound when the database file is missing.
func (db *DB) BackupNow(ctx context.Context) (BackupInfo, error) {
	db.maintMu.Lock()
	defer db.maintMu.Unlock()
	return db.backupNow(ctx)
}

func (db *DB) backupNow(ctx context.Context) (BackupInfo, error) {
	if _, err := os.Stat(db.path); os.IsNotExist(err) {
		return BackupInfo{}, ErrSourceNotFound
	} else if err != nil {
		return BackupInfo{}, err
	}

	now := db.Now()
	dst := AdhocBackupPath(db.path, now)
	if err := db.createConsistentCopy(ctx, dst); err != nil {
		return BackupInfo{}, err
	}

	fi, err := os.Stat(dst)
	if err != nil {
		return BackupInfo{}, err
	}
	info := BackupInfo{
		Path:      dst,
		Kind:      BackupKindAdhoc,
		CreatedAt: now.UTC(),
		Size:      fi.Size(),
	}

	db.Logger.WithFields(logrus.Fields{"db": db.Name(), "path": dst, "size": info.Size}).Info("backup created")
	dbBackupCountMetricVec.WithLabelValues(db.Name()).Inc()
	dbLastBackupBytesMetricVec.WithLabelValues(db.Name()).Set(float64(info.Size))

	db.replicate(ctx, info)
	return info, nil
}

// EnsureDailyBackup creates today's dated backup if it does not already
// exist, then prunes dailies past the retention window.
func (db *DB) EnsureDailyBackup(ctx context.Context) error {
	db.maintMu.Lock()
	defer db.maintMu.Unlock()
	return db.ensureDailyBackup(ctx)
}

func (db *DB) ensureDailyBackup(ctx context.Context) error {
	day := FormatDay(db.Now())
	dst := DailyBackupPath(db.path, day)

	if _, err := os.Stat(dst); err == nil {
		return db.rotateOldBackups(db.RetentionDays)
	} else if !os.IsNotExist(err) {
		return err
	}

	if err := db.createConsistentCopy(ctx, dst); err != nil {
		return fmt.Errorf("daily backup: %w", err)
	}

	fi, err := os.Stat(dst)
	if err != nil {
		return err
	}
	db.Logger.WithFields(logrus.Fields{"db": db.Name(), "path": dst, "size": fi.Size()}).Info("daily backup created")
	dbBackupCountMetricVec.WithLabelValues(db.Name()).Inc()
	dbLastBackupBytesMetricVec.WithLabelValues(db.Name()).Set(float64(fi.Size()))

	db.replicate(ctx, BackupInfo{
		Path:      dst,
		Kind:      BackupKindDaily,
		Day:       day,
		CreatedAt: db.Now().UTC(),
		Size:      fi.Size(),
	})

	return db.rotateOldBackups(db.RetentionDays)
}

// RotateOldBackups deletes daily backups whose date key falls strictly
// before the retention window. Ad-hoc backups are never rotated, and the
// newest daily always survives no matter how old it is.
func (db *DB) RotateOldBackups(retentionDays int) error {
	db.maintMu.Lock()
	defer db.maintMu.Unlock()
	return db.rotateOldBackups(retentionDays)
}

func (db *DB) rotateOldBackups(retentionDays int) error {
	if retentionDays < 0 {
		return fmt.Errorf("invalid retention days: %d", retentionDays)
	}

	backups, err := db.ListBackups()
	if err != nil {
		return err
	}

	// Lexicographic comparison of date keys is chronological.
	cutoff := FormatDay(db.Now().AddDate(0, 0, -retentionDays))

	// Backups are sorted newest first; the first daily is the survivor.
	newestDaily := ""
	for _, backup := range backups {
		if backup.Kind == BackupKindDaily {
			newestDaily = backup.Path
			break
		}
	}

	var reaped int
	for _, backup := range backups {
		if backup.Kind != BackupKindDaily {
			continue
		} else if backup.Path == newestDaily {
			continue
		} else if backup.Day >= cutoff {
			continue
		}

		if err := os.Remove(backup.Path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("remove expired backup: %w", err)
		}
		db.Logger.WithFields(logrus.Fields{"db": db.Name(), "path": backup.Path}).Info("expired daily backup removed")
		reaped++
	}

	if reaped > 0 {
		dbBackupReapCountMetricVec.WithLabelValues(db.Name()).Add(float64(reaped))
	}
	return nil
}

// ListBackups returns every recognized backup artifact for the database,
// sorted newest first by the key encoded in the name. Unrecognized files
// in the directory are skipped.
func (db *DB) ListBackups() ([]BackupInfo, error) {
	dir, base := filepath.Dir(db.path), filepath.Base(db.path)

	ents, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	var infos []BackupInfo
	for _, ent := range ents {
		if ent.IsDir() {
			continue
		}
		info, ok := ParseBackupName(base, ent.Name())
		if !ok {
			continue
		}

		fi, err := ent.Info()
		if os.IsNotExist(err) {
			continue // removed mid-listing
		} else if err != nil {
			return nil, err
		}

		info.Path = filepath.Join(dir, ent.Name())
		info.Size = fi.Size()
		infos = append(infos, info)
	}

	sort.Slice(infos, func(i, j int) bool {
		if !infos[i].CreatedAt.Equal(infos[j].CreatedAt) {
			return infos[i].CreatedAt.After(infos[j].CreatedAt)
		}
		return infos[i].Path > infos[j].Path
	})
	return infos, nil
}

// Restore replaces the live database with the backup at backupPath. Any
// open handle is closed for the swap and reopened afterward. The backup is
// not re-validated here; callers that cannot trust the file should run it
// through an integrity check first.
func (db *DB) Restore(ctx context.Context, backupPath string) error {
	db.maintMu.Lock()
	defer db.maintMu.Unlock()

	if _, err := os.Stat(backupPath); os.IsNotExist(err) {
		return ErrBackupNotFound
	} else if err != nil {
		return err
	}

	db.mu.Lock()
	sqldb := db.sqldb
	db.sqldb = nil
	db.mu.Unlock()

	wasOpen := sqldb != nil
	if wasOpen {
		if err := sqldb.Close(); err != nil {
			return fmt.Errorf("close before restore: %w", err)
		}
	}

	if err := db.restoreFile(backupPath); err != nil {
		return err
	}

	if wasOpen {
		reopened, err := db.openSQLDB(ctx, db.path)
		if err != nil {
			return fmt.Errorf("reopen after restore: %w", err)
		}
		db.mu.Lock()
		db.sqldb = reopened
		db.mu.Unlock()
	}

	db.Logger.WithFields(logrus.Fields{"db": db.Name(), "backup": backupPath}).Info("database restored")
	dbRestoreCountMetricVec.WithLabelValues(db.Name()).Inc()
	return nil
}

// restoreFile copies src over the live path, dropping the live file and
// its sidecars first so nothing of the old state bleeds through.
func (db *DB) restoreFile(src string) error {
	if err := removeSidecars(db.path); err != nil {
		return err
	}
	if err := os.Remove(db.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove live database: %w", err)
	}

	f, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("open backup: %w", err)
	}
	defer func() { _ = f.Close() }()

	if err := atomic.WriteFile(db.path, f); err != nil {
		return fmt.Errorf("restore copy: %w", err)
	}
	return internal.Sync(filepath.Dir(db.path))
}

// replicate ships a backup artifact to the attached replica client.
// Replication failures never fail the backup that produced the artifact.
func (db *DB) replicate(ctx context.Context, info BackupInfo) {
	if db.Replica == nil {
		return
	}

	f, err := os.Open(info.Path)
	if err != nil {
		db.Logger.WithError(err).WithFields(logrus.Fields{"db": db.Name(), "path": info.Path}).Warn("backup replication failed")
		return
	}
	defer func() { _ = f.Close() }()

	if err := db.Replica.UploadBackup(ctx, filepath.Base(info.Path), f, info.Size); err != nil {
		db.Logger.WithError(err).WithFields(logrus.Fields{
			"db":      db.Name(),
			"replica": db.Replica.Name(),
			"path":    info.Path,
		}).Warn("backup replication failed")
		return
	}

	db.Logger.WithFields(logrus.Fields{
		"db":      db.Name(),
		"replica": db.Replica.Name(),
		"path":    info.Path,
	}).Debug("backup replicated")
}

var (
	dbBackupCountMetricVec = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "statdb_db_backup_count",
		Help: "Number of backups created.",
	}, []string{"db"})

	dbBackupReapCountMetricVec = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "statdb_db_backup_reap_count",
		Help: "Number of daily backups removed by rotation.",
	}, []string{"db"})

	dbLastBackupBytesMetricVec = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "statdb_db_last_backup_bytes",
		Help: "Size of the most recent backup artifact.",
	}, []string{"db"})

	dbRestoreCountMetricVec = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "statdb_db_restore_count",
		Help: "Number of times the database has been restored from a backup.",
	}, []string{"db"})
)
