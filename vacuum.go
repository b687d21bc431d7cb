package statdb

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/sirupsen/logrus"
)

// lastVacuumKey is the meta key holding the unix millisecond timestamp of
// the last completed vacuum.
const lastVacuumKey = "last_vacuum_at"

// Vacuum rebuilds the database file, reclaiming free pages. It returns the
// number of bytes freed on disk.
func (db *DB) Vacuum(ctx context.Context) (int64, error) {
	db.maintMu.Lock()
	defer db.maintMu.Unlock()
	return db.vacuum(ctx)
}

func (db *DB) vacuum(ctx context.Context) (freed int64, retErr error) {
	TraceLog.Printf("[Vacuum(%s)]:", db.Name())
	defer func() {
		TraceLog.Printf("[Vacuum.Done(%s)]: freed=%d %s", db.Name(), freed, errorKeyValue(retErr))
	}()

	sqldb, err := db.handle()
	if err != nil {
		return 0, err
	}

	before, err := db.Size()
	if err != nil {
		return 0, err
	}

	if _, err := sqldb.ExecContext(ctx, `VACUUM`); err != nil {
		return 0, fmt.Errorf("vacuum: %w", err)
	}

	// The rebuilt pages land in the WAL; truncate it so the reclaimed
	// space is visible in the main file size.
	if err := db.checkpoint(ctx); err != nil {
		return 0, fmt.Errorf("checkpoint after vacuum: %w", err)
	}

	after, err := db.Size()
	if err != nil {
		return 0, err
	}
	if freed = before - after; freed < 0 {
		freed = 0
	}

	db.Logger.WithFields(logrus.Fields{"db": db.Name(), "freed": freed}).Info("vacuum completed")
	dbVacuumCountMetricVec.WithLabelValues(db.Name()).Inc()
	dbVacuumFreedBytesMetricVec.WithLabelValues(db.Name()).Add(float64(freed))
	return freed, nil
}

// VacuumIfNeeded vacuums only when the database file has reached
// thresholdBytes. It reports whether a vacuum ran.
func (db *DB) VacuumIfNeeded(ctx context.Context, thresholdBytes int64) (bool, int64, error) {
	db.maintMu.Lock()
	defer db.maintMu.Unlock()
	return db.vacuumIfNeeded(ctx, thresholdBytes)
}

func (db *DB) vacuumIfNeeded(ctx context.Context, thresholdBytes int64) (bool, int64, error) {
	size, err := db.Size()
	if err != nil {
		return false, 0, err
	}
	if size < thresholdBytes {
		TraceLog.Printf("[VacuumIfNeeded(%s)]: skipped, size=%d threshold=%d", db.Name(), size, thresholdBytes)
		return false, 0, nil
	}

	freed, err := db.vacuum(ctx)
	if err != nil {
		return false, 0, err
	}
	return true, freed, nil
}

// VacuumIfDue applies the interval gate on top of the size gate: a vacuum
// runs only when the last one is at least VacuumInterval in the past and
// the file has reached VacuumThreshold. The completion timestamp is
// recorded in the meta table so the interval survives restarts.
func (db *DB) VacuumIfDue(ctx context.Context) (bool, int64, error) {
	db.maintMu.Lock()
	defer db.maintMu.Unlock()
	return db.vacuumIfDue(ctx, db.VacuumInterval, db.VacuumThreshold)
}

func (db *DB) vacuumIfDue(ctx context.Context, interval time.Duration, thresholdBytes int64) (bool, int64, error) {
	value, err := db.metaValue(ctx, lastVacuumKey)
	if err != nil {
		return false, 0, err
	}

	if value != "" {
		msec, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			// An unparseable timestamp means the gate cannot be
			// trusted; treat the vacuum as due and rewrite it.
			db.Logger.WithFields(logrus.Fields{"db": db.Name(), "value": value}).Warn("invalid last vacuum timestamp, ignoring")
		} else if elapsed := db.Now().Sub(time.UnixMilli(msec)); elapsed < interval {
			TraceLog.Printf("[VacuumIfDue(%s)]: skipped, elapsed=%s interval=%s", db.Name(), elapsed, interval)
			return false, 0, nil
		}
	}

	vacuumed, freed, err := db.vacuumIfNeeded(ctx, thresholdBytes)
	if err != nil || !vacuumed {
		return vacuumed, freed, err
	}

	if err := db.setMetaValue(ctx, lastVacuumKey, strconv.FormatInt(db.Now().UnixMilli(), 10)); err != nil {
		return true, freed, fmt.Errorf("record vacuum time: %w", err)
	}
	return true, freed, nil
}

var (
	dbVacuumCountMetricVec = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "statdb_db_vacuum_count",
		Help: "Number of completed vacuums.",
	}, []string{"db"})

	dbVacuumFreedBytesMetricVec = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "statdb_db_vacuum_freed_bytes",
		Help: "Total bytes reclaimed by vacuums.",
	}, []string{"db"})
)
