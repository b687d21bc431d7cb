package statdb_test

import (
	"context"
	"os"
	"reflect"
	"testing"
	"time"

	"github.com/statdb/statdb"
)

func TestDB_Recovery(t *testing.T) {
	// Ensure a destroyed database is quarantined and replaced with a
	// fresh one when no backups exist.
	t.Run("FreshWhenNoBackups", func(t *testing.T) {
		db := newDB(t)
		mustWriteFile(t, db.Path(), []byte("this is not a database"))

		if err := db.Open(context.Background()); err != nil {
			t.Fatal(err)
		}
		if !db.Ready() {
			t.Fatal("expected ready")
		}
		if v, err := db.CurrentVersion(context.Background()); err != nil {
			t.Fatal(err)
		} else if got, want := v, db.TargetVersion(); got != want {
			t.Fatalf("CurrentVersion=%d, want %d", got, want)
		}

		// The original bytes must survive under the quarantine name.
		paths := mustGlob(t, db.Path()+".corrupted.*")
		if got, want := len(paths), 1; got != want {
			t.Fatalf("quarantined files=%d, want %d", got, want)
		}
		if buf, err := os.ReadFile(paths[0]); err != nil {
			t.Fatal(err)
		} else if got, want := string(buf), "this is not a database"; got != want {
			t.Fatalf("quarantined contents=%q, want %q", got, want)
		}
	})

	t.Run("RestoresNewestDaily", func(t *testing.T) {
		db := newOpenDB(t)
		ctx := context.Background()
		today := time.Date(2026, time.March, 10, 12, 0, 0, 0, time.UTC)

		mustRecordEvents(t, db, 2)
		db.Now = func() time.Time { return today.AddDate(0, 0, -1) }
		if err := db.EnsureDailyBackup(ctx); err != nil {
			t.Fatal(err)
		}

		mustRecordEvents(t, db, 1)
		db.Now = func() time.Time { return today }
		if err := db.EnsureDailyBackup(ctx); err != nil {
			t.Fatal(err)
		}

		if err := db.Close(); err != nil {
			t.Fatal(err)
		}
		mustWriteFile(t, db.Path(), []byte("x"))

		// The newer daily holds three events, the older one two.
		if err := db.Open(ctx); err != nil {
			t.Fatal(err)
		}
		if got, want := mustCountEvents(t, db), int64(3); got != want {
			t.Fatalf("events=%d, want %d", got, want)
		}
	})

	t.Run("SkipsCorruptBackup", func(t *testing.T) {
		db := newOpenDB(t)
		ctx := context.Background()
		today := time.Date(2026, time.March, 10, 12, 0, 0, 0, time.UTC)

		mustRecordEvents(t, db, 2)
		db.Now = func() time.Time { return today.AddDate(0, 0, -1) }
		if err := db.EnsureDailyBackup(ctx); err != nil {
			t.Fatal(err)
		}

		mustRecordEvents(t, db, 1)
		db.Now = func() time.Time { return today }
		if err := db.EnsureDailyBackup(ctx); err != nil {
			t.Fatal(err)
		}

		if err := db.Close(); err != nil {
			t.Fatal(err)
		}

		// Destroy both the live file and the newest backup, and leave a
		// stale WAL next to the survivor.
		older := statdb.DailyBackupPath(db.Path(), statdb.FormatDay(today.AddDate(0, 0, -1)))
		mustWriteFile(t, db.Path(), []byte("garbage"))
		mustWriteFile(t, statdb.DailyBackupPath(db.Path(), statdb.FormatDay(today)), []byte("garbage"))
		mustWriteFile(t, older+"-wal", []byte("garbage"))

		if err := db.Open(ctx); err != nil {
			t.Fatal(err)
		}
		if got, want := mustCountEvents(t, db), int64(2); got != want {
			t.Fatalf("events=%d, want %d", got, want)
		}

		// The candidate's stale sidecar must not survive validation.
		if _, err := os.Stat(older + "-wal"); !os.IsNotExist(err) {
			t.Fatalf("expected sidecar removed, got %v", err)
		}
	})

	// Ensure a zeroed database file is caught by the header check and the
	// rows come back from the most recent daily backup.
	t.Run("EmptyFileWithDailyBackup", func(t *testing.T) {
		db := newOpenDB(t)
		ctx := context.Background()
		yesterday := time.Now().AddDate(0, 0, -1)

		mustRecordEvents(t, db, 3)
		before, err := db.QueryEventsSince(ctx, time.Time{}, 0)
		if err != nil {
			t.Fatal(err)
		}

		db.Now = func() time.Time { return yesterday }
		if err := db.EnsureDailyBackup(ctx); err != nil {
			t.Fatal(err)
		}

		if err := db.Close(); err != nil {
			t.Fatal(err)
		}
		mustWriteFile(t, db.Path(), nil)

		if err := db.Open(ctx); err != nil {
			t.Fatal(err)
		}

		after, err := db.QueryEventsSince(ctx, time.Time{}, 0)
		if err != nil {
			t.Fatal(err)
		}
		if !reflect.DeepEqual(before, after) {
			t.Fatalf("restored events=%#v, want %#v", after, before)
		}

		if paths := mustGlob(t, db.Path()+".corrupted.*"); len(paths) != 1 {
			t.Fatalf("quarantined files=%v, want one", paths)
		}
	})
}
