package statdb_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/statdb/statdb"
)

func TestDB_Open(t *testing.T) {
	t.Run("Fresh", func(t *testing.T) {
		db := newDB(t)
		if err := db.Open(context.Background()); err != nil {
			t.Fatal(err)
		}

		if !db.Ready() {
			t.Fatal("expected ready")
		}
		if _, err := os.Stat(db.Path()); err != nil {
			t.Fatalf("expected database file: %s", err)
		}

		// A fresh database comes up fully migrated.
		if v, err := db.CurrentVersion(context.Background()); err != nil {
			t.Fatal(err)
		} else if got, want := v, db.TargetVersion(); got != want {
			t.Fatalf("CurrentVersion=%d, want %d", got, want)
		}
		if pending, err := db.HasPendingMigrations(context.Background()); err != nil {
			t.Fatal(err)
		} else if pending {
			t.Fatal("expected no pending migrations")
		}
	})

	t.Run("Idempotent", func(t *testing.T) {
		db := newOpenDB(t)
		mustRecordEvents(t, db, 1)

		// A second open is a no-op and must not disturb the handle.
		if err := db.Open(context.Background()); err != nil {
			t.Fatal(err)
		}
		if got, want := mustCountEvents(t, db), int64(1); got != want {
			t.Fatalf("events=%d, want %d", got, want)
		}
	})

	t.Run("CreatesDirectory", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "nested", "data", "stats.db")
		db := statdb.NewDB(path)
		db.MonitorInterval = 0
		db.DailyBackupEnabled = false
		if err := db.Open(context.Background()); err != nil {
			t.Fatal(err)
		}
		defer func() { _ = db.Close() }()

		if _, err := os.Stat(path); err != nil {
			t.Fatalf("expected database file: %s", err)
		}
	})

	t.Run("WALMode", func(t *testing.T) {
		db := newOpenDB(t)

		var mode string
		if err := db.Handle().QueryRow(`PRAGMA journal_mode`).Scan(&mode); err != nil {
			t.Fatal(err)
		} else if got, want := mode, "wal"; got != want {
			t.Fatalf("journal_mode=%s, want %s", got, want)
		}
	})

	// Ensure a sound database with a leftover WAL sidecar opens directly
	// instead of being treated as corrupt.
	t.Run("StaleWAL", func(t *testing.T) {
		db := newOpenDB(t)
		mustRecordEvents(t, db, 1)
		if err := db.Close(); err != nil {
			t.Fatal(err)
		}

		// A WAL left behind by an unclean exit.
		mustWriteFile(t, db.WALPath(), []byte("stale wal contents"))

		if err := db.Open(context.Background()); err != nil {
			t.Fatal(err)
		}
		if got, want := mustCountEvents(t, db), int64(1); got != want {
			t.Fatalf("events=%d, want %d", got, want)
		}
		if paths := mustGlob(t, db.Path()+".corrupted.*"); len(paths) != 0 {
			t.Fatalf("unexpected quarantined files: %v", paths)
		}
	})
}

func TestDB_Close(t *testing.T) {
	t.Run("OK", func(t *testing.T) {
		db := newOpenDB(t)
		mustRecordEvents(t, db, 2)

		if err := db.Close(); err != nil {
			t.Fatal(err)
		}
		if db.Ready() {
			t.Fatal("expected not ready")
		}

		// Reopening restores access to the same data.
		if err := db.Open(context.Background()); err != nil {
			t.Fatal(err)
		}
		if got, want := mustCountEvents(t, db), int64(2); got != want {
			t.Fatalf("events=%d, want %d", got, want)
		}
	})

	t.Run("NeverOpened", func(t *testing.T) {
		db := statdb.NewDB(filepath.Join(t.TempDir(), "stats.db"))
		if err := db.Close(); err != nil {
			t.Fatal(err)
		}
	})
}

func TestDB_Handle(t *testing.T) {
	t.Run("OK", func(t *testing.T) {
		db := newOpenDB(t)
		if db.Handle() == nil {
			t.Fatal("expected handle")
		}
	})

	// Ensure reaching for the handle before open is reported as a bug in
	// the caller.
	t.Run("PanicsWhenClosed", func(t *testing.T) {
		db := newDB(t)
		defer func() {
			if recover() == nil {
				t.Fatal("expected panic")
			}
		}()
		_ = db.Handle()
	})
}

func TestDB_Size(t *testing.T) {
	db := newOpenDB(t)
	if sz, err := db.Size(); err != nil {
		t.Fatal(err)
	} else if sz == 0 {
		t.Fatal("expected non-zero size")
	}
}

func TestDB_Paths(t *testing.T) {
	db := statdb.NewDB("/var/lib/statdb/stats.db")
	if got, want := db.Name(), "stats.db"; got != want {
		t.Fatalf("Name=%s, want %s", got, want)
	}
	if got, want := db.WALPath(), "/var/lib/statdb/stats.db-wal"; got != want {
		t.Fatalf("WALPath=%s, want %s", got, want)
	}
	if got, want := db.SHMPath(), "/var/lib/statdb/stats.db-shm"; got != want {
		t.Fatalf("SHMPath=%s, want %s", got, want)
	}
}

// newDB returns a new instance of DB on a temporary directory with
// background maintenance disabled so tests drive it explicitly. The
// database will automatically close when the test ends.
func newDB(tb testing.TB) *statdb.DB {
	tb.Helper()
	db := statdb.NewDB(filepath.Join(tb.TempDir(), "stats.db"))
	db.MonitorInterval = 0
	db.DailyBackupEnabled = false
	tb.Cleanup(func() {
		if err := db.Close(); err != nil {
			tb.Fatalf("cannot close database: %s", err)
		}
	})
	return db
}

func newOpenDB(tb testing.TB) *statdb.DB {
	tb.Helper()
	db := newDB(tb)
	if err := db.Open(context.Background()); err != nil {
		tb.Fatal(err)
	}
	return db
}

// mustRecordEvents inserts n generated query events.
func mustRecordEvents(tb testing.TB, db *statdb.DB, n int) {
	tb.Helper()
	for i := 0; i < n; i++ {
		event := statdb.QueryEvent{Model: "small", PromptTokens: 10, CompletionTokens: 5}
		if err := db.RecordQueryEvent(context.Background(), &event); err != nil {
			tb.Fatal(err)
		}
	}
}

func mustCountEvents(tb testing.TB, db *statdb.DB) int64 {
	tb.Helper()
	n, err := db.CountQueryEvents(context.Background())
	if err != nil {
		tb.Fatal(err)
	}
	return n
}

func mustWriteFile(tb testing.TB, path string, data []byte) {
	tb.Helper()
	if err := os.WriteFile(path, data, 0o644); err != nil {
		tb.Fatal(err)
	}
}

func mustGlob(tb testing.TB, pattern string) []string {
	tb.Helper()
	paths, err := filepath.Glob(pattern)
	if err != nil {
		tb.Fatal(err)
	}
	return paths
}
