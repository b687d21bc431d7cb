package statdb_test

import (
	"context"
	"testing"

	"github.com/statdb/statdb"
)

func TestDB_TargetVersion(t *testing.T) {
	db := statdb.NewDB("stats.db")
	if got, want := db.TargetVersion(), statdb.Migrations[len(statdb.Migrations)-1].Version; got != want {
		t.Fatalf("TargetVersion=%d, want %d", got, want)
	}
}

func TestDB_MigrationHistory(t *testing.T) {
	t.Run("OK", func(t *testing.T) {
		db := newOpenDB(t)

		history, err := db.MigrationHistory(context.Background())
		if err != nil {
			t.Fatal(err)
		}
		if got, want := len(history), len(statdb.Migrations); got != want {
			t.Fatalf("history=%d, want %d", got, want)
		}

		for i, record := range history {
			if got, want := record.Version, statdb.Migrations[i].Version; got != want {
				t.Fatalf("history[%d].Version=%d, want %d", i, got, want)
			}
			if got, want := record.Name, statdb.Migrations[i].Name; got != want {
				t.Fatalf("history[%d].Name=%s, want %s", i, got, want)
			}
			if record.AppliedAt.IsZero() {
				t.Fatalf("history[%d].AppliedAt is zero", i)
			}
		}
	})

	// Ensure reopening an already migrated database applies nothing new.
	t.Run("ReopenIsNoop", func(t *testing.T) {
		db := newOpenDB(t)
		ctx := context.Background()

		before, err := db.MigrationHistory(ctx)
		if err != nil {
			t.Fatal(err)
		}

		if err := db.Close(); err != nil {
			t.Fatal(err)
		}
		if err := db.Open(ctx); err != nil {
			t.Fatal(err)
		}

		after, err := db.MigrationHistory(ctx)
		if err != nil {
			t.Fatal(err)
		}
		if got, want := len(after), len(before); got != want {
			t.Fatalf("history=%d, want %d", got, want)
		}
	})

	t.Run("ErrClosed", func(t *testing.T) {
		db := newDB(t)
		if _, err := db.MigrationHistory(context.Background()); err != statdb.ErrDatabaseNotOpen {
			t.Fatalf("unexpected error: %v", err)
		}
	})
}

func TestDB_CurrentVersion(t *testing.T) {
	t.Run("ErrClosed", func(t *testing.T) {
		db := newDB(t)
		if _, err := db.CurrentVersion(context.Background()); err != statdb.ErrDatabaseNotOpen {
			t.Fatalf("unexpected error: %v", err)
		}
	})
}
