package statdb_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/statdb/statdb"
)

func TestDB_AutoRunSessions(t *testing.T) {
	t.Run("StartEnd", func(t *testing.T) {
		db := newOpenDB(t)
		ctx := context.Background()
		now := time.Date(2026, time.March, 10, 9, 0, 0, 0, time.UTC)
		db.Now = func() time.Time { return now }

		session, err := db.StartAutoRunSession(ctx, "scheduled")
		if err != nil {
			t.Fatal(err)
		}
		if session.ID == 0 {
			t.Fatal("expected assigned id")
		}
		if got, want := session.StartedAt, now; !got.Equal(want) {
			t.Fatalf("StartedAt=%s, want %s", got, want)
		}

		active, err := db.ActiveAutoRunSessions(ctx)
		if err != nil {
			t.Fatal(err)
		}
		if got, want := len(active), 1; got != want {
			t.Fatalf("active=%d, want %d", got, want)
		}
		if got, want := active[0].Reason, "scheduled"; got != want {
			t.Fatalf("Reason=%s, want %s", got, want)
		}
		if !active[0].EndedAt.IsZero() {
			t.Fatalf("EndedAt=%s, want zero", active[0].EndedAt)
		}

		if err := db.EndAutoRunSession(ctx, session.ID, "completed"); err != nil {
			t.Fatal(err)
		}
		if active, err := db.ActiveAutoRunSessions(ctx); err != nil {
			t.Fatal(err)
		} else if got, want := len(active), 0; got != want {
			t.Fatalf("active=%d, want %d", got, want)
		}
	})

	t.Run("ActiveOldestFirst", func(t *testing.T) {
		db := newOpenDB(t)
		ctx := context.Background()
		now := time.Date(2026, time.March, 10, 9, 0, 0, 0, time.UTC)

		db.Now = func() time.Time { return now }
		if _, err := db.StartAutoRunSession(ctx, "first"); err != nil {
			t.Fatal(err)
		}
		db.Now = func() time.Time { return now.Add(time.Minute) }
		if _, err := db.StartAutoRunSession(ctx, "second"); err != nil {
			t.Fatal(err)
		}

		active, err := db.ActiveAutoRunSessions(ctx)
		if err != nil {
			t.Fatal(err)
		}
		if got, want := len(active), 2; got != want {
			t.Fatalf("active=%d, want %d", got, want)
		}
		if got, want := active[0].Reason, "first"; got != want {
			t.Fatalf("active[0].Reason=%s, want %s", got, want)
		}
		if got, want := active[1].Reason, "second"; got != want {
			t.Fatalf("active[1].Reason=%s, want %s", got, want)
		}
	})

	t.Run("ErrEndTwice", func(t *testing.T) {
		db := newOpenDB(t)
		ctx := context.Background()

		session, err := db.StartAutoRunSession(ctx, "scheduled")
		if err != nil {
			t.Fatal(err)
		}
		if err := db.EndAutoRunSession(ctx, session.ID, "completed"); err != nil {
			t.Fatal(err)
		}

		err = db.EndAutoRunSession(ctx, session.ID, "completed")
		if err == nil || err.Error() != fmt.Sprintf("auto-run session %d is not active", session.ID) {
			t.Fatalf("unexpected error: %v", err)
		}
	})

	t.Run("ErrEndUnknown", func(t *testing.T) {
		db := newOpenDB(t)
		if err := db.EndAutoRunSession(context.Background(), 999, "completed"); err == nil {
			t.Fatal("expected error")
		}
	})

	t.Run("ErrClosed", func(t *testing.T) {
		db := newDB(t)
		if _, err := db.StartAutoRunSession(context.Background(), "scheduled"); err != statdb.ErrDatabaseNotOpen {
			t.Fatalf("unexpected error: %v", err)
		}
	})
}
