package statdb_test

import (
	"context"
	"testing"
	"time"

	"github.com/statdb/statdb"
)

func TestDB_RecordQueryEvent(t *testing.T) {
	t.Run("AssignsDefaults", func(t *testing.T) {
		db := newOpenDB(t)

		event := statdb.QueryEvent{Model: "small"}
		if err := db.RecordQueryEvent(context.Background(), &event); err != nil {
			t.Fatal(err)
		}
		if event.ID == "" {
			t.Fatal("expected assigned id")
		}
		if event.Timestamp.IsZero() {
			t.Fatal("expected assigned timestamp")
		}
	})

	t.Run("PreservesExplicitFields", func(t *testing.T) {
		db := newOpenDB(t)
		ctx := context.Background()
		ts := time.Date(2026, time.March, 10, 9, 30, 0, 0, time.UTC)

		event := statdb.QueryEvent{
			ID:               "ev-1",
			Timestamp:        ts,
			Model:            "large",
			PromptTokens:     120,
			CompletionTokens: 40,
			DurationMS:       900,
		}
		if err := db.RecordQueryEvent(ctx, &event); err != nil {
			t.Fatal(err)
		}

		events, err := db.QueryEventsSince(ctx, time.Time{}, 0)
		if err != nil {
			t.Fatal(err)
		}
		if got, want := len(events), 1; got != want {
			t.Fatalf("events=%d, want %d", got, want)
		}
		if got, want := events[0], event; got != want {
			t.Fatalf("event=%#v, want %#v", got, want)
		}
	})

	t.Run("ErrClosed", func(t *testing.T) {
		db := newDB(t)
		event := statdb.QueryEvent{Model: "small"}
		if err := db.RecordQueryEvent(context.Background(), &event); err != statdb.ErrDatabaseNotOpen {
			t.Fatalf("unexpected error: %v", err)
		}
	})
}

func TestDB_QueryEventsSince(t *testing.T) {
	db := newOpenDB(t)
	ctx := context.Background()
	base := time.Date(2026, time.March, 10, 9, 0, 0, 0, time.UTC)

	for i, id := range []string{"ev-1", "ev-2", "ev-3"} {
		event := statdb.QueryEvent{ID: id, Timestamp: base.Add(time.Duration(i) * time.Minute), Model: "small"}
		if err := db.RecordQueryEvent(ctx, &event); err != nil {
			t.Fatal(err)
		}
	}

	t.Run("Since", func(t *testing.T) {
		events, err := db.QueryEventsSince(ctx, base.Add(time.Minute), 0)
		if err != nil {
			t.Fatal(err)
		}
		if got, want := len(events), 2; got != want {
			t.Fatalf("events=%d, want %d", got, want)
		}
		if got, want := events[0].ID, "ev-2"; got != want {
			t.Fatalf("events[0].ID=%s, want %s", got, want)
		}
		if got, want := events[1].ID, "ev-3"; got != want {
			t.Fatalf("events[1].ID=%s, want %s", got, want)
		}
	})

	t.Run("Limit", func(t *testing.T) {
		events, err := db.QueryEventsSince(ctx, time.Time{}, 1)
		if err != nil {
			t.Fatal(err)
		}
		if got, want := len(events), 1; got != want {
			t.Fatalf("events=%d, want %d", got, want)
		}
		if got, want := events[0].ID, "ev-1"; got != want {
			t.Fatalf("events[0].ID=%s, want %s", got, want)
		}
	})

	t.Run("All", func(t *testing.T) {
		events, err := db.QueryEventsSince(ctx, time.Time{}, 0)
		if err != nil {
			t.Fatal(err)
		}
		if got, want := len(events), 3; got != want {
			t.Fatalf("events=%d, want %d", got, want)
		}
	})
}
