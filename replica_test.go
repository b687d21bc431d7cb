package statdb_test

import (
	"context"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/statdb/statdb"
)

func TestFileReplicaClient_Open(t *testing.T) {
	t.Run("OK", func(t *testing.T) {
		dir := filepath.Join(t.TempDir(), "replica")
		c := statdb.NewFileReplicaClient(dir)
		if err := c.Open(); err != nil {
			t.Fatal(err)
		}
		if _, err := os.Stat(dir); err != nil {
			t.Fatalf("expected replica directory: %s", err)
		}
	})

	t.Run("ErrPathRequired", func(t *testing.T) {
		c := statdb.NewFileReplicaClient("")
		if err := c.Open(); err == nil || err.Error() != `replica path required` {
			t.Fatalf("unexpected error: %v", err)
		}
	})
}

func TestFileReplicaClient_Name(t *testing.T) {
	c := statdb.NewFileReplicaClient("/tmp/replica")
	if got, want := c.Name(), "file:///tmp/replica"; got != want {
		t.Fatalf("Name=%s, want %s", got, want)
	}
}

func TestFileReplicaClient_UploadBackup(t *testing.T) {
	c := newOpenFileReplicaClient(t)
	ctx := context.Background()

	if err := c.UploadBackup(ctx, "stats.db.daily.2026-03-10", strings.NewReader("contents"), 8); err != nil {
		t.Fatal(err)
	}

	// Uploading the same name again overwrites.
	if err := c.UploadBackup(ctx, "stats.db.daily.2026-03-10", strings.NewReader("new contents"), 12); err != nil {
		t.Fatal(err)
	}

	names, err := c.Backups(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if got, want := len(names), 1; got != want {
		t.Fatalf("backups=%d, want %d", got, want)
	}
}

func TestFileReplicaClient_Backups(t *testing.T) {
	c := newOpenFileReplicaClient(t)
	ctx := context.Background()

	for _, name := range []string{
		"stats.db.daily.2026-03-08",
		"stats.db.daily.2026-03-10",
		"stats.db.daily.2026-03-09",
	} {
		if err := c.UploadBackup(ctx, name, strings.NewReader(name), int64(len(name))); err != nil {
			t.Fatal(err)
		}
	}

	names, err := c.Backups(ctx)
	if err != nil {
		t.Fatal(err)
	}
	want := []string{
		"stats.db.daily.2026-03-10",
		"stats.db.daily.2026-03-09",
		"stats.db.daily.2026-03-08",
	}
	if !reflect.DeepEqual(names, want) {
		t.Fatalf("names=%v, want %v", names, want)
	}
}

// Ensure a DB wired to a file replica mirrors every backup artifact.
func TestFileReplicaClient_WithDB(t *testing.T) {
	c := newOpenFileReplicaClient(t)
	db := newOpenDB(t)
	db.Replica = c
	mustRecordEvents(t, db, 1)

	info, err := db.BackupNow(context.Background())
	if err != nil {
		t.Fatal(err)
	}

	names, err := c.Backups(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if got, want := len(names), 1; got != want {
		t.Fatalf("backups=%d, want %d", got, want)
	}
	if got, want := names[0], filepath.Base(info.Path); got != want {
		t.Fatalf("names[0]=%s, want %s", got, want)
	}
}

func newOpenFileReplicaClient(tb testing.TB) *statdb.FileReplicaClient {
	tb.Helper()
	c := statdb.NewFileReplicaClient(filepath.Join(tb.TempDir(), "replica"))
	if err := c.Open(); err != nil {
		tb.Fatal(err)
	}
	return c
}
