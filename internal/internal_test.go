package internal_test

import (
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/statdb/statdb/internal"
)

func TestSync(t *testing.T) {
	t.Run("Dir", func(t *testing.T) {
		if err := internal.Sync(t.TempDir()); err != nil {
			t.Fatal(err)
		}
	})

	t.Run("File", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "x")
		if err := os.WriteFile(path, []byte("x"), 0o666); err != nil {
			t.Fatal(err)
		}
		if err := internal.Sync(path); err != nil {
			t.Fatal(err)
		}
	})

	t.Run("ErrNotExist", func(t *testing.T) {
		err := internal.Sync(filepath.Join(t.TempDir(), "nosuchdir"))
		if !os.IsNotExist(err) {
			t.Fatalf("unexpected error: %#v", err)
		}
	})
}

func TestReadFullAt(t *testing.T) {
	t.Run("OK", func(t *testing.T) {
		buf := make([]byte, 2)
		if n, err := internal.ReadFullAt(strings.NewReader("abcde"), buf, 2); err != nil {
			t.Fatal(err)
		} else if got, want := n, 2; got != want {
			t.Fatalf("n=%v, want %v", got, want)
		} else if got, want := string(buf), "cd"; got != want {
			t.Fatalf("buf=%q, want %q", got, want)
		}
	})

	t.Run("ErrUnexpectedEOF", func(t *testing.T) {
		buf := make([]byte, 4)
		if n, err := internal.ReadFullAt(strings.NewReader("abcde"), buf, 2); err != io.ErrUnexpectedEOF {
			t.Fatalf("unexpected error: %#v", err)
		} else if got, want := n, 3; got != want {
			t.Fatalf("n=%v, want %v", got, want)
		}
	})

	t.Run("EOF", func(t *testing.T) {
		buf := make([]byte, 2)
		if _, err := internal.ReadFullAt(strings.NewReader(""), buf, 2); err != io.EOF {
			t.Fatalf("unexpected error: %#v", err)
		}
	})
}
