package statdb

import (
	"bytes"
	"context"
	"database/sql"
	"fmt"
	"io"
	"os"

	"github.com/statdb/statdb/internal"
)

// IntegrityResult is the outcome of a database consistency scan.
type IntegrityResult struct {
	OK     bool     `json:"ok"`
	Errors []string `json:"errors,omitempty"`
}

// CheckIntegrity runs SQLite's built-in consistency scan over the open
// database and reports the diagnostic rows on failure. It is read-only and
// safe to call repeatedly. A missing handle is reported inside the result
// rather than raised, so callers can display it like any other failure.
func (db *DB) CheckIntegrity(ctx context.Context) IntegrityResult {
	sqldb, err := db.handle()
	if err != nil {
		return IntegrityResult{Errors: []string{err.Error()}}
	}
	return checkIntegrity(ctx, sqldb)
}

// checkIntegrity scans an open handle. A single "ok" row passes; any other
// row set is returned as diagnostics.
func checkIntegrity(ctx context.Context, sqldb *sql.DB) IntegrityResult {
	rows, err := sqldb.QueryContext(ctx, `PRAGMA integrity_check`)
	if err != nil {
		return IntegrityResult{Errors: []string{err.Error()}}
	}
	defer func() { _ = rows.Close() }()

	var msgs []string
	for rows.Next() {
		var msg string
		if err := rows.Scan(&msg); err != nil {
			return IntegrityResult{Errors: append(msgs, err.Error())}
		}
		msgs = append(msgs, msg)
	}
	if err := rows.Err(); err != nil {
		return IntegrityResult{Errors: append(msgs, err.Error())}
	}

	if len(msgs) == 1 && msgs[0] == "ok" {
		return IntegrityResult{OK: true}
	}
	return IntegrityResult{Errors: msgs}
}

// ValidateDatabaseFile checks that the on-disk file at path is a
// structurally sound SQLite database, using a separate read-only
// connection. The header is verified first: SQLite silently treats an
// empty or truncated file as a new empty database, which would let a
// destroyed file slip past the integrity scan.
func ValidateDatabaseFile(ctx context.Context, path string) IntegrityResult {
	if err := validateDatabaseHeader(path); err != nil {
		return IntegrityResult{Errors: []string{err.Error()}}
	}

	sqldb, err := sql.Open("sqlite3", "file:"+path+"?mode=ro")
	if err != nil {
		return IntegrityResult{Errors: []string{err.Error()}}
	}
	defer func() { _ = sqldb.Close() }()

	return checkIntegrity(ctx, sqldb)
}

// validateDatabaseHeader verifies the file begins with the SQLite magic.
func validateDatabaseHeader(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()

	hdr := make([]byte, len(databaseHeaderMagic))
	if _, err := internal.ReadFullAt(f, hdr, 0); err == io.EOF {
		return fmt.Errorf("empty database file")
	} else if err == io.ErrUnexpectedEOF {
		return fmt.Errorf("truncated database header")
	} else if err != nil {
		return err
	}

	if !bytes.Equal(hdr, databaseHeaderMagic) {
		return fmt.Errorf("invalid database header")
	}
	return nil
}
