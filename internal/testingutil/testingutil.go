package testingutil

import (
	"database/sql"
	"testing"

	_ "github.com/mattn/go-sqlite3"
)

// OpenSQLDB opens a connection to a SQLite database.
func OpenSQLDB(tb testing.TB, dsn string) *sql.DB {
	tb.Helper()

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		tb.Fatal(err)
	}

	tb.Cleanup(func() {
		if err := db.Close(); err != nil {
			tb.Fatal(err)
		}
	})

	return db
}

// ReopenSQLDB closes the existing database connection and reopens it with the DSN.
func ReopenSQLDB(tb testing.TB, db **sql.DB, dsn string) {
	tb.Helper()

	if err := (*db).Close(); err != nil {
		tb.Fatal(err)
	}
	*db = OpenSQLDB(tb, dsn)
}

// MustExec executes a statement against the database and fails the test on
// error.
func MustExec(tb testing.TB, db *sql.DB, query string, args ...any) {
	tb.Helper()

	if _, err := db.Exec(query, args...); err != nil {
		tb.Fatalf("exec %q: %s", query, err)
	}
}

// QueryInt runs a single-row query and returns its integer result.
func QueryInt(tb testing.TB, db *sql.DB, query string, args ...any) int64 {
	tb.Helper()

	var n int64
	if err := db.QueryRow(query, args...).Scan(&n); err != nil {
		tb.Fatalf("query %q: %s", query, err)
	}
	return n
}
