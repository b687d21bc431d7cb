// Package statdb implements an embedded, single-writer SQLite persistence
// engine for usage telemetry. It owns the database file for the life of the
// process and keeps it healthy on its own: WAL checkpointing, integrity
// validation, quarantine-and-restore corruption recovery, daily backup
// rotation, and scheduled vacuuming.
package statdb

import (
	"errors"
	"fmt"
	"io"
	"log"
	"strconv"
	"strings"
	"time"
)

// statdb errors
var (
	ErrDatabaseNotOpen = errors.New("database not open")
	ErrDatabaseOpen    = errors.New("database already open")

	ErrSourceNotFound = fmt.Errorf("database file not found")
	ErrBackupNotFound = fmt.Errorf("backup file not found")
)

// DefaultDatabaseName is the base name of the database file when only a
// data directory is configured.
const DefaultDatabaseName = "stats.db"

// Sidecar suffixes used by SQLite alongside the main database file.
const (
	WALSuffix     = "-wal"
	SHMSuffix     = "-shm"
	JournalSuffix = "-journal"
)

// Backup and quarantine artifacts live next to the database file and are
// recognized purely by suffix.
const (
	dailyBackupSep = ".daily."
	adhocBackupSep = ".backup."
	corruptedSep   = ".corrupted."
)

// DayLayout formats the date key of daily backups. Lexicographic order of
// keys matches chronological order.
const DayLayout = "2006-01-02"

// databaseHeaderMagic is the 16-byte prefix of every non-empty SQLite
// database file. A pre-existing file without it cannot be a usable database.
var databaseHeaderMagic = []byte("SQLite format 3\x00")

// BackupKind distinguishes the two backup namings.
type BackupKind string

const (
	BackupKindDaily BackupKind = "daily"
	BackupKindAdhoc BackupKind = "adhoc"
)

// BackupInfo describes a single backup artifact on disk.
type BackupInfo struct {
	Path      string     `json:"path"`
	Kind      BackupKind `json:"kind"`
	Day       string     `json:"day,omitempty"` // daily backups only
	CreatedAt time.Time  `json:"createdAt"`
	Size      int64      `json:"size"`
}

// FormatDay returns the daily backup date key for t.
func FormatDay(t time.Time) string {
	return t.UTC().Format(DayLayout)
}

// DailyBackupPath returns the path of the daily backup for the given date
// key, for the database at path.
func DailyBackupPath(path, day string) string {
	return path + dailyBackupSep + day
}

// AdhocBackupPath returns the path of an ad-hoc backup taken at t.
func AdhocBackupPath(path string, t time.Time) string {
	return path + adhocBackupSep + strconv.FormatInt(t.UnixMilli(), 10)
}

// CorruptedPath returns the quarantine path for a database found corrupt
// at t.
func CorruptedPath(path string, t time.Time) string {
	return path + corruptedSep + strconv.FormatInt(t.UnixMilli(), 10)
}

// ParseBackupName parses a directory entry name into backup metadata.
// The base argument is the base name of the database file. Returns false
// for names that are not backups of that database; Path & Size are left for
// the caller to fill.
func ParseBackupName(base, name string) (info BackupInfo, ok bool) {
	if rest, found := strings.CutPrefix(name, base+dailyBackupSep); found {
		t, err := time.Parse(DayLayout, rest)
		if err != nil {
			return info, false
		}
		return BackupInfo{Kind: BackupKindDaily, Day: rest, CreatedAt: t.UTC()}, true
	}

	if rest, found := strings.CutPrefix(name, base+adhocBackupSep); found {
		ms, err := strconv.ParseInt(rest, 10, 64)
		if err != nil {
			return info, false
		}
		return BackupInfo{Kind: BackupKindAdhoc, CreatedAt: time.UnixMilli(ms).UTC()}, true
	}

	return info, false
}

// TrimName removes "-journal", "-shm" or "-wal" from the given name.
func TrimName(name string) string {
	if suffix := JournalSuffix; strings.HasSuffix(name, suffix) {
		name = strings.TrimSuffix(name, suffix)
	}
	if suffix := WALSuffix; strings.HasSuffix(name, suffix) {
		name = strings.TrimSuffix(name, suffix)
	}
	if suffix := SHMSuffix; strings.HasSuffix(name, suffix) {
		name = strings.TrimSuffix(name, suffix)
	}
	return name
}

// TraceLogFlags are the default flags used by TraceLog.
const TraceLogFlags = log.LstdFlags | log.Lmicroseconds | log.LUTC

// TraceLog is a low-level, high-volume log of engine operations. It is
// discarded unless the application attaches an output.
var TraceLog = log.New(io.Discard, "", TraceLogFlags)

// errorKeyValue returns a key/value pair of the error. Returns a blank string if err is empty.
func errorKeyValue(err error) string {
	if err == nil {
		return ""
	}
	return "err=" + err.Error()
}

func assert(condition bool, msg string) {
	if !condition {
		panic("assertion failed: " + msg)
	}
}
