package statdb

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// AutoRunSession tracks one span of unattended operation. A session is
// active until it is ended with an outcome.
type AutoRunSession struct {
	ID        int64     `json:"id"`
	Reason    string    `json:"reason"`
	StartedAt time.Time `json:"startedAt"`
	EndedAt   time.Time `json:"endedAt,omitempty"` // zero while active
	Outcome   string    `json:"outcome,omitempty"` // empty while active
}

// StartAutoRunSession opens a new session and returns it with its assigned
// id and start time.
func (db *DB) StartAutoRunSession(ctx context.Context, reason string) (AutoRunSession, error) {
	sqldb, err := db.handle()
	if err != nil {
		return AutoRunSession{}, err
	}

	session := AutoRunSession{Reason: reason, StartedAt: db.Now().UTC()}

	result, err := sqldb.ExecContext(ctx, `
		INSERT INTO auto_run_sessions (reason, started_at) VALUES (?, ?)`,
		session.Reason, session.StartedAt.UnixMilli(),
	)
	if err != nil {
		return AutoRunSession{}, fmt.Errorf("start session: %w", err)
	}
	if session.ID, err = result.LastInsertId(); err != nil {
		return AutoRunSession{}, err
	}
	return session, nil
}

// EndAutoRunSession closes an active session with the given outcome. It
// fails if the session does not exist or has already ended.
func (db *DB) EndAutoRunSession(ctx context.Context, id int64, outcome string) error {
	sqldb, err := db.handle()
	if err != nil {
		return err
	}

	result, err := sqldb.ExecContext(ctx, `
		UPDATE auto_run_sessions SET ended_at = ?, outcome = ?
		WHERE id = ? AND ended_at IS NULL`,
		db.Now().UTC().UnixMilli(), outcome, id,
	)
	if err != nil {
		return fmt.Errorf("end session: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return err
	} else if n == 0 {
		return fmt.Errorf("auto-run session %d is not active", id)
	}
	return nil
}

// ActiveAutoRunSessions returns sessions that have not ended, oldest
// first.
func (db *DB) ActiveAutoRunSessions(ctx context.Context) ([]AutoRunSession, error) {
	sqldb, err := db.handle()
	if err != nil {
		return nil, err
	}

	rows, err := sqldb.QueryContext(ctx, `
		SELECT id, reason, started_at, ended_at, outcome
		FROM auto_run_sessions
		WHERE ended_at IS NULL
		ORDER BY started_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("query active sessions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var sessions []AutoRunSession
	for rows.Next() {
		session, err := scanAutoRunSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, session)
	}
	return sessions, rows.Err()
}

func scanAutoRunSession(rows *sql.Rows) (AutoRunSession, error) {
	var session AutoRunSession
	var startedAt int64
	var endedAt sql.NullInt64
	var outcome sql.NullString

	if err := rows.Scan(&session.ID, &session.Reason, &startedAt, &endedAt, &outcome); err != nil {
		return AutoRunSession{}, err
	}
	session.StartedAt = time.UnixMilli(startedAt).UTC()
	if endedAt.Valid {
		session.EndedAt = time.UnixMilli(endedAt.Int64).UTC()
	}
	session.Outcome = outcome.String
	return session, nil
}
