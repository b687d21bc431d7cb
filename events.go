package statdb

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// QueryEvent records a single model invocation made by the host
// application.
type QueryEvent struct {
	ID               string    `json:"id"`
	Timestamp        time.Time `json:"timestamp"`
	Model            string    `json:"model"`
	PromptTokens     int64     `json:"promptTokens"`
	CompletionTokens int64     `json:"completionTokens"`
	DurationMS       int64     `json:"durationMs"`
}

// RecordQueryEvent inserts a query event. A blank ID is assigned a random
// one and a zero timestamp is stamped with the current time; both are
// written back to event.
func (db *DB) RecordQueryEvent(ctx context.Context, event *QueryEvent) error {
	sqldb, err := db.handle()
	if err != nil {
		return err
	}

	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = db.Now().UTC()
	}

	_, err = sqldb.ExecContext(ctx, `
		INSERT INTO query_events (id, ts, model, prompt_tokens, completion_tokens, duration_ms)
		VALUES (?, ?, ?, ?, ?, ?)`,
		event.ID, event.Timestamp.UnixMilli(), event.Model,
		event.PromptTokens, event.CompletionTokens, event.DurationMS,
	)
	if err != nil {
		return fmt.Errorf("insert query event: %w", err)
	}
	return nil
}

// QueryEventsSince returns events with a timestamp at or after since, in
// ascending timestamp order. A non-positive limit returns all of them.
func (db *DB) QueryEventsSince(ctx context.Context, since time.Time, limit int) ([]QueryEvent, error) {
	sqldb, err := db.handle()
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = -1 // no limit
	}

	rows, err := sqldb.QueryContext(ctx, `
		SELECT id, ts, model, prompt_tokens, completion_tokens, duration_ms
		FROM query_events
		WHERE ts >= ?
		ORDER BY ts ASC
		LIMIT ?`,
		since.UnixMilli(), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var events []QueryEvent
	for rows.Next() {
		var event QueryEvent
		var msec int64
		if err := rows.Scan(&event.ID, &msec, &event.Model,
			&event.PromptTokens, &event.CompletionTokens, &event.DurationMS); err != nil {
			return nil, err
		}
		event.Timestamp = time.UnixMilli(msec).UTC()
		events = append(events, event)
	}
	return events, rows.Err()
}

// CountQueryEvents returns the total number of recorded query events.
func (db *DB) CountQueryEvents(ctx context.Context) (int64, error) {
	sqldb, err := db.handle()
	if err != nil {
		return 0, err
	}

	var n int64
	if err := sqldb.QueryRowContext(ctx, `SELECT COUNT(*) FROM query_events`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count query events: %w", err)
	}
	return n, nil
}
