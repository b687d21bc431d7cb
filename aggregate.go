package statdb

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// DailyUsage is a per-day rollup of the query event stream.
type DailyUsage struct {
	Day              string `json:"day"`
	QueryCount       int64  `json:"queryCount"`
	PromptTokens     int64  `json:"promptTokens"`
	CompletionTokens int64  `json:"completionTokens"`
}

// RebuildDailyUsage recomputes the rollup row for the given day key from
// the raw query events and upserts it. Rebuilding is idempotent.
func (db *DB) RebuildDailyUsage(ctx context.Context, day string) error {
	sqldb, err := db.handle()
	if err != nil {
		return err
	}

	start, err := time.ParseInLocation(DayLayout, day, time.UTC)
	if err != nil {
		return fmt.Errorf("invalid day %q: %w", day, err)
	}
	end := start.AddDate(0, 0, 1)

	_, err = sqldb.ExecContext(ctx, `
		INSERT INTO daily_usage (day, query_count, prompt_tokens, completion_tokens)
		SELECT ?, COUNT(*), COALESCE(SUM(prompt_tokens), 0), COALESCE(SUM(completion_tokens), 0)
		FROM query_events
		WHERE ts >= ? AND ts < ?
		ON CONFLICT (day) DO UPDATE SET
			query_count       = excluded.query_count,
			prompt_tokens     = excluded.prompt_tokens,
			completion_tokens = excluded.completion_tokens`,
		day, start.UnixMilli(), end.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("rebuild daily usage for %s: %w", day, err)
	}
	return nil
}

// DailyUsageRange returns rollup rows for day keys in [from, to],
// ascending.
func (db *DB) DailyUsageRange(ctx context.Context, from, to string) ([]DailyUsage, error) {
	sqldb, err := db.handle()
	if err != nil {
		return nil, err
	}

	rows, err := sqldb.QueryContext(ctx, `
		SELECT day, query_count, prompt_tokens, completion_tokens
		FROM daily_usage
		WHERE day >= ? AND day <= ?
		ORDER BY day ASC`,
		from, to,
	)
	if err != nil {
		return nil, fmt.Errorf("query daily usage: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var usage []DailyUsage
	for rows.Next() {
		var u DailyUsage
		if err := rows.Scan(&u.Day, &u.QueryCount, &u.PromptTokens, &u.CompletionTokens); err != nil {
			return nil, err
		}
		usage = append(usage, u)
	}
	return usage, rows.Err()
}

// EarliestTimestamp returns the oldest timestamp across all telemetry
// tables, or the zero time when no telemetry has been recorded.
func (db *DB) EarliestTimestamp(ctx context.Context) (time.Time, error) {
	sqldb, err := db.handle()
	if err != nil {
		return time.Time{}, err
	}

	var msec sql.NullInt64
	err = sqldb.QueryRowContext(ctx, `
		SELECT MIN(ts) FROM (
			SELECT ts FROM query_events
			UNION ALL
			SELECT started_at AS ts FROM auto_run_sessions
		)`).Scan(&msec)
	if err != nil {
		return time.Time{}, fmt.Errorf("earliest timestamp: %w", err)
	}
	if !msec.Valid {
		return time.Time{}, nil
	}
	return time.UnixMilli(msec.Int64).UTC(), nil
}
