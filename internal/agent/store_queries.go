package agent

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/thobiasn/loglens/internal/logview"
)

const (
	defaultQueryLimit = 1000
	defaultFetchLimit = 20000
)

// LogFilter selects lines in [Start, End) at MinLevel or above.
type LogFilter struct {
	Start    int64
	End      int64
	MinLevel logview.Level
	Limit    int
}

// InsertLines stores lines in one transaction. Lines already stored (same
// timestamp, replica and message) are skipped. It returns how many were new.
func (s *Store) InsertLines(ctx context.Context, lines []logview.Line) (int, error) {
	if len(lines) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT OR IGNORE INTO logs (timestamp, level, replica, message) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return 0, err
	}
	defer stmt.Close()

	inserted := 0
	for _, l := range lines {
		res, err := stmt.ExecContext(ctx, l.TS, int(l.Level), l.Replica, l.Msg)
		if err != nil {
			return 0, err
		}
		if n, _ := res.RowsAffected(); n > 0 {
			inserted++
		}
	}
	return inserted, tx.Commit()
}

// QueryLines returns matching lines ordered by timestamp then insertion
// order. End is clamped to the current time. When more than Limit lines
// match, the newest Limit are returned and truncated is true.
func (s *Store) QueryLines(ctx context.Context, f LogFilter) (lines []logview.Line, truncated bool, err error) {
	if now := s.now().Unix(); f.End > now {
		f.End = now
	}
	if f.Start >= f.End {
		return nil, false, nil
	}
	limit := f.Limit
	if limit <= 0 {
		limit = defaultQueryLimit
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT timestamp, level, replica, message FROM logs
		 WHERE timestamp >= ? AND timestamp < ? AND level >= ?
		 ORDER BY timestamp DESC, id DESC LIMIT ?`,
		f.Start, f.End, int(f.MinLevel), limit+1)
	if err != nil {
		return nil, false, err
	}
	defer rows.Close()

	for rows.Next() {
		var l logview.Line
		var lvl int
		if err := rows.Scan(&l.TS, &lvl, &l.Replica, &l.Msg); err != nil {
			return nil, false, err
		}
		l.Level = logview.Level(lvl)
		lines = append(lines, l)
	}
	if err := rows.Err(); err != nil {
		return nil, false, err
	}
	if len(lines) > limit {
		lines = lines[:limit]
		truncated = true
	}
	slices.Reverse(lines)
	return lines, truncated, nil
}

var _ logview.LimitedSource = (*Store)(nil)

// SetFetchLimit sets the row limit used by Fetch.
func (s *Store) SetFetchLimit(n int) {
	if n > 0 {
		s.fetchLimit = n
	}
}

// Fetch implements logview.Source.
func (s *Store) Fetch(ctx context.Context, start, end int64, minLevel logview.Level) ([]logview.Line, error) {
	lines, _, err := s.FetchLimited(ctx, start, end, minLevel)
	return lines, err
}

// FetchLimited implements logview.LimitedSource using the fetch limit.
func (s *Store) FetchLimited(ctx context.Context, start, end int64, minLevel logview.Level) ([]logview.Line, bool, error) {
	lines, truncated, err := s.QueryLines(ctx, LogFilter{Start: start, End: end, MinLevel: minLevel, Limit: s.fetchLimit})
	if err != nil {
		return nil, false, fmt.Errorf("query logs: %w", err)
	}
	return lines, truncated, nil
}

// IngestedUntil returns the exclusive end of what source has written so far,
// or 0 when it has never run.
func (s *Store) IngestedUntil(ctx context.Context, source string) (int64, error) {
	var until int64
	err := s.db.QueryRowContext(ctx, `SELECT until FROM ingest_state WHERE source = ?`, source).Scan(&until)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	return until, err
}

// SetIngestedUntil records progress for source.
func (s *Store) SetIngestedUntil(ctx context.Context, source string, until int64) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO ingest_state (source, until) VALUES (?, ?)
		 ON CONFLICT(source) DO UPDATE SET until = excluded.until`, source, until)
	return err
}

// Prune deletes lines older than the retention period and returns how many
// were removed.
func (s *Store) Prune(ctx context.Context, retentionDays int) (int64, error) {
	cutoff := s.now().Add(-time.Duration(retentionDays) * 24 * time.Hour).Unix()
	res, err := s.db.ExecContext(ctx, `DELETE FROM logs WHERE timestamp < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune logs: %w", err)
	}
	n, _ := res.RowsAffected()
	if _, err := s.db.ExecContext(ctx, `PRAGMA incremental_vacuum`); err != nil {
		return n, fmt.Errorf("incremental vacuum: %w", err)
	}
	return n, nil
}
