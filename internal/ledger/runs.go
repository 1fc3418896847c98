package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Phases recorded in the ledger.
const (
	PhaseArchive   = "archive"
	PhaseMaterials = "materials"
)

// Run statuses.
const (
	StatusOK      = "ok"
	StatusPartial = "partial"
	StatusFailed  = "failed"
	StatusLocked  = "locked"
)

// Run is one phase of one source.
type Run struct {
	ID         string    `json:"id"`
	Phase      string    `json:"phase"`
	SourceType string    `json:"source_type"`
	SourceKey  string    `json:"source_key"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	New        int       `json:"new"`
	Skipped    int       `json:"skipped"`
	Errors     int       `json:"errors"`
	Status     string    `json:"status"`
	Message    string    `json:"message,omitempty"`
}

// Duration returns how long the run took.
func (r Run) Duration() time.Duration {
	if r.FinishedAt.Before(r.StartedAt) {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

// RecordRun inserts or replaces a run row.
func (s *Store) RecordRun(ctx context.Context, run Run) error {
	if run.ID == "" {
		return fmt.Errorf("record run: empty id")
	}
	_, err := s.exec(ctx,
		`INSERT OR REPLACE INTO runs (
            id, phase, source_type, source_key, started_at, finished_at,
            new_count, skipped_count, error_count, status, message
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID,
		run.Phase,
		run.SourceType,
		run.SourceKey,
		formatTime(run.StartedAt),
		formatTime(run.FinishedAt),
		run.New,
		run.Skipped,
		run.Errors,
		run.Status,
		nullableString(run.Message),
	)
	if err != nil {
		return fmt.Errorf("record run: %w", err)
	}
	return nil
}

// RecentRuns returns the newest runs first.
func (s *Store) RecentRuns(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, phase, source_type, source_key, started_at, finished_at,
                new_count, skipped_count, error_count, status, message
           FROM runs
          ORDER BY started_at DESC, id DESC
          LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()
	return scanRuns(rows)
}

// LatestRuns returns the most recent run of each phase per source, keyed by
// "<phase>/<type>/<key>".
func (s *Store) LatestRuns(ctx context.Context) (map[string]Run, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, phase, source_type, source_key, started_at, finished_at,
                new_count, skipped_count, error_count, status, message
           FROM runs r
          WHERE started_at = (
                SELECT MAX(started_at) FROM runs
                 WHERE phase = r.phase AND source_type = r.source_type AND source_key = r.source_key)`)
	if err != nil {
		return nil, fmt.Errorf("query latest runs: %w", err)
	}
	defer rows.Close()
	runs, err := scanRuns(rows)
	if err != nil {
		return nil, err
	}
	latest := make(map[string]Run, len(runs))
	for _, run := range runs {
		latest[RunKey(run.Phase, run.SourceType, run.SourceKey)] = run
	}
	return latest, nil
}

// RunKey builds the LatestRuns map key.
func RunKey(phase, sourceType, sourceKey string) string {
	return phase + "/" + sourceType + "/" + sourceKey
}

func scanRuns(rows *sql.Rows) ([]Run, error) {
	var runs []Run
	for rows.Next() {
		var (
			run               Run
			started, finished string
			message           sql.NullString
		)
		if err := rows.Scan(
			&run.ID, &run.Phase, &run.SourceType, &run.SourceKey, &started, &finished,
			&run.New, &run.Skipped, &run.Errors, &run.Status, &message,
		); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		run.StartedAt = parseTime(started)
		run.FinishedAt = parseTime(finished)
		run.Message = message.String
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}
	return runs, nil
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}
