package pipeline

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/squint-dev/squint/dbopen"
)

// historySchema holds the run-history tables. Scores are persisted so
// regressions across runs can be inspected later.
const historySchema = `
CREATE TABLE IF NOT EXISTS runs (
	run_id TEXT PRIMARY KEY,
	file_id TEXT NOT NULL,
	page_url TEXT NOT NULL,
	aborted INTEGER NOT NULL,
	abort_reason TEXT NOT NULL DEFAULT '',
	issue_count INTEGER NOT NULL,
	dispatch_failed INTEGER NOT NULL,
	started_at INTEGER NOT NULL,
	finished_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_runs_file ON runs(file_id, started_at);

CREATE TABLE IF NOT EXISTS comparisons (
	run_id TEXT NOT NULL REFERENCES runs(run_id) ON DELETE CASCADE,
	node_id TEXT NOT NULL,
	node_name TEXT NOT NULL DEFAULT '',
	score REAL NOT NULL,
	is_match INTEGER NOT NULL,
	PRIMARY KEY (run_id, node_id)
);
`

// History persists run outcomes to SQLite.
type History struct {
	db *sql.DB
}

// OpenHistory opens (and if needed creates) the run-history database.
func OpenHistory(path string) (*History, error) {
	db, err := dbopen.Open(path, dbopen.WithMkdirAll(), dbopen.WithSchema(historySchema))
	if err != nil {
		return nil, err
	}
	return &History{db: db}, nil
}

// NewHistory wraps an existing database handle, mainly for tests.
func NewHistory(db *sql.DB) (*History, error) {
	if _, err := db.Exec(historySchema); err != nil {
		return nil, fmt.Errorf("pipeline: history schema: %w", err)
	}
	return &History{db: db}, nil
}

// Close closes the underlying database.
func (h *History) Close() error { return h.db.Close() }

// Record stores one run and its comparisons atomically.
func (h *History) Record(ctx context.Context, r *RunResult) error {
	return dbopen.RunTx(ctx, h.db, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO runs (run_id, file_id, page_url, aborted, abort_reason,
				issue_count, dispatch_failed, started_at, finished_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			r.RunID, r.FileID, r.PageURL, boolInt(r.Aborted), r.AbortReason,
			len(r.Issues), r.DispatchFailed(),
			r.StartedAt.UnixMilli(), r.FinishedAt.UnixMilli())
		if err != nil {
			return fmt.Errorf("pipeline: insert run: %w", err)
		}
		for _, c := range r.Comparisons {
			_, err := tx.ExecContext(ctx, `
				INSERT INTO comparisons (run_id, node_id, node_name, score, is_match)
				VALUES (?, ?, ?, ?, ?)`,
				r.RunID, c.NodeID, c.NodeName, c.Score, boolInt(c.Match))
			if err != nil {
				return fmt.Errorf("pipeline: insert comparison: %w", err)
			}
		}
		return nil
	})
}

// RunSummary is one row of run history.
type RunSummary struct {
	RunID          string
	FileID         string
	PageURL        string
	Aborted        bool
	AbortReason    string
	IssueCount     int
	DispatchFailed int
	StartedAt      time.Time
	FinishedAt     time.Time
	Comparisons    []Comparison
}

// Recent returns the newest runs, most recent first.
func (h *History) Recent(ctx context.Context, limit int) ([]RunSummary, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := h.db.QueryContext(ctx, `
		SELECT run_id, file_id, page_url, aborted, abort_reason,
			issue_count, dispatch_failed, started_at, finished_at
		FROM runs ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("pipeline: query runs: %w", err)
	}
	defer rows.Close()

	var out []RunSummary
	for rows.Next() {
		var s RunSummary
		var aborted int
		var started, finished int64
		if err := rows.Scan(&s.RunID, &s.FileID, &s.PageURL, &aborted, &s.AbortReason,
			&s.IssueCount, &s.DispatchFailed, &started, &finished); err != nil {
			return nil, fmt.Errorf("pipeline: scan run: %w", err)
		}
		s.Aborted = aborted != 0
		s.StartedAt = time.UnixMilli(started).UTC()
		s.FinishedAt = time.UnixMilli(finished).UTC()
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("pipeline: iterate runs: %w", err)
	}

	for i := range out {
		cs, err := h.comparisonsFor(ctx, out[i].RunID)
		if err != nil {
			return nil, err
		}
		out[i].Comparisons = cs
	}
	return out, nil
}

func (h *History) comparisonsFor(ctx context.Context, runID string) ([]Comparison, error) {
	rows, err := h.db.QueryContext(ctx, `
		SELECT node_id, node_name, score, is_match
		FROM comparisons WHERE run_id = ? ORDER BY node_id`, runID)
	if err != nil {
		return nil, fmt.Errorf("pipeline: query comparisons: %w", err)
	}
	defer rows.Close()

	var out []Comparison
	for rows.Next() {
		var c Comparison
		var match int
		if err := rows.Scan(&c.NodeID, &c.NodeName, &c.Score, &match); err != nil {
			return nil, fmt.Errorf("pipeline: scan comparison: %w", err)
		}
		c.Match = match != 0
		out = append(out, c)
	}
	return out, rows.Err()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
