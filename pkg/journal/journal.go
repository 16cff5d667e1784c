// Package journal persists a history of engine runs to SQLite: one row per
// run plus aggregated per-key send and failure counts. The journal is an
// observer; failures to write it never disturb a run.
package journal

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Journal manages the SQLite run history
type Journal struct {
	db   *sql.DB
	path string
}

// Run is one journaled engine run
type Run struct {
	ID          int64
	Mode        string
	WindowTitle string
	StartedAt   time.Time
	FinishedAt  time.Time // zero while the run is open
	Reason      string
}

// Finished reports whether the run has been closed
func (r Run) Finished() bool {
	return !r.FinishedAt.IsZero()
}

// SendCount aggregates sends of one key from one source within a run
type SendCount struct {
	Key    string
	Source string
	Sent   int
	Failed int
}

// Open opens (creating if needed) the journal database at path.
func Open(path string) (*Journal, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create journal directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open journal: %w", err)
	}

	j := &Journal{db: db, path: path}
	if err := j.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize journal schema: %w", err)
	}

	return j, nil
}

// initSchema creates the journal tables
func (j *Journal) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		mode TEXT NOT NULL,
		window_title TEXT NOT NULL,
		started_at INTEGER NOT NULL,
		finished_at INTEGER,
		reason TEXT,
		created_at INTEGER NOT NULL DEFAULT (strftime('%s', 'now'))
	);

	CREATE TABLE IF NOT EXISTS key_sends (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id INTEGER NOT NULL,
		key TEXT NOT NULL,
		source TEXT NOT NULL,
		sent INTEGER NOT NULL DEFAULT 0,
		failed INTEGER NOT NULL DEFAULT 0,
		UNIQUE(run_id, key, source)
	);

	CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started_at);
	CREATE INDEX IF NOT EXISTS idx_key_sends_run ON key_sends(run_id);
	`

	_, err := j.db.Exec(schema)
	return err
}

// BeginRun inserts an open run and returns its id.
func (j *Journal) BeginRun(mode, windowTitle string, at time.Time) (int64, error) {
	res, err := j.db.Exec(
		`INSERT INTO runs (mode, window_title, started_at) VALUES (?, ?, ?)`,
		mode, windowTitle, at.Unix())
	if err != nil {
		return 0, fmt.Errorf("failed to insert run: %w", err)
	}
	return res.LastInsertId()
}

// FinishRun closes a run with its finish reason. Closing an already closed
// run leaves the first reason in place.
func (j *Journal) FinishRun(id int64, reason string, at time.Time) error {
	_, err := j.db.Exec(
		`UPDATE runs SET finished_at = ?, reason = ? WHERE id = ? AND finished_at IS NULL`,
		at.Unix(), reason, id)
	if err != nil {
		return fmt.Errorf("failed to finish run: %w", err)
	}
	return nil
}

// RecordSend bumps the aggregated counters for one key send within a run.
func (j *Journal) RecordSend(runID int64, key, source string, ok bool) error {
	sent, failed := 0, 1
	if ok {
		sent, failed = 1, 0
	}

	res, err := j.db.Exec(
		`UPDATE key_sends SET sent = sent + ?, failed = failed + ?
		 WHERE run_id = ? AND key = ? AND source = ?`,
		sent, failed, runID, key, source)
	if err != nil {
		return fmt.Errorf("failed to update send counts: %w", err)
	}

	if n, err := res.RowsAffected(); err == nil && n > 0 {
		return nil
	}

	_, err = j.db.Exec(
		`INSERT INTO key_sends (run_id, key, source, sent, failed) VALUES (?, ?, ?, ?, ?)`,
		runID, key, source, sent, failed)
	if err != nil {
		return fmt.Errorf("failed to insert send counts: %w", err)
	}
	return nil
}

// Runs returns the most recent runs, newest first.
func (j *Journal) Runs(limit int) ([]Run, error) {
	rows, err := j.db.Query(`
		SELECT id, mode, window_title, started_at, finished_at, reason
		FROM runs
		ORDER BY started_at DESC, id DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []Run
	for rows.Next() {
		var run Run
		var startedAt int64
		var finishedAt *int64
		var reason *string

		if err := rows.Scan(&run.ID, &run.Mode, &run.WindowTitle, &startedAt, &finishedAt, &reason); err != nil {
			return nil, err
		}

		run.StartedAt = time.Unix(startedAt, 0)
		if finishedAt != nil {
			run.FinishedAt = time.Unix(*finishedAt, 0)
		}
		if reason != nil {
			run.Reason = *reason
		}

		results = append(results, run)
	}

	return results, rows.Err()
}

// Sends returns the per-key counters of one run, heaviest senders first.
func (j *Journal) Sends(runID int64) ([]SendCount, error) {
	rows, err := j.db.Query(`
		SELECT key, source, sent, failed
		FROM key_sends
		WHERE run_id = ?
		ORDER BY sent + failed DESC, key ASC`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []SendCount
	for rows.Next() {
		var sc SendCount
		if err := rows.Scan(&sc.Key, &sc.Source, &sc.Sent, &sc.Failed); err != nil {
			return nil, err
		}
		results = append(results, sc)
	}

	return results, rows.Err()
}

// Close closes the journal database
func (j *Journal) Close() error {
	return j.db.Close()
}
