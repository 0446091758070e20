// ABOUTME: SQLite-backed query index over the call history log.
// ABOUTME: A rebuildable cache for fast filtering and substring search; the JSONL log stays the source of truth.
package history

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

// CallRow is a row from the calls table for list query results.
type CallRow struct {
	ID         string
	Provider   string
	Action     string
	RunID      string
	Status     string
	CreatedAt  string
	DurationMS *int64
	ResultPath string
	Error      string
}

// CallIndex mirrors call records into SQLite for fast reads. It is always
// rebuildable from the call log and serves as a queryable cache, not the
// source of truth.
type CallIndex struct {
	db *sql.DB
}

// OpenCallIndex opens or creates the index database at the given path.
func OpenCallIndex(path string) (*CallIndex, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}

	schema := `
		CREATE TABLE IF NOT EXISTS calls (
			call_id TEXT PRIMARY KEY,
			provider TEXT NOT NULL,
			action TEXT NOT NULL,
			run_id TEXT NOT NULL,
			status TEXT NOT NULL,
			created_at TEXT NOT NULL,
			duration_ms INTEGER,
			result_path TEXT,
			error TEXT
		);
		CREATE INDEX IF NOT EXISTS idx_calls_run ON calls(run_id);
		CREATE INDEX IF NOT EXISTS idx_calls_provider ON calls(provider);`

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	return &CallIndex{db: db}, nil
}

// Close closes the database connection.
func (idx *CallIndex) Close() error {
	return idx.db.Close()
}

// UpsertCall inserts or replaces the row for a call snapshot.
func (idx *CallIndex) UpsertCall(c *Call) error {
	_, err := idx.db.Exec(
		`INSERT INTO calls (call_id, provider, action, run_id, status, created_at, duration_ms, result_path, error)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(call_id) DO UPDATE SET
			status = excluded.status,
			duration_ms = excluded.duration_ms,
			result_path = excluded.result_path,
			error = excluded.error`,
		c.ID,
		string(c.Provider),
		string(c.Action),
		c.RunID,
		string(c.Status),
		c.CreatedAt.Format("2006-01-02T15:04:05Z07:00"),
		c.DurationMS,
		c.ResultPath,
		c.Error,
	)
	if err != nil {
		return fmt.Errorf("upsert call: %w", err)
	}
	return nil
}

// DeleteCall removes a call row by id.
func (idx *CallIndex) DeleteCall(id string) error {
	if _, err := idx.db.Exec("DELETE FROM calls WHERE call_id = ?", id); err != nil {
		return fmt.Errorf("delete call: %w", err)
	}
	return nil
}

// SearchCalls returns rows whose provider, action, run id, status, or error
// text contains the given substring, newest first.
func (idx *CallIndex) SearchCalls(text string) ([]CallRow, error) {
	pattern := "%" + text + "%"
	rows, err := idx.db.Query(
		`SELECT call_id, provider, action, run_id, status, created_at, duration_ms, result_path, error
		 FROM calls
		 WHERE provider LIKE ? OR action LIKE ? OR run_id LIKE ? OR status LIKE ? OR error LIKE ?
		 ORDER BY created_at DESC`,
		pattern, pattern, pattern, pattern, pattern)
	if err != nil {
		return nil, fmt.Errorf("search calls: %w", err)
	}
	return scanCallRows(rows)
}

// CallsForRun returns all rows for a run, newest first.
func (idx *CallIndex) CallsForRun(runID string) ([]CallRow, error) {
	rows, err := idx.db.Query(
		`SELECT call_id, provider, action, run_id, status, created_at, duration_ms, result_path, error
		 FROM calls WHERE run_id = ? ORDER BY created_at DESC`,
		runID)
	if err != nil {
		return nil, fmt.Errorf("query calls for run: %w", err)
	}
	return scanCallRows(rows)
}

// RebuildFromLog clears the index and repopulates it from the log's current
// contents.
func (idx *CallIndex) RebuildFromLog(l *CallLog) error {
	if _, err := idx.db.Exec("DELETE FROM calls"); err != nil {
		return fmt.Errorf("clear calls: %w", err)
	}
	for _, c := range l.AllCalls() {
		call := c
		if err := idx.UpsertCall(&call); err != nil {
			return fmt.Errorf("reindex call %s: %w", c.ID, err)
		}
	}
	return nil
}

func scanCallRows(rows *sql.Rows) ([]CallRow, error) {
	defer func() { _ = rows.Close() }()

	var out []CallRow
	for rows.Next() {
		var r CallRow
		var resultPath, errText sql.NullString
		if err := rows.Scan(&r.ID, &r.Provider, &r.Action, &r.RunID, &r.Status,
			&r.CreatedAt, &r.DurationMS, &resultPath, &errText); err != nil {
			return nil, fmt.Errorf("scan call row: %w", err)
		}
		r.ResultPath = resultPath.String
		r.Error = errText.String
		out = append(out, r)
	}
	return out, rows.Err()
}
