// Package history keeps a durable audit log of completed scan runs in a
// SQLite database, separate from the finding documents themselves. The log
// answers "what was scanned, when, and how did it score" across process
// restarts.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	task_id        TEXT PRIMARY KEY,
	target         TEXT NOT NULL,
	status         TEXT NOT NULL,
	files_analyzed INTEGER NOT NULL DEFAULT 0,
	issues_found   INTEGER NOT NULL DEFAULT 0,
	health_score   INTEGER,
	error          TEXT,
	started_at     TIMESTAMP NOT NULL,
	finished_at    TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_runs_started_at ON runs(started_at DESC);
`

// Entry is one completed run.
type Entry struct {
	TaskID        string    `json:"task_id"`
	Target        string    `json:"target"`
	Status        string    `json:"status"`
	FilesAnalyzed int       `json:"files_analyzed"`
	IssuesFound   int       `json:"issues_found"`
	HealthScore   *int      `json:"health_score,omitempty"`
	Error         string    `json:"error,omitempty"`
	StartedAt     time.Time `json:"started_at"`
	FinishedAt    time.Time `json:"finished_at"`
}

// Log is the run audit log. Safe for concurrent use; database/sql
// serializes access to the underlying connection pool.
type Log struct {
	db *sql.DB
}

// Open creates or opens the audit database at path.
func Open(path string) (*Log, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create history directory: %w", err)
	}

	db, err := sql.Open("sqlite3", "file:"+path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("failed to open history database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping history database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize history schema: %w", err)
	}
	return &Log{db: db}, nil
}

// Record appends one finished run. Re-recording the same task id replaces
// the previous row.
func (l *Log) Record(ctx context.Context, e Entry) error {
	_, err := l.db.ExecContext(ctx, `
		INSERT INTO runs (
			task_id, target, status, files_analyzed, issues_found,
			health_score, error, started_at, finished_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(task_id) DO UPDATE SET
			status = excluded.status,
			files_analyzed = excluded.files_analyzed,
			issues_found = excluded.issues_found,
			health_score = excluded.health_score,
			error = excluded.error,
			finished_at = excluded.finished_at
	`,
		e.TaskID, e.Target, e.Status, e.FilesAnalyzed, e.IssuesFound,
		e.HealthScore, nullable(e.Error), e.StartedAt, e.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to record run: %w", err)
	}
	return nil
}

// Recent returns the latest runs, newest first. limit <= 0 means 20.
func (l *Log) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := l.db.QueryContext(ctx, `
		SELECT task_id, target, status, files_analyzed, issues_found,
		       health_score, error, started_at, finished_at
		FROM runs
		ORDER BY started_at DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var score sql.NullInt64
		var errText sql.NullString
		if err := rows.Scan(
			&e.TaskID, &e.Target, &e.Status, &e.FilesAnalyzed, &e.IssuesFound,
			&score, &errText, &e.StartedAt, &e.FinishedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		if score.Valid {
			s := int(score.Int64)
			e.HealthScore = &s
		}
		if errText.Valid {
			e.Error = errText.String
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Get returns one run by task id, or nil when unknown.
func (l *Log) Get(ctx context.Context, taskID string) (*Entry, error) {
	var e Entry
	var score sql.NullInt64
	var errText sql.NullString
	err := l.db.QueryRowContext(ctx, `
		SELECT task_id, target, status, files_analyzed, issues_found,
		       health_score, error, started_at, finished_at
		FROM runs
		WHERE task_id = ?
	`, taskID).Scan(
		&e.TaskID, &e.Target, &e.Status, &e.FilesAnalyzed, &e.IssuesFound,
		&score, &errText, &e.StartedAt, &e.FinishedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}
	if score.Valid {
		s := int(score.Int64)
		e.HealthScore = &s
	}
	if errText.Valid {
		e.Error = errText.String
	}
	return &e, nil
}

// Close closes the database connection.
func (l *Log) Close() error {
	return l.db.Close()
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
