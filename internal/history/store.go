// Package history persists task execution records to SQLite so runs
// survive restarts and can be inspected after the fact.
package history

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Execution is one finished or in-flight task run.
type Execution struct {
	ID         int64
	TaskID     string
	Name       string
	Kind       string
	Status     string
	Attempts   int
	Error      string
	StartedAt  time.Time
	FinishedAt *time.Time
}

// Store wraps the SQLite connection holding the execution log.
type Store struct {
	conn *sql.DB
	path string
}

// Open opens or creates the history database and applies the schema.
func Open(dbPath string) (*Store, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create history directory: %w", err)
	}

	conn, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("open history database: %w", err)
	}
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("ping history database: %w", err)
	}

	// SQLite works best with a single connection.
	conn.SetMaxOpenConns(1)
	conn.SetMaxIdleConns(1)

	s := &Store{conn: conn, path: dbPath}
	if err := s.migrate(); err != nil {
		conn.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.conn != nil {
		return s.conn.Close()
	}
	return nil
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

func (s *Store) migrate() error {
	_, err := s.conn.Exec(`
		CREATE TABLE IF NOT EXISTS executions (
			id          INTEGER PRIMARY KEY AUTOINCREMENT,
			task_id     TEXT NOT NULL,
			name        TEXT NOT NULL,
			kind        TEXT NOT NULL,
			status      TEXT NOT NULL,
			attempts    INTEGER NOT NULL DEFAULT 0,
			error       TEXT NOT NULL DEFAULT '',
			started_at  DATETIME NOT NULL,
			finished_at DATETIME
		);
		CREATE INDEX IF NOT EXISTS idx_executions_task_id ON executions(task_id);
		CREATE INDEX IF NOT EXISTS idx_executions_status ON executions(status);
	`)
	if err != nil {
		return fmt.Errorf("migrate history schema: %w", err)
	}
	return nil
}

// RecordStart inserts a new execution row and returns its id.
func (s *Store) RecordStart(taskID, name, kind string, startedAt time.Time) (int64, error) {
	result, err := s.conn.Exec(`
		INSERT INTO executions (task_id, name, kind, status, started_at)
		VALUES (?, ?, ?, 'running', ?)
	`, taskID, name, kind, startedAt.UTC())
	if err != nil {
		return 0, fmt.Errorf("record execution start: %w", err)
	}
	return result.LastInsertId()
}

// RecordFinish closes an execution row with its terminal status.
func (s *Store) RecordFinish(executionID int64, status string, attempts int, errMsg string, finishedAt time.Time) error {
	_, err := s.conn.Exec(`
		UPDATE executions
		SET status = ?, attempts = ?, error = ?, finished_at = ?
		WHERE id = ?
	`, status, attempts, errMsg, finishedAt.UTC(), executionID)
	if err != nil {
		return fmt.Errorf("record execution finish: %w", err)
	}
	return nil
}

// Recent returns the latest executions, newest first.
func (s *Store) Recent(limit int) ([]Execution, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.conn.Query(`
		SELECT id, task_id, name, kind, status, attempts, error, started_at, finished_at
		FROM executions
		ORDER BY started_at DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query recent executions: %w", err)
	}
	defer rows.Close()

	return scanExecutions(rows)
}

// ByTask returns every execution recorded for a task id, oldest first.
func (s *Store) ByTask(taskID string) ([]Execution, error) {
	rows, err := s.conn.Query(`
		SELECT id, task_id, name, kind, status, attempts, error, started_at, finished_at
		FROM executions
		WHERE task_id = ?
		ORDER BY started_at ASC
	`, taskID)
	if err != nil {
		return nil, fmt.Errorf("query executions for task %s: %w", taskID, err)
	}
	defer rows.Close()

	return scanExecutions(rows)
}

// CountByStatus returns execution counts grouped by terminal status.
func (s *Store) CountByStatus() (map[string]int64, error) {
	rows, err := s.conn.Query(`SELECT status, COUNT(*) FROM executions GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("count executions: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int64)
	for rows.Next() {
		var status string
		var count int64
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		counts[status] = count
	}
	return counts, rows.Err()
}

func scanExecutions(rows *sql.Rows) ([]Execution, error) {
	var out []Execution
	for rows.Next() {
		var e Execution
		var finished sql.NullTime
		if err := rows.Scan(&e.ID, &e.TaskID, &e.Name, &e.Kind, &e.Status, &e.Attempts, &e.Error, &e.StartedAt, &finished); err != nil {
			return nil, err
		}
		if finished.Valid {
			t := finished.Time
			e.FinishedAt = &t
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
