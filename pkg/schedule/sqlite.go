package schedule

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

// SQLiteStore is the production TaskStore. Task and execution bodies are
// stored as JSON blobs next to the columns the queries filter on.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (creating if needed) the scheduler database at path.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open scheduler database: %w", err)
	}

	// Single writer; sqlite locks the file anyway.
	db.SetMaxOpenConns(1)

	store := &SQLiteStore{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

func (s *SQLiteStore) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS tasks (
			id         TEXT PRIMARY KEY,
			plugin_id  TEXT NOT NULL,
			status     TEXT NOT NULL,
			handler    TEXT NOT NULL,
			created_at INTEGER NOT NULL,
			body       TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_tasks_plugin ON tasks(plugin_id);

		CREATE TABLE IF NOT EXISTS executions (
			id         TEXT PRIMARY KEY,
			task_id    TEXT NOT NULL,
			status     TEXT NOT NULL,
			created_at INTEGER NOT NULL,
			body       TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_executions_task ON executions(task_id);
	`)
	if err != nil {
		return fmt.Errorf("failed to migrate scheduler database: %w", err)
	}
	return nil
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// SaveTask inserts or replaces a task.
func (s *SQLiteStore) SaveTask(task *Task) error {
	body, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("failed to marshal task: %w", err)
	}
	_, err = s.db.Exec(
		`INSERT OR REPLACE INTO tasks (id, plugin_id, status, handler, created_at, body)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		task.ID, task.Payload.PluginID, string(task.Status), task.Payload.Handler,
		task.CreatedAt.UnixMilli(), string(body),
	)
	if err != nil {
		return fmt.Errorf("failed to save task: %w", err)
	}
	return nil
}

// GetTask retrieves a task by ID.
func (s *SQLiteStore) GetTask(id string) (*Task, error) {
	var body string
	err := s.db.QueryRow(`SELECT body FROM tasks WHERE id = ?`, id).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrTaskNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read task: %w", err)
	}
	var task Task
	if err := json.Unmarshal([]byte(body), &task); err != nil {
		return nil, fmt.Errorf("failed to unmarshal task: %w", err)
	}
	return &task, nil
}

// DeleteTask removes a task and its executions in one transaction.
func (s *SQLiteStore) DeleteTask(id string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.Exec(`DELETE FROM tasks WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete task: %w", err)
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return ErrTaskNotFound
	}
	if _, err := tx.Exec(`DELETE FROM executions WHERE task_id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete executions: %w", err)
	}
	return tx.Commit()
}

// ListTasks returns tasks matching the filter, newest first.
func (s *SQLiteStore) ListTasks(filter TaskFilter) ([]*Task, error) {
	query := `SELECT body FROM tasks WHERE 1=1`
	var args []any
	if filter.PluginID != "" {
		query += ` AND plugin_id = ?`
		args = append(args, filter.PluginID)
	}
	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	if filter.Handler != "" {
		query += ` AND handler = ?`
		args = append(args, filter.Handler)
	}
	query += ` ORDER BY created_at DESC`

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list tasks: %w", err)
	}
	defer rows.Close()

	var out []*Task
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, fmt.Errorf("failed to scan task: %w", err)
		}
		var task Task
		if err := json.Unmarshal([]byte(body), &task); err != nil {
			return nil, fmt.Errorf("failed to unmarshal task: %w", err)
		}
		// Tag filtering happens on the decoded record; tags live in the blob.
		if filter.Tag != "" && !hasTag(&task, filter.Tag) {
			continue
		}
		out = append(out, &task)
	}
	return out, rows.Err()
}

func hasTag(task *Task, tag string) bool {
	for _, t := range task.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// SaveExecution inserts or replaces an execution record.
func (s *SQLiteStore) SaveExecution(exec *Execution) error {
	body, err := json.Marshal(exec)
	if err != nil {
		return fmt.Errorf("failed to marshal execution: %w", err)
	}
	_, err = s.db.Exec(
		`INSERT OR REPLACE INTO executions (id, task_id, status, created_at, body)
		 VALUES (?, ?, ?, ?, ?)`,
		exec.ID, exec.TaskID, string(exec.Status), exec.CreatedAt.UnixMilli(), string(body),
	)
	if err != nil {
		return fmt.Errorf("failed to save execution: %w", err)
	}
	return nil
}

// GetExecution retrieves an execution by ID.
func (s *SQLiteStore) GetExecution(id string) (*Execution, error) {
	var body string
	err := s.db.QueryRow(`SELECT body FROM executions WHERE id = ?`, id).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrExecutionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read execution: %w", err)
	}
	var exec Execution
	if err := json.Unmarshal([]byte(body), &exec); err != nil {
		return nil, fmt.Errorf("failed to unmarshal execution: %w", err)
	}
	return &exec, nil
}

// ListExecutions returns executions for a task, newest first.
func (s *SQLiteStore) ListExecutions(taskID string, limit int) ([]*Execution, error) {
	query := `SELECT body FROM executions WHERE task_id = ? ORDER BY created_at DESC`
	args := []any{taskID}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list executions: %w", err)
	}
	defer rows.Close()

	var out []*Execution
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, fmt.Errorf("failed to scan execution: %w", err)
		}
		var exec Execution
		if err := json.Unmarshal([]byte(body), &exec); err != nil {
			return nil, fmt.Errorf("failed to unmarshal execution: %w", err)
		}
		out = append(out, &exec)
	}
	return out, rows.Err()
}
