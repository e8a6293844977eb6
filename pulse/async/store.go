package async

import (
	"context"
	"database/sql"
	"time"

	"github.com/teranos/qaflow/db"
	"github.com/teranos/qaflow/errors"
)

// ErrTaskNotFound is returned when a task id has no row
var ErrTaskNotFound = errors.Wrap(errors.ErrNotFound, "task")

// Store handles persistence of tasks
type Store struct {
	db      *sql.DB
	dialect db.Dialect
}

// NewStore creates a task store over conn
func NewStore(conn *sql.DB, dialect db.Dialect) *Store {
	return &Store{db: conn, dialect: dialect}
}

func (s *Store) q(query string) string {
	return s.dialect.Rebind(query)
}

// CreateTask inserts a new task
func (s *Store) CreateTask(ctx context.Context, task *Task) error {
	_, err := s.db.ExecContext(ctx, s.q(`
		INSERT INTO async_tasks (
			id, handler_name, payload, status, attempts, error,
			created_at, updated_at, started_at, completed_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		task.ID,
		task.HandlerName,
		nullString(string(task.Payload)),
		task.Status,
		task.Attempts,
		nullString(task.Error),
		task.CreatedAt.UTC(),
		task.UpdatedAt.UTC(),
		nullTime(task.StartedAt),
		nullTime(task.CompletedAt),
	)
	if err != nil {
		return errors.Wrap(err, "failed to create task")
	}
	return nil
}

// GetTask retrieves a task by ID
func (s *Store) GetTask(ctx context.Context, id string) (*Task, error) {
	row := s.db.QueryRowContext(ctx, s.q(`SELECT `+taskSelectColumns+` FROM async_tasks WHERE id = ?`), id)
	task, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.Wrapf(ErrTaskNotFound, "%s", id)
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to get task")
	}
	return task, nil
}

// Claim moves a queued task to running. It reports false when another worker
// claimed it first.
func (s *Store) Claim(ctx context.Context, id string, now time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx, s.q(`
		UPDATE async_tasks
		SET status = ?, attempts = attempts + 1, started_at = ?, updated_at = ?
		WHERE id = ? AND status = ?`),
		TaskStatusRunning, now.UTC(), now.UTC(), id, TaskStatusQueued)
	if err != nil {
		return false, errors.Wrapf(err, "failed to claim task %s", id)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, errors.Wrap(err, "failed to read rows affected")
	}
	return n == 1, nil
}

// NextQueuedIDs returns the ids of the oldest queued tasks
func (s *Store) NextQueuedIDs(ctx context.Context, limit int) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, s.q(`
		SELECT id FROM async_tasks
		WHERE status = ?
		ORDER BY created_at ASC, id ASC
		LIMIT ?`), TaskStatusQueued, limit)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list queued tasks")
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, errors.Wrap(err, "failed to scan task id")
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// UpdateTask writes the mutable fields of task
func (s *Store) UpdateTask(ctx context.Context, task *Task) error {
	res, err := s.db.ExecContext(ctx, s.q(`
		UPDATE async_tasks
		SET status = ?, attempts = ?, error = ?, started_at = ?, completed_at = ?, updated_at = ?
		WHERE id = ?`),
		task.Status,
		task.Attempts,
		nullString(task.Error),
		nullTime(task.StartedAt),
		nullTime(task.CompletedAt),
		task.UpdatedAt.UTC(),
		task.ID,
	)
	if err != nil {
		return errors.Wrapf(err, "failed to update task %s", task.ID)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return errors.Wrapf(ErrTaskNotFound, "%s", task.ID)
	}
	return nil
}

// ListTasks returns tasks newest first, optionally filtered by status
func (s *Store) ListTasks(ctx context.Context, status *TaskStatus, limit int) ([]*Task, error) {
	query := `SELECT ` + taskSelectColumns + ` FROM async_tasks`
	var args []any
	if status != nil {
		query += ` WHERE status = ?`
		args = append(args, *status)
	}
	query += ` ORDER BY created_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, s.q(query), args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list tasks")
	}
	defer rows.Close()

	var tasks []*Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan task")
		}
		tasks = append(tasks, task)
	}
	return tasks, rows.Err()
}

// CountByStatus returns the number of tasks in each status
func (s *Store) CountByStatus(ctx context.Context) (map[TaskStatus]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM async_tasks GROUP BY status`)
	if err != nil {
		return nil, errors.Wrap(err, "failed to count tasks")
	}
	defer rows.Close()

	counts := make(map[TaskStatus]int)
	for rows.Next() {
		var status TaskStatus
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, errors.Wrap(err, "failed to scan task count")
		}
		counts[status] = n
	}
	return counts, rows.Err()
}

// DeleteFinished removes completed and failed tasks last updated before cutoff
func (s *Store) DeleteFinished(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, s.q(`
		DELETE FROM async_tasks
		WHERE status IN (?, ?) AND updated_at < ?`),
		TaskStatusCompleted, TaskStatusFailed, cutoff.UTC())
	if err != nil {
		return 0, errors.Wrap(err, "failed to delete finished tasks")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, errors.Wrap(err, "failed to read rows affected")
	}
	return n, nil
}
