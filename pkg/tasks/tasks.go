// Package tasks implements the tracked background task registry, the
// timed alarm scheduler, the FIFO queued-results list, and the
// background-report inbox (spec.md §3).
package tasks

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/opencoder-agent/memcore/pkg/ids"
	"github.com/opencoder-agent/memcore/pkg/logger"
	"github.com/opencoder-agent/memcore/pkg/store"
)

// TaskStatus is a background task's lifecycle state.
type TaskStatus string

// Task statuses.
const (
	TaskRunning   TaskStatus = "running"
	TaskCompleted TaskStatus = "completed"
	TaskFailed    TaskStatus = "failed"
	TaskKilled    TaskStatus = "killed"
	TaskCancelled TaskStatus = "cancelled"
)

// Task is a tracked background task.
type Task struct {
	ID          string         `db:"id"`
	Type        string         `db:"type"`
	Description string         `db:"description"`
	Status      TaskStatus     `db:"status"`
	Result      sql.NullString `db:"result"`
	Error       sql.NullString `db:"error"`
	CreatedAt   time.Time      `db:"created_at"`
	CompletedAt *time.Time     `db:"completed_at"`
}

// Store is the backing store for tasks, alarms, queued results, and
// background reports.
type Store struct {
	db  *sqlx.DB
	ids *ids.Generator
}

// New wraps s as a Store.
func New(s *store.Store, idGen *ids.Generator) *Store {
	return &Store{db: s.DB, ids: idGen}
}

// CreateTask inserts a new task row in the running state.
func (s *Store) CreateTask(ctx context.Context, typ, description string) (Task, error) {
	t := Task{
		ID:          s.ids.Next(ids.KindTask),
		Type:        typ,
		Description: description,
		Status:      TaskRunning,
		CreatedAt:   time.Now().UTC(),
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tasks (id, type, description, status, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, t.ID, t.Type, t.Description, string(t.Status), t.CreatedAt)
	if err != nil {
		return Task{}, store.NewFailure(store.KindIO, "tasks.CreateTask", err)
	}
	return t, nil
}

// CompleteTask transitions id to completed with a JSON result payload.
func (s *Store) CompleteTask(ctx context.Context, id string, result any) error {
	payload, err := json.Marshal(result)
	if err != nil {
		return store.NewFailure(store.KindSchema, "tasks.CompleteTask.marshal", err)
	}
	_, err = s.db.ExecContext(ctx, `
		UPDATE tasks SET status = ?, result = ?, completed_at = ? WHERE id = ?
	`, string(TaskCompleted), string(payload), time.Now().UTC(), id)
	if err != nil {
		return store.NewFailure(store.KindIO, "tasks.CompleteTask", err)
	}
	return nil
}

// FailTask transitions id to failed with an error message.
func (s *Store) FailTask(ctx context.Context, id, errMsg string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE tasks SET status = ?, error = ?, completed_at = ? WHERE id = ?
	`, string(TaskFailed), errMsg, time.Now().UTC(), id)
	if err != nil {
		return store.NewFailure(store.KindIO, "tasks.FailTask", err)
	}
	return nil
}

// GetTask returns a single task by id.
func (s *Store) GetTask(ctx context.Context, id string) (Task, error) {
	var t Task
	err := s.db.GetContext(ctx, &t, `SELECT * FROM tasks WHERE id = ?`, id)
	if err != nil {
		return Task{}, store.NewFailure(store.KindNotFound, "tasks.GetTask", err)
	}
	return t, nil
}

// ListTasks returns all tasks, most recently created first.
func (s *Store) ListTasks(ctx context.Context) ([]Task, error) {
	var rows []Task
	err := s.db.SelectContext(ctx, &rows, `SELECT * FROM tasks ORDER BY created_at DESC`)
	if err != nil {
		return nil, store.NewFailure(store.KindIO, "tasks.ListTasks", err)
	}
	return rows, nil
}

// RecoverKilledTasks transitions every task still "running" at process
// start to "killed" and files a background report for each, the recovery
// the turn coordinator performs on startup (spec.md §4.10, §3).
func (s *Store) RecoverKilledTasks(ctx context.Context) (int, error) {
	running, err := s.db.QueryxContext(ctx, `SELECT * FROM tasks WHERE status = ?`, string(TaskRunning))
	if err != nil {
		return 0, store.NewFailure(store.KindIO, "tasks.RecoverKilledTasks.query", err)
	}
	var killed []Task
	for running.Next() {
		var t Task
		if err := running.StructScan(&t); err != nil {
			running.Close()
			return 0, store.NewFailure(store.KindIO, "tasks.RecoverKilledTasks.scan", err)
		}
		killed = append(killed, t)
	}
	running.Close()

	for _, t := range killed {
		if _, err := s.db.ExecContext(ctx, `
			UPDATE tasks SET status = ?, completed_at = ? WHERE id = ?
		`, string(TaskKilled), time.Now().UTC(), t.ID); err != nil {
			return 0, store.NewFailure(store.KindIO, "tasks.RecoverKilledTasks.update", err)
		}
		if _, err := s.FileReport(ctx, "tasks", map[string]any{
			"event":       "killed_on_restart",
			"task_id":     t.ID,
			"task_type":   t.Type,
			"description": t.Description,
		}); err != nil {
			return 0, err
		}
	}

	if len(killed) > 0 {
		logger.G(ctx).WithField("count", len(killed)).Warn("recovered killed tasks on startup")
	}
	return len(killed), nil
}
