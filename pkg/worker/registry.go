// Package worker implements the background worker registry (spec.md §3,
// §4.5): start/running/completed/failed bookkeeping for distillation,
// consolidation, reflection, and research jobs, plus stale-worker cleanup
// as the recovery point for a crashed curation pass.
package worker

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/opencoder-agent/memcore/pkg/ids"
	"github.com/opencoder-agent/memcore/pkg/logger"
	"github.com/opencoder-agent/memcore/pkg/store"
)

// Type is the kind of background job a worker row represents.
type Type string

// Worker types.
const (
	TypeDistillation  Type = "distillation"
	TypeConsolidation Type = "consolidation"
	TypeReflection    Type = "reflection"
	TypeResearch      Type = "research"
)

// Status is a worker row's lifecycle state.
type Status string

// Worker statuses. A row transitions monotonically:
// pending -> running -> (completed | failed).
const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Worker is one row in the registry.
type Worker struct {
	ID          string     `db:"id"`
	Type        Type       `db:"type"`
	Status      Status     `db:"status"`
	StartedAt   time.Time  `db:"started_at"`
	HeartbeatAt time.Time  `db:"heartbeat_at"`
	CompletedAt *time.Time `db:"completed_at"`
	Error       *string    `db:"error"`
}

// Registry is the worker table backed by a *store.Store.
type Registry struct {
	db  *sqlx.DB
	ids *ids.Generator
}

// New wraps s as a Registry.
func New(s *store.Store, idGen *ids.Generator) *Registry {
	return &Registry{db: s.DB, ids: idGen}
}

// Create inserts a new worker row in the running state.
func (r *Registry) Create(ctx context.Context, typ Type) (Worker, error) {
	now := time.Now().UTC()
	w := Worker{
		ID:          r.ids.Next(ids.KindWorker),
		Type:        typ,
		Status:      StatusRunning,
		StartedAt:   now,
		HeartbeatAt: now,
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO workers (id, type, status, started_at, heartbeat_at, completed_at, error)
		VALUES (?, ?, ?, ?, ?, NULL, NULL)
	`, w.ID, string(w.Type), string(w.Status), w.StartedAt, w.HeartbeatAt)
	if err != nil {
		return Worker{}, store.NewFailure(store.KindIO, "worker.Create", err)
	}
	logger.G(ctx).WithField("worker_id", w.ID).WithField("type", typ).Debug("worker started")
	return w, nil
}

// Heartbeat refreshes heartbeat_at so cleanup_stale doesn't reap a worker
// that is still making progress.
func (r *Registry) Heartbeat(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE workers SET heartbeat_at = ? WHERE id = ? AND status = ?
	`, time.Now().UTC(), id, string(StatusRunning))
	if err != nil {
		return store.NewFailure(store.KindIO, "worker.Heartbeat", err)
	}
	return nil
}

// Complete transitions id to completed.
func (r *Registry) Complete(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE workers SET status = ?, completed_at = ? WHERE id = ?
	`, string(StatusCompleted), time.Now().UTC(), id)
	if err != nil {
		return store.NewFailure(store.KindIO, "worker.Complete", err)
	}
	return nil
}

// Fail transitions id to failed with the given error message.
func (r *Registry) Fail(ctx context.Context, id string, failure error) error {
	msg := ""
	if failure != nil {
		msg = failure.Error()
	}
	_, err := r.db.ExecContext(ctx, `
		UPDATE workers SET status = ?, completed_at = ?, error = ? WHERE id = ?
	`, string(StatusFailed), time.Now().UTC(), msg, id)
	if err != nil {
		return store.NewFailure(store.KindIO, "worker.Fail", err)
	}
	return nil
}

// GetRunning returns every row currently in the running state.
func (r *Registry) GetRunning(ctx context.Context) ([]Worker, error) {
	var rows []Worker
	err := r.db.SelectContext(ctx, &rows, `
		SELECT id, type, status, started_at, heartbeat_at, completed_at, error
		FROM workers WHERE status = ?
	`, string(StatusRunning))
	if err != nil {
		return nil, store.NewFailure(store.KindIO, "worker.GetRunning", err)
	}
	return rows, nil
}

// CleanupStale transitions any running row whose heartbeat is older than
// staleAfter to failed("stale"). Called on every process start, this is
// the recovery point for crashed curation (spec.md §4.5).
func (r *Registry) CleanupStale(ctx context.Context, staleAfter time.Duration) (int, error) {
	cutoff := time.Now().UTC().Add(-staleAfter)
	res, err := r.db.ExecContext(ctx, `
		UPDATE workers SET status = ?, completed_at = ?, error = 'stale'
		WHERE status = ? AND heartbeat_at < ?
	`, string(StatusFailed), time.Now().UTC(), string(StatusRunning), cutoff)
	if err != nil {
		return 0, store.NewFailure(store.KindIO, "worker.CleanupStale", err)
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		logger.G(ctx).WithField("count", n).Warn("cleaned up stale workers")
	}
	return int(n), nil
}

// AnyRunning reports whether a worker of the given type is currently
// running, the primitive pkg/curate uses to prevent concurrent curation.
func (r *Registry) AnyRunning(ctx context.Context, typ Type) (bool, error) {
	var count int
	err := r.db.GetContext(ctx, &count, `
		SELECT COUNT(*) FROM workers WHERE type = ? AND status = ?
	`, string(typ), string(StatusRunning))
	if err != nil {
		return false, store.NewFailure(store.KindIO, "worker.AnyRunning", err)
	}
	return count > 0, nil
}
