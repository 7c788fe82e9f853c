package tasks

import (
	"context"
	"encoding/json"
	"time"

	"github.com/opencoder-agent/memcore/pkg/ids"
	"github.com/opencoder-agent/memcore/pkg/store"
)

// QueuedResult is a completed background result waiting to be injected
// into the next turn, delivered strictly in the order it was enqueued
// (spec.md §4.10's mid-turn injection queue).
type QueuedResult struct {
	Seq       int64     `db:"seq"`
	TaskID    string    `db:"task_id"`
	Payload   string    `db:"payload"`
	CreatedAt time.Time `db:"created_at"`
}

// Enqueue appends payload to the FIFO queue, tagged with the task it
// came from.
func (s *Store) Enqueue(ctx context.Context, taskID, payload string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO queued_results (task_id, payload, created_at) VALUES (?, ?, ?)
	`, taskID, payload, time.Now().UTC())
	if err != nil {
		return store.NewFailure(store.KindIO, "tasks.Enqueue", err)
	}
	return nil
}

// DrainQueue removes and returns every queued result in FIFO order. The
// turn coordinator calls this once per mid-turn injection point so a
// result is delivered exactly once.
func (s *Store) DrainQueue(ctx context.Context) ([]QueuedResult, error) {
	var rows []QueuedResult
	err := s.db.SelectContext(ctx, &rows, `SELECT * FROM queued_results ORDER BY seq ASC`)
	if err != nil {
		return nil, store.NewFailure(store.KindIO, "tasks.DrainQueue.select", err)
	}
	if len(rows) == 0 {
		return nil, nil
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM queued_results WHERE seq <= ?`, rows[len(rows)-1].Seq); err != nil {
		return nil, store.NewFailure(store.KindIO, "tasks.DrainQueue.delete", err)
	}
	return rows, nil
}

// BackgroundReport is a notice filed by a background task or by startup
// recovery, surfaced to the user on the next turn (spec.md §3).
type BackgroundReport struct {
	ID        string    `db:"id"`
	Source    string    `db:"source"`
	Payload   string    `db:"payload"`
	CreatedAt time.Time `db:"created_at"`
	Delivered bool      `db:"delivered"`
}

// FileReport records a background report. payload is marshalled to JSON.
func (s *Store) FileReport(ctx context.Context, source string, payload any) (BackgroundReport, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return BackgroundReport{}, store.NewFailure(store.KindSchema, "tasks.FileReport.marshal", err)
	}
	body := string(raw)
	r := BackgroundReport{
		ID:        s.ids.Next(ids.KindReport),
		Source:    source,
		Payload:   body,
		CreatedAt: time.Now().UTC(),
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO background_reports (id, source, payload, created_at, delivered)
		VALUES (?, ?, ?, ?, 0)
	`, r.ID, r.Source, r.Payload, r.CreatedAt)
	if err != nil {
		return BackgroundReport{}, store.NewFailure(store.KindIO, "tasks.FileReport", err)
	}
	return r, nil
}

// UndeliveredReports returns every report not yet marked delivered,
// oldest first.
func (s *Store) UndeliveredReports(ctx context.Context) ([]BackgroundReport, error) {
	var rows []BackgroundReport
	err := s.db.SelectContext(ctx, &rows, `
		SELECT * FROM background_reports WHERE delivered = 0 ORDER BY created_at ASC
	`)
	if err != nil {
		return nil, store.NewFailure(store.KindIO, "tasks.UndeliveredReports", err)
	}
	return rows, nil
}

// MarkDelivered flags the given reports as delivered so they are not
// surfaced again.
func (s *Store) MarkDelivered(ctx context.Context, reportIDs []string) error {
	for _, id := range reportIDs {
		if _, err := s.db.ExecContext(ctx, `UPDATE background_reports SET delivered = 1 WHERE id = ?`, id); err != nil {
			return store.NewFailure(store.KindIO, "tasks.MarkDelivered", err)
		}
	}
	return nil
}
