package tasks

import (
	"context"
	"time"

	"github.com/adhocore/gronx"

	"github.com/opencoder-agent/memcore/pkg/ids"
	"github.com/opencoder-agent/memcore/pkg/store"
)

// Alarm is a one-shot or recurring wakeup the turn coordinator polls for.
type Alarm struct {
	ID            string     `db:"id"`
	FireAt        time.Time  `db:"fire_at"`
	RecurringCron *string    `db:"recurring_cron"`
	Payload       string     `db:"payload"`
	FiredAt       *time.Time `db:"fired_at"`
	CreatedAt     time.Time  `db:"created_at"`
}

// Fired reports whether the alarm has already been delivered at least
// once, the guard that makes firing idempotent across poll cycles.
func (a Alarm) Fired() bool { return a.FiredAt != nil }

// CreateAlarm schedules a one-shot alarm at fireAt.
func (s *Store) CreateAlarm(ctx context.Context, fireAt time.Time, payload string) (Alarm, error) {
	a := Alarm{
		ID:        s.ids.Next(ids.KindAlarm),
		FireAt:    fireAt,
		Payload:   payload,
		CreatedAt: time.Now().UTC(),
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO alarms (id, fire_at, recurring_cron, payload, fired_at, created_at)
		VALUES (?, ?, NULL, ?, NULL, ?)
	`, a.ID, a.FireAt, a.Payload, a.CreatedAt)
	if err != nil {
		return Alarm{}, store.NewFailure(store.KindIO, "tasks.CreateAlarm", err)
	}
	return a, nil
}

// CreateRecurringAlarm schedules an alarm that reschedules itself after
// each firing according to a standard 5-field cron expression.
func (s *Store) CreateRecurringAlarm(ctx context.Context, cronExpr string, payload string) (Alarm, error) {
	if !gronx.IsValid(cronExpr) {
		return Alarm{}, store.NewFailure(store.KindSchema, "tasks.CreateRecurringAlarm", errInvalidCron(cronExpr))
	}
	next, err := gronx.NextTick(cronExpr, true)
	if err != nil {
		return Alarm{}, store.NewFailure(store.KindSchema, "tasks.CreateRecurringAlarm.next", err)
	}
	a := Alarm{
		ID:            s.ids.Next(ids.KindAlarm),
		FireAt:        next,
		RecurringCron: &cronExpr,
		Payload:       payload,
		CreatedAt:     time.Now().UTC(),
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO alarms (id, fire_at, recurring_cron, payload, fired_at, created_at)
		VALUES (?, ?, ?, ?, NULL, ?)
	`, a.ID, a.FireAt, a.RecurringCron, a.Payload, a.CreatedAt)
	if err != nil {
		return Alarm{}, store.NewFailure(store.KindIO, "tasks.CreateRecurringAlarm", err)
	}
	return a, nil
}

// DueAlarms returns every unfired alarm whose fire_at has passed, the
// set the turn coordinator's ~1Hz poll loop delivers.
func (s *Store) DueAlarms(ctx context.Context, now time.Time) ([]Alarm, error) {
	var rows []Alarm
	err := s.db.SelectContext(ctx, &rows, `
		SELECT * FROM alarms WHERE fire_at <= ? AND fired_at IS NULL ORDER BY fire_at ASC
	`, now)
	if err != nil {
		return nil, store.NewFailure(store.KindIO, "tasks.DueAlarms", err)
	}
	return rows, nil
}

// AckAlarm marks id as fired. If it carries a recurring_cron, a new
// alarm row is scheduled for the next tick so recurrence survives
// across process restarts without an in-memory timer. Calling AckAlarm
// twice on the same id is a no-op the second time (idempotent firing,
// property 8).
func (s *Store) AckAlarm(ctx context.Context, id string) error {
	a, err := s.getAlarm(ctx, id)
	if err != nil {
		return err
	}
	if a.Fired() {
		return nil
	}

	_, err = s.db.ExecContext(ctx, `UPDATE alarms SET fired_at = ? WHERE id = ? AND fired_at IS NULL`,
		time.Now().UTC(), id)
	if err != nil {
		return store.NewFailure(store.KindIO, "tasks.AckAlarm", err)
	}

	if a.RecurringCron != nil {
		if _, err := s.CreateRecurringAlarm(ctx, *a.RecurringCron, a.Payload); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) getAlarm(ctx context.Context, id string) (Alarm, error) {
	var a Alarm
	err := s.db.GetContext(ctx, &a, `SELECT * FROM alarms WHERE id = ?`, id)
	if err != nil {
		return Alarm{}, store.NewFailure(store.KindNotFound, "tasks.getAlarm", err)
	}
	return a, nil
}

type errInvalidCron string

func (e errInvalidCron) Error() string { return "invalid cron expression: " + string(e) }
