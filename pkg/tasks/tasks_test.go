package tasks

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opencoder-agent/memcore/pkg/ids"
	"github.com/opencoder-agent/memcore/pkg/store"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	ctx := context.Background()
	s, err := store.OpenMemory(ctx)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return New(s, ids.New())
}

func TestCreateAndCompleteTask(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	task, err := s.CreateTask(ctx, "research", "investigate flaky test")
	require.NoError(t, err)
	assert.Equal(t, TaskRunning, task.Status)

	require.NoError(t, s.CompleteTask(ctx, task.ID, map[string]string{"outcome": "fixed"}))

	got, err := s.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, TaskCompleted, got.Status)
	assert.True(t, got.Result.Valid)
}

func TestRecoverKilledTasksFilesReport(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	task, err := s.CreateTask(ctx, "distillation", "order-1 batch")
	require.NoError(t, err)

	n, err := s.RecoverKilledTasks(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := s.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, TaskKilled, got.Status)

	reports, err := s.UndeliveredReports(ctx)
	require.NoError(t, err)
	require.Len(t, reports, 1)
	assert.Equal(t, "tasks", reports[0].Source)

	// Second startup recovery finds nothing left to kill.
	n, err = s.RecoverKilledTasks(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestAlarmDueAndAckIsIdempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	a, err := s.CreateAlarm(ctx, time.Now().UTC().Add(-time.Minute), "check in")
	require.NoError(t, err)

	due, err := s.DueAlarms(ctx, time.Now().UTC())
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, a.ID, due[0].ID)

	require.NoError(t, s.AckAlarm(ctx, a.ID))
	require.NoError(t, s.AckAlarm(ctx, a.ID)) // second ack is a no-op, not an error

	due, err = s.DueAlarms(ctx, time.Now().UTC())
	require.NoError(t, err)
	assert.Empty(t, due)
}

func TestRecurringAlarmReschedulesOnAck(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	a, err := s.CreateRecurringAlarm(ctx, "* * * * *", "heartbeat")
	require.NoError(t, err)

	require.NoError(t, s.AckAlarm(ctx, a.ID))

	var count int
	require.NoError(t, s.db.GetContext(ctx, &count, `SELECT COUNT(*) FROM alarms`))
	assert.Equal(t, 2, count) // original (now fired) + its rescheduled successor
}

func TestQueueDrainsInFIFOOrder(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Enqueue(ctx, "task_1", "first"))
	require.NoError(t, s.Enqueue(ctx, "task_2", "second"))

	drained, err := s.DrainQueue(ctx)
	require.NoError(t, err)
	require.Len(t, drained, 2)
	assert.Equal(t, "first", drained[0].Payload)
	assert.Equal(t, "second", drained[1].Payload)

	drained, err = s.DrainQueue(ctx)
	require.NoError(t, err)
	assert.Empty(t, drained)
}

func TestBackgroundReportsDeliveryTracking(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	r, err := s.FileReport(ctx, "research", map[string]string{"finding": "x"})
	require.NoError(t, err)

	undelivered, err := s.UndeliveredReports(ctx)
	require.NoError(t, err)
	require.Len(t, undelivered, 1)

	require.NoError(t, s.MarkDelivered(ctx, []string{r.ID}))

	undelivered, err = s.UndeliveredReports(ctx)
	require.NoError(t, err)
	assert.Empty(t, undelivered)
}
