package worker

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opencoder-agent/memcore/pkg/ids"
	"github.com/opencoder-agent/memcore/pkg/store"
)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	ctx := context.Background()
	s, err := store.OpenMemory(ctx)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return New(s, ids.New())
}

func TestCreateCompleteLifecycle(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()

	w, err := r.Create(ctx, TypeDistillation)
	require.NoError(t, err)
	assert.Equal(t, StatusRunning, w.Status)

	running, err := r.GetRunning(ctx)
	require.NoError(t, err)
	assert.Len(t, running, 1)

	require.NoError(t, r.Complete(ctx, w.ID))

	running, err = r.GetRunning(ctx)
	require.NoError(t, err)
	assert.Empty(t, running)
}

func TestFailRecordsError(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()

	w, err := r.Create(ctx, TypeConsolidation)
	require.NoError(t, err)

	require.NoError(t, r.Fail(ctx, w.ID, errors.New("provider timeout")))

	running, err := r.GetRunning(ctx)
	require.NoError(t, err)
	assert.Empty(t, running)
}

func TestCleanupStaleReapsOldRunningWorkers(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()

	w, err := r.Create(ctx, TypeDistillation)
	require.NoError(t, err)

	_, err = r.db.ExecContext(ctx, `UPDATE workers SET heartbeat_at = ? WHERE id = ?`,
		time.Now().UTC().Add(-time.Hour), w.ID)
	require.NoError(t, err)

	n, err := r.CleanupStale(ctx, 10*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	running, err := r.GetRunning(ctx)
	require.NoError(t, err)
	assert.Empty(t, running)
}

func TestAnyRunningPreventsConcurrency(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()

	any, err := r.AnyRunning(ctx, TypeDistillation)
	require.NoError(t, err)
	assert.False(t, any)

	_, err = r.Create(ctx, TypeDistillation)
	require.NoError(t, err)

	any, err = r.AnyRunning(ctx, TypeDistillation)
	require.NoError(t, err)
	assert.True(t, any)
}
