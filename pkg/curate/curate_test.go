package curate

import (
	"context"
	"fmt"
	"strings"
	"runtime"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opencoder-agent/memcore/pkg/config"
	"github.com/opencoder-agent/memcore/pkg/consolidate"
	"github.com/opencoder-agent/memcore/pkg/distill"
	"github.com/opencoder-agent/memcore/pkg/events"
	"github.com/opencoder-agent/memcore/pkg/ids"
	"github.com/opencoder-agent/memcore/pkg/ltm"
	"github.com/opencoder-agent/memcore/pkg/store"
	"github.com/opencoder-agent/memcore/pkg/temporal"
	"github.com/opencoder-agent/memcore/pkg/worker"
	"github.com/opencoder-agent/memcore/pkg/workload"
)

func testConfig() *config.Config {
	return &config.Config{
		CompactionThreshold:       500,
		CompactionTarget:          200,
		RecencyBufferMessages:     2,
		MinDistillationBatch:      3,
		SummaryGroupTokenCeiling:  40,
		OrderCompressionThreshold: 3,
		MaxSummaryOrder:           4,
	}
}

func stubSummarizer() distill.Summarizer {
	return func(_ context.Context, content, roleHint string) (string, error) {
		return fmt.Sprintf("summary(%s): %d chars", roleHint, len(content)), nil
	}
}

func newTestOrchestrator(t *testing.T, cfg *config.Config, run workload.Runner) (*Orchestrator, *temporal.Log, *store.Store) {
	t.Helper()
	ctx := context.Background()
	s, err := store.OpenMemory(ctx)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	idGen := ids.New()
	log := temporal.New(s, idGen)
	workers := worker.New(s, idGen)
	bus := events.New()
	tree := ltm.New(s)
	require.NoError(t, tree.SeedDefaults(ctx, "system"))

	distillEngine := distill.New(s, log, workers, idGen, bus, cfg, stubSummarizer())
	consolidateEngine := consolidate.New(tree, workers, bus, 4000, run)

	window := func(ctx context.Context) ([]temporal.Message, error) {
		return log.GetMessages(ctx, temporal.MessageFilter{})
	}

	return New(distillEngine, consolidateEngine, window), log, s
}

func seedMessages(t *testing.T, log *temporal.Log, n int, tokensEach int) {
	t.Helper()
	ctx := context.Background()
	padding := strings.Repeat("x", tokensEach*4)
	for i := 0; i < n; i++ {
		// One (tool_call, tool_result) pair makes a seeded conversation of
		// five or more messages noteworthy, so consolidation actually runs.
		kind := temporal.KindUser
		switch {
		case i == 1:
			kind = temporal.KindToolCall
		case i == 2:
			kind = temporal.KindToolResult
		case i%2 == 1:
			kind = temporal.KindAssistant
		}
		_, err := log.AppendMessage(ctx, temporal.Message{Kind: kind, Content: padding})
		require.NoError(t, err)
	}
}

func noopRunner(ctx context.Context, w workload.Workload) (string, error) {
	handler := w.ToolCallHandler()
	r := handler(ctx, "finish_consolidation", `{"summary":"nothing durable found"}`)
	if r.IsError() {
		return "", fmt.Errorf("finish_consolidation failed: %s", r.Error)
	}
	return "done", nil
}

func TestCurate_NotTriggeredBelowThresholdAndNotForced(t *testing.T) {
	o, log, _ := newTestOrchestrator(t, testConfig(), noopRunner)
	seedMessages(t, log, 3, 5)

	result, err := o.Curate(context.Background(), false)
	require.NoError(t, err)
	assert.False(t, result.Ran)
}

func TestCurate_ForceRunsEvenBelowThreshold(t *testing.T) {
	o, log, _ := newTestOrchestrator(t, testConfig(), noopRunner)
	seedMessages(t, log, 3, 5)

	result, err := o.Curate(context.Background(), true)
	require.NoError(t, err)
	assert.True(t, result.Ran)
}

func TestCurate_AboveThresholdRunsBothPhasesInOrder(t *testing.T) {
	o, log, _ := newTestOrchestrator(t, testConfig(), noopRunner)
	seedMessages(t, log, 60, 10) // 600 tokens, above the 500 threshold

	result, err := o.Curate(context.Background(), false)
	require.NoError(t, err)
	assert.True(t, result.Ran)
	assert.Greater(t, result.DistillationsCreated, 0)
	assert.Less(t, result.TokensAfter, result.TokensBefore)
	assert.Equal(t, 2, result.TurnsUsed, "both consolidation and distillation should have run")
}

func TestCurate_ConsolidationFailureDoesNotAbortDistillation(t *testing.T) {
	failingRunner := func(ctx context.Context, w workload.Workload) (string, error) {
		return "", fmt.Errorf("provider unavailable")
	}
	o, log, _ := newTestOrchestrator(t, testConfig(), failingRunner)
	seedMessages(t, log, 60, 10)

	result, err := o.Curate(context.Background(), false)
	require.NoError(t, err)
	assert.True(t, result.Ran)
	assert.Greater(t, result.DistillationsCreated, 0, "distillation still ran despite consolidation failing")
}

func TestCurate_ConcurrentCallReturnsRanFalse(t *testing.T) {
	release := make(chan struct{})
	blockingRunner := func(ctx context.Context, w workload.Workload) (string, error) {
		<-release
		return noopRunner(ctx, w)
	}
	o, log, _ := newTestOrchestrator(t, testConfig(), blockingRunner)
	seedMessages(t, log, 60, 10)

	var wg sync.WaitGroup
	var first, second Result
	var firstErr, secondErr error

	wg.Add(1)
	go func() {
		defer wg.Done()
		first, firstErr = o.Curate(context.Background(), true)
	}()

	// Give the first call time to claim in_progress before the second fires.
	for !o.inProgress.Load() {
		runtime.Gosched()
	}
	second, secondErr = o.Curate(context.Background(), true)
	close(release)
	wg.Wait()

	require.NoError(t, firstErr)
	require.NoError(t, secondErr)
	assert.True(t, first.Ran)
	assert.False(t, second.Ran)
}
