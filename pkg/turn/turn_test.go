package turn

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opencoder-agent/memcore/pkg/config"
	"github.com/opencoder-agent/memcore/pkg/consolidate"
	"github.com/opencoder-agent/memcore/pkg/curate"
	"github.com/opencoder-agent/memcore/pkg/distill"
	"github.com/opencoder-agent/memcore/pkg/events"
	"github.com/opencoder-agent/memcore/pkg/ids"
	"github.com/opencoder-agent/memcore/pkg/ltm"
	"github.com/opencoder-agent/memcore/pkg/session"
	"github.com/opencoder-agent/memcore/pkg/store"
	"github.com/opencoder-agent/memcore/pkg/tasks"
	"github.com/opencoder-agent/memcore/pkg/temporal"
	"github.com/opencoder-agent/memcore/pkg/worker"
	"github.com/opencoder-agent/memcore/pkg/workload"
)

type notice struct {
	subtype NoticeSubtype
	message string
	detail  any
}

type fakeSink struct {
	mu        sync.Mutex
	assistant []string
	system    []string
	notices   []notice
	resultCh  chan string
}

func newFakeSink() *fakeSink {
	return &fakeSink{resultCh: make(chan string, 16)}
}

func (f *fakeSink) Assistant(ctx context.Context, text string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.assistant = append(f.assistant, text)
}

func (f *fakeSink) ToolResult(ctx context.Context, callID, name, result string, isError bool) {}

func (f *fakeSink) Result(ctx context.Context, summary string) {
	f.resultCh <- summary
}

func (f *fakeSink) System(ctx context.Context, text string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.system = append(f.system, text)
}

func (f *fakeSink) Notice(ctx context.Context, subtype NoticeSubtype, message string, detail any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.notices = append(f.notices, notice{subtype: subtype, message: message, detail: detail})
}

func (f *fakeSink) systemMessages() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.system...)
}

func (f *fakeSink) noticesOf(subtype NoticeSubtype) []notice {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []notice
	for _, n := range f.notices {
		if n.subtype == subtype {
			out = append(out, n)
		}
	}
	return out
}

func testConfig() *config.Config {
	return &config.Config{
		TemporalBudget:              10_000,
		CompactionThreshold:         500,
		CompactionTarget:            200,
		RecencyBufferMessages:       2,
		MinDistillationBatch:        3,
		SummaryGroupTokenCeiling:    40,
		OrderCompressionThreshold:   3,
		MaxSummaryOrder:             4,
		WorkerStaleThresholdSeconds: 600,
		AlarmPollIntervalMS:         20,
	}
}

func newTestCoordinator(t *testing.T, loop AgentLoop) (*Coordinator, *fakeSink, *store.Store, *tasks.Store) {
	t.Helper()
	ctx := context.Background()
	s, err := store.OpenMemory(ctx)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	idGen := ids.New()
	log := temporal.New(s, idGen)
	tree := ltm.New(s)
	require.NoError(t, tree.SeedDefaults(ctx, "system"))
	sess, err := session.New(ctx, s, idGen)
	require.NoError(t, err)
	tasksStore := tasks.New(s, idGen)
	workers := worker.New(s, idGen)
	bus := events.New()
	cfg := testConfig()

	noopRunner := func(ctx context.Context, w workload.Workload) (string, error) {
		handler := w.ToolCallHandler()
		r := handler(ctx, "finish_consolidation", `{"summary":"nothing durable"}`)
		if r.IsError() {
			return "", fmt.Errorf("finish_consolidation: %s", r.Error)
		}
		return "done", nil
	}
	distillEngine := distill.New(s, log, workers, idGen, bus, cfg, func(_ context.Context, content, roleHint string) (string, error) {
		return "summary: " + roleHint, nil
	})
	consolidateEngine := consolidate.New(tree, workers, bus, 4000, noopRunner)
	window := func(ctx context.Context) ([]temporal.Message, error) {
		return log.GetMessages(ctx, temporal.MessageFilter{})
	}
	curator := curate.New(distillEngine, consolidateEngine, window)

	sink := newFakeSink()
	c := New(log, tree, sess, tasksStore, workers, curator, bus, cfg, sink, loop, nil)
	return c, sink, s, tasksStore
}

func TestSubmit_RunsTurnAndPersistsMessages(t *testing.T) {
	loop := func(ctx context.Context, in Input, sink Sink) (Output, error) {
		return Output{AssistantText: "hello back"}, nil
	}
	c, sink, s, _ := newTestCoordinator(t, loop)

	c.Submit(context.Background(), "hello")
	select {
	case <-sink.resultCh:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for turn to complete")
	}

	log := temporal.New(s, ids.New())
	messages, err := log.GetMessages(context.Background(), temporal.MessageFilter{})
	require.NoError(t, err)
	require.Len(t, messages, 2)
	assert.Equal(t, temporal.KindUser, messages[0].Kind)
	assert.Equal(t, "hello", messages[0].Content)
	assert.Equal(t, temporal.KindAssistant, messages[1].Kind)
	assert.Equal(t, "hello back", messages[1].Content)

	// The turn slot stays held through post-turn curation, which runs
	// after Result is sent.
	assert.Eventually(t, func() bool { return !c.isRunning() }, 2*time.Second, time.Millisecond)
}

func TestSubmit_SecondMessageWhileRunningIsQueuedThenRunsAsFollowUp(t *testing.T) {
	release := make(chan struct{})
	var callCount int
	var mu sync.Mutex
	loop := func(ctx context.Context, in Input, sink Sink) (Output, error) {
		mu.Lock()
		callCount++
		first := callCount == 1
		mu.Unlock()
		if first {
			<-release
		}
		return Output{AssistantText: "reply to " + in.UserMessage}, nil
	}
	c, sink, _, _ := newTestCoordinator(t, loop)

	c.Submit(context.Background(), "first")
	for !c.isRunning() {
		time.Sleep(time.Millisecond)
	}
	c.Submit(context.Background(), "second")

	status := c.status()
	assert.Equal(t, 1, status.QueueDepth)

	queued := sink.noticesOf(NoticeQueued)
	require.Len(t, queued, 1)
	assert.Equal(t, map[string]any{"position": 1}, queued[0].detail)

	close(release)

	for i := 0; i < 2; i++ {
		select {
		case <-sink.resultCh:
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for turn %d to complete", i+1)
		}
	}

	injected := sink.noticesOf(NoticeInjected)
	require.Len(t, injected, 1)
	assert.Equal(t, map[string]any{"message_count": 1}, injected[0].detail)
}

func TestControl_InterruptCancelsRunningTurn(t *testing.T) {
	started := make(chan struct{})
	loop := func(ctx context.Context, in Input, sink Sink) (Output, error) {
		close(started)
		<-ctx.Done()
		return Output{}, ctx.Err()
	}
	c, sink, _, _ := newTestCoordinator(t, loop)

	c.Submit(context.Background(), "hang")
	<-started

	c.Control(context.Background(), ControlInterrupt)

	select {
	case <-sink.resultCh:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for interrupted turn to finish")
	}
	assert.Eventually(t, func() bool { return !c.isRunning() }, 2*time.Second, time.Millisecond)
	assert.Contains(t, sink.systemMessages(), "turn failed: context canceled")
}

func TestPollOnce_AcksDueAlarmAndStartsSyntheticTurnWhenIdle(t *testing.T) {
	var got string
	done := make(chan struct{})
	loop := func(ctx context.Context, in Input, sink Sink) (Output, error) {
		got = in.UserMessage
		close(done)
		return Output{AssistantText: "ack"}, nil
	}
	c, sink, _, tasksStore := newTestCoordinator(t, loop)
	ctx := context.Background()

	_, err := tasksStore.CreateAlarm(ctx, time.Now().Add(-time.Second), "wake up")
	require.NoError(t, err)

	require.NoError(t, c.pollOnce(ctx))

	due, err := tasksStore.DueAlarms(ctx, time.Now())
	require.NoError(t, err)
	assert.Empty(t, due, "alarm must be acked, not re-delivered")

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for synthetic turn")
	}
	assert.Contains(t, got, "background update")

	select {
	case <-sink.resultCh:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for synthetic turn to finish")
	}
}
