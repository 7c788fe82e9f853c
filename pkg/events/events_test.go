package events

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSubscribeAndEmit(t *testing.T) {
	b := New()
	var got any
	count := 0
	b.Subscribe(WorkerStarted, func(_ context.Context, payload any) {
		got = payload
		count++
	})

	b.Emit(context.Background(), WorkerStarted, "worker_123")
	assert.Equal(t, "worker_123", got)
	assert.Equal(t, 1, count)

	b.Emit(context.Background(), WorkerCompleted, "ignored")
	assert.Equal(t, 1, count)
}

func TestMultipleSubscribersRunInOrder(t *testing.T) {
	b := New()
	var order []int
	b.Subscribe(AgentTurnStarted, func(_ context.Context, _ any) { order = append(order, 1) })
	b.Subscribe(AgentTurnStarted, func(_ context.Context, _ any) { order = append(order, 2) })

	b.Emit(context.Background(), AgentTurnStarted, nil)
	assert.Equal(t, []int{1, 2}, order)
}

func TestPanickingHandlerDoesNotStopOthers(t *testing.T) {
	b := New()
	ran := false
	b.Subscribe(ToolCallStarted, func(_ context.Context, _ any) { panic("boom") })
	b.Subscribe(ToolCallStarted, func(_ context.Context, _ any) { ran = true })

	assert.NotPanics(t, func() {
		b.Emit(context.Background(), ToolCallStarted, nil)
	})
	assert.True(t, ran)
}
