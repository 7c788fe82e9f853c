// Package events implements the in-process publish/subscribe bus
// described in spec.md §6: named event types carrying a typed payload,
// with subscribers run synchronously within the publisher's suspension
// point. Modeled on kodelet's pkg/hooks registry, simplified from a
// discovered-executable hook system to a pure in-process fan-out since
// nothing in this engine talks to external hook binaries.
package events

import (
	"context"
	"sync"

	"github.com/opencoder-agent/memcore/pkg/logger"
)

// Type names every event the engine emits.
type Type string

// Event type constants, per spec.md §6.
const (
	TemporalDistillationStarted  Type = "temporal.distillation.started"
	TemporalDistillationComplete Type = "temporal.distillation.complete"
	TemporalSummaryCreated       Type = "temporal.summary.created"
	LTMConsolidationStarted      Type = "ltm.consolidation.started"
	LTMConsolidationComplete     Type = "ltm.consolidation.complete"
	LTMEntryUpdated              Type = "ltm.entry.updated"
	WorkerStarted                 Type = "worker.started"
	WorkerCompleted               Type = "worker.completed"
	WorkerFailed                  Type = "worker.failed"
	AgentTurnStarted             Type = "agent.turn.started"
	AgentTurnCompleted           Type = "agent.turn.completed"
	ToolCallStarted              Type = "tool.call.started"
	ToolCallCompleted            Type = "tool.call.completed"
	PresentStateUpdated          Type = "present.state.updated"
	BackgroundTasksChanged       Type = "background.tasks.changed"
)

// Handler receives one event's payload. Handlers run synchronously on
// the publisher's goroutine; a slow handler delays the caller.
type Handler func(ctx context.Context, payload any)

// Bus is the in-process event bus.
type Bus struct {
	mu       sync.RWMutex
	handlers map[Type][]Handler
}

// New returns an empty Bus.
func New() *Bus {
	return &Bus{handlers: make(map[Type][]Handler)}
}

// Subscribe registers h to run whenever an event of type t is emitted.
func (b *Bus) Subscribe(t Type, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[t] = append(b.handlers[t], h)
}

// Emit runs every handler subscribed to t, in registration order, with
// payload. A panicking handler is recovered and logged so one broken
// subscriber cannot take down the publisher.
func (b *Bus) Emit(ctx context.Context, t Type, payload any) {
	b.mu.RLock()
	hs := append([]Handler(nil), b.handlers[t]...)
	b.mu.RUnlock()

	for _, h := range hs {
		b.runSafely(ctx, t, h, payload)
	}
}

func (b *Bus) runSafely(ctx context.Context, t Type, h Handler, payload any) {
	defer func() {
		if r := recover(); r != nil {
			logger.G(ctx).WithField("event", t).WithField("panic", r).Error("event handler panicked")
		}
	}()
	h(ctx, payload)
}
