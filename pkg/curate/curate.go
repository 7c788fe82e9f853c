// Package curate implements the curation orchestrator (spec.md §4.9):
// it sequences consolidation then distillation over the same window of
// raw messages, guarded against running twice at once, triggered either
// by the distillation engine's own threshold check or by a forced call.
// Grounded on kodelet's pkg/hooks/builtin/compact.go, the single call
// site that already sequences "maybe compact" around a turn boundary,
// generalized here into an explicit two-phase pipeline with its own
// concurrency guard and reporting contract.
package curate

import (
	"context"
	"sync/atomic"

	"go.opentelemetry.io/otel/trace"

	"github.com/opencoder-agent/memcore/pkg/consolidate"
	"github.com/opencoder-agent/memcore/pkg/distill"
	"github.com/opencoder-agent/memcore/pkg/logger"
	"github.com/opencoder-agent/memcore/pkg/telemetry"
	"github.com/opencoder-agent/memcore/pkg/temporal"
)

// Result is the outcome of one Curate call.
type Result struct {
	// Ran is false when a curation pass was already in progress or
	// should_trigger() declined to run (and force was false); every
	// other field is a zero value in that case.
	Ran bool

	Consolidation consolidate.Report
	Distillation  distill.Report

	TokensBefore         int
	TokensAfter          int
	DistillationsCreated int
	TurnsUsed            int
}

// MessageWindow supplies the raw messages consolidation and distillation
// share: the uncovered tail of the temporal log. Both engines select
// their own sub-range out of this window (consolidation looks at all of
// it; distillation drops the trailing recency buffer).
type MessageWindow func(ctx context.Context) ([]temporal.Message, error)

// Orchestrator sequences consolidation then distillation. in_progress is
// a single atomic flag, not golang.org/x/sync/singleflight: singleflight
// blocks a second caller until the first's call returns and hands it the
// same result, but spec.md §4.9 requires a concurrent call to "return
// immediately with ran=false" rather than wait — an atomic
// compare-and-swap is the primitive that actually has that semantics.
// golang.org/x/sync is still wired, via errgroup, in pkg/turn's alarm
// poller alongside the run loop.
type Orchestrator struct {
	distill     *distill.Engine
	consolidate *consolidate.Engine
	window      MessageWindow
	inProgress  atomic.Bool
}

// New constructs an Orchestrator over a distillation engine, a
// consolidation engine, and a window function supplying the raw
// messages both phases share.
func New(d *distill.Engine, c *consolidate.Engine, window MessageWindow) *Orchestrator {
	return &Orchestrator{distill: d, consolidate: c, window: window}
}

// Curate runs one curation pass. If force is false, should_trigger()
// (distill.Engine.ShouldTrigger) gates whether anything runs at all.
// Phase 1 (consolidation) failures are logged and do not abort phase 2;
// phase 2 (distillation) is always attempted once phase 1 has run.
func (o *Orchestrator) Curate(ctx context.Context, force bool) (Result, error) {
	var span trace.Span
	ctx, span = telemetry.Tracer("memcore.curate").Start(ctx, "curate.run")
	defer span.End()

	if !o.inProgress.CompareAndSwap(false, true) {
		return Result{Ran: false}, nil
	}
	defer o.inProgress.Store(false)

	if !force {
		trigger, err := o.distill.ShouldTrigger(ctx)
		if err != nil {
			return Result{}, err
		}
		if !trigger {
			return Result{Ran: false}, nil
		}
	}

	messages, err := o.window(ctx)
	if err != nil {
		return Result{}, err
	}

	result := Result{Ran: true}
	turnsUsed := 0

	consolidationReport, err := o.consolidate.Run(ctx, messages)
	if err != nil {
		logger.G(ctx).WithError(err).Warn("consolidation failed; proceeding to distillation")
	} else {
		result.Consolidation = consolidationReport
		if !consolidationReport.Skipped {
			turnsUsed++
		}
	}

	distillationReport, err := o.distill.Run(ctx)
	if err != nil {
		telemetry.RecordError(ctx, err)
		return result, err
	}
	result.Distillation = distillationReport
	result.TokensBefore = distillationReport.TokensBefore
	result.TokensAfter = distillationReport.TokensAfter
	result.DistillationsCreated = distillationReport.DistillationsCreated
	if !distillationReport.Skipped {
		turnsUsed++
	}
	result.TurnsUsed = turnsUsed

	return result, nil
}
