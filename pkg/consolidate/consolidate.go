// Package consolidate implements the consolidation engine (spec.md §4.8):
// runs before distillation over the same raw messages, skips trivial
// turns via the noteworthy heuristic, and when noteworthy, drives a
// sub-agent workload with the LTM tool set to extract durable knowledge
// into the LTM tree. Grounded on kodelet's pkg/llm/base/compact_runner.go
// load-prompt -> run-utility-prompt -> swap-context shape, generalized
// from "replace the conversation with a summary" to "mutate the LTM
// tree through CAS-guarded tools, then return a textual report."
package consolidate

import (
	"context"

	"github.com/opencoder-agent/memcore/pkg/events"
	"github.com/opencoder-agent/memcore/pkg/ids"
	"github.com/opencoder-agent/memcore/pkg/ltm"
	"github.com/opencoder-agent/memcore/pkg/temporal"
	"github.com/opencoder-agent/memcore/pkg/toolkit"
	"github.com/opencoder-agent/memcore/pkg/worker"
	"github.com/opencoder-agent/memcore/pkg/workload"
)

// Report is the outcome of one Run.
type Report struct {
	Skipped  bool
	Reason   string
	Created  int
	Updated  int
	Archived int
	Summary  string
}

// Engine is the consolidation engine over an LTM tree and worker registry.
type Engine struct {
	tree    *ltm.Tree
	workers *worker.Registry
	bus     *events.Bus
	budget  int
	run     workload.Runner
}

// New constructs an Engine. budget is consolidation_budget (spec.md §6);
// run is the external agent loop that drives the sub-agent to completion
// (spec.md §1 — the model provider is an external collaborator).
func New(tree *ltm.Tree, workers *worker.Registry, bus *events.Bus, budget int, run workload.Runner) *Engine {
	return &Engine{tree: tree, workers: workers, bus: bus, budget: budget, run: run}
}

// Run executes one consolidation pass over messages, the same raw
// messages distillation is about to compress (spec.md §4.8's "runs
// before distillation on the same raw messages"). A skipped pass (not
// noteworthy) is not an error and does not create a worker row.
func (e *Engine) Run(ctx context.Context, messages []temporal.Message) (Report, error) {
	if !Noteworthy(messages) {
		return Report{Skipped: true, Reason: "conversation not noteworthy"}, nil
	}

	w, err := e.workers.Create(ctx, worker.TypeConsolidation)
	if err != nil {
		return Report{}, err
	}
	e.bus.Emit(ctx, events.LTMConsolidationStarted, w.ID)

	report, err := e.run1(ctx, messages)
	if err != nil {
		e.workers.Fail(ctx, w.ID, err)
		return report, err
	}

	if err := e.workers.Complete(ctx, w.ID); err != nil {
		return report, err
	}
	e.bus.Emit(ctx, events.LTMConsolidationComplete, report)
	return report, nil
}

func (e *Engine) run1(ctx context.Context, messages []temporal.Message) (Report, error) {
	counts := &callCounts{}
	baseTools := toolkit.NewLTMToolset(e.tree)
	finish := newFinishTool()
	registry := toolkit.NewRegistry(append(wrapCounting(baseTools, counts), finish)...)

	wl := workload.New(workload.VariantConsolidation, buildPrompt(messages), registry, e.budget)

	if _, err := e.run(ctx, wl); err != nil {
		return Report{}, err
	}

	return Report{
		Created:  counts.created,
		Updated:  counts.updated,
		Archived: counts.archived,
		Summary:  *finish.summary,
	}, nil
}

// buildPrompt renders the messages a consolidation sub-agent should read
// before deciding which LTM entries to create, update, or archive.
func buildPrompt(messages []temporal.Message) string {
	var b []byte
	b = append(b, "Review this conversation excerpt and use the ltm_* tools to record any durable facts about identity, behavior, or project knowledge worth remembering. Call finish_consolidation when done.\n\n"...)
	for _, m := range messages {
		b = append(b, '[')
		b = append(b, m.Kind...)
		b = append(b, "] "...)
		b = append(b, m.Content...)
		b = append(b, '\n')
	}
	return string(b)
}
