// Package workload models the single polymorphic sub-agent shape spec.md
// §9 calls for: research, reflection, consolidation, and distillation
// all share one agent-loop structure and differ only in their variant,
// their tool capability set, and their prompt. Grounded on kodelet's
// recipe/sub-agent split (pkg/llm/base's utility-prompt runner takes a
// variable prompt and tool set rather than one hardcoded per caller).
package workload

import (
	"context"

	"github.com/opencoder-agent/memcore/pkg/toolkit"
)

// Variant is the kind of sub-agent a Workload represents.
type Variant string

// Workload variants.
const (
	VariantMain          Variant = "main"
	VariantConsolidation Variant = "consolidation"
	VariantDistillation  Variant = "distillation"
	VariantReflection    Variant = "reflection"
	VariantResearch      Variant = "research"
)

// Budget keys a per-variant token budget, per spec.md §6's
// distillation_budget / consolidation_budget / reflection_budget.
type Budget int

// Workload is one sub-agent invocation: its variant, its capability
// set (which tools it may call), its prompt, and its token budget.
// The agent loop that actually drives model calls lives outside this
// module (spec.md §1 scope); Workload is the value passed into it.
type Workload struct {
	Variant Variant
	Prompt  string
	Tools   *toolkit.Registry
	Budget  int
}

// New builds a Workload. tools may be nil for variants that call no
// tools (e.g. a pure-text reflection pass).
func New(variant Variant, prompt string, tools *toolkit.Registry, budget int) Workload {
	return Workload{Variant: variant, Prompt: prompt, Tools: tools, Budget: budget}
}

// Runner drives a Workload to completion and returns its final text
// output, the seam kodelet's runUtilityPrompt occupies in
// CompactContextWithSummary. Implementations live outside this
// package (they own the model provider client); this module only
// defines the contract.
type Runner func(ctx context.Context, w Workload) (string, error)

// ToolCallHandler lets a Runner implementation dispatch a tool call a
// model emits against w's capability set without needing to know
// which variant it is running.
func (w Workload) ToolCallHandler() func(ctx context.Context, name, parameters string) toolkit.Result {
	return func(ctx context.Context, name, parameters string) toolkit.Result {
		if w.Tools == nil {
			return toolkit.Result{Error: "this workload has no tools available"}
		}
		return w.Tools.Execute(ctx, name, parameters)
	}
}
