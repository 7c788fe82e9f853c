package consolidate

import (
	"context"
	"encoding/json"

	"github.com/invopop/jsonschema"

	"github.com/opencoder-agent/memcore/pkg/toolkit"
)

// callCounts tallies the LTM mutations a consolidation sub-agent actually
// performs. These counts are derived from the tool calls the engine
// itself dispatches, not self-reported by the sub-agent, since a
// model's summary of its own actions is not trustworthy ground truth.
type callCounts struct {
	created  int
	updated  int
	archived int
}

// countingTool wraps a toolkit.Tool so a successful (non-error) call
// increments the matching counter in counts.
type countingTool struct {
	toolkit.Tool
	counts *callCounts
	bump   func(*callCounts)
}

func (c *countingTool) Execute(ctx context.Context, parameters string) toolkit.Result {
	r := c.Tool.Execute(ctx, parameters)
	if !r.IsError() {
		c.bump(c.counts)
	}
	return r
}

// wrapCounting decorates the LTM toolset so create/update/edit/rename/
// reparent/archive calls are tallied in counts. Read-only tools
// (ltm_read, ltm_glob, ltm_search) pass through unwrapped.
func wrapCounting(tools []toolkit.Tool, counts *callCounts) []toolkit.Tool {
	out := make([]toolkit.Tool, 0, len(tools))
	for _, t := range tools {
		switch t.Name() {
		case "ltm_create":
			out = append(out, &countingTool{t, counts, func(c *callCounts) { c.created++ }})
		case "ltm_update", "ltm_edit", "ltm_rename", "ltm_reparent":
			out = append(out, &countingTool{t, counts, func(c *callCounts) { c.updated++ }})
		case "ltm_archive":
			out = append(out, &countingTool{t, counts, func(c *callCounts) { c.archived++ }})
		default:
			out = append(out, t)
		}
	}
	return out
}

// finishConsolidationParams is the payload a sub-agent sends to end its
// consolidation turn, per spec.md §4.8's finish_consolidation tool.
type finishConsolidationParams struct {
	Summary string `json:"summary"`
}

// finishTool records the sub-agent's closing summary text. The actual
// counts come from callCounts, not this tool's params, so a sub-agent
// cannot misreport its own effect on the tree.
type finishTool struct {
	summary *string
}

func newFinishTool() *finishTool {
	return &finishTool{summary: new(string)}
}

func (t *finishTool) Name() string        { return "finish_consolidation" }
func (t *finishTool) Description() string { return "End the consolidation pass with a closing summary of what was learned." }
func (t *finishTool) GenerateSchema() *jsonschema.Schema {
	return jsonschema.Reflect(finishConsolidationParams{})
}

func (t *finishTool) Execute(ctx context.Context, parameters string) toolkit.Result {
	var p finishConsolidationParams
	if err := json.Unmarshal([]byte(parameters), &p); err != nil {
		return toolkit.ErrorResult(err)
	}
	*t.summary = p.Summary
	return toolkit.Result{Output: "consolidation finished"}
}
