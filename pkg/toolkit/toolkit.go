// Package toolkit defines the tool interface and a dynamic registry
// sub-agents are handed, grounded on kodelet's pkg/types/tools: a
// schema-generating, context-executed Tool interface plus a
// structured result type. memcore's tool set is narrower than
// kodelet's — no shell/file-edit/web tools, since those are out of
// scope (spec.md §1) — but the shape is the same so a sub-agent
// invocation loop (external to this module) can drive it unchanged.
package toolkit

import (
	"context"
	"errors"

	"github.com/invopop/jsonschema"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/opencoder-agent/memcore/pkg/telemetry"
)

// Tool is one callable a sub-agent workload may invoke.
type Tool interface {
	Name() string
	Description() string
	GenerateSchema() *jsonschema.Schema
	Execute(ctx context.Context, parameters string) Result
}

// Result is the outcome of a tool invocation.
type Result struct {
	Output string
	Error  string
}

// AssistantFacing formats the result the way it should be handed back
// to the model as a tool-result content block.
func (r Result) AssistantFacing() string {
	if r.Error != "" {
		return "<error>\n" + r.Error + "\n</error>\n"
	}
	out := r.Output
	if out == "" {
		out = "(no output)"
	}
	return "<result>\n" + out + "\n</result>\n"
}

// IsError reports whether the invocation failed.
func (r Result) IsError() bool { return r.Error != "" }

// ErrorResult builds a Result carrying err's message.
func ErrorResult(err error) Result {
	if err == nil {
		return Result{}
	}
	return Result{Error: err.Error()}
}

// Registry is a dynamic set of tools available to a workload, keyed
// by name. Callers assemble a fresh Registry per sub-agent invocation
// (e.g. the LTM tool set for consolidation) rather than sharing one
// process-wide registry.
type Registry struct {
	tools map[string]Tool
	order []string
}

// NewRegistry builds a Registry from an initial tool set.
func NewRegistry(tools ...Tool) *Registry {
	r := &Registry{tools: make(map[string]Tool, len(tools))}
	for _, t := range tools {
		r.Register(t)
	}
	return r
}

// Register adds or replaces a tool by name.
func (r *Registry) Register(t Tool) {
	if _, exists := r.tools[t.Name()]; !exists {
		r.order = append(r.order, t.Name())
	}
	r.tools[t.Name()] = t
}

// Get looks up a tool by name.
func (r *Registry) Get(name string) (Tool, bool) {
	t, ok := r.tools[name]
	return t, ok
}

// List returns every registered tool in registration order.
func (r *Registry) List() []Tool {
	out := make([]Tool, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.tools[name])
	}
	return out
}

var tracer = telemetry.Tracer("memcore.toolkit")

// Execute dispatches parameters to the named tool, returning an error
// Result if the tool is unknown rather than panicking — sub-agent
// output is untrusted input.
func (r *Registry) Execute(ctx context.Context, name, parameters string) Result {
	t, ok := r.Get(name)
	if !ok {
		return Result{Error: "unknown tool: " + name}
	}

	ctx, span := tracer.Start(ctx, "toolkit.execute."+name, trace.WithAttributes(
		attribute.String("tool.name", name),
	))
	defer span.End()

	result := t.Execute(ctx, parameters)
	if result.IsError() {
		telemetry.RecordError(ctx, errors.New(result.Error))
	}
	return result
}
