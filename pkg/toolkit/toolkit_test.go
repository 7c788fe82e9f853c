package toolkit

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/invopop/jsonschema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opencoder-agent/memcore/pkg/ltm"
	"github.com/opencoder-agent/memcore/pkg/store"
)

type stubTool struct {
	name string
	out  string
}

func (s stubTool) Name() string                             { return s.name }
func (s stubTool) Description() string                      { return "stub" }
func (s stubTool) GenerateSchema() *jsonschema.Schema        { return jsonschema.Reflect(struct{}{}) }
func (s stubTool) Execute(_ context.Context, _ string) Result { return Result{Output: s.out} }

func TestRegistryDispatchesByName(t *testing.T) {
	r := NewRegistry()
	r.Register(stubTool{name: "echo", out: "hi"})

	res := r.Execute(context.Background(), "echo", "")
	assert.Equal(t, "hi", res.Output)

	res = r.Execute(context.Background(), "missing", "")
	assert.True(t, res.IsError())
}

func TestResultAssistantFacing(t *testing.T) {
	assert.Contains(t, Result{Output: "ok"}.AssistantFacing(), "<result>")
	assert.Contains(t, Result{Error: "bad"}.AssistantFacing(), "<error>")
}

func newTestTree(t *testing.T) *ltm.Tree {
	t.Helper()
	ctx := context.Background()
	s, err := store.OpenMemory(ctx)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return ltm.New(s)
}

func TestLTMCreateAndReadTools(t *testing.T) {
	tree := newTestTree(t)
	reg := NewRegistry(NewLTMToolset(tree)...)
	ctx := context.Background()

	createParams, _ := json.Marshal(ltmCreateParams{Slug: "x", Title: "X", Body: "body"})
	res := reg.Execute(ctx, "ltm_create", string(createParams))
	require.False(t, res.IsError(), res.Error)

	readParams, _ := json.Marshal(ltmReadParams{Slug: "x"})
	res = reg.Execute(ctx, "ltm_read", string(readParams))
	require.False(t, res.IsError(), res.Error)
	assert.Contains(t, res.Output, "body")
}

func TestLTMUpdateSurfacesConflictAsToolResult(t *testing.T) {
	tree := newTestTree(t)
	reg := NewRegistry(NewLTMToolset(tree)...)
	ctx := context.Background()

	createParams, _ := json.Marshal(ltmCreateParams{Slug: "x", Title: "X", Body: "v1"})
	reg.Execute(ctx, "ltm_create", string(createParams))

	updateParams, _ := json.Marshal(ltmUpdateParams{Slug: "x", NewBody: "v2", ExpectedVersion: 99})
	res := reg.Execute(ctx, "ltm_update", string(updateParams))
	assert.True(t, res.IsError())
	assert.Contains(t, res.Error, "conflict")
}
