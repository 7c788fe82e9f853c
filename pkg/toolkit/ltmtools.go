package toolkit

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aymanbagabas/go-udiff"
	"github.com/invopop/jsonschema"

	"github.com/opencoder-agent/memcore/pkg/ltm"
	"github.com/opencoder-agent/memcore/pkg/store"
)

// NewLTMToolset builds the tool set consolidation hands to its
// sub-agent: {ltm_read, ltm_glob, ltm_search, ltm_create, ltm_update,
// ltm_edit, ltm_rename, ltm_reparent, ltm_archive} (spec.md §4.8).
// finish_consolidation is supplied separately by pkg/consolidate since
// it terminates the sub-agent loop rather than touching the tree.
func NewLTMToolset(tree *ltm.Tree) []Tool {
	return []Tool{
		&ltmReadTool{tree}, &ltmGlobTool{tree}, &ltmSearchTool{tree},
		&ltmCreateTool{tree}, &ltmUpdateTool{tree}, &ltmEditTool{tree},
		&ltmRenameTool{tree}, &ltmReparentTool{tree}, &ltmArchiveTool{tree},
	}
}

func schemaFor(v any) *jsonschema.Schema {
	return jsonschema.Reflect(v)
}

// conflictAsToolResult surfaces a CAS conflict as a textual tool
// result rather than an engine-level failure, per spec.md §4.8: "a
// conflict is surfaced to the sub-agent as a tool-result string so it
// can re-read and retry."
func conflictAsToolResult(err error) Result {
	if store.IsKind(err, store.KindConflict) {
		return Result{Error: "version conflict: re-read the entry and retry with its current version"}
	}
	return ErrorResult(err)
}

type ltmReadParams struct {
	Slug string `json:"slug"`
}

type ltmReadTool struct{ tree *ltm.Tree }

func (t *ltmReadTool) Name() string        { return "ltm_read" }
func (t *ltmReadTool) Description() string { return "Read a long-term memory entry by slug." }
func (t *ltmReadTool) GenerateSchema() *jsonschema.Schema { return schemaFor(ltmReadParams{}) }
func (t *ltmReadTool) Execute(ctx context.Context, parameters string) Result {
	var p ltmReadParams
	if err := json.Unmarshal([]byte(parameters), &p); err != nil {
		return ErrorResult(err)
	}
	e, err := t.tree.Read(ctx, p.Slug)
	if err != nil {
		return ErrorResult(err)
	}
	out, _ := json.Marshal(e)
	return Result{Output: string(out)}
}

type ltmGlobParams struct {
	Pattern string `json:"pattern"`
}

type ltmGlobTool struct{ tree *ltm.Tree }

func (t *ltmGlobTool) Name() string        { return "ltm_glob" }
func (t *ltmGlobTool) Description() string { return "List LTM entries whose path matches a glob pattern." }
func (t *ltmGlobTool) GenerateSchema() *jsonschema.Schema { return schemaFor(ltmGlobParams{}) }
func (t *ltmGlobTool) Execute(ctx context.Context, parameters string) Result {
	var p ltmGlobParams
	if err := json.Unmarshal([]byte(parameters), &p); err != nil {
		return ErrorResult(err)
	}
	entries, err := t.tree.Glob(ctx, p.Pattern)
	if err != nil {
		return ErrorResult(err)
	}
	out, _ := json.Marshal(entries)
	return Result{Output: string(out)}
}

type ltmSearchParams struct {
	Query      string `json:"query"`
	PathPrefix string `json:"path_prefix,omitempty"`
}

type ltmSearchTool struct{ tree *ltm.Tree }

func (t *ltmSearchTool) Name() string        { return "ltm_search" }
func (t *ltmSearchTool) Description() string { return "Full-text search LTM entry titles and bodies." }
func (t *ltmSearchTool) GenerateSchema() *jsonschema.Schema { return schemaFor(ltmSearchParams{}) }
func (t *ltmSearchTool) Execute(ctx context.Context, parameters string) Result {
	var p ltmSearchParams
	if err := json.Unmarshal([]byte(parameters), &p); err != nil {
		return ErrorResult(err)
	}
	hits, err := t.tree.Search(ctx, p.Query, p.PathPrefix, 20)
	if err != nil {
		return ErrorResult(err)
	}
	out, _ := json.Marshal(hits)
	return Result{Output: string(out)}
}

type ltmCreateParams struct {
	Slug       string   `json:"slug"`
	ParentSlug string   `json:"parent_slug,omitempty"`
	Title      string   `json:"title"`
	Body       string   `json:"body"`
	Tags       []string `json:"tags,omitempty"`
}

type ltmCreateTool struct{ tree *ltm.Tree }

func (t *ltmCreateTool) Name() string        { return "ltm_create" }
func (t *ltmCreateTool) Description() string { return "Create a new long-term memory entry." }
func (t *ltmCreateTool) GenerateSchema() *jsonschema.Schema { return schemaFor(ltmCreateParams{}) }
func (t *ltmCreateTool) Execute(ctx context.Context, parameters string) Result {
	var p ltmCreateParams
	if err := json.Unmarshal([]byte(parameters), &p); err != nil {
		return ErrorResult(err)
	}
	e, err := t.tree.Create(ctx, ltm.CreateInput{
		Slug: p.Slug, ParentSlug: p.ParentSlug, Title: p.Title, Body: p.Body,
		Tags: p.Tags, CreatedBy: "consolidation",
	})
	if err != nil {
		return conflictAsToolResult(err)
	}
	out, _ := json.Marshal(e)
	return Result{Output: string(out)}
}

type ltmUpdateParams struct {
	Slug            string `json:"slug"`
	NewBody         string `json:"new_body"`
	ExpectedVersion int    `json:"expected_version"`
}

type ltmUpdateTool struct{ tree *ltm.Tree }

func (t *ltmUpdateTool) Name() string        { return "ltm_update" }
func (t *ltmUpdateTool) Description() string { return "Replace an LTM entry's body, guarded by CAS version." }
func (t *ltmUpdateTool) GenerateSchema() *jsonschema.Schema { return schemaFor(ltmUpdateParams{}) }
func (t *ltmUpdateTool) Execute(ctx context.Context, parameters string) Result {
	var p ltmUpdateParams
	if err := json.Unmarshal([]byte(parameters), &p); err != nil {
		return ErrorResult(err)
	}
	before, err := t.tree.Read(ctx, p.Slug)
	if err != nil {
		return ErrorResult(err)
	}
	e, err := t.tree.Update(ctx, p.Slug, p.NewBody, p.ExpectedVersion, "consolidation")
	if err != nil {
		return conflictAsToolResult(err)
	}
	return Result{Output: string(mustJSON(e)) + "\n" + bodyDiff(p.Slug, before.Body, e.Body)}
}

type ltmEditParams struct {
	Slug            string `json:"slug"`
	Find            string `json:"find"`
	Replace         string `json:"replace"`
	ExpectedVersion int    `json:"expected_version"`
}

type ltmEditTool struct{ tree *ltm.Tree }

func (t *ltmEditTool) Name() string        { return "ltm_edit" }
func (t *ltmEditTool) Description() string {
	return "Replace one exact occurrence of text in an LTM entry's body, guarded by CAS version."
}
func (t *ltmEditTool) GenerateSchema() *jsonschema.Schema { return schemaFor(ltmEditParams{}) }
func (t *ltmEditTool) Execute(ctx context.Context, parameters string) Result {
	var p ltmEditParams
	if err := json.Unmarshal([]byte(parameters), &p); err != nil {
		return ErrorResult(err)
	}
	before, err := t.tree.Read(ctx, p.Slug)
	if err != nil {
		return ErrorResult(err)
	}
	e, err := t.tree.Edit(ctx, p.Slug, p.Find, p.Replace, p.ExpectedVersion, "consolidation")
	if err != nil {
		return conflictAsToolResult(err)
	}
	return Result{Output: string(mustJSON(e)) + "\n" + bodyDiff(p.Slug, before.Body, e.Body)}
}

// bodyDiff renders the unified diff between an LTM entry's body before
// and after a mutation, the same way kodelet's apply_patch tool reports
// the effect of a file edit back to the calling sub-agent.
func bodyDiff(slug, oldBody, newBody string) string {
	return fmt.Sprintf("%s", udiff.Unified(slug+"#before", slug+"#after", oldBody, newBody))
}

func mustJSON(v any) []byte {
	out, _ := json.Marshal(v)
	return out
}

type ltmRenameParams struct {
	Slug            string `json:"slug"`
	NewSlug         string `json:"new_slug"`
	ExpectedVersion int    `json:"expected_version"`
}

type ltmRenameTool struct{ tree *ltm.Tree }

func (t *ltmRenameTool) Name() string        { return "ltm_rename" }
func (t *ltmRenameTool) Description() string { return "Rename an LTM entry, updating descendant paths." }
func (t *ltmRenameTool) GenerateSchema() *jsonschema.Schema { return schemaFor(ltmRenameParams{}) }
func (t *ltmRenameTool) Execute(ctx context.Context, parameters string) Result {
	var p ltmRenameParams
	if err := json.Unmarshal([]byte(parameters), &p); err != nil {
		return ErrorResult(err)
	}
	e, err := t.tree.Rename(ctx, p.Slug, p.NewSlug, p.ExpectedVersion, "consolidation")
	if err != nil {
		return conflictAsToolResult(err)
	}
	out, _ := json.Marshal(e)
	return Result{Output: string(out)}
}

type ltmReparentParams struct {
	Slug            string `json:"slug"`
	NewParentSlug   string `json:"new_parent_slug"`
	ExpectedVersion int    `json:"expected_version"`
}

type ltmReparentTool struct{ tree *ltm.Tree }

func (t *ltmReparentTool) Name() string        { return "ltm_reparent" }
func (t *ltmReparentTool) Description() string { return "Move an LTM entry under a new parent." }
func (t *ltmReparentTool) GenerateSchema() *jsonschema.Schema { return schemaFor(ltmReparentParams{}) }
func (t *ltmReparentTool) Execute(ctx context.Context, parameters string) Result {
	var p ltmReparentParams
	if err := json.Unmarshal([]byte(parameters), &p); err != nil {
		return ErrorResult(err)
	}
	e, err := t.tree.Reparent(ctx, p.Slug, p.NewParentSlug, p.ExpectedVersion, "consolidation")
	if err != nil {
		return conflictAsToolResult(err)
	}
	out, _ := json.Marshal(e)
	return Result{Output: string(out)}
}

type ltmArchiveParams struct {
	Slug            string `json:"slug"`
	ExpectedVersion int    `json:"expected_version"`
}

type ltmArchiveTool struct{ tree *ltm.Tree }

func (t *ltmArchiveTool) Name() string        { return "ltm_archive" }
func (t *ltmArchiveTool) Description() string { return "Archive an LTM entry, hiding it from reads and search." }
func (t *ltmArchiveTool) GenerateSchema() *jsonschema.Schema { return schemaFor(ltmArchiveParams{}) }
func (t *ltmArchiveTool) Execute(ctx context.Context, parameters string) Result {
	var p ltmArchiveParams
	if err := json.Unmarshal([]byte(parameters), &p); err != nil {
		return ErrorResult(err)
	}
	if err := t.tree.Archive(ctx, p.Slug, p.ExpectedVersion); err != nil {
		return conflictAsToolResult(err)
	}
	return Result{Output: "archived"}
}
