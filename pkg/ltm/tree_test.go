package ltm

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opencoder-agent/memcore/pkg/store"
)

func newTestTree(t *testing.T) *Tree {
	t.Helper()
	ctx := context.Background()
	s, err := store.OpenMemory(ctx)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return New(s)
}

func TestSeedDefaultsCreatesIdentityAndBehavior(t *testing.T) {
	tree := newTestTree(t)
	ctx := context.Background()

	require.NoError(t, tree.SeedDefaults(ctx, "system"))

	identity, err := tree.Read(ctx, RootIdentity)
	require.NoError(t, err)
	assert.NotEmpty(t, identity.Body)

	behavior, err := tree.Read(ctx, RootBehavior)
	require.NoError(t, err)
	assert.NotEmpty(t, behavior.Body)

	// Idempotent: running again must not fail or duplicate.
	require.NoError(t, tree.SeedDefaults(ctx, "system"))
}

func TestCreateRejectsDuplicateSlug(t *testing.T) {
	tree := newTestTree(t)
	ctx := context.Background()

	_, err := tree.Create(ctx, CreateInput{Slug: "x", Title: "X", Body: "body", CreatedBy: "tester"})
	require.NoError(t, err)

	_, err = tree.Create(ctx, CreateInput{Slug: "x", Title: "X2", Body: "body2", CreatedBy: "tester"})
	require.Error(t, err)
	assert.True(t, store.IsKind(err, store.KindConflict))
}

func TestUpdateCASConflict(t *testing.T) {
	tree := newTestTree(t)
	ctx := context.Background()

	_, err := tree.Create(ctx, CreateInput{Slug: "x", Title: "X", Body: "v1", CreatedBy: "tester"})
	require.NoError(t, err)

	_, err = tree.Update(ctx, "x", "v2-a", 1, "tester")
	require.NoError(t, err)

	_, err = tree.Update(ctx, "x", "v2-b", 1, "tester")
	require.Error(t, err)
	assert.True(t, store.IsKind(err, store.KindConflict))

	e, err := tree.Read(ctx, "x")
	require.NoError(t, err)
	assert.Equal(t, "v2-a", e.Body)
	assert.Equal(t, 2, e.Version)
}

func TestEditRequiresExactlyOneMatch(t *testing.T) {
	tree := newTestTree(t)
	ctx := context.Background()

	_, err := tree.Create(ctx, CreateInput{Slug: "x", Title: "X", Body: "foo bar foo", CreatedBy: "tester"})
	require.NoError(t, err)

	_, err = tree.Edit(ctx, "x", "foo", "baz", 1, "tester")
	require.Error(t, err) // ambiguous: "foo" appears twice

	_, err = tree.Edit(ctx, "x", "missing", "baz", 1, "tester")
	require.Error(t, err) // not found in body

	_, err = tree.Edit(ctx, "x", "bar", "baz", 1, "tester")
	require.NoError(t, err)

	e, err := tree.Read(ctx, "x")
	require.NoError(t, err)
	assert.Equal(t, "foo baz foo", e.Body)
}

func TestRenameUpdatesDescendantPaths(t *testing.T) {
	tree := newTestTree(t)
	ctx := context.Background()

	_, err := tree.Create(ctx, CreateInput{Slug: "a", Title: "A", Body: "a", CreatedBy: "tester"})
	require.NoError(t, err)
	_, err = tree.Create(ctx, CreateInput{Slug: "b", ParentSlug: "a", Title: "B", Body: "b", CreatedBy: "tester"})
	require.NoError(t, err)
	_, err = tree.Create(ctx, CreateInput{Slug: "c", ParentSlug: "b", Title: "C", Body: "c", CreatedBy: "tester"})
	require.NoError(t, err)

	_, err = tree.Rename(ctx, "a", "aa", 1, "tester")
	require.NoError(t, err)

	b, err := tree.Read(ctx, "b")
	require.NoError(t, err)
	assert.Equal(t, "/aa/b", b.Path)
	assert.Equal(t, "aa", *b.ParentSlug)

	c, err := tree.Read(ctx, "c")
	require.NoError(t, err)
	assert.Equal(t, "/aa/b/c", c.Path)
}

func TestReparentRejectsCycle(t *testing.T) {
	tree := newTestTree(t)
	ctx := context.Background()

	_, err := tree.Create(ctx, CreateInput{Slug: "a", Title: "A", Body: "a", CreatedBy: "tester"})
	require.NoError(t, err)
	_, err = tree.Create(ctx, CreateInput{Slug: "b", ParentSlug: "a", Title: "B", Body: "b", CreatedBy: "tester"})
	require.NoError(t, err)
	_, err = tree.Create(ctx, CreateInput{Slug: "c", ParentSlug: "b", Title: "C", Body: "c", CreatedBy: "tester"})
	require.NoError(t, err)

	_, err = tree.Reparent(ctx, "a", "c", 1, "tester")
	require.Error(t, err)
	assert.True(t, store.IsKind(err, store.KindConflict))

	// Tree unchanged.
	a, err := tree.Read(ctx, "a")
	require.NoError(t, err)
	assert.Nil(t, a.ParentSlug)
	assert.Equal(t, 1, a.Version)
}

func TestArchiveHidesFromReadAndGlob(t *testing.T) {
	tree := newTestTree(t)
	ctx := context.Background()

	_, err := tree.Create(ctx, CreateInput{Slug: "x", Title: "X", Body: "v1", CreatedBy: "tester"})
	require.NoError(t, err)

	require.NoError(t, tree.Archive(ctx, "x", 1))

	_, err = tree.Read(ctx, "x")
	require.Error(t, err)
	assert.True(t, store.IsKind(err, store.KindNotFound))

	entries, err := tree.Glob(ctx, "/**")
	require.NoError(t, err)
	for _, e := range entries {
		assert.NotEqual(t, "x", e.Slug)
	}
}

func TestGlobMatchesNestedSegments(t *testing.T) {
	tree := newTestTree(t)
	ctx := context.Background()

	_, err := tree.Create(ctx, CreateInput{Slug: "projects", Title: "Projects", Body: "", CreatedBy: "tester"})
	require.NoError(t, err)
	_, err = tree.Create(ctx, CreateInput{Slug: "widget", ParentSlug: "projects", Title: "Widget", Body: "", CreatedBy: "tester"})
	require.NoError(t, err)

	entries, err := tree.Glob(ctx, "/projects/*")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "widget", entries[0].Slug)
}

func TestSearchFTSMatchesBody(t *testing.T) {
	tree := newTestTree(t)
	ctx := context.Background()

	_, err := tree.Create(ctx, CreateInput{Slug: "x", Title: "X", Body: "the user prefers tabs over spaces", CreatedBy: "tester"})
	require.NoError(t, err)

	hits, err := tree.SearchFTS(ctx, "tabs", 10)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "x", hits[0].Slug)
	assert.Contains(t, hits[0].Snippet, ">>>tabs<<<")
}
