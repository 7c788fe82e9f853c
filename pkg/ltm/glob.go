package ltm

import (
	"context"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/opencoder-agent/memcore/pkg/store"
)

// Glob returns non-archived entries whose materialized path matches
// pattern. Patterns use doublestar syntax: "*" matches within a path
// segment, "**" matches across segments, "/**" matches everything.
func (t *Tree) Glob(ctx context.Context, pattern string) ([]Entry, error) {
	var entries []Entry
	err := t.db.SelectContext(ctx, &entries, `
		SELECT * FROM ltm_entries WHERE archived_at IS NULL ORDER BY path ASC
	`)
	if err != nil {
		return nil, store.NewFailure(store.KindIO, "ltm.Glob", err)
	}

	if pattern == "/**" || pattern == "**" {
		return entries, nil
	}

	// doublestar matches without a leading slash; our paths always start
	// with one, so trim it from both pattern and candidate before matching.
	matchPattern := trimLeadingSlash(pattern)

	var out []Entry
	for _, e := range entries {
		ok, err := doublestar.Match(matchPattern, trimLeadingSlash(e.Path))
		if err != nil {
			return nil, store.NewFailure(store.KindSchema, "ltm.Glob.pattern", err)
		}
		if ok {
			out = append(out, e)
		}
	}
	return out, nil
}

func trimLeadingSlash(s string) string {
	if len(s) > 0 && s[0] == '/' {
		return s[1:]
	}
	return s
}
