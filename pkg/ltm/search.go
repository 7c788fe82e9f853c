package ltm

import (
	"strings"

	"context"

	"github.com/opencoder-agent/memcore/pkg/store"
)

// SearchFTS performs a keyword search over (title, body) for non-archived
// entries, returning hits ranked by relevance with a snippet carrying
// explicit match markers (">>>term<<<").
func (t *Tree) SearchFTS(ctx context.Context, query string, limit int) ([]SearchHit, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := t.db.QueryContext(ctx, `
		SELECT e.slug, snippet(ltm_fts, 1, '>>>', '<<<', '...', 12) AS snip
		FROM ltm_fts
		JOIN ltm_entries e ON e.rowid = ltm_fts.rowid
		WHERE ltm_fts MATCH ? AND e.archived_at IS NULL
		ORDER BY bm25(ltm_fts)
		LIMIT ?
	`, query, limit)
	if err != nil {
		return nil, store.NewFailure(store.KindIO, "ltm.SearchFTS", err)
	}
	defer rows.Close()

	var hits []SearchHit
	for rows.Next() {
		var h SearchHit
		if err := rows.Scan(&h.Slug, &h.Snippet); err != nil {
			return nil, store.NewFailure(store.KindIO, "ltm.SearchFTS.scan", err)
		}
		hits = append(hits, h)
	}
	return hits, rows.Err()
}

// Search is SearchFTS narrowed to entries whose path begins with
// pathPrefix (pass "" to search the whole tree).
func (t *Tree) Search(ctx context.Context, query, pathPrefix string, limit int) ([]SearchHit, error) {
	hits, err := t.SearchFTS(ctx, query, limit)
	if err != nil || pathPrefix == "" {
		return hits, err
	}

	var filtered []SearchHit
	for _, h := range hits {
		e, err := t.rawRead(ctx, h.Slug, false)
		if err != nil {
			continue
		}
		if strings.HasPrefix(e.Path, pathPrefix) {
			filtered = append(filtered, h)
		}
	}
	return filtered, nil
}
