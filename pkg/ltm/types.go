// Package ltm implements the versioned, hierarchical long-term memory store
// (spec.md §3, §4.4): CAS-guarded entries forming a forest, materialized
// paths kept consistent under rename/reparent, glob and full-text search,
// and archival rather than deletion.
package ltm

import "time"

// Entry is one node in the LTM forest.
type Entry struct {
	Slug       string     `db:"slug"`
	ParentSlug *string    `db:"parent_slug"`
	Path       string     `db:"path"`
	Title      string     `db:"title"`
	Body       string     `db:"body"`
	TagsJSON   string     `db:"tags"`
	Version    int        `db:"version"`
	ArchivedAt *time.Time `db:"archived_at"`
	CreatedBy  string     `db:"created_by"`
	CreatedAt  time.Time  `db:"created_at"`
	UpdatedAt  time.Time  `db:"updated_at"`
}

// Archived reports whether the entry is archived (invisible to read/glob/search).
func (e Entry) Archived() bool { return e.ArchivedAt != nil }

// SearchHit is a full-text search result over (title, body).
type SearchHit struct {
	Slug    string
	Snippet string
}

// CreateInput is the payload for Create.
type CreateInput struct {
	Slug       string
	ParentSlug string // empty for a root entry
	Title      string
	Body       string
	Tags       []string
	CreatedBy  string
}

// Default root entries that must always exist (spec.md §3). Their
// bodies live in pkg/ltm/seed as embedded markdown+frontmatter files.
const (
	RootIdentity = "identity"
	RootBehavior = "behavior"
)
