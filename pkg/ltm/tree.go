package ltm

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/opencoder-agent/memcore/pkg/ltm/seed"
	"github.com/opencoder-agent/memcore/pkg/logger"
	"github.com/opencoder-agent/memcore/pkg/store"
)

// Tree is the LTM forest backed by a *store.Store.
type Tree struct {
	db *sqlx.DB
}

// New wraps s as a Tree.
func New(s *store.Store) *Tree {
	return &Tree{db: s.DB}
}

// SeedDefaults ensures the two always-present root entries (identity,
// behavior) exist, creating them with their default bodies if absent.
func (t *Tree) SeedDefaults(ctx context.Context, createdBy string) error {
	for _, slug := range []string{RootIdentity, RootBehavior} {
		_, err := t.Read(ctx, slug)
		if err == nil {
			continue
		}
		if !store.IsKind(err, store.KindNotFound) {
			return err
		}
		s, ok, err := seed.For(slug)
		if err != nil {
			return err
		}
		title, body, tags := slug, "", []string(nil)
		if ok {
			title, body, tags = s.Title, s.Body, s.Tags
		}
		_, err = t.Create(ctx, CreateInput{
			Slug:      slug,
			Title:     title,
			Body:      body,
			Tags:      tags,
			CreatedBy: createdBy,
		})
		if err != nil {
			return err
		}
	}
	return nil
}

func computePath(parentPath, slug string) string {
	if parentPath == "" {
		return "/" + slug
	}
	return parentPath + "/" + slug
}

// Create inserts a new entry. Fails with KindConflict("already_exists") if
// slug exists, KindNotFound if parent_slug is set but doesn't resolve.
func (t *Tree) Create(ctx context.Context, in CreateInput) (Entry, error) {
	if _, err := t.rawRead(ctx, in.Slug, true); err == nil {
		return Entry{}, store.NewFailure(store.KindConflict, "ltm.Create.already_exists", nil)
	}

	var parentPath string
	var parentSlug *string
	if in.ParentSlug != "" {
		parent, err := t.rawRead(ctx, in.ParentSlug, true)
		if err != nil {
			return Entry{}, store.NewFailure(store.KindNotFound, "ltm.Create.parent_not_found", nil)
		}
		parentPath = parent.Path
		parentSlug = &in.ParentSlug
	}

	tags, _ := json.Marshal(in.Tags)
	now := time.Now().UTC()
	e := Entry{
		Slug:       in.Slug,
		ParentSlug: parentSlug,
		Path:       computePath(parentPath, in.Slug),
		Title:      in.Title,
		Body:       in.Body,
		TagsJSON:   string(tags),
		Version:    1,
		CreatedBy:  in.CreatedBy,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	_, err := t.db.ExecContext(ctx, `
		INSERT INTO ltm_entries (slug, parent_slug, path, title, body, tags, version, created_by, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, e.Slug, e.ParentSlug, e.Path, e.Title, e.Body, e.TagsJSON, e.Version, e.CreatedBy, e.CreatedAt, e.UpdatedAt)
	if err != nil {
		return Entry{}, store.NewFailure(store.KindIO, "ltm.Create", err)
	}

	logger.G(ctx).WithField("slug", e.Slug).Debug("created ltm entry")
	return e, nil
}

// rawRead reads an entry by slug. includeArchived controls whether an
// archived row is still returned (used internally for slug-collision and
// ancestry checks, where archived slugs still count).
func (t *Tree) rawRead(ctx context.Context, slug string, includeArchived bool) (Entry, error) {
	var e Entry
	err := t.db.GetContext(ctx, &e, `SELECT * FROM ltm_entries WHERE slug = ?`, slug)
	if err != nil {
		return Entry{}, store.NewFailure(store.KindNotFound, "ltm.rawRead", err)
	}
	if !includeArchived && e.Archived() {
		return Entry{}, store.NewFailure(store.KindNotFound, "ltm.rawRead.archived", nil)
	}
	return e, nil
}

// Read returns the entry for slug, or a KindNotFound failure if it is
// absent or archived.
func (t *Tree) Read(ctx context.Context, slug string) (Entry, error) {
	return t.rawRead(ctx, slug, false)
}

// Update performs a CAS body update: fails with KindConflict if
// expectedVersion doesn't match the stored version.
func (t *Tree) Update(ctx context.Context, slug, newBody string, expectedVersion int, updatedBy string) (Entry, error) {
	e, err := t.Read(ctx, slug)
	if err != nil {
		return Entry{}, err
	}
	if e.Version != expectedVersion {
		return Entry{}, store.NewFailure(store.KindConflict, "ltm.Update", nil)
	}

	res, err := t.db.ExecContext(ctx, `
		UPDATE ltm_entries SET body = ?, version = version + 1, updated_at = ?
		WHERE slug = ? AND version = ?
	`, newBody, time.Now().UTC(), slug, expectedVersion)
	if err != nil {
		return Entry{}, store.NewFailure(store.KindIO, "ltm.Update", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return Entry{}, store.NewFailure(store.KindConflict, "ltm.Update.race", nil)
	}

	return t.Read(ctx, slug)
}

// Edit computes the new body by requiring find to appear exactly once in
// the current body, then performs the same CAS update as Update. Fails
// with a dedicated not_found_in_body / ambiguous failure otherwise.
func (t *Tree) Edit(ctx context.Context, slug, find, replace string, expectedVersion int, updatedBy string) (Entry, error) {
	e, err := t.Read(ctx, slug)
	if err != nil {
		return Entry{}, err
	}
	if e.Version != expectedVersion {
		return Entry{}, store.NewFailure(store.KindConflict, "ltm.Edit", nil)
	}

	count := strings.Count(e.Body, find)
	switch count {
	case 0:
		return Entry{}, store.NewFailure(store.KindNotFound, "ltm.Edit.not_found_in_body", nil)
	case 1:
		// proceeds below
	default:
		return Entry{}, store.NewFailure(store.KindConflict, "ltm.Edit.ambiguous", nil)
	}

	newBody := strings.Replace(e.Body, find, replace, 1)
	return t.Update(ctx, slug, newBody, expectedVersion, updatedBy)
}

// descendants returns every entry (including archived) whose path is
// nested under parent's path, deepest last is not guaranteed.
func (t *Tree) descendants(ctx context.Context, parentPath string) ([]Entry, error) {
	var entries []Entry
	err := t.db.SelectContext(ctx, &entries, `
		SELECT * FROM ltm_entries WHERE path LIKE ?
	`, parentPath+"/%")
	if err != nil {
		return nil, store.NewFailure(store.KindIO, "ltm.descendants", err)
	}
	return entries, nil
}

// isDescendant reports whether candidateSlug's entry is nested under
// ancestorSlug's path (or is ancestorSlug itself).
func (t *Tree) isDescendant(ctx context.Context, ancestorSlug, candidateSlug string) (bool, error) {
	if ancestorSlug == candidateSlug {
		return true, nil
	}
	ancestor, err := t.rawRead(ctx, ancestorSlug, true)
	if err != nil {
		return false, err
	}
	candidate, err := t.rawRead(ctx, candidateSlug, true)
	if err != nil {
		return false, err
	}
	return strings.HasPrefix(candidate.Path, ancestor.Path+"/"), nil
}

// Rename changes slug's own identifier, updating its direct children's
// parent_slug and every descendant's materialized path in one transaction.
// Fails with KindConflict if newSlug already exists.
func (t *Tree) Rename(ctx context.Context, slug, newSlug string, expectedVersion int, updatedBy string) (Entry, error) {
	e, err := t.Read(ctx, slug)
	if err != nil {
		return Entry{}, err
	}
	if e.Version != expectedVersion {
		return Entry{}, store.NewFailure(store.KindConflict, "ltm.Rename", nil)
	}
	if _, err := t.rawRead(ctx, newSlug, true); err == nil {
		return Entry{}, store.NewFailure(store.KindConflict, "ltm.Rename.target_exists", nil)
	}

	oldPath := e.Path
	parentPath := oldPath[:len(oldPath)-len("/"+slug)]
	newPath := computePath(parentPath, newSlug)

	descendants, err := t.descendants(ctx, oldPath)
	if err != nil {
		return Entry{}, err
	}

	txErr := withTx(ctx, t.db, func(tx *sqlx.Tx) error {
		now := time.Now().UTC()
		if _, err := tx.ExecContext(ctx, `
			UPDATE ltm_entries SET slug = ?, path = ?, version = version + 1, updated_at = ?
			WHERE slug = ? AND version = ?
		`, newSlug, newPath, now, slug, expectedVersion); err != nil {
			return store.NewFailure(store.KindIO, "ltm.Rename.self", err)
		}

		if _, err := tx.ExecContext(ctx, `
			UPDATE ltm_entries SET parent_slug = ? WHERE parent_slug = ?
		`, newSlug, slug); err != nil {
			return store.NewFailure(store.KindIO, "ltm.Rename.children", err)
		}

		for _, d := range descendants {
			updatedPath := newPath + strings.TrimPrefix(d.Path, oldPath)
			if _, err := tx.ExecContext(ctx, `
				UPDATE ltm_entries SET path = ?, updated_at = ? WHERE slug = ?
			`, updatedPath, now, d.Slug); err != nil {
				return store.NewFailure(store.KindIO, "ltm.Rename.descendant", err)
			}
		}
		return nil
	})
	if txErr != nil {
		return Entry{}, txErr
	}

	return t.rawRead(ctx, newSlug, true)
}

// Reparent moves slug under newParentSlug, rejecting the move if that
// would create a cycle (newParentSlug is slug itself or one of its
// descendants), and updates every descendant path atomically.
func (t *Tree) Reparent(ctx context.Context, slug, newParentSlug string, expectedVersion int, updatedBy string) (Entry, error) {
	e, err := t.Read(ctx, slug)
	if err != nil {
		return Entry{}, err
	}
	if e.Version != expectedVersion {
		return Entry{}, store.NewFailure(store.KindConflict, "ltm.Reparent", nil)
	}

	cycle, err := t.isDescendant(ctx, slug, newParentSlug)
	if err != nil {
		return Entry{}, err
	}
	if cycle {
		return Entry{}, store.NewFailure(store.KindConflict, "ltm.Reparent.cycle", nil)
	}

	newParent, err := t.rawRead(ctx, newParentSlug, true)
	if err != nil {
		return Entry{}, store.NewFailure(store.KindNotFound, "ltm.Reparent.parent_not_found", nil)
	}

	oldPath := e.Path
	newPath := computePath(newParent.Path, slug)

	descendants, err := t.descendants(ctx, oldPath)
	if err != nil {
		return Entry{}, err
	}

	txErr := withTx(ctx, t.db, func(tx *sqlx.Tx) error {
		now := time.Now().UTC()
		if _, err := tx.ExecContext(ctx, `
			UPDATE ltm_entries SET parent_slug = ?, path = ?, version = version + 1, updated_at = ?
			WHERE slug = ? AND version = ?
		`, newParentSlug, newPath, now, slug, expectedVersion); err != nil {
			return store.NewFailure(store.KindIO, "ltm.Reparent.self", err)
		}

		for _, d := range descendants {
			updatedPath := newPath + strings.TrimPrefix(d.Path, oldPath)
			if _, err := tx.ExecContext(ctx, `
				UPDATE ltm_entries SET path = ?, updated_at = ? WHERE slug = ?
			`, updatedPath, now, d.Slug); err != nil {
				return store.NewFailure(store.KindIO, "ltm.Reparent.descendant", err)
			}
		}
		return nil
	})
	if txErr != nil {
		return Entry{}, txErr
	}

	return t.rawRead(ctx, slug, true)
}

// Archive sets archived_at, hiding the entry from read/glob/search while
// retaining the row for audit and [[slug]] link integrity.
func (t *Tree) Archive(ctx context.Context, slug string, expectedVersion int) error {
	res, err := t.db.ExecContext(ctx, `
		UPDATE ltm_entries SET archived_at = ?, version = version + 1, updated_at = ?
		WHERE slug = ? AND version = ? AND archived_at IS NULL
	`, time.Now().UTC(), time.Now().UTC(), slug, expectedVersion)
	if err != nil {
		return store.NewFailure(store.KindIO, "ltm.Archive", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return store.NewFailure(store.KindConflict, "ltm.Archive", nil)
	}
	return nil
}

func withTx(ctx context.Context, db *sqlx.DB, fn func(tx *sqlx.Tx) error) error {
	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return store.NewFailure(store.KindIO, "ltm.withTx.begin", err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return store.NewFailure(store.KindIO, "ltm.withTx.commit", err)
	}
	return nil
}
