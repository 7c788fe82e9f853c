package migrations

import (
	"database/sql"

	"github.com/opencoder-agent/memcore/pkg/db"
	"github.com/pkg/errors"
)

// Migration20260801090001CreateLTMTree creates the versioned, hierarchical
// long-term memory entry table and an FTS5 index over (title, body).
func Migration20260801090001CreateLTMTree() db.Migration {
	return db.Migration{
		Version:     20260801090001,
		Description: "Create LTM tree (ltm_entries, ltm FTS index)",
		Up: func(tx *sql.Tx) error {
			if _, err := tx.Exec(`
				CREATE TABLE IF NOT EXISTS ltm_entries (
					slug TEXT PRIMARY KEY,
					parent_slug TEXT,
					path TEXT NOT NULL,
					title TEXT NOT NULL,
					body TEXT NOT NULL,
					tags TEXT NOT NULL DEFAULT '[]',
					version INTEGER NOT NULL,
					archived_at DATETIME,
					created_by TEXT NOT NULL,
					created_at DATETIME NOT NULL,
					updated_at DATETIME NOT NULL,
					FOREIGN KEY (parent_slug) REFERENCES ltm_entries(slug)
				)
			`); err != nil {
				return errors.Wrap(err, "failed to create ltm_entries table")
			}

			for _, idx := range []string{
				"CREATE INDEX IF NOT EXISTS idx_ltm_parent_slug ON ltm_entries(parent_slug)",
				"CREATE INDEX IF NOT EXISTS idx_ltm_path ON ltm_entries(path)",
				"CREATE INDEX IF NOT EXISTS idx_ltm_archived_at ON ltm_entries(archived_at)",
			} {
				if _, err := tx.Exec(idx); err != nil {
					return errors.Wrap(err, "failed to create ltm_entries index")
				}
			}

			if _, err := tx.Exec(`
				CREATE VIRTUAL TABLE IF NOT EXISTS ltm_fts USING fts5(
					title,
					body,
					content='ltm_entries',
					content_rowid='rowid'
				)
			`); err != nil {
				return errors.Wrap(err, "failed to create ltm_fts virtual table")
			}

			triggers := []string{
				`CREATE TRIGGER IF NOT EXISTS ltm_ai AFTER INSERT ON ltm_entries BEGIN
					INSERT INTO ltm_fts(rowid, title, body) VALUES (new.rowid, new.title, new.body);
				END`,
				`CREATE TRIGGER IF NOT EXISTS ltm_ad AFTER DELETE ON ltm_entries BEGIN
					INSERT INTO ltm_fts(ltm_fts, rowid, title, body) VALUES ('delete', old.rowid, old.title, old.body);
				END`,
				`CREATE TRIGGER IF NOT EXISTS ltm_au AFTER UPDATE ON ltm_entries BEGIN
					INSERT INTO ltm_fts(ltm_fts, rowid, title, body) VALUES ('delete', old.rowid, old.title, old.body);
					INSERT INTO ltm_fts(rowid, title, body) VALUES (new.rowid, new.title, new.body);
				END`,
			}
			for _, trg := range triggers {
				if _, err := tx.Exec(trg); err != nil {
					return errors.Wrap(err, "failed to create ltm_fts trigger")
				}
			}

			return nil
		},
		Down: func(tx *sql.Tx) error {
			for _, stmt := range []string{
				"DROP TRIGGER IF EXISTS ltm_au",
				"DROP TRIGGER IF EXISTS ltm_ad",
				"DROP TRIGGER IF EXISTS ltm_ai",
				"DROP TABLE IF EXISTS ltm_fts",
				"DROP INDEX IF EXISTS idx_ltm_archived_at",
				"DROP INDEX IF EXISTS idx_ltm_path",
				"DROP INDEX IF EXISTS idx_ltm_parent_slug",
				"DROP TABLE IF EXISTS ltm_entries",
			} {
				if _, err := tx.Exec(stmt); err != nil {
					return errors.Wrap(err, "failed to roll back ltm tree migration")
				}
			}
			return nil
		},
	}
}
