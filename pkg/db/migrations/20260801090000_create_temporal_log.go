package migrations

import (
	"database/sql"

	"github.com/opencoder-agent/memcore/pkg/db"
	"github.com/pkg/errors"
)

// Migration20260801090000CreateTemporalLog creates the append-only message
// log, the order-N summary table, and an FTS5 index over message content.
func Migration20260801090000CreateTemporalLog() db.Migration {
	return db.Migration{
		Version:     20260801090000,
		Description: "Create temporal log (messages, summaries, message FTS index)",
		Up: func(tx *sql.Tx) error {
			if _, err := tx.Exec(`
				CREATE TABLE IF NOT EXISTS messages (
					id TEXT PRIMARY KEY,
					kind TEXT NOT NULL,
					content TEXT NOT NULL,
					tool_call_id TEXT NOT NULL DEFAULT '',
					tool_name TEXT NOT NULL DEFAULT '',
					token_estimate INTEGER NOT NULL,
					created_at DATETIME NOT NULL
				)
			`); err != nil {
				return errors.Wrap(err, "failed to create messages table")
			}

			if _, err := tx.Exec(`
				CREATE TABLE IF NOT EXISTS summaries (
					id TEXT PRIMARY KEY,
					order_n INTEGER NOT NULL,
					start_id TEXT NOT NULL,
					end_id TEXT NOT NULL,
					body TEXT NOT NULL,
					token_estimate INTEGER NOT NULL,
					subsumed_by TEXT,
					created_at DATETIME NOT NULL
				)
			`); err != nil {
				return errors.Wrap(err, "failed to create summaries table")
			}

			if _, err := tx.Exec(`
				CREATE INDEX IF NOT EXISTS idx_summaries_order_start ON summaries(order_n, start_id)
			`); err != nil {
				return errors.Wrap(err, "failed to create summaries order index")
			}

			if _, err := tx.Exec(`
				CREATE INDEX IF NOT EXISTS idx_summaries_subsumed_by ON summaries(subsumed_by)
			`); err != nil {
				return errors.Wrap(err, "failed to create summaries subsumed_by index")
			}

			if _, err := tx.Exec(`
				CREATE VIRTUAL TABLE IF NOT EXISTS messages_fts USING fts5(
					content,
					content='messages',
					content_rowid='rowid'
				)
			`); err != nil {
				return errors.Wrap(err, "failed to create messages_fts virtual table")
			}

			if _, err := tx.Exec(`
				CREATE TRIGGER IF NOT EXISTS messages_ai AFTER INSERT ON messages BEGIN
					INSERT INTO messages_fts(rowid, content) VALUES (new.rowid, new.content);
				END
			`); err != nil {
				return errors.Wrap(err, "failed to create messages_fts insert trigger")
			}

			return nil
		},
		Down: func(tx *sql.Tx) error {
			for _, stmt := range []string{
				"DROP TRIGGER IF EXISTS messages_ai",
				"DROP TABLE IF EXISTS messages_fts",
				"DROP INDEX IF EXISTS idx_summaries_subsumed_by",
				"DROP INDEX IF EXISTS idx_summaries_order_start",
				"DROP TABLE IF EXISTS summaries",
				"DROP TABLE IF EXISTS messages",
			} {
				if _, err := tx.Exec(stmt); err != nil {
					return errors.Wrap(err, "failed to roll back temporal log migration")
				}
			}
			return nil
		},
	}
}
