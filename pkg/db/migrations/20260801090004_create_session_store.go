package migrations

import (
	"database/sql"

	"github.com/opencoder-agent/memcore/pkg/db"
	"github.com/pkg/errors"
)

// Migration20260801090004CreateSessionStore creates the singleton session
// key/value table that holds the session identity row plus CAST-provided
// overlays (system-prompt fragment, environment map).
func Migration20260801090004CreateSessionStore() db.Migration {
	return db.Migration{
		Version:     20260801090004,
		Description: "Create session key/value store",
		Up: func(tx *sql.Tx) error {
			if _, err := tx.Exec(`
				CREATE TABLE IF NOT EXISTS session_kv (
					key TEXT PRIMARY KEY,
					value TEXT NOT NULL,
					created_at DATETIME NOT NULL,
					updated_at DATETIME NOT NULL
				)
			`); err != nil {
				return errors.Wrap(err, "failed to create session_kv table")
			}
			return nil
		},
		Down: func(tx *sql.Tx) error {
			if _, err := tx.Exec("DROP TABLE IF EXISTS session_kv"); err != nil {
				return errors.Wrap(err, "failed to roll back session store migration")
			}
			return nil
		},
	}
}
