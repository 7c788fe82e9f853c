package migrations

import (
	"database/sql"

	"github.com/opencoder-agent/memcore/pkg/db"
	"github.com/pkg/errors"
)

// Migration20260801090002CreateWorkerRegistry creates the background worker
// registry used to prevent concurrent curation and detect stale workers.
func Migration20260801090002CreateWorkerRegistry() db.Migration {
	return db.Migration{
		Version:     20260801090002,
		Description: "Create worker registry",
		Up: func(tx *sql.Tx) error {
			if _, err := tx.Exec(`
				CREATE TABLE IF NOT EXISTS workers (
					id TEXT PRIMARY KEY,
					type TEXT NOT NULL,
					status TEXT NOT NULL,
					started_at DATETIME NOT NULL,
					heartbeat_at DATETIME NOT NULL,
					completed_at DATETIME,
					error TEXT
				)
			`); err != nil {
				return errors.Wrap(err, "failed to create workers table")
			}

			if _, err := tx.Exec(`
				CREATE INDEX IF NOT EXISTS idx_workers_status ON workers(status)
			`); err != nil {
				return errors.Wrap(err, "failed to create workers status index")
			}

			return nil
		},
		Down: func(tx *sql.Tx) error {
			for _, stmt := range []string{
				"DROP INDEX IF EXISTS idx_workers_status",
				"DROP TABLE IF EXISTS workers",
			} {
				if _, err := tx.Exec(stmt); err != nil {
					return errors.Wrap(err, "failed to roll back worker registry migration")
				}
			}
			return nil
		},
	}
}
