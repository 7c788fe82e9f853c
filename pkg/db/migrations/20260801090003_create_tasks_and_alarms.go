package migrations

import (
	"database/sql"

	"github.com/opencoder-agent/memcore/pkg/db"
	"github.com/pkg/errors"
)

// Migration20260801090003CreateTasksAndAlarms creates the background task
// registry, the alarm table, the FIFO queued-results list, and the
// background-report inbox.
func Migration20260801090003CreateTasksAndAlarms() db.Migration {
	return db.Migration{
		Version:     20260801090003,
		Description: "Create background tasks, alarms, queued results, and report inbox",
		Up: func(tx *sql.Tx) error {
			if _, err := tx.Exec(`
				CREATE TABLE IF NOT EXISTS tasks (
					id TEXT PRIMARY KEY,
					type TEXT NOT NULL,
					description TEXT NOT NULL,
					status TEXT NOT NULL,
					result TEXT,
					error TEXT,
					created_at DATETIME NOT NULL,
					completed_at DATETIME
				)
			`); err != nil {
				return errors.Wrap(err, "failed to create tasks table")
			}

			if _, err := tx.Exec(`
				CREATE INDEX IF NOT EXISTS idx_tasks_status ON tasks(status)
			`); err != nil {
				return errors.Wrap(err, "failed to create tasks status index")
			}

			if _, err := tx.Exec(`
				CREATE TABLE IF NOT EXISTS alarms (
					id TEXT PRIMARY KEY,
					fire_at DATETIME NOT NULL,
					recurring_cron TEXT,
					payload TEXT NOT NULL,
					fired_at DATETIME,
					created_at DATETIME NOT NULL
				)
			`); err != nil {
				return errors.Wrap(err, "failed to create alarms table")
			}

			if _, err := tx.Exec(`
				CREATE INDEX IF NOT EXISTS idx_alarms_fire_at ON alarms(fire_at, fired_at)
			`); err != nil {
				return errors.Wrap(err, "failed to create alarms fire_at index")
			}

			if _, err := tx.Exec(`
				CREATE TABLE IF NOT EXISTS queued_results (
					seq INTEGER PRIMARY KEY AUTOINCREMENT,
					task_id TEXT NOT NULL,
					payload TEXT NOT NULL,
					created_at DATETIME NOT NULL
				)
			`); err != nil {
				return errors.Wrap(err, "failed to create queued_results table")
			}

			if _, err := tx.Exec(`
				CREATE TABLE IF NOT EXISTS background_reports (
					id TEXT PRIMARY KEY,
					source TEXT NOT NULL,
					payload TEXT NOT NULL,
					delivered INTEGER NOT NULL DEFAULT 0,
					created_at DATETIME NOT NULL
				)
			`); err != nil {
				return errors.Wrap(err, "failed to create background_reports table")
			}

			if _, err := tx.Exec(`
				CREATE INDEX IF NOT EXISTS idx_background_reports_delivered ON background_reports(delivered)
			`); err != nil {
				return errors.Wrap(err, "failed to create background_reports delivered index")
			}

			return nil
		},
		Down: func(tx *sql.Tx) error {
			for _, stmt := range []string{
				"DROP INDEX IF EXISTS idx_background_reports_delivered",
				"DROP TABLE IF EXISTS background_reports",
				"DROP TABLE IF EXISTS queued_results",
				"DROP INDEX IF EXISTS idx_alarms_fire_at",
				"DROP TABLE IF EXISTS alarms",
				"DROP INDEX IF EXISTS idx_tasks_status",
				"DROP TABLE IF EXISTS tasks",
			} {
				if _, err := tx.Exec(stmt); err != nil {
					return errors.Wrap(err, "failed to roll back tasks and alarms migration")
				}
			}
			return nil
		},
	}
}
