// Package migrations contains all database migrations for memcore.
// Migrations use Rails-style timestamp versioning (YYYYMMDDHHmmss).
package migrations

import (
	"github.com/opencoder-agent/memcore/pkg/db"
)

// All returns all registered migrations in the correct order.
// New migrations should be added to this list.
func All() []db.Migration {
	return []db.Migration{
		Migration20260801090000CreateTemporalLog(),
		Migration20260801090001CreateLTMTree(),
		Migration20260801090002CreateWorkerRegistry(),
		Migration20260801090003CreateTasksAndAlarms(),
		Migration20260801090004CreateSessionStore(),
	}
}
