// Package migrations contains all database migrations for mediapress.
// Migrations use Rails-style timestamp versioning (YYYYMMDDHHmmss).
package migrations

import (
	"github.com/jingkaihe/mediapress/pkg/db"
)

// All returns all registered migrations in the correct order.
// New migrations should be added to this list.
func All() []db.Migration {
	return []db.Migration{
		Migration20260715093000CreateRuns(),
		Migration20260715093001CreateSkipCache(),
		Migration20260801140000AddHistoryIndexes(),
	}
}
