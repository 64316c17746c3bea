package migrations

import (
	"database/sql"

	"github.com/jingkaihe/mediapress/pkg/db"
	"github.com/pkg/errors"
)

// Migration20260801140000AddHistoryIndexes adds indexes for the history
// listing queries.
func Migration20260801140000AddHistoryIndexes() db.Migration {
	return db.Migration{
		Version:     20260801140000,
		Description: "Add history listing indexes",
		Up: func(tx *sql.Tx) error {
			indexes := []string{
				"CREATE INDEX IF NOT EXISTS idx_runs_started_at ON runs(started_at DESC)",
				"CREATE INDEX IF NOT EXISTS idx_runs_repo ON runs(repo)",
				"CREATE INDEX IF NOT EXISTS idx_outcomes_status ON outcomes(status)",
			}

			for _, idx := range indexes {
				if _, err := tx.Exec(idx); err != nil {
					return errors.Wrap(err, "failed to create index")
				}
			}
			return nil
		},
		Down: func(tx *sql.Tx) error {
			dropIndexes := []string{
				"DROP INDEX IF EXISTS idx_outcomes_status",
				"DROP INDEX IF EXISTS idx_runs_repo",
				"DROP INDEX IF EXISTS idx_runs_started_at",
			}

			for _, drop := range dropIndexes {
				if _, err := tx.Exec(drop); err != nil {
					return errors.Wrap(err, "failed to drop index")
				}
			}
			return nil
		},
	}
}
