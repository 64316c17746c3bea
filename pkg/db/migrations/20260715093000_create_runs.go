package migrations

import (
	"database/sql"

	"github.com/jingkaihe/mediapress/pkg/db"
	"github.com/pkg/errors"
)

// Migration20260715093000CreateRuns creates the runs and outcomes tables
// that back the optimization history.
func Migration20260715093000CreateRuns() db.Migration {
	return db.Migration{
		Version:     20260715093000,
		Description: "Create runs and outcomes tables",
		Up: func(tx *sql.Tx) error {
			statements := []string{
				`CREATE TABLE IF NOT EXISTS runs (
					id TEXT PRIMARY KEY,
					source TEXT NOT NULL,
					repo TEXT NOT NULL DEFAULT '',
					started_at DATETIME NOT NULL,
					finished_at DATETIME NOT NULL,
					processed INTEGER NOT NULL DEFAULT 0,
					optimized INTEGER NOT NULL DEFAULT 0,
					skipped INTEGER NOT NULL DEFAULT 0,
					failed INTEGER NOT NULL DEFAULT 0,
					bytes_saved INTEGER NOT NULL DEFAULT 0
				)`,
				`CREATE TABLE IF NOT EXISTS outcomes (
					id INTEGER PRIMARY KEY AUTOINCREMENT,
					run_id TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
					path TEXT NOT NULL,
					kind TEXT NOT NULL,
					status TEXT NOT NULL,
					orig_size INTEGER NOT NULL DEFAULT 0,
					new_size INTEGER NOT NULL DEFAULT 0,
					duration_ms INTEGER NOT NULL DEFAULT 0,
					error TEXT NOT NULL DEFAULT ''
				)`,
				`CREATE INDEX IF NOT EXISTS idx_outcomes_run_id ON outcomes(run_id)`,
			}

			for _, stmt := range statements {
				if _, err := tx.Exec(stmt); err != nil {
					return errors.Wrap(err, "failed to create history tables")
				}
			}
			return nil
		},
		Down: func(tx *sql.Tx) error {
			statements := []string{
				"DROP INDEX IF EXISTS idx_outcomes_run_id",
				"DROP TABLE IF EXISTS outcomes",
				"DROP TABLE IF EXISTS runs",
			}

			for _, stmt := range statements {
				if _, err := tx.Exec(stmt); err != nil {
					return errors.Wrap(err, "failed to drop history tables")
				}
			}
			return nil
		},
	}
}
