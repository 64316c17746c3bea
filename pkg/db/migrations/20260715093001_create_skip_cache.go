package migrations

import (
	"database/sql"

	"github.com/jingkaihe/mediapress/pkg/db"
	"github.com/pkg/errors"
)

// Migration20260715093001CreateSkipCache creates the skip cache, which
// remembers (size, mtime) fingerprints of already-optimized files so
// repeated runs do not re-invoke compressors on untouched files.
func Migration20260715093001CreateSkipCache() db.Migration {
	return db.Migration{
		Version:     20260715093001,
		Description: "Create skip cache table",
		Up: func(tx *sql.Tx) error {
			_, err := tx.Exec(`CREATE TABLE IF NOT EXISTS skip_cache (
				path TEXT PRIMARY KEY,
				size INTEGER NOT NULL,
				mtime_ns INTEGER NOT NULL,
				optimized_at DATETIME NOT NULL
			)`)
			return errors.Wrap(err, "failed to create skip_cache table")
		},
		Down: func(tx *sql.Tx) error {
			_, err := tx.Exec("DROP TABLE IF EXISTS skip_cache")
			return errors.Wrap(err, "failed to drop skip_cache table")
		},
	}
}
