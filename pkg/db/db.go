// Package db owns the SQLite plumbing under the history store: opening the
// database file, pragma configuration, and the migration runner. Access is
// effectively single-writer (each command opens the database, does its few
// writes, and exits), so the pool is pinned to one connection and WAL mode
// absorbs the occasional overlap between a watch session and a manual run.
package db

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	_ "modernc.org/sqlite"
)

// DefaultDBPath returns where run history lives when no explicit path is
// configured: under MEDIAPRESS_BASE_PATH if set, ~/.mediapress otherwise.
func DefaultDBPath() (string, error) {
	if basePath := os.Getenv("MEDIAPRESS_BASE_PATH"); basePath != "" {
		return filepath.Join(basePath, "history.db"), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", errors.Wrap(err, "resolving home directory")
	}
	return filepath.Join(home, ".mediapress", "history.db"), nil
}

// Open opens or creates the SQLite database at dbPath and applies the
// connection configuration every caller relies on.
func Open(ctx context.Context, dbPath string) (*sqlx.DB, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, errors.Wrap(err, "creating database directory")
	}

	database, err := sqlx.Open("sqlite", dbPath)
	if err != nil {
		return nil, errors.Wrap(err, "opening database")
	}

	if err := database.Ping(); err != nil {
		database.Close()
		return nil, errors.Wrap(err, "connecting to database")
	}

	if err := Configure(ctx, database); err != nil {
		database.Close()
		return nil, err
	}

	return database, nil
}

// Configure applies the pragmas the store expects. WAL keeps readers (the
// history command) unblocked while a run is being recorded; busy_timeout
// covers the window where a watch session and a manual run hold the file
// open at the same time.
func Configure(ctx context.Context, database *sqlx.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA cache_size=1000",
		"PRAGMA temp_store=memory",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	}
	for _, pragma := range pragmas {
		if _, err := database.ExecContext(ctx, pragma); err != nil {
			return errors.Wrapf(err, "applying %s", pragma)
		}
	}

	// One writer at a time; outcomes ride in the same transaction as their
	// run, so there is nothing to parallelize.
	database.SetMaxIdleConns(1)
	database.SetMaxOpenConns(1)

	var journalMode string
	if err := database.QueryRowContext(ctx, "PRAGMA journal_mode").Scan(&journalMode); err != nil {
		return errors.Wrap(err, "reading back journal mode")
	}
	if !strings.EqualFold(journalMode, "wal") {
		return errors.Errorf("journal_mode is %s, expected wal", journalMode)
	}

	return nil
}

// VerifyConfiguration reports whether an already-open database carries the
// expected pragma state. doctor uses it to flag history databases created
// by other tooling or left over from a crash.
func VerifyConfiguration(database *sqlx.DB) error {
	checks := []struct {
		pragma string
		want   string
		desc   string
	}{
		{"journal_mode", "wal", "WAL journaling"},
		{"synchronous", "1", "NORMAL synchronous writes"},
		{"foreign_keys", "1", "foreign key enforcement"},
	}
	for _, check := range checks {
		var got string
		if err := database.Get(&got, "PRAGMA "+check.pragma); err != nil {
			return errors.Wrapf(err, "reading %s", check.pragma)
		}
		if !strings.EqualFold(got, check.want) {
			return errors.Errorf("%s is off: %s is %q, expected %q", check.desc, check.pragma, got, check.want)
		}
	}
	return nil
}
