// Package history persists optimization runs to the local SQLite database
// so users can audit what the tool did to their files and how much space
// it reclaimed. It also exposes the skip cache the optimizer uses to avoid
// re-compressing untouched files.
package history

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"

	"github.com/jingkaihe/mediapress/pkg/db"
	"github.com/jingkaihe/mediapress/pkg/db/migrations"
	"github.com/jingkaihe/mediapress/pkg/optimizer"
)

// Store reads and writes the run history database.
type Store struct {
	db *sqlx.DB
}

// Open opens the history database at path, creating it and applying
// pending migrations as needed. An empty path falls back to the default
// location under ~/.mediapress.
func Open(ctx context.Context, path string) (*Store, error) {
	if path == "" {
		var err error
		if path, err = db.DefaultDBPath(); err != nil {
			return nil, err
		}
	}

	sqlDB, err := db.Open(ctx, path)
	if err != nil {
		return nil, err
	}

	runner := db.NewMigrationRunner(sqlDB)
	if err := runner.Run(ctx, migrations.All()); err != nil {
		sqlDB.Close()
		return nil, errors.Wrap(err, "running history migrations")
	}

	return &Store{db: sqlDB}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB exposes the underlying handle for health checks.
func (s *Store) DB() *sqlx.DB {
	return s.db
}

// Run is one recorded optimization run.
type Run struct {
	ID         string    `db:"id"`
	Source     string    `db:"source"`
	Repo       string    `db:"repo"`
	StartedAt  time.Time `db:"started_at"`
	FinishedAt time.Time `db:"finished_at"`
	Processed  int       `db:"processed"`
	Optimized  int       `db:"optimized"`
	Skipped    int       `db:"skipped"`
	Failed     int       `db:"failed"`
	BytesSaved int64     `db:"bytes_saved"`
}

// FileOutcome is one recorded per-file result.
type FileOutcome struct {
	ID         int64  `db:"id"`
	RunID      string `db:"run_id"`
	Path       string `db:"path"`
	Kind       string `db:"kind"`
	Status     string `db:"status"`
	OrigSize   int64  `db:"orig_size"`
	NewSize    int64  `db:"new_size"`
	DurationMS int64  `db:"duration_ms"`
	Error      string `db:"error"`
}

// Totals aggregates the whole history.
type Totals struct {
	Runs       int   `db:"runs"`
	Processed  int   `db:"processed"`
	Optimized  int   `db:"optimized"`
	BytesSaved int64 `db:"bytes_saved"`
}

// RecordRun stores a finished run with its per-file outcomes and returns
// the run ID.
func (s *Store) RecordRun(ctx context.Context, source, repo string, startedAt time.Time, summary *optimizer.Summary) (string, error) {
	runID := uuid.New().String()

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return "", errors.Wrap(err, "beginning history transaction")
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO runs (id, source, repo, started_at, finished_at, processed, optimized, skipped, failed, bytes_saved)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		runID, source, repo, startedAt, startedAt.Add(summary.Duration),
		summary.Processed, summary.Optimized, summary.Skipped, summary.Failed, summary.BytesSaved)
	if err != nil {
		return "", errors.Wrap(err, "recording run")
	}

	for _, out := range summary.Outcomes {
		errText := ""
		if out.Err != nil {
			errText = out.Err.Error()
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO outcomes (run_id, path, kind, status, orig_size, new_size, duration_ms, error)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			runID, out.Path, out.Kind.String(), string(out.Status),
			out.OrigSize, out.NewSize, out.Duration.Milliseconds(), errText)
		if err != nil {
			return "", errors.Wrapf(err, "recording outcome for %s", out.Path)
		}
	}

	if err := tx.Commit(); err != nil {
		return "", errors.Wrap(err, "committing run history")
	}
	return runID, nil
}

// RecentRuns lists the most recent runs, newest first.
func (s *Store) RecentRuns(ctx context.Context, limit int) ([]Run, error) {
	var runs []Run
	err := s.db.SelectContext(ctx, &runs,
		"SELECT * FROM runs ORDER BY started_at DESC, id LIMIT ?", limit)
	if err != nil {
		return nil, errors.Wrap(err, "listing runs")
	}
	return runs, nil
}

// GetRun looks up a run by ID or unique ID prefix.
func (s *Store) GetRun(ctx context.Context, id string) (*Run, error) {
	var runs []Run
	err := s.db.SelectContext(ctx, &runs,
		"SELECT * FROM runs WHERE id LIKE ? ORDER BY started_at DESC LIMIT 2", id+"%")
	if err != nil {
		return nil, errors.Wrap(err, "looking up run")
	}

	switch len(runs) {
	case 0:
		return nil, errors.Errorf("run %s not found", id)
	case 1:
		return &runs[0], nil
	default:
		return nil, errors.Errorf("run id %s is ambiguous", id)
	}
}

// RunOutcomes lists the per-file outcomes of one run in recorded order.
func (s *Store) RunOutcomes(ctx context.Context, runID string) ([]FileOutcome, error) {
	var outcomes []FileOutcome
	err := s.db.SelectContext(ctx, &outcomes,
		"SELECT * FROM outcomes WHERE run_id = ? ORDER BY id", runID)
	if err != nil {
		return nil, errors.Wrap(err, "listing run outcomes")
	}
	return outcomes, nil
}

// LifetimeTotals aggregates every recorded run.
func (s *Store) LifetimeTotals(ctx context.Context) (*Totals, error) {
	var totals Totals
	err := s.db.GetContext(ctx, &totals, `
		SELECT COUNT(*) AS runs,
		       COALESCE(SUM(processed), 0) AS processed,
		       COALESCE(SUM(optimized), 0) AS optimized,
		       COALESCE(SUM(bytes_saved), 0) AS bytes_saved
		FROM runs`)
	if err != nil {
		return nil, errors.Wrap(err, "aggregating history")
	}
	return &totals, nil
}

// PruneRuns deletes all but the most recent keep runs; their outcomes go
// with them via the foreign key cascade.
func (s *Store) PruneRuns(ctx context.Context, keep int) (int64, error) {
	if keep < 0 {
		return 0, errors.New("keep must be non-negative")
	}

	res, err := s.db.ExecContext(ctx, `
		DELETE FROM runs WHERE id NOT IN (
			SELECT id FROM runs ORDER BY started_at DESC, id LIMIT ?
		)`, keep)
	if err != nil {
		return 0, errors.Wrap(err, "pruning runs")
	}

	deleted, err := res.RowsAffected()
	if err != nil {
		return 0, errors.Wrap(err, "counting pruned runs")
	}
	return deleted, nil
}
