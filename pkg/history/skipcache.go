package history

import (
	"context"
	"database/sql"
	"time"

	"github.com/pkg/errors"

	"github.com/jingkaihe/mediapress/pkg/logger"
)

// ShouldSkip reports whether path was already optimized at this exact
// (size, mtime) fingerprint. Lookup errors count as misses: the cache only
// ever saves work, it never blocks it.
func (s *Store) ShouldSkip(ctx context.Context, path string, size, mtimeNS int64) bool {
	var one int
	err := s.db.GetContext(ctx, &one,
		"SELECT 1 FROM skip_cache WHERE path = ? AND size = ? AND mtime_ns = ?",
		path, size, mtimeNS)
	if err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			logger.G(ctx).WithField("file", path).WithError(err).Debug("skip cache lookup failed")
		}
		return false
	}
	return true
}

// Remember records the current fingerprint of an optimized file. Failures
// only log; a stale cache entry costs one redundant compressor run.
func (s *Store) Remember(ctx context.Context, path string, size, mtimeNS int64) {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO skip_cache (path, size, mtime_ns, optimized_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(path) DO UPDATE SET
			size = excluded.size,
			mtime_ns = excluded.mtime_ns,
			optimized_at = excluded.optimized_at`,
		path, size, mtimeNS, time.Now())
	if err != nil {
		logger.G(ctx).WithField("file", path).WithError(err).Warn("could not update skip cache")
	}
}

// ClearSkipCache drops every cached fingerprint.
func (s *Store) ClearSkipCache(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, "DELETE FROM skip_cache")
	if err != nil {
		return 0, errors.Wrap(err, "clearing skip cache")
	}

	cleared, err := res.RowsAffected()
	if err != nil {
		return 0, errors.Wrap(err, "counting cleared entries")
	}
	return cleared, nil
}
