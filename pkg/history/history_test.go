package history

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jingkaihe/mediapress/pkg/media"
	"github.com/jingkaihe/mediapress/pkg/optimizer"
)

func openStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(context.Background(), filepath.Join(t.TempDir(), "history.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func sampleSummary() *optimizer.Summary {
	return &optimizer.Summary{
		Outcomes: []optimizer.Outcome{
			{
				Path:     "/repo/photo.jpg",
				Kind:     media.KindLossyRaster,
				Status:   optimizer.StatusOptimized,
				OrigSize: 512000,
				NewSize:  430080,
				Duration: 120 * time.Millisecond,
			},
			{
				Path:     "/repo/icon.png",
				Kind:     media.KindLosslessRaster,
				Status:   optimizer.StatusTooSmall,
				OrigSize: 512,
				NewSize:  512,
			},
			{
				Path:     "/repo/broken.gif",
				Kind:     media.KindAnimatedRaster,
				Status:   optimizer.StatusFailed,
				OrigSize: 20480,
				NewSize:  20480,
				Err:      errors.New("gifsicle exploded"),
			},
		},
		Processed:  3,
		Optimized:  1,
		Skipped:    1,
		Failed:     1,
		BytesSaved: 81920,
		Duration:   500 * time.Millisecond,
	}
}

func TestOpen_AppliesMigrations(t *testing.T) {
	store := openStore(t)

	for _, table := range []string{"runs", "outcomes", "skip_cache"} {
		var exists bool
		err := store.DB().Get(&exists,
			"SELECT COUNT(*) > 0 FROM sqlite_master WHERE type='table' AND name=?", table)
		require.NoError(t, err)
		assert.True(t, exists, "table %s should exist", table)
	}
}

func TestRecordRun_RoundTrip(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()
	startedAt := time.Now().Add(-time.Minute)

	runID, err := store.RecordRun(ctx, "pre-commit", "/repo", startedAt, sampleSummary())
	require.NoError(t, err)
	require.NotEmpty(t, runID)

	runs, err := store.RecentRuns(ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)

	run := runs[0]
	assert.Equal(t, runID, run.ID)
	assert.Equal(t, "pre-commit", run.Source)
	assert.Equal(t, "/repo", run.Repo)
	assert.Equal(t, 3, run.Processed)
	assert.Equal(t, 1, run.Optimized)
	assert.Equal(t, 1, run.Skipped)
	assert.Equal(t, 1, run.Failed)
	assert.EqualValues(t, 81920, run.BytesSaved)
	assert.WithinDuration(t, startedAt, run.StartedAt, time.Second)

	outcomes, err := store.RunOutcomes(ctx, runID)
	require.NoError(t, err)
	require.Len(t, outcomes, 3)

	assert.Equal(t, "/repo/photo.jpg", outcomes[0].Path)
	assert.Equal(t, "lossy-raster", outcomes[0].Kind)
	assert.Equal(t, "optimized", outcomes[0].Status)
	assert.EqualValues(t, 120, outcomes[0].DurationMS)
	assert.Empty(t, outcomes[0].Error)

	assert.Equal(t, "skipped-too-small", outcomes[1].Status)

	assert.Equal(t, "failed-missing-tool", outcomes[2].Status)
	assert.Contains(t, outcomes[2].Error, "gifsicle exploded")
}

func TestGetRun_ByPrefix(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()

	runID, err := store.RecordRun(ctx, "optimize", "", time.Now(), sampleSummary())
	require.NoError(t, err)

	run, err := store.GetRun(ctx, runID[:8])
	require.NoError(t, err)
	assert.Equal(t, runID, run.ID)

	_, err = store.GetRun(ctx, "no-such-run")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

func TestGetRun_AmbiguousPrefix(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()

	_, err := store.RecordRun(ctx, "optimize", "", time.Now().Add(-2*time.Minute), sampleSummary())
	require.NoError(t, err)
	_, err = store.RecordRun(ctx, "optimize", "", time.Now(), sampleSummary())
	require.NoError(t, err)

	// The empty prefix matches every run.
	_, err = store.GetRun(ctx, "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ambiguous")
}

func TestLifetimeTotals(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()

	totals, err := store.LifetimeTotals(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, totals.Runs)
	assert.EqualValues(t, 0, totals.BytesSaved)

	_, err = store.RecordRun(ctx, "pre-commit", "/repo", time.Now().Add(-time.Hour), sampleSummary())
	require.NoError(t, err)
	_, err = store.RecordRun(ctx, "optimize", "/repo", time.Now(), sampleSummary())
	require.NoError(t, err)

	totals, err = store.LifetimeTotals(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, totals.Runs)
	assert.Equal(t, 6, totals.Processed)
	assert.Equal(t, 2, totals.Optimized)
	assert.EqualValues(t, 163840, totals.BytesSaved)
}

func TestPruneRuns(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()
	base := time.Now().Add(-time.Hour)

	var newest string
	for i := 0; i < 3; i++ {
		runID, err := store.RecordRun(ctx, "optimize", "", base.Add(time.Duration(i)*time.Minute), sampleSummary())
		require.NoError(t, err)
		newest = runID
	}

	deleted, err := store.PruneRuns(ctx, 1)
	require.NoError(t, err)
	assert.EqualValues(t, 2, deleted)

	runs, err := store.RecentRuns(ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, newest, runs[0].ID)

	// Outcomes of pruned runs cascade away.
	var count int
	require.NoError(t, store.DB().Get(&count, "SELECT COUNT(*) FROM outcomes"))
	assert.Equal(t, len(sampleSummary().Outcomes), count)
}

func TestSkipCache(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()

	assert.False(t, store.ShouldSkip(ctx, "/repo/photo.jpg", 1000, 42))

	store.Remember(ctx, "/repo/photo.jpg", 1000, 42)
	assert.True(t, store.ShouldSkip(ctx, "/repo/photo.jpg", 1000, 42))
	assert.False(t, store.ShouldSkip(ctx, "/repo/photo.jpg", 1001, 42), "size change misses")
	assert.False(t, store.ShouldSkip(ctx, "/repo/photo.jpg", 1000, 43), "mtime change misses")
	assert.False(t, store.ShouldSkip(ctx, "/repo/other.jpg", 1000, 42))

	// Remember updates in place.
	store.Remember(ctx, "/repo/photo.jpg", 900, 99)
	assert.False(t, store.ShouldSkip(ctx, "/repo/photo.jpg", 1000, 42))
	assert.True(t, store.ShouldSkip(ctx, "/repo/photo.jpg", 900, 99))
}

func TestClearSkipCache(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()

	store.Remember(ctx, "/repo/a.jpg", 1, 1)
	store.Remember(ctx, "/repo/b.png", 2, 2)

	cleared, err := store.ClearSkipCache(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 2, cleared)

	assert.False(t, store.ShouldSkip(ctx, "/repo/a.jpg", 1, 1))
}
