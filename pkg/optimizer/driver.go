package optimizer

import (
	"context"
	"path/filepath"
	"runtime"
	"sync"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/pkg/errors"

	"github.com/jingkaihe/mediapress/pkg/logger"
	"github.com/jingkaihe/mediapress/pkg/media"
	"github.com/jingkaihe/mediapress/pkg/telemetry"
)

// Summary aggregates one run.
type Summary struct {
	// Outcomes holds the per-file results in input order.
	Outcomes []Outcome
	// Processed counts files that entered the pipeline after filtering.
	Processed      int
	Optimized      int
	Skipped        int
	Failed         int
	BytesProcessed int64
	BytesSaved     int64
	Duration       time.Duration
}

// Run compresses every candidate among paths, fanning out across workers.
// Outcomes are reported to OnOutcome as they complete and collected into
// the summary in input order. Cancellation stops dispatching new files and
// returns the partial summary along with the context error; files already
// handed to a compressor finish their keep-or-revert cycle.
func (o *Optimizer) Run(ctx context.Context, paths []string) (*Summary, error) {
	start := time.Now()

	files, err := o.selectFiles(ctx, paths)
	if err != nil {
		return nil, err
	}

	summary := &Summary{}
	if len(files) == 0 {
		summary.Duration = time.Since(start)
		return summary, nil
	}

	workers := o.workerCount(len(files))
	logger.G(ctx).WithField("files", len(files)).WithField("workers", workers).Debug("starting optimization run")

	runErr := telemetry.WithSpan(ctx, "optimizer.run", func(ctx context.Context) error {
		outcomes := make([]Outcome, len(files))
		jobs := make(chan int)
		done := make(chan int)

		var wg sync.WaitGroup
		for w := 0; w < workers; w++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for i := range jobs {
					outcomes[i] = o.OptimizeFile(ctx, files[i])
					done <- i
				}
			}()
		}

		go func() {
			defer close(jobs)
			for i := range files {
				select {
				case jobs <- i:
				case <-ctx.Done():
					return
				}
			}
		}()

		go func() {
			wg.Wait()
			close(done)
		}()

		for i := range done {
			if o.opts.OnOutcome != nil {
				o.opts.OnOutcome(outcomes[i])
			}
		}

		for _, out := range outcomes {
			if out.Status == "" {
				// never dispatched before cancellation
				continue
			}
			summary.Outcomes = append(summary.Outcomes, out)
			summary.Processed++
			summary.BytesProcessed += out.OrigSize
			switch out.Status {
			case StatusOptimized:
				summary.Optimized++
				summary.BytesSaved += out.Saved()
			case StatusFailed:
				summary.Failed++
			default:
				summary.Skipped++
			}
		}
		return ctx.Err()
	}, telemetry.RunAttributes(len(files), workers)...)

	summary.Duration = time.Since(start)
	if runErr != nil {
		return summary, errors.Wrap(runErr, "optimization interrupted")
	}
	return summary, nil
}

// selectFiles narrows the input to recognized media paths that no exclude
// pattern matches. Unrecognized extensions, duplicates and excluded files
// drop out of the run entirely rather than count as skips.
func (o *Optimizer) selectFiles(ctx context.Context, paths []string) ([]string, error) {
	for _, pattern := range o.opts.Exclude {
		if !doublestar.ValidatePattern(pattern) {
			return nil, errors.Errorf("invalid exclude pattern %q", pattern)
		}
	}

	log := logger.G(ctx)
	seen := make(map[string]struct{}, len(paths))
	var files []string
	for _, path := range paths {
		if _, dup := seen[path]; dup {
			continue
		}
		seen[path] = struct{}{}

		if !media.IsCandidate(path) {
			continue
		}
		if o.excluded(path) {
			log.WithField("file", path).Debug("matches exclude pattern, ignoring")
			continue
		}
		files = append(files, path)
	}
	return files, nil
}

// excluded matches patterns against both the slash-normalized path and its
// base name, so "*.min.svg" catches files in subdirectories too.
func (o *Optimizer) excluded(path string) bool {
	slashed := filepath.ToSlash(path)
	base := filepath.Base(path)
	for _, pattern := range o.opts.Exclude {
		if ok, _ := doublestar.Match(pattern, slashed); ok {
			return true
		}
		if ok, _ := doublestar.Match(pattern, base); ok {
			return true
		}
	}
	return false
}

func (o *Optimizer) workerCount(files int) int {
	workers := o.opts.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	if workers > files {
		workers = files
	}
	if workers < 1 {
		workers = 1
	}
	return workers
}
