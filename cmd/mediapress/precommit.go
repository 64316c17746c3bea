package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jingkaihe/mediapress/pkg/binaries"
	"github.com/jingkaihe/mediapress/pkg/git"
	"github.com/jingkaihe/mediapress/pkg/logger"
	"github.com/jingkaihe/mediapress/pkg/optimizer"
	"github.com/jingkaihe/mediapress/pkg/presenter"
	"github.com/jingkaihe/mediapress/pkg/runlock"
	"github.com/spf13/cobra"
)

// preCommitCmd is what the managed git hook invokes. It always exits zero:
// a commit is never blocked because an image could not be squeezed. Every
// failure path downgrades to a warning and lets the commit through.
var preCommitCmd = &cobra.Command{
	Use:   "pre-commit [files...]",
	Short: "Optimize staged media files without ever blocking the commit",
	Long: `Pre-commit optimizes the media files staged for the current commit and
re-stages the ones that got smaller. It is meant to run from the managed git
hook (see install-hook) and always exits zero, so a failed optimization can
never stop a commit.

The staged list is taken from explicit arguments if given, otherwise from
the MEDIAPRESS_STAGED_FILES environment variable (whitespace separated),
otherwise from git itself.`,
	Run: func(cmd *cobra.Command, args []string) {
		ctx, cancel := context.WithCancel(cmd.Context())
		defer cancel()

		// Set up signal handling
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
		go func() {
			<-sigCh
			presenter.Warning("\n[mediapress]: Cancellation requested, committing as-is...")
			cancel()
		}()

		cfg, err := getPipelineConfig(cmd)
		if err != nil {
			presenter.Warning(fmt.Sprintf("Configuration problem, committing without optimization: %v", err))
			return
		}
		setupLogging(ctx, cfg)
		if quiet, err := cmd.Flags().GetBool("quiet"); err == nil {
			presenter.SetQuiet(quiet)
		}

		paths, err := stagedPaths(ctx, args)
		if err != nil {
			presenter.Warning(fmt.Sprintf("Could not list staged files, committing without optimization: %v", err))
			return
		}
		if len(paths) == 0 {
			logger.G(ctx).Debug("no staged files to optimize")
			return
		}

		avail, err := binaries.Resolve(ctx)
		if err != nil {
			presenter.Warning(fmt.Sprintf("Compressors missing, committing without optimization: %v", err))
			return
		}
		warnMissingOptional(avail)

		unlock, err := runlock.Acquire(ctx, runLockPath(ctx), runLockWait)
		if err != nil {
			presenter.Warning("Another optimization run is in progress, committing as-is")
			return
		}
		defer unlock()

		store := openHistory(ctx, cfg)
		if store != nil {
			defer store.Close()
		}

		opt := newOptimizer(cfg, avail, skipCache(store, cfg))

		startedAt := time.Now()
		summary, err := opt.Run(ctx, paths)
		if err != nil {
			presenter.Warning(fmt.Sprintf("Optimization aborted, committing as-is: %v", err))
			return
		}

		restageOptimized(ctx, summary)
		presenter.Stats(runStats(summary))
		recordRun(ctx, store, cfg, "pre-commit", startedAt, summary)
	},
}

// stagedPaths decides what the hook operates on: explicit arguments win,
// then the MEDIAPRESS_STAGED_FILES override, then git's own staged list.
// Outside a repository only the first two apply.
func stagedPaths(ctx context.Context, args []string) ([]string, error) {
	if len(args) > 0 {
		return args, nil
	}
	if env := os.Getenv("MEDIAPRESS_STAGED_FILES"); env != "" {
		return strings.Fields(env), nil
	}
	if !git.IsRepository(ctx) {
		return nil, nil
	}
	if !git.HasStagedChanges(ctx) {
		return nil, nil
	}
	return git.StagedFiles(ctx)
}

// restageOptimized adds the rewritten files back to the index so the commit
// picks up the compressed bytes.
func restageOptimized(ctx context.Context, summary *optimizer.Summary) {
	if !git.IsRepository(ctx) {
		return
	}
	var optimized []string
	for _, out := range summary.Outcomes {
		if out.Status == optimizer.StatusOptimized {
			optimized = append(optimized, out.Path)
		}
	}
	if len(optimized) == 0 {
		return
	}
	if err := git.StageFiles(ctx, optimized); err != nil {
		presenter.Warning(fmt.Sprintf("Could not re-stage optimized files, run 'git add' yourself: %v", err))
		logger.G(ctx).WithError(err).Error("failed to re-stage optimized files")
	}
}

func init() {
	addPipelineFlags(preCommitCmd)
}
