package main

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jingkaihe/mediapress/pkg/binaries"
	"github.com/jingkaihe/mediapress/pkg/presenter"
	"github.com/jingkaihe/mediapress/pkg/runlock"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

var optimizeCmd = &cobra.Command{
	Use:   "optimize [files...]",
	Short: "Optimize the given media files in place",
	Long: `Optimize compresses the given JPEG, PNG, GIF and SVG files in place and
keeps each result only when it is strictly smaller than the original.
Files with other extensions are ignored. Without arguments the file list is
taken from the MEDIAPRESS_STAGED_FILES environment variable (whitespace
separated). The exit status is non-zero when a required compressor is
missing or any file fails.`,
	Args: cobra.ArbitraryArgs,
	Run: func(cmd *cobra.Command, args []string) {
		ctx, cancel := context.WithCancel(cmd.Context())
		defer cancel()

		// Set up signal handling
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
		go func() {
			<-sigCh
			presenter.Warning("\n[mediapress]: Cancellation requested, shutting down...")
			cancel()
		}()

		paths := args
		if len(paths) == 0 {
			paths = strings.Fields(os.Getenv("MEDIAPRESS_STAGED_FILES"))
		}
		if len(paths) == 0 {
			presenter.Error(errors.New("no files given"), "Nothing to optimize")
			os.Exit(1)
		}

		cfg, err := getPipelineConfig(cmd)
		if err != nil {
			presenter.Error(err, "Invalid configuration")
			os.Exit(1)
		}
		setupLogging(ctx, cfg)
		if quiet, err := cmd.Flags().GetBool("quiet"); err == nil {
			presenter.SetQuiet(quiet)
		}

		avail, err := binaries.Resolve(ctx)
		if err != nil {
			presenter.Error(err, "Missing required compressors")
			os.Exit(1)
		}
		warnMissingOptional(avail)

		unlock, err := runlock.Acquire(ctx, runLockPath(ctx), runLockWait)
		if err != nil {
			if errors.Is(err, runlock.ErrBusy) {
				presenter.Warning("Another optimization run is in progress, skipping")
				return
			}
			presenter.Error(err, "Could not acquire run lock")
			os.Exit(1)
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
			presenter.Error(err, "Optimization aborted")
			os.Exit(1)
		}

		presenter.Stats(runStats(summary))
		recordRun(ctx, store, cfg, "optimize", startedAt, summary)

		if summary.Failed > 0 {
			os.Exit(1)
		}
	},
}

func init() {
	addPipelineFlags(optimizeCmd)
}
