package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/jingkaihe/mediapress/pkg/config"
	"github.com/jingkaihe/mediapress/pkg/history"
	"github.com/jingkaihe/mediapress/pkg/optimizer"
	"github.com/jingkaihe/mediapress/pkg/presenter"
	"github.com/spf13/cobra"
)

var historyCmd = &cobra.Command{
	Use:   "history [run-id]",
	Short: "Inspect recorded optimization runs",
	Long: `History lists recorded optimization runs, newest first. Pass a run id (a
unique prefix is enough) to see its per-file outcomes. The --stats flag
shows lifetime totals, --prune trims old runs and --clear-cache resets the
skip cache so every file gets compressed again.`,
	Args: cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ctx := cmd.Context()

		cfg, err := config.Load()
		if err != nil {
			presenter.Error(err, "Invalid configuration")
			os.Exit(1)
		}

		store, err := history.Open(ctx, cfg.ExpandedHistoryFile())
		if err != nil {
			presenter.Error(err, "Could not open history database")
			os.Exit(1)
		}
		defer store.Close()

		flags := cmd.Flags()

		if clear, _ := flags.GetBool("clear-cache"); clear {
			cleared, err := store.ClearSkipCache(ctx)
			if err != nil {
				presenter.Error(err, "Failed to clear skip cache")
				os.Exit(1)
			}
			presenter.Success(fmt.Sprintf("Cleared %d skip cache entries", cleared))
			return
		}

		if flags.Changed("prune") {
			keep, _ := flags.GetInt("prune")
			if keep < 0 {
				presenter.Error(fmt.Errorf("cannot keep %d runs", keep), "Invalid --prune value")
				os.Exit(1)
			}
			deleted, err := store.PruneRuns(ctx, keep)
			if err != nil {
				presenter.Error(err, "Failed to prune history")
				os.Exit(1)
			}
			presenter.Success(fmt.Sprintf("Pruned %d runs, kept the most recent %d", deleted, keep))
			return
		}

		if stats, _ := flags.GetBool("stats"); stats {
			showTotals(ctx, store)
			return
		}

		if len(args) == 1 {
			showRun(ctx, store, args[0])
			return
		}

		limit, _ := flags.GetInt("limit")
		listRuns(ctx, store, limit)
	},
}

func init() {
	historyCmd.Flags().Int("limit", 20, "Maximum number of runs to list")
	historyCmd.Flags().Bool("stats", false, "Show lifetime totals instead of the run list")
	historyCmd.Flags().Int("prune", 0, "Keep only the N most recent runs and delete the rest")
	historyCmd.Flags().Bool("clear-cache", false, "Clear the skip cache so unchanged files get compressed again")
}

func listRuns(ctx context.Context, store *history.Store, limit int) {
	runs, err := store.RecentRuns(ctx, limit)
	if err != nil {
		presenter.Error(err, "Failed to list runs")
		os.Exit(1)
	}
	if len(runs) == 0 {
		presenter.Info("No optimization runs recorded yet")
		return
	}

	for _, run := range runs {
		presenter.Info(fmt.Sprintf("%s  %s  %-10s  %d/%d optimized, %s saved",
			run.ID[:8],
			run.StartedAt.Local().Format("2006-01-02 15:04:05"),
			run.Source,
			run.Optimized, run.Processed,
			presenter.HumanSize(run.BytesSaved)))
	}
}

func showRun(ctx context.Context, store *history.Store, id string) {
	run, err := store.GetRun(ctx, id)
	if err != nil {
		presenter.Error(err, "Could not look up run")
		os.Exit(1)
	}

	presenter.Section("Run " + run.ID)
	presenter.Info(fmt.Sprintf("Source:   %s", run.Source))
	if run.Repo != "" {
		presenter.Info(fmt.Sprintf("Repo:     %s", run.Repo))
	}
	presenter.Info(fmt.Sprintf("Started:  %s", run.StartedAt.Local().Format("2006-01-02 15:04:05")))
	presenter.Info(fmt.Sprintf("Duration: %s", run.FinishedAt.Sub(run.StartedAt).Round(time.Millisecond)))
	presenter.Info(fmt.Sprintf("Result:   %d/%d optimized, %d skipped, %d failed, %s saved",
		run.Optimized, run.Processed, run.Skipped, run.Failed, presenter.HumanSize(run.BytesSaved)))

	outcomes, err := store.RunOutcomes(ctx, run.ID)
	if err != nil {
		presenter.Error(err, "Could not load run outcomes")
		os.Exit(1)
	}
	if len(outcomes) == 0 {
		return
	}

	presenter.Separator()
	for _, out := range outcomes {
		line := fmt.Sprintf("%-26s  %s", out.Status, out.Path)
		if out.Status == string(optimizer.StatusOptimized) {
			line += fmt.Sprintf("  (%s → %s)", presenter.HumanSize(out.OrigSize), presenter.HumanSize(out.NewSize))
		}
		if out.Error != "" {
			line += "  " + out.Error
		}
		presenter.Info(line)
	}
}

func showTotals(ctx context.Context, store *history.Store) {
	totals, err := store.LifetimeTotals(ctx)
	if err != nil {
		presenter.Error(err, "Failed to read lifetime totals")
		os.Exit(1)
	}

	presenter.Section("Lifetime totals")
	presenter.Info(fmt.Sprintf("Runs:   %d", totals.Runs))
	presenter.Info(fmt.Sprintf("Files:  %d processed, %d optimized", totals.Processed, totals.Optimized))
	presenter.Info(fmt.Sprintf("Saved:  %s", presenter.HumanSize(totals.BytesSaved)))
}
