package main

import (
	"fmt"
	"os"

	"github.com/jingkaihe/mediapress/pkg/binaries"
	"github.com/jingkaihe/mediapress/pkg/config"
	"github.com/jingkaihe/mediapress/pkg/db"
	"github.com/jingkaihe/mediapress/pkg/git"
	"github.com/jingkaihe/mediapress/pkg/history"
	"github.com/jingkaihe/mediapress/pkg/presenter"
	"github.com/spf13/cobra"
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Check compressors, the git hook and the history database",
	Long: `Doctor checks that the external compressors are installed, whether the
managed pre-commit hook is in place, and that the history database is
healthy. The exit status is non-zero when a required compressor is missing.`,
	Run: func(cmd *cobra.Command, args []string) {
		ctx := cmd.Context()
		healthy := true

		presenter.Section("Compressors")
		avail, err := binaries.Resolve(ctx)
		if err != nil {
			healthy = false
		}
		for _, tool := range binaries.Tools() {
			role := "optional"
			if tool.Required {
				role = "required"
			}
			status := avail[tool.Kind]
			switch {
			case status.Found():
				presenter.Success(fmt.Sprintf("%s (%s): %s, %s",
					tool.Name, role, status.Path, binaries.Version(ctx, status.Path)))
			case tool.Required:
				presenter.Error(status.Err, fmt.Sprintf("%s (%s) not found, install with: %s",
					tool.Name, role, tool.InstallHint))
			default:
				presenter.Warning(fmt.Sprintf("%s (%s) not found, %s files will be skipped (install with: %s)",
					tool.Name, role, tool.Kind, tool.InstallHint))
			}
		}

		presenter.Section("Git")
		if git.IsRepository(ctx) {
			if top, err := git.TopLevel(ctx); err == nil {
				presenter.Success("Inside repository " + top)
			}
			installed, err := git.HookInstalled(ctx)
			switch {
			case err != nil:
				presenter.Warning(fmt.Sprintf("Could not inspect the pre-commit hook: %v", err))
			case installed:
				presenter.Success("Managed pre-commit hook installed")
			default:
				presenter.Info("No managed pre-commit hook (run: mediapress install-hook)")
			}
		} else {
			presenter.Info("Not inside a git repository")
		}

		presenter.Section("History")
		checkHistory(cmd)

		if !healthy {
			os.Exit(1)
		}
	},
}

func checkHistory(cmd *cobra.Command) {
	ctx := cmd.Context()

	cfg, err := config.Load()
	if err != nil {
		presenter.Warning(fmt.Sprintf("Configuration problem: %v", err))
		return
	}

	store, err := history.Open(ctx, cfg.ExpandedHistoryFile())
	if err != nil {
		presenter.Warning(fmt.Sprintf("History database unavailable: %v", err))
		return
	}
	defer store.Close()

	if err := db.VerifyConfiguration(store.DB()); err != nil {
		presenter.Warning(fmt.Sprintf("History database misconfigured: %v", err))
		return
	}

	totals, err := store.LifetimeTotals(ctx)
	if err != nil {
		presenter.Warning(fmt.Sprintf("Could not read history totals: %v", err))
		return
	}
	presenter.Success(fmt.Sprintf("History database at %s: %d runs recorded, %s saved all time",
		cfg.ExpandedHistoryFile(), totals.Runs, presenter.HumanSize(totals.BytesSaved)))
}
