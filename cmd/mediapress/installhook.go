package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/jingkaihe/mediapress/pkg/git"
	"github.com/jingkaihe/mediapress/pkg/presenter"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

var installHookCmd = &cobra.Command{
	Use:   "install-hook",
	Short: "Install the managed pre-commit hook into this repository",
	Long: `Install-hook writes a pre-commit hook that runs "mediapress pre-commit"
before every commit. An existing hook from another tool is left alone unless
you confirm the replacement (or pass --force); the old hook is backed up
next to itself first.`,
	Run: func(cmd *cobra.Command, args []string) {
		ctx := cmd.Context()

		if !git.IsRepository(ctx) {
			presenter.Error(errors.New("not inside a git repository"), "Cannot install hook")
			os.Exit(1)
		}

		force, _ := cmd.Flags().GetBool("force")
		path, err := git.InstallHook(ctx, force)
		if errors.Is(err, git.ErrForeignHook) {
			presenter.Warning("A pre-commit hook from another tool is already installed")
			// A scripted run reads EOF here and keeps the refusal below.
			if strings.EqualFold(presenter.Prompt("Back it up and replace it?", "y", "N"), "y") {
				path, err = git.InstallHook(ctx, true)
			}
		}
		if err != nil {
			if errors.Is(err, git.ErrForeignHook) {
				presenter.Info("Re-run with --force to back it up and replace it")
				os.Exit(1)
			}
			presenter.Error(err, "Failed to install hook")
			os.Exit(1)
		}

		presenter.Success(fmt.Sprintf("Pre-commit hook installed at %s", path))
	},
}

var uninstallHookCmd = &cobra.Command{
	Use:   "uninstall-hook",
	Short: "Remove the managed pre-commit hook from this repository",
	Long: `Uninstall-hook removes the pre-commit hook previously written by
install-hook. Hooks that mediapress did not write are left alone.`,
	Run: func(cmd *cobra.Command, args []string) {
		ctx := cmd.Context()

		if !git.IsRepository(ctx) {
			presenter.Error(errors.New("not inside a git repository"), "Cannot uninstall hook")
			os.Exit(1)
		}

		path, err := git.UninstallHook(ctx)
		if err != nil {
			if errors.Is(err, git.ErrForeignHook) {
				presenter.Error(err, "The installed pre-commit hook belongs to another tool, leaving it alone")
				os.Exit(1)
			}
			presenter.Error(err, "Failed to uninstall hook")
			os.Exit(1)
		}

		presenter.Success(fmt.Sprintf("Pre-commit hook removed from %s", path))
	},
}

func init() {
	installHookCmd.Flags().Bool("force", false, "Replace a hook installed by another tool, backing it up first")
}
