package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/jingkaihe/mediapress/pkg/binaries"
	"github.com/jingkaihe/mediapress/pkg/codec"
	"github.com/jingkaihe/mediapress/pkg/config"
	"github.com/jingkaihe/mediapress/pkg/git"
	"github.com/jingkaihe/mediapress/pkg/history"
	"github.com/jingkaihe/mediapress/pkg/logger"
	"github.com/jingkaihe/mediapress/pkg/optimizer"
	"github.com/jingkaihe/mediapress/pkg/presenter"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// runLockWait is how long a run waits for a concurrent run on the same
// working tree before bowing out.
const runLockWait = 10 * time.Second

// addPipelineFlags registers the tunables shared by optimize, pre-commit and
// watch. Defaults mirror the built-in configuration; only flags the user
// actually set override the loaded config file and profile.
func addPipelineFlags(cmd *cobra.Command) {
	flags := cmd.Flags()
	flags.Int64("min-size", 10*1024, "Size floor in bytes, smaller files are left alone")
	flags.Int("jpeg-quality", 85, "jpegoptim maximum quality (0-100)")
	flags.Int("png-level", 2, "optipng optimization level (0-7)")
	flags.Int("gif-level", 3, "gifsicle optimization level (1-3)")
	flags.Int("gif-max-colors", 256, "gifsicle palette size cap (2-256)")
	flags.Bool("svg-multipass", true, "Run svgo passes until the output stabilizes")
	flags.Duration("tool-timeout", codec.DefaultTimeout, "Time budget per compressor invocation")
	flags.Int("workers", 0, "Concurrent compressor invocations (0 = one per CPU)")
	flags.StringSlice("exclude", nil, "Glob patterns of files to leave alone (repeatable)")
	flags.Bool("no-cache", false, "Ignore the skip cache and recompress unchanged files")
	flags.Bool("no-history", false, "Do not record this run in the history database")
	flags.Bool("quiet", false, "Suppress per-file output")
}

// getPipelineConfig loads the effective configuration for a pipeline command:
// defaults, config file, environment and profile, then explicit flags on top.
func getPipelineConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	applyFlagOverrides(cmd, cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyFlagOverrides folds explicitly-set command line flags over the loaded
// configuration. Flags win over everything else.
func applyFlagOverrides(cmd *cobra.Command, cfg *config.Config) {
	flags := cmd.Flags()
	if flags.Changed("min-size") {
		if v, err := flags.GetInt64("min-size"); err == nil {
			cfg.MinSizeBytes = v
		}
	}
	if flags.Changed("jpeg-quality") {
		if v, err := flags.GetInt("jpeg-quality"); err == nil {
			cfg.JPEGQuality = v
		}
	}
	if flags.Changed("png-level") {
		if v, err := flags.GetInt("png-level"); err == nil {
			cfg.PNGLevel = v
		}
	}
	if flags.Changed("gif-level") {
		if v, err := flags.GetInt("gif-level"); err == nil {
			cfg.GIFLevel = v
		}
	}
	if flags.Changed("gif-max-colors") {
		if v, err := flags.GetInt("gif-max-colors"); err == nil {
			cfg.GIFMaxColors = v
		}
	}
	if flags.Changed("svg-multipass") {
		if v, err := flags.GetBool("svg-multipass"); err == nil {
			cfg.SVGMultipass = v
		}
	}
	if flags.Changed("tool-timeout") {
		if v, err := flags.GetDuration("tool-timeout"); err == nil {
			cfg.ToolTimeout = v
		}
	}
	if flags.Changed("workers") {
		if v, err := flags.GetInt("workers"); err == nil {
			cfg.Workers = v
		}
	}
	if flags.Changed("exclude") {
		if v, err := flags.GetStringSlice("exclude"); err == nil {
			cfg.Exclude = append(cfg.Exclude, v...)
		}
	}
	if flags.Changed("no-cache") {
		if v, err := flags.GetBool("no-cache"); err == nil {
			cfg.Cache = !v
		}
	}
	if flags.Changed("no-history") {
		if v, err := flags.GetBool("no-history"); err == nil {
			cfg.History = !v
		}
	}
}

// setupLogging applies the log level and format flags and attaches the
// configured log file sink.
func setupLogging(ctx context.Context, cfg *config.Config) {
	if level := viper.GetString("log_level"); level != "" {
		if err := logger.SetLogLevel(level); err != nil {
			logger.G(ctx).WithError(err).Warn("invalid log level, keeping the default")
		}
	}
	if format := viper.GetString("log_format"); format != "" {
		logger.SetLogFormat(format)
	}
	if path := cfg.ExpandedLogFile(); path != "" {
		if err := logger.AddFileSink(path); err != nil {
			logger.G(ctx).WithError(err).Warn("log file unavailable, logging to stderr only")
		}
	}
}

// codecOptions maps the configuration onto per-codec settings.
func codecOptions(cfg *config.Config) codec.Options {
	return codec.Options{
		JPEGQuality:  cfg.JPEGQuality,
		PNGLevel:     cfg.PNGLevel,
		GIFLevel:     cfg.GIFLevel,
		GIFMaxColors: cfg.GIFMaxColors,
		SVGMultipass: cfg.SVGMultipass,
		Timeout:      cfg.ToolTimeout,
	}
}

// newOptimizer wires the configured codecs, tool availability and skip cache
// into a ready-to-run optimizer.
func newOptimizer(cfg *config.Config, avail binaries.Availability, cache optimizer.SkipCache) *optimizer.Optimizer {
	return optimizer.New(codec.Registry(codecOptions(cfg)), avail, optimizer.Options{
		MinSize:   cfg.MinSizeBytes,
		Workers:   cfg.Workers,
		Exclude:   cfg.Exclude,
		Cache:     cache,
		OnOutcome: reportOutcome,
	})
}

// warnMissingOptional prints the once-per-run notice about optional
// compressors that are not installed.
func warnMissingOptional(avail binaries.Availability) {
	for _, tool := range avail.MissingOptional() {
		presenter.Warning(fmt.Sprintf("%s is not installed, %s files will be skipped (install with: %s)",
			tool.Name, tool.Kind, tool.InstallHint))
	}
}

// reportOutcome prints the user-facing line for one finished file. Skips are
// silent here, they only show up in the summary counts and the debug log.
func reportOutcome(out optimizer.Outcome) {
	switch out.Status {
	case optimizer.StatusOptimized:
		presenter.Info(presenter.SavingsLine(filepath.Base(out.Path), out.OrigSize, out.NewSize))
	case optimizer.StatusFailed:
		presenter.Warning(fmt.Sprintf("%s could not be optimized: %v", filepath.Base(out.Path), out.Err))
	}
}

// runStats converts a driver summary into the presenter's shape.
func runStats(summary *optimizer.Summary) *presenter.RunStats {
	return &presenter.RunStats{
		Processed:  summary.Processed,
		Optimized:  summary.Optimized,
		Skipped:    summary.Skipped,
		Failed:     summary.Failed,
		BytesSaved: summary.BytesSaved,
	}
}

// openHistory opens the history store when either run recording or the skip
// cache wants it. A broken store degrades to a warning; optimization itself
// never depends on it.
func openHistory(ctx context.Context, cfg *config.Config) *history.Store {
	if !cfg.History && !cfg.Cache {
		return nil
	}
	store, err := history.Open(ctx, cfg.ExpandedHistoryFile())
	if err != nil {
		logger.G(ctx).WithError(err).Warn("history database unavailable, continuing without it")
		return nil
	}
	return store
}

// skipCache returns the store as the optimizer's skip cache when caching is
// enabled.
func skipCache(store *history.Store, cfg *config.Config) optimizer.SkipCache {
	if store == nil || !cfg.Cache {
		return nil
	}
	return store
}

// recordRun persists a finished run when history recording is enabled.
func recordRun(ctx context.Context, store *history.Store, cfg *config.Config, source string, startedAt time.Time, summary *optimizer.Summary) {
	if store == nil || !cfg.History {
		return
	}
	repo := ""
	if git.IsRepository(ctx) {
		if top, err := git.TopLevel(ctx); err == nil {
			repo = top
		}
	}
	if _, err := store.RecordRun(ctx, source, repo, startedAt, summary); err != nil {
		logger.G(ctx).WithError(err).Warn("failed to record run in history")
	}
}

// runLockPath returns the lock file guarding this working tree, or the
// user-level lock when run outside a repository.
func runLockPath(ctx context.Context) string {
	if git.IsRepository(ctx) {
		if dir, err := git.Dir(ctx); err == nil {
			return filepath.Join(dir, "mediapress.lock")
		}
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".mediapress", "run.lock")
	}
	return filepath.Join(os.TempDir(), "mediapress.lock")
}
