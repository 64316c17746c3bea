package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/jingkaihe/mediapress/pkg/binaries"
	"github.com/jingkaihe/mediapress/pkg/logger"
	"github.com/jingkaihe/mediapress/pkg/media"
	"github.com/jingkaihe/mediapress/pkg/optimizer"
	"github.com/jingkaihe/mediapress/pkg/presenter"
	"github.com/jingkaihe/mediapress/pkg/runlock"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

// WatchConfig holds configuration for the watch command
type WatchConfig struct {
	IgnoreDirs   []string
	DebounceTime int
}

// NewWatchConfig creates a new WatchConfig with default values
func NewWatchConfig() *WatchConfig {
	return &WatchConfig{
		IgnoreDirs:   []string{".git", "node_modules", "vendor"},
		DebounceTime: 500,
	}
}

// Validate validates the WatchConfig and returns an error if invalid
func (c *WatchConfig) Validate() error {
	if c.DebounceTime < 0 {
		return errors.Errorf("debounce time cannot be negative: %d", c.DebounceTime)
	}
	return nil
}

// FileEvent represents a file system event with additional metadata
type FileEvent struct {
	Path string
	Op   fsnotify.Op
	Time time.Time
}

var watchCmd = &cobra.Command{
	Use:   "watch [dir]",
	Short: "Watch a directory and optimize media files as they change",
	Long: `Continuously monitors the given directory (default: the current one) and
optimizes every JPEG, PNG, GIF or SVG file as soon as it is written, with
the same size-floor and strictly-smaller rules as a one-off run.

Rapid successive writes to the same file are debounced, and writes done by
mediapress itself are recognized and left alone.`,
	Args: cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		// Create a cancellable context that listens for signals
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

		cfg, err := getPipelineConfig(cmd)
		if err != nil {
			presenter.Error(err, "Invalid configuration")
			os.Exit(1)
		}
		setupLogging(ctx, cfg)
		if quiet, err := cmd.Flags().GetBool("quiet"); err == nil {
			presenter.SetQuiet(quiet)
		}

		watchConfig := getWatchConfigFromFlags(cmd)
		if err := watchConfig.Validate(); err != nil {
			presenter.Error(err, "Invalid configuration")
			os.Exit(1)
		}

		dir := "."
		if len(args) > 0 {
			dir = args[0]
		}

		avail, err := binaries.ResolveOnce(ctx)
		if err != nil {
			presenter.Error(err, "Missing required compressors")
			os.Exit(1)
		}
		warnMissingOptional(avail)

		// The lock is held for the whole session: a pre-commit run on the
		// same tree would race the watcher on the same files.
		unlock, err := runlock.Acquire(ctx, runLockPath(ctx), runLockWait)
		if err != nil {
			presenter.Error(err, "Could not acquire run lock")
			os.Exit(1)
		}
		defer unlock()

		store := openHistory(ctx, cfg)
		if store != nil {
			defer store.Close()
		}

		cache := newWatchCache(skipCache(store, cfg))
		opt := newOptimizer(cfg, avail, cache)

		startedAt := time.Now()
		summary := runWatchMode(ctx, opt, cache, watchConfig, dir)
		summary.Duration = time.Since(startedAt)

		if summary.Processed > 0 {
			presenter.Separator()
			presenter.Stats(runStats(summary))

			// The run context is already cancelled at this point, give the
			// final history write its own deadline.
			recordCtx, recordCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer recordCancel()
			recordRun(recordCtx, store, cfg, "watch", startedAt, summary)
		}
	},
}

func init() {
	defaults := NewWatchConfig()
	watchCmd.Flags().StringSliceP("ignore", "i", defaults.IgnoreDirs, "Directories to ignore")
	watchCmd.Flags().IntP("debounce", "d", defaults.DebounceTime, "Debounce time in milliseconds for file change events")
	addPipelineFlags(watchCmd)
}

// getWatchConfigFromFlags extracts watch configuration from command flags
func getWatchConfigFromFlags(cmd *cobra.Command) *WatchConfig {
	config := NewWatchConfig()

	if ignoreDirs, err := cmd.Flags().GetStringSlice("ignore"); err == nil {
		config.IgnoreDirs = ignoreDirs
	}
	if debounceTime, err := cmd.Flags().GetInt("debounce"); err == nil {
		config.DebounceTime = debounceTime
	}

	return config
}

// runWatchMode watches dir until the context is cancelled and returns the
// accumulated session summary.
func runWatchMode(ctx context.Context, opt *optimizer.Optimizer, cache *watchCache, config *WatchConfig, dir string) *optimizer.Summary {
	summary := &optimizer.Summary{}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		presenter.Error(err, "Failed to create file watcher")
		logger.G(ctx).WithError(err).Fatal("Failed to create file watcher")
	}
	defer watcher.Close()

	// Setup debouncing mechanism
	events := make(chan FileEvent)
	debouncedEvents := make(chan FileEvent)

	// Start debouncer goroutine
	go debounceFileEvents(ctx, events, debouncedEvents, time.Duration(config.DebounceTime)*time.Millisecond)

	// Process events
	processorDone := make(chan struct{})
	go func() {
		defer close(processorDone)
		for {
			select {
			case event, ok := <-debouncedEvents:
				if !ok {
					return
				}
				if cache.ownWrite(event.Path) {
					logger.G(ctx).WithField("file", event.Path).Debug("ignoring our own write")
					continue
				}
				presenter.Info(fmt.Sprintf("Change detected: %s (%s)", event.Path, event.Op))
				logger.G(ctx).WithFields(map[string]interface{}{
					"file":      event.Path,
					"operation": event.Op.String(),
					"timestamp": event.Time,
				}).Debug("File change detected")

				pass, err := opt.Run(ctx, []string{event.Path})
				if err != nil {
					logger.G(ctx).WithError(err).Warn("optimization pass failed")
					continue
				}
				summary.Outcomes = append(summary.Outcomes, pass.Outcomes...)
				summary.Processed += pass.Processed
				summary.Optimized += pass.Optimized
				summary.Skipped += pass.Skipped
				summary.Failed += pass.Failed
				summary.BytesSaved += pass.BytesSaved
			case <-ctx.Done():
				return
			}
		}
	}()

	// Watch for events
	go func() {
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				// Skip ignored directories
				skipEvent := false
				for _, ignoreDir := range config.IgnoreDirs {
					if strings.Contains(event.Name, ignoreDir+string(os.PathSeparator)) {
						skipEvent = true
						break
					}
				}
				if skipEvent {
					continue
				}

				// Only process write and create events on media files; the
				// compressors' temp siblings carry unrecognized extensions
				// and drop out here
				if event.Op&(fsnotify.Write|fsnotify.Create) != 0 && media.IsCandidate(event.Name) {
					events <- FileEvent{
						Path: event.Name,
						Op:   event.Op,
						Time: time.Now(),
					}
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				presenter.Error(err, "File watcher error")
				logger.G(ctx).WithError(err).Error("Error watching files")
			case <-ctx.Done():
				return
			}
		}
	}()

	// Add the directory and subdirectories to the watcher
	err = filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			// Skip ignored directories
			for _, ignoreDir := range config.IgnoreDirs {
				if strings.Contains(path, ignoreDir+string(os.PathSeparator)) || filepath.Base(path) == ignoreDir {
					logger.G(ctx).WithField("directory", path).Debug("Skipping ignored directory")
					return filepath.SkipDir
				}
			}
			logger.G(ctx).WithField("directory", path).Debug("Adding directory to watcher")
			return watcher.Add(path)
		}
		return nil
	})
	if err != nil {
		presenter.Error(err, "Failed to watch directories")
		logger.G(ctx).WithError(err).Fatal("Failed to watch directories")
	}

	presenter.Info(fmt.Sprintf("Watching %s for media changes... Press Ctrl+C to stop", dir))
	logger.G(ctx).WithField("directory", dir).Info("File watcher initialized")

	// Wait for cancellation, then for the in-flight pass to finish
	<-ctx.Done()
	<-processorDone

	return summary
}

// Debounce file events to prevent processing multiple rapid changes to the same file
func debounceFileEvents(ctx context.Context, input <-chan FileEvent, output chan<- FileEvent, delay time.Duration) {
	var pending = make(map[string]*time.Timer)

	for {
		select {
		case event, ok := <-input:
			if !ok {
				for _, timer := range pending {
					timer.Stop()
				}
				return
			}
			// Cancel any pending timer for this file; fired ones are
			// replaced in place
			if timer, exists := pending[event.Path]; exists {
				timer.Stop()
			}

			eventCopy := event // Create a copy of the event to avoid race conditions
			pending[event.Path] = time.AfterFunc(delay, func() {
				select {
				case output <- eventCopy:
				case <-ctx.Done():
				}
			})
		case <-ctx.Done():
			for _, timer := range pending {
				timer.Stop()
			}
			return
		}
	}
}

// watchCache layers an in-memory fingerprint map over the persistent skip
// cache. Besides the usual short-circuit it lets the watcher recognize write
// events caused by its own optimization passes.
type watchCache struct {
	mu      sync.Mutex
	entries map[string]watchFingerprint
	next    optimizer.SkipCache
}

type watchFingerprint struct {
	size    int64
	mtimeNS int64
}

func newWatchCache(next optimizer.SkipCache) *watchCache {
	return &watchCache{
		entries: make(map[string]watchFingerprint),
		next:    next,
	}
}

// ShouldSkip reports whether the file matches a fingerprint recorded by an
// earlier pass, checking the in-memory layer first.
func (c *watchCache) ShouldSkip(ctx context.Context, path string, size, mtimeNS int64) bool {
	c.mu.Lock()
	fp, ok := c.entries[path]
	c.mu.Unlock()
	if ok && fp.size == size && fp.mtimeNS == mtimeNS {
		return true
	}
	if c.next != nil {
		return c.next.ShouldSkip(ctx, path, size, mtimeNS)
	}
	return false
}

// Remember records the file's post-pass fingerprint in both layers.
func (c *watchCache) Remember(ctx context.Context, path string, size, mtimeNS int64) {
	c.mu.Lock()
	c.entries[path] = watchFingerprint{size: size, mtimeNS: mtimeNS}
	c.mu.Unlock()
	if c.next != nil {
		c.next.Remember(ctx, path, size, mtimeNS)
	}
}

// ownWrite reports whether the file on disk is exactly what the last
// optimization pass left behind, meaning the event came from mediapress
// itself.
func (c *watchCache) ownWrite(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	c.mu.Lock()
	fp, ok := c.entries[path]
	c.mu.Unlock()
	return ok && fp.size == info.Size() && fp.mtimeNS == info.ModTime().UnixNano()
}
