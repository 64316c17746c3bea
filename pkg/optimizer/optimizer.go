// Package optimizer runs external compressors over media files and keeps a
// result only when it is strictly smaller than the original. Every file is
// snapshotted to a transient sibling backup before its compressor runs, so
// a failed or useless pass always leaves the original bytes in place.
package optimizer

import (
	"context"
	"os"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/jingkaihe/mediapress/pkg/binaries"
	"github.com/jingkaihe/mediapress/pkg/codec"
	"github.com/jingkaihe/mediapress/pkg/logger"
	"github.com/jingkaihe/mediapress/pkg/media"
	"github.com/jingkaihe/mediapress/pkg/telemetry"
)

// Status labels the outcome of one file's pass through the pipeline.
type Status string

const (
	// StatusOptimized means the compressed result was smaller and was kept.
	StatusOptimized Status = "optimized"
	// StatusTooSmall means the file was below the size floor and was never
	// touched.
	StatusTooSmall Status = "skipped-too-small"
	// StatusNoGain means the compressor produced no size win and the
	// original was restored.
	StatusNoGain Status = "skipped-no-gain"
	// StatusUnsupported means no compressor handles the file, either
	// because its format is unrecognized or its optional tool is not
	// installed.
	StatusUnsupported Status = "skipped-unsupported-format"
	// StatusFailed means a required compressor was missing or an invocation
	// failed; the original bytes were restored.
	StatusFailed Status = "failed-missing-tool"
)

// Outcome reports what happened to a single file.
type Outcome struct {
	Path     string
	Kind     media.Kind
	Status   Status
	OrigSize int64
	// NewSize is the on-disk size after the pass. It equals OrigSize unless
	// the status is StatusOptimized.
	NewSize  int64
	Duration time.Duration
	Err      error
}

// Saved returns the byte win for kept results, zero otherwise.
func (o Outcome) Saved() int64 {
	if o.Status == StatusOptimized {
		return o.OrigSize - o.NewSize
	}
	return 0
}

// SkipCache remembers (size, mtime) fingerprints of already-optimized
// files so repeat runs skip them without invoking a compressor.
type SkipCache interface {
	ShouldSkip(ctx context.Context, path string, size, mtimeNS int64) bool
	Remember(ctx context.Context, path string, size, mtimeNS int64)
}

// Options tunes a run.
type Options struct {
	// MinSize is the size floor in bytes; smaller files are skipped without
	// side effects.
	MinSize int64
	// Workers caps concurrent compressor invocations. Zero means one per
	// CPU.
	Workers int
	// Exclude holds doublestar patterns; matching files drop out of the run
	// before they are counted.
	Exclude []string
	// Cache, when set, short-circuits files whose fingerprint matches a
	// previous optimization.
	Cache SkipCache
	// OnOutcome, when set, is called serially as each file finishes, in
	// completion order.
	OnOutcome func(Outcome)
}

// Optimizer dispatches files to their codecs under the keep-or-revert rule.
type Optimizer struct {
	codecs map[media.Kind]codec.Codec
	avail  binaries.Availability
	opts   Options
}

// New returns an Optimizer over the given codec registry and tool
// availability.
func New(codecs map[media.Kind]codec.Codec, avail binaries.Availability, opts Options) *Optimizer {
	return &Optimizer{codecs: codecs, avail: avail, opts: opts}
}

// OptimizeFile runs the full pipeline for one file and reports the outcome.
// It never returns an error: failures are outcomes too, with the original
// file left intact.
func (o *Optimizer) OptimizeFile(ctx context.Context, path string) Outcome {
	start := time.Now()
	var out Outcome
	telemetry.WithSpanFunc(ctx, "optimizer.file", func(ctx context.Context) {
		out = o.optimizeFile(ctx, path)
		telemetry.SetAttributes(ctx, telemetry.OutcomeAttributes(out.Kind.String(), string(out.Status), out.Saved())...)
		if out.Err != nil {
			telemetry.RecordError(ctx, out.Err)
		}
	}, telemetry.FileAttribute(path))
	out.Duration = time.Since(start)
	return out
}

func (o *Optimizer) optimizeFile(ctx context.Context, path string) Outcome {
	out := Outcome{Path: path, Kind: media.Classify(path)}
	log := logger.G(ctx).WithField("file", path)

	if out.Kind == media.KindUnsupported {
		out.Status = StatusUnsupported
		log.Debug("no recognized media kind, leaving untouched")
		return out
	}
	log = log.WithField("kind", out.Kind.String())

	info, err := os.Stat(path)
	if err != nil {
		out.Status = StatusFailed
		out.Err = errors.Wrapf(err, "stating %s", path)
		log.WithError(err).Error("cannot stat file")
		return out
	}
	out.OrigSize = info.Size()
	out.NewSize = info.Size()

	if info.Size() < o.opts.MinSize {
		out.Status = StatusTooSmall
		log.WithField("size", info.Size()).Debug("below size floor, leaving untouched")
		return out
	}

	if !o.avail.Supports(out.Kind) {
		if o.avail[out.Kind].Tool.Required {
			out.Status = StatusFailed
			out.Err = errors.Wrapf(binaries.ErrMissingRequiredTool, "no compressor for %s files", out.Kind)
			log.Debug("required compressor missing")
			return out
		}
		out.Status = StatusUnsupported
		log.Debug("optional compressor missing, skipping")
		return out
	}

	c, ok := o.codecs[out.Kind]
	if !ok {
		out.Status = StatusUnsupported
		log.Debug("no codec wired for this kind, skipping")
		return out
	}

	if o.opts.Cache != nil && o.opts.Cache.ShouldSkip(ctx, path, info.Size(), info.ModTime().UnixNano()) {
		out.Status = StatusNoGain
		log.Debug("unchanged since last optimization, skipping")
		return out
	}

	backup, err := NewBackup(path)
	if err != nil {
		out.Status = StatusFailed
		out.Err = err
		log.WithError(err).Error("cannot snapshot file before compressing, leaving it untouched")
		return out
	}

	if err := c.Compress(ctx, path); err != nil {
		out.Status = StatusFailed
		out.Err = err
		log.WithField("tool", c.Tool()).WithError(err).Warn("compressor failed, restoring original")
		o.restore(ctx, &out, backup)
		return out
	}

	after, err := os.Stat(path)
	if err != nil {
		out.Status = StatusFailed
		out.Err = errors.Wrapf(err, "stating %s after compression", path)
		o.restore(ctx, &out, backup)
		return out
	}

	if after.Size() >= out.OrigSize {
		out.Status = StatusNoGain
		log.WithField("size", after.Size()).Debug("no size win, restoring original")
		o.restore(ctx, &out, backup)
		if out.Status == StatusNoGain {
			o.remember(ctx, path)
		}
		return out
	}

	out.NewSize = after.Size()
	out.Status = StatusOptimized
	if err := backup.Remove(); err != nil {
		log.WithError(err).Warn("could not remove backup copy")
	}
	o.remember(ctx, path)
	log.WithFields(logrus.Fields{
		"orig_size": out.OrigSize,
		"new_size":  out.NewSize,
	}).Debug("optimized")
	return out
}

// remember stores the file's current fingerprint in the skip cache.
func (o *Optimizer) remember(ctx context.Context, path string) {
	if o.opts.Cache == nil {
		return
	}
	info, err := os.Stat(path)
	if err != nil {
		return
	}
	o.opts.Cache.Remember(ctx, path, info.Size(), info.ModTime().UnixNano())
}

// restore undoes the compressor's write. If the rename itself fails the
// compressed bytes stay in place and the backup file is kept for manual
// recovery, with its location logged.
func (o *Optimizer) restore(ctx context.Context, out *Outcome, backup *Backup) {
	if err := backup.Restore(); err != nil {
		out.Status = StatusFailed
		out.Err = multierror.Append(out.Err, err).ErrorOrNil()
		logger.G(ctx).WithFields(logrus.Fields{
			"file":       out.Path,
			"safety_net": backup.Path(),
		}).WithError(err).Error("could not restore original file, pre-compression copy kept")
	}
}
