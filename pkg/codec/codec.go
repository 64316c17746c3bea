// Package codec wraps the external compressors the optimizer dispatches to.
// Each codec rewrites one file of its kind with a smaller encoding of the
// same content. In-place tools (jpegoptim, optipng) are invoked directly on
// the target; tools that write a separate output (gifsicle, svgo) go through
// a temp sibling and an atomic rename. Codecs never decide whether the
// result is worth keeping, that is the optimizer's job.
package codec

import (
	"bytes"
	"context"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/jingkaihe/mediapress/pkg/media"
)

// DefaultTimeout bounds a single compressor invocation when no timeout is
// configured.
const DefaultTimeout = 30 * time.Second

// Codec compresses files of one media kind.
type Codec interface {
	// Kind returns the media kind this codec handles.
	Kind() media.Kind
	// Tool returns the external binary name the codec shells out to.
	Tool() string
	// Compress rewrites path with a smaller encoding of itself. On error the
	// codec has not replaced the file, though an in-place tool may have
	// partially written it; callers hold a backup for that case.
	Compress(ctx context.Context, path string) error
}

// Options holds the per-codec tunables.
type Options struct {
	// JPEGQuality is the jpegoptim --max value (0-100).
	JPEGQuality int
	// PNGLevel is the optipng -o optimization level (0-7).
	PNGLevel int
	// GIFLevel is the gifsicle -O optimization level (1-3).
	GIFLevel int
	// GIFMaxColors caps the gifsicle palette (2-256).
	GIFMaxColors int
	// SVGMultipass enables repeated svgo passes until the output is stable.
	SVGMultipass bool
	// Timeout bounds each invocation; zero means DefaultTimeout.
	Timeout time.Duration
}

// DefaultOptions returns the tunables used when nothing is configured.
func DefaultOptions() Options {
	return Options{
		JPEGQuality:  85,
		PNGLevel:     2,
		GIFLevel:     3,
		GIFMaxColors: 256,
		SVGMultipass: true,
		Timeout:      DefaultTimeout,
	}
}

// Registry returns one codec per supported media kind.
func Registry(opts Options) map[media.Kind]Codec {
	return map[media.Kind]Codec{
		media.KindLossyRaster:    NewJpegoptim(opts),
		media.KindLosslessRaster: NewOptipng(opts),
		media.KindAnimatedRaster: NewGifsicle(opts),
		media.KindVector:         NewSVGO(opts),
	}
}

// runTool runs a single compressor invocation with timeout enforcement
func runTool(ctx context.Context, timeout time.Duration, name string, args ...string) error {
	if timeout == 0 {
		timeout = DefaultTimeout
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, name, args...)

	var stderr bytes.Buffer
	cmd.Stdout = io.Discard
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return errors.Errorf("%s timed out after %s", name, timeout)
		}
		return errors.Wrapf(err, "%s failed: %s", name, strings.TrimSpace(stderr.String()))
	}

	return nil
}

// tempSibling creates an empty temp file next to path for a compressor to
// write its output into, and returns its name. Same directory as the target
// so the final rename never crosses filesystems.
func tempSibling(path string) (string, error) {
	dir := filepath.Dir(path)
	base := filepath.Base(path)

	f, err := os.CreateTemp(dir, "."+base+".*.tmp")
	if err != nil {
		return "", errors.Wrapf(err, "failed to create temp output for %s", path)
	}
	name := f.Name()
	if err := f.Close(); err != nil {
		os.Remove(name)
		return "", errors.Wrapf(err, "failed to close temp output for %s", path)
	}
	return name, nil
}

// replaceFile moves tmpPath over destPath, carrying over destPath's mode.
func replaceFile(tmpPath, destPath string) error {
	if info, err := os.Stat(destPath); err == nil {
		_ = os.Chmod(tmpPath, info.Mode())
	}

	if err := os.Rename(tmpPath, destPath); err != nil {
		os.Remove(tmpPath)
		return errors.Wrapf(err, "failed to replace %s", destPath)
	}
	return nil
}
