// Package binaries resolves the external compressor binaries mediapress
// dispatches to. Compressors are system packages rather than managed
// downloads, so resolution is a PATH lookup with required/optional gating:
// missing required tools abort a run before any file is touched, missing
// optional tools degrade their media kind to unsupported.
package binaries

import (
	"context"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"

	"github.com/jingkaihe/mediapress/pkg/logger"
	"github.com/jingkaihe/mediapress/pkg/media"
)

// versionProbeTimeout bounds the --version call used for diagnostics.
const versionProbeTimeout = 5 * time.Second

// ErrMissingRequiredTool marks a compressor the pipeline cannot run without.
var ErrMissingRequiredTool = errors.New("required compressor not found")

// Tool describes one external compressor dependency.
type Tool struct {
	// Name is the binary name looked up on PATH.
	Name string
	// Kind is the media kind the tool serves.
	Kind media.Kind
	// Required aborts the run when true and the tool is absent.
	Required bool
	// InstallHint is a one-line install suggestion for diagnostics.
	InstallHint string
}

// Tools returns the full compressor dependency set, one per supported media
// kind, in a stable order. The raster compressors are required because they
// cover the overwhelming share of staged media; the animated and vector
// tools are optional extras.
func Tools() []Tool {
	return []Tool{
		{
			Name:        "jpegoptim",
			Kind:        media.KindLossyRaster,
			Required:    true,
			InstallHint: "apt install jpegoptim / brew install jpegoptim",
		},
		{
			Name:        "optipng",
			Kind:        media.KindLosslessRaster,
			Required:    true,
			InstallHint: "apt install optipng / brew install optipng",
		},
		{
			Name:        "gifsicle",
			Kind:        media.KindAnimatedRaster,
			Required:    false,
			InstallHint: "apt install gifsicle / brew install gifsicle",
		},
		{
			Name:        "svgo",
			Kind:        media.KindVector,
			Required:    false,
			InstallHint: "npm install -g svgo",
		},
	}
}

// Status is the resolution result for one tool.
type Status struct {
	Tool Tool
	// Path is the absolute binary path when found.
	Path string
	// Err is the lookup error when missing.
	Err error
}

// Found reports whether the tool resolved to a binary.
func (s Status) Found() bool {
	return s.Err == nil && s.Path != ""
}

// Availability maps each media kind to its tool resolution.
type Availability map[media.Kind]Status

// Supports reports whether files of the given kind can be compressed.
func (a Availability) Supports(kind media.Kind) bool {
	return a[kind].Found()
}

// MissingOptional returns the optional tools that did not resolve, in
// Tools() order, for the one-time degradation warning.
func (a Availability) MissingOptional() []Tool {
	var missing []Tool
	for _, tool := range Tools() {
		if !tool.Required && !a[tool.Kind].Found() {
			missing = append(missing, tool)
		}
	}
	return missing
}

// Resolve looks up every compressor on PATH once. Missing required tools
// are aggregated into one error so the user learns about all of them in a
// single failed run; missing optional tools only log.
func Resolve(ctx context.Context) (Availability, error) {
	avail := make(Availability, len(Tools()))
	var missing *multierror.Error

	for _, tool := range Tools() {
		path, err := exec.LookPath(tool.Name)
		avail[tool.Kind] = Status{Tool: tool, Path: path, Err: err}

		log := logger.G(ctx).WithField("tool", tool.Name).WithField("kind", tool.Kind.String())
		if err != nil {
			if tool.Required {
				missing = multierror.Append(missing, errors.Wrapf(ErrMissingRequiredTool,
					"%s is not installed (%s)", tool.Name, tool.InstallHint))
				continue
			}
			log.Warnf("%s not found, %s files will be skipped (%s)", tool.Name, tool.Kind, tool.InstallHint)
			continue
		}
		log.WithField("path", path).Debug("resolved compressor")
	}

	if err := missing.ErrorOrNil(); err != nil {
		return avail, err
	}
	return avail, nil
}

// availabilityCache provides process-lifetime caching for tool resolution
type availabilityCache struct {
	avail Availability
	err   error
	once  sync.Once
}

var resolveCache availabilityCache

// ResolveOnce resolves on the first call and returns the cached result
// afterwards. Long-lived callers (watch mode) use this so a tool installed
// mid-session does not change behavior within one process.
func ResolveOnce(ctx context.Context) (Availability, error) {
	resolveCache.once.Do(func() {
		resolveCache.avail, resolveCache.err = Resolve(ctx)
	})
	return resolveCache.avail, resolveCache.err
}

// Version returns the first line of the tool's --version output, or
// "unknown" if the probe fails. Diagnostics only.
func Version(ctx context.Context, path string) string {
	ctx, cancel := context.WithTimeout(ctx, versionProbeTimeout)
	defer cancel()

	out, err := exec.CommandContext(ctx, path, "--version").Output()
	if err != nil {
		return "unknown"
	}

	line, _, _ := strings.Cut(strings.TrimSpace(string(out)), "\n")
	if line == "" {
		return "unknown"
	}
	return line
}
