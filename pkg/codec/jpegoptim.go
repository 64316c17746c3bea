package codec

import (
	"context"
	"fmt"
	"time"

	"github.com/jingkaihe/mediapress/pkg/media"
)

// Jpegoptim recompresses JPEG images in place. Metadata is stripped and the
// output is made progressive, which on photographic content usually buys a
// few percent on top of the quality cap.
type Jpegoptim struct {
	quality int
	timeout time.Duration
}

// NewJpegoptim returns the lossy-raster codec.
func NewJpegoptim(opts Options) *Jpegoptim {
	return &Jpegoptim{
		quality: opts.JPEGQuality,
		timeout: opts.Timeout,
	}
}

// Kind returns media.KindLossyRaster.
func (j *Jpegoptim) Kind() media.Kind {
	return media.KindLossyRaster
}

// Tool returns the binary name.
func (j *Jpegoptim) Tool() string {
	return "jpegoptim"
}

func (j *Jpegoptim) args(path string) []string {
	return []string{
		"--strip-all",
		fmt.Sprintf("--max=%d", j.quality),
		"--all-progressive",
		"--quiet",
		path,
	}
}

// Compress rewrites path in place.
func (j *Jpegoptim) Compress(ctx context.Context, path string) error {
	return runTool(ctx, j.timeout, j.Tool(), j.args(path)...)
}
