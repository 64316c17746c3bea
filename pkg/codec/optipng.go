package codec

import (
	"context"
	"fmt"
	"time"

	"github.com/jingkaihe/mediapress/pkg/media"
)

// Optipng recompresses PNG images in place without quality loss. The level
// trades CPU time for a denser filter/deflate search.
type Optipng struct {
	level   int
	timeout time.Duration
}

// NewOptipng returns the lossless-raster codec.
func NewOptipng(opts Options) *Optipng {
	return &Optipng{
		level:   opts.PNGLevel,
		timeout: opts.Timeout,
	}
}

// Kind returns media.KindLosslessRaster.
func (o *Optipng) Kind() media.Kind {
	return media.KindLosslessRaster
}

// Tool returns the binary name.
func (o *Optipng) Tool() string {
	return "optipng"
}

func (o *Optipng) args(path string) []string {
	return []string{
		fmt.Sprintf("-o%d", o.level),
		"-quiet",
		path,
	}
}

// Compress rewrites path in place.
func (o *Optipng) Compress(ctx context.Context, path string) error {
	return runTool(ctx, o.timeout, o.Tool(), o.args(path)...)
}
