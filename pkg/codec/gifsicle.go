package codec

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/jingkaihe/mediapress/pkg/media"
)

// Gifsicle recompresses GIF images, animated or not. gifsicle refuses to
// write its input, so output goes to a temp sibling that replaces the
// original only after a clean exit.
type Gifsicle struct {
	level     int
	maxColors int
	timeout   time.Duration
}

// NewGifsicle returns the animated-raster codec.
func NewGifsicle(opts Options) *Gifsicle {
	return &Gifsicle{
		level:     opts.GIFLevel,
		maxColors: opts.GIFMaxColors,
		timeout:   opts.Timeout,
	}
}

// Kind returns media.KindAnimatedRaster.
func (g *Gifsicle) Kind() media.Kind {
	return media.KindAnimatedRaster
}

// Tool returns the binary name.
func (g *Gifsicle) Tool() string {
	return "gifsicle"
}

func (g *Gifsicle) args(path, outPath string) []string {
	return []string{
		fmt.Sprintf("-O%d", g.level),
		"--colors", strconv.Itoa(g.maxColors),
		"-o", outPath,
		path,
	}
}

// Compress rewrites path through a temp sibling.
func (g *Gifsicle) Compress(ctx context.Context, path string) error {
	outPath, err := tempSibling(path)
	if err != nil {
		return err
	}

	if err := runTool(ctx, g.timeout, g.Tool(), g.args(path, outPath)...); err != nil {
		os.Remove(outPath)
		return err
	}

	return replaceFile(outPath, path)
}
