package codec

import (
	"context"
	"os"
	"time"

	"github.com/jingkaihe/mediapress/pkg/media"
)

// SVGO minifies SVG documents structurally. Like gifsicle it writes a
// separate output file, so the original is replaced via a temp sibling.
type SVGO struct {
	multipass bool
	timeout   time.Duration
}

// NewSVGO returns the vector codec.
func NewSVGO(opts Options) *SVGO {
	return &SVGO{
		multipass: opts.SVGMultipass,
		timeout:   opts.Timeout,
	}
}

// Kind returns media.KindVector.
func (s *SVGO) Kind() media.Kind {
	return media.KindVector
}

// Tool returns the binary name.
func (s *SVGO) Tool() string {
	return "svgo"
}

func (s *SVGO) args(path, outPath string) []string {
	args := []string{}
	if s.multipass {
		args = append(args, "--multipass")
	}
	return append(args, "-o", outPath, path)
}

// Compress rewrites path through a temp sibling.
func (s *SVGO) Compress(ctx context.Context, path string) error {
	outPath, err := tempSibling(path)
	if err != nil {
		return err
	}

	if err := runTool(ctx, s.timeout, s.Tool(), s.args(path, outPath)...); err != nil {
		os.Remove(outPath)
		return err
	}

	return replaceFile(outPath, path)
}
