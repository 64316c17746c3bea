// Package media classifies file paths into the compression families the
// optimizer knows how to handle. Classification is purely extension based;
// content sniffing is deliberately out of scope so that behavior stays
// predictable from the staged file list alone.
package media

import (
	"path/filepath"
	"sort"
	"strings"
)

// Kind identifies the compression family a file belongs to.
type Kind int

const (
	// KindUnsupported marks files no compressor handles.
	KindUnsupported Kind = iota
	// KindLossyRaster covers JPEG-family images recompressed with quality loss.
	KindLossyRaster
	// KindLosslessRaster covers PNG-family images recompressed without quality loss.
	KindLosslessRaster
	// KindAnimatedRaster covers GIF images, including single-frame ones.
	KindAnimatedRaster
	// KindVector covers SVG documents minified structurally.
	KindVector
)

// String returns the kind's stable name, used in logs and outcome records.
func (k Kind) String() string {
	switch k {
	case KindLossyRaster:
		return "lossy-raster"
	case KindLosslessRaster:
		return "lossless-raster"
	case KindAnimatedRaster:
		return "animated-raster"
	case KindVector:
		return "vector"
	default:
		return "unsupported"
	}
}

var kindByExt = map[string]Kind{
	".jpg":  KindLossyRaster,
	".jpeg": KindLossyRaster,
	".png":  KindLosslessRaster,
	".gif":  KindAnimatedRaster,
	".svg":  KindVector,
}

// Classify maps a path to its media kind by extension, case-insensitively.
// Paths without a recognized extension classify as KindUnsupported.
func Classify(path string) Kind {
	ext := strings.ToLower(filepath.Ext(path))
	if kind, ok := kindByExt[ext]; ok {
		return kind
	}
	return KindUnsupported
}

// IsCandidate reports whether the path carries a recognized media extension.
// Non-candidates are filtered out before processing rather than reported as
// skipped.
func IsCandidate(path string) bool {
	return Classify(path) != KindUnsupported
}

// Kinds returns the supported kinds in a stable order.
func Kinds() []Kind {
	return []Kind{KindLossyRaster, KindLosslessRaster, KindAnimatedRaster, KindVector}
}

// Extensions returns the recognized extensions, sorted, for help text and
// diagnostics.
func Extensions() []string {
	exts := make([]string, 0, len(kindByExt))
	for ext := range kindByExt {
		exts = append(exts, ext)
	}
	sort.Strings(exts)
	return exts
}
