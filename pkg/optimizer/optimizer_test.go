package optimizer

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jingkaihe/mediapress/pkg/binaries"
	"github.com/jingkaihe/mediapress/pkg/codec"
	"github.com/jingkaihe/mediapress/pkg/media"
)

// fakeCodec lets tests script what a compressor does to the target file.
type fakeCodec struct {
	kind media.Kind
	fn   func(path string) error
}

func (f *fakeCodec) Kind() media.Kind { return f.kind }
func (f *fakeCodec) Tool() string     { return "fake-" + f.kind.String() }
func (f *fakeCodec) Compress(_ context.Context, path string) error {
	return f.fn(path)
}

// shrinkCodec halves the file.
func shrinkCodec(kind media.Kind) codec.Codec {
	return &fakeCodec{kind: kind, fn: func(path string) error {
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		return os.WriteFile(path, data[:len(data)/2], 0o644)
	}}
}

// rewriteCodec rewrites the file with the same bytes, winning nothing.
func rewriteCodec(kind media.Kind) codec.Codec {
	return &fakeCodec{kind: kind, fn: func(path string) error {
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		return os.WriteFile(path, data, 0o644)
	}}
}

// growCodec doubles the file.
func growCodec(kind media.Kind) codec.Codec {
	return &fakeCodec{kind: kind, fn: func(path string) error {
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		return os.WriteFile(path, append(data, data...), 0o644)
	}}
}

// corruptingCodec mangles the file and then reports failure, imitating a
// tool that died mid-write.
func corruptingCodec(kind media.Kind) codec.Codec {
	return &fakeCodec{kind: kind, fn: func(path string) error {
		if err := os.WriteFile(path, []byte("partial garbage"), 0o644); err != nil {
			return err
		}
		return errors.New("tool exploded")
	}}
}

// fixedCodec rewrites the file to a fixed payload regardless of input, so a
// second pass over its own output cannot shrink it further.
func fixedCodec(kind media.Kind, payload []byte) codec.Codec {
	return &fakeCodec{kind: kind, fn: func(path string) error {
		return os.WriteFile(path, payload, 0o644)
	}}
}

// allAvailable marks every compressor as resolved.
func allAvailable() binaries.Availability {
	avail := make(binaries.Availability)
	for _, tool := range binaries.Tools() {
		avail[tool.Kind] = binaries.Status{Tool: tool, Path: "/usr/bin/" + tool.Name}
	}
	return avail
}

// availableExcept marks every compressor as resolved except the named kinds.
func availableExcept(missing ...media.Kind) binaries.Availability {
	avail := allAvailable()
	for _, kind := range missing {
		status := avail[kind]
		status.Path = ""
		status.Err = errors.New("not found on PATH")
		avail[kind] = status
	}
	return avail
}

// mediaFile writes a file of the given size and returns its path.
func mediaFile(t *testing.T, dir, name string, size int) string {
	t.Helper()
	data := bytes.Repeat([]byte(name+"|"), size/len(name+"|")+1)[:size]
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

func assertNoBackupLeftovers(t *testing.T, dir string) {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	for _, entry := range entries {
		assert.NotContains(t, entry.Name(), ".bak.", "leftover backup %s", entry.Name())
	}
}

func TestOptimizeFile_KeepsSmallerResult(t *testing.T) {
	dir := t.TempDir()
	path := mediaFile(t, dir, "photo.jpg", 20*1024)

	codecs := map[media.Kind]codec.Codec{media.KindLossyRaster: shrinkCodec(media.KindLossyRaster)}
	o := New(codecs, allAvailable(), Options{MinSize: 10 * 1024})

	out := o.OptimizeFile(context.Background(), path)

	assert.Equal(t, StatusOptimized, out.Status)
	assert.Equal(t, media.KindLossyRaster, out.Kind)
	assert.EqualValues(t, 20*1024, out.OrigSize)
	assert.EqualValues(t, 10*1024, out.NewSize)
	assert.EqualValues(t, 10*1024, out.Saved())
	assert.NoError(t, out.Err)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.EqualValues(t, 10*1024, info.Size())
	assertNoBackupLeftovers(t, dir)
}

func TestOptimizeFile_BelowSizeFloorIsUntouched(t *testing.T) {
	dir := t.TempDir()
	path := mediaFile(t, dir, "icon.png", 512)
	before, err := os.ReadFile(path)
	require.NoError(t, err)

	called := false
	codecs := map[media.Kind]codec.Codec{
		media.KindLosslessRaster: &fakeCodec{kind: media.KindLosslessRaster, fn: func(string) error {
			called = true
			return nil
		}},
	}
	o := New(codecs, allAvailable(), Options{MinSize: 10 * 1024})

	out := o.OptimizeFile(context.Background(), path)

	assert.Equal(t, StatusTooSmall, out.Status)
	assert.EqualValues(t, 512, out.OrigSize)
	assert.EqualValues(t, 512, out.NewSize)
	assert.False(t, called, "compressor must not run below the size floor")

	after, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, before, after)

	// Zero side effects: no backup was ever created.
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestOptimizeFile_ZeroFloorDisablesSizeCheck(t *testing.T) {
	dir := t.TempDir()
	path := mediaFile(t, dir, "icon.png", 512)

	codecs := map[media.Kind]codec.Codec{media.KindLosslessRaster: shrinkCodec(media.KindLosslessRaster)}
	o := New(codecs, allAvailable(), Options{MinSize: 0})

	out := o.OptimizeFile(context.Background(), path)
	assert.Equal(t, StatusOptimized, out.Status)
	assert.EqualValues(t, 256, out.NewSize)
}

func TestOptimizeFile_NoGainRestoresOriginal(t *testing.T) {
	dir := t.TempDir()
	path := mediaFile(t, dir, "flat.svg", 12*1024)
	before, err := os.ReadFile(path)
	require.NoError(t, err)

	codecs := map[media.Kind]codec.Codec{media.KindVector: rewriteCodec(media.KindVector)}
	o := New(codecs, allAvailable(), Options{MinSize: 10 * 1024})

	out := o.OptimizeFile(context.Background(), path)

	// Equal size is not a win.
	assert.Equal(t, StatusNoGain, out.Status)
	assert.Equal(t, out.OrigSize, out.NewSize)
	assert.EqualValues(t, 0, out.Saved())

	after, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, before, after)
	assertNoBackupLeftovers(t, dir)
}

func TestOptimizeFile_GrowthRestoresOriginal(t *testing.T) {
	dir := t.TempDir()
	path := mediaFile(t, dir, "anim.gif", 12*1024)
	before, err := os.ReadFile(path)
	require.NoError(t, err)

	codecs := map[media.Kind]codec.Codec{media.KindAnimatedRaster: growCodec(media.KindAnimatedRaster)}
	o := New(codecs, allAvailable(), Options{MinSize: 10 * 1024})

	out := o.OptimizeFile(context.Background(), path)

	assert.Equal(t, StatusNoGain, out.Status)
	assert.EqualValues(t, 12*1024, out.NewSize)

	after, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, before, after)
	assertNoBackupLeftovers(t, dir)
}

func TestOptimizeFile_FailureRestoresOriginal(t *testing.T) {
	dir := t.TempDir()
	path := mediaFile(t, dir, "photo.jpg", 12*1024)
	before, err := os.ReadFile(path)
	require.NoError(t, err)

	codecs := map[media.Kind]codec.Codec{media.KindLossyRaster: corruptingCodec(media.KindLossyRaster)}
	o := New(codecs, allAvailable(), Options{MinSize: 10 * 1024})

	out := o.OptimizeFile(context.Background(), path)

	assert.Equal(t, StatusFailed, out.Status)
	require.Error(t, out.Err)
	assert.Contains(t, out.Err.Error(), "tool exploded")

	after, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, before, after, "corrupted bytes must be rolled back")
	assertNoBackupLeftovers(t, dir)
}

func TestOptimizeFile_UnsupportedExtension(t *testing.T) {
	o := New(nil, allAvailable(), Options{})

	// Never statted, so a nonexistent path is fine.
	out := o.OptimizeFile(context.Background(), filepath.Join(t.TempDir(), "texture.bmp"))

	assert.Equal(t, StatusUnsupported, out.Status)
	assert.Equal(t, media.KindUnsupported, out.Kind)
	assert.NoError(t, out.Err)
}

func TestOptimizeFile_OptionalToolMissingSkips(t *testing.T) {
	dir := t.TempDir()
	path := mediaFile(t, dir, "anim.gif", 12*1024)
	before, err := os.ReadFile(path)
	require.NoError(t, err)

	codecs := map[media.Kind]codec.Codec{media.KindAnimatedRaster: shrinkCodec(media.KindAnimatedRaster)}
	o := New(codecs, availableExcept(media.KindAnimatedRaster), Options{MinSize: 10 * 1024})

	out := o.OptimizeFile(context.Background(), path)

	assert.Equal(t, StatusUnsupported, out.Status)
	assert.NoError(t, out.Err)

	after, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestOptimizeFile_RequiredToolMissingFails(t *testing.T) {
	dir := t.TempDir()
	path := mediaFile(t, dir, "photo.jpg", 12*1024)

	codecs := map[media.Kind]codec.Codec{media.KindLossyRaster: shrinkCodec(media.KindLossyRaster)}
	o := New(codecs, availableExcept(media.KindLossyRaster), Options{MinSize: 10 * 1024})

	out := o.OptimizeFile(context.Background(), path)

	assert.Equal(t, StatusFailed, out.Status)
	assert.ErrorIs(t, out.Err, binaries.ErrMissingRequiredTool)
}

func TestOptimizeFile_MissingFileFails(t *testing.T) {
	o := New(nil, allAvailable(), Options{})

	out := o.OptimizeFile(context.Background(), filepath.Join(t.TempDir(), "gone.jpg"))

	assert.Equal(t, StatusFailed, out.Status)
	require.Error(t, out.Err)
}

func TestOptimizeFile_SecondPassIsNoGain(t *testing.T) {
	dir := t.TempDir()
	path := mediaFile(t, dir, "photo.jpg", 20*1024)
	payload := bytes.Repeat([]byte("c"), 12*1024)

	codecs := map[media.Kind]codec.Codec{media.KindLossyRaster: fixedCodec(media.KindLossyRaster, payload)}
	o := New(codecs, allAvailable(), Options{MinSize: 10 * 1024})

	first := o.OptimizeFile(context.Background(), path)
	require.Equal(t, StatusOptimized, first.Status)

	second := o.OptimizeFile(context.Background(), path)
	assert.Equal(t, StatusNoGain, second.Status)

	after, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, payload, after, "second pass must leave the file as the first pass wrote it")
	assertNoBackupLeftovers(t, dir)
}

// fakeCache is an in-memory SkipCache.
type fakeCache struct {
	entries map[string][2]int64
}

func newFakeCache() *fakeCache {
	return &fakeCache{entries: map[string][2]int64{}}
}

func (f *fakeCache) ShouldSkip(_ context.Context, path string, size, mtimeNS int64) bool {
	entry, ok := f.entries[path]
	return ok && entry[0] == size && entry[1] == mtimeNS
}

func (f *fakeCache) Remember(_ context.Context, path string, size, mtimeNS int64) {
	f.entries[path] = [2]int64{size, mtimeNS}
}

func TestOptimizeFile_SkipCacheShortCircuits(t *testing.T) {
	dir := t.TempDir()
	path := mediaFile(t, dir, "photo.jpg", 20*1024)

	calls := 0
	codecs := map[media.Kind]codec.Codec{
		media.KindLossyRaster: &fakeCodec{kind: media.KindLossyRaster, fn: func(p string) error {
			calls++
			data, err := os.ReadFile(p)
			if err != nil {
				return err
			}
			return os.WriteFile(p, data[:len(data)/2], 0o644)
		}},
	}
	cache := newFakeCache()
	o := New(codecs, allAvailable(), Options{MinSize: 5 * 1024, Cache: cache})

	first := o.OptimizeFile(context.Background(), path)
	require.Equal(t, StatusOptimized, first.Status)
	assert.Equal(t, 1, calls)

	// Unchanged file: the cache answers without running the compressor.
	second := o.OptimizeFile(context.Background(), path)
	assert.Equal(t, StatusNoGain, second.Status)
	assert.Equal(t, 1, calls)

	// A rewrite invalidates the fingerprint.
	require.NoError(t, os.WriteFile(path, bytes.Repeat([]byte("y"), 16*1024), 0o644))
	third := o.OptimizeFile(context.Background(), path)
	assert.Equal(t, StatusOptimized, third.Status)
	assert.Equal(t, 2, calls)
}

func TestOptimizeFile_NoGainIsCachedToo(t *testing.T) {
	dir := t.TempDir()
	path := mediaFile(t, dir, "flat.svg", 12*1024)

	calls := 0
	codecs := map[media.Kind]codec.Codec{
		media.KindVector: &fakeCodec{kind: media.KindVector, fn: func(p string) error {
			calls++
			data, err := os.ReadFile(p)
			if err != nil {
				return err
			}
			return os.WriteFile(p, data, 0o644)
		}},
	}
	cache := newFakeCache()
	o := New(codecs, allAvailable(), Options{MinSize: 10 * 1024, Cache: cache})

	first := o.OptimizeFile(context.Background(), path)
	require.Equal(t, StatusNoGain, first.Status)
	assert.Equal(t, 1, calls)

	second := o.OptimizeFile(context.Background(), path)
	assert.Equal(t, StatusNoGain, second.Status)
	assert.Equal(t, 1, calls, "a file known to be incompressible is not retried")
}

func TestOptimizeFile_RestorePreservesMode(t *testing.T) {
	dir := t.TempDir()
	path := mediaFile(t, dir, "photo.jpg", 12*1024)
	require.NoError(t, os.Chmod(path, 0o640))

	// Simulate a tool that recreates the file with its own permissions and
	// then fails.
	codecs := map[media.Kind]codec.Codec{
		media.KindLossyRaster: &fakeCodec{kind: media.KindLossyRaster, fn: func(p string) error {
			if err := os.Remove(p); err != nil {
				return err
			}
			if err := os.WriteFile(p, []byte("garbage"), 0o777); err != nil {
				return err
			}
			return errors.New("tool exploded")
		}},
	}
	o := New(codecs, allAvailable(), Options{MinSize: 10 * 1024})

	out := o.OptimizeFile(context.Background(), path)
	require.Equal(t, StatusFailed, out.Status)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o640), info.Mode().Perm())
}
