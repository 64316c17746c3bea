package optimizer

import (
	"io"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
)

// Backup is a transient copy of a file taken before a compressor touches
// it. It lives as a hidden sibling in the same directory so Restore is a
// single rename on the same filesystem.
type Backup struct {
	origPath string
	path     string
}

// NewBackup snapshots path into a hidden sibling file, preserving the
// original's permission bits.
func NewBackup(path string) (*Backup, error) {
	src, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "opening %s for backup", path)
	}
	defer src.Close()

	info, err := src.Stat()
	if err != nil {
		return nil, errors.Wrapf(err, "stating %s", path)
	}

	dir := filepath.Dir(path)
	base := filepath.Base(path)
	tmp, err := os.CreateTemp(dir, "."+base+".bak.*")
	if err != nil {
		return nil, errors.Wrapf(err, "creating backup for %s", path)
	}

	discard := func() {
		tmp.Close()
		os.Remove(tmp.Name())
	}

	if _, err := io.Copy(tmp, src); err != nil {
		discard()
		return nil, errors.Wrapf(err, "copying %s into backup", path)
	}
	if err := tmp.Chmod(info.Mode()); err != nil {
		discard()
		return nil, errors.Wrapf(err, "carrying file mode onto backup of %s", path)
	}
	if err := tmp.Sync(); err != nil {
		discard()
		return nil, errors.Wrapf(err, "syncing backup of %s", path)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return nil, errors.Wrapf(err, "closing backup of %s", path)
	}

	return &Backup{origPath: path, path: tmp.Name()}, nil
}

// Path returns the location of the backup copy.
func (b *Backup) Path() string {
	return b.path
}

// Restore renames the backup back over the original, undoing whatever a
// compressor wrote there. The backup is consumed on success.
func (b *Backup) Restore() error {
	if err := os.Rename(b.path, b.origPath); err != nil {
		return errors.Wrapf(err, "restoring %s from backup", b.origPath)
	}
	return nil
}

// Remove discards the backup. Removing an already-consumed backup is a
// no-op so callers can clean up on every exit path.
func (b *Backup) Remove() error {
	if err := os.Remove(b.path); err != nil && !os.IsNotExist(err) {
		return errors.Wrapf(err, "removing backup of %s", b.origPath)
	}
	return nil
}
