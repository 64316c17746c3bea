// Package runlock serializes optimization runs across processes with a
// lock file. Two runs touching the same working tree would race on the
// transient backups and temp siblings, so the second one waits briefly
// and then bows out.
package runlock

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
	"github.com/rogpeppe/go-internal/lockedfile"
)

// ErrBusy is returned when another process still holds the lock after the
// wait deadline.
var ErrBusy = errors.New("another optimization run holds the lock")

type lockResult struct {
	unlock func()
	err    error
}

// Acquire takes the cross-process run lock at path, waiting up to wait for
// the current holder to finish. On success it returns the unlock function.
// On timeout it returns ErrBusy and the caller is expected to skip the run.
//
// lockedfile.Mutex only offers a blocking Lock, so the acquisition runs in
// a goroutine. When the caller gives up first, a drainer waits out the
// pending Lock and releases it on arrival. The OS drops the lock on process
// exit either way.
func Acquire(ctx context.Context, path string, wait time.Duration) (func(), error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, errors.Wrap(err, "creating run lock directory")
	}

	mu := lockedfile.MutexAt(path)
	ch := make(chan lockResult, 1)

	go func() {
		unlock, err := mu.Lock()
		ch <- lockResult{unlock: unlock, err: err}
	}()

	abandon := func() {
		go func() {
			if res := <-ch; res.err == nil {
				res.unlock()
			}
		}()
	}

	select {
	case res := <-ch:
		if res.err != nil {
			return nil, errors.Wrap(res.err, "acquiring run lock")
		}
		return res.unlock, nil
	case <-time.After(wait):
		abandon()
		return nil, ErrBusy
	case <-ctx.Done():
		abandon()
		return nil, errors.Wrap(ctx.Err(), "acquiring run lock")
	}
}
