// Package git shells out to the git binary for the repository operations
// the pre-commit flow needs: listing staged files, re-staging optimized
// ones and locating the hooks directory. Paths returned by this package
// are absolute so callers can run from any working directory.
package git

import (
	"bytes"
	"context"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/pkg/errors"

	"github.com/jingkaihe/mediapress/pkg/logger"
)

// stageAttempts bounds the retries against a busy index.lock, which another
// git process (an IDE, a second hook) can hold briefly.
const stageAttempts = 5

// output runs git with the given arguments and returns stdout, folding
// stderr into the error on failure.
func output(ctx context.Context, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return "", errors.Wrapf(err, "git %s: %s", strings.Join(args, " "), strings.TrimSpace(stderr.String()))
	}
	return stdout.String(), nil
}

// IsRepository reports whether the working directory is inside a git work
// tree.
func IsRepository(ctx context.Context) bool {
	_, err := output(ctx, "rev-parse", "--is-inside-work-tree")
	return err == nil
}

// TopLevel returns the absolute path of the repository root.
func TopLevel(ctx context.Context) (string, error) {
	out, err := output(ctx, "rev-parse", "--show-toplevel")
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

// Dir returns the absolute path of the .git directory.
func Dir(ctx context.Context) (string, error) {
	out, err := output(ctx, "rev-parse", "--absolute-git-dir")
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

// HooksPath returns the absolute hooks directory, honoring core.hooksPath.
func HooksPath(ctx context.Context) (string, error) {
	out, err := output(ctx, "rev-parse", "--git-path", "hooks")
	if err != nil {
		return "", err
	}
	return filepath.Abs(strings.TrimSpace(out))
}

// HasStagedChanges reports whether anything is staged for commit.
func HasStagedChanges(ctx context.Context) bool {
	cmd := exec.CommandContext(ctx, "git", "diff", "--cached", "--quiet")
	return cmd.Run() != nil
}

// StagedFiles lists the files staged for commit as absolute paths. Staged
// deletions are left out since there is nothing on disk to optimize.
func StagedFiles(ctx context.Context) ([]string, error) {
	top, err := TopLevel(ctx)
	if err != nil {
		return nil, err
	}

	// NUL separation keeps names with spaces and quoting intact.
	out, err := output(ctx, "diff", "--cached", "--name-only", "--diff-filter=ACMR", "-z")
	if err != nil {
		return nil, errors.Wrap(err, "listing staged files")
	}

	var files []string
	for _, name := range strings.Split(out, "\x00") {
		if name == "" {
			continue
		}
		files = append(files, filepath.Join(top, name))
	}
	return files, nil
}

// StageFiles re-stages the given files so the commit picks up their
// optimized content. Adds are retried because another process can hold
// index.lock for a moment.
func StageFiles(ctx context.Context, files []string) error {
	if len(files) == 0 {
		return nil
	}

	args := append([]string{"add", "--"}, files...)
	err := retry.Do(
		func() error {
			_, err := output(ctx, args...)
			return err
		},
		retry.RetryIf(isIndexLocked),
		retry.Attempts(stageAttempts),
		retry.Delay(100*time.Millisecond),
		retry.DelayType(retry.BackOffDelay),
		retry.MaxDelay(2*time.Second),
		retry.Context(ctx),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			logger.G(ctx).WithError(err).WithField("attempt", n+1).Warn("git index busy, retrying add")
		}),
	)
	if err != nil {
		return errors.Wrap(err, "re-staging optimized files")
	}
	return nil
}

func isIndexLocked(err error) bool {
	return err != nil && strings.Contains(err.Error(), "index.lock")
}
