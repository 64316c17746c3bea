package git

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
)

// hookMarker identifies a pre-commit hook written by mediapress, so
// install stays idempotent and uninstall never deletes someone else's hook.
const hookMarker = "# managed by mediapress"

const hookScript = `#!/bin/sh
` + hookMarker + `
# Compresses staged images before each commit. Never blocks the commit;
# remove with "mediapress uninstall-hook".
exec mediapress pre-commit
`

// ErrForeignHook is returned when a pre-commit hook not written by
// mediapress is already in place.
var ErrForeignHook = errors.New("a pre-commit hook from another tool already exists")

// HookPath returns the absolute location of the pre-commit hook file.
func HookPath(ctx context.Context) (string, error) {
	hooksDir, err := HooksPath(ctx)
	if err != nil {
		return "", err
	}
	return filepath.Join(hooksDir, "pre-commit"), nil
}

// InstallHook writes the pre-commit hook and returns its path. Installing
// over a hook mediapress wrote earlier silently refreshes it; installing
// over a foreign hook requires force, which moves the old hook aside to
// pre-commit.bak first.
func InstallHook(ctx context.Context, force bool) (string, error) {
	path, err := HookPath(ctx)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", errors.Wrap(err, "creating hooks directory")
	}

	existing, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
		// fresh install
	case err != nil:
		return "", errors.Wrapf(err, "reading existing hook %s", path)
	case IsManagedHook(existing):
		// refresh our own hook
	case !force:
		return "", errors.Wrapf(ErrForeignHook, "%s", path)
	default:
		backupPath := path + ".bak"
		if err := os.WriteFile(backupPath, existing, 0o755); err != nil {
			return "", errors.Wrapf(err, "backing up existing hook to %s", backupPath)
		}
	}

	if err := os.WriteFile(path, []byte(hookScript), 0o755); err != nil {
		return "", errors.Wrapf(err, "writing hook %s", path)
	}
	return path, nil
}

// UninstallHook removes the pre-commit hook if mediapress wrote it.
func UninstallHook(ctx context.Context) (string, error) {
	path, err := HookPath(ctx)
	if err != nil {
		return "", err
	}

	existing, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return "", errors.Errorf("no pre-commit hook installed at %s", path)
	}
	if err != nil {
		return "", errors.Wrapf(err, "reading hook %s", path)
	}
	if !IsManagedHook(existing) {
		return "", errors.Wrapf(ErrForeignHook, "refusing to remove %s", path)
	}

	if err := os.Remove(path); err != nil {
		return "", errors.Wrapf(err, "removing hook %s", path)
	}
	return path, nil
}

// HookInstalled reports whether the mediapress pre-commit hook is in place.
func HookInstalled(ctx context.Context) (bool, error) {
	path, err := HookPath(ctx)
	if err != nil {
		return false, err
	}
	content, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, errors.Wrapf(err, "reading hook %s", path)
	}
	return IsManagedHook(content), nil
}

// IsManagedHook reports whether the hook content was written by mediapress.
func IsManagedHook(content []byte) bool {
	return strings.Contains(string(content), hookMarker)
}
