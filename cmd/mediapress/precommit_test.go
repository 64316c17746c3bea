package main

import (
	"bytes"
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// initRepo creates a git repository in a temp dir and makes it the working
// directory.
func initRepo(t *testing.T) string {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not installed")
	}
	dir, err := filepath.EvalSymlinks(t.TempDir())
	require.NoError(t, err)
	t.Chdir(dir)
	runGit(t, "init")
	runGit(t, "config", "user.email", "test@example.com")
	runGit(t, "config", "user.name", "Test User")
	return dir
}

func runGit(t *testing.T, args ...string) string {
	t.Helper()
	out, err := exec.Command("git", args...).CombinedOutput()
	require.NoError(t, err, "git %v: %s", args, out)
	return strings.TrimSpace(string(out))
}

// installFakeTools puts shell script stand-ins for all four compressors at
// the front of PATH, keeping the rest of PATH intact so git and the shell
// keep working.
func installFakeTools(t *testing.T, script string) {
	t.Helper()
	binDir := t.TempDir()
	for _, name := range []string{"jpegoptim", "optipng", "gifsicle", "svgo"} {
		require.NoError(t, os.WriteFile(filepath.Join(binDir, name), []byte(script), 0o755))
	}
	t.Setenv("PATH", binDir+string(os.PathListSeparator)+os.Getenv("PATH"))
}

// The file under optimization is the last argument for every compressor.
const shrinkScript = "#!/bin/sh\nfor a in \"$@\"; do f=\"$a\"; done\nprintf optimized > \"$f\"\n"

const failScript = "#!/bin/sh\nexit 1\n"

func TestStagedPaths_ArgsWin(t *testing.T) {
	t.Setenv("MEDIAPRESS_STAGED_FILES", "env.jpg")

	paths, err := stagedPaths(context.Background(), []string{"a.jpg", "b.png"})
	require.NoError(t, err)
	assert.Equal(t, []string{"a.jpg", "b.png"}, paths)
}

func TestStagedPaths_EnvList(t *testing.T) {
	t.Setenv("MEDIAPRESS_STAGED_FILES", "  photos/a.jpg \t b.png\nassets/c.gif ")

	paths, err := stagedPaths(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"photos/a.jpg", "b.png", "assets/c.gif"}, paths)
}

func TestStagedPaths_OutsideRepo(t *testing.T) {
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not installed")
	}
	dir, err := filepath.EvalSymlinks(t.TempDir())
	require.NoError(t, err)
	t.Chdir(dir)
	t.Setenv("GIT_CEILING_DIRECTORIES", filepath.Dir(dir))

	paths, err := stagedPaths(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, paths)
}

func TestStagedPaths_FromGitIndex(t *testing.T) {
	repo := initRepo(t)
	require.NoError(t, os.WriteFile(filepath.Join(repo, "photo.jpg"), []byte("jpg"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(repo, "notes.txt"), []byte("txt"), 0o644))
	runGit(t, "add", "photo.jpg", "notes.txt")

	// The full staged list comes back; media filtering happens later in the
	// pipeline.
	paths, err := stagedPaths(context.Background(), nil)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{
		filepath.Join(repo, "photo.jpg"),
		filepath.Join(repo, "notes.txt"),
	}, paths)
}

func TestStagedPaths_NothingStaged(t *testing.T) {
	initRepo(t)

	paths, err := stagedPaths(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, paths)
}

// Reaching the end of Run without os.Exit is the whole contract here: a
// commit must go through no matter how broken the environment is.
func TestPreCommit_MissingToolsNeverBlocks(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	t.Setenv("PATH", t.TempDir())

	preCommitCmd.SetContext(context.Background())
	preCommitCmd.Run(preCommitCmd, []string{"photo.jpg"})
}

func TestPreCommit_FailingToolNeverBlocks(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	repo := initRepo(t)
	installFakeTools(t, failScript)

	payload := bytes.Repeat([]byte("x"), 20*1024)
	path := filepath.Join(repo, "photo.jpg")
	require.NoError(t, os.WriteFile(path, payload, 0o644))
	runGit(t, "add", "photo.jpg")

	preCommitCmd.SetContext(context.Background())
	preCommitCmd.Run(preCommitCmd, nil)

	// The failed pass left the staged file untouched
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, payload, data)
}

func TestPreCommit_OptimizesAndRestages(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	repo := initRepo(t)
	installFakeTools(t, shrinkScript)

	path := filepath.Join(repo, "photo.jpg")
	require.NoError(t, os.WriteFile(path, bytes.Repeat([]byte("x"), 20*1024), 0o644))
	runGit(t, "add", "photo.jpg")

	preCommitCmd.SetContext(context.Background())
	preCommitCmd.Run(preCommitCmd, nil)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "optimized", string(data))

	// The shrunk bytes are what is staged now: no worktree/index drift left
	assert.Empty(t, runGit(t, "diff", "--name-only"))
	assert.Contains(t, runGit(t, "diff", "--cached", "--name-only"), "photo.jpg")
}
