package main

import (
	"context"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/jingkaihe/mediapress/pkg/config"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestApplyFlagOverrides(t *testing.T) {
	cmd := &cobra.Command{}
	addPipelineFlags(cmd)
	require.NoError(t, cmd.ParseFlags([]string{
		"--min-size", "2048",
		"--jpeg-quality", "70",
		"--no-cache",
		"--exclude", "vendor/**",
	}))

	cfg := config.NewConfig()
	cfg.Exclude = []string{"*.min.svg"}
	applyFlagOverrides(cmd, cfg)

	assert.Equal(t, int64(2048), cfg.MinSizeBytes)
	assert.Equal(t, 70, cfg.JPEGQuality)
	assert.False(t, cfg.Cache)
	assert.Equal(t, []string{"*.min.svg", "vendor/**"}, cfg.Exclude)

	// Flags the user did not touch keep the loaded values
	assert.Equal(t, 2, cfg.PNGLevel)
	assert.True(t, cfg.History)
	assert.True(t, cfg.SVGMultipass)
}

func TestApplyFlagOverrides_NothingSet(t *testing.T) {
	cmd := &cobra.Command{}
	addPipelineFlags(cmd)
	require.NoError(t, cmd.ParseFlags(nil))

	cfg := config.NewConfig()
	cfg.JPEGQuality = 60
	applyFlagOverrides(cmd, cfg)

	assert.Equal(t, 60, cfg.JPEGQuality)
	assert.Equal(t, config.NewConfig().MinSizeBytes, cfg.MinSizeBytes)
}

func TestRunLockPath_InRepo(t *testing.T) {
	repo := initRepo(t)

	path := runLockPath(context.Background())
	assert.Equal(t, filepath.Join(repo, ".git", "mediapress.lock"), path)
}

func TestRunLockPath_OutsideRepo(t *testing.T) {
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not installed")
	}
	home := t.TempDir()
	t.Setenv("HOME", home)
	dir, err := filepath.EvalSymlinks(t.TempDir())
	require.NoError(t, err)
	t.Chdir(dir)
	t.Setenv("GIT_CEILING_DIRECTORIES", filepath.Dir(dir))

	path := runLockPath(context.Background())
	assert.Equal(t, filepath.Join(home, ".mediapress", "run.lock"), path)
}
