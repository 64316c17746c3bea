// Package config loads the mediapress configuration: code defaults overlaid
// by the config file and environment via viper, then the active compression
// profile. Explicit flag overrides are applied by the command layer on top
// of what Load returns.
package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

// ProfileConfig is a named set of overrides applied over the base config.
type ProfileConfig map[string]any

// Config holds every tunable of the optimization pipeline.
type Config struct {
	// MinSizeBytes is the size floor; files below it are never touched.
	MinSizeBytes int64 `mapstructure:"min_size_bytes" yaml:"min_size_bytes"`
	// JPEGQuality is the jpegoptim --max value (0-100).
	JPEGQuality int `mapstructure:"jpeg_quality" yaml:"jpeg_quality"`
	// PNGLevel is the optipng -o optimization level (0-7).
	PNGLevel int `mapstructure:"png_level" yaml:"png_level"`
	// GIFLevel is the gifsicle -O optimization level (1-3).
	GIFLevel int `mapstructure:"gif_level" yaml:"gif_level"`
	// GIFMaxColors caps the gifsicle palette (2-256).
	GIFMaxColors int `mapstructure:"gif_max_colors" yaml:"gif_max_colors"`
	// SVGMultipass enables repeated svgo passes until stable.
	SVGMultipass bool `mapstructure:"svg_multipass" yaml:"svg_multipass"`
	// ToolTimeout bounds each compressor invocation.
	ToolTimeout time.Duration `mapstructure:"tool_timeout" yaml:"tool_timeout"`
	// Workers is the pool size; 0 means one worker per CPU.
	Workers int `mapstructure:"workers" yaml:"workers"`
	// Exclude holds doublestar patterns matched against repo-relative paths.
	Exclude []string `mapstructure:"exclude" yaml:"exclude"`
	// Cache enables the size/mtime skip cache backed by the history store.
	Cache bool `mapstructure:"cache" yaml:"cache"`
	// History enables recording runs and outcomes.
	History bool `mapstructure:"history" yaml:"history"`
	// LogFile is the persistent log sink; empty disables it.
	LogFile string `mapstructure:"log_file" yaml:"log_file"`
	// HistoryFile is the sqlite database path for runs and the skip cache.
	HistoryFile string `mapstructure:"history_file" yaml:"history_file"`

	// Profile selects the active entry of Profiles.
	Profile string `mapstructure:"profile" yaml:"profile"`
	// Profiles holds named override sets merged over the base config.
	Profiles map[string]ProfileConfig `mapstructure:"profiles" yaml:"profiles"`
}

// NewConfig returns the default configuration.
func NewConfig() *Config {
	return &Config{
		MinSizeBytes: 10 * 1024,
		JPEGQuality:  85,
		PNGLevel:     2,
		GIFLevel:     3,
		GIFMaxColors: 256,
		SVGMultipass: true,
		ToolTimeout:  30 * time.Second,
		Workers:      0,
		Cache:        true,
		History:      true,
		LogFile:      "~/.mediapress/mediapress.log",
		HistoryFile:  "~/.mediapress/history.db",
	}
}

// Load returns the effective configuration: defaults, overlaid by the config
// file and environment, then the active profile. Keys absent from viper keep
// their defaults.
func Load() (*Config, error) {
	config := NewConfig()

	if err := viper.Unmarshal(config); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal configuration")
	}

	// The default profile is the base config itself
	if config.Profiles != nil {
		delete(config.Profiles, "default")
	}

	profileName := config.activeProfile()
	if profileName != "" && config.Profiles != nil {
		profile, exists := config.Profiles[profileName]
		if !exists {
			return nil, errors.Errorf("profile %q is not defined", profileName)
		}
		if err := applyProfile(config, profile); err != nil {
			return nil, err
		}
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

func (c *Config) activeProfile() string {
	if c.Profile == "default" || c.Profile == "" {
		return ""
	}
	return c.Profile
}

func applyProfile(config *Config, profile ProfileConfig) error {
	// Use mapstructure to decode profile into config, merging values
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           config,
		WeaklyTypedInput: true,
		ZeroFields:       false, // Don't overwrite with zero values
		DecodeHook:       mapstructure.StringToTimeDurationHookFunc(),
	})
	if err != nil {
		return errors.Wrap(err, "failed to create profile decoder")
	}

	if err := decoder.Decode(profile); err != nil {
		return errors.Wrap(err, "failed to apply profile configuration")
	}

	return nil
}

// Validate checks that every tunable is inside the range its compressor
// accepts.
func (c *Config) Validate() error {
	if c.MinSizeBytes < 0 {
		return errors.Errorf("min_size_bytes must be non-negative, got %d", c.MinSizeBytes)
	}
	if c.JPEGQuality < 0 || c.JPEGQuality > 100 {
		return errors.Errorf("jpeg_quality must be between 0 and 100, got %d", c.JPEGQuality)
	}
	if c.PNGLevel < 0 || c.PNGLevel > 7 {
		return errors.Errorf("png_level must be between 0 and 7, got %d", c.PNGLevel)
	}
	if c.GIFLevel < 1 || c.GIFLevel > 3 {
		return errors.Errorf("gif_level must be between 1 and 3, got %d", c.GIFLevel)
	}
	if c.GIFMaxColors < 2 || c.GIFMaxColors > 256 {
		return errors.Errorf("gif_max_colors must be between 2 and 256, got %d", c.GIFMaxColors)
	}
	if c.ToolTimeout <= 0 {
		return errors.Errorf("tool_timeout must be positive, got %s", c.ToolTimeout)
	}
	if c.Workers < 0 {
		return errors.Errorf("workers must be non-negative, got %d", c.Workers)
	}
	return nil
}

// ExpandedLogFile returns LogFile with ~ expanded.
func (c *Config) ExpandedLogFile() string {
	return expandHomePath(c.LogFile)
}

// ExpandedHistoryFile returns HistoryFile with ~ expanded.
func (c *Config) ExpandedHistoryFile() string {
	return expandHomePath(c.HistoryFile)
}

// expandHomePath expands ~ to the user's home directory
func expandHomePath(path string) string {
	if strings.HasPrefix(path, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[1:])
	}
	return path
}
