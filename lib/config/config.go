// Copyright 2026 The MMROFS Authors
// SPDX-License-Identifier: Apache-2.0

// Package config provides configuration loading for the mmrofs
// tooling.
//
// Configuration is loaded from a single file specified by:
//   - MMROFS_CONFIG environment variable, or
//   - --config flag passed to the command
//
// There are no fallbacks or automatic discovery; flags given on the
// command line override file values field by field.
package config

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// EnvVar is the environment variable naming the config file.
const EnvVar = "MMROFS_CONFIG"

// Config is the tool configuration.
type Config struct {
	// Image is the partition image file operated on.
	Image ImageConfig `yaml:"image"`

	// Mount configures the FUSE mount command.
	Mount MountConfig `yaml:"mount"`

	// Log configures diagnostics.
	Log LogConfig `yaml:"log"`
}

// ImageConfig locates and sizes the partition image.
type ImageConfig struct {
	// Path is the partition image file.
	Path string `yaml:"path"`

	// Size is the partition size in bytes, used when creating the
	// image. Must be a multiple of the 4 KiB erase block and at
	// least the header size plus one block.
	Size uint32 `yaml:"size"`
}

// MountConfig configures the FUSE frontend.
type MountConfig struct {
	// Mountpoint is where the filesystem appears in the host tree.
	Mountpoint string `yaml:"mountpoint"`

	// MaxFiles sets the descriptor table size.
	MaxFiles int `yaml:"max_files"`

	// AllowOther permits other users to access the mount.
	AllowOther bool `yaml:"allow_other"`
}

// LogConfig configures diagnostics.
type LogConfig struct {
	// Level is debug, info, warn, or error. Empty means info.
	Level string `yaml:"level"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		Image: ImageConfig{
			Path: "mmrofs.img",
			Size: 0x110000, // 64 KiB header + 1 MiB data
		},
		Mount: MountConfig{
			Mountpoint: "/mnt/mmrofs",
			MaxFiles:   16,
		},
		Log: LogConfig{Level: "info"},
	}
}

// Load reads the configuration. The explicit path (from --config)
// wins over MMROFS_CONFIG; with neither set, defaults are returned.
func Load(explicitPath string) (Config, error) {
	path := explicitPath
	if path == "" {
		path = os.Getenv(EnvVar)
	}
	if path == "" {
		return Default(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("reading config %s: %w", path, err)
	}

	config := Default()
	if err := yaml.Unmarshal(data, &config); err != nil {
		return Config{}, fmt.Errorf("parsing config %s: %w", path, err)
	}
	if err := config.Validate(); err != nil {
		return Config{}, fmt.Errorf("config %s: %w", path, err)
	}
	return config, nil
}

// Validate checks field constraints that YAML cannot express.
func (c *Config) Validate() error {
	if c.Image.Path == "" {
		return errors.New("image.path is required")
	}
	if c.Image.Size%4096 != 0 {
		return fmt.Errorf("image.size %d is not a multiple of the 4 KiB erase block", c.Image.Size)
	}
	if c.Image.Size < 0x11000 {
		return fmt.Errorf("image.size %d is below the minimum (header + one erase block)", c.Image.Size)
	}
	if c.Mount.MaxFiles <= 0 {
		return errors.New("mount.max_files must be positive")
	}
	switch c.Log.Level {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level %q is not one of debug, info, warn, error", c.Log.Level)
	}
	return nil
}
