// Copyright 2026 The MMROFS Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/pflag"

	"github.com/mmrofs-foundation/mmrofs/cmd/mmrofs/cli"
	"github.com/mmrofs-foundation/mmrofs/lib/config"
	"github.com/mmrofs-foundation/mmrofs/lib/flash"
	"github.com/mmrofs-foundation/mmrofs/lib/mmrofs"
)

// Root builds the mmrofs command tree.
func Root() *cli.Command {
	return &cli.Command{
		Name:    "mmrofs",
		Summary: "operate on MMROFS partition images",
		Description: `mmrofs manages MMROFS partition images: crash-safe NOR-flash
filesystems holding a flat namespace of named blobs.

The image file is selected by --image, the config file, or the
MMROFS_CONFIG environment variable.`,
		Subcommands: []*cli.Command{
			mkfsCommand(),
			lsCommand(),
			catCommand(),
			putCommand(),
			getCommand(),
			rmCommand(),
			mvCommand(),
			statCommand(),
			inspectCommand(),
			dumpCommand(),
			restoreCommand(),
			mountCommand(),
		},
	}
}

// commonOptions carries the flags shared by every subcommand.
type commonOptions struct {
	configPath string
	imagePath  string
}

// register adds the shared flags to a command's flag set.
func (o *commonOptions) register(flagSet *pflag.FlagSet) {
	flagSet.StringVar(&o.configPath, "config", "", "config file (default $MMROFS_CONFIG)")
	flagSet.StringVar(&o.imagePath, "image", "", "partition image file (overrides config)")
}

// load resolves the effective configuration.
func (o *commonOptions) load() (config.Config, error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return config.Config{}, err
	}
	if o.imagePath != "" {
		cfg.Image.Path = o.imagePath
	}
	return cfg, nil
}

// logger builds the diagnostic logger from the config level.
func logger(cfg config.Config) *slog.Logger {
	level := slog.LevelInfo
	switch cfg.Log.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// openImage opens an existing partition image. The image must have
// been created by mkfs (or be a raw dump of a device partition).
func openImage(cfg config.Config) (*flash.FileDevice, error) {
	if _, err := os.Stat(cfg.Image.Path); err != nil {
		return nil, fmt.Errorf("partition image %s: %w (run 'mmrofs mkfs' first?)", cfg.Image.Path, err)
	}
	return flash.OpenFileDevice(cfg.Image.Path, cfg.Image.Size)
}

// mountImage opens the image and mounts the filesystem, running
// recovery. The caller closes both.
func mountImage(cfg config.Config) (*mmrofs.Filesystem, *flash.FileDevice, error) {
	dev, err := openImage(cfg)
	if err != nil {
		return nil, nil, err
	}
	fs, err := mmrofs.Mount(mmrofs.Options{
		Device:   dev,
		MaxFiles: cfg.Mount.MaxFiles,
		Logger:   logger(cfg),
	})
	if err != nil {
		dev.Close()
		return nil, nil, err
	}
	return fs, dev, nil
}
