// Copyright 2026 The MMROFS Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"os"

	"github.com/spf13/pflag"

	"github.com/mmrofs-foundation/mmrofs/cmd/mmrofs/cli"
	"github.com/mmrofs-foundation/mmrofs/lib/flash"
	"github.com/mmrofs-foundation/mmrofs/lib/mmrofs"
)

func mkfsCommand() *cli.Command {
	var options commonOptions
	var size uint32
	var force bool

	return &cli.Command{
		Name:    "mkfs",
		Summary: "create an erased partition image",
		Description: `Creates a partition image filled with the erased pattern (all
ones), which is a valid empty filesystem. An existing image is only
overwritten with --force.`,
		Examples: []cli.Example{
			{Description: "create a 1 MiB-data image", Command: "mmrofs mkfs --image part.img --size 1114112"},
		},
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("mkfs", pflag.ContinueOnError)
			options.register(flagSet)
			flagSet.Uint32Var(&size, "size", 0, "partition size in bytes (overrides config)")
			flagSet.BoolVar(&force, "force", false, "overwrite an existing image")
			return flagSet
		},
		Run: func(args []string) error {
			cfg, err := options.load()
			if err != nil {
				return err
			}
			if size != 0 {
				cfg.Image.Size = size
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			if _, err := os.Stat(cfg.Image.Path); err == nil {
				if !force {
					return fmt.Errorf("%s exists; use --force to re-format", cfg.Image.Path)
				}
				if err := os.Remove(cfg.Image.Path); err != nil {
					return fmt.Errorf("removing old image: %w", err)
				}
			}

			dev, err := flash.OpenFileDevice(cfg.Image.Path, cfg.Image.Size)
			if err != nil {
				return err
			}
			defer dev.Close()

			fmt.Printf("formatted %s: %d bytes, %d entry slots, %d bytes data region\n",
				cfg.Image.Path, cfg.Image.Size,
				mmrofs.MaxEntries-mmrofs.EntryFirst, cfg.Image.Size-mmrofs.HeaderSize)
			return nil
		},
	}
}
