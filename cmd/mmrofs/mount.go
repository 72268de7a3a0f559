// Copyright 2026 The MMROFS Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/mmrofs-foundation/mmrofs/cmd/mmrofs/cli"
	mmrofsfuse "github.com/mmrofs-foundation/mmrofs/lib/mmrofs/fuse"
)

func mountCommand() *cli.Command {
	var options commonOptions
	var mountpoint string
	var allowOther bool

	return &cli.Command{
		Name:    "mount",
		Summary: "mount the image through FUSE",
		Description: `Mounts the filesystem into the host tree. Runs until
interrupted or unmounted externally (fusermount -u).`,
		Examples: []cli.Example{
			{Description: "mount at the configured mountpoint", Command: "mmrofs mount --image part.img"},
			{Description: "explicit mountpoint", Command: "mmrofs mount -m /mnt/device"},
		},
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("mount", pflag.ContinueOnError)
			options.register(flagSet)
			flagSet.StringVarP(&mountpoint, "mountpoint", "m", "", "mount directory (overrides config)")
			flagSet.BoolVar(&allowOther, "allow-other", false, "permit other users to access the mount")
			return flagSet
		},
		Run: func(args []string) error {
			cfg, err := options.load()
			if err != nil {
				return err
			}
			if mountpoint != "" {
				cfg.Mount.Mountpoint = mountpoint
			}
			if allowOther {
				cfg.Mount.AllowOther = true
			}

			fs, dev, err := mountImage(cfg)
			if err != nil {
				return err
			}
			defer dev.Close()
			defer fs.Close()

			log := logger(cfg)
			server, err := mmrofsfuse.Mount(mmrofsfuse.Options{
				Mountpoint: cfg.Mount.Mountpoint,
				Filesystem: fs,
				AllowOther: cfg.Mount.AllowOther,
				Logger:     log,
			})
			if err != nil {
				return err
			}

			// Unmount cleanly on SIGINT/SIGTERM; otherwise serve
			// until the kernel unmounts us.
			signals := make(chan os.Signal, 1)
			signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)
			go func() {
				<-signals
				log.Info("unmounting", "mountpoint", cfg.Mount.Mountpoint)
				if err := server.Unmount(); err != nil {
					fmt.Fprintf(os.Stderr, "unmount failed: %v (try fusermount -u %s)\n",
						err, cfg.Mount.Mountpoint)
				}
			}()

			server.Wait()
			return nil
		},
	}
}
