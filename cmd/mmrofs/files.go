// Copyright 2026 The MMROFS Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/spf13/pflag"

	"github.com/mmrofs-foundation/mmrofs/cmd/mmrofs/cli"
	"github.com/mmrofs-foundation/mmrofs/lib/mmrofs"
)

func lsCommand() *cli.Command {
	var options commonOptions
	var long bool

	return &cli.Command{
		Name:    "ls",
		Summary: "list files",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("ls", pflag.ContinueOnError)
			options.register(flagSet)
			flagSet.BoolVarP(&long, "long", "l", false, "show size and times")
			return flagSet
		},
		Run: func(args []string) error {
			cfg, err := options.load()
			if err != nil {
				return err
			}
			fs, dev, err := mountImage(cfg)
			if err != nil {
				return err
			}
			defer dev.Close()
			defer fs.Close()

			entries, err := fs.List()
			if err != nil {
				return err
			}
			if !long {
				for _, de := range entries {
					fmt.Println(de.Name)
				}
				return nil
			}

			tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "NAME\tSIZE\tMODIFIED\tCREATED")
			for _, de := range entries {
				mtime := "-"
				if !de.Info.ModTime.IsZero() {
					mtime = de.Info.ModTime.UTC().Format("2006-01-02 15:04:05")
				}
				fmt.Fprintf(tw, "%s\t%d\t%s\t%s\n", de.Name, de.Info.Size,
					mtime, de.Info.CreateTime.UTC().Format("2006-01-02 15:04:05"))
			}
			return tw.Flush()
		},
	}
}

func catCommand() *cli.Command {
	var options commonOptions

	return &cli.Command{
		Name:    "cat",
		Summary: "write a file's payload to stdout",
		Usage:   "mmrofs cat <name> [flags]",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("cat", pflag.ContinueOnError)
			options.register(flagSet)
			return flagSet
		},
		Run: func(args []string) error {
			if len(args) != 1 {
				return fmt.Errorf("cat takes exactly one file name")
			}
			cfg, err := options.load()
			if err != nil {
				return err
			}
			fs, dev, err := mountImage(cfg)
			if err != nil {
				return err
			}
			defer dev.Close()
			defer fs.Close()

			return copyOut(fs, args[0], os.Stdout)
		},
	}
}

func putCommand() *cli.Command {
	var options commonOptions
	var appendMode bool

	return &cli.Command{
		Name:    "put",
		Summary: "write a file from a local file or stdin",
		Usage:   "mmrofs put <name> [local-file] [flags]",
		Description: `Writes a file into the image. Without --append the name is
superseded with exactly the given content; with --append the content
is appended to what is already stored.`,
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("put", pflag.ContinueOnError)
			options.register(flagSet)
			flagSet.BoolVar(&appendMode, "append", false, "append to the existing content")
			return flagSet
		},
		Run: func(args []string) error {
			if len(args) < 1 || len(args) > 2 {
				return fmt.Errorf("put takes a file name and an optional local file")
			}
			name := args[0]

			var in io.Reader = os.Stdin
			if len(args) == 2 {
				f, err := os.Open(args[1])
				if err != nil {
					return err
				}
				defer f.Close()
				in = f
			}
			data, err := io.ReadAll(in)
			if err != nil {
				return fmt.Errorf("reading input: %w", err)
			}

			cfg, err := options.load()
			if err != nil {
				return err
			}
			fs, dev, err := mountImage(cfg)
			if err != nil {
				return err
			}
			defer dev.Close()
			defer fs.Close()

			// MMROFS writers append to the current content. A
			// replacing put deletes the old version first; the two
			// steps are individually atomic, and a cut between them
			// recovers to "deleted", never to mixed content.
			if !appendMode {
				if err := fs.Unlink(name); err != nil && !isNotFound(err) {
					return err
				}
			}

			fd, err := fs.Open(name, mmrofs.FlagWrite|mmrofs.FlagCreate)
			if err != nil {
				return err
			}
			if len(data) > 0 {
				if _, err := fs.Write(fd, data); err != nil {
					fs.CloseFile(fd)
					return err
				}
			}
			if err := fs.CloseFile(fd); err != nil {
				return err
			}
			fmt.Printf("wrote %s (%d bytes)\n", name, len(data))
			return nil
		},
	}
}

func getCommand() *cli.Command {
	var options commonOptions

	return &cli.Command{
		Name:    "get",
		Summary: "copy a file's payload to a local file",
		Usage:   "mmrofs get <name> <local-file> [flags]",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("get", pflag.ContinueOnError)
			options.register(flagSet)
			return flagSet
		},
		Run: func(args []string) error {
			if len(args) != 2 {
				return fmt.Errorf("get takes a file name and a local destination")
			}
			cfg, err := options.load()
			if err != nil {
				return err
			}
			fs, dev, err := mountImage(cfg)
			if err != nil {
				return err
			}
			defer dev.Close()
			defer fs.Close()

			out, err := os.Create(args[1])
			if err != nil {
				return err
			}
			if err := copyOut(fs, args[0], out); err != nil {
				out.Close()
				return err
			}
			return out.Close()
		},
	}
}

func rmCommand() *cli.Command {
	var options commonOptions

	return &cli.Command{
		Name:    "rm",
		Summary: "delete a file",
		Usage:   "mmrofs rm <name> [flags]",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("rm", pflag.ContinueOnError)
			options.register(flagSet)
			return flagSet
		},
		Run: func(args []string) error {
			if len(args) != 1 {
				return fmt.Errorf("rm takes exactly one file name")
			}
			cfg, err := options.load()
			if err != nil {
				return err
			}
			fs, dev, err := mountImage(cfg)
			if err != nil {
				return err
			}
			defer dev.Close()
			defer fs.Close()
			return fs.Unlink(args[0])
		},
	}
}

func mvCommand() *cli.Command {
	var options commonOptions

	return &cli.Command{
		Name:    "mv",
		Summary: "rename a file, displacing any existing destination",
		Usage:   "mmrofs mv <src> <dst> [flags]",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("mv", pflag.ContinueOnError)
			options.register(flagSet)
			return flagSet
		},
		Run: func(args []string) error {
			if len(args) != 2 {
				return fmt.Errorf("mv takes a source and a destination name")
			}
			cfg, err := options.load()
			if err != nil {
				return err
			}
			fs, dev, err := mountImage(cfg)
			if err != nil {
				return err
			}
			defer dev.Close()
			defer fs.Close()
			return fs.Rename(args[0], args[1])
		},
	}
}

func statCommand() *cli.Command {
	var options commonOptions

	return &cli.Command{
		Name:    "stat",
		Summary: "show a file's size and times",
		Usage:   "mmrofs stat <name> [flags]",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("stat", pflag.ContinueOnError)
			options.register(flagSet)
			return flagSet
		},
		Run: func(args []string) error {
			if len(args) != 1 {
				return fmt.Errorf("stat takes exactly one file name")
			}
			cfg, err := options.load()
			if err != nil {
				return err
			}
			fs, dev, err := mountImage(cfg)
			if err != nil {
				return err
			}
			defer dev.Close()
			defer fs.Close()

			info, err := fs.Stat(args[0])
			if err != nil {
				return err
			}
			fmt.Printf("name:     %s\n", args[0])
			fmt.Printf("size:     %d\n", info.Size)
			if info.ModTime.IsZero() {
				fmt.Printf("modified: -\n")
			} else {
				fmt.Printf("modified: %s\n", info.ModTime.UTC().Format("2006-01-02 15:04:05"))
			}
			fmt.Printf("created:  %s\n", info.CreateTime.UTC().Format("2006-01-02 15:04:05"))
			return nil
		},
	}
}

func copyOut(fs *mmrofs.Filesystem, name string, w io.Writer) error {
	fd, err := fs.Open(name, mmrofs.FlagRead)
	if err != nil {
		return err
	}
	defer fs.CloseFile(fd)

	buf := make([]byte, 4096)
	for {
		n, err := fs.Read(fd, buf)
		if err != nil {
			return err
		}
		if n == 0 {
			return nil
		}
		if _, err := w.Write(buf[:n]); err != nil {
			return err
		}
	}
}

func isNotFound(err error) bool {
	return errors.Is(err, mmrofs.ErrNotFound)
}
