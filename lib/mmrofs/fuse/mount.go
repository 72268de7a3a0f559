// Copyright 2026 The MMROFS Authors
// SPDX-License-Identifier: Apache-2.0

// Package fuse exposes a mounted MMROFS filesystem through the host
// VFS. The namespace is flat: one directory of regular files. Writes
// follow MMROFS semantics — append-only, finalized when the last
// handle is released.
package fuse

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"syscall"

	gofuse "github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"

	"github.com/mmrofs-foundation/mmrofs/lib/mmrofs"
)

// Options configures the FUSE mount.
type Options struct {
	// Mountpoint is the directory where the filesystem is mounted.
	// Created if it does not exist.
	Mountpoint string

	// Filesystem is the mounted MMROFS partition. Required.
	Filesystem *mmrofs.Filesystem

	// AllowOther permits other users to access the mount. Requires
	// user_allow_other in /etc/fuse.conf.
	AllowOther bool

	// Logger receives diagnostic messages. If nil, errors go to
	// stderr.
	Logger *slog.Logger
}

// Mount mounts the filesystem at the configured mountpoint. The
// caller must call Unmount on the returned server when done.
func Mount(options Options) (*fuse.Server, error) {
	if options.Mountpoint == "" {
		return nil, fmt.Errorf("mountpoint is required")
	}
	if options.Filesystem == nil {
		return nil, fmt.Errorf("filesystem is required")
	}
	if options.Logger == nil {
		options.Logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelError,
		}))
	}

	if err := os.MkdirAll(options.Mountpoint, 0o755); err != nil {
		return nil, fmt.Errorf("creating mountpoint %s: %w", options.Mountpoint, err)
	}

	root := &rootNode{options: &options}

	server, err := gofuse.Mount(options.Mountpoint, root, &gofuse.Options{
		MountOptions: fuse.MountOptions{
			FsName:     "mmrofs",
			Name:       "mmrofs",
			AllowOther: options.AllowOther,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("mounting FUSE filesystem at %s: %w", options.Mountpoint, err)
	}

	options.Logger.Info("FUSE filesystem mounted", "mountpoint", options.Mountpoint)
	return server, nil
}

// errno maps MMROFS error kinds onto syscall errnos for the kernel.
func errno(err error) syscall.Errno {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, mmrofs.ErrNotFound):
		return syscall.ENOENT
	case errors.Is(err, mmrofs.ErrNoSpace):
		return syscall.ENOSPC
	case errors.Is(err, mmrofs.ErrInvalidArgument):
		return syscall.EINVAL
	case errors.Is(err, mmrofs.ErrTooManyOpen):
		return syscall.ENFILE
	case errors.Is(err, mmrofs.ErrBadDescriptor):
		return syscall.EBADF
	case errors.Is(err, mmrofs.ErrNotSeekable):
		return syscall.ESPIPE
	case errors.Is(err, mmrofs.ErrReadOnly):
		return syscall.EBADF
	default:
		return syscall.EIO
	}
}
