// Copyright 2026 The MMROFS Authors
// SPDX-License-Identifier: Apache-2.0

package fuse

import (
	"fmt"
	"syscall"
	"testing"

	"github.com/mmrofs-foundation/mmrofs/lib/mmrofs"
)

func TestErrnoMapping(t *testing.T) {
	tests := []struct {
		err  error
		want syscall.Errno
	}{
		{nil, 0},
		{mmrofs.ErrNotFound, syscall.ENOENT},
		{fmt.Errorf("wrapped: %w", mmrofs.ErrNotFound), syscall.ENOENT},
		{mmrofs.ErrNoSpace, syscall.ENOSPC},
		{mmrofs.ErrInvalidArgument, syscall.EINVAL},
		{mmrofs.ErrTooManyOpen, syscall.ENFILE},
		{mmrofs.ErrBadDescriptor, syscall.EBADF},
		{mmrofs.ErrNotSeekable, syscall.ESPIPE},
		{mmrofs.ErrReadOnly, syscall.EBADF},
		{fmt.Errorf("some flash failure"), syscall.EIO},
	}
	for _, tt := range tests {
		if got := errno(tt.err); got != tt.want {
			t.Errorf("errno(%v) = %v, want %v", tt.err, got, tt.want)
		}
	}
}

func TestOpenFlagsMapping(t *testing.T) {
	tests := []struct {
		flags uint32
		want  mmrofs.OpenFlags
	}{
		{syscall.O_RDONLY, mmrofs.FlagRead},
		{syscall.O_WRONLY, mmrofs.FlagWrite},
		{syscall.O_RDWR, mmrofs.FlagRead | mmrofs.FlagWrite},
		{syscall.O_WRONLY | syscall.O_CREAT, mmrofs.FlagWrite | mmrofs.FlagCreate},
	}
	for _, tt := range tests {
		if got := openFlags(tt.flags); got != tt.want {
			t.Errorf("openFlags(%#x) = %v, want %v", tt.flags, got, tt.want)
		}
	}
}

func TestMountValidation(t *testing.T) {
	if _, err := Mount(Options{}); err == nil {
		t.Error("Mount without mountpoint should fail")
	}
	if _, err := Mount(Options{Mountpoint: t.TempDir()}); err == nil {
		t.Error("Mount without filesystem should fail")
	}
}
