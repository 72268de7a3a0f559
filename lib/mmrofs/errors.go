// Copyright 2026 The MMROFS Authors
// SPDX-License-Identifier: Apache-2.0

package mmrofs

import "errors"

var (
	// ErrNotFound reports a name with no live entry.
	ErrNotFound = errors.New("mmrofs: file not found")

	// ErrInvalidArgument reports a malformed name, whence, or flag
	// combination.
	ErrInvalidArgument = errors.New("mmrofs: invalid argument")

	// ErrNoSpace reports that no data extent or entry slot could be
	// allocated.
	ErrNoSpace = errors.New("mmrofs: no space left on device")

	// ErrBadDescriptor reports an unused or closed file descriptor.
	ErrBadDescriptor = errors.New("mmrofs: bad file descriptor")

	// ErrTooManyOpen reports an exhausted descriptor or directory
	// table.
	ErrTooManyOpen = errors.New("mmrofs: too many open files")

	// ErrNotSeekable reports a seek on a write-only descriptor;
	// writes are append-only.
	ErrNotSeekable = errors.New("mmrofs: descriptor is not seekable")

	// ErrReadOnly reports a write on a read-only descriptor.
	ErrReadOnly = errors.New("mmrofs: descriptor is read-only")

	// ErrClosed reports an operation on an unmounted filesystem.
	ErrClosed = errors.New("mmrofs: filesystem is closed")
)
