// Copyright 2026 The MMROFS Authors
// SPDX-License-Identifier: Apache-2.0

package mmrofs

import (
	"encoding/binary"
	"fmt"
	"log/slog"
	"sync"

	"github.com/mmrofs-foundation/mmrofs/lib/clock"
	"github.com/mmrofs-foundation/mmrofs/lib/flash"
)

// DefaultMaxDirs is the default number of concurrently open
// directory scans.
const DefaultMaxDirs = 2

// Options configures a mount.
type Options struct {
	// Device is the flash partition. Required. Its size must be at
	// least MinPartitionSize.
	Device flash.Device

	// MaxFiles is the size of the file-descriptor table. Required,
	// positive.
	MaxFiles int

	// MaxDirs is the size of the directory-handle table. Zero uses
	// DefaultMaxDirs.
	MaxDirs int

	// Clock provides wall time for ctime/mtime stamping. If nil,
	// defaults to clock.Real(). If it also implements
	// clock.Adjustable, mount pushes the newest stored timestamp
	// into it when the clock reads before the sentinel year.
	Clock clock.Clock

	// Logger receives recovery and repair diagnostics. If nil, a
	// no-op logger is used.
	Logger *slog.Logger
}

// Filesystem is a mounted MMROFS partition.
//
// All operations serialize under one lock: writes are rare and
// cross-operation atomicity is already guaranteed at the flash-state
// level, so finer locking buys nothing. Recovery runs inside Mount,
// before any descriptor can be issued.
type Filesystem struct {
	dev    flash.Device
	size   uint32
	clock  clock.Clock
	logger *slog.Logger

	mu     sync.Mutex
	closed bool

	// header is the permanent read-only map of the entry table.
	header []byte

	// window is the sliding map over the data region.
	window dataWindow

	fds  []fileDesc
	dirs []dirHandle

	// nextFree is the allocation hint: the lowest slot that may
	// still be FREE. Rebuilt by recovery.
	nextFree uint32
}

// Mount binds a partition, runs boot-time recovery, and returns a
// ready filesystem. Any interrupted transaction left by a power cut
// is driven to a terminal state before Mount returns.
func Mount(options Options) (*Filesystem, error) {
	if options.Device == nil {
		return nil, fmt.Errorf("%w: device is required", ErrInvalidArgument)
	}
	if options.MaxFiles <= 0 {
		return nil, fmt.Errorf("%w: max files must be positive", ErrInvalidArgument)
	}
	if options.MaxDirs == 0 {
		options.MaxDirs = DefaultMaxDirs
	}
	if options.Clock == nil {
		options.Clock = clock.Real()
	}
	if options.Logger == nil {
		options.Logger = slog.New(slog.DiscardHandler)
	}

	size := options.Device.Size()
	if size < MinPartitionSize {
		return nil, fmt.Errorf("%w: partition is %d bytes, need at least %d",
			ErrInvalidArgument, size, MinPartitionSize)
	}

	header, err := options.Device.Map(0, HeaderSize)
	if err != nil {
		return nil, fmt.Errorf("mapping header region: %w", err)
	}

	fs := &Filesystem{
		dev:      options.Device,
		size:     size,
		clock:    options.Clock,
		logger:   options.Logger,
		header:   header,
		window:   dataWindow{dev: options.Device},
		fds:      make([]fileDesc, options.MaxFiles),
		dirs:     make([]dirHandle, options.MaxDirs),
		nextFree: EntryFirst,
	}

	// Seed the clock from stored timestamps before recovery stamps
	// anything with it.
	fs.bootstrapClock()

	if err := fs.recover(); err != nil {
		return nil, fmt.Errorf("recovery: %w", err)
	}

	fs.logger.Info("mounted",
		"partition_size", size,
		"entries", MaxEntries-EntryFirst,
		"max_files", options.MaxFiles)
	return fs, nil
}

// Close releases the filesystem. Open descriptors are invalidated
// without finalizing in-flight writes; the next mount's recovery
// finalizes a version left ACTIVE by an unclosed writer (inferring its
// size and stamping mtime), the same way it would after a power cut.
// The underlying device stays open — it belongs to the caller.
func (fs *Filesystem) Close() error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	fs.closed = true
	for i := range fs.fds {
		fs.fds[i] = fileDesc{}
	}
	for i := range fs.dirs {
		fs.dirs[i] = dirHandle{}
	}
	return nil
}

// Device returns the underlying flash device.
func (fs *Filesystem) Device() flash.Device {
	return fs.dev
}

/* -------------------------------------------------------------------
 * Entry table access. All callers hold fs.mu.
 * ------------------------------------------------------------------- */

func entryFlashOffset(index uint32) uint32 {
	return index * EntrySize
}

// entryRaw returns the mapped 32-byte slot image.
func (fs *Filesystem) entryRaw(index uint32) []byte {
	off := entryFlashOffset(index)
	return fs.header[off : off+EntrySize]
}

// readEntry decodes slot index from the header map.
func (fs *Filesystem) readEntry(index uint32) Entry {
	return decodeEntry(fs.entryRaw(index))
}

// writeState programs only the state byte of slot index.
func (fs *Filesystem) writeState(index uint32, s State) error {
	return fs.dev.Program(entryFlashOffset(index), []byte{byte(s)})
}

// writeBody programs bytes 1..31 of slot index. The state byte must
// already have been programmed to ALLOCATING.
func (fs *Filesystem) writeBody(index uint32, e Entry) error {
	raw := encodeEntry(e)
	return fs.dev.Program(entryFlashOffset(index)+1, raw[1:])
}

// writeMtime programs the mtime field in place. Legal only when the
// field still reads MtimeUnset or when re-writing identical bits.
func (fs *Filesystem) writeMtime(index uint32, mtime uint32) error {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], mtime)
	return fs.dev.Program(entryFlashOffset(index)+16, buf[:])
}

// writeSize programs the size field in place. Legal because the field
// holds a capacity mask whose set bits are a superset of any smaller
// exact size.
func (fs *Filesystem) writeSize(index uint32, size uint32) error {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], size)
	return fs.dev.Program(entryFlashOffset(index)+12, buf[:])
}

// now returns the current walltime as on-flash seconds.
func (fs *Filesystem) now() uint32 {
	return uint32(fs.clock.Now().Unix())
}
