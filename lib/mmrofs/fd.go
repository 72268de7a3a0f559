// Copyright 2026 The MMROFS Authors
// SPDX-License-Identifier: Apache-2.0

package mmrofs

import (
	"fmt"
	"io"
	"time"
)

// OpenFlags selects the access mode for Open.
type OpenFlags uint8

const (
	// FlagRead opens for reading. The file must exist.
	FlagRead OpenFlags = 1 << iota

	// FlagWrite opens for writing. Writes are append-only; the
	// first write creates a new version holding the existing file
	// contents followed by the written bytes.
	FlagWrite

	// FlagCreate allows FlagWrite to create a missing file.
	FlagCreate
)

// fdState tracks where a writer descriptor is in the update protocol.
type fdState uint8

const (
	fdUnused fdState = iota

	// fdPendingNew: opened with create, no entry allocated yet. The
	// first write runs the create flow.
	fdPendingNew

	// fdPendingUpdate: an existing file will be superseded by the
	// first write.
	fdPendingUpdate

	// fdCommitted: a live entry backs this descriptor.
	fdCommitted
)

// fileDesc is one open file. Cursor and sizes are in payload bytes
// (excluding the on-flash filename prefix).
type fileDesc struct {
	inUse    bool
	flags    OpenFlags
	state    fdState
	name     []byte
	nameHash uint32

	entry       uint32 // committed entry index
	flashOffset uint32 // extent offset
	cursor      uint32 // read cursor within the payload
	dataSize    uint32 // committed/read: payload bytes; writer: bytes written

	oldEntry    uint32
	oldDataSize uint32
	oldCtime    uint32
}

// Info describes a file for Stat and FStat.
type Info struct {
	// Size is the payload length in bytes.
	Size int64

	// ModTime is the last close or rename time; zero when the file
	// has never been finalized.
	ModTime time.Time

	// CreateTime is when the name was first created. Survives
	// updates and renames.
	CreateTime time.Time
}

// Open opens a file and returns a descriptor index.
//
// Read-only descriptors require the file to exist. Write descriptors
// append to the current contents, superseding the current version on
// first write; with FlagCreate the file may be missing. A writer that is closed without writing leaves
// the filesystem untouched.
func (fs *Filesystem) Open(path string, flags OpenFlags) (int, error) {
	name, err := normalizeName(path)
	if err != nil {
		return -1, err
	}
	if flags&(FlagRead|FlagWrite) == 0 {
		return -1, fmt.Errorf("%w: no access mode in flags", ErrInvalidArgument)
	}

	fs.mu.Lock()
	defer fs.mu.Unlock()
	if fs.closed {
		return -1, ErrClosed
	}

	existingIdx, existing, found := fs.lookup(name)

	fd := -1
	for i := range fs.fds {
		if !fs.fds[i].inUse {
			fd = i
			break
		}
	}
	if fd < 0 {
		return -1, ErrTooManyOpen
	}

	f := &fs.fds[fd]
	*f = fileDesc{
		inUse:    true,
		flags:    flags,
		name:     name,
		nameHash: NameHash(name),
		entry:    EntryNone,
		oldEntry: EntryNone,
	}

	if flags&FlagWrite == 0 {
		// Read-only.
		if !found {
			f.inUse = false
			return -1, ErrNotFound
		}
		f.state = fdCommitted
		f.entry = existingIdx
		f.flashOffset = existing.Offset
		f.dataSize = existing.Size - uint32(existing.NameLen)
		return fd, nil
	}

	if found {
		f.state = fdPendingUpdate
		f.oldEntry = existingIdx
		f.oldCtime = existing.Ctime
		f.flashOffset = existing.Offset
		if existing.State.Live() && !isCapacityMask(existing.Size) {
			f.oldDataSize = existing.Size - uint32(existing.NameLen)
		} else {
			// Open during an unfinalized state; size is not
			// trustworthy until recovery has run.
			f.oldDataSize = SizeUnknown
		}
		return fd, nil
	}

	if flags&FlagCreate == 0 {
		f.inUse = false
		return -1, ErrNotFound
	}
	f.state = fdPendingNew
	return fd, nil
}

// getFD validates a descriptor index. Caller holds fs.mu.
func (fs *Filesystem) getFD(fd int) (*fileDesc, error) {
	if fd < 0 || fd >= len(fs.fds) || !fs.fds[fd].inUse {
		return nil, ErrBadDescriptor
	}
	return &fs.fds[fd], nil
}

// Read copies payload bytes from the read cursor into p. Returns 0,
// nil at end of file. Descriptors that have not committed a write
// have nothing to read.
func (fs *Filesystem) Read(fd int, p []byte) (int, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if fs.closed {
		return 0, ErrClosed
	}
	f, err := fs.getFD(fd)
	if err != nil {
		return 0, err
	}
	if f.state != fdCommitted {
		return 0, nil
	}
	if f.cursor >= f.dataSize {
		return 0, nil
	}
	n := uint32(len(p))
	if avail := f.dataSize - f.cursor; n > avail {
		n = avail
	}
	readPos := f.flashOffset + uint32(len(f.name)) + f.cursor
	if err := fs.window.read(readPos, p[:n]); err != nil {
		return 0, fmt.Errorf("reading payload: %w", err)
	}
	f.cursor += n
	return int(n), nil
}

// Write appends p to the file. The first write on a writer runs the
// create or update flow and makes the new version visible (ACTIVE);
// later writes extend it, growing the extent through the update flow
// when the current allocation runs out. The whole range is programmed
// or the call fails — there are no partial writes.
func (fs *Filesystem) Write(fd int, p []byte) (int, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if fs.closed {
		return 0, ErrClosed
	}
	f, err := fs.getFD(fd)
	if err != nil {
		return 0, err
	}
	if f.flags&FlagWrite == 0 {
		return 0, ErrReadOnly
	}
	if len(p) == 0 {
		return 0, nil
	}

	switch f.state {
	case fdPendingNew:
		err = fs.firstWriteNew(f, p)
	case fdPendingUpdate:
		err = fs.firstWriteUpdate(f, p)
	case fdCommitted:
		err = fs.writeCommitted(f, p)
	default:
		return 0, ErrBadDescriptor
	}
	if err != nil {
		return 0, err
	}
	return len(p), nil
}

// firstWriteNew runs the create flow: erase a fresh extent, allocate
// an entry carrying a capacity mask, program filename then payload,
// advance to ACTIVE.
func (fs *Filesystem) firstWriteNew(f *fileDesc, p []byte) error {
	total := uint32(len(f.name)) + uint32(len(p))
	allocSize := maskedAlloc(total)
	// All bits below the allocation boundary set: any exact size up
	// to the capacity programs in place later.
	capacity := allocSize - 1

	offset, err := fs.findFreeData(allocSize)
	if err != nil {
		return err
	}
	if err := fs.dev.Erase(offset, allocSize); err != nil {
		return fmt.Errorf("erasing extent: %w", err)
	}

	slot, err := fs.createEntry(uint16(len(f.name)), f.nameHash,
		offset, capacity, fs.now(), EntryNone, EntryNone)
	if err != nil {
		return err
	}

	if err := fs.dev.Program(offset, f.name); err != nil {
		fs.abortEntry(slot)
		return fmt.Errorf("writing filename: %w", err)
	}
	if err := fs.dev.Program(offset+uint32(len(f.name)), p); err != nil {
		fs.abortEntry(slot)
		return fmt.Errorf("writing payload: %w", err)
	}

	if err := fs.writeState(slot, StateActive); err != nil {
		return err
	}

	f.entry = slot
	f.flashOffset = offset
	f.dataSize = uint32(len(p))
	f.state = fdCommitted
	return nil
}

// firstWriteUpdate supersedes an existing file. Appending in place is
// preferred: when the erased space after the old extent fits the new
// total, the old data stays put and only the tail is programmed.
// Otherwise the whole file relocates to a fresh extent. Either way a
// new entry commits via the tombstone-old flow.
func (fs *Filesystem) firstWriteUpdate(f *fileDesc, p []byte) error {
	if f.oldDataSize == SizeUnknown {
		return fmt.Errorf("%w: superseded entry %d has no trustworthy size",
			ErrInvalidArgument, f.oldEntry)
	}

	oldEntry := fs.readEntry(f.oldEntry)
	newTotal := uint32(len(f.name)) + f.oldDataSize + uint32(len(p))
	oldAlloc := oldEntry.allocatedBytes()
	newAlloc := maskedAlloc(newTotal)

	if fs.spaceAfterFree(oldEntry.Offset, oldAlloc, newAlloc) {
		capacity := newAlloc - 1

		if newAlloc > oldAlloc {
			if err := fs.dev.Erase(oldEntry.Offset+oldAlloc, newAlloc-oldAlloc); err != nil {
				return fmt.Errorf("erasing tail blocks: %w", err)
			}
		}

		slot, err := fs.createEntry(uint16(len(f.name)), f.nameHash,
			oldEntry.Offset, capacity, f.oldCtime, f.oldEntry, EntryNone)
		if err != nil {
			return err
		}

		writePos := oldEntry.Offset + uint32(len(f.name)) + f.oldDataSize
		if err := fs.dev.Program(writePos, p); err != nil {
			fs.abortEntry(slot)
			return fmt.Errorf("writing appended payload: %w", err)
		}

		if err := fs.tombstoneOldFlow(slot, f.oldEntry, EntryNone); err != nil {
			return err
		}

		f.entry = slot
		f.flashOffset = oldEntry.Offset
		f.dataSize = f.oldDataSize + uint32(len(p))
		f.state = fdCommitted
		return nil
	}

	// Relocate: fresh extent, copy the surviving data, append the new.
	capacity := newAlloc - 1

	newOffset, err := fs.findFreeData(newAlloc)
	if err != nil {
		return err
	}
	if err := fs.dev.Erase(newOffset, newAlloc); err != nil {
		return fmt.Errorf("erasing extent: %w", err)
	}

	slot, err := fs.createEntry(uint16(len(f.name)), f.nameHash,
		newOffset, capacity, f.oldCtime, f.oldEntry, EntryNone)
	if err != nil {
		return err
	}

	if err := fs.dev.Program(newOffset, f.name); err != nil {
		fs.abortEntry(slot)
		return fmt.Errorf("writing filename: %w", err)
	}
	if f.oldDataSize > 0 {
		oldData := oldEntry.Offset + uint32(oldEntry.NameLen)
		if err := fs.copyData(oldData, newOffset+uint32(len(f.name)), f.oldDataSize); err != nil {
			fs.abortEntry(slot)
			return fmt.Errorf("copying prior payload: %w", err)
		}
	}
	if err := fs.dev.Program(newOffset+uint32(len(f.name))+f.oldDataSize, p); err != nil {
		fs.abortEntry(slot)
		return fmt.Errorf("writing payload: %w", err)
	}

	if err := fs.tombstoneOldFlow(slot, f.oldEntry, EntryNone); err != nil {
		return err
	}

	f.entry = slot
	f.flashOffset = newOffset
	f.dataSize = f.oldDataSize + uint32(len(p))
	f.state = fdCommitted
	return nil
}

// writeCommitted extends an already-visible version. While the new
// total stays inside the current allocation the bytes are simply
// programmed past the tail. Growing past it re-runs the update flow
// with a fresh capacity mask, in place when the following space is
// erased, relocating otherwise.
func (fs *Filesystem) writeCommitted(f *fileDesc, p []byte) error {
	cur := fs.readEntry(f.entry)
	newDataTotal := f.dataSize + uint32(len(p))
	newTotal := uint32(len(f.name)) + newDataTotal
	curAlloc := cur.allocatedBytes()

	// The stored capacity mask bounds in-place fills: the exact size
	// programmed at close must be a bit-subset of it.
	if isCapacityMask(cur.Size) && newTotal <= cur.Size {
		writePos := f.flashOffset + uint32(len(f.name)) + f.dataSize
		if err := fs.dev.Program(writePos, p); err != nil {
			return fmt.Errorf("writing payload: %w", err)
		}
		f.dataSize = newDataTotal
		return nil
	}

	// Out of capacity: supersede ourselves with a larger mask.
	newCapacity := newTotal | capacityMaskBits
	newAlloc := alignUp4K(newCapacity + 1)

	if fs.spaceAfterFree(f.flashOffset, curAlloc, newAlloc) {
		if extra := newAlloc - curAlloc; extra > 0 {
			if err := fs.dev.Erase(f.flashOffset+curAlloc, extra); err != nil {
				return fmt.Errorf("erasing tail blocks: %w", err)
			}
		}

		slot, err := fs.createEntry(uint16(len(f.name)), f.nameHash,
			f.flashOffset, newCapacity, cur.Ctime, f.entry, EntryNone)
		if err != nil {
			return err
		}
		if err := fs.tombstoneOldFlow(slot, f.entry, EntryNone); err != nil {
			return err
		}

		if err := fs.dev.Program(f.flashOffset+uint32(len(f.name))+f.dataSize, p); err != nil {
			return fmt.Errorf("writing payload: %w", err)
		}

		f.entry = slot
		f.dataSize = newDataTotal
		return nil
	}

	newOffset, err := fs.findFreeData(newAlloc)
	if err != nil {
		return err
	}
	if err := fs.dev.Erase(newOffset, newAlloc); err != nil {
		return fmt.Errorf("erasing extent: %w", err)
	}

	slot, err := fs.createEntry(uint16(len(f.name)), f.nameHash,
		newOffset, newCapacity, cur.Ctime, f.entry, EntryNone)
	if err != nil {
		return err
	}

	if err := fs.dev.Program(newOffset, f.name); err != nil {
		fs.abortEntry(slot)
		return fmt.Errorf("writing filename: %w", err)
	}
	if f.dataSize > 0 {
		if err := fs.copyData(f.flashOffset+uint32(len(f.name)),
			newOffset+uint32(len(f.name)), f.dataSize); err != nil {
			fs.abortEntry(slot)
			return fmt.Errorf("copying prior payload: %w", err)
		}
	}

	if err := fs.tombstoneOldFlow(slot, f.entry, EntryNone); err != nil {
		return err
	}

	if err := fs.dev.Program(newOffset+uint32(len(f.name))+f.dataSize, p); err != nil {
		return fmt.Errorf("writing payload: %w", err)
	}

	f.entry = slot
	f.flashOffset = newOffset
	f.dataSize = newDataTotal
	return nil
}

// CloseFile closes a descriptor. A writer that committed a version
// finalizes it: mtime stamped, exact size programmed over the
// capacity mask, state advanced to VALID. A writer that never wrote
// leaves no trace.
func (fs *Filesystem) CloseFile(fd int) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	f, err := fs.getFD(fd)
	if err != nil {
		return err
	}
	defer func() { f.inUse = false }()

	if fs.closed || f.flags&FlagWrite == 0 || f.state != fdCommitted {
		return nil
	}

	if err := fs.writeMtime(f.entry, fs.now()); err != nil {
		return fmt.Errorf("finalizing mtime: %w", err)
	}
	exactSize := uint32(len(f.name)) + f.dataSize
	if err := fs.writeSize(f.entry, exactSize); err != nil {
		return fmt.Errorf("finalizing size: %w", err)
	}
	if err := fs.writeState(f.entry, StateValid); err != nil {
		return fmt.Errorf("advancing to VALID: %w", err)
	}
	return nil
}

// Seek moves the read cursor. Write-only descriptors are append-only
// and reject seeks. A target position outside [0, size] is rejected
// with ErrInvalidArgument and leaves the cursor unchanged.
func (fs *Filesystem) Seek(fd int, offset int64, whence int) (int64, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if fs.closed {
		return 0, ErrClosed
	}
	f, err := fs.getFD(fd)
	if err != nil {
		return 0, err
	}
	if f.flags&FlagRead == 0 {
		return 0, ErrNotSeekable
	}

	var pos int64
	switch whence {
	case io.SeekStart:
		pos = offset
	case io.SeekCurrent:
		pos = int64(f.cursor) + offset
	case io.SeekEnd:
		pos = int64(f.dataSize) + offset
	default:
		return 0, fmt.Errorf("%w: whence %d", ErrInvalidArgument, whence)
	}
	if pos < 0 || pos > int64(f.dataSize) {
		return 0, fmt.Errorf("%w: seek position %d outside [0, %d]",
			ErrInvalidArgument, pos, f.dataSize)
	}
	f.cursor = uint32(pos)
	return pos, nil
}

// Stat resolves a name and returns its file info.
func (fs *Filesystem) Stat(path string) (Info, error) {
	name, err := normalizeName(path)
	if err != nil {
		return Info{}, err
	}

	fs.mu.Lock()
	defer fs.mu.Unlock()
	if fs.closed {
		return Info{}, ErrClosed
	}

	_, e, found := fs.lookup(name)
	if !found {
		return Info{}, ErrNotFound
	}
	return infoFromEntry(e), nil
}

// FStat returns file info for an open descriptor. A writer that has
// not committed yet reports the bytes written so far.
func (fs *Filesystem) FStat(fd int) (Info, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if fs.closed {
		return Info{}, ErrClosed
	}
	f, err := fs.getFD(fd)
	if err != nil {
		return Info{}, err
	}
	if f.state == fdCommitted && f.entry != EntryNone {
		info := infoFromEntry(fs.readEntry(f.entry))
		if f.flags&FlagWrite != 0 {
			// The on-flash size is still a capacity mask until close
			// finalizes it; the descriptor knows the real count.
			info.Size = int64(f.dataSize)
		}
		return info, nil
	}
	return Info{Size: int64(f.dataSize)}, nil
}

func infoFromEntry(e Entry) Info {
	info := Info{
		Size:       int64(e.Size - uint32(e.NameLen)),
		CreateTime: time.Unix(int64(e.Ctime), 0),
	}
	if e.Mtime != MtimeUnset {
		info.ModTime = time.Unix(int64(e.Mtime), 0)
	}
	return info
}
