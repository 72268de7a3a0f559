// Copyright 2026 The MMROFS Authors
// SPDX-License-Identifier: Apache-2.0

package mmrofs

import (
	"fmt"
	"time"
)

// The transactional update engine. Every operation is a fixed
// sequence of flash programs in which each step either leaves the
// previous logical state recoverable or commits the next one. The
// commit point of every multi-entry operation is the tombstone-old
// flow; everything before it is invisible, everything after it is
// finished by recovery if interrupted.

// createEntry claims a FREE slot and walks it to PENDING_DATA:
// program state=ALLOCATING, program bytes 1..31, program
// state=PENDING_DATA. The entry's extent must already be erased.
//
// On a mid-sequence flash error the slot is tombstoned, which is the
// universal abort. Caller holds fs.mu.
func (fs *Filesystem) createEntry(nameLen uint16, nameHash, offset, size, ctime, oldEntry, dstEntry uint32) (uint32, error) {
	slot, err := fs.allocEntry()
	if err != nil {
		return 0, err
	}

	if err := fs.writeState(slot, StateAllocating); err != nil {
		return 0, fmt.Errorf("claiming entry %d: %w", slot, err)
	}

	e := Entry{
		State:     StateAllocating,
		ReservedV: 0x00,
		NameLen:   nameLen,
		NameHash:  nameHash,
		Offset:    offset,
		Size:      size,
		Mtime:     MtimeUnset,
		Ctime:     ctime,
		OldEntry:  oldEntry,
		DstEntry:  dstEntry,
	}
	if err := fs.writeBody(slot, e); err != nil {
		fs.abortEntry(slot)
		return 0, fmt.Errorf("writing entry %d body: %w", slot, err)
	}

	if err := fs.writeState(slot, StatePendingData); err != nil {
		fs.abortEntry(slot)
		return 0, fmt.Errorf("advancing entry %d to PENDING_DATA: %w", slot, err)
	}

	return slot, nil
}

// abortEntry tombstones a slot after a mid-operation failure. If even
// the tombstone program fails, recovery on the next mount handles the
// slot; nothing more can be done under power.
func (fs *Filesystem) abortEntry(slot uint32) {
	if err := fs.writeState(slot, StateTombstone); err != nil {
		fs.logger.Warn("abort: tombstone failed, deferring to recovery",
			"entry", slot, "error", err)
	}
}

// tombstoneOldFlow commits a new version: new entry TOMBSTONING_OLD,
// tombstone the superseded entry, tombstone the displaced destination
// entry if any, then new entry ACTIVE. A power cut anywhere in the
// middle leaves the new entry in TOMBSTONING_OLD, from which recovery
// replays the remaining steps using the back-pointers stored in the
// entry itself.
//
// Caller holds fs.mu.
func (fs *Filesystem) tombstoneOldFlow(newSlot, oldSlot, dstSlot uint32) error {
	if err := fs.writeState(newSlot, StateTombstoningOld); err != nil {
		return err
	}
	if err := fs.writeState(oldSlot, StateTombstone); err != nil {
		return err
	}
	if dstSlot != EntryNone && dstSlot < MaxEntries {
		if err := fs.writeState(dstSlot, StateTombstone); err != nil {
			return err
		}
	}
	return fs.writeState(newSlot, StateActive)
}

// copyData copies length bytes of data-region content from srcOff to
// dstOff through the sliding window, in small chunks. The destination
// must be erased.
func (fs *Filesystem) copyData(srcOff, dstOff, length uint32) error {
	var buf [256]byte
	for length > 0 {
		chunk := uint32(len(buf))
		if chunk > length {
			chunk = length
		}
		if err := fs.window.read(srcOff, buf[:chunk]); err != nil {
			return err
		}
		if err := fs.dev.Program(dstOff, buf[:chunk]); err != nil {
			return err
		}
		srcOff += chunk
		dstOff += chunk
		length -= chunk
	}
	return nil
}

// Unlink deletes a file. A single state program — inherently atomic.
func (fs *Filesystem) Unlink(path string) error {
	name, err := normalizeName(path)
	if err != nil {
		return err
	}

	fs.mu.Lock()
	defer fs.mu.Unlock()
	if fs.closed {
		return ErrClosed
	}

	index, _, found := fs.lookup(name)
	if !found {
		return ErrNotFound
	}
	return fs.writeState(index, StateTombstone)
}

// RestoreFile writes a complete file with explicit timestamps,
// superseding any current version. Snapshot restore uses it to carry
// ctime and mtime across a dump/restore cycle; the flow is the rename
// flow minus the copy — exact size up front, mtime programmed before
// ACTIVE.
func (fs *Filesystem) RestoreFile(path string, payload []byte, ctime, mtime time.Time) error {
	name, err := normalizeName(path)
	if err != nil {
		return err
	}

	fs.mu.Lock()
	defer fs.mu.Unlock()
	if fs.closed {
		return ErrClosed
	}

	oldSlot := uint32(EntryNone)
	if idx, _, found := fs.lookup(name); found {
		oldSlot = idx
	}

	total := uint32(len(name)) + uint32(len(payload))
	alloc := alignUp4K(total)
	offset, err := fs.findFreeData(alloc)
	if err != nil {
		return err
	}
	if err := fs.dev.Erase(offset, alloc); err != nil {
		return fmt.Errorf("erasing restore extent: %w", err)
	}

	slot, err := fs.createEntry(uint16(len(name)), NameHash(name),
		offset, total, uint32(ctime.Unix()), oldSlot, EntryNone)
	if err != nil {
		return err
	}

	if err := fs.dev.Program(offset, name); err != nil {
		fs.abortEntry(slot)
		return fmt.Errorf("writing restored filename: %w", err)
	}
	if len(payload) > 0 {
		if err := fs.dev.Program(offset+uint32(len(name)), payload); err != nil {
			fs.abortEntry(slot)
			return fmt.Errorf("writing restored payload: %w", err)
		}
	}

	if err := fs.writeState(slot, StateTombstoningOld); err != nil {
		return err
	}
	if oldSlot != EntryNone {
		if err := fs.writeState(oldSlot, StateTombstone); err != nil {
			return err
		}
	}
	if err := fs.writeMtime(slot, uint32(mtime.Unix())); err != nil {
		return err
	}
	if err := fs.writeState(slot, StateActive); err != nil {
		return err
	}
	return fs.writeState(slot, StateValid)
}

// Rename atomically renames src to dst, displacing any existing file
// at dst. The payload is copied into a fresh extent behind a new
// entry that records both the source and the displaced destination in
// its back-pointers, so a crash mid-commit is completed by recovery.
// The new entry keeps the source's ctime; its size is exact from the
// start (the payload length is known), so no capacity mask and no
// close-time finalize.
func (fs *Filesystem) Rename(srcPath, dstPath string) error {
	srcName, err := normalizeName(srcPath)
	if err != nil {
		return err
	}
	dstName, err := normalizeName(dstPath)
	if err != nil {
		return err
	}

	fs.mu.Lock()
	defer fs.mu.Unlock()
	if fs.closed {
		return ErrClosed
	}

	srcIdx, srcEntry, found := fs.lookup(srcName)
	if !found {
		return ErrNotFound
	}

	dstSlot := uint32(EntryNone)
	if dstIdx, _, dstFound := fs.lookup(dstName); dstFound {
		dstSlot = dstIdx
	}

	srcDataSize := srcEntry.Size - uint32(srcEntry.NameLen)
	newTotal := uint32(len(dstName)) + srcDataSize
	newAlloc := alignUp4K(newTotal)

	newOffset, err := fs.findFreeData(newAlloc)
	if err != nil {
		return err
	}
	if err := fs.dev.Erase(newOffset, newAlloc); err != nil {
		return fmt.Errorf("erasing rename extent: %w", err)
	}

	newSlot, err := fs.createEntry(uint16(len(dstName)), NameHash(dstName),
		newOffset, newTotal, srcEntry.Ctime, srcIdx, dstSlot)
	if err != nil {
		return err
	}

	if err := fs.dev.Program(newOffset, dstName); err != nil {
		fs.abortEntry(newSlot)
		return fmt.Errorf("writing rename filename: %w", err)
	}
	if srcDataSize > 0 {
		srcData := srcEntry.Offset + uint32(srcEntry.NameLen)
		if err := fs.copyData(srcData, newOffset+uint32(len(dstName)), srcDataSize); err != nil {
			fs.abortEntry(newSlot)
			return fmt.Errorf("copying rename payload: %w", err)
		}
	}

	// Commit. Mtime goes in before VALID; it is the rename time, not
	// the source's.
	if err := fs.writeState(newSlot, StateTombstoningOld); err != nil {
		return err
	}
	if err := fs.writeState(srcIdx, StateTombstone); err != nil {
		return err
	}
	if dstSlot != EntryNone {
		if err := fs.writeState(dstSlot, StateTombstone); err != nil {
			return err
		}
	}
	if err := fs.writeMtime(newSlot, fs.now()); err != nil {
		return err
	}
	if err := fs.writeState(newSlot, StateActive); err != nil {
		return err
	}
	return fs.writeState(newSlot, StateValid)
}
