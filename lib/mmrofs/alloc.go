// Copyright 2026 The MMROFS Authors
// SPDX-License-Identifier: Apache-2.0

package mmrofs

import "sort"

// allocEntry claims the first FREE slot at or after the allocation
// hint. A slot whose state byte reads FREE but whose body is not
// all-ones was torn by a power cut mid-allocation; it is demoted to
// ERASED and skipped.
//
// Caller holds fs.mu.
func (fs *Filesystem) allocEntry() (uint32, error) {
	for i := fs.nextFree; i < MaxEntries; i++ {
		raw := fs.entryRaw(i)
		if State(raw[0]) != StateFree {
			continue
		}
		allFF := true
		for _, b := range raw {
			if b != 0xFF {
				allFF = false
				break
			}
		}
		if !allFF {
			if err := fs.writeState(i, StateErased); err != nil {
				return 0, err
			}
			continue
		}
		fs.nextFree = i + 1
		return i, nil
	}
	return 0, ErrNoSpace
}

// extent is an occupied data-region interval.
type extent struct {
	start uint32
	end   uint32
}

// occupiedExtents collects the extents of every entry that owns data:
// live entries, plus TOMBSTONING_OLD ones when includeTombstoningOld
// is set — an update mid-commit must not have its extent clobbered
// before recovery finishes it.
func (fs *Filesystem) occupiedExtents(includeTombstoningOld bool) []extent {
	var out []extent
	for i := uint32(EntryFirst); i < MaxEntries; i++ {
		e := fs.readEntry(i)
		if !e.State.Live() && !(includeTombstoningOld && e.State == StateTombstoningOld) {
			continue
		}
		if e.Offset < DataRegionStart {
			continue
		}
		out = append(out, extent{start: e.Offset, end: e.Offset + e.allocatedBytes()})
	}
	return out
}

// findFreeData returns the offset of the first gap in the data region
// large enough for needed bytes (rounded up to whole erase blocks).
// First-fit over the sorted occupied extents.
//
// Caller holds fs.mu.
func (fs *Filesystem) findFreeData(needed uint32) (uint32, error) {
	alloc := alignUp4K(needed)
	occupied := fs.occupiedExtents(true)
	sort.Slice(occupied, func(a, b int) bool {
		return occupied[a].start < occupied[b].start
	})

	candidate := uint32(DataRegionStart)
	for _, ext := range occupied {
		if uint64(candidate)+uint64(alloc) <= uint64(ext.start) {
			return candidate, nil
		}
		if ext.end > candidate {
			candidate = ext.end
		}
	}
	if uint64(candidate)+uint64(alloc) > uint64(fs.size) {
		return 0, ErrNoSpace
	}
	return candidate, nil
}

// spaceAfterFree reports whether the extent at offset, currently
// currentAlloc bytes, can grow in place to hold neededTotal bytes.
// The tail must not overlap any live extent, and it must actually
// read erased — programmed bytes in a gap the table no longer
// references would corrupt an append.
//
// Caller holds fs.mu.
func (fs *Filesystem) spaceAfterFree(offset, currentAlloc, neededTotal uint32) bool {
	newAlloc := alignUp4K(neededTotal)
	if newAlloc <= currentAlloc {
		return true
	}

	tailStart := offset + currentAlloc
	tailEnd := offset + newAlloc
	if uint64(tailEnd) > uint64(fs.size) {
		return false
	}

	for _, ext := range fs.occupiedExtents(false) {
		if ext.start < tailEnd && ext.end > tailStart {
			return false
		}
	}

	var buf [64]byte
	for pos := tailStart; pos < tailEnd; {
		chunk := uint32(len(buf))
		if pos+chunk > tailEnd {
			chunk = tailEnd - pos
		}
		if err := fs.window.read(pos, buf[:chunk]); err != nil {
			return false
		}
		for _, b := range buf[:chunk] {
			if b != 0xFF {
				return false
			}
		}
		pos += chunk
	}
	return true
}
