// Copyright 2026 The MMROFS Authors
// SPDX-License-Identifier: Apache-2.0

package mmrofs

import (
	"time"

	"github.com/mmrofs-foundation/mmrofs/lib/clock"
)

// Boot-time recovery. Runs once inside Mount, before any descriptor
// exists, and drives every entry left mid-transaction by a power cut
// to a terminal state. Each repair is itself a sequence of 1→0
// programs, so recovery interrupted by another power cut simply
// resumes on the next boot.

// sentinelYear: a host clock reading before this is considered unset
// and is seeded from stored timestamps.
const sentinelYear = 1990

// recover scans the whole entry table and applies the per-state
// repair actions. Afterwards the allocation hint points at the first
// FREE slot.
func (fs *Filesystem) recover() error {
	firstFree := uint32(MaxEntries)

	for i := uint32(EntryFirst); i < MaxEntries; i++ {
		raw := fs.entryRaw(i)
		state := State(raw[0])
		e := decodeEntry(raw)

		switch state {
		case StateFree:
			allFF := true
			for _, b := range raw {
				if b != 0xFF {
					allFF = false
					break
				}
			}
			if !allFF {
				// Torn mid-allocation before the state byte
				// advanced. The slot contents are garbage.
				if err := fs.writeState(i, StateErased); err != nil {
					return err
				}
			} else if i < firstFree {
				firstFree = i
			}

		case StateAllocating, StatePendingData:
			// The create or update never committed; nothing
			// references this version.
			fs.logger.Warn("recovery: tombstoning incomplete entry",
				"entry", i, "state", state.String())
			if err := fs.writeState(i, StateTombstone); err != nil {
				return err
			}

		case StateTombstoningOld:
			// Interrupted between commit start and ACTIVE. The
			// back-pointers in the entry say which old versions
			// still need tombstoning; finish the flow, then treat
			// the entry as ACTIVE.
			fs.logger.Info("recovery: completing interrupted commit", "entry", i)
			if !e.validate(fs.size) {
				if err := fs.writeState(i, StateTombstone); err != nil {
					return err
				}
				break
			}
			if err := fs.tombstoneIfLive(e.OldEntry); err != nil {
				return err
			}
			if err := fs.tombstoneIfLive(e.DstEntry); err != nil {
				return err
			}
			if err := fs.writeState(i, StateActive); err != nil {
				return err
			}
			e = fs.readEntry(i)
			if err := fs.recoverActive(i, e); err != nil {
				return err
			}

		case StateActive:
			if err := fs.recoverActive(i, e); err != nil {
				return err
			}

		case StateValid:
			if !e.validate(fs.size) {
				fs.logger.Warn("recovery: tombstoning invalid VALID entry", "entry", i)
				if err := fs.writeState(i, StateTombstone); err != nil {
					return err
				}
			}

		case StateTombstone, StateBadBlock, StateErased:
			// Terminal.

		default:
			// A state byte mid-program when power went out. The
			// slot is unusable but harmless once marked.
			fs.logger.Warn("recovery: unknown state byte",
				"entry", i, "state", uint8(state))
			if err := fs.writeState(i, StateErased); err != nil {
				return err
			}
		}
	}

	fs.nextFree = firstFree
	return nil
}

// tombstoneIfLive tombstones the referenced slot if the back-pointer
// is set, in range, and the slot still claims a live state.
func (fs *Filesystem) tombstoneIfLive(ref uint32) error {
	if ref == EntryNone || ref >= MaxEntries {
		return nil
	}
	if !fs.readEntry(ref).State.Live() {
		return nil
	}
	return fs.writeState(ref, StateTombstone)
}

// recoverActive repairs an entry that was visible but never
// finalized: the size may still be a capacity mask or torn, and the
// mtime may be unset or torn.
func (fs *Filesystem) recoverActive(i uint32, e Entry) error {
	if !e.validate(fs.size) {
		return fs.writeState(i, StateTombstone)
	}

	fs.logger.Info("recovery: finalizing ACTIVE entry", "entry", i)

	// Size. The extent holds filename + data + erased filler, so the
	// last non-0xFF byte bounds the real content.
	inferred, err := fs.inferSize(&e)
	if err != nil {
		return err
	}
	if isCapacityMask(e.Size) {
		if inferred != e.Size {
			if err := fs.writeSize(i, inferred); err != nil {
				return err
			}
			e.Size = inferred
		}
	} else if inferred < e.Size {
		// Exact size on flash but trailing erased bytes inside it.
		// One or two can be legitimate 0xFF data bytes at the end of
		// the payload; more means the size write itself tore.
		if e.Size-inferred > 2 {
			fs.logger.Warn("recovery: torn size, using inferred",
				"entry", i, "stored", e.Size, "inferred", inferred)
			if err := fs.writeSize(i, inferred); err != nil {
				return err
			}
			e.Size = inferred
		}
	}

	// Mtime.
	if e.Mtime == MtimeUnset {
		// Never programmed; the field is still all-ones, so an
		// in-place program is legal.
		if err := fs.writeMtime(i, fs.now()); err != nil {
			return err
		}
		if err := fs.writeState(i, StateValid); err != nil {
			return err
		}
		fs.logger.Info("recovery: promoted to VALID", "entry", i)
		return nil
	}

	// The mtime field was programmed but the entry never reached
	// VALID — the write may have torn, and unlike size there is no
	// bit-direction argument that bounds the damage. The only safe
	// repair is a fresh entry over the same extent with a new mtime.
	newSlot, err := fs.allocEntry()
	if err != nil {
		// Leave ACTIVE. The file stays readable; a later mount
		// retries once slots are available.
		fs.logger.Warn("recovery: cannot repair torn mtime, no free slots", "entry", i)
		return nil
	}

	if err := fs.writeState(newSlot, StateAllocating); err != nil {
		return err
	}
	ne := Entry{
		State:     StateAllocating,
		ReservedV: 0x00,
		NameLen:   e.NameLen,
		NameHash:  e.NameHash,
		Offset:    e.Offset,
		Size:      e.Size,
		Mtime:     fs.now(),
		Ctime:     e.Ctime,
		OldEntry:  i,
		DstEntry:  EntryNone,
	}
	if err := fs.writeBody(newSlot, ne); err != nil {
		return err
	}
	if err := fs.writeState(newSlot, StatePendingData); err != nil {
		return err
	}
	if err := fs.writeState(newSlot, StateTombstoningOld); err != nil {
		return err
	}
	if err := fs.writeState(i, StateTombstone); err != nil {
		return err
	}
	if err := fs.writeState(newSlot, StateActive); err != nil {
		return err
	}
	// The mtime in the new entry was written this boot; trust it.
	if err := fs.writeState(newSlot, StateValid); err != nil {
		return err
	}
	fs.logger.Info("recovery: re-allocated entry for torn mtime",
		"old", i, "new", newSlot)
	return nil
}

// inferSize scans the extent backward for the last programmed byte
// and returns the implied total size (filename included). An extent
// with nothing after the filename infers the bare filename length.
func (fs *Filesystem) inferSize(e *Entry) (uint32, error) {
	floor := e.Offset + uint32(e.NameLen)
	pos := e.Offset + e.allocatedBytes()

	var buf [64]byte
	for pos > floor {
		chunkStart := pos - uint32(len(buf))
		if pos < uint32(len(buf)) || chunkStart < floor {
			chunkStart = floor
		}
		chunkLen := pos - chunkStart
		if err := fs.window.read(chunkStart, buf[:chunkLen]); err != nil {
			return 0, err
		}
		for j := int(chunkLen) - 1; j >= 0; j-- {
			if buf[j] != 0xFF {
				return chunkStart + uint32(j) - e.Offset + 1, nil
			}
		}
		pos = chunkStart
	}
	return uint32(e.NameLen), nil
}

// bootstrapClock seeds an unset host clock from the newest stored
// timestamp, keeping ctime ≤ mtime ≤ now approximately monotonic
// across reboots of a clockless device. Runs before recovery so that
// recovery's own stamps use the corrected time. Only clocks that
// implement clock.Adjustable can be seeded.
func (fs *Filesystem) bootstrapClock() {
	adjustable, ok := fs.clock.(clock.Adjustable)
	if !ok {
		return
	}
	if fs.clock.Now().Year() >= sentinelYear {
		return
	}

	var maxTime uint32
	for i := uint32(EntryFirst); i < MaxEntries; i++ {
		e := fs.readEntry(i)
		if !e.State.Live() {
			continue
		}
		if e.Mtime != MtimeUnset && e.Mtime > maxTime {
			maxTime = e.Mtime
		}
		if e.Ctime != MtimeUnset && e.Ctime > maxTime {
			maxTime = e.Ctime
		}
	}
	if maxTime == 0 {
		return
	}

	adjustable.Set(time.Unix(int64(maxTime), 0))
	fs.logger.Info("clock initialized from stored timestamps", "time", maxTime)
}
