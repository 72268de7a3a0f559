// Copyright 2026 The MMROFS Authors
// SPDX-License-Identifier: Apache-2.0

package mmrofs

import (
	"encoding/binary"
	"fmt"
	"hash/fnv"

	"github.com/mmrofs-foundation/mmrofs/lib/flash"
)

// Partition geometry. The header region is a dense table of 32-byte
// entries; everything after it is the data region holding one
// erase-block-aligned extent per file version.
const (
	// HeaderSize is the size of the entry-table region at the start
	// of the partition.
	HeaderSize = 0x10000

	// DataRegionStart is the partition-relative offset of the first
	// data extent.
	DataRegionStart = HeaderSize

	// EntrySize is the on-flash size of one directory entry.
	EntrySize = 32

	// EraseBlockSize is the flash erase granularity. Extents are
	// aligned to it.
	EraseBlockSize = flash.EraseBlockSize

	// WindowSize is the span of the sliding data-region map.
	WindowSize = 0x10000

	// MaxFilenameLen bounds filename length in bytes.
	MaxFilenameLen = 255

	// MaxEntries is the raw slot count in the header region.
	MaxEntries = HeaderSize / EntrySize

	// EntryFirst is the first usable entry slot. The first header
	// erase block is reserved; its slots are treated as nonexistent.
	EntryFirst = EraseBlockSize / EntrySize

	// MinPartitionSize is the smallest partition that can hold the
	// header plus one data extent.
	MinPartitionSize = HeaderSize + EraseBlockSize
)

// Sentinel field values.
const (
	// EntryNone marks an unused old_entry / dst_entry back-pointer.
	EntryNone = 0xFFFFFFFF

	// MtimeUnset marks an mtime that has never been programmed.
	MtimeUnset = 0xFFFFFFFF

	// SizeUnknown marks a data size the FD layer could not determine.
	SizeUnknown = 0xFFFFFFFF

	// capacityMaskBits are the low bits left set in a provisional
	// size while a file is still being written. Finalizing a smaller
	// exact size only clears bits, which NOR allows in place.
	capacityMaskBits = 0xFFF
)

// State is the lifecycle position of an entry, encoded so that every
// legal transition only clears bits. TOMBSTONE is reachable from any
// live or pending state, making it a universal abort.
type State uint8

// Entry states, in lifecycle order.
const (
	StateFree           State = 0xFF
	StateAllocating     State = 0x7F
	StatePendingData    State = 0x3F
	StateTombstoningOld State = 0x1F
	StateActive         State = 0x0F
	StateValid          State = 0x07
	StateTombstone      State = 0x03
	StateBadBlock       State = 0x01
	StateErased         State = 0x00
)

// Live reports whether an entry in this state is visible to
// applications.
func (s State) Live() bool {
	return s == StateActive || s == StateValid
}

// String returns the state's name, or its byte value if unknown.
func (s State) String() string {
	switch s {
	case StateFree:
		return "FREE"
	case StateAllocating:
		return "ALLOCATING"
	case StatePendingData:
		return "PENDING_DATA"
	case StateTombstoningOld:
		return "TOMBSTONING_OLD"
	case StateActive:
		return "ACTIVE"
	case StateValid:
		return "VALID"
	case StateTombstone:
		return "TOMBSTONE"
	case StateBadBlock:
		return "BADBLOCK"
	case StateErased:
		return "ERASED"
	}
	return fmt.Sprintf("UNKNOWN(0x%02X)", uint8(s))
}

// Entry is one 32-byte directory record, stored packed little-endian
// in the header region.
type Entry struct {
	State     State
	ReservedV uint8
	NameLen   uint16
	NameHash  uint32
	Offset    uint32
	Size      uint32
	Mtime     uint32
	Ctime     uint32
	OldEntry  uint32
	DstEntry  uint32
}

// decodeEntry unpacks a 32-byte slot.
func decodeEntry(raw []byte) Entry {
	_ = raw[EntrySize-1]
	return Entry{
		State:     State(raw[0]),
		ReservedV: raw[1],
		NameLen:   binary.LittleEndian.Uint16(raw[2:4]),
		NameHash:  binary.LittleEndian.Uint32(raw[4:8]),
		Offset:    binary.LittleEndian.Uint32(raw[8:12]),
		Size:      binary.LittleEndian.Uint32(raw[12:16]),
		Mtime:     binary.LittleEndian.Uint32(raw[16:20]),
		Ctime:     binary.LittleEndian.Uint32(raw[20:24]),
		OldEntry:  binary.LittleEndian.Uint32(raw[24:28]),
		DstEntry:  binary.LittleEndian.Uint32(raw[28:32]),
	}
}

// encodeEntry packs e into a 32-byte slot image.
func encodeEntry(e Entry) [EntrySize]byte {
	var raw [EntrySize]byte
	raw[0] = byte(e.State)
	raw[1] = e.ReservedV
	binary.LittleEndian.PutUint16(raw[2:4], e.NameLen)
	binary.LittleEndian.PutUint32(raw[4:8], e.NameHash)
	binary.LittleEndian.PutUint32(raw[8:12], e.Offset)
	binary.LittleEndian.PutUint32(raw[12:16], e.Size)
	binary.LittleEndian.PutUint32(raw[16:20], e.Mtime)
	binary.LittleEndian.PutUint32(raw[20:24], e.Ctime)
	binary.LittleEndian.PutUint32(raw[24:28], e.OldEntry)
	binary.LittleEndian.PutUint32(raw[28:32], e.DstEntry)
	return raw
}

// NameHash hashes a filename with FNV-1a 32-bit, the hash stored in
// every entry.
func NameHash(name []byte) uint32 {
	h := fnv.New32a()
	h.Write(name)
	return h.Sum32()
}

// alignUp4K rounds v up to the next erase-block boundary.
func alignUp4K(v uint32) uint32 {
	return (v + EraseBlockSize - 1) &^ uint32(EraseBlockSize-1)
}

// maskedAlloc is the allocation for a file whose provisional size
// will be the capacity mask alloc-1. When total lands exactly on a
// block boundary the mask of the tight allocation would be one short
// of the final exact size, making the close-time size program set a
// cleared bit; one more block keeps every reachable exact size a
// bit-subset of the mask.
func maskedAlloc(total uint32) uint32 {
	alloc := alignUp4K(total)
	if alloc == total {
		alloc += EraseBlockSize
	}
	return alloc
}

// allocatedBytes is the erase-block-aligned length of an entry's
// extent.
func (e *Entry) allocatedBytes() uint32 {
	return alignUp4K(e.Size)
}

// isCapacityMask reports whether size is a provisional capacity value
// (all low 12 bits set) rather than an exact size.
func isCapacityMask(size uint32) bool {
	return size&capacityMaskBits == capacityMaskBits
}

// validate checks the structural invariants every live entry must
// satisfy. partitionSize is the full partition length in bytes.
func (e *Entry) validate(partitionSize uint32) bool {
	if e.NameLen == 0 || e.NameLen > MaxFilenameLen {
		return false
	}
	if e.Size < uint32(e.NameLen) {
		return false
	}
	if e.Offset < DataRegionStart {
		return false
	}
	if e.Offset%EraseBlockSize != 0 {
		return false
	}
	alloc := e.allocatedBytes()
	if uint64(e.Offset)+uint64(alloc) > uint64(partitionSize) {
		return false
	}
	if e.OldEntry != EntryNone && e.OldEntry >= MaxEntries {
		return false
	}
	if e.DstEntry != EntryNone && e.DstEntry >= MaxEntries {
		return false
	}
	return true
}
