// Copyright 2026 The MMROFS Authors
// SPDX-License-Identifier: Apache-2.0

// Package flash abstracts a byte-addressable NOR flash partition.
//
// NOR flash has two physical quirks the rest of the system is built
// around: programming can only clear bits (1→0), and returning bits
// to 1 requires erasing a whole erase block. Every [Device]
// implementation enforces both, including the in-memory simulation
// used by tests — a program that tries to set a 0 bit back to 1 is a
// bug in the caller, not a no-op.
package flash

import "errors"

// EraseBlockSize is the granularity of erase operations in bytes.
// All real SPI NOR parts this system targets use 4 KiB sectors.
const EraseBlockSize = 4096

// ErasedByte is the value every byte holds after an erase.
const ErasedByte = 0xFF

var (
	// ErrOutOfRange reports an access beyond the partition end.
	ErrOutOfRange = errors.New("flash: access out of range")

	// ErrUnaligned reports an erase that is not aligned to whole
	// erase blocks.
	ErrUnaligned = errors.New("flash: erase not aligned to erase block")

	// ErrProgramConflict reports a program that would set a 0 bit
	// back to 1, which NOR cannot do without an erase.
	ErrProgramConflict = errors.New("flash: program would set cleared bit")

	// ErrPowerCut is returned by fault-injecting devices once their
	// operation budget is exhausted. See [FaultDevice].
	ErrPowerCut = errors.New("flash: simulated power cut")
)

// Device is a byte-addressable flash partition.
//
// Offsets are partition-relative. Implementations are not safe for
// concurrent use; the filesystem serializes all access under its own
// lock.
type Device interface {
	// Size returns the partition size in bytes. Always a multiple
	// of EraseBlockSize.
	Size() uint32

	// ReadAt fills p from the partition starting at off.
	ReadAt(p []byte, off uint32) error

	// Program writes p at off. Bits may only transition 1→0;
	// implementations return ErrProgramConflict otherwise.
	Program(off uint32, p []byte) error

	// Erase returns length bytes starting at off to all-ones. Both
	// off and length must be multiples of EraseBlockSize.
	Erase(off, length uint32) error

	// Map returns a read-only view of [off, off+length). The view
	// stays coherent with later programs and erases. Implementations
	// for which mapping is expensive may bound how many views are
	// live at once; callers hold at most two (header and data
	// window).
	Map(off, length uint32) ([]byte, error)
}

// CheckRange validates an [off, off+length) access against size.
func CheckRange(off, length, size uint32) error {
	end := uint64(off) + uint64(length)
	if end > uint64(size) {
		return ErrOutOfRange
	}
	return nil
}
