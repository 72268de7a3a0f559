// Copyright 2026 The MMROFS Authors
// SPDX-License-Identifier: Apache-2.0

package flash

import "fmt"

// MemDevice is an in-memory flash simulation. It enforces the NOR
// programming model bit-for-bit: programs AND new bytes into the
// array and fail if any bit would go 0→1, erases require block
// alignment and restore 0xFF.
//
// A fresh MemDevice comes up fully erased, like a factory-new part.
type MemDevice struct {
	buf []byte
}

// NewMemDevice creates an erased in-memory partition of the given
// size, which must be a positive multiple of EraseBlockSize.
func NewMemDevice(size uint32) (*MemDevice, error) {
	if size == 0 || size%EraseBlockSize != 0 {
		return nil, fmt.Errorf("flash: size %#x is not a multiple of the erase block", size)
	}
	buf := make([]byte, size)
	for i := range buf {
		buf[i] = ErasedByte
	}
	return &MemDevice{buf: buf}, nil
}

// Size returns the partition size in bytes.
func (d *MemDevice) Size() uint32 {
	return uint32(len(d.buf))
}

// ReadAt fills p from the partition starting at off.
func (d *MemDevice) ReadAt(p []byte, off uint32) error {
	if err := CheckRange(off, uint32(len(p)), d.Size()); err != nil {
		return err
	}
	copy(p, d.buf[off:])
	return nil
}

// Program writes p at off, clearing bits only.
func (d *MemDevice) Program(off uint32, p []byte) error {
	if err := CheckRange(off, uint32(len(p)), d.Size()); err != nil {
		return err
	}
	for i, b := range p {
		cur := d.buf[off+uint32(i)]
		if b&^cur != 0 {
			return fmt.Errorf("%w: offset %#x has %#02x, program wants %#02x",
				ErrProgramConflict, off+uint32(i), cur, b)
		}
	}
	for i, b := range p {
		d.buf[off+uint32(i)] &= b
	}
	return nil
}

// Erase returns length bytes starting at off to all-ones.
func (d *MemDevice) Erase(off, length uint32) error {
	if off%EraseBlockSize != 0 || length%EraseBlockSize != 0 {
		return ErrUnaligned
	}
	if err := CheckRange(off, length, d.Size()); err != nil {
		return err
	}
	for i := uint32(0); i < length; i++ {
		d.buf[off+i] = ErasedByte
	}
	return nil
}

// Map returns a live read-only view into the simulated array. The
// view observes later programs and erases, matching memory-mapped
// hardware.
func (d *MemDevice) Map(off, length uint32) ([]byte, error) {
	if err := CheckRange(off, length, d.Size()); err != nil {
		return nil, err
	}
	return d.buf[off : off+length : off+length], nil
}

// Bytes returns the raw backing array. Test helper: snapshot and
// restore partition images around simulated reboots.
func (d *MemDevice) Bytes() []byte {
	return d.buf
}
