// Copyright 2026 The MMROFS Authors
// SPDX-License-Identifier: Apache-2.0

//go:build darwin || linux

package flash

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// FileDevice is a flash partition image backed by a regular file.
// Reads go through a read-only memory map; programs and erases use
// pwrite so the shared mapping stays coherent without write faults.
//
// The NOR constraints are enforced in software, the same way
// MemDevice enforces them: a program that would set a cleared bit
// fails, and erases must be block-aligned. This keeps host-side
// tooling (mkfs, dump, restore, FUSE mounts of an image file) honest
// about what the real part would accept.
type FileDevice struct {
	fd   int
	data []byte // mmap'd MAP_SHARED, PROT_READ
	size uint32
}

// OpenFileDevice opens or creates a partition image at path. A new
// file is created erased at the requested size. An existing file must
// match the requested size exactly; delete it to resize. Size must be
// a positive multiple of EraseBlockSize.
func OpenFileDevice(path string, size uint32) (*FileDevice, error) {
	if size == 0 || size%EraseBlockSize != 0 {
		return nil, fmt.Errorf("flash: size %#x is not a multiple of the erase block", size)
	}

	fd, err := unix.Open(path, unix.O_CREAT|unix.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("opening partition image %s: %w", path, err)
	}

	var stat unix.Stat_t
	if err := unix.Fstat(fd, &stat); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("stating partition image: %w", err)
	}

	if stat.Size == 0 {
		// New image — fill with the erased pattern.
		if err := fillErased(fd, size); err != nil {
			unix.Close(fd)
			return nil, fmt.Errorf("initializing partition image: %w", err)
		}
	} else if stat.Size != int64(size) {
		unix.Close(fd)
		return nil, fmt.Errorf("partition image %s is %d bytes but %d was requested; delete the file to resize",
			path, stat.Size, size)
	}

	data, err := unix.Mmap(fd, 0, int(size), unix.PROT_READ, unix.MAP_SHARED)
	if err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("memory-mapping partition image: %w", err)
	}

	return &FileDevice{fd: fd, data: data, size: size}, nil
}

func fillErased(fd int, size uint32) error {
	block := make([]byte, EraseBlockSize)
	for i := range block {
		block[i] = ErasedByte
	}
	for off := uint32(0); off < size; off += EraseBlockSize {
		if _, err := unix.Pwrite(fd, block, int64(off)); err != nil {
			return err
		}
	}
	return nil
}

// Size returns the partition size in bytes.
func (d *FileDevice) Size() uint32 {
	return d.size
}

// ReadAt fills p from the image through the memory map.
func (d *FileDevice) ReadAt(p []byte, off uint32) error {
	if err := CheckRange(off, uint32(len(p)), d.size); err != nil {
		return err
	}
	copy(p, d.data[off:])
	return nil
}

// Program writes p at off via pwrite, clearing bits only.
func (d *FileDevice) Program(off uint32, p []byte) error {
	if err := CheckRange(off, uint32(len(p)), d.size); err != nil {
		return err
	}
	merged := make([]byte, len(p))
	for i, b := range p {
		cur := d.data[off+uint32(i)]
		if b&^cur != 0 {
			return fmt.Errorf("%w: offset %#x has %#02x, program wants %#02x",
				ErrProgramConflict, off+uint32(i), cur, b)
		}
		merged[i] = cur & b
	}
	if _, err := unix.Pwrite(d.fd, merged, int64(off)); err != nil {
		return fmt.Errorf("programming partition image: %w", err)
	}
	return nil
}

// Erase returns length bytes at off to all-ones via pwrite.
func (d *FileDevice) Erase(off, length uint32) error {
	if off%EraseBlockSize != 0 || length%EraseBlockSize != 0 {
		return ErrUnaligned
	}
	if err := CheckRange(off, length, d.size); err != nil {
		return err
	}
	block := make([]byte, EraseBlockSize)
	for i := range block {
		block[i] = ErasedByte
	}
	for pos := off; pos < off+length; pos += EraseBlockSize {
		if _, err := unix.Pwrite(d.fd, block, int64(pos)); err != nil {
			return fmt.Errorf("erasing partition image: %w", err)
		}
	}
	return nil
}

// Map returns a slice of the shared mapping. The kernel keeps it
// coherent with pwrite, so the view observes later programs and
// erases.
func (d *FileDevice) Map(off, length uint32) ([]byte, error) {
	if err := CheckRange(off, length, d.size); err != nil {
		return nil, err
	}
	return d.data[off : off+length : off+length], nil
}

// Close unmaps the image and closes the file.
func (d *FileDevice) Close() error {
	if d.data != nil {
		if err := unix.Munmap(d.data); err != nil {
			return fmt.Errorf("unmapping partition image: %w", err)
		}
		d.data = nil
	}
	if d.fd >= 0 {
		if err := unix.Close(d.fd); err != nil {
			return fmt.Errorf("closing partition image: %w", err)
		}
		d.fd = -1
	}
	return nil
}
