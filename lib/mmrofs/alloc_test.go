// Copyright 2026 The MMROFS Authors
// SPDX-License-Identifier: Apache-2.0

package mmrofs

import (
	"bytes"
	"errors"
	"testing"
)

func TestFindFreeDataFirstFit(t *testing.T) {
	fs, _, _ := newTestFS(t)

	// Three files fill the first three extents.
	writeFile(t, fs, "a", bytes.Repeat([]byte{'a'}, 100))
	writeFile(t, fs, "b", bytes.Repeat([]byte{'b'}, 100))
	writeFile(t, fs, "c", bytes.Repeat([]byte{'c'}, 100))

	fs.mu.Lock()
	defer fs.mu.Unlock()

	off, err := fs.findFreeData(100)
	if err != nil {
		t.Fatalf("findFreeData failed: %v", err)
	}
	if off != DataRegionStart+3*EraseBlockSize {
		t.Errorf("allocated %#x, want after the three extents", off)
	}
}

func TestFindFreeDataReusesGap(t *testing.T) {
	fs, _, _ := newTestFS(t)

	writeFile(t, fs, "a", bytes.Repeat([]byte{'a'}, 100))
	writeFile(t, fs, "b", bytes.Repeat([]byte{'b'}, 100))
	if err := fs.Unlink("a"); err != nil {
		t.Fatalf("Unlink failed: %v", err)
	}

	fs.mu.Lock()
	off, err := fs.findFreeData(100)
	fs.mu.Unlock()
	if err != nil {
		t.Fatalf("findFreeData failed: %v", err)
	}
	// The tombstoned extent is the first gap.
	if off != DataRegionStart {
		t.Errorf("allocated %#x, want the freed gap at %#x", off, uint32(DataRegionStart))
	}

	// A new file actually lands there and works.
	writeFile(t, fs, "d", []byte("fresh"))
	if got := readFile(t, fs, "d"); string(got) != "fresh" {
		t.Errorf("read %q", got)
	}
	if got := readFile(t, fs, "b"); !bytes.Equal(got, bytes.Repeat([]byte{'b'}, 100)) {
		t.Errorf("neighbor damaged")
	}
	checkInvariants(t, fs)
}

func TestFindFreeDataOutOfSpace(t *testing.T) {
	fs, _, _ := newTestFS(t)

	// The test data region holds 16 erase blocks.
	fs.mu.Lock()
	if _, err := fs.findFreeData(17 * EraseBlockSize); !errors.Is(err, ErrNoSpace) {
		t.Errorf("oversized request: got %v, want ErrNoSpace", err)
	}
	if _, err := fs.findFreeData(16 * EraseBlockSize); err != nil {
		t.Errorf("exact-fit request failed: %v", err)
	}
	fs.mu.Unlock()

	// Filling the region for real also reports no-space.
	writeFile(t, fs, "big", bytes.Repeat([]byte{'x'}, 15*EraseBlockSize))
	fd, err := fs.Open("more", FlagWrite|FlagCreate)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer fs.CloseFile(fd)
	if _, err := fs.Write(fd, bytes.Repeat([]byte{'y'}, 2*EraseBlockSize)); !errors.Is(err, ErrNoSpace) {
		t.Errorf("overfull write: got %v, want ErrNoSpace", err)
	}
}

func TestSpaceAfterFree(t *testing.T) {
	fs, dev, _ := newTestFS(t)

	writeFile(t, fs, "f", bytes.Repeat([]byte{'f'}, 100))

	fs.mu.Lock()
	defer fs.mu.Unlock()

	// Fits in the current allocation.
	if !fs.spaceAfterFree(DataRegionStart, EraseBlockSize, 200) {
		t.Error("growth within current allocation should be free")
	}
	// Erased space after the extent.
	if !fs.spaceAfterFree(DataRegionStart, EraseBlockSize, 2*EraseBlockSize) {
		t.Error("erased tail should be free")
	}
	// Past the end of the partition.
	if fs.spaceAfterFree(DataRegionStart, EraseBlockSize, 17*EraseBlockSize) {
		t.Error("tail past partition end should not be free")
	}

	// Stale programmed bytes in the tail block the growth even when
	// no entry claims them.
	if err := dev.Program(DataRegionStart+EraseBlockSize+50, []byte{0x00}); err != nil {
		t.Fatalf("program failed: %v", err)
	}
	if fs.spaceAfterFree(DataRegionStart, EraseBlockSize, 2*EraseBlockSize) {
		t.Error("programmed tail byte should block in-place growth")
	}
}

func TestSpaceAfterFreeBlockedByNeighbor(t *testing.T) {
	fs, _, _ := newTestFS(t)

	writeFile(t, fs, "f", bytes.Repeat([]byte{'f'}, 100))
	writeFile(t, fs, "g", bytes.Repeat([]byte{'g'}, 100))

	fs.mu.Lock()
	defer fs.mu.Unlock()
	if fs.spaceAfterFree(DataRegionStart, EraseBlockSize, 2*EraseBlockSize) {
		t.Error("live neighbor extent should block in-place growth")
	}
}

func TestAllocEntrySkipsCorruptFree(t *testing.T) {
	fs, dev, _ := newTestFS(t)

	// Corrupt the body of the first free slot without touching its
	// state byte.
	if err := dev.Program(EntryFirst*EntrySize+5, []byte{0x00}); err != nil {
		t.Fatalf("program failed: %v", err)
	}

	fs.mu.Lock()
	slot, err := fs.allocEntry()
	fs.mu.Unlock()
	if err != nil {
		t.Fatalf("allocEntry failed: %v", err)
	}
	if slot != EntryFirst+1 {
		t.Errorf("allocated slot %d, want %d", slot, EntryFirst+1)
	}
	if got := fs.readEntry(EntryFirst).State; got != StateErased {
		t.Errorf("corrupt slot state = %s, want ERASED", got)
	}
}

func TestEntryAllocationStartsAfterReservedBlock(t *testing.T) {
	fs, _, _ := newTestFS(t)
	writeFile(t, fs, "first", []byte("x"))

	idx, _, ok := fs.lookup([]byte("first"))
	if !ok {
		t.Fatal("lookup failed")
	}
	if idx != EntryFirst {
		t.Errorf("first entry at slot %d, want %d (reserved block skipped)", idx, EntryFirst)
	}
}

func TestLookupCollisionFallthrough(t *testing.T) {
	fs, _, _ := newTestFS(t)

	// Same length, different content (and different hashes): each
	// name must resolve to its own entry, and a missing same-length
	// name must not match either. No real hash collision is built.
	writeFile(t, fs, "aaa", []byte("first"))
	writeFile(t, fs, "bbb", []byte("second"))

	if got := readFile(t, fs, "aaa"); string(got) != "first" {
		t.Errorf("aaa read %q", got)
	}
	if got := readFile(t, fs, "bbb"); string(got) != "second" {
		t.Errorf("bbb read %q", got)
	}
	if _, err := fs.Stat("ccc"); !errors.Is(err, ErrNotFound) {
		t.Errorf("missing same-length name: got %v", err)
	}
}
