// Copyright 2026 The MMROFS Authors
// SPDX-License-Identifier: Apache-2.0

package flash

import (
	"bytes"
	"errors"
	"testing"
)

func TestMemDeviceSizeValidation(t *testing.T) {
	if _, err := NewMemDevice(0); err == nil {
		t.Error("NewMemDevice(0) should fail")
	}
	if _, err := NewMemDevice(EraseBlockSize + 1); err == nil {
		t.Error("unaligned size should fail")
	}
	d, err := NewMemDevice(4 * EraseBlockSize)
	if err != nil {
		t.Fatalf("NewMemDevice failed: %v", err)
	}
	if d.Size() != 4*EraseBlockSize {
		t.Errorf("Size() = %d, want %d", d.Size(), 4*EraseBlockSize)
	}
}

func TestMemDeviceComesUpErased(t *testing.T) {
	d, err := NewMemDevice(2 * EraseBlockSize)
	if err != nil {
		t.Fatalf("NewMemDevice failed: %v", err)
	}
	buf := make([]byte, 2*EraseBlockSize)
	if err := d.ReadAt(buf, 0); err != nil {
		t.Fatalf("ReadAt failed: %v", err)
	}
	for i, b := range buf {
		if b != ErasedByte {
			t.Fatalf("byte %d = %#02x, want 0xFF", i, b)
		}
	}
}

func TestMemDeviceProgramClearsBitsOnly(t *testing.T) {
	d, _ := NewMemDevice(EraseBlockSize)

	if err := d.Program(0, []byte{0x7F}); err != nil {
		t.Fatalf("first program failed: %v", err)
	}
	// 0x7F → 0x3F clears one more bit: legal.
	if err := d.Program(0, []byte{0x3F}); err != nil {
		t.Fatalf("1→0 reprogram failed: %v", err)
	}
	// 0x3F → 0x7F would set bit 6: illegal.
	err := d.Program(0, []byte{0x7F})
	if !errors.Is(err, ErrProgramConflict) {
		t.Errorf("0→1 program: got %v, want ErrProgramConflict", err)
	}
	// The failed program must not have modified anything.
	buf := make([]byte, 1)
	d.ReadAt(buf, 0)
	if buf[0] != 0x3F {
		t.Errorf("byte after rejected program = %#02x, want 0x3F", buf[0])
	}
}

func TestMemDeviceEraseRestoresOnes(t *testing.T) {
	d, _ := NewMemDevice(2 * EraseBlockSize)
	if err := d.Program(10, []byte{0x00, 0x12, 0x34}); err != nil {
		t.Fatalf("program failed: %v", err)
	}
	if err := d.Erase(0, EraseBlockSize); err != nil {
		t.Fatalf("erase failed: %v", err)
	}
	buf := make([]byte, 16)
	d.ReadAt(buf, 8)
	if !bytes.Equal(buf, bytes.Repeat([]byte{0xFF}, 16)) {
		t.Errorf("erased region reads %x, want all FF", buf)
	}
}

func TestMemDeviceEraseAlignment(t *testing.T) {
	d, _ := NewMemDevice(2 * EraseBlockSize)
	if err := d.Erase(1, EraseBlockSize); !errors.Is(err, ErrUnaligned) {
		t.Errorf("unaligned offset: got %v, want ErrUnaligned", err)
	}
	if err := d.Erase(0, 100); !errors.Is(err, ErrUnaligned) {
		t.Errorf("unaligned length: got %v, want ErrUnaligned", err)
	}
}

func TestMemDeviceRangeChecks(t *testing.T) {
	d, _ := NewMemDevice(EraseBlockSize)
	if err := d.Program(EraseBlockSize-1, []byte{0, 0}); !errors.Is(err, ErrOutOfRange) {
		t.Errorf("program past end: got %v, want ErrOutOfRange", err)
	}
	if err := d.ReadAt(make([]byte, 2), EraseBlockSize-1); !errors.Is(err, ErrOutOfRange) {
		t.Errorf("read past end: got %v, want ErrOutOfRange", err)
	}
}

func TestMemDeviceMapIsCoherent(t *testing.T) {
	d, _ := NewMemDevice(EraseBlockSize)
	view, err := d.Map(0, 64)
	if err != nil {
		t.Fatalf("Map failed: %v", err)
	}
	if err := d.Program(3, []byte{0x55}); err != nil {
		t.Fatalf("program failed: %v", err)
	}
	if view[3] != 0x55 {
		t.Errorf("map view did not observe program: %#02x", view[3])
	}
}

func TestFaultDeviceBudget(t *testing.T) {
	inner, _ := NewMemDevice(EraseBlockSize)
	d := NewFaultDevice(inner, 2)

	if err := d.Program(0, []byte{0x00}); err != nil {
		t.Fatalf("program 1 failed: %v", err)
	}
	if err := d.Program(1, []byte{0x00}); err != nil {
		t.Fatalf("program 2 failed: %v", err)
	}
	if err := d.Program(2, []byte{0x00}); !errors.Is(err, ErrPowerCut) {
		t.Fatalf("program 3: got %v, want ErrPowerCut", err)
	}
	if !d.Cut() {
		t.Error("Cut() = false after exhausted budget")
	}
	// Reads still pass through.
	buf := make([]byte, 3)
	if err := d.ReadAt(buf, 0); err != nil {
		t.Errorf("read after cut failed: %v", err)
	}
	if buf[2] != 0xFF {
		t.Errorf("byte written after cut: %#02x", buf[2])
	}
}

func TestFaultDeviceTear(t *testing.T) {
	inner, _ := NewMemDevice(EraseBlockSize)
	d := NewFaultDevice(inner, 0)
	d.TearBytes = 2

	if err := d.Program(0, []byte{0x11, 0x22, 0x33, 0x44}); !errors.Is(err, ErrPowerCut) {
		t.Fatalf("got %v, want ErrPowerCut", err)
	}
	buf := make([]byte, 4)
	inner.ReadAt(buf, 0)
	want := []byte{0x11, 0x22, 0xFF, 0xFF}
	if !bytes.Equal(buf, want) {
		t.Errorf("torn program left %x, want %x", buf, want)
	}

	// A second program after the cut must not tear again.
	if err := d.Program(8, []byte{0x00}); !errors.Is(err, ErrPowerCut) {
		t.Fatalf("got %v, want ErrPowerCut", err)
	}
	inner.ReadAt(buf[:1], 8)
	if buf[0] != 0xFF {
		t.Errorf("program after cut reached flash: %#02x", buf[0])
	}
}

func TestFaultDeviceUnlimited(t *testing.T) {
	inner, _ := NewMemDevice(EraseBlockSize)
	d := NewFaultDevice(inner, -1)
	for i := 0; i < 10; i++ {
		if err := d.Program(uint32(i), []byte{0x00}); err != nil {
			t.Fatalf("program %d failed: %v", i, err)
		}
	}
	if d.Mutations != 10 {
		t.Errorf("Mutations = %d, want 10", d.Mutations)
	}
}
