// Copyright 2026 The MMROFS Authors
// SPDX-License-Identifier: Apache-2.0

package flash

// FaultDevice wraps a Device and cuts power after a configured
// number of mutating operations. Crash-consistency tests run an
// operation with every possible budget, remount the underlying
// device, and assert that recovery lands on exactly the pre- or
// post-state.
//
// A budget of k lets k mutations complete; the (k+1)th and all later
// ones fail with ErrPowerCut. A program interrupted by the cut can
// additionally tear: the first TearBytes bytes of the failing program
// still reach the flash, modeling a power loss mid-page-write.
type FaultDevice struct {
	inner Device

	// Remaining mutations (programs and erases) allowed to
	// complete. Decremented on each success.
	remaining int

	// TearBytes is how many leading bytes of the first failing
	// program are still applied. Zero means the failing program has
	// no effect.
	TearBytes int

	// Mutations counts programs and erases that completed, cut or
	// not. Run an operation once with no budget limit to learn N,
	// then sweep budgets 0..N-1.
	Mutations int

	cut bool
}

// NewFaultDevice wraps inner with a mutation budget. A negative
// budget never cuts, which is how callers count an operation's
// mutations before sweeping.
func NewFaultDevice(inner Device, budget int) *FaultDevice {
	return &FaultDevice{inner: inner, remaining: budget}
}

// Cut reports whether the simulated power cut has happened.
func (d *FaultDevice) Cut() bool {
	return d.cut
}

// Size returns the partition size in bytes.
func (d *FaultDevice) Size() uint32 {
	return d.inner.Size()
}

// ReadAt reads through to the wrapped device. Reads still work after
// the cut; the filesystem under test is expected to be abandoned, and
// letting reads through keeps error paths in the caller simple.
func (d *FaultDevice) ReadAt(p []byte, off uint32) error {
	return d.inner.ReadAt(p, off)
}

// Program spends one budget unit, or tears and fails if none remain.
// Only the first failing program tears; once power is down nothing
// further reaches the flash.
func (d *FaultDevice) Program(off uint32, p []byte) error {
	alreadyCut := d.cut
	if d.spend() {
		d.Mutations++
		return d.inner.Program(off, p)
	}
	if !alreadyCut && d.TearBytes > 0 && d.TearBytes < len(p) {
		// Partial program of the leading bytes, then power loss.
		if err := d.inner.Program(off, p[:d.TearBytes]); err != nil {
			return err
		}
	}
	return ErrPowerCut
}

// Erase spends one budget unit. An interrupted erase is modeled as
// not having happened at all; NOR parts erase a sector to all-ones or
// leave it recognizably unerased, and the filesystem never depends on
// the contents of a block it has asked to erase until Erase returns.
func (d *FaultDevice) Erase(off, length uint32) error {
	if d.spend() {
		d.Mutations++
		return d.inner.Erase(off, length)
	}
	return ErrPowerCut
}

// Map maps through to the wrapped device.
func (d *FaultDevice) Map(off, length uint32) ([]byte, error) {
	return d.inner.Map(off, length)
}

func (d *FaultDevice) spend() bool {
	if d.remaining < 0 {
		return true
	}
	if d.remaining == 0 {
		d.cut = true
		return false
	}
	d.remaining--
	return true
}
