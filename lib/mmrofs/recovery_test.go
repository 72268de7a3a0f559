// Copyright 2026 The MMROFS Authors
// SPDX-License-Identifier: Apache-2.0

package mmrofs

import (
	"bytes"
	"errors"
	"maps"
	"testing"
	"time"

	"github.com/mmrofs-foundation/mmrofs/lib/clock"
	"github.com/mmrofs-foundation/mmrofs/lib/flash"
)

// snapshot copies a partition image so it can be restored for
// repeated crash runs.
func snapshot(dev *flash.MemDevice) []byte {
	return bytes.Clone(dev.Bytes())
}

func restore(t *testing.T, image []byte) *flash.MemDevice {
	t.Helper()
	dev, err := flash.NewMemDevice(uint32(len(image)))
	if err != nil {
		t.Fatalf("NewMemDevice failed: %v", err)
	}
	copy(dev.Bytes(), image)
	return dev
}

func TestRecoveryCrashAfterTombstoningOld(t *testing.T) {
	// Scenario: update "cfg", power cut immediately after the new
	// entry's state reaches TOMBSTONING_OLD. Recovery must finish
	// the commit: old tombstoned, new promoted to VALID.
	fs, dev, fc := newTestFS(t)
	writeFile(t, fs, "cfg", []byte("AA"))
	fs.Close()
	image := snapshot(dev)

	// Count the mutations of the interrupted operation so the cut
	// can be placed precisely: createEntry is 3 programs, the
	// appended payload 1, TOMBSTONING_OLD the 5th.
	inner := restore(t, image)
	fault := flash.NewFaultDevice(inner, 5)
	fs2, err := Mount(Options{Device: fault, MaxFiles: 8, Clock: fc})
	if err != nil {
		t.Fatalf("mount on fault device failed: %v", err)
	}
	fd, err := fs2.Open("cfg", FlagWrite)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if _, err := fs2.Write(fd, []byte("BB")); !errors.Is(err, flash.ErrPowerCut) {
		t.Fatalf("Write: got %v, want ErrPowerCut", err)
	}

	// Power is gone mid-commit: the new entry reads TOMBSTONING_OLD.
	var pending []uint32
	for i := uint32(EntryFirst); i < MaxEntries; i++ {
		if State(inner.Bytes()[i*EntrySize]) == StateTombstoningOld {
			pending = append(pending, i)
		}
	}
	if len(pending) != 1 {
		t.Fatalf("have %d TOMBSTONING_OLD entries at cut, want 1", len(pending))
	}

	fs3 := remount(t, inner, fc)
	got := liveSet(t, fs3)
	if len(got) != 1 || got["cfg"] != "AABB" {
		t.Errorf("recovered live set = %v, want {cfg:AABB}", got)
	}
	e := fs3.readEntry(pending[0])
	if e.State != StateValid {
		t.Errorf("new entry state = %s, want VALID after recovery", e.State)
	}
	checkInvariants(t, fs3)
}

func TestRecoveryCrashMidPendingData(t *testing.T) {
	// Scenario: create "log", cut right after the entry reaches
	// PENDING_DATA, before any extent byte is programmed. Recovery
	// tombstones the orphan.
	fs, dev, fc := newTestFS(t)
	fs.Close()
	image := snapshot(dev)

	inner := restore(t, image)
	// Create flow: erase(1), ALLOCATING(2), body(3), PENDING_DATA(4).
	fault := flash.NewFaultDevice(inner, 4)
	fs2, err := Mount(Options{Device: fault, MaxFiles: 8, Clock: fc})
	if err != nil {
		t.Fatalf("mount failed: %v", err)
	}
	fd, _ := fs2.Open("log", FlagWrite|FlagCreate)
	if _, err := fs2.Write(fd, []byte("entry1")); !errors.Is(err, flash.ErrPowerCut) {
		t.Fatalf("Write: got %v, want ErrPowerCut", err)
	}

	fs3 := remount(t, inner, fc)
	if _, err := fs3.Stat("log"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Stat(log) after recovery: got %v, want ErrNotFound", err)
	}
	if fs3.readEntry(EntryFirst).State != StateTombstone {
		t.Errorf("orphan entry state = %s, want TOMBSTONE", fs3.readEntry(EntryFirst).State)
	}
	checkInvariants(t, fs3)
}

func TestRecoveryPromotesUnclosedFile(t *testing.T) {
	// A file written but never closed is ACTIVE with a capacity
	// mask and unset mtime. Recovery infers the exact size from the
	// extent and promotes in place.
	fs, dev, fc := newTestFS(t)
	fd, _ := fs.Open("cfg", FlagWrite|FlagCreate)
	if _, err := fs.Write(fd, []byte("payload!")); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	// No CloseFile: simulate the cut by abandoning the mount.
	fs.Close()

	fc.Advance(time.Minute)
	fs2 := remount(t, dev, fc)

	_, e, ok := fs2.lookup([]byte("cfg"))
	if !ok {
		t.Fatal("cfg not found after recovery")
	}
	if e.State != StateValid {
		t.Errorf("state = %s, want VALID", e.State)
	}
	if e.Size != uint32(len("cfg")+len("payload!")) {
		t.Errorf("recovered size = %d, want %d", e.Size, len("cfg")+len("payload!"))
	}
	if e.Mtime == MtimeUnset || e.Mtime != uint32(fc.Now().Unix()) {
		t.Errorf("recovered mtime = %d, want %d", e.Mtime, fc.Now().Unix())
	}
	if got := readFile(t, fs2, "cfg"); string(got) != "payload!" {
		t.Errorf("read %q", got)
	}
	checkInvariants(t, fs2)
}

func TestRecoveryTornMtimeReallocates(t *testing.T) {
	// An ACTIVE entry whose mtime field is partially programmed
	// cannot be patched in place; recovery must move the version to
	// a fresh slot with a trustworthy mtime.
	fs, dev, fc := newTestFS(t)
	writeFile(t, fs, "f", []byte("stable"))

	// Forge the torn state on an offline image: the entry reads
	// ACTIVE with an exact size and a programmed mtime, which is
	// what a cut between the mtime program and VALID leaves behind.
	idx, _, _ := fs.lookup([]byte("f"))
	fs.Close()
	image := snapshot(dev)
	image[idx*EntrySize] = byte(StateActive)
	dev2 := restore(t, image)

	fc.Advance(time.Hour)
	fs2 := remount(t, dev2, fc)

	newIdx, e, ok := fs2.lookup([]byte("f"))
	if !ok {
		t.Fatal("f lost after torn-mtime recovery")
	}
	if newIdx == idx {
		t.Errorf("entry was not re-allocated (still %d)", idx)
	}
	if e.State != StateValid {
		t.Errorf("state = %s, want VALID", e.State)
	}
	if e.Mtime != uint32(fc.Now().Unix()) {
		t.Errorf("mtime = %d, want recovery time %d", e.Mtime, fc.Now().Unix())
	}
	if fs2.readEntry(idx).State != StateTombstone {
		t.Errorf("old entry state = %s, want TOMBSTONE", fs2.readEntry(idx).State)
	}
	if got := readFile(t, fs2, "f"); string(got) != "stable" {
		t.Errorf("payload after re-allocation = %q", got)
	}
	checkInvariants(t, fs2)
}

func TestRecoveryTornStateByteMarkedErased(t *testing.T) {
	fs, dev, fc := newTestFS(t)
	fs.Close()

	image := snapshot(dev)
	image[EntryFirst*EntrySize] = 0x5F // not a defined state
	dev2 := restore(t, image)

	fs2 := remount(t, dev2, fc)
	if got := fs2.readEntry(EntryFirst).State; got != StateErased {
		t.Errorf("unknown state byte recovered to %s, want ERASED", got)
	}
}

func TestRecoveryCorruptFreeSlot(t *testing.T) {
	fs, dev, fc := newTestFS(t)
	fs.Close()

	// State byte reads FREE but the body was partially programmed.
	image := snapshot(dev)
	image[EntryFirst*EntrySize+7] = 0x00
	dev2 := restore(t, image)

	fs2 := remount(t, dev2, fc)
	if got := fs2.readEntry(EntryFirst).State; got != StateErased {
		t.Errorf("corrupt FREE slot recovered to %s, want ERASED", got)
	}
	if fs2.nextFree != EntryFirst+1 {
		t.Errorf("allocation hint = %d, want %d", fs2.nextFree, EntryFirst+1)
	}
}

func TestClockBootstrap(t *testing.T) {
	// Files were written at a known time; the next boot's clock
	// reads 1970. Mount must push the stored maximum into an
	// adjustable clock before stamping anything.
	fs, dev, fc := newTestFS(t)
	writeFile(t, fs, "old", []byte("x"))
	fc.Advance(time.Hour)
	writeFile(t, fs, "new", []byte("y"))
	latest := fc.Now().Unix()
	fs.Close()

	coldClock := clock.Fake(time.Unix(60, 0)) // 1970: invalid
	fs2, err := Mount(Options{Device: dev, MaxFiles: 8, Clock: coldClock})
	if err != nil {
		t.Fatalf("Mount failed: %v", err)
	}
	defer fs2.Close()

	if got := coldClock.Now().Unix(); got != latest {
		t.Errorf("bootstrapped clock = %d, want %d", got, latest)
	}
}

func TestClockBootstrapLeavesValidClock(t *testing.T) {
	fs, dev, _ := newTestFS(t)
	writeFile(t, fs, "f", []byte("x"))
	fs.Close()

	warm := clock.Fake(testEpoch.Add(48 * time.Hour))
	before := warm.Now()
	fs2, err := Mount(Options{Device: dev, MaxFiles: 8, Clock: warm})
	if err != nil {
		t.Fatalf("Mount failed: %v", err)
	}
	defer fs2.Close()
	if !warm.Now().Equal(before) {
		t.Errorf("valid clock was adjusted: %v → %v", before, warm.Now())
	}
}

// TestCrashConsistencySweep interrupts each operation after every
// possible flash mutation and checks that remount recovery lands on
// exactly the pre- or post-state, and that the operation can be
// re-executed from the pre-state.
func TestCrashConsistencySweep(t *testing.T) {
	type op struct {
		name  string
		setup func(t *testing.T, fs *Filesystem)
		run   func(fs *Filesystem) error
		post  func(pre map[string]string) map[string]string
	}

	ops := []op{
		{
			name:  "create",
			setup: func(t *testing.T, fs *Filesystem) {},
			run: func(fs *Filesystem) error {
				fd, err := fs.Open("cfg", FlagWrite|FlagCreate)
				if err != nil {
					return err
				}
				if _, err := fs.Write(fd, []byte("hello-world")); err != nil {
					return err
				}
				return fs.CloseFile(fd)
			},
			post: func(pre map[string]string) map[string]string {
				out := maps.Clone(pre)
				out["cfg"] = "hello-world"
				return out
			},
		},
		{
			name: "append",
			setup: func(t *testing.T, fs *Filesystem) {
				writeFile(t, fs, "f", []byte("base-data"))
			},
			run: func(fs *Filesystem) error {
				fd, err := fs.Open("f", FlagWrite)
				if err != nil {
					return err
				}
				if _, err := fs.Write(fd, []byte("+tail")); err != nil {
					return err
				}
				return fs.CloseFile(fd)
			},
			post: func(pre map[string]string) map[string]string {
				out := maps.Clone(pre)
				out["f"] = pre["f"] + "+tail"
				return out
			},
		},
		{
			name: "relocate",
			setup: func(t *testing.T, fs *Filesystem) {
				writeFile(t, fs, "a", string2k('1'))
				writeFile(t, fs, "blocker", []byte("wall"))
			},
			run: func(fs *Filesystem) error {
				// One write big enough that the blocker forces a
				// relocation. A single write+close session keeps the
				// operation atomic: multi-write sessions have
				// legitimate intermediate versions of their own.
				fd, err := fs.Open("a", FlagWrite)
				if err != nil {
					return err
				}
				if _, err := fs.Write(fd, bytes.Repeat([]byte{'2'}, 4096)); err != nil {
					return err
				}
				return fs.CloseFile(fd)
			},
			post: func(pre map[string]string) map[string]string {
				out := maps.Clone(pre)
				out["a"] = pre["a"] + string(bytes.Repeat([]byte{'2'}, 4096))
				return out
			},
		},
		{
			name: "delete",
			setup: func(t *testing.T, fs *Filesystem) {
				writeFile(t, fs, "victim", []byte("bye"))
			},
			run: func(fs *Filesystem) error {
				return fs.Unlink("victim")
			},
			post: func(pre map[string]string) map[string]string {
				out := maps.Clone(pre)
				delete(out, "victim")
				return out
			},
		},
		{
			name: "rename-collision",
			setup: func(t *testing.T, fs *Filesystem) {
				writeFile(t, fs, "x", []byte("payload-x"))
				writeFile(t, fs, "y", []byte("payload-y"))
			},
			run: func(fs *Filesystem) error {
				return fs.Rename("x", "y")
			},
			post: func(pre map[string]string) map[string]string {
				out := maps.Clone(pre)
				delete(out, "x")
				out["y"] = pre["x"]
				return out
			},
		},
	}

	for _, op := range ops {
		t.Run(op.name, func(t *testing.T) {
			// Build the pre-state image.
			fc := clock.Fake(testEpoch)
			dev, _ := flash.NewMemDevice(testPartitionSize)
			fs, err := Mount(Options{Device: dev, MaxFiles: 8, Clock: fc})
			if err != nil {
				t.Fatalf("setup mount failed: %v", err)
			}
			op.setup(t, fs)
			pre := liveSet(t, fs)
			post := op.post(pre)
			fs.Close()
			image := snapshot(dev)

			// Count mutations of the full operation.
			counter := flash.NewFaultDevice(restore(t, image), -1)
			fsCount, err := Mount(Options{Device: counter, MaxFiles: 8, Clock: fc})
			if err != nil {
				t.Fatalf("count mount failed: %v", err)
			}
			mountCost := counter.Mutations
			if err := op.run(fsCount); err != nil {
				t.Fatalf("uninterrupted run failed: %v", err)
			}
			opMutations := counter.Mutations - mountCost
			fsCount.Close()
			if opMutations == 0 {
				t.Fatal("operation performed no mutations")
			}

			for k := 0; k < opMutations; k++ {
				inner := restore(t, image)
				fault := flash.NewFaultDevice(inner, mountCost+k)
				fsK, err := Mount(Options{Device: fault, MaxFiles: 8, Clock: fc})
				if err != nil {
					t.Fatalf("k=%d: mount failed: %v", k, err)
				}
				if err := op.run(fsK); err == nil {
					t.Fatalf("k=%d: expected a power cut, got none", k)
				}
				fsK.Close()

				// Reboot and recover.
				recovered, err := Mount(Options{Device: inner, MaxFiles: 8, Clock: fc})
				if err != nil {
					t.Fatalf("k=%d: recovery mount failed: %v", k, err)
				}
				got := liveSet(t, recovered)
				checkInvariants(t, recovered)

				switch {
				case maps.Equal(got, pre):
					// Rolled back: the operation must be repeatable.
					if err := op.run(recovered); err != nil {
						t.Fatalf("k=%d: re-exec from pre-state failed: %v", k, err)
					}
					if !maps.Equal(liveSet(t, recovered), post) {
						t.Errorf("k=%d: re-exec did not reach post-state", k)
					}
					checkInvariants(t, recovered)
				case maps.Equal(got, post):
					// Committed before the cut.
				default:
					t.Errorf("k=%d: recovered set %v is neither pre %v nor post %v",
						k, got, pre, post)
				}
				recovered.Close()
			}
		})
	}
}

func string2k(c byte) []byte {
	return bytes.Repeat([]byte{c}, 2048)
}
