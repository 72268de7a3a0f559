// Copyright 2026 The MMROFS Authors
// SPDX-License-Identifier: Apache-2.0

package clock

import (
	"testing"
	"time"
)

func TestFakeClockAdvance(t *testing.T) {
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	c := Fake(start)

	if !c.Now().Equal(start) {
		t.Errorf("Now() = %v, want %v", c.Now(), start)
	}

	c.Advance(90 * time.Second)
	if got := c.Now(); !got.Equal(start.Add(90 * time.Second)) {
		t.Errorf("after Advance: Now() = %v", got)
	}
}

func TestFakeClockSetForwardOnly(t *testing.T) {
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	c := Fake(start)

	later := start.Add(time.Hour)
	c.Set(later)
	if !c.Now().Equal(later) {
		t.Errorf("Set forward: Now() = %v, want %v", c.Now(), later)
	}

	c.Set(start)
	if !c.Now().Equal(later) {
		t.Errorf("Set backward moved the clock: Now() = %v", c.Now())
	}
}

func TestAdjustedPushesForward(t *testing.T) {
	base := Fake(time.Date(1970, 1, 1, 0, 0, 30, 0, time.UTC))
	a := NewAdjusted(base)

	target := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	a.Set(target)
	if got := a.Now(); !got.Equal(target) {
		t.Errorf("Now() = %v, want %v", got, target)
	}

	// Base time still flows underneath the offset.
	base.Advance(10 * time.Second)
	if got := a.Now(); !got.Equal(target.Add(10 * time.Second)) {
		t.Errorf("Now() after base advance = %v", got)
	}

	// Backward set is a no-op.
	a.Set(target.Add(-time.Hour))
	if got := a.Now(); !got.Equal(target.Add(10 * time.Second)) {
		t.Errorf("backward Set moved the clock: %v", got)
	}
}
