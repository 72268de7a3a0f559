// Copyright 2026 The MMROFS Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock abstracts wall time for testability and for devices
// whose hardware clock may be unset at boot.
//
// Production code injects [Real]; tests inject [Fake] for
// deterministic timestamps. A device without a battery-backed RTC
// wraps its source in [Adjusted] so the filesystem's clock bootstrap
// can push stored timestamps forward into it at mount.
package clock

import "time"

// Clock is a source of wall time. Every production function that
// would call time.Now takes a Clock (or is a method on a struct with
// a Clock field) instead.
type Clock interface {
	// Now returns the current time.
	Now() time.Time
}

// Adjustable is implemented by clocks whose current time can be moved
// forward externally. [Fake] and [Adjusted] implement it; [Real] does
// not, since the host clock is the operating system's to manage.
type Adjustable interface {
	Clock

	// Set moves the clock so that Now returns t (plus elapsed time
	// thereafter). Implementations ignore attempts to move time
	// backward.
	Set(t time.Time)
}
