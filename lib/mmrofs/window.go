// Copyright 2026 The MMROFS Authors
// SPDX-License-Identifier: Apache-2.0

package mmrofs

import "github.com/mmrofs-foundation/mmrofs/lib/flash"

// dataWindow serves data-region reads through a sliding 64 KiB map.
// The header has its own permanent map; everything past it goes
// through here. A read that crosses a window boundary is split into
// two back-to-back window remaps.
type dataWindow struct {
	dev   flash.Device
	buf   []byte
	start uint32
	valid bool
}

// slide maps the window containing off, reusing the current map when
// it already covers it.
func (w *dataWindow) slide(off uint32) error {
	start := off &^ uint32(WindowSize-1)
	if w.valid && w.start == start {
		return nil
	}
	length := uint32(WindowSize)
	if start+length > w.dev.Size() {
		length = w.dev.Size() - start
	}
	buf, err := w.dev.Map(start, length)
	if err != nil {
		w.valid = false
		return err
	}
	w.buf = buf
	w.start = start
	w.valid = true
	return nil
}

// read fills p from the data region starting at off.
func (w *dataWindow) read(off uint32, p []byte) error {
	if err := flash.CheckRange(off, uint32(len(p)), w.dev.Size()); err != nil {
		return err
	}
	for len(p) > 0 {
		if err := w.slide(off); err != nil {
			return err
		}
		n := copy(p, w.buf[off-w.start:])
		off += uint32(n)
		p = p[n:]
	}
	return nil
}
