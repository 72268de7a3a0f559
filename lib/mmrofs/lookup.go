// Copyright 2026 The MMROFS Authors
// SPDX-License-Identifier: Apache-2.0

package mmrofs

import (
	"bytes"
	"fmt"
	"strings"
)

// normalizeName strips the optional leading slash and enforces the
// 1..255 byte length bound. The namespace is flat; further slashes
// are not separators and pass through as name bytes.
func normalizeName(path string) ([]byte, error) {
	name := strings.TrimPrefix(path, "/")
	if len(name) == 0 || len(name) > MaxFilenameLen {
		return nil, fmt.Errorf("%w: filename length %d", ErrInvalidArgument, len(name))
	}
	return []byte(name), nil
}

// lookup resolves a name to its live entry. Scans ascending; on a
// hash and length match it structurally validates the entry before
// touching the data region, tombstoning it on failure (self-healing:
// a live-claiming entry that does not validate is corruption, and
// tombstoning is a legal 1→0 program from any live state). Returns
// the slot index and decoded entry, or found=false.
//
// If corruption ever produced two live entries for one name, the
// lowest index wins; no fix-up is attempted here.
//
// Caller holds fs.mu.
func (fs *Filesystem) lookup(name []byte) (index uint32, e Entry, found bool) {
	hash := NameHash(name)
	nameLen := uint16(len(name))
	stored := make([]byte, len(name))

	for i := uint32(EntryFirst); i < MaxEntries; i++ {
		e = fs.readEntry(i)
		if !e.State.Live() {
			continue
		}
		if e.NameHash != hash || e.NameLen != nameLen {
			continue
		}
		if !e.validate(fs.size) {
			if err := fs.writeState(i, StateTombstone); err != nil {
				fs.logger.Warn("lookup: tombstoning invalid entry failed",
					"entry", i, "error", err)
			}
			continue
		}
		if err := fs.window.read(e.Offset, stored); err != nil {
			continue
		}
		if bytes.Equal(stored, name) {
			return i, e, true
		}
	}
	return 0, Entry{}, false
}
