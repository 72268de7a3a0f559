// Copyright 2026 The MMROFS Authors
// SPDX-License-Identifier: Apache-2.0

package mmrofs

// SlotEntry pairs a decoded entry with its slot index and resolved
// name, for inspection tooling.
type SlotEntry struct {
	Index uint32
	Entry Entry

	// Name is the filename read from the extent, or empty when the
	// entry does not describe a readable extent.
	Name string
}

// Entries returns every non-FREE slot in the table, in index order.
// Debugging aid: the result reflects raw on-flash state, including
// tombstones and slots recovery has marked unusable.
func (fs *Filesystem) Entries() []SlotEntry {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	var out []SlotEntry
	for i := uint32(EntryFirst); i < MaxEntries; i++ {
		e := fs.readEntry(i)
		if e.State == StateFree {
			continue
		}
		se := SlotEntry{Index: i, Entry: e}
		if e.validate(fs.size) {
			name := make([]byte, e.NameLen)
			if err := fs.window.read(e.Offset, name); err == nil {
				se.Name = string(name)
			}
		}
		out = append(out, se)
	}
	return out
}
