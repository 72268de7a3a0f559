// Copyright 2026 The MMROFS Authors
// SPDX-License-Identifier: Apache-2.0

package mmrofs

// dirHandle is one in-progress directory scan. The namespace is
// flat, so a handle is just a cursor over the entry table.
type dirHandle struct {
	inUse     bool
	scanIndex uint32
}

// DirEntry is one readdir result.
type DirEntry struct {
	// Name is the filename read from the extent.
	Name string

	// Index is the entry slot backing this file, stable until the
	// file is rewritten.
	Index uint32

	// Info carries size and times, as Stat would report them.
	Info Info
}

// OpenDir starts a directory scan and returns a handle.
func (fs *Filesystem) OpenDir() (int, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if fs.closed {
		return -1, ErrClosed
	}
	for i := range fs.dirs {
		if !fs.dirs[i].inUse {
			fs.dirs[i] = dirHandle{inUse: true, scanIndex: EntryFirst}
			return i, nil
		}
	}
	return -1, ErrTooManyOpen
}

// ReadDir returns the next live, structurally valid file in entry
// order, or nil when the scan is done.
func (fs *Filesystem) ReadDir(dir int) (*DirEntry, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if fs.closed {
		return nil, ErrClosed
	}
	if dir < 0 || dir >= len(fs.dirs) || !fs.dirs[dir].inUse {
		return nil, ErrBadDescriptor
	}
	d := &fs.dirs[dir]

	for d.scanIndex < MaxEntries {
		i := d.scanIndex
		d.scanIndex++

		e := fs.readEntry(i)
		if !e.State.Live() {
			continue
		}
		if !e.validate(fs.size) {
			continue
		}

		name := make([]byte, e.NameLen)
		if err := fs.window.read(e.Offset, name); err != nil {
			continue
		}
		return &DirEntry{
			Name:  string(name),
			Index: i,
			Info:  infoFromEntry(e),
		}, nil
	}
	return nil, nil
}

// CloseDir releases a directory handle.
func (fs *Filesystem) CloseDir(dir int) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if dir < 0 || dir >= len(fs.dirs) || !fs.dirs[dir].inUse {
		return ErrBadDescriptor
	}
	fs.dirs[dir].inUse = false
	return nil
}

// List is a convenience wrapper that scans the whole directory in
// one call. Used by readdir-style frontends that want the full
// snapshot (FUSE, CLI listings).
func (fs *Filesystem) List() ([]DirEntry, error) {
	dir, err := fs.OpenDir()
	if err != nil {
		return nil, err
	}
	defer fs.CloseDir(dir)

	var out []DirEntry
	for {
		de, err := fs.ReadDir(dir)
		if err != nil {
			return nil, err
		}
		if de == nil {
			return out, nil
		}
		out = append(out, *de)
	}
}
