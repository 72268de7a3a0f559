// Copyright 2026 The MMROFS Authors
// SPDX-License-Identifier: Apache-2.0

package fuse

import (
	"context"
	"io"
	"syscall"

	gofuse "github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"

	"github.com/mmrofs-foundation/mmrofs/lib/mmrofs"
)

// rootNode is the single directory of the flat namespace.
type rootNode struct {
	gofuse.Inode
	options *Options
}

var _ gofuse.InodeEmbedder = (*rootNode)(nil)
var _ gofuse.NodeLookuper = (*rootNode)(nil)
var _ gofuse.NodeReaddirer = (*rootNode)(nil)
var _ gofuse.NodeCreater = (*rootNode)(nil)
var _ gofuse.NodeUnlinker = (*rootNode)(nil)
var _ gofuse.NodeRenamer = (*rootNode)(nil)

func (r *rootNode) Lookup(ctx context.Context, name string, out *fuse.EntryOut) (*gofuse.Inode, syscall.Errno) {
	info, err := r.options.Filesystem.Stat(name)
	if err != nil {
		return nil, errno(err)
	}

	child := r.NewInode(ctx, &fileNode{options: r.options, name: name},
		gofuse.StableAttr{Mode: syscall.S_IFREG})
	fillAttr(&out.Attr, info)
	return child, 0
}

func (r *rootNode) Readdir(ctx context.Context) (gofuse.DirStream, syscall.Errno) {
	entries, err := r.options.Filesystem.List()
	if err != nil {
		return nil, errno(err)
	}
	out := make([]fuse.DirEntry, 0, len(entries))
	for _, de := range entries {
		out = append(out, fuse.DirEntry{
			Name: de.Name,
			Mode: syscall.S_IFREG,
			Ino:  uint64(de.Index) + 1,
		})
	}
	return gofuse.NewListDirStream(out), 0
}

func (r *rootNode) Create(ctx context.Context, name string, flags uint32, mode uint32, out *fuse.EntryOut) (*gofuse.Inode, gofuse.FileHandle, uint32, syscall.Errno) {
	fd, err := r.options.Filesystem.Open(name, openFlags(flags)|mmrofs.FlagCreate)
	if err != nil {
		return nil, nil, 0, errno(err)
	}

	child := r.NewInode(ctx, &fileNode{options: r.options, name: name},
		gofuse.StableAttr{Mode: syscall.S_IFREG})
	handle := &fileHandle{options: r.options, fd: fd}
	return child, handle, fuse.FOPEN_DIRECT_IO, 0
}

func (r *rootNode) Unlink(ctx context.Context, name string) syscall.Errno {
	return errno(r.options.Filesystem.Unlink(name))
}

func (r *rootNode) Rename(ctx context.Context, name string, newParent gofuse.InodeEmbedder, newName string, flags uint32) syscall.Errno {
	// Flat namespace: the destination parent is always the root.
	return errno(r.options.Filesystem.Rename(name, newName))
}

// fileNode is one named file.
type fileNode struct {
	gofuse.Inode
	options *Options
	name    string
}

var _ gofuse.InodeEmbedder = (*fileNode)(nil)
var _ gofuse.NodeGetattrer = (*fileNode)(nil)
var _ gofuse.NodeOpener = (*fileNode)(nil)

func (n *fileNode) Getattr(ctx context.Context, fh gofuse.FileHandle, out *fuse.AttrOut) syscall.Errno {
	if h, ok := fh.(*fileHandle); ok {
		info, err := n.options.Filesystem.FStat(h.fd)
		if err != nil {
			return errno(err)
		}
		fillAttr(&out.Attr, info)
		return 0
	}
	info, err := n.options.Filesystem.Stat(n.name)
	if err != nil {
		return errno(err)
	}
	fillAttr(&out.Attr, info)
	return 0
}

func (n *fileNode) Open(ctx context.Context, flags uint32) (gofuse.FileHandle, uint32, syscall.Errno) {
	fd, err := n.options.Filesystem.Open(n.name, openFlags(flags))
	if err != nil {
		return nil, 0, errno(err)
	}
	// Direct IO: reads and writes bypass the page cache, so the
	// append-only write discipline is visible to the kernel as-is.
	return &fileHandle{options: n.options, fd: fd}, fuse.FOPEN_DIRECT_IO, 0
}

// fileHandle wraps one MMROFS descriptor.
type fileHandle struct {
	options *Options
	fd      int

	// written tracks the append position so out-of-order kernel
	// writes can be rejected rather than silently misplaced.
	written int64
}

var _ gofuse.FileReader = (*fileHandle)(nil)
var _ gofuse.FileWriter = (*fileHandle)(nil)
var _ gofuse.FileFlusher = (*fileHandle)(nil)
var _ gofuse.FileReleaser = (*fileHandle)(nil)

func (h *fileHandle) Read(ctx context.Context, dest []byte, off int64) (fuse.ReadResult, syscall.Errno) {
	fs := h.options.Filesystem
	if _, err := fs.Seek(h.fd, off, io.SeekStart); err != nil {
		return nil, errno(err)
	}
	n, err := fs.Read(h.fd, dest)
	if err != nil {
		return nil, errno(err)
	}
	return fuse.ReadResultData(dest[:n]), 0
}

func (h *fileHandle) Write(ctx context.Context, data []byte, off int64) (uint32, syscall.Errno) {
	if off != h.written {
		// Writes are append-only; the kernel sees direct IO, so a
		// non-sequential offset is an application seeking a writer.
		return 0, syscall.ESPIPE
	}
	n, err := h.options.Filesystem.Write(h.fd, data)
	if err != nil {
		return 0, errno(err)
	}
	h.written += int64(n)
	return uint32(n), 0
}

func (h *fileHandle) Flush(ctx context.Context) syscall.Errno {
	// Flush fires on every close(2) of a duplicated descriptor;
	// finalization happens once, in Release.
	return 0
}

func (h *fileHandle) Release(ctx context.Context) syscall.Errno {
	return errno(h.options.Filesystem.CloseFile(h.fd))
}

func openFlags(flags uint32) mmrofs.OpenFlags {
	var out mmrofs.OpenFlags
	switch flags & uint32(syscall.O_ACCMODE) {
	case syscall.O_RDONLY:
		out = mmrofs.FlagRead
	case syscall.O_WRONLY:
		out = mmrofs.FlagWrite
	case syscall.O_RDWR:
		out = mmrofs.FlagRead | mmrofs.FlagWrite
	}
	if flags&uint32(syscall.O_CREAT) != 0 {
		out |= mmrofs.FlagCreate
	}
	return out
}

func fillAttr(attr *fuse.Attr, info mmrofs.Info) {
	attr.Mode = syscall.S_IFREG | 0o444
	attr.Size = uint64(info.Size)
	if !info.ModTime.IsZero() {
		attr.Mtime = uint64(info.ModTime.Unix())
	}
	attr.Ctime = uint64(info.CreateTime.Unix())
}
