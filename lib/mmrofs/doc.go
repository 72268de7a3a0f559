// Copyright 2026 The MMROFS Authors
// SPDX-License-Identifier: Apache-2.0

// Package mmrofs implements a small, crash-safe, write-rare
// filesystem for raw NOR flash partitions.
//
// The partition is split into a 64 KiB header region — a dense table
// of 32-byte directory entries — and a data region of erase-block-
// aligned extents, each holding one file version as filename bytes
// followed by payload. A file is a name; at most one live entry
// resolves to it at any time.
//
// Crash safety comes from the entry state machine. Each entry walks
// FREE → ALLOCATING → PENDING_DATA → [TOMBSTONING_OLD] → ACTIVE →
// VALID by programming single state bytes whose encodings only ever
// clear bits, which NOR flash can do in place. A power cut between
// any two flash writes leaves the table in a state that the mount-
// time recovery scanner drives to exactly one consistent view: the
// state before the interrupted operation or its intended result,
// never a mix.
//
// The API is descriptor-style (Open/Read/Write/CloseFile) plus
// whole-file operations (Stat, Unlink, Rename) and a flat directory
// scan. All operations serialize under a single lock; partial writes
// do not exist. See lib/mmrofs/fuse for mounting a Filesystem into
// the host VFS.
package mmrofs
