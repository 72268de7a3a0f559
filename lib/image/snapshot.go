// Copyright 2026 The MMROFS Authors
// SPDX-License-Identifier: Apache-2.0

// Package image reads and writes portable snapshots of a mounted
// MMROFS filesystem.
//
// A snapshot is a single-stream archive: magic and flags, a
// deterministic CBOR manifest describing every live file (name,
// size, timestamps, BLAKE3 digest, compression tag, stored size),
// the file blobs in manifest order, and a trailing BLAKE3 digest of
// the whole stream. Blobs are compressed per file and optionally
// sealed with XChaCha20-Poly1305.
package image

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"time"

	"github.com/zeebo/blake3"

	"github.com/mmrofs-foundation/mmrofs/lib/codec"
	"github.com/mmrofs-foundation/mmrofs/lib/mmrofs"
)

// Magic identifies a snapshot stream. The trailing digit is the
// format version.
const Magic = "MMRSNAP1"

const (
	flagEncrypted = 1 << 0

	// digestSize is the BLAKE3-256 output length.
	digestSize = 32
)

// Options configures Dump.
type Options struct {
	// Compression selects the per-file compression. Files that do
	// not shrink are stored uncompressed regardless.
	Compression CompressionTag

	// Key, when non-nil, seals every blob. Restore requires the
	// same key.
	Key *Key
}

// fileRecord is one manifest entry.
type fileRecord struct {
	Name       string `cbor:"name"`
	Size       uint32 `cbor:"size"`
	Ctime      int64  `cbor:"ctime"`
	Mtime      int64  `cbor:"mtime"`
	Tag        uint8  `cbor:"tag"`
	StoredSize uint32 `cbor:"stored_size"`
	Digest     []byte `cbor:"digest"`
}

// Summary reports what a dump or restore touched.
type Summary struct {
	Files       int
	PayloadSize int64
	StoredSize  int64
}

// Dump writes a snapshot of every live file to w.
func Dump(fs *mmrofs.Filesystem, w io.Writer, options Options) (*Summary, error) {
	entries, err := fs.List()
	if err != nil {
		return nil, fmt.Errorf("listing files: %w", err)
	}

	summary := &Summary{}
	records := make([]fileRecord, 0, len(entries))
	blobs := make([][]byte, 0, len(entries))

	for _, de := range entries {
		payload, err := readAll(fs, de.Name)
		if err != nil {
			return nil, fmt.Errorf("reading %q: %w", de.Name, err)
		}
		digest := blake3.Sum256(payload)

		stored, tag := compressAuto(payload, options.Compression)
		if options.Key != nil {
			stored, err = sealBlob(options.Key, de.Name, stored)
			if err != nil {
				return nil, err
			}
		}

		var mtime int64
		if !de.Info.ModTime.IsZero() {
			mtime = de.Info.ModTime.Unix()
		}
		records = append(records, fileRecord{
			Name:       de.Name,
			Size:       uint32(len(payload)),
			Ctime:      de.Info.CreateTime.Unix(),
			Mtime:      mtime,
			Tag:        uint8(tag),
			StoredSize: uint32(len(stored)),
			Digest:     digest[:],
		})
		blobs = append(blobs, stored)
		summary.Files++
		summary.PayloadSize += int64(len(payload))
		summary.StoredSize += int64(len(stored))
	}

	manifest, err := codec.Marshal(records)
	if err != nil {
		return nil, fmt.Errorf("encoding manifest: %w", err)
	}

	hasher := blake3.New()
	out := io.MultiWriter(w, hasher)

	var flags byte
	if options.Key != nil {
		flags |= flagEncrypted
	}
	if _, err := out.Write([]byte(Magic)); err != nil {
		return nil, err
	}
	if _, err := out.Write([]byte{flags}); err != nil {
		return nil, err
	}
	var lenBuf [4]byte
	binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(manifest)))
	if _, err := out.Write(lenBuf[:]); err != nil {
		return nil, err
	}
	if _, err := out.Write(manifest); err != nil {
		return nil, err
	}
	for _, blob := range blobs {
		if _, err := out.Write(blob); err != nil {
			return nil, err
		}
	}

	// Stream digest goes to w only; it covers everything before it.
	if _, err := w.Write(hasher.Sum(nil)); err != nil {
		return nil, err
	}
	return summary, nil
}

// Restore replays a snapshot into fs, superseding files that already
// exist. Timestamps are carried over from the manifest. key must
// match the dump's key (nil for unencrypted snapshots).
func Restore(fs *mmrofs.Filesystem, r io.Reader, key *Key) (*Summary, error) {
	stream, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("reading snapshot: %w", err)
	}
	if len(stream) < len(Magic)+1+4+digestSize {
		return nil, fmt.Errorf("snapshot is truncated (%d bytes)", len(stream))
	}

	body, trailer := stream[:len(stream)-digestSize], stream[len(stream)-digestSize:]
	digest := blake3.Sum256(body)
	if !bytes.Equal(digest[:], trailer) {
		return nil, fmt.Errorf("snapshot digest mismatch: stream is corrupt")
	}

	if string(body[:len(Magic)]) != Magic {
		return nil, fmt.Errorf("not an MMROFS snapshot (bad magic)")
	}
	body = body[len(Magic):]
	flags := body[0]
	body = body[1:]

	if flags&flagEncrypted != 0 && key == nil {
		return nil, fmt.Errorf("snapshot is encrypted and no key was given")
	}
	if flags&flagEncrypted == 0 {
		key = nil
	}

	manifestLen := binary.LittleEndian.Uint32(body[:4])
	body = body[4:]
	if uint32(len(body)) < manifestLen {
		return nil, fmt.Errorf("snapshot manifest is truncated")
	}
	var records []fileRecord
	if err := codec.Unmarshal(body[:manifestLen], &records); err != nil {
		return nil, fmt.Errorf("decoding manifest: %w", err)
	}
	body = body[manifestLen:]

	summary := &Summary{}
	for _, rec := range records {
		if uint32(len(body)) < rec.StoredSize {
			return nil, fmt.Errorf("blob for %q is truncated", rec.Name)
		}
		stored := body[:rec.StoredSize]
		body = body[rec.StoredSize:]

		if key != nil {
			stored, err = openBlob(key, rec.Name, stored)
			if err != nil {
				return nil, err
			}
		}
		payload, err := Decompress(stored, CompressionTag(rec.Tag), int(rec.Size))
		if err != nil {
			return nil, fmt.Errorf("decompressing %q: %w", rec.Name, err)
		}

		payloadDigest := blake3.Sum256(payload)
		if !bytes.Equal(payloadDigest[:], rec.Digest) {
			return nil, fmt.Errorf("digest mismatch for %q", rec.Name)
		}

		mtime := time.Unix(rec.Mtime, 0)
		if rec.Mtime == 0 {
			mtime = time.Unix(rec.Ctime, 0)
		}
		if err := fs.RestoreFile(rec.Name, payload, time.Unix(rec.Ctime, 0), mtime); err != nil {
			return nil, fmt.Errorf("restoring %q: %w", rec.Name, err)
		}
		summary.Files++
		summary.PayloadSize += int64(len(payload))
		summary.StoredSize += int64(rec.StoredSize)
	}
	return summary, nil
}

func readAll(fs *mmrofs.Filesystem, name string) ([]byte, error) {
	fd, err := fs.Open(name, mmrofs.FlagRead)
	if err != nil {
		return nil, err
	}
	defer fs.CloseFile(fd)

	var out []byte
	buf := make([]byte, 4096)
	for {
		n, err := fs.Read(fd, buf)
		if err != nil {
			return nil, err
		}
		if n == 0 {
			return out, nil
		}
		out = append(out, buf[:n]...)
	}
}
