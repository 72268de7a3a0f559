// Copyright 2026 The MMROFS Authors
// SPDX-License-Identifier: Apache-2.0

package image

import (
	"fmt"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// CompressionTag identifies the compression algorithm used for a
// snapshot blob. Tags are stored per file in the manifest. These
// values are format constants — changing them breaks snapshot
// compatibility.
type CompressionTag uint8

const (
	// CompressionNone stores the payload as-is. Right for content
	// that is already compressed.
	CompressionNone CompressionTag = 0

	// CompressionLZ4 is LZ4 block compression: fast, modest ratio.
	CompressionLZ4 CompressionTag = 1

	// CompressionZstd is Zstandard: better ratio, the default for
	// configuration-style payloads.
	CompressionZstd CompressionTag = 2
)

// String returns the tag's name.
func (t CompressionTag) String() string {
	switch t {
	case CompressionNone:
		return "none"
	case CompressionLZ4:
		return "lz4"
	case CompressionZstd:
		return "zstd"
	}
	return fmt.Sprintf("unknown(%d)", uint8(t))
}

// ParseCompressionTag parses a tag name as used in CLI flags.
func ParseCompressionTag(name string) (CompressionTag, error) {
	switch name {
	case "none":
		return CompressionNone, nil
	case "lz4":
		return CompressionLZ4, nil
	case "zstd":
		return CompressionZstd, nil
	}
	return 0, fmt.Errorf("unknown compression %q (want none, lz4, or zstd)", name)
}

// Shared zstd coders. EncodeAll/DecodeAll on a nil-backed coder are
// concurrency-safe and allocation-friendly for small blobs.
var (
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

func init() {
	var err error
	zstdEncoder, err = zstd.NewWriter(nil)
	if err != nil {
		panic("image: zstd encoder initialization failed: " + err.Error())
	}
	zstdDecoder, err = zstd.NewReader(nil)
	if err != nil {
		panic("image: zstd decoder initialization failed: " + err.Error())
	}
}

// Compress encodes data with the given algorithm. CompressionNone
// returns the input slice unchanged.
func Compress(data []byte, tag CompressionTag) ([]byte, error) {
	switch tag {
	case CompressionNone:
		return data, nil
	case CompressionLZ4:
		dst := make([]byte, lz4.CompressBlockBound(len(data)))
		var compressor lz4.Compressor
		n, err := compressor.CompressBlock(data, dst)
		if err != nil {
			return nil, fmt.Errorf("lz4 compression: %w", err)
		}
		if n == 0 {
			// Incompressible; lz4 block format has no stored mode,
			// so wrap nothing and let the caller's tag say so.
			return nil, fmt.Errorf("lz4 compression: incompressible input, use tag none")
		}
		return dst[:n], nil
	case CompressionZstd:
		return zstdEncoder.EncodeAll(data, nil), nil
	}
	return nil, fmt.Errorf("unknown compression tag %d", tag)
}

// Decompress decodes data compressed with tag. originalSize is the
// expected plaintext size from the manifest and bounds allocation.
func Decompress(data []byte, tag CompressionTag, originalSize int) ([]byte, error) {
	switch tag {
	case CompressionNone:
		if len(data) != originalSize {
			return nil, fmt.Errorf("stored size %d does not match manifest size %d",
				len(data), originalSize)
		}
		return data, nil
	case CompressionLZ4:
		dst := make([]byte, originalSize)
		n, err := lz4.UncompressBlock(data, dst)
		if err != nil {
			return nil, fmt.Errorf("lz4 decompression: %w", err)
		}
		if n != originalSize {
			return nil, fmt.Errorf("lz4 decompressed to %d bytes, manifest says %d", n, originalSize)
		}
		return dst, nil
	case CompressionZstd:
		out, err := zstdDecoder.DecodeAll(data, make([]byte, 0, originalSize))
		if err != nil {
			return nil, fmt.Errorf("zstd decompression: %w", err)
		}
		if len(out) != originalSize {
			return nil, fmt.Errorf("zstd decompressed to %d bytes, manifest says %d", len(out), originalSize)
		}
		return out, nil
	}
	return nil, fmt.Errorf("unknown compression tag %d", tag)
}

// compressAuto compresses with tag but falls back to CompressionNone
// when the result is not smaller (or the input is incompressible).
// Returns the data to store and the tag that describes it.
func compressAuto(data []byte, tag CompressionTag) ([]byte, CompressionTag) {
	if tag == CompressionNone || len(data) == 0 {
		return data, CompressionNone
	}
	compressed, err := Compress(data, tag)
	if err != nil || len(compressed) >= len(data) {
		return data, CompressionNone
	}
	return compressed, tag
}
