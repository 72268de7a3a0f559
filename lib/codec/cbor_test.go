// Copyright 2026 The MMROFS Authors
// SPDX-License-Identifier: Apache-2.0

package codec

import (
	"bytes"
	"testing"
)

type sample struct {
	Name  string `cbor:"name"`
	Size  uint32 `cbor:"size"`
	Extra []byte `cbor:"extra,omitempty"`
}

func TestRoundTrip(t *testing.T) {
	in := sample{Name: "boot.cfg", Size: 4096, Extra: []byte{1, 2, 3}}

	data, err := Marshal(in)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	var out sample
	if err := Unmarshal(data, &out); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if out.Name != in.Name || out.Size != in.Size || !bytes.Equal(out.Extra, in.Extra) {
		t.Errorf("roundtrip mismatch: %+v", out)
	}
}

func TestDeterministicEncoding(t *testing.T) {
	in := map[string]any{"zeta": 1, "alpha": 2, "mid": 3}

	first, err := Marshal(in)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	for i := 0; i < 10; i++ {
		again, err := Marshal(in)
		if err != nil {
			t.Fatalf("Marshal failed: %v", err)
		}
		if !bytes.Equal(first, again) {
			t.Fatalf("encoding %d differs from first", i)
		}
	}
}

func TestUnknownFieldsIgnored(t *testing.T) {
	data, err := Marshal(map[string]any{"name": "x", "size": 1, "future": true})
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	var out sample
	if err := Unmarshal(data, &out); err != nil {
		t.Fatalf("Unmarshal with unknown field failed: %v", err)
	}
	if out.Name != "x" {
		t.Errorf("Name = %q", out.Name)
	}
}
