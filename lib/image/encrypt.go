// Copyright 2026 The MMROFS Authors
// SPDX-License-Identifier: Apache-2.0

package image

import (
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

// KeySize is the size in bytes of the snapshot encryption key.
const KeySize = 32

// Key is a symmetric snapshot key.
type Key [KeySize]byte

// snapshotKeyInfo is the HKDF info string binding derived keys to
// this format. Changing it invalidates every existing snapshot.
const snapshotKeyInfo = "mmrofs snapshot key v1"

// DeriveKey stretches an arbitrary secret (a passphrase, a device
// serial, a provisioning blob) into a snapshot key via HKDF-SHA256.
func DeriveKey(secret []byte) (Key, error) {
	var key Key
	reader := hkdf.New(sha256.New, secret, nil, []byte(snapshotKeyInfo))
	if _, err := io.ReadFull(reader, key[:]); err != nil {
		return Key{}, fmt.Errorf("deriving snapshot key: %w", err)
	}
	return key, nil
}

// sealBlob encrypts plaintext with XChaCha20-Poly1305. The random
// nonce is prepended; the file name is authenticated as AAD so blobs
// cannot be swapped between manifest records.
func sealBlob(key *Key, name string, plaintext []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(key[:])
	if err != nil {
		return nil, fmt.Errorf("initializing AEAD: %w", err)
	}
	nonce := make([]byte, chacha20poly1305.NonceSizeX, chacha20poly1305.NonceSizeX+len(plaintext)+aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("generating nonce: %w", err)
	}
	return aead.Seal(nonce, nonce, plaintext, []byte(name)), nil
}

// openBlob decrypts a blob produced by sealBlob.
func openBlob(key *Key, name string, blob []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(key[:])
	if err != nil {
		return nil, fmt.Errorf("initializing AEAD: %w", err)
	}
	if len(blob) < chacha20poly1305.NonceSizeX+aead.Overhead() {
		return nil, fmt.Errorf("encrypted blob for %q is too short (%d bytes)", name, len(blob))
	}
	nonce, ciphertext := blob[:chacha20poly1305.NonceSizeX], blob[chacha20poly1305.NonceSizeX:]
	plaintext, err := aead.Open(nil, nonce, ciphertext, []byte(name))
	if err != nil {
		return nil, fmt.Errorf("decrypting blob for %q: %w", name, err)
	}
	return plaintext, nil
}
