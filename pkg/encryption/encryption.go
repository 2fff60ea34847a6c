// SPDX-FileCopyrightText: 2024 The peernet Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package encryption provides the pluggable datagram encryption of a Peer.
//
// Each Provider transforms a whole datagram. All providers derive their key from a shared passphrase by HKDF,
// so both peers only need to agree on the provider's name and the passphrase.
package encryption

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"sort"

	"golang.org/x/crypto/hkdf"
)

// ErrDecrypt is returned for datagrams which could not be decrypted, e.g., because of a wrong key or tampering.
var ErrDecrypt = errors.New("decryption failed")

// Provider encrypts and decrypts datagrams.
type Provider interface {
	// Encrypt returns the ciphertext of a datagram. The plaintext is left unchanged.
	Encrypt(plain []byte) ([]byte, error)

	// Decrypt returns the plaintext of an encrypted datagram or an error wrapping ErrDecrypt.
	Decrypt(cipher []byte) ([]byte, error)

	// Overhead is the maximum amount of bytes Encrypt adds to a datagram.
	Overhead() int

	// String is the Provider's name as accepted by New.
	String() string
}

type constructor func(key []byte) (Provider, error)

var providers = map[string]struct {
	keySize int
	create  constructor
}{
	"xor":              {32, newXor},
	"xtea":             {16, newXtea},
	"aes-gcm":          {32, newAesGcm},
	"chacha20poly1305": {32, newChaCha},
}

// Names lists all known Provider names.
func Names() (names []string) {
	for name := range providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return
}

// New creates the Provider called name with a key derived from passphrase.
func New(name, passphrase string) (Provider, error) {
	provider, ok := providers[name]
	if !ok {
		return nil, fmt.Errorf("unknown encryption provider %q, known are %v", name, Names())
	}
	if passphrase == "" {
		return nil, fmt.Errorf("encryption provider %s requires a non-empty key", name)
	}

	key, err := DeriveKey(name, passphrase, provider.keySize)
	if err != nil {
		return nil, err
	}
	return provider.create(key)
}

// DeriveKey creates a key of size bytes for the named Provider from a passphrase.
func DeriveKey(name, passphrase string, size int) ([]byte, error) {
	key := make([]byte, size)
	kdf := hkdf.New(sha256.New, []byte(passphrase), nil, []byte("peernet "+name))
	if _, err := io.ReadFull(kdf, key); err != nil {
		return nil, fmt.Errorf("deriving %s key: %w", name, err)
	}
	return key, nil
}
