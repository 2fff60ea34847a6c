// SPDX-FileCopyrightText: 2024 The peernet Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package encryption

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"
)

// aeadProvider seals each datagram with a random nonce, which is prepended to the ciphertext.
type aeadProvider struct {
	name string
	aead cipher.AEAD
}

func newAesGcm(key []byte) (Provider, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	return &aeadProvider{name: "aes-gcm", aead: aead}, nil
}

func newChaCha(key []byte) (Provider, error) {
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, err
	}
	return &aeadProvider{name: "chacha20poly1305", aead: aead}, nil
}

func (ap *aeadProvider) Encrypt(plain []byte) ([]byte, error) {
	nonceSize := ap.aead.NonceSize()

	out := make([]byte, nonceSize, nonceSize+len(plain)+ap.aead.Overhead())
	if _, err := rand.Read(out); err != nil {
		return nil, err
	}
	return ap.aead.Seal(out, out[:nonceSize], plain, nil), nil
}

func (ap *aeadProvider) Decrypt(data []byte) ([]byte, error) {
	nonceSize := ap.aead.NonceSize()
	if len(data) < nonceSize+ap.aead.Overhead() {
		return nil, fmt.Errorf("%w: %s ciphertext of %d bytes", ErrDecrypt, ap.name, len(data))
	}

	plain, err := ap.aead.Open(nil, data[:nonceSize], data[nonceSize:], nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecrypt, err)
	}
	return plain, nil
}

func (ap *aeadProvider) Overhead() int {
	return ap.aead.NonceSize() + ap.aead.Overhead()
}

func (ap *aeadProvider) String() string {
	return ap.name
}
