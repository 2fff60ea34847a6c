// SPDX-FileCopyrightText: 2024 The peernet Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package encryption

import (
	"crypto/cipher"
	"crypto/rand"
	"fmt"

	"golang.org/x/crypto/xtea"
)

// xteaProvider encrypts with XTEA in CBC mode. A random IV is prepended, the plaintext is padded to the block
// size and the last byte holds the padding length.
type xteaProvider struct {
	block *xtea.Cipher
}

func newXtea(key []byte) (Provider, error) {
	block, err := xtea.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return &xteaProvider{block: block}, nil
}

func (xp *xteaProvider) Encrypt(plain []byte) ([]byte, error) {
	padding := xtea.BlockSize - len(plain)%xtea.BlockSize

	out := make([]byte, xtea.BlockSize+len(plain)+padding)
	iv, body := out[:xtea.BlockSize], out[xtea.BlockSize:]
	if _, err := rand.Read(iv); err != nil {
		return nil, err
	}

	copy(body, plain)
	for i := len(plain); i < len(body); i++ {
		body[i] = byte(padding)
	}

	cipher.NewCBCEncrypter(xp.block, iv).CryptBlocks(body, body)
	return out, nil
}

func (xp *xteaProvider) Decrypt(data []byte) ([]byte, error) {
	if len(data) < 2*xtea.BlockSize || len(data)%xtea.BlockSize != 0 {
		return nil, fmt.Errorf("%w: xtea ciphertext of %d bytes", ErrDecrypt, len(data))
	}

	iv := data[:xtea.BlockSize]
	body := make([]byte, len(data)-xtea.BlockSize)
	cipher.NewCBCDecrypter(xp.block, iv).CryptBlocks(body, data[xtea.BlockSize:])

	padding := int(body[len(body)-1])
	if padding < 1 || padding > xtea.BlockSize {
		return nil, fmt.Errorf("%w: invalid xtea padding %d", ErrDecrypt, padding)
	}
	for _, b := range body[len(body)-padding:] {
		if int(b) != padding {
			return nil, fmt.Errorf("%w: invalid xtea padding", ErrDecrypt)
		}
	}
	return body[:len(body)-padding], nil
}

func (xp *xteaProvider) Overhead() int {
	return 2 * xtea.BlockSize
}

func (xp *xteaProvider) String() string {
	return "xtea"
}
