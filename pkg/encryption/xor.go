// SPDX-FileCopyrightText: 2024 The peernet Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package encryption

// xorProvider obfuscates datagrams with a repeating key. It offers no real confidentiality.
type xorProvider struct {
	key []byte
}

func newXor(key []byte) (Provider, error) {
	return &xorProvider{key: key}, nil
}

func (xp *xorProvider) apply(in []byte) []byte {
	out := make([]byte, len(in))
	for i, b := range in {
		out[i] = b ^ xp.key[i%len(xp.key)]
	}
	return out
}

func (xp *xorProvider) Encrypt(plain []byte) ([]byte, error) {
	return xp.apply(plain), nil
}

func (xp *xorProvider) Decrypt(cipher []byte) ([]byte, error) {
	return xp.apply(cipher), nil
}

func (xp *xorProvider) Overhead() int {
	return 0
}

func (xp *xorProvider) String() string {
	return "xor"
}
