// SPDX-FileCopyrightText: 2024 The peernet Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package message

import (
	"encoding/hex"
	"errors"
	"fmt"
	"sync/atomic"
)

var (
	// ErrBufferOverflow is returned when reading beyond a Buffer's length.
	ErrBufferOverflow = errors.New("read past the end of the buffer")

	// ErrInvalidBitCount is returned for an arbitrary width read with an unsupported width.
	ErrInvalidBitCount = errors.New("invalid bit count")
)

// Buffer is a bit-addressable message buffer.
//
// The invariant readPosition <= bitLength <= len(data)*8 holds after every operation.
type Buffer struct {
	data         []byte
	bitLength    int
	readPosition int

	// recycled is set while the owning Outgoing lies in its Pool.
	recycled atomic.Bool
}

// NewBuffer creates an empty Buffer with an initial capacity in bytes.
func NewBuffer(capacity int) *Buffer {
	return &Buffer{data: make([]byte, 0, capacity)}
}

// NewBufferFrom creates a Buffer for reading, containing bitLength bits of data.
func NewBufferFrom(data []byte, bitLength int) *Buffer {
	b := &Buffer{}
	b.reset(data, bitLength)
	return b
}

func (b *Buffer) reset(data []byte, bitLength int) {
	if bitLength < 0 || bitLength > len(data)*8 {
		panic(fmt.Sprintf("message: bit length %d exceeds %d bytes", bitLength, len(data)))
	}

	b.data = data
	b.bitLength = bitLength
	b.readPosition = 0
}

func (b *Buffer) String() string {
	return fmt.Sprintf("Buffer(bits=%d, position=%d, data=%s)",
		b.bitLength, b.readPosition, hex.EncodeToString(b.Data()))
}

// LengthBits is the amount of written bits.
func (b *Buffer) LengthBits() int {
	return b.bitLength
}

// LengthBytes is the amount of bytes needed to store all written bits.
func (b *Buffer) LengthBytes() int {
	return (b.bitLength + 7) / 8
}

// Position is the read cursor in bits.
func (b *Buffer) Position() int {
	return b.readPosition
}

// SetPosition moves the read cursor to an absolute bit position.
func (b *Buffer) SetPosition(bits int) error {
	if bits < 0 || bits > b.bitLength {
		return fmt.Errorf("%w: position %d of %d bits", ErrBufferOverflow, bits, b.bitLength)
	}
	b.readPosition = bits
	return nil
}

// RemainingBits is the amount of unread bits.
func (b *Buffer) RemainingBits() int {
	return b.bitLength - b.readPosition
}

// Data returns the written bytes. The slice aliases the Buffer's storage.
func (b *Buffer) Data() []byte {
	return b.data[:b.LengthBytes()]
}

// Truncate drops everything beyond bitLength bits and moves the read cursor back, if necessary.
func (b *Buffer) Truncate(bitLength int) {
	b.mustWritable()
	if bitLength < 0 || bitLength > b.bitLength {
		panic(fmt.Sprintf("message: cannot truncate %d bits to %d", b.bitLength, bitLength))
	}

	b.bitLength = bitLength
	b.data = b.data[:b.LengthBytes()]
	if rest := bitLength & 7; rest != 0 {
		b.data[len(b.data)-1] &= ^byte(0xff >> uint(rest))
	}
	if b.readPosition > bitLength {
		b.readPosition = bitLength
	}
}

// mustWritable panics for writes into a recycled buffer.
func (b *Buffer) mustWritable() {
	if b.recycled.Load() {
		panic(ErrRecycled)
	}
}

// ensureBits grows the storage to hold n additional bits.
func (b *Buffer) ensureBits(n int) {
	need := (b.bitLength + n + 7) / 8
	if need <= len(b.data) {
		return
	}
	if need <= cap(b.data) {
		old := len(b.data)
		b.data = b.data[:need]
		clear(b.data[old:])
		return
	}

	grown := make([]byte, need, need*2+8)
	copy(grown, b.data)
	b.data = grown
}

// checkRead validates that n bits are available at the read cursor.
func (b *Buffer) checkRead(n int) error {
	if b.readPosition+n > b.bitLength {
		return fmt.Errorf("%w: %d bits requested at position %d of %d",
			ErrBufferOverflow, n, b.readPosition, b.bitLength)
	}
	return nil
}

// writeBits stores the n least significant bits of v, most significant first, starting at bit position pos.
func writeBits(data []byte, pos int, v uint64, n int) {
	for n > 0 {
		bitOff := pos & 7
		free := 8 - bitOff
		take := n
		if take > free {
			take = free
		}

		mask := uint64(1)<<uint(take) - 1
		chunk := byte((v >> uint(n-take)) & mask)
		shift := uint(free - take)

		i := pos >> 3
		data[i] = data[i]&^(byte(mask)<<shift) | chunk<<shift

		pos += take
		n -= take
	}
}

// readBits loads n bits, most significant first, starting at bit position pos.
func readBits(data []byte, pos int, n int) (v uint64) {
	for n > 0 {
		bitOff := pos & 7
		avail := 8 - bitOff
		take := n
		if take > avail {
			take = avail
		}

		mask := uint64(1)<<uint(take) - 1
		chunk := uint64(data[pos>>3]>>uint(avail-take)) & mask
		v = v<<uint(take) | chunk

		pos += take
		n -= take
	}
	return
}
