// SPDX-FileCopyrightText: 2024 The peernet Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package message

import (
	"encoding/binary"
	"fmt"
	"math"
)

// WriteBits appends the n least significant bits of v, for 1 <= n <= 64.
func (b *Buffer) WriteBits(v uint64, n int) {
	if n < 1 || n > 64 {
		panic(fmt.Sprintf("message: cannot write %d bits", n))
	}
	b.mustWritable()

	if n < 64 {
		v &= uint64(1)<<uint(n) - 1
	}

	b.ensureBits(n)
	writeBits(b.data, b.bitLength, v, n)
	b.bitLength += n
}

// WriteInt64Bits appends the n bit two's complement representation of v, for 1 <= n <= 64.
func (b *Buffer) WriteInt64Bits(v int64, n int) {
	b.WriteBits(uint64(v), n)
}

// WriteBool appends a single bit.
func (b *Buffer) WriteBool(v bool) {
	if v {
		b.WriteBits(1, 1)
	} else {
		b.WriteBits(0, 1)
	}
}

// WriteUInt8 appends v as 8 bits.
func (b *Buffer) WriteUInt8(v uint8) {
	b.WriteBits(uint64(v), 8)
}

// WriteInt8 appends v as 8 bit two's complement.
func (b *Buffer) WriteInt8(v int8) {
	b.WriteBits(uint64(uint8(v)), 8)
}

// WriteUInt16 appends v as 16 bits.
func (b *Buffer) WriteUInt16(v uint16) {
	b.WriteBits(uint64(v), 16)
}

// WriteInt16 appends v as 16 bit two's complement.
func (b *Buffer) WriteInt16(v int16) {
	b.WriteBits(uint64(uint16(v)), 16)
}

// WriteUInt32 appends v as 32 bits.
func (b *Buffer) WriteUInt32(v uint32) {
	b.WriteBits(uint64(v), 32)
}

// WriteInt32 appends v as 32 bit two's complement.
func (b *Buffer) WriteInt32(v int32) {
	b.WriteBits(uint64(uint32(v)), 32)
}

// WriteUInt64 appends v as 64 bits.
func (b *Buffer) WriteUInt64(v uint64) {
	b.WriteBits(v, 64)
}

// WriteInt64 appends v as 64 bit two's complement.
func (b *Buffer) WriteInt64(v int64) {
	b.WriteBits(uint64(v), 64)
}

// WriteFloat32 appends an IEEE 754 single precision value.
func (b *Buffer) WriteFloat32(v float32) {
	bits := math.Float32bits(v)
	if b.bitLength&7 != 0 {
		b.WriteUInt32(bits)
		return
	}

	b.mustWritable()
	b.ensureBits(32)
	binary.BigEndian.PutUint32(b.data[b.bitLength>>3:], bits)
	b.bitLength += 32
}

// WriteFloat64 appends an IEEE 754 double precision value.
func (b *Buffer) WriteFloat64(v float64) {
	bits := math.Float64bits(v)
	if b.bitLength&7 != 0 {
		b.WriteUInt64(bits)
		return
	}

	b.mustWritable()
	b.ensureBits(64)
	binary.BigEndian.PutUint64(b.data[b.bitLength>>3:], bits)
	b.bitLength += 64
}

// WriteBytes appends raw bytes.
func (b *Buffer) WriteBytes(p []byte) {
	if len(p) == 0 {
		return
	}
	b.mustWritable()

	n := len(p) * 8
	b.ensureBits(n)
	if b.bitLength&7 == 0 {
		copy(b.data[b.bitLength>>3:], p)
	} else {
		for i, v := range p {
			writeBits(b.data, b.bitLength+i*8, uint64(v), 8)
		}
	}
	b.bitLength += n
}

// WriteString appends a string's UTF-8 bytes, prefixed by their variable length encoded byte count.
func (b *Buffer) WriteString(s string) {
	b.WriteVariableUInt32(uint32(len(s)))
	b.WriteBytes([]byte(s))
}

// WriteVariableUInt64 appends v in groups of seven bits, least significant group first. The eighth bit of each
// byte marks a following group.
func (b *Buffer) WriteVariableUInt64(v uint64) {
	for v >= 0x80 {
		b.WriteUInt8(uint8(v) | 0x80)
		v >>= 7
	}
	b.WriteUInt8(uint8(v))
}

// WriteVariableUInt32 appends v as a variable length integer.
func (b *Buffer) WriteVariableUInt32(v uint32) {
	b.WriteVariableUInt64(uint64(v))
}

// WriteVariableInt64 appends the zigzag encoded v as a variable length integer.
func (b *Buffer) WriteVariableInt64(v int64) {
	b.WriteVariableUInt64(uint64(v<<1) ^ uint64(v>>63))
}

// WriteVariableInt32 appends the zigzag encoded v as a variable length integer.
func (b *Buffer) WriteVariableInt32(v int32) {
	b.WriteVariableUInt32(uint32(v<<1) ^ uint32(v>>31))
}

// WritePadBits appends zero bits up to the next byte boundary.
func (b *Buffer) WritePadBits() {
	if rest := b.bitLength & 7; rest != 0 {
		b.WriteBits(0, 8-rest)
	}
}

// VariableUIntSize is the amount of bytes WriteVariableUInt64 needs for v.
func VariableUIntSize(v uint64) int {
	n := 1
	for v >= 0x80 {
		v >>= 7
		n++
	}
	return n
}
