// SPDX-FileCopyrightText: 2024 The peernet Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package message

import (
	"encoding/binary"
	"fmt"
	"math"
	"unicode/utf8"
)

// peekBits returns the next n bits, 0 <= n <= 64, without moving the cursor.
func (b *Buffer) peekBits(n int) (uint64, error) {
	if err := b.checkRead(n); err != nil {
		return 0, err
	}
	return readBits(b.data, b.readPosition, n), nil
}

// readBits returns the next n bits and advances the cursor by exactly n bits on success.
func (b *Buffer) readBits(n int) (uint64, error) {
	v, err := b.peekBits(n)
	if err == nil {
		b.readPosition += n
	}
	return v, err
}

func checkWidth(n, max int) error {
	if n < 1 || n > max {
		return fmt.Errorf("%w: %d, expected 1 to %d", ErrInvalidBitCount, n, max)
	}
	return nil
}

// signExtend interprets the n least significant bits of v as a two's complement number.
func signExtend(v uint64, n int) int64 {
	if n == 64 {
		return int64(v)
	}
	if v&(uint64(1)<<uint(n-1)) != 0 {
		v |= ^uint64(0) << uint(n)
	}
	return int64(v)
}

// PeekBool returns the next bit without moving the cursor.
func (b *Buffer) PeekBool() (bool, error) {
	v, err := b.peekBits(1)
	return v == 1, err
}

// ReadBool reads a single bit.
func (b *Buffer) ReadBool() (bool, error) {
	v, err := b.readBits(1)
	return v == 1, err
}

// PeekUInt8 returns the next 8 bits as an unsigned integer without moving the cursor.
func (b *Buffer) PeekUInt8() (uint8, error) {
	v, err := b.peekBits(8)
	return uint8(v), err
}

// ReadUInt8 reads the next 8 bits as an unsigned integer.
func (b *Buffer) ReadUInt8() (uint8, error) {
	v, err := b.readBits(8)
	return uint8(v), err
}

// PeekInt8 returns the next 8 bits as a two's complement integer without moving the cursor.
func (b *Buffer) PeekInt8() (int8, error) {
	v, err := b.peekBits(8)
	return int8(v), err
}

// ReadInt8 reads the next 8 bits as a two's complement integer.
func (b *Buffer) ReadInt8() (int8, error) {
	v, err := b.readBits(8)
	return int8(v), err
}

// PeekUInt16 returns the next 16 bits as an unsigned integer without moving the cursor.
func (b *Buffer) PeekUInt16() (uint16, error) {
	v, err := b.peekBits(16)
	return uint16(v), err
}

// ReadUInt16 reads the next 16 bits as an unsigned integer.
func (b *Buffer) ReadUInt16() (uint16, error) {
	v, err := b.readBits(16)
	return uint16(v), err
}

// PeekInt16 returns the next 16 bits as a two's complement integer without moving the cursor.
func (b *Buffer) PeekInt16() (int16, error) {
	v, err := b.peekBits(16)
	return int16(v), err
}

// ReadInt16 reads the next 16 bits as a two's complement integer.
func (b *Buffer) ReadInt16() (int16, error) {
	v, err := b.readBits(16)
	return int16(v), err
}

// PeekUInt32 returns the next 32 bits as an unsigned integer without moving the cursor.
func (b *Buffer) PeekUInt32() (uint32, error) {
	v, err := b.peekBits(32)
	return uint32(v), err
}

// ReadUInt32 reads the next 32 bits as an unsigned integer.
func (b *Buffer) ReadUInt32() (uint32, error) {
	v, err := b.readBits(32)
	return uint32(v), err
}

// PeekInt32 returns the next 32 bits as a two's complement integer without moving the cursor.
func (b *Buffer) PeekInt32() (int32, error) {
	v, err := b.peekBits(32)
	return int32(v), err
}

// ReadInt32 reads the next 32 bits as a two's complement integer.
func (b *Buffer) ReadInt32() (int32, error) {
	v, err := b.readBits(32)
	return int32(v), err
}

// PeekUInt64 returns the next 64 bits as an unsigned integer without moving the cursor.
func (b *Buffer) PeekUInt64() (uint64, error) {
	return b.peekBits(64)
}

// ReadUInt64 reads the next 64 bits as an unsigned integer.
func (b *Buffer) ReadUInt64() (uint64, error) {
	return b.readBits(64)
}

// PeekInt64 returns the next 64 bits as a two's complement integer without moving the cursor.
func (b *Buffer) PeekInt64() (int64, error) {
	v, err := b.peekBits(64)
	return int64(v), err
}

// ReadInt64 reads the next 64 bits as a two's complement integer.
func (b *Buffer) ReadInt64() (int64, error) {
	v, err := b.readBits(64)
	return int64(v), err
}

// PeekUInt32Bits returns the next n bits, 1 <= n <= 32, as an unsigned integer.
func (b *Buffer) PeekUInt32Bits(n int) (uint32, error) {
	if err := checkWidth(n, 32); err != nil {
		return 0, err
	}
	v, err := b.peekBits(n)
	return uint32(v), err
}

// ReadUInt32Bits reads the next n bits, 1 <= n <= 32, as an unsigned integer.
func (b *Buffer) ReadUInt32Bits(n int) (uint32, error) {
	v, err := b.PeekUInt32Bits(n)
	if err == nil {
		b.readPosition += n
	}
	return v, err
}

// PeekInt32Bits returns the next n bits, 1 <= n <= 32, as a sign extended integer.
func (b *Buffer) PeekInt32Bits(n int) (int32, error) {
	if err := checkWidth(n, 32); err != nil {
		return 0, err
	}
	if n == 32 {
		return b.PeekInt32()
	}

	v, err := b.peekBits(n)
	return int32(signExtend(v, n)), err
}

// ReadInt32Bits reads the next n bits, 1 <= n <= 32, as a sign extended integer.
func (b *Buffer) ReadInt32Bits(n int) (int32, error) {
	v, err := b.PeekInt32Bits(n)
	if err == nil {
		b.readPosition += n
	}
	return v, err
}

// PeekUInt64Bits returns the next n bits, 1 <= n <= 64, as an unsigned integer.
func (b *Buffer) PeekUInt64Bits(n int) (uint64, error) {
	if err := checkWidth(n, 64); err != nil {
		return 0, err
	}
	return b.peekBits(n)
}

// ReadUInt64Bits reads the next n bits, 1 <= n <= 64, as an unsigned integer.
func (b *Buffer) ReadUInt64Bits(n int) (uint64, error) {
	v, err := b.PeekUInt64Bits(n)
	if err == nil {
		b.readPosition += n
	}
	return v, err
}

// PeekInt64Bits returns the next n bits, 1 <= n <= 64, as a sign extended integer.
func (b *Buffer) PeekInt64Bits(n int) (int64, error) {
	if err := checkWidth(n, 64); err != nil {
		return 0, err
	}

	v, err := b.peekBits(n)
	return signExtend(v, n), err
}

// ReadInt64Bits reads the next n bits, 1 <= n <= 64, as a sign extended integer.
func (b *Buffer) ReadInt64Bits(n int) (int64, error) {
	v, err := b.PeekInt64Bits(n)
	if err == nil {
		b.readPosition += n
	}
	return v, err
}

// PeekFloat32 returns the next IEEE 754 single precision value.
func (b *Buffer) PeekFloat32() (float32, error) {
	if err := b.checkRead(32); err != nil {
		return 0, err
	}

	if b.readPosition&7 == 0 {
		return math.Float32frombits(binary.BigEndian.Uint32(b.data[b.readPosition>>3:])), nil
	}

	raw, err := b.PeekBytes(4)
	if err != nil {
		return 0, err
	}
	return math.Float32frombits(binary.BigEndian.Uint32(raw)), nil
}

// ReadFloat32 reads an IEEE 754 single precision value.
func (b *Buffer) ReadFloat32() (float32, error) {
	v, err := b.PeekFloat32()
	if err == nil {
		b.readPosition += 32
	}
	return v, err
}

// PeekFloat64 returns the next IEEE 754 double precision value.
func (b *Buffer) PeekFloat64() (float64, error) {
	if err := b.checkRead(64); err != nil {
		return 0, err
	}

	if b.readPosition&7 == 0 {
		return math.Float64frombits(binary.BigEndian.Uint64(b.data[b.readPosition>>3:])), nil
	}

	raw, err := b.PeekBytes(8)
	if err != nil {
		return 0, err
	}
	return math.Float64frombits(binary.BigEndian.Uint64(raw)), nil
}

// ReadFloat64 reads an IEEE 754 double precision value.
func (b *Buffer) ReadFloat64() (float64, error) {
	v, err := b.PeekFloat64()
	if err == nil {
		b.readPosition += 64
	}
	return v, err
}

// PeekBytes copies the next n bytes into a new slice without moving the cursor.
func (b *Buffer) PeekBytes(n int) ([]byte, error) {
	if n < 0 {
		return nil, fmt.Errorf("%w: %d bytes", ErrInvalidBitCount, n)
	}

	if n > b.RemainingBits()>>3 {
		return nil, fmt.Errorf("%w: %d bytes requested at position %d of %d",
			ErrBufferOverflow, n, b.readPosition, b.bitLength)
	}

	p := make([]byte, n)
	if err := b.peekBytesInto(p); err != nil {
		return nil, err
	}
	return p, nil
}

// ReadBytes copies the next n bytes into a new slice.
func (b *Buffer) ReadBytes(n int) ([]byte, error) {
	p, err := b.PeekBytes(n)
	if err == nil {
		b.readPosition += n * 8
	}
	return p, err
}

// ReadBytesInto copies the next n bytes into dst, starting at dst[offset].
func (b *Buffer) ReadBytesInto(dst []byte, offset, n int) error {
	if offset < 0 || n < 0 || offset+n > len(dst) {
		return fmt.Errorf("message: cannot read %d bytes into %d bytes at offset %d", n, len(dst), offset)
	}
	if err := b.peekBytesInto(dst[offset : offset+n]); err != nil {
		return err
	}
	b.readPosition += n * 8
	return nil
}

func (b *Buffer) peekBytesInto(p []byte) error {
	if err := b.checkRead(len(p) * 8); err != nil {
		return err
	}

	if b.readPosition&7 == 0 {
		start := b.readPosition >> 3
		copy(p, b.data[start:start+len(p)])
	} else {
		for i := range p {
			p[i] = byte(readBits(b.data, b.readPosition+i*8, 8))
		}
	}
	return nil
}

// PeekVariableUInt64 decodes a variable length integer without moving the cursor.
func (b *Buffer) PeekVariableUInt64() (uint64, error) {
	pos := b.readPosition
	v, err := b.ReadVariableUInt64()
	b.readPosition = pos
	return v, err
}

// ReadVariableUInt64 decodes an integer written by WriteVariableUInt64. On errors the cursor stays untouched.
func (b *Buffer) ReadVariableUInt64() (uint64, error) {
	pos := b.readPosition

	var v uint64
	for shift := uint(0); ; shift += 7 {
		if shift >= 64 {
			b.readPosition = pos
			return 0, fmt.Errorf("message: variable length integer exceeds 64 bits")
		}

		group, err := b.ReadUInt8()
		if err != nil {
			b.readPosition = pos
			return 0, err
		}

		v |= uint64(group&0x7f) << shift
		if group&0x80 == 0 {
			return v, nil
		}
	}
}

// PeekVariableUInt32 decodes a variable length integer of at most 32 bits without moving the cursor.
func (b *Buffer) PeekVariableUInt32() (uint32, error) {
	pos := b.readPosition
	v, err := b.ReadVariableUInt32()
	b.readPosition = pos
	return v, err
}

// ReadVariableUInt32 decodes a variable length integer and rejects values above 32 bits.
func (b *Buffer) ReadVariableUInt32() (uint32, error) {
	pos := b.readPosition
	v, err := b.ReadVariableUInt64()
	if err == nil && v > math.MaxUint32 {
		b.readPosition = pos
		return 0, fmt.Errorf("message: variable length integer %d exceeds 32 bits", v)
	}
	return uint32(v), err
}

// PeekVariableInt64 decodes a zigzag encoded integer without moving the cursor.
func (b *Buffer) PeekVariableInt64() (int64, error) {
	pos := b.readPosition
	v, err := b.ReadVariableInt64()
	b.readPosition = pos
	return v, err
}

// ReadVariableInt64 decodes an integer written by WriteVariableInt64.
func (b *Buffer) ReadVariableInt64() (int64, error) {
	v, err := b.ReadVariableUInt64()
	return int64(v>>1) ^ -int64(v&1), err
}

// PeekVariableInt32 decodes a zigzag encoded 32 bit integer without moving the cursor.
func (b *Buffer) PeekVariableInt32() (int32, error) {
	pos := b.readPosition
	v, err := b.ReadVariableInt32()
	b.readPosition = pos
	return v, err
}

// ReadVariableInt32 decodes an integer written by WriteVariableInt32.
func (b *Buffer) ReadVariableInt32() (int32, error) {
	v, err := b.ReadVariableUInt32()
	return int32(v>>1) ^ -int32(v&1), err
}

// ReadString reads a string written by WriteString.
func (b *Buffer) ReadString() (string, error) {
	pos := b.readPosition

	l, err := b.ReadVariableUInt32()
	if err != nil {
		return "", err
	}
	if int(l)*8 > b.RemainingBits() {
		b.readPosition = pos
		return "", fmt.Errorf("%w: string of %d bytes", ErrBufferOverflow, l)
	}

	p, err := b.ReadBytes(int(l))
	if err != nil {
		b.readPosition = pos
		return "", err
	}
	if !utf8.Valid(p) {
		b.readPosition = pos
		return "", fmt.Errorf("message: string is not valid UTF-8")
	}
	return string(p), nil
}

// PeekString snapshots the cursor, reads a string and restores the cursor.
func (b *Buffer) PeekString() (string, error) {
	pos := b.readPosition
	s, err := b.ReadString()
	b.readPosition = pos
	return s, err
}

// SkipBits advances the cursor by n bits, n >= 0.
func (b *Buffer) SkipBits(n int) error {
	if n < 0 {
		return fmt.Errorf("%w: cannot skip %d bits", ErrInvalidBitCount, n)
	}
	if err := b.checkRead(n); err != nil {
		return err
	}
	b.readPosition += n
	return nil
}

// SkipPadBits advances the cursor to the next byte boundary.
func (b *Buffer) SkipPadBits() error {
	if rest := b.readPosition & 7; rest != 0 {
		return b.SkipBits(8 - rest)
	}
	return nil
}
