// SPDX-FileCopyrightText: 2024 The peernet Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package message

import (
	"bytes"
	"errors"
	"math"
	"math/rand"
	"testing"
)

func TestBufferBitOrder(t *testing.T) {
	b := NewBuffer(4)
	b.WriteBool(true)
	b.WriteBits(0x5, 3)
	b.WriteBits(0xA, 4)
	b.WriteUInt16(0x1234)

	if expected := []byte{0xDA, 0x12, 0x34}; !bytes.Equal(b.Data(), expected) {
		t.Fatalf("expected %x, got %x", expected, b.Data())
	}
}

func TestBufferUIntWidths(t *testing.T) {
	r := rand.New(rand.NewSource(23))

	for w := 1; w <= 64; w++ {
		values := []uint64{0, 1, r.Uint64()}
		if w < 64 {
			values = append(values, uint64(1)<<uint(w)-1)
		} else {
			values = append(values, math.MaxUint64)
		}

		for _, offset := range []int{0, 3, 7} {
			for _, v := range values {
				if w < 64 {
					v &= uint64(1)<<uint(w) - 1
				}

				b := NewBuffer(16)
				if offset > 0 {
					b.WriteBits(0, offset)
				}
				b.WriteBits(v, w)
				if err := b.SkipBits(offset); err != nil {
					t.Fatal(err)
				}

				before := b.Position()
				if peeked, err := b.PeekUInt64Bits(w); err != nil {
					t.Fatal(err)
				} else if peeked != v {
					t.Fatalf("width %d, offset %d: peeked %x instead of %x", w, offset, peeked, v)
				} else if b.Position() != before {
					t.Fatalf("width %d: peek moved cursor from %d to %d", w, before, b.Position())
				}

				if read, err := b.ReadUInt64Bits(w); err != nil {
					t.Fatal(err)
				} else if read != v {
					t.Fatalf("width %d, offset %d: read %x instead of %x", w, offset, read, v)
				} else if b.Position() != before+w {
					t.Fatalf("width %d: cursor at %d, expected %d", w, b.Position(), before+w)
				}
			}
		}
	}
}

func TestBufferSignExtension(t *testing.T) {
	for w := 1; w <= 64; w++ {
		minVal := -(int64(1) << uint(w-1))
		if w == 64 {
			minVal = math.MinInt64
		}

		for _, v := range []int64{-1, minVal, minVal / 2, 0} {
			b := NewBuffer(8)
			b.WriteInt64Bits(v, w)

			if read, err := b.PeekInt64Bits(w); err != nil {
				t.Fatal(err)
			} else if read != v {
				t.Fatalf("width %d: read %d instead of %d", w, read, v)
			}

			if w <= 32 {
				if read, err := b.PeekInt32Bits(w); err != nil {
					t.Fatal(err)
				} else if int64(read) != v {
					t.Fatalf("width %d: read %d instead of %d", w, read, v)
				}
			}
		}
	}
}

func TestBufferFixedWidth(t *testing.T) {
	b := NewBuffer(0)
	b.WriteBool(false)
	b.WriteInt8(-100)
	b.WriteUInt8(200)
	b.WriteInt16(-30000)
	b.WriteUInt16(60000)
	b.WriteInt32(math.MinInt32)
	b.WriteUInt32(math.MaxUint32)
	b.WriteInt64(math.MinInt64)
	b.WriteUInt64(math.MaxUint64)

	if l := b.LengthBits(); l != 1+8+8+16+16+32+32+64+64 {
		t.Fatalf("unexpected length %d", l)
	}

	if v, err := b.ReadBool(); err != nil || v {
		t.Fatalf("bool: %v %v", v, err)
	}
	if v, err := b.ReadInt8(); err != nil || v != -100 {
		t.Fatalf("int8: %v %v", v, err)
	}
	if v, err := b.ReadUInt8(); err != nil || v != 200 {
		t.Fatalf("uint8: %v %v", v, err)
	}
	if v, err := b.ReadInt16(); err != nil || v != -30000 {
		t.Fatalf("int16: %v %v", v, err)
	}
	if v, err := b.ReadUInt16(); err != nil || v != 60000 {
		t.Fatalf("uint16: %v %v", v, err)
	}
	if v, err := b.ReadInt32(); err != nil || v != math.MinInt32 {
		t.Fatalf("int32: %v %v", v, err)
	}
	if v, err := b.ReadUInt32(); err != nil || v != math.MaxUint32 {
		t.Fatalf("uint32: %v %v", v, err)
	}
	if v, err := b.ReadInt64(); err != nil || v != math.MinInt64 {
		t.Fatalf("int64: %v %v", v, err)
	}
	if v, err := b.ReadUInt64(); err != nil || v != math.MaxUint64 {
		t.Fatalf("uint64: %v %v", v, err)
	}

	if b.RemainingBits() != 0 {
		t.Fatalf("%d bits left", b.RemainingBits())
	}
}

func TestBufferOverflow(t *testing.T) {
	b := NewBuffer(4)
	b.WriteBits(0x7f, 7)

	if _, err := b.ReadUInt8(); !errors.Is(err, ErrBufferOverflow) {
		t.Fatalf("expected overflow, got %v", err)
	}
	if b.Position() != 0 {
		t.Fatalf("failed read moved cursor to %d", b.Position())
	}

	if _, err := b.ReadUInt32Bits(33); !errors.Is(err, ErrInvalidBitCount) {
		t.Fatalf("expected invalid bit count, got %v", err)
	}
	if _, err := b.ReadUInt64Bits(0); !errors.Is(err, ErrInvalidBitCount) {
		t.Fatalf("expected invalid bit count, got %v", err)
	}

	if v, err := b.ReadUInt32Bits(7); err != nil || v != 0x7f {
		t.Fatalf("read %x, %v", v, err)
	}
	if _, err := b.ReadBool(); !errors.Is(err, ErrBufferOverflow) {
		t.Fatalf("expected overflow, got %v", err)
	}
	if _, err := b.ReadFloat64(); !errors.Is(err, ErrBufferOverflow) {
		t.Fatalf("expected overflow, got %v", err)
	}
	if err := b.ReadBytesInto(make([]byte, 4), 0, 1); !errors.Is(err, ErrBufferOverflow) {
		t.Fatalf("expected overflow, got %v", err)
	}
}

func TestBufferFloatPaths(t *testing.T) {
	values32 := []float32{0, -0.5, 3.1415927, math.MaxFloat32, float32(math.Inf(-1)), math.SmallestNonzeroFloat32}
	values64 := []float64{0, -0.5, math.Pi, math.MaxFloat64, math.Inf(1), math.SmallestNonzeroFloat64}

	for _, offset := range []int{0, 1, 5} {
		b := NewBuffer(0)
		if offset > 0 {
			b.WriteBits(0, offset)
		}
		for _, v := range values32 {
			b.WriteFloat32(v)
		}
		for _, v := range values64 {
			b.WriteFloat64(v)
		}
		_ = b.SkipBits(offset)

		for _, v := range values32 {
			if read, err := b.ReadFloat32(); err != nil {
				t.Fatal(err)
			} else if math.Float32bits(read) != math.Float32bits(v) {
				t.Fatalf("offset %d: read %v instead of %v", offset, read, v)
			}
		}
		for _, v := range values64 {
			if read, err := b.ReadFloat64(); err != nil {
				t.Fatal(err)
			} else if math.Float64bits(read) != math.Float64bits(v) {
				t.Fatalf("offset %d: read %v instead of %v", offset, read, v)
			}
		}
	}

	nan := math.Float64frombits(0x7ff8000000000001)
	aligned, unaligned := NewBuffer(8), NewBuffer(9)
	aligned.WriteFloat64(nan)
	unaligned.WriteBool(true)
	unaligned.WriteFloat64(nan)
	_ = unaligned.SkipBits(1)

	a, _ := aligned.PeekFloat64()
	u, _ := unaligned.PeekFloat64()
	if math.Float64bits(a) != math.Float64bits(u) {
		t.Fatalf("fast path %x and slow path %x differ", math.Float64bits(a), math.Float64bits(u))
	}
}

func TestBufferBytes(t *testing.T) {
	payload := []byte("hello world")

	for _, offset := range []int{0, 3} {
		b := NewBuffer(0)
		if offset > 0 {
			b.WriteBits(0, offset)
		}
		b.WriteBytes(payload)
		_ = b.SkipBits(offset)

		if peeked, err := b.PeekBytes(5); err != nil || string(peeked) != "hello" {
			t.Fatalf("peeked %q, %v", peeked, err)
		}

		dst := make([]byte, 8)
		if err := b.ReadBytesInto(dst, 2, 6); err != nil {
			t.Fatal(err)
		} else if string(dst[2:]) != "hello " {
			t.Fatalf("read %q", dst)
		}

		if rest, err := b.ReadBytes(5); err != nil || string(rest) != "world" {
			t.Fatalf("read %q, %v", rest, err)
		}
	}
}

func TestBufferString(t *testing.T) {
	tests := []string{"", "a", "peer to peer", "ünïcödé ☃", string(bytes.Repeat([]byte("x"), 300))}

	b := NewBuffer(0)
	b.WriteBool(true)
	for _, s := range tests {
		b.WriteString(s)
	}
	_ = b.SkipBits(1)

	for _, s := range tests {
		pos := b.Position()
		if peeked, err := b.PeekString(); err != nil || peeked != s {
			t.Fatalf("peeked %q, %v", peeked, err)
		} else if b.Position() != pos {
			t.Fatalf("PeekString moved the cursor")
		}

		if read, err := b.ReadString(); err != nil || read != s {
			t.Fatalf("read %q, %v", read, err)
		}
	}

	truncated := NewBuffer(0)
	truncated.WriteVariableUInt32(10)
	truncated.WriteBytes([]byte("short"))
	if _, err := truncated.ReadString(); !errors.Is(err, ErrBufferOverflow) {
		t.Fatalf("expected overflow, got %v", err)
	} else if truncated.Position() != 0 {
		t.Fatalf("failed string read moved cursor to %d", truncated.Position())
	}
}

func TestBufferVariableIntegers(t *testing.T) {
	unsigned := []uint64{0, 1, 127, 128, 16383, 16384, math.MaxUint32, math.MaxUint64}
	signed := []int64{0, -1, 1, -64, 64, math.MinInt32, math.MaxInt32, math.MinInt64, math.MaxInt64}

	b := NewBuffer(0)
	for _, v := range unsigned {
		b.WriteVariableUInt64(v)
	}
	for _, v := range signed {
		b.WriteVariableInt64(v)
	}
	b.WriteVariableInt32(-12345)
	b.WriteVariableUInt32(4000000000)

	for _, v := range unsigned {
		pos := b.Position()
		if read, err := b.ReadVariableUInt64(); err != nil || read != v {
			t.Fatalf("read %d, %v; expected %d", read, err, v)
		} else if size := (b.Position() - pos) / 8; size != VariableUIntSize(v) {
			t.Fatalf("%d took %d bytes, VariableUIntSize says %d", v, size, VariableUIntSize(v))
		}
	}
	for _, v := range signed {
		pos := b.Position()
		if peeked, err := b.PeekVariableInt64(); err != nil || peeked != v || b.Position() != pos {
			t.Fatalf("peeked %d, %v at %d; expected %d at %d", peeked, err, b.Position(), v, pos)
		}
		if read, err := b.ReadVariableInt64(); err != nil || read != v {
			t.Fatalf("read %d, %v; expected %d", read, err, v)
		}
	}

	pos := b.Position()
	if peeked, err := b.PeekVariableInt32(); err != nil || peeked != -12345 || b.Position() != pos {
		t.Fatalf("peeked %d, %v", peeked, err)
	}
	if read, err := b.ReadVariableInt32(); err != nil || read != -12345 {
		t.Fatalf("read %d, %v", read, err)
	}

	pos = b.Position()
	if peeked, err := b.PeekVariableUInt32(); err != nil || peeked != 4000000000 || b.Position() != pos {
		t.Fatalf("peeked %d, %v", peeked, err)
	}
	if read, err := b.ReadVariableUInt32(); err != nil || read != 4000000000 {
		t.Fatalf("read %d, %v", read, err)
	}
}

func TestBufferVariableUInt32Range(t *testing.T) {
	b := NewBuffer(0)
	b.WriteVariableUInt64(math.MaxUint32 + 1)

	if _, err := b.PeekVariableUInt32(); err == nil {
		t.Fatal("peeking a 33 bit value as 32 bits succeeded")
	}
	if _, err := b.ReadVariableUInt32(); err == nil {
		t.Fatal("reading a 33 bit value as 32 bits succeeded")
	}
	if b.Position() != 0 {
		t.Fatalf("failed reads moved the cursor to %d", b.Position())
	}
}

func TestBufferSkipBits(t *testing.T) {
	b := NewBuffer(2)
	b.WriteUInt16(0xBEEF)

	if err := b.SkipBits(-8); !errors.Is(err, ErrInvalidBitCount) {
		t.Fatalf("expected an invalid bit count, got %v", err)
	}
	if b.Position() != 0 {
		t.Fatalf("negative skip moved the cursor to %d", b.Position())
	}
	if v, err := b.ReadUInt8(); err != nil || v != 0xBE {
		t.Fatalf("read %x, %v", v, err)
	}

	if err := b.SkipBits(9); !errors.Is(err, ErrBufferOverflow) {
		t.Fatalf("expected overflow, got %v", err)
	}
	if err := b.SkipBits(8); err != nil {
		t.Fatal(err)
	}
	if b.RemainingBits() != 0 {
		t.Fatalf("%d bits remain", b.RemainingBits())
	}
}

func TestBufferPeekBytesBounds(t *testing.T) {
	b := NewBuffer(4)
	b.WriteUInt32(0xCAFEBABE)
	_ = b.SkipBits(4)

	for _, n := range []int{4, 1 << 40, math.MaxInt} {
		if p, err := b.PeekBytes(n); !errors.Is(err, ErrBufferOverflow) || p != nil {
			t.Fatalf("peeking %d bytes returned %d bytes, %v", n, len(p), err)
		}
	}
	if _, err := b.PeekBytes(-1); !errors.Is(err, ErrInvalidBitCount) {
		t.Fatalf("expected an invalid bit count, got %v", err)
	}
	if p, err := b.PeekBytes(3); err != nil || !bytes.Equal(p, []byte{0xAF, 0xEB, 0xAB}) {
		t.Fatalf("peeked %x, %v", p, err)
	}
}

func TestBufferPadding(t *testing.T) {
	b := NewBuffer(0)
	b.WriteBits(1, 3)
	b.WritePadBits()
	b.WriteUInt8(0xAB)

	if b.LengthBits() != 16 {
		t.Fatalf("expected 16 bits, got %d", b.LengthBits())
	}

	_ = b.SkipBits(3)
	if err := b.SkipPadBits(); err != nil {
		t.Fatal(err)
	}
	if v, err := b.ReadUInt8(); err != nil || v != 0xAB {
		t.Fatalf("read %x, %v", v, err)
	}
}

func TestBufferTruncate(t *testing.T) {
	b := NewBuffer(0)
	b.WriteUInt16(0xFFFF)
	b.Truncate(4)
	b.WriteBits(0, 4)

	if !bytes.Equal(b.Data(), []byte{0xF0}) {
		t.Fatalf("unexpected data %x", b.Data())
	}
}
