// SPDX-FileCopyrightText: 2024 The peernet Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package message

import (
	"fmt"
)

const (
	// HeaderSize is the amount of bytes in front of each message within a datagram.
	HeaderSize = 5

	// MaxPayloadBits is the largest payload a single Header can describe.
	MaxPayloadBits = 1<<16 - 1

	// MaxPayloadBytes is the largest amount of whole bytes a single Header can describe.
	MaxPayloadBytes = MaxPayloadBits / 8
)

// Header precedes each message within a datagram:
//
//	type (8 bits) | fragment flag (1 bit) | sequence number (15 bits) | payload length in bits (16 bits)
//
// The payload follows as whole bytes.
type Header struct {
	Type        Type
	IsFragment  bool
	Sequence    int
	PayloadBits int
}

func (h Header) String() string {
	return fmt.Sprintf("Header(type=%v, fragment=%t, seq=%d, bits=%d)", h.Type, h.IsFragment, h.Sequence, h.PayloadBits)
}

// PayloadBytes is the amount of whole bytes following this Header.
func (h Header) PayloadBytes() int {
	return (h.PayloadBits + 7) / 8
}

// WriteTo appends this Header to a Buffer.
func (h Header) WriteTo(b *Buffer) {
	if h.PayloadBits < 0 || h.PayloadBits > MaxPayloadBits {
		panic(fmt.Sprintf("message: payload of %d bits exceeds a header", h.PayloadBits))
	}

	b.WriteUInt8(uint8(h.Type))
	b.WriteBool(h.IsFragment)
	b.WriteBits(uint64(h.Sequence), 15)
	b.WriteUInt16(uint16(h.PayloadBits))
}

// ReadHeader parses the next Header of a Buffer and verifies the announced payload is available.
func ReadHeader(b *Buffer) (h Header, err error) {
	pos := b.Position()
	defer func() {
		if err != nil {
			_ = b.SetPosition(pos)
		}
	}()

	var t uint8
	if t, err = b.ReadUInt8(); err != nil {
		return
	}
	h.Type = Type(t)

	if h.IsFragment, err = b.ReadBool(); err != nil {
		return
	}

	var seq uint32
	if seq, err = b.ReadUInt32Bits(15); err != nil {
		return
	}
	h.Sequence = int(seq)

	var bits uint16
	if bits, err = b.ReadUInt16(); err != nil {
		return
	}
	h.PayloadBits = int(bits)

	if h.PayloadBytes()*8 > b.RemainingBits() {
		err = fmt.Errorf("%w: %v announces %d bytes, %d bits left",
			ErrBufferOverflow, h, h.PayloadBytes(), b.RemainingBits())
	}
	return
}

// AppendMessage writes a Header and the payload of m into a datagram Buffer.
func AppendMessage(datagram *Buffer, t Type, sequence int, m *Outgoing) {
	Header{
		Type:        t,
		IsFragment:  m.IsFragment(),
		Sequence:    sequence,
		PayloadBits: m.LengthBits(),
	}.WriteTo(datagram)
	datagram.WriteBytes(m.Data())
}

// EncodedSize is the amount of datagram bytes AppendMessage needs for m.
func EncodedSize(m *Outgoing) int {
	return HeaderSize + m.LengthBytes()
}
