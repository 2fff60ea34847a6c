// SPDX-FileCopyrightText: 2024 The peernet Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package message

import (
	"fmt"
)

// FragmentHeader prefixes the payload of each chunk of a fragmented message. All fields are variable length
// encoded.
type FragmentHeader struct {
	// Group identifies all chunks of the same message.
	Group uint32
	// TotalBits is the length of the reassembled message.
	TotalBits uint32
	// ChunkByteSize is the payload size of each chunk except the last one.
	ChunkByteSize uint32
	// ChunkNumber is this chunk's index within its Group.
	ChunkNumber uint32
}

func (fh FragmentHeader) String() string {
	return fmt.Sprintf("FragmentHeader(group=%d, bits=%d, chunk-size=%d, chunk=%d/%d)",
		fh.Group, fh.TotalBits, fh.ChunkByteSize, fh.ChunkNumber, fh.Chunks())
}

// Chunks is the total amount of chunks of this fragment group.
func (fh FragmentHeader) Chunks() int {
	if fh.ChunkByteSize == 0 {
		return 0
	}
	totalBytes := (int(fh.TotalBits) + 7) / 8
	return (totalBytes + int(fh.ChunkByteSize) - 1) / int(fh.ChunkByteSize)
}

// Size in bytes of this FragmentHeader's encoding.
func (fh FragmentHeader) Size() int {
	return VariableUIntSize(uint64(fh.Group)) +
		VariableUIntSize(uint64(fh.TotalBits)) +
		VariableUIntSize(uint64(fh.ChunkByteSize)) +
		VariableUIntSize(uint64(fh.ChunkNumber))
}

// WriteTo appends this FragmentHeader to a Buffer.
func (fh FragmentHeader) WriteTo(b *Buffer) {
	b.WriteVariableUInt32(fh.Group)
	b.WriteVariableUInt32(fh.TotalBits)
	b.WriteVariableUInt32(fh.ChunkByteSize)
	b.WriteVariableUInt32(fh.ChunkNumber)
}

// ReadFragmentHeader parses and validates a FragmentHeader.
func ReadFragmentHeader(b *Buffer) (fh FragmentHeader, err error) {
	pos := b.Position()
	defer func() {
		if err != nil {
			_ = b.SetPosition(pos)
		}
	}()

	for _, field := range []*uint32{&fh.Group, &fh.TotalBits, &fh.ChunkByteSize, &fh.ChunkNumber} {
		if *field, err = b.ReadVariableUInt32(); err != nil {
			return
		}
	}

	switch {
	case fh.ChunkByteSize == 0:
		err = fmt.Errorf("message: %v has an empty chunk size", fh)
	case fh.TotalBits == 0:
		err = fmt.Errorf("message: %v describes an empty message", fh)
	case int(fh.ChunkNumber) >= fh.Chunks():
		err = fmt.Errorf("message: %v chunk number is out of range", fh)
	}
	return
}

// BestChunkSize calculates the largest chunk payload such that a chunk, including its Header and FragmentHeader,
// fits into the MTU.
func BestChunkSize(group uint32, totalBytes, mtu int) int {
	chunkSize := mtu - HeaderSize - 4
	if chunkSize > MaxPayloadBytes {
		chunkSize = MaxPayloadBytes
	}

	for ; chunkSize > 1; chunkSize-- {
		chunks := (totalBytes + chunkSize - 1) / chunkSize
		fh := FragmentHeader{
			Group:         group,
			TotalBits:     uint32(totalBytes * 8),
			ChunkByteSize: uint32(chunkSize),
			ChunkNumber:   uint32(chunks),
		}
		if HeaderSize+fh.Size()+chunkSize <= mtu && fh.Size()+chunkSize <= MaxPayloadBytes {
			return chunkSize
		}
	}
	return 1
}
