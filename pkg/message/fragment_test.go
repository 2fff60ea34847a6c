// SPDX-FileCopyrightText: 2024 The peernet Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package message

import (
	"testing"
)

func TestFragmentHeaderRoundTrip(t *testing.T) {
	fh := FragmentHeader{Group: 300, TotalBits: 8 * 5000, ChunkByteSize: 1200, ChunkNumber: 4}

	b := NewBuffer(16)
	fh.WriteTo(b)
	if b.LengthBytes() != fh.Size() {
		t.Fatalf("encoded %d bytes, Size says %d", b.LengthBytes(), fh.Size())
	}

	read, err := ReadFragmentHeader(b)
	if err != nil {
		t.Fatal(err)
	} else if read != fh {
		t.Fatalf("expected %v, got %v", fh, read)
	}

	if fh.Chunks() != 5 {
		t.Fatalf("expected 5 chunks, got %d", fh.Chunks())
	}
}

func TestFragmentHeaderInvalid(t *testing.T) {
	tests := []FragmentHeader{
		{Group: 1, TotalBits: 80, ChunkByteSize: 0, ChunkNumber: 0},
		{Group: 1, TotalBits: 0, ChunkByteSize: 10, ChunkNumber: 0},
		{Group: 1, TotalBits: 80, ChunkByteSize: 5, ChunkNumber: 2},
	}

	for _, fh := range tests {
		b := NewBuffer(8)
		fh.WriteTo(b)

		if _, err := ReadFragmentHeader(b); err == nil {
			t.Fatalf("%v was accepted", fh)
		} else if b.Position() != 0 {
			t.Fatalf("failed read moved the cursor to %d", b.Position())
		}
	}
}

func TestBestChunkSize(t *testing.T) {
	for _, mtu := range []int{64, 508, 1408, 9000} {
		for _, total := range []int{100, 4096, 100000} {
			size := BestChunkSize(7, total, mtu)
			chunks := (total + size - 1) / size

			fh := FragmentHeader{Group: 7, TotalBits: uint32(total * 8), ChunkByteSize: uint32(size), ChunkNumber: uint32(chunks - 1)}
			if HeaderSize+fh.Size()+size > mtu {
				t.Fatalf("mtu %d, total %d: chunk size %d does not fit", mtu, total, size)
			}

			larger := FragmentHeader{Group: 7, TotalBits: uint32(total * 8), ChunkByteSize: uint32(size + 1), ChunkNumber: uint32(chunks)}
			if larger.Size()+size+1 <= MaxPayloadBytes && HeaderSize+larger.Size()+size+1 <= mtu {
				t.Fatalf("mtu %d, total %d: chunk size %d is not the best", mtu, total, size)
			}
		}
	}
}
