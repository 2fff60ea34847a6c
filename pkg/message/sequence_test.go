// SPDX-FileCopyrightText: 2024 The peernet Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package message

import (
	"testing"
)

func TestRelativeSequenceNumber(t *testing.T) {
	tests := []struct {
		nr, expected, relative int
	}{
		{0, 0, 0},
		{5, 3, 2},
		{3, 5, -2},
		{0, 1023, 1},
		{1023, 0, -1},
		{512, 0, 512},
		{513, 0, -511},
		{10, 522, 512},
	}

	for _, test := range tests {
		if r := RelativeSequenceNumber(test.nr, test.expected); r != test.relative {
			t.Fatalf("relative(%d, %d) = %d, expected %d", test.nr, test.expected, r, test.relative)
		}
	}
}

func TestRelativeSequenceNumberRange(t *testing.T) {
	for nr := 0; nr < NumSequenceNumbers; nr += 7 {
		for expected := 0; expected < NumSequenceNumbers; expected += 13 {
			r := RelativeSequenceNumber(nr, expected)
			if r <= -NumSequenceNumbers/2 || r > NumSequenceNumbers/2 {
				t.Fatalf("relative(%d, %d) = %d is out of range", nr, expected, r)
			}
			if (expected+r+NumSequenceNumbers)%NumSequenceNumbers != nr {
				t.Fatalf("relative(%d, %d) = %d does not lead back", nr, expected, r)
			}
		}
	}
}

func TestSequenceDistance(t *testing.T) {
	if d := SequenceDistance(1020, 3); d != 7 {
		t.Fatalf("distance is %d", d)
	}
	if d := SequenceDistance(3, 3); d != 0 {
		t.Fatalf("distance is %d", d)
	}
	if n := NextSequenceNumber(NumSequenceNumbers - 1); n != 0 {
		t.Fatalf("successor is %d", n)
	}
}
