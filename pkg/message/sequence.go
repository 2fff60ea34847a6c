// SPDX-FileCopyrightText: 2024 The peernet Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package message

// NumSequenceNumbers is the modulus of all sequence numbers. It must be a power of two.
const NumSequenceNumbers = 1024

// RelativeSequenceNumber returns the signed distance from expected to nr, respecting the wraparound. The result
// lies within (-NumSequenceNumbers/2, NumSequenceNumbers/2]; a negative value marks nr as older than expected.
func RelativeSequenceNumber(nr, expected int) int {
	d := ((nr-expected)%NumSequenceNumbers + NumSequenceNumbers) % NumSequenceNumbers
	if d > NumSequenceNumbers/2 {
		d -= NumSequenceNumbers
	}
	return d
}

// NextSequenceNumber returns the successor of nr.
func NextSequenceNumber(nr int) int {
	return (nr + 1) % NumSequenceNumbers
}

// SequenceDistance is the unsigned distance from start forward to end, in [0, NumSequenceNumbers).
func SequenceDistance(start, end int) int {
	return ((end-start)%NumSequenceNumbers + NumSequenceNumbers) % NumSequenceNumbers
}
