// SPDX-FileCopyrightText: 2024 The peernet Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package channel

// SendResult is the outcome of handing a message to the transport.
type SendResult int

const (
	// Sent messages were queued and will be transmitted.
	Sent SendResult = iota

	// Dropped messages were rejected by the admission control, e.g., because of a full window. This is not an
	// error, an unreliable message might simply get lost.
	Dropped

	// Failed messages could not be queued at all, e.g., because there is no connection to send them to.
	Failed
)

func (sr SendResult) String() string {
	switch sr {
	case Sent:
		return "sent"
	case Dropped:
		return "dropped"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// Merge combines the results of sending one message to multiple recipients. A single successful recipient
// makes the whole operation successful.
func (sr SendResult) Merge(other SendResult) SendResult {
	if other < sr {
		return other
	}
	return sr
}
