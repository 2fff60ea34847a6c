// SPDX-FileCopyrightText: 2024 The peernet Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package channel

import (
	"time"

	"github.com/dtn7/peernet/pkg/message"
)

// Link is the Connection side of a channel pair.
type Link interface {
	// QueueSend writes a sequenced message into the Connection's next datagram. The message's bytes are copied,
	// so the caller might release it afterwards.
	QueueSend(t message.Type, seq int, m *message.Outgoing, resend bool)

	// QueueAck schedules an acknowledgment for a received message.
	QueueAck(t message.Type, seq int)

	// Deliver hands a received message over to the application, or to fragment reassembly.
	Deliver(m *message.Incoming)

	// Release drops one holder reference of a message, returning it to its pool after the last release.
	Release(m *message.Outgoing)

	// RequestFlush asks for a send pump cycle. Multiple requests before the next cycle are merged.
	RequestFlush()

	// MTU is the current maximum transmission unit in bytes.
	MTU() int

	// ResendDelay is the time to wait for an acknowledgment before a reliable message is sent again.
	ResendDelay() time.Duration

	// DropAboveMTU reports if unreliable messages exceeding the MTU should be dropped.
	DropAboveMTU() bool
}
