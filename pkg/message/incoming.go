// SPDX-FileCopyrightText: 2024 The peernet Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package message

import (
	"fmt"
	"net"
	"time"
)

// Incoming is a received message. Its read cursor starts at the payload.
type Incoming struct {
	Buffer

	// Type of the message as read from its Header.
	Type Type
	// SequenceNumber of a user message, meaningless otherwise.
	SequenceNumber int
	// IsFragment marks a chunk of a fragmented message.
	IsFragment bool

	// Sender is the remote endpoint this message was received from.
	Sender *net.UDPAddr
	// ReceiveTime is the moment the containing datagram was read from the socket.
	ReceiveTime time.Time
}

// NewIncoming creates an Incoming for a payload of bitLength bits. The data slice is owned by the Incoming afterwards.
func NewIncoming(h Header, data []byte, sender *net.UDPAddr, receiveTime time.Time) *Incoming {
	m := &Incoming{
		Type:           h.Type,
		SequenceNumber: h.Sequence,
		IsFragment:     h.IsFragment,
		Sender:         sender,
		ReceiveTime:    receiveTime,
	}
	m.reset(data, h.PayloadBits)
	return m
}

// DeliveryMethod of this message's Type.
func (m *Incoming) DeliveryMethod() DeliveryMethod {
	return m.Type.DeliveryMethod()
}

// SequenceChannel of this message's Type.
func (m *Incoming) SequenceChannel() int {
	return m.Type.SequenceChannel()
}

func (m *Incoming) String() string {
	return fmt.Sprintf("Incoming(type=%v, seq=%d, fragment=%t, bits=%d, sender=%v)",
		m.Type, m.SequenceNumber, m.IsFragment, m.LengthBits(), m.Sender)
}
