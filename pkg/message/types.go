// SPDX-FileCopyrightText: 2024 The peernet Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package message

import (
	"errors"
	"fmt"
)

// MaxSequenceChannels is the amount of sequence channels for the delivery methods supporting multiple channels.
const MaxSequenceChannels = 32

// ErrInvalidSequenceChannel is returned for a sequence channel which does not exist for a DeliveryMethod.
var ErrInvalidSequenceChannel = errors.New("invalid sequence channel")

// DeliveryMethod describes the guarantees for the delivery of a user message. Its value is the Type of the
// message on the first sequence channel.
type DeliveryMethod uint8

const (
	// Unknown is no valid DeliveryMethod.
	Unknown DeliveryMethod = 0

	// Unreliable messages might be lost, duplicated or arrive out of order.
	Unreliable DeliveryMethod = DeliveryMethod(UserUnreliable)

	// UnreliableSequenced messages might be lost, but late messages are dropped.
	UnreliableSequenced DeliveryMethod = DeliveryMethod(UserSequenced1)

	// ReliableUnordered messages arrive exactly once, in any order.
	ReliableUnordered DeliveryMethod = DeliveryMethod(UserReliableUnordered)

	// ReliableSequenced messages are retransmitted, but older ones are dropped once a newer one arrived.
	ReliableSequenced DeliveryMethod = DeliveryMethod(UserReliableSequenced1)

	// ReliableOrdered messages arrive exactly once and in the order they were sent.
	ReliableOrdered DeliveryMethod = DeliveryMethod(UserReliableOrdered1)
)

// DeliveryMethods lists all valid DeliveryMethods.
var DeliveryMethods = []DeliveryMethod{
	Unreliable, UnreliableSequenced, ReliableUnordered, ReliableSequenced, ReliableOrdered,
}

func (dm DeliveryMethod) String() string {
	switch dm {
	case Unreliable:
		return "unreliable"
	case UnreliableSequenced:
		return "unreliable-sequenced"
	case ReliableUnordered:
		return "reliable-unordered"
	case ReliableSequenced:
		return "reliable-sequenced"
	case ReliableOrdered:
		return "reliable-ordered"
	default:
		return "unknown"
	}
}

// ParseDeliveryMethod is the inverse of DeliveryMethod's String method.
func ParseDeliveryMethod(s string) (DeliveryMethod, error) {
	for _, dm := range DeliveryMethods {
		if dm.String() == s {
			return dm, nil
		}
	}
	return Unknown, fmt.Errorf("unknown delivery method %q", s)
}

// IsValid checks if this DeliveryMethod is a known one.
func (dm DeliveryMethod) IsValid() bool {
	switch dm {
	case Unreliable, UnreliableSequenced, ReliableUnordered, ReliableSequenced, ReliableOrdered:
		return true
	default:
		return false
	}
}

// IsReliable is true for all DeliveryMethods with retransmissions.
func (dm DeliveryMethod) IsReliable() bool {
	return dm == ReliableUnordered || dm == ReliableSequenced || dm == ReliableOrdered
}

// SequenceChannels returns the amount of independent sequence channels for this DeliveryMethod.
func (dm DeliveryMethod) SequenceChannels() int {
	switch dm {
	case Unreliable, ReliableUnordered:
		return 1
	case UnreliableSequenced, ReliableSequenced, ReliableOrdered:
		return MaxSequenceChannels
	default:
		return 0
	}
}

// Type is the first byte of each message within a datagram. User types encode both DeliveryMethod and sequence
// channel as deliveryMethodBase + sequenceChannel, library types are used by the transport itself.
type Type uint8

const (
	Unconnected            Type = 0
	UserUnreliable         Type = 1
	UserSequenced1         Type = 2
	UserReliableUnordered  Type = 34
	UserReliableSequenced1 Type = 35
	UserReliableOrdered1   Type = 67

	LibraryError          Type = 128
	Ping                  Type = 129
	Pong                  Type = 130
	Connect               Type = 131
	ConnectResponse       Type = 132
	ConnectionEstablished Type = 133
	Acknowledge           Type = 134
	Disconnect            Type = 135
	Discovery             Type = 136
	DiscoveryResponse     Type = 137
	ExpandMTURequest      Type = 138
	ExpandMTUSuccess      Type = 139
)

// TypeFor calculates the Type for a DeliveryMethod and a sequence channel.
func TypeFor(dm DeliveryMethod, sequenceChannel int) (Type, error) {
	if !dm.IsValid() {
		return 0, fmt.Errorf("%w: delivery method %d", ErrInvalidSequenceChannel, dm)
	}
	if sequenceChannel < 0 || sequenceChannel >= dm.SequenceChannels() {
		return 0, fmt.Errorf("%w: %d for %v", ErrInvalidSequenceChannel, sequenceChannel, dm)
	}
	return Type(dm) + Type(sequenceChannel), nil
}

// IsLibrary is true for transport internal types.
func (t Type) IsLibrary() bool {
	return t >= LibraryError
}

// IsUser is true for the types of user data carried by channels.
func (t Type) IsUser() bool {
	return t >= UserUnreliable && t < UserReliableOrdered1+MaxSequenceChannels
}

// DeliveryMethod of a user Type or Unknown for any other Type.
func (t Type) DeliveryMethod() DeliveryMethod {
	switch {
	case t == UserUnreliable:
		return Unreliable
	case t >= UserSequenced1 && t < UserSequenced1+MaxSequenceChannels:
		return UnreliableSequenced
	case t == UserReliableUnordered:
		return ReliableUnordered
	case t >= UserReliableSequenced1 && t < UserReliableSequenced1+MaxSequenceChannels:
		return ReliableSequenced
	case t >= UserReliableOrdered1 && t < UserReliableOrdered1+MaxSequenceChannels:
		return ReliableOrdered
	default:
		return Unknown
	}
}

// SequenceChannel of a user Type; zero for any other Type.
func (t Type) SequenceChannel() int {
	if dm := t.DeliveryMethod(); dm != Unknown {
		return int(t - Type(dm))
	}
	return 0
}

func (t Type) String() string {
	switch t {
	case Unconnected:
		return "Unconnected"
	case LibraryError:
		return "LibraryError"
	case Ping:
		return "Ping"
	case Pong:
		return "Pong"
	case Connect:
		return "Connect"
	case ConnectResponse:
		return "ConnectResponse"
	case ConnectionEstablished:
		return "ConnectionEstablished"
	case Acknowledge:
		return "Acknowledge"
	case Disconnect:
		return "Disconnect"
	case Discovery:
		return "Discovery"
	case DiscoveryResponse:
		return "DiscoveryResponse"
	case ExpandMTURequest:
		return "ExpandMTURequest"
	case ExpandMTUSuccess:
		return "ExpandMTUSuccess"
	}

	if dm := t.DeliveryMethod(); dm != Unknown {
		return fmt.Sprintf("%v#%d", dm, t.SequenceChannel())
	}
	return fmt.Sprintf("Type(%d)", uint8(t))
}
