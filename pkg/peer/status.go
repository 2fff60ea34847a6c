// SPDX-FileCopyrightText: 2024 The peernet Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package peer

// Status of a Connection's life cycle.
//
// An initiating Connection moves from None over InitiatedConnect to Connected, while an accepted one moves over
// ReceivedInitiation and RespondedConnect. Every state might switch to Disconnecting on request or on protocol
// violations. Disconnected is terminal.
type Status int32

const (
	None Status = iota
	InitiatedConnect
	ReceivedInitiation
	RespondedConnect
	Connected
	Disconnecting
	Disconnected
)

func (s Status) String() string {
	switch s {
	case None:
		return "none"
	case InitiatedConnect:
		return "initiated connect"
	case ReceivedInitiation:
		return "received initiation"
	case RespondedConnect:
		return "responded connect"
	case Connected:
		return "connected"
	case Disconnecting:
		return "disconnecting"
	case Disconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

// IsHandshaking reports if the Connection is still establishing.
func (s Status) IsHandshaking() bool {
	return s == InitiatedConnect || s == ReceivedInitiation || s == RespondedConnect
}
