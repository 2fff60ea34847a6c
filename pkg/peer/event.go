// SPDX-FileCopyrightText: 2024 The peernet Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package peer

import (
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/dtn7/peernet/pkg/message"
)

// EventType indicates the kind of an Event. The types are bit flags to be combined for
// Configuration.SuppressedEvents.
type EventType uint

const (
	// StatusChanged shows a Connection's new Status. Reason holds an explanation, e.g., a remote's
	// disconnect reason.
	StatusChanged EventType = 1 << iota

	// Data carries a user message in Message, received over Connection.
	Data

	// UnconnectedData carries a message from an endpoint without a Connection.
	UnconnectedData

	// ConnectionApproval asks for Connection.Approve or Connection.Deny of an incoming Connection. Message
	// holds the remote's hail message, if any.
	ConnectionApproval

	// DiscoveryRequest shows a discovery by the remote at Sender, which might be answered with
	// Peer.SendDiscoveryResponse.
	DiscoveryRequest

	// DiscoveryResponse carries a discovered peer's response in Message.
	DiscoveryResponse

	// ConnectionLatencyUpdated reports a Connection's new average round trip time in Latency.
	ConnectionLatencyUpdated

	// Error reports a non-fatal problem in Err.
	Error
)

func (et EventType) String() string {
	switch et {
	case StatusChanged:
		return "status changed"
	case Data:
		return "data"
	case UnconnectedData:
		return "unconnected data"
	case ConnectionApproval:
		return "connection approval"
	case DiscoveryRequest:
		return "discovery request"
	case DiscoveryResponse:
		return "discovery response"
	case ConnectionLatencyUpdated:
		return "connection latency updated"
	case Error:
		return "error"
	default:
		return fmt.Sprintf("EventType(%d)", uint(et))
	}
}

// Event is raised by a Peer through its Events channel.
type Event struct {
	Type EventType

	// Connection concerned by this Event, nil for unconnected events.
	Connection *Connection
	// Sender is the remote endpoint.
	Sender *net.UDPAddr

	Message *message.Incoming
	Status  Status
	Reason  string
	Latency time.Duration
	Err     error
}

func (e Event) String() string {
	switch e.Type {
	case StatusChanged:
		return fmt.Sprintf("%v event from %v: %v (%s)", e.Type, e.Sender, e.Status, e.Reason)
	case ConnectionLatencyUpdated:
		return fmt.Sprintf("%v event from %v: %v", e.Type, e.Sender, e.Latency)
	case Error:
		return fmt.Sprintf("%v event: %v", e.Type, e.Err)
	default:
		return fmt.Sprintf("%v event from %v", e.Type, e.Sender)
	}
}

// eventQueue decouples the transport goroutine from the Events consumer. It never blocks on push and hands out
// each Event exactly once.
type eventQueue struct {
	mutex   sync.Mutex
	pending []Event
	closed  bool

	notify chan struct{}
	out    chan Event
}

func newEventQueue() *eventQueue {
	eq := &eventQueue{
		notify: make(chan struct{}, 1),
		out:    make(chan Event),
	}

	go eq.handler()

	return eq
}

func (eq *eventQueue) push(e Event) {
	eq.mutex.Lock()
	if eq.closed {
		eq.mutex.Unlock()
		return
	}
	eq.pending = append(eq.pending, e)
	eq.mutex.Unlock()

	select {
	case eq.notify <- struct{}{}:
	default:
	}
}

// close accepts no further Events. The outgoing channel is closed after the remaining Events were consumed.
func (eq *eventQueue) close() {
	eq.mutex.Lock()
	eq.closed = true
	eq.mutex.Unlock()

	select {
	case eq.notify <- struct{}{}:
	default:
	}
}

func (eq *eventQueue) handler() {
	defer close(eq.out)

	for {
		eq.mutex.Lock()
		batch, closed := eq.pending, eq.closed
		eq.pending = nil
		eq.mutex.Unlock()

		for _, e := range batch {
			eq.out <- e
		}

		if len(batch) == 0 {
			if closed {
				return
			}
			<-eq.notify
		}
	}
}
