// SPDX-FileCopyrightText: 2024 The peernet Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package channel

import (
	"fmt"

	log "github.com/sirupsen/logrus"
	"github.com/willf/bitset"

	"github.com/dtn7/peernet/pkg/message"
)

// Receiver is the receiving half of a channel pair. Its behavior depends on the delivery method.
type Receiver struct {
	method  message.DeliveryMethod
	msgType message.Type
	link    Link

	windowSize int
	sendAcks   bool

	// windowStart is the next expected sequence number of reliable receivers.
	windowStart int
	// lastReceived is the latest delivered sequence number of an UnreliableSequenced receiver.
	lastReceived int

	// earlyReceived marks slots within the window which arrived ahead of windowStart, indexed by seq%windowSize.
	earlyReceived *bitset.BitSet
	// withheld keeps early ReliableOrdered messages until the gap before them is closed.
	withheld []*message.Incoming
}

// NewReceiver for a delivery method's sequence channel. Acknowledgments may only be suppressed for unreliable
// delivery.
func NewReceiver(link Link, method message.DeliveryMethod, sequenceChannel, windowSize int, sendAcks bool) *Receiver {
	msgType, err := message.TypeFor(method, sequenceChannel)
	if err != nil {
		panic(err)
	}
	if windowSize < 1 || windowSize > message.NumSequenceNumbers/2 || windowSize&(windowSize-1) != 0 {
		panic(fmt.Sprintf("channel: invalid window size %d", windowSize))
	}
	if !sendAcks && method != message.Unreliable {
		panic(fmt.Sprintf("channel: %v requires acknowledgments", method))
	}

	r := &Receiver{
		method:     method,
		msgType:    msgType,
		link:       link,
		windowSize: windowSize,
		sendAcks:   sendAcks,
	}

	switch method {
	case message.ReliableUnordered:
		r.earlyReceived = bitset.New(uint(windowSize))
	case message.ReliableOrdered:
		r.earlyReceived = bitset.New(uint(windowSize))
		r.withheld = make([]*message.Incoming, windowSize)
	}

	r.Reset()
	return r
}

func (r *Receiver) log() *log.Entry {
	return log.WithFields(log.Fields{
		"channel":      r.msgType,
		"window-start": r.windowStart,
	})
}

func (r *Receiver) String() string {
	return fmt.Sprintf("Receiver(%v, window=%d/%d)", r.msgType, r.windowStart, r.windowSize)
}

// Type of the messages handled by this Receiver.
func (r *Receiver) Type() message.Type {
	return r.msgType
}

// WindowStart is the next expected sequence number.
func (r *Receiver) WindowStart() int {
	return r.windowStart
}

// Reset forgets all received state, e.g., for a new connection.
func (r *Receiver) Reset() {
	r.windowStart = 0
	r.lastReceived = message.NumSequenceNumbers - 1

	if r.earlyReceived != nil {
		r.earlyReceived.ClearAll()
	}
	for i := range r.withheld {
		r.withheld[i] = nil
	}
}

// Receive a message of this channel.
func (r *Receiver) Receive(m *message.Incoming) {
	switch r.method {
	case message.Unreliable:
		r.receiveUnreliable(m)
	case message.UnreliableSequenced:
		r.receiveUnreliableSequenced(m)
	case message.ReliableUnordered:
		r.receiveReliableUnordered(m)
	case message.ReliableSequenced:
		r.receiveReliableSequenced(m)
	case message.ReliableOrdered:
		r.receiveReliableOrdered(m)
	default:
		panic(fmt.Sprintf("channel: receiver for %v", r.method))
	}
}

func (r *Receiver) drop(m *message.Incoming, reason string) {
	r.log().WithFields(log.Fields{
		"sequence": m.SequenceNumber,
		"sender":   m.Sender,
	}).Trace(reason)
}

func (r *Receiver) receiveUnreliable(m *message.Incoming) {
	if r.sendAcks {
		r.link.QueueAck(r.msgType, m.SequenceNumber)
	}
	r.link.Deliver(m)
}

func (r *Receiver) receiveUnreliableSequenced(m *message.Incoming) {
	r.link.QueueAck(r.msgType, m.SequenceNumber)

	if message.RelativeSequenceNumber(m.SequenceNumber, message.NextSequenceNumber(r.lastReceived)) < 0 {
		r.drop(m, "Dropping late sequenced message")
		return
	}

	r.lastReceived = m.SequenceNumber
	r.link.Deliver(m)
}

// admit classifies a reliable message against the window. Late messages are acknowledged again, as the original
// acknowledgment might have been lost. Messages beyond the window are not acknowledged, so the sender resends
// them later.
func (r *Receiver) admit(m *message.Incoming) (relate int, ok bool) {
	relate = message.RelativeSequenceNumber(m.SequenceNumber, r.windowStart)

	switch {
	case relate < 0:
		r.link.QueueAck(r.msgType, m.SequenceNumber)
		r.drop(m, "Dropping late or duplicate reliable message")
		return relate, false

	case relate >= r.windowSize:
		r.drop(m, "Dropping reliable message beyond the window")
		return relate, false

	default:
		r.link.QueueAck(r.msgType, m.SequenceNumber)
		return relate, true
	}
}

func (r *Receiver) advance() {
	r.windowStart = message.NextSequenceNumber(r.windowStart)
}

func (r *Receiver) receiveReliableUnordered(m *message.Incoming) {
	relate, ok := r.admit(m)
	if !ok {
		return
	}

	if relate == 0 {
		r.advance()
		for slot := uint(r.windowStart % r.windowSize); r.earlyReceived.Test(slot); slot = uint(r.windowStart % r.windowSize) {
			r.earlyReceived.Clear(slot)
			r.advance()
		}
		r.link.Deliver(m)
		return
	}

	slot := uint(m.SequenceNumber % r.windowSize)
	if r.earlyReceived.Test(slot) {
		r.drop(m, "Dropping duplicate early reliable message")
		return
	}
	r.earlyReceived.Set(slot)
	r.link.Deliver(m)
}

func (r *Receiver) receiveReliableSequenced(m *message.Incoming) {
	if _, ok := r.admit(m); !ok {
		return
	}

	// Newer messages supersede the gap before them.
	r.windowStart = message.NextSequenceNumber(m.SequenceNumber)
	r.link.Deliver(m)
}

func (r *Receiver) receiveReliableOrdered(m *message.Incoming) {
	relate, ok := r.admit(m)
	if !ok {
		return
	}

	if relate > 0 {
		slot := m.SequenceNumber % r.windowSize
		if r.earlyReceived.Test(uint(slot)) {
			r.drop(m, "Dropping duplicate withheld message")
			return
		}
		r.earlyReceived.Set(uint(slot))
		r.withheld[slot] = m
		return
	}

	r.advance()
	r.link.Deliver(m)

	for slot := r.windowStart % r.windowSize; r.earlyReceived.Test(uint(slot)); slot = r.windowStart % r.windowSize {
		withheld := r.withheld[slot]
		r.withheld[slot] = nil
		r.earlyReceived.Clear(uint(slot))
		r.advance()
		r.link.Deliver(withheld)
	}
}

// Withheld is the amount of ReliableOrdered messages waiting for an earlier one.
func (r *Receiver) Withheld() int {
	if r.earlyReceived == nil || r.withheld == nil {
		return 0
	}
	return int(r.earlyReceived.Count())
}
