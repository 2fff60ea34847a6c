// SPDX-FileCopyrightText: 2024 The peernet Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package channel

import (
	"reflect"
	"testing"
	"time"

	"github.com/dtn7/peernet/pkg/message"
)

func receiveAll(r *Receiver, seqs ...int) {
	for _, seq := range seqs {
		r.Receive(incoming(r.Type(), seq))
	}
}

func TestReceiverUnreliable(t *testing.T) {
	tests := []struct {
		sendAcks bool
		acks     int
	}{
		{true, 3},
		{false, 0},
	}

	for _, test := range tests {
		link := newTestLink()
		r := NewReceiver(link, message.Unreliable, 0, 4, test.sendAcks)
		receiveAll(r, 2, 0, 2)

		if !reflect.DeepEqual(link.deliveredSequences(), []int{2, 0, 2}) {
			t.Fatalf("delivered %v", link.deliveredSequences())
		}
		if len(link.acks) != test.acks {
			t.Fatalf("sent %d acknowledgments, expected %d", len(link.acks), test.acks)
		}
	}
}

func TestReceiverUnreliableSequenced(t *testing.T) {
	link := newTestLink()
	r := NewReceiver(link, message.UnreliableSequenced, 5, 4, true)
	receiveAll(r, 0, 2, 1, 3, 3, 900)

	if expected := []int{0, 2, 3}; !reflect.DeepEqual(link.deliveredSequences(), expected) {
		t.Fatalf("delivered %v, expected %v", link.deliveredSequences(), expected)
	}
	if len(link.acks) != 6 {
		t.Fatalf("sent %d acknowledgments", len(link.acks))
	}
	if link.acks[0].t != message.UserSequenced1+5 {
		t.Fatalf("acknowledged type %v", link.acks[0].t)
	}
}

func TestReceiverReliableUnordered(t *testing.T) {
	link := newTestLink()
	r := NewReceiver(link, message.ReliableUnordered, 0, 4, true)
	receiveAll(r, 1, 1, 3, 0, 0, 2, 4, 9)

	if expected := []int{1, 3, 0, 2, 4}; !reflect.DeepEqual(link.deliveredSequences(), expected) {
		t.Fatalf("delivered %v, expected %v", link.deliveredSequences(), expected)
	}
	if r.WindowStart() != 5 {
		t.Fatalf("window start is %d", r.WindowStart())
	}

	// Everything but the message beyond the window was acknowledged, duplicates included.
	if len(link.acks) != 7 {
		t.Fatalf("sent %d acknowledgments", len(link.acks))
	}
}

func TestReceiverReliableSequenced(t *testing.T) {
	link := newTestLink()
	r := NewReceiver(link, message.ReliableSequenced, 0, 8, true)
	receiveAll(r, 0, 3, 1, 2, 4, 4, 6)

	if expected := []int{0, 3, 4, 6}; !reflect.DeepEqual(link.deliveredSequences(), expected) {
		t.Fatalf("delivered %v, expected %v", link.deliveredSequences(), expected)
	}
	if r.WindowStart() != 7 {
		t.Fatalf("window start is %d", r.WindowStart())
	}
}

func TestReceiverReliableOrdered(t *testing.T) {
	link := newTestLink()
	r := NewReceiver(link, message.ReliableOrdered, 2, 4, true)
	receiveAll(r, 2, 1, 2, 7)

	if len(link.delivered) != 0 || r.Withheld() != 2 {
		t.Fatalf("delivered %v, withheld %d", link.deliveredSequences(), r.Withheld())
	}

	receiveAll(r, 0)
	if expected := []int{0, 1, 2}; !reflect.DeepEqual(link.deliveredSequences(), expected) {
		t.Fatalf("delivered %v, expected %v", link.deliveredSequences(), expected)
	}

	receiveAll(r, 1, 3)
	if expected := []int{0, 1, 2, 3}; !reflect.DeepEqual(link.deliveredSequences(), expected) {
		t.Fatalf("delivered %v, expected %v", link.deliveredSequences(), expected)
	}
	if r.Withheld() != 0 || r.WindowStart() != 4 {
		t.Fatalf("withheld %d, window start %d", r.Withheld(), r.WindowStart())
	}
}

func TestReceiverReliableOrderedWrapAround(t *testing.T) {
	link := newTestLink()
	r := NewReceiver(link, message.ReliableOrdered, 0, 8, true)

	var expected []int
	for base := 0; base < 2*message.NumSequenceNumbers; base += 4 {
		seqs := []int{base + 3, base + 1, base + 2, base}
		for i := range seqs {
			seqs[i] %= message.NumSequenceNumbers
		}
		receiveAll(r, seqs...)

		for i := 0; i < 4; i++ {
			expected = append(expected, (base+i)%message.NumSequenceNumbers)
		}
	}

	if !reflect.DeepEqual(link.deliveredSequences(), expected) {
		t.Fatalf("delivery order broke on wrap around")
	}
}

func TestReceiverReset(t *testing.T) {
	link := newTestLink()
	r := NewReceiver(link, message.ReliableOrdered, 0, 4, true)
	receiveAll(r, 0, 2)
	r.Reset()

	if r.WindowStart() != 0 || r.Withheld() != 0 {
		t.Fatalf("reset left state behind: %v", r)
	}

	receiveAll(r, 0)
	if expected := []int{0, 0}; !reflect.DeepEqual(link.deliveredSequences(), expected) {
		t.Fatalf("delivered %v, expected %v", link.deliveredSequences(), expected)
	}
}

// TestChannelPair connects a Sender and a Receiver over a lossy, reordering medium.
func TestChannelPair(t *testing.T) {
	senderLink, receiverLink := newTestLink(), newTestLink()
	s := NewSender(senderLink, message.ReliableOrdered, 0, 16, true)
	r := NewReceiver(receiverLink, message.ReliableOrdered, 0, 16, true)

	const total = 500
	for i := 0; i < total; i++ {
		s.Enqueue(senderLink.outgoing(string(rune('a' + i%26))))
	}

	now := time.Now()
	for round := 0; round < 10000 && len(receiverLink.delivered) < total; round++ {
		now = now.Add(senderLink.resendDelay / 4)
		s.SendQueuedMessages(now)

		sent := senderLink.sent
		senderLink.sent = nil
		for i := len(sent) - 1; i >= 0; i-- {
			if (round+i)%5 == 0 {
				continue
			}
			m := sent[i]
			r.Receive(message.NewIncoming(message.Header{Type: m.t, Sequence: m.seq, PayloadBits: len(m.data) * 8},
				[]byte(m.data), nil, now))
		}

		acks := receiverLink.acks
		receiverLink.acks = nil
		for i, ack := range acks {
			if (round+i)%7 == 0 {
				continue
			}
			s.ReceiveAcknowledge(now, ack.seq)
		}
	}

	if len(receiverLink.delivered) != total {
		t.Fatalf("delivered %d of %d messages", len(receiverLink.delivered), total)
	}
	for i, m := range receiverLink.delivered {
		if string(m.Data()) != string(rune('a'+i%26)) {
			t.Fatalf("message %d has payload %q", i, m.Data())
		}
	}
}
