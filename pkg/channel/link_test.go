// SPDX-FileCopyrightText: 2024 The peernet Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package channel

import (
	"time"

	"github.com/dtn7/peernet/pkg/message"
)

type sentMessage struct {
	t      message.Type
	seq    int
	data   string
	resend bool
}

type ackedMessage struct {
	t   message.Type
	seq int
}

// testLink records every interaction of a channel pair.
type testLink struct {
	pool *message.Pool

	sent      []sentMessage
	acks      []ackedMessage
	delivered []*message.Incoming
	flushes   int

	mtu          int
	resendDelay  time.Duration
	dropAboveMTU bool
}

func newTestLink() *testLink {
	return &testLink{
		pool:        message.NewPool(16, 32),
		mtu:         1400,
		resendDelay: 100 * time.Millisecond,
	}
}

func (l *testLink) QueueSend(t message.Type, seq int, m *message.Outgoing, resend bool) {
	l.sent = append(l.sent, sentMessage{t: t, seq: seq, data: string(m.Data()), resend: resend})
}

func (l *testLink) QueueAck(t message.Type, seq int) {
	l.acks = append(l.acks, ackedMessage{t: t, seq: seq})
}

func (l *testLink) Deliver(m *message.Incoming) {
	l.delivered = append(l.delivered, m)
}

func (l *testLink) Release(m *message.Outgoing) { l.pool.Release(m) }
func (l *testLink) RequestFlush() { l.flushes++ }
func (l *testLink) MTU() int { return l.mtu }
func (l *testLink) ResendDelay() time.Duration { return l.resendDelay }
func (l *testLink) DropAboveMTU() bool { return l.dropAboveMTU }

// outgoing creates a message with a single sender channel holder.
func (l *testLink) outgoing(payload string) *message.Outgoing {
	m := l.pool.Get()
	m.WriteBytes([]byte(payload))
	m.Retain(1)
	return m
}

func (l *testLink) deliveredSequences() (seqs []int) {
	for _, m := range l.delivered {
		seqs = append(seqs, m.SequenceNumber)
	}
	return
}

func incoming(t message.Type, seq int) *message.Incoming {
	return message.NewIncoming(message.Header{Type: t, Sequence: seq, PayloadBits: 8}, []byte{byte(seq)}, nil, time.Now())
}
