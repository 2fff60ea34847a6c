// SPDX-FileCopyrightText: 2024 The peernet Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package channel

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/willf/bitset"

	"github.com/dtn7/peernet/pkg/message"
)

// unflowedAllowance is the allowance of a Sender without flow control per pump cycle.
const unflowedAllowance = 2

// unreliableAckTimeout is the multiple of the resend delay after which an unacknowledged unreliable message is
// considered lost and its window slot becomes free again.
const unreliableAckTimeout = 4

type storedMessage struct {
	msg      *message.Outgoing
	lastSent time.Time
	numSent  int
}

// Sender is the sending half of a channel pair.
type Sender struct {
	method  message.DeliveryMethod
	msgType message.Type
	link    Link

	windowSize    int
	doFlowControl bool

	// pointers packs windowStart (upper half) and sendStart (lower half) to be read consistently by Enqueue.
	pointers     atomic.Uint32
	receivedAcks *bitset.BitSet

	queueMutex sync.Mutex
	queue      []*message.Outgoing

	// stored holds reliable messages until acknowledged, unreliable ones only keep their send time.
	stored []storedMessage
}

// NewSender for a delivery method's sequence channel. The windowSize must be a power of two not exceeding half
// the sequence number space. Flow control may only be disabled for unreliable delivery.
func NewSender(link Link, method message.DeliveryMethod, sequenceChannel, windowSize int, doFlowControl bool) *Sender {
	msgType, err := message.TypeFor(method, sequenceChannel)
	if err != nil {
		panic(err)
	}
	if windowSize < 1 || windowSize > message.NumSequenceNumbers/2 || windowSize&(windowSize-1) != 0 {
		panic(fmt.Sprintf("channel: invalid window size %d", windowSize))
	}
	if !doFlowControl && method.IsReliable() {
		panic(fmt.Sprintf("channel: %v requires flow control", method))
	}

	return &Sender{
		method:        method,
		msgType:       msgType,
		link:          link,
		windowSize:    windowSize,
		doFlowControl: doFlowControl,
		receivedAcks:  bitset.New(message.NumSequenceNumbers),
		stored:        make([]storedMessage, windowSize),
	}
}

func (s *Sender) log() *log.Entry {
	ws, ss := s.load()
	return log.WithFields(log.Fields{
		"channel":      s.msgType,
		"window-start": ws,
		"send-start":   ss,
	})
}

func (s *Sender) String() string {
	ws, ss := s.load()
	return fmt.Sprintf("Sender(%v, window=%d/%d, send=%d)", s.msgType, ws, s.windowSize, ss)
}

func (s *Sender) load() (windowStart, sendStart int) {
	p := s.pointers.Load()
	return int(p >> 16), int(p & 0xffff)
}

// store may only be called by the transport goroutine.
func (s *Sender) store(windowStart, sendStart int) {
	s.pointers.Store(uint32(windowStart)<<16 | uint32(sendStart))
}

// Type of the messages sent through this Sender.
func (s *Sender) Type() message.Type {
	return s.msgType
}

// WindowStart is the oldest unacknowledged sequence number.
func (s *Sender) WindowStart() int {
	ws, _ := s.load()
	return ws
}

// SendStart is the next sequence number to be assigned.
func (s *Sender) SendStart() int {
	_, ss := s.load()
	return ss
}

// WindowSize is the maximum amount of unacknowledged messages.
func (s *Sender) WindowSize() int {
	return s.windowSize
}

// Capacity is the largest allowance GetAllowedSends ever reports.
func (s *Sender) Capacity() int {
	if !s.doFlowControl {
		return unflowedAllowance
	}
	return s.windowSize
}

// QueueLen is the amount of messages waiting for a sequence number.
func (s *Sender) QueueLen() int {
	s.queueMutex.Lock()
	defer s.queueMutex.Unlock()

	return len(s.queue)
}

// GetAllowedSends is the amount of messages which might be sent right now.
func (s *Sender) GetAllowedSends() int {
	if !s.doFlowControl {
		return unflowedAllowance
	}

	ws, ss := s.load()
	allowed := s.windowSize - message.SequenceDistance(ws, ss)
	if allowed < 0 || allowed > s.windowSize {
		panic(fmt.Sprintf("channel: %v allows %d sends", s, allowed))
	}
	return allowed
}

// Enqueue a message for sending. The Sender takes over one holder reference of m, which is released when the
// message is dropped, after its transmission or, for reliable delivery, after its acknowledgment.
//
// A message is Dropped when the queue would exceed GetAllowedSends, regardless of the delivery method.
func (s *Sender) Enqueue(m *message.Outgoing) SendResult {
	if !s.method.IsReliable() && s.link.DropAboveMTU() && message.EncodedSize(m) > s.link.MTU() {
		s.log().WithField("size", message.EncodedSize(m)).Trace("Dropping unreliable message above MTU")
		s.link.Release(m)
		return Dropped
	}

	return s.EnqueueAll([]*message.Outgoing{m})
}

// EnqueueAll admits either all messages or none of them, e.g., the chunks of a fragmented message. The Sender takes
// over one holder reference of each message, just like Enqueue.
func (s *Sender) EnqueueAll(ms []*message.Outgoing) SendResult {
	if len(ms) == 0 {
		return Sent
	}

	s.queueMutex.Lock()
	if queueLen, allowed := len(s.queue), s.GetAllowedSends(); queueLen+len(ms) > allowed {
		s.queueMutex.Unlock()
		s.log().WithFields(log.Fields{
			"queue":    queueLen,
			"messages": len(ms),
			"allowed":  allowed,
		}).Trace("Dropping messages, window is full")
		for _, m := range ms {
			s.link.Release(m)
		}
		return Dropped
	}
	s.queue = append(s.queue, ms...)
	s.queueMutex.Unlock()

	s.link.RequestFlush()
	return Sent
}

func (s *Sender) dequeue() (m *message.Outgoing) {
	s.queueMutex.Lock()
	defer s.queueMutex.Unlock()

	if len(s.queue) == 0 {
		return nil
	}
	m = s.queue[0]
	s.queue[0] = nil
	s.queue = s.queue[1:]
	return
}

// SendQueuedMessages is the send pump, called once per transport cycle.
func (s *Sender) SendQueuedMessages(now time.Time) {
	if s.method.IsReliable() {
		s.resendExpired(now)
	} else if s.doFlowControl {
		s.expireUnacknowledged(now)
	}

	for allowed := s.GetAllowedSends(); allowed > 0; allowed-- {
		m := s.dequeue()
		if m == nil {
			return
		}
		s.send(now, m)
	}
}

func (s *Sender) send(now time.Time, m *message.Outgoing) {
	ws, seq := s.load()
	s.store(ws, message.NextSequenceNumber(seq))

	s.link.QueueSend(s.msgType, seq, m, false)

	if !s.doFlowControl {
		s.link.Release(m)
		return
	}

	slot := &s.stored[seq%s.windowSize]
	slot.lastSent = now
	slot.numSent = 1
	if s.method.IsReliable() {
		slot.msg = m
	} else {
		s.link.Release(m)
	}
}

func (s *Sender) resendExpired(now time.Time) {
	delay := s.link.ResendDelay()

	ws, ss := s.load()
	for seq := ws; seq != ss; seq = message.NextSequenceNumber(seq) {
		slot := &s.stored[seq%s.windowSize]
		if slot.msg == nil || now.Sub(slot.lastSent) < delay {
			continue
		}
		s.resend(now, seq, slot)
	}
}

func (s *Sender) resend(now time.Time, seq int, slot *storedMessage) {
	s.log().WithFields(log.Fields{
		"sequence": seq,
		"sent":     slot.numSent,
	}).Trace("Resending reliable message")

	s.link.QueueSend(s.msgType, seq, slot.msg, true)
	slot.lastSent = now
	slot.numSent++
}

// expireUnacknowledged frees window slots of unreliable messages whose acknowledgment got lost. Otherwise, a
// series of lost acknowledgments would block this Sender forever.
func (s *Sender) expireUnacknowledged(now time.Time) {
	timeout := unreliableAckTimeout * s.link.ResendDelay()

	ws, ss := s.load()
	for ws != ss && now.Sub(s.stored[ws%s.windowSize].lastSent) >= timeout {
		s.receivedAcks.Clear(uint(ws))
		ws = message.NextSequenceNumber(ws)
	}
	s.store(ws, ss)
}

// ReceiveAcknowledge processes an acknowledgment for the sequence number seq.
func (s *Sender) ReceiveAcknowledge(now time.Time, seq int) {
	if !s.doFlowControl {
		return
	}

	ws, ss := s.load()
	relate := message.RelativeSequenceNumber(seq, ws)
	if relate < 0 {
		s.log().WithField("sequence", seq).Trace("Ignoring late or duplicate acknowledgment")
		return
	}
	if relate >= message.SequenceDistance(ws, ss) {
		s.log().WithField("sequence", seq).Debug("Ignoring acknowledgment for an unsent message")
		return
	}

	if s.method.IsReliable() {
		s.acknowledgeReliable(now, seq, ws, ss)
	} else {
		s.acknowledgeUnreliable(seq, ws, ss)
	}

	if s.QueueLen() > 0 {
		s.link.RequestFlush()
	}
}

// acknowledgeUnreliable slides the window through seq. The slots before seq are not waited for, as unreliable
// messages are never resent.
func (s *Sender) acknowledgeUnreliable(seq, ws, ss int) {
	s.receivedAcks.Set(uint(seq))
	for {
		s.receivedAcks.Clear(uint(ws))
		done := ws == seq
		ws = message.NextSequenceNumber(ws)
		if done {
			break
		}
	}
	s.store(ws, ss)
}

// acknowledgeReliable releases the acknowledged message and slides the window over all contiguously acknowledged
// slots. Older slots still lacking an acknowledgment were probably lost and are sent again immediately.
func (s *Sender) acknowledgeReliable(now time.Time, seq, ws, ss int) {
	if s.receivedAcks.Test(uint(seq)) {
		s.log().WithField("sequence", seq).Trace("Ignoring duplicate acknowledgment")
		return
	}

	slot := &s.stored[seq%s.windowSize]
	if slot.msg != nil {
		s.link.Release(slot.msg)
	}
	*slot = storedMessage{}
	s.receivedAcks.Set(uint(seq))

	for ws != ss && s.receivedAcks.Test(uint(ws)) {
		s.receivedAcks.Clear(uint(ws))
		ws = message.NextSequenceNumber(ws)
	}
	s.store(ws, ss)

	if message.RelativeSequenceNumber(seq, ws) <= 0 {
		return
	}
	for early := ws; early != seq; early = message.NextSequenceNumber(early) {
		if s.receivedAcks.Test(uint(early)) {
			continue
		}
		if earlySlot := &s.stored[early%s.windowSize]; earlySlot.msg != nil && earlySlot.numSent == 1 {
			s.resend(now, early, earlySlot)
		}
	}
}

// Reset drops all queued and stored messages and rewinds the window.
func (s *Sender) Reset() {
	s.queueMutex.Lock()
	queued := s.queue
	s.queue = nil
	s.queueMutex.Unlock()

	for _, m := range queued {
		s.link.Release(m)
	}

	for i := range s.stored {
		if s.stored[i].msg != nil {
			s.link.Release(s.stored[i].msg)
		}
		s.stored[i] = storedMessage{}
	}

	s.receivedAcks.ClearAll()
	s.store(0, 0)
}

// HasPending reports if there are messages which are either queued or awaiting an acknowledgment.
func (s *Sender) HasPending() bool {
	if s.QueueLen() > 0 {
		return true
	}
	if !s.method.IsReliable() {
		return false
	}

	ws, ss := s.load()
	return ws != ss
}
