// SPDX-FileCopyrightText: 2024 The peernet Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package peer

import (
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofrs/uuid"
	"github.com/puzpuzpuz/xsync/v3"
	log "github.com/sirupsen/logrus"

	"github.com/dtn7/peernet/pkg/channel"
	"github.com/dtn7/peernet/pkg/message"
)

// ackSize is the encoded size of a single acknowledgment: message type and sequence number.
const ackSize = 3

type pendingAck struct {
	t   message.Type
	seq int
}

// Connection to a remote peer, either established or handshaking.
//
// All mutable state is owned by the Peer's transport goroutine. The exported methods are safe for concurrent use.
type Connection struct {
	peer   *Peer
	id     uint64
	remote *net.UDPAddr
	key    string

	status atomic.Int32

	// mutex guards the fields below, which are written by the transport goroutine and read by applications.
	mutex                  sync.RWMutex
	remoteUniqueIdentifier uuid.UUID
	remoteHail             *message.Incoming
	disconnectReason       string

	localHail         []byte
	localHailBits     int
	handshakeAttempts int
	handshakeStarted  time.Time
	lastHandshakeSent time.Time

	// enqueueMutex orders application enqueues against the final channel reset in finish.
	enqueueMutex sync.RWMutex
	closed       bool

	senders   *xsync.MapOf[message.Type, *channel.Sender]
	receivers map[message.Type]*channel.Receiver

	datagram    *message.Buffer
	pendingAcks []pendingAck

	currentMTU   atomic.Int32
	mtuExpansion mtuExpansion

	averageRTT atomic.Int64
	hasRTT     bool
	pingNumber uint8
	pingSent   time.Time
	lastPing   time.Time
	lastHeard  time.Time

	fragmentGroup atomic.Uint32
	reassemblies  map[uint32]*reassembly

	counters connectionCounters
}

func newConnection(p *Peer, remote *net.UDPAddr, now time.Time) *Connection {
	c := &Connection{
		peer:   p,
		id:     p.nextConnectionID.Add(1),
		remote: remote,
		key:    remote.String(),

		handshakeStarted: now,
		lastHeard:        now,

		senders:   xsync.NewMapOf[message.Type, *channel.Sender](),
		receivers: make(map[message.Type]*channel.Receiver),

		datagram: message.NewBuffer(p.conf.MaximumTransmissionUnit),

		reassemblies: make(map[uint32]*reassembly),
	}

	c.currentMTU.Store(int32(p.conf.InitialMTU()))
	c.mtuExpansion = newMTUExpansion(p.conf)

	return c
}

func (c *Connection) log() *log.Entry {
	return log.WithFields(log.Fields{
		"connection": c.id,
		"remote":     c.key,
		"status":     c.Status(),
	})
}

func (c *Connection) String() string {
	return fmt.Sprintf("Connection(%d, %s, %v)", c.id, c.key, c.Status())
}

// ID identifies this Connection within its Peer, e.g., for Peer.PrepareMessageTo.
func (c *Connection) ID() uint64 {
	return c.id
}

// RemoteEndpoint of this Connection.
func (c *Connection) RemoteEndpoint() *net.UDPAddr {
	return c.remote
}

// Status of this Connection.
func (c *Connection) Status() Status {
	return Status(c.status.Load())
}

// RemoteUniqueIdentifier is the remote Peer's identifier, known after the handshake.
func (c *Connection) RemoteUniqueIdentifier() uuid.UUID {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	return c.remoteUniqueIdentifier
}

// RemoteHailMessage is the hail message sent by the remote during the handshake, nil if there was none.
func (c *Connection) RemoteHailMessage() *message.Incoming {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	return c.remoteHail
}

// DisconnectReason is the reason of the disconnect, once Disconnected.
func (c *Connection) DisconnectReason() string {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	return c.disconnectReason
}

// MTU is the current maximum transmission unit towards the remote.
func (c *Connection) MTU() int {
	return int(c.currentMTU.Load())
}

// AverageRoundTripTime is the smoothed round trip time, zero until the first measurement.
func (c *Connection) AverageRoundTripTime() time.Duration {
	return time.Duration(c.averageRTT.Load())
}

// Statistics of this Connection.
func (c *Connection) Statistics() Statistics {
	return c.counters.snapshot()
}

// SendMessage sends a message to this Connection only, like Peer.SendMessageTo.
func (c *Connection) SendMessage(msg *message.Outgoing, method message.DeliveryMethod, sequenceChannel int) channel.SendResult {
	return c.peer.sendToConnections(msg, []*Connection{c}, method, sequenceChannel)
}

// Disconnect this Connection. Queued messages are discarded, the remote is notified.
func (c *Connection) Disconnect(reason string) {
	_ = c.peer.post(func(now time.Time) {
		c.disconnect(now, reason, true)
	})
}

// Approve an incoming Connection waiting for approval, optionally with a hail message of its own.
func (c *Connection) Approve(hail *message.Outgoing) {
	data, bits := c.peer.takeHail(hail)
	_ = c.peer.post(func(now time.Time) {
		if c.Status() != ReceivedInitiation {
			c.log().Debug("Ignoring approval, connection is not waiting for one")
			return
		}
		c.localHail, c.localHailBits = data, bits
		c.approve(now)
	})
}

// Deny an incoming Connection waiting for approval.
func (c *Connection) Deny(reason string) {
	_ = c.peer.post(func(now time.Time) {
		if c.Status() != ReceivedInitiation {
			c.log().Debug("Ignoring denial, connection is not waiting for approval")
			return
		}
		c.disconnect(now, reason, true)
	})
}

// setStatus changes the Status and raises a StatusChanged Event.
func (c *Connection) setStatus(status Status, reason string) {
	old := Status(c.status.Swap(int32(status)))
	if old == status {
		return
	}

	c.log().WithFields(log.Fields{
		"old":    old,
		"reason": reason,
	}).Debug("Connection changed status")

	c.peer.raise(Event{
		Type:       StatusChanged,
		Connection: c,
		Sender:     c.remote,
		Status:     status,
		Reason:     reason,
	})
}

// sender returns the Sender for a delivery method's sequence channel, creating it on first use.
func (c *Connection) sender(method message.DeliveryMethod, sequenceChannel int) (*channel.Sender, error) {
	t, err := message.TypeFor(method, sequenceChannel)
	if err != nil {
		return nil, err
	}

	s, _ := c.senders.LoadOrCompute(t, func() *channel.Sender {
		doFlowControl := !(method == message.Unreliable && c.peer.conf.SuppressUnreliableUnorderedAcks)
		return channel.NewSender(link{c}, method, sequenceChannel, c.peer.conf.WindowSize(method), doFlowControl)
	})
	return s, nil
}

// receiver returns the Receiver for a user message Type, creating it on first use.
func (c *Connection) receiver(t message.Type) *channel.Receiver {
	if r, ok := c.receivers[t]; ok {
		return r
	}

	method := t.DeliveryMethod()
	sendAcks := !(method == message.Unreliable && c.peer.conf.SuppressUnreliableUnorderedAcks)
	r := channel.NewReceiver(link{c}, method, t.SequenceChannel(), c.peer.conf.WindowSize(method), sendAcks)
	c.receivers[t] = r
	return r
}

// enqueue a message, which already holds a reference for this Connection, into a Sender.
func (c *Connection) enqueue(msg *message.Outgoing, method message.DeliveryMethod, sequenceChannel int) channel.SendResult {
	c.enqueueMutex.RLock()
	defer c.enqueueMutex.RUnlock()

	if status := c.Status(); c.closed || status != Connected {
		c.log().Debug("Refusing to send on an unestablished connection")
		c.peer.pool.Release(msg)
		return channel.Failed
	}

	s, err := c.sender(method, sequenceChannel)
	if err != nil {
		c.log().WithError(err).Warn("Refusing to send on an invalid channel")
		c.peer.pool.Release(msg)
		return channel.Failed
	}

	if c.needsFragmentation(msg, method) {
		return c.enqueueFragmented(s, msg)
	}

	result := s.Enqueue(msg)
	if result == channel.Dropped {
		c.peer.metrics.droppedMessage(&c.counters)
	}
	return result
}

// datagramLimit is the largest plaintext datagram fitting into the MTU after encryption.
func (c *Connection) datagramLimit() int {
	limit := c.MTU()
	if c.peer.encryption != nil {
		limit -= c.peer.encryption.Overhead()
	}
	return limit
}

// appendMessage writes a message into the pending datagram, flushing it first if the message would not fit.
func (c *Connection) appendMessage(t message.Type, seq int, m *message.Outgoing) {
	size := message.EncodedSize(m)
	limit := c.datagramLimit()

	if c.datagram.LengthBytes() > 0 && c.datagram.LengthBytes()+size > limit {
		c.flushDatagram()
	}

	message.AppendMessage(c.datagram, t, seq, m)

	if c.datagram.LengthBytes() >= limit {
		c.flushDatagram()
	}
}

// sendLibrary writes a library message into the pending datagram and recycles it.
func (c *Connection) sendLibrary(t message.Type, m *message.Outgoing) {
	c.appendMessage(t, 0, m)
	c.peer.pool.Recycle(m)
}

// flushDatagram hands the pending datagram to the socket.
func (c *Connection) flushDatagram() {
	if c.datagram.LengthBits() == 0 {
		return
	}

	data := c.datagram.Data()
	if err := c.peer.sendDatagram(&c.counters, data, c.remote); err != nil {
		if isMessageTooLong(err) && len(data) <= c.datagramLimit() {
			c.shrinkMTU(len(data))
		} else {
			c.log().WithError(err).Warn("Failed to send datagram")
		}
	}
	c.datagram.Truncate(0)
}

// queueAck schedules an acknowledgment to be sent with the next flush.
func (c *Connection) queueAck(t message.Type, seq int) {
	c.pendingAcks = append(c.pendingAcks, pendingAck{t: t, seq: seq})
}

// flushAcks packs all pending acknowledgments into Acknowledge messages.
func (c *Connection) flushAcks() {
	perMessage := (c.datagramLimit() - message.HeaderSize) / ackSize

	for len(c.pendingAcks) > 0 {
		n := len(c.pendingAcks)
		if n > perMessage {
			n = perMessage
		}

		m := c.peer.pool.GetWithCapacity(n * ackSize)
		for _, ack := range c.pendingAcks[:n] {
			m.WriteUInt8(uint8(ack.t))
			m.WriteUInt16(uint16(ack.seq))
		}
		c.pendingAcks = c.pendingAcks[n:]

		c.sendLibrary(message.Acknowledge, m)
	}
	c.pendingAcks = nil
}

func (c *Connection) receiveAcknowledge(m *message.Incoming, now time.Time) {
	for m.RemainingBits() >= ackSize*8 {
		t, _ := m.ReadUInt8()
		seq, _ := m.ReadUInt16()

		if s, ok := c.senders.Load(message.Type(t)); ok {
			s.ReceiveAcknowledge(now, int(seq)%message.NumSequenceNumbers)
		} else {
			c.log().WithField("type", message.Type(t)).Trace("Ignoring acknowledgment for an unused channel")
		}
	}
}

// flush runs the send pump of all Senders and sends the resulting datagram.
func (c *Connection) flush(now time.Time) {
	c.flushAcks()

	if c.Status() == Connected {
		c.senders.Range(func(_ message.Type, s *channel.Sender) bool {
			s.SendQueuedMessages(now)
			return true
		})
	}

	c.flushDatagram()
}

// HasPendingMessages reports if there are messages waiting to be sent or acknowledged.
func (c *Connection) HasPendingMessages() (pending bool) {
	c.senders.Range(func(_ message.Type, s *channel.Sender) bool {
		pending = s.HasPending()
		return !pending
	})
	return
}

// receiveUser passes a user message to its Receiver.
func (c *Connection) receiveUser(m *message.Incoming) {
	if c.Status() != Connected {
		c.log().WithField("type", m.Type).Trace("Dropping user message of an unestablished connection")
		return
	}

	c.peer.metrics.receivedMessage(&c.counters)
	c.receiver(m.Type).Receive(m)
}

// deliver a message released by a Receiver to the application, reassembling fragments first.
func (c *Connection) deliver(m *message.Incoming) {
	if m.IsFragment {
		c.reassemble(m)
		return
	}

	c.peer.raise(Event{
		Type:       Data,
		Connection: c,
		Sender:     c.remote,
		Message:    m,
	})
}

// receiveLibrary handles a transport message of an existing Connection.
func (c *Connection) receiveLibrary(m *message.Incoming, datagramSize int, now time.Time) {
	switch m.Type {
	case message.ConnectResponse:
		c.receiveConnectResponse(m, now)
	case message.ConnectionEstablished:
		c.receiveConnectionEstablished(now)
	case message.Disconnect:
		reason, err := m.ReadString()
		if err != nil {
			reason = "disconnected by remote"
		}
		c.finish(reason)
	case message.Acknowledge:
		c.receiveAcknowledge(m, now)
	case message.Ping:
		c.receivePing(m)
	case message.Pong:
		c.receivePong(m, now)
	case message.ExpandMTURequest:
		c.receiveMTUProbe(datagramSize)
	case message.ExpandMTUSuccess:
		c.receiveMTUSuccess(m)
	case message.LibraryError:
		reason, _ := m.ReadString()
		c.log().WithField("reason", reason).Warn("Remote reported an error")
		c.peer.raise(Event{
			Type:       Error,
			Connection: c,
			Sender:     c.remote,
			Err:        fmt.Errorf("remote error: %s", reason),
		})
	default:
		c.log().WithField("type", m.Type).Debug("Dropping unexpected library message")
	}
}

// disconnect discards all queued messages, notifies the remote if requested and finishes this Connection.
func (c *Connection) disconnect(now time.Time, reason string, notifyRemote bool) {
	switch c.Status() {
	case Disconnecting, Disconnected:
		return
	}

	c.setStatus(Disconnecting, reason)
	c.resetChannels()

	if notifyRemote {
		m := c.peer.pool.Get()
		m.WriteString(reason)
		c.sendLibrary(message.Disconnect, m)
	}
	c.flushAcks()
	c.flushDatagram()

	c.finish(reason)
}

// finish moves this Connection to Disconnected and removes it from its Peer.
func (c *Connection) finish(reason string) {
	if c.Status() == Disconnected {
		return
	}

	c.mutex.Lock()
	c.disconnectReason = reason
	c.mutex.Unlock()

	c.enqueueMutex.Lock()
	c.closed = true
	c.resetChannels()
	c.enqueueMutex.Unlock()

	c.pendingAcks = nil
	c.reassemblies = make(map[uint32]*reassembly)
	c.datagram.Truncate(0)

	c.peer.removeConnection(c)
	c.setStatus(Disconnected, reason)
}

func (c *Connection) resetChannels() {
	c.senders.Range(func(_ message.Type, s *channel.Sender) bool {
		s.Reset()
		return true
	})
	for _, r := range c.receivers {
		r.Reset()
	}
}

// link connects a Connection to its channels.
type link struct {
	c *Connection
}

func (l link) QueueSend(t message.Type, seq int, m *message.Outgoing, resend bool) {
	l.c.peer.metrics.sentMessage(&l.c.counters, resend)
	l.c.appendMessage(t, seq, m)
}

func (l link) QueueAck(t message.Type, seq int) {
	l.c.queueAck(t, seq)
}

func (l link) Deliver(m *message.Incoming) {
	l.c.deliver(m)
}

func (l link) Release(m *message.Outgoing) {
	l.c.peer.pool.Release(m)
}

func (l link) RequestFlush() {
	l.c.peer.requestFlush()
}

func (l link) MTU() int {
	return l.c.datagramLimit()
}

func (l link) ResendDelay() time.Duration {
	return resendDelay(l.c.AverageRoundTripTime())
}

func (l link) DropAboveMTU() bool {
	return l.c.peer.conf.UnreliableSizeBehavior == DropAboveMTU
}
