// SPDX-FileCopyrightText: 2024 The peernet Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package peer

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofrs/uuid"
	"github.com/hashicorp/go-multierror"
	"github.com/puzpuzpuz/xsync/v3"
	log "github.com/sirupsen/logrus"

	"github.com/dtn7/peernet/pkg/channel"
	"github.com/dtn7/peernet/pkg/encryption"
	"github.com/dtn7/peernet/pkg/message"
)

var (
	// ErrNotRunning is returned by operations requiring a started Peer.
	ErrNotRunning = errors.New("peer is not running")

	// ErrAlreadyConnected is returned when connecting to an endpoint with an existing Connection.
	ErrAlreadyConnected = errors.New("already connected")

	// ErrTooManyConnections is returned when MaximumConnections is reached.
	ErrTooManyConnections = errors.New("maximum connections reached")

	// ErrUnknownConnection is returned for a connection identifier without a Connection.
	ErrUnknownConnection = errors.New("unknown connection")
)

// command is executed by the transport goroutine.
type command func(now time.Time)

// Peer owns a UDP socket and multiplexes all Connections over it.
//
// A single transport goroutine owns all protocol state. Applications interact through the exported methods,
// which are safe for concurrent use, and receive Events from the Events channel.
type Peer struct {
	conf             Configuration
	uniqueIdentifier uuid.UUID
	encryption       encryption.Provider
	simulation       *simulation

	pool    *message.Pool
	metrics *peerMetrics
	events  *eventQueue

	socket *net.UDPConn
	port   int

	// connections and handshakes are keyed by the remote endpoint's string representation. Only the transport
	// goroutine modifies them.
	connections *xsync.MapOf[string, *Connection]
	handshakes  *xsync.MapOf[string, *Connection]

	nextConnectionID atomic.Uint64

	inbound  chan datagram
	commands chan command
	flushes  chan struct{}

	startStopMutex sync.Mutex
	running        atomic.Bool
	stopSyn        chan struct{}
	stopAck        chan struct{}
	readerAck      chan struct{}
}

// NewPeer creates a Peer for a copy of the Configuration. The Peer must be started afterwards.
func NewPeer(conf Configuration) (*Peer, error) {
	if err := conf.Validate(); err != nil {
		return nil, err
	}
	conf = conf.copy()

	id, err := uuid.NewV4()
	if err != nil {
		return nil, err
	}

	p := &Peer{
		conf:             conf,
		uniqueIdentifier: id,

		pool:   message.NewPool(conf.RecycledCacheMaxCount, 64),
		events: newEventQueue(),

		connections: xsync.NewMapOf[string, *Connection](),
		handshakes:  xsync.NewMapOf[string, *Connection](),

		inbound:  make(chan datagram, 256),
		commands: make(chan command),
		flushes:  make(chan struct{}, 1),

		stopSyn:   make(chan struct{}),
		stopAck:   make(chan struct{}),
		readerAck: make(chan struct{}),
	}
	p.metrics = newPeerMetrics(p)
	p.simulation = newSimulation(conf)

	if conf.EnableEncryption {
		if p.encryption, err = encryption.New(conf.EncryptionProvider, conf.EncryptionKey); err != nil {
			return nil, err
		}
	}

	return p, nil
}

func (p *Peer) log() *log.Entry {
	return log.WithFields(log.Fields{
		"peer": p.uniqueIdentifier,
		"app":  p.conf.AppIdentifier,
	})
}

func (p *Peer) String() string {
	return fmt.Sprintf("Peer(%s, %s, port %d)", p.conf.AppIdentifier, p.uniqueIdentifier, p.port)
}

// Start binds the socket and starts the transport goroutine.
func (p *Peer) Start() error {
	p.startStopMutex.Lock()
	defer p.startStopMutex.Unlock()

	select {
	case <-p.stopSyn:
		return fmt.Errorf("a stopped peer cannot be restarted")
	default:
	}
	if p.running.Load() {
		return fmt.Errorf("peer is already running")
	}

	listenConfig := net.ListenConfig{Control: listenControl}
	addr := &net.UDPAddr{IP: p.conf.LocalAddress, Port: p.conf.Port}

	packetConn, err := listenConfig.ListenPacket(context.Background(), "udp", addr.String())
	if err != nil {
		return err
	}
	p.socket = packetConn.(*net.UDPConn)
	p.port = p.socket.LocalAddr().(*net.UDPAddr).Port

	if p.conf.ReceiveBufferSize > 0 {
		if err := p.socket.SetReadBuffer(p.conf.ReceiveBufferSize); err != nil {
			p.log().WithError(err).Warn("Failed to set the receive buffer size")
		}
	}
	if p.conf.SendBufferSize > 0 {
		if err := p.socket.SetWriteBuffer(p.conf.SendBufferSize); err != nil {
			p.log().WithError(err).Warn("Failed to set the send buffer size")
		}
	}

	p.running.Store(true)

	go p.reader()
	go p.handler()

	p.log().WithField("address", p.socket.LocalAddr()).Info("Started peer")
	return nil
}

// Shutdown disconnects all Connections with a reason, closes the socket and finally closes the Events channel.
func (p *Peer) Shutdown(reason string) error {
	p.startStopMutex.Lock()
	defer p.startStopMutex.Unlock()

	if !p.running.Load() {
		return ErrNotRunning
	}

	done := make(chan struct{})
	_ = p.post(func(now time.Time) {
		p.disconnectAll(now, reason)
		close(done)
	})
	<-done

	p.running.Store(false)
	close(p.stopSyn)
	<-p.stopAck

	p.simulation.stop()

	var errs *multierror.Error
	if err := p.socket.Close(); err != nil {
		errs = multierror.Append(errs, err)
	}
	<-p.readerAck

	p.events.close()

	p.log().WithField("reason", reason).Info("Shut down peer")
	return errs.ErrorOrNil()
}

// Events delivers all Events of this Peer. It is closed after Shutdown.
func (p *Peer) Events() <-chan Event {
	return p.events.out
}

// IsRunning reports if the Peer was started and not yet shut down.
func (p *Peer) IsRunning() bool {
	return p.running.Load()
}

// UniqueIdentifier of this Peer, randomly chosen at its creation.
func (p *Peer) UniqueIdentifier() uuid.UUID {
	return p.uniqueIdentifier
}

// Port the socket is bound to, known after Start.
func (p *Peer) Port() int {
	return p.port
}

// Configuration of this Peer.
func (p *Peer) Configuration() Configuration {
	return p.conf.copy()
}

// Statistics summed over all Connections, past ones included.
func (p *Peer) Statistics() Statistics {
	return p.metrics.snapshot()
}

// post hands a command to the transport goroutine.
func (p *Peer) post(cmd command) error {
	if !p.running.Load() {
		return ErrNotRunning
	}

	select {
	case p.commands <- cmd:
		return nil
	case <-p.stopSyn:
		return ErrNotRunning
	}
}

// requestFlush asks the transport goroutine to run the send pumps.
func (p *Peer) requestFlush() {
	select {
	case p.flushes <- struct{}{}:
	default:
	}
}

// raise an Event unless its type is suppressed.
func (p *Peer) raise(e Event) {
	if p.conf.IsEventEnabled(e.Type) {
		p.events.push(e)
	}
}

// Connect starts a handshake with a remote endpoint, optionally carrying a hail message. The returned
// Connection is not usable before its Status becomes Connected.
func (p *Peer) Connect(remote *net.UDPAddr, hail *message.Outgoing) (*Connection, error) {
	data, bits := p.takeHail(hail)

	type result struct {
		c   *Connection
		err error
	}
	results := make(chan result, 1)

	if err := p.post(func(now time.Time) {
		c, err := p.connect(now, remote, data, bits)
		results <- result{c, err}
	}); err != nil {
		return nil, err
	}

	r := <-results
	return r.c, r.err
}

func (p *Peer) connect(now time.Time, remote *net.UDPAddr, hail []byte, hailBits int) (*Connection, error) {
	key := remote.String()
	if _, ok := p.connections.Load(key); ok {
		return nil, fmt.Errorf("%w to %s", ErrAlreadyConnected, key)
	}
	if _, ok := p.handshakes.Load(key); ok {
		return nil, fmt.Errorf("%w to %s, handshake in progress", ErrAlreadyConnected, key)
	}
	if p.connections.Size()+p.handshakes.Size() >= p.conf.MaximumConnections {
		return nil, ErrTooManyConnections
	}

	c := newConnection(p, remote, now)
	c.localHail, c.localHailBits = hail, hailBits
	p.handshakes.Store(key, c)

	c.initiate(now)
	return c, nil
}

// takeHail copies a hail message's payload and recycles the message.
func (p *Peer) takeHail(hail *message.Outgoing) ([]byte, int) {
	if hail == nil {
		return nil, 0
	}

	data, bits := append([]byte(nil), hail.Data()...), hail.LengthBits()
	if !hail.ManualRecycle() {
		p.pool.Recycle(hail)
	}
	return data, bits
}

// receiveConnect handles a Connect message. The Connection is nil for an unknown remote.
func (p *Peer) receiveConnect(c *Connection, m *message.Incoming, now time.Time) {
	if c != nil {
		c.receiveConnect(m, now)
		return
	}

	logger := p.log().WithField("remote", m.Sender)

	if !p.conf.AcceptIncomingConnections {
		logger.Debug("Rejecting incoming connection")
		p.sendDisconnectTo(m.Sender, "incoming connections are not accepted")
		return
	}
	if p.connections.Size()+p.handshakes.Size() >= p.conf.MaximumConnections {
		logger.Info("Rejecting incoming connection, maximum connections reached")
		p.sendDisconnectTo(m.Sender, "server full")
		return
	}

	h, err := readHandshake(m)
	if err != nil {
		logger.WithError(err).Debug("Dropping malformed Connect")
		return
	}

	c = newConnection(p, m.Sender, now)
	if err := c.acceptRemoteHandshake(h, m.ReceiveTime); err != nil {
		logger.WithError(err).Info("Rejecting incoming connection")
		p.sendDisconnectTo(m.Sender, err.Error())
		return
	}

	p.handshakes.Store(c.key, c)
	logger.WithField("connection", c.id).Debug("Received incoming connection")

	c.respond(now)
}

// sendDisconnectTo answers an endpoint without a Connection with a Disconnect.
func (p *Peer) sendDisconnectTo(remote *net.UDPAddr, reason string) {
	m := p.pool.Get()
	m.WriteString(reason)
	if err := p.sendSingle(message.Disconnect, m, remote); err != nil {
		p.log().WithError(err).WithField("remote", remote).Debug("Failed to send Disconnect")
	}
}

func (p *Peer) promoteConnection(c *Connection) {
	p.handshakes.Delete(c.key)
	p.connections.Store(c.key, c)
}

func (p *Peer) removeConnection(c *Connection) {
	for _, table := range []*xsync.MapOf[string, *Connection]{p.handshakes, p.connections} {
		if cur, ok := table.Load(c.key); ok && cur == c {
			table.Delete(c.key)
		}
	}
}

// lookup finds the Connection of a remote endpoint, established or handshaking.
func (p *Peer) lookup(key string) *Connection {
	if c, ok := p.connections.Load(key); ok {
		return c
	}
	if c, ok := p.handshakes.Load(key); ok {
		return c
	}
	return nil
}

func (p *Peer) disconnectAll(now time.Time, reason string) {
	for _, table := range []*xsync.MapOf[string, *Connection]{p.handshakes, p.connections} {
		var conns []*Connection
		table.Range(func(_ string, c *Connection) bool {
			conns = append(conns, c)
			return true
		})

		for _, c := range conns {
			c.disconnect(now, reason, true)
		}
	}
}

// Connections returns all established Connections.
func (p *Peer) Connections() (conns []*Connection) {
	p.connections.Range(func(_ string, c *Connection) bool {
		if c.Status() == Connected {
			conns = append(conns, c)
		}
		return true
	})
	return
}

// Connection returns the Connection with an identifier, established or handshaking.
func (p *Peer) Connection(id uint64) (*Connection, error) {
	var found *Connection
	for _, table := range []*xsync.MapOf[string, *Connection]{p.connections, p.handshakes} {
		table.Range(func(_ string, c *Connection) bool {
			if c.id == id {
				found = c
			}
			return found == nil
		})
	}

	if found == nil {
		return nil, fmt.Errorf("%w: %d", ErrUnknownConnection, id)
	}
	return found, nil
}

// ConnectionCount is the amount of established Connections.
func (p *Peer) ConnectionCount() int {
	return p.connections.Size()
}

// HandshakeCount is the amount of Connections still handshaking.
func (p *Peer) HandshakeCount() int {
	return p.handshakes.Size()
}

// PrepareMessage returns an empty message from the recycling pool.
func (p *Peer) PrepareMessage() *message.Outgoing {
	return p.pool.Get()
}

// PrepareMessageWithCapacity returns an empty message able to hold capacity bytes without growing.
func (p *Peer) PrepareMessageWithCapacity(capacity int) *message.Outgoing {
	return p.pool.GetWithCapacity(capacity)
}

// PrepareMessageTo returns an empty message addressed to a single Connection, used by SendMessage.
func (p *Peer) PrepareMessageTo(id uint64) *message.Outgoing {
	m := p.pool.Get()
	m.Recipient = id
	return m
}

// Recycle returns a message, which was not handed to a send operation, to the pool.
func (p *Peer) Recycle(m *message.Outgoing) {
	p.pool.Recycle(m)
}

// SendMessage sends a message to its Recipient, if addressed by PrepareMessageTo, or to all established
// Connections otherwise. The Peer takes over the message.
func (p *Peer) SendMessage(msg *message.Outgoing, method message.DeliveryMethod, sequenceChannel int) channel.SendResult {
	if msg.Recipient != 0 {
		return p.SendMessageTo(msg, msg.Recipient, method, sequenceChannel)
	}
	return p.sendToConnections(msg, p.Connections(), method, sequenceChannel)
}

// SendMessageTo sends a message to the Connection with an identifier.
func (p *Peer) SendMessageTo(msg *message.Outgoing, id uint64, method message.DeliveryMethod, sequenceChannel int) channel.SendResult {
	c, err := p.Connection(id)
	if err != nil {
		p.log().WithError(err).Debug("Failed to send message")
		p.recycleUnsent(msg)
		return channel.Failed
	}
	return p.sendToConnections(msg, []*Connection{c}, method, sequenceChannel)
}

// SendMessageToAll sends a message to a list of Connections. The best result is returned.
func (p *Peer) SendMessageToAll(msg *message.Outgoing, conns []*Connection, method message.DeliveryMethod, sequenceChannel int) channel.SendResult {
	return p.sendToConnections(msg, conns, method, sequenceChannel)
}

func (p *Peer) sendToConnections(msg *message.Outgoing, conns []*Connection, method message.DeliveryMethod, sequenceChannel int) channel.SendResult {
	if _, err := message.TypeFor(method, sequenceChannel); err != nil {
		p.log().WithError(err).Warn("Failed to send message")
		p.recycleUnsent(msg)
		return channel.Failed
	}
	if !p.running.Load() || len(conns) == 0 {
		p.recycleUnsent(msg)
		return channel.Failed
	}

	msg.Retain(len(conns))

	result := channel.Failed
	for _, c := range conns {
		result = result.Merge(c.enqueue(msg, method, sequenceChannel))
	}
	return result
}

// recycleUnsent returns a message which no Connection took over.
func (p *Peer) recycleUnsent(msg *message.Outgoing) {
	if !msg.ManualRecycle() && msg.Holders() == 0 && !msg.IsRecycled() {
		p.pool.Recycle(msg)
	}
}
