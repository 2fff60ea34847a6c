// SPDX-FileCopyrightText: 2024 The peernet Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package peer

import (
	"errors"
	"net"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/dtn7/peernet/pkg/message"
)

const (
	// maxDatagramSize is the largest UDP payload.
	maxDatagramSize = 65507

	// readTimeout bounds each blocking read, to notice a shutdown.
	readTimeout = 500 * time.Millisecond
)

// datagram as read from the socket.
type datagram struct {
	data     []byte
	sender   *net.UDPAddr
	received time.Time
}

// reader moves datagrams from the socket into the inbound channel until the socket is closed.
func (p *Peer) reader() {
	defer close(p.readerAck)

	buf := make([]byte, maxDatagramSize)
	for {
		select {
		case <-p.stopSyn:
			return
		default:
		}

		if err := p.socket.SetReadDeadline(time.Now().Add(readTimeout)); err != nil {
			p.log().WithError(err).Warn("Failed to set the read deadline")
			return
		}

		n, sender, err := p.socket.ReadFromUDP(buf)
		if err != nil {
			var netErr net.Error
			switch {
			case errors.Is(err, net.ErrClosed):
				return
			case errors.As(err, &netErr) && netErr.Timeout():
			default:
				// E.g., ICMP port unreachable of a previous datagram.
				p.log().WithError(err).Debug("Failed to read datagram")
			}
			continue
		}

		d := datagram{
			data:     append([]byte(nil), buf[:n]...),
			sender:   sender,
			received: time.Now(),
		}

		select {
		case p.inbound <- d:
		case <-p.stopSyn:
			return
		}
	}
}

// handler is the transport goroutine, owning all protocol state.
func (p *Peer) handler() {
	defer close(p.stopAck)

	heartbeat := time.NewTicker(p.conf.HeartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-p.stopSyn:
			return

		case d := <-p.inbound:
			p.receiveDatagram(d)
			if len(p.inbound) == 0 {
				p.flushAll(time.Now())
			}

		case cmd := <-p.commands:
			cmd(time.Now())

		case <-p.flushes:
			p.flushAll(time.Now())

		case now := <-heartbeat.C:
			p.heartbeat(now)
		}
	}
}

func (p *Peer) heartbeat(now time.Time) {
	for _, c := range p.allConnections() {
		c.heartbeat(now)
	}
}

func (p *Peer) flushAll(now time.Time) {
	for _, c := range p.allConnections() {
		c.flush(now)
	}
}

// allConnections snapshots both tables, allowing Connections to remove themselves while being iterated.
func (p *Peer) allConnections() (conns []*Connection) {
	collect := func(_ string, c *Connection) bool {
		conns = append(conns, c)
		return true
	}
	p.handshakes.Range(collect)
	p.connections.Range(collect)
	return
}

// receiveDatagram decrypts a datagram and dispatches each contained message.
func (p *Peer) receiveDatagram(d datagram) {
	data := d.data
	if p.encryption != nil {
		plain, err := p.encryption.Decrypt(data)
		if err != nil {
			p.log().WithError(err).WithField("remote", d.sender).Debug("Dropping undecryptable datagram")
			return
		}
		data = plain
	}

	key := d.sender.String()
	c := p.lookup(key)

	if c != nil {
		p.metrics.receivedDatagram(&c.counters, len(d.data))
		c.lastHeard = d.received
	} else {
		p.metrics.receivedDatagram(nil, len(d.data))
	}

	b := message.NewBufferFrom(data, len(data)*8)
	for b.RemainingBits() >= message.HeaderSize*8 {
		h, err := message.ReadHeader(b)
		if err != nil {
			p.log().WithError(err).WithField("remote", d.sender).Debug("Dropping malformed datagram")
			return
		}

		payload, err := b.ReadBytes(h.PayloadBytes())
		if err != nil {
			p.log().WithError(err).WithField("remote", d.sender).Debug("Dropping truncated datagram")
			return
		}

		p.receiveMessage(c, message.NewIncoming(h, payload, d.sender, d.received), len(d.data))

		// A Connect might have created or replaced the Connection.
		c = p.lookup(key)
	}
}

// receiveMessage dispatches a single message. The Connection is nil for unknown remotes.
func (p *Peer) receiveMessage(c *Connection, m *message.Incoming, datagramSize int) {
	now := m.ReceiveTime

	switch {
	case m.Type == message.Unconnected:
		p.receiveUnconnected(m)

	case m.Type.IsUser():
		if c == nil {
			p.log().WithField("remote", m.Sender).Trace("Dropping user message of an unknown remote")
			return
		}
		if c.Status() == RespondedConnect {
			// The remote already sends data, so its ConnectionEstablished got lost.
			c.establish(now)
		}
		c.receiveUser(m)

	case m.Type == message.Connect:
		p.receiveConnect(c, m, now)

	case m.Type == message.Discovery:
		p.receiveDiscovery(m)

	case m.Type == message.DiscoveryResponse:
		p.receiveDiscoveryResponse(m)

	case m.Type.IsLibrary():
		if c == nil {
			p.log().WithFields(log.Fields{
				"remote": m.Sender,
				"type":   m.Type,
			}).Trace("Dropping library message of an unknown remote")
			return
		}
		c.receiveLibrary(m, datagramSize, now)

	default:
		p.log().WithFields(log.Fields{
			"remote": m.Sender,
			"type":   m.Type,
		}).Debug("Dropping message of an unknown type")
	}
}

// sendDatagram encrypts and sends a datagram. The data might be reused by the caller afterwards.
func (p *Peer) sendDatagram(cc *connectionCounters, data []byte, remote *net.UDPAddr) error {
	if p.encryption != nil {
		cipher, err := p.encryption.Encrypt(data)
		if err != nil {
			return err
		}
		data = cipher
	}

	p.metrics.sentDatagram(cc, len(data))

	if p.simulation.enabled() {
		return p.simulation.send(p.socket, data, remote)
	}

	if _, err := p.socket.WriteToUDP(data, remote); err != nil {
		p.metrics.failedDatagrams.Inc()
		return err
	}
	return nil
}

// sendSingle sends a single message, recycling it afterwards, as its own datagram.
func (p *Peer) sendSingle(t message.Type, m *message.Outgoing, remote *net.UDPAddr) error {
	buf := message.NewBuffer(message.EncodedSize(m))
	message.AppendMessage(buf, t, 0, m)
	p.pool.Recycle(m)

	return p.sendDatagram(nil, buf.Data(), remote)
}
