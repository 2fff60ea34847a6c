// SPDX-FileCopyrightText: 2024 The peernet Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package peer

import (
	"fmt"
	"time"

	"github.com/gofrs/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/dtn7/peernet/pkg/message"
)

// handshake is the payload of both Connect and ConnectResponse messages.
type handshake struct {
	appIdentifier    string
	uniqueIdentifier uuid.UUID
	hail             []byte
	hailBits         int
}

func (h handshake) writeTo(m *message.Outgoing) {
	m.WriteString(h.appIdentifier)
	m.WriteBytes(h.uniqueIdentifier.Bytes())
	m.WriteVariableUInt32(uint32(h.hailBits))
	m.WriteBytes(h.hail)
}

func readHandshake(m *message.Incoming) (h handshake, err error) {
	if h.appIdentifier, err = m.ReadString(); err != nil {
		return
	}

	var id []byte
	if id, err = m.ReadBytes(uuid.Size); err != nil {
		return
	}
	if h.uniqueIdentifier, err = uuid.FromBytes(id); err != nil {
		return
	}

	var bits uint32
	if bits, err = m.ReadVariableUInt32(); err != nil {
		return
	}
	if int(bits) > m.RemainingBits() {
		err = fmt.Errorf("hail message of %d bits exceeds the handshake", bits)
		return
	}
	h.hailBits = int(bits)
	h.hail, err = m.ReadBytes((h.hailBits + 7) / 8)
	return
}

// hailMessage converts the remote's hail into an Incoming, nil if there was none.
func (h handshake) hailMessage(sender *Connection, receiveTime time.Time) *message.Incoming {
	if h.hailBits == 0 {
		return nil
	}
	return message.NewIncoming(message.Header{PayloadBits: h.hailBits}, h.hail, sender.remote, receiveTime)
}

func (c *Connection) localHandshake() handshake {
	return handshake{
		appIdentifier:    c.peer.conf.AppIdentifier,
		uniqueIdentifier: c.peer.uniqueIdentifier,
		hail:             c.localHail,
		hailBits:         c.localHailBits,
	}
}

// acceptRemoteHandshake checks the remote's handshake and stores its identity.
func (c *Connection) acceptRemoteHandshake(h handshake, receiveTime time.Time) error {
	if h.appIdentifier != c.peer.conf.AppIdentifier {
		return fmt.Errorf("wrong application identifier %q", h.appIdentifier)
	}
	if h.uniqueIdentifier == c.peer.uniqueIdentifier {
		return fmt.Errorf("connecting to itself")
	}

	c.mutex.Lock()
	c.remoteUniqueIdentifier = h.uniqueIdentifier
	c.remoteHail = h.hailMessage(c, receiveTime)
	c.mutex.Unlock()
	return nil
}

func (c *Connection) sendHandshake(now time.Time, t message.Type) {
	m := c.peer.pool.Get()
	c.localHandshake().writeTo(m)
	c.sendLibrary(t, m)
	c.flushDatagram()

	c.handshakeAttempts++
	c.lastHandshakeSent = now

	c.log().WithFields(log.Fields{
		"type":    t,
		"attempt": c.handshakeAttempts,
	}).Debug("Sent handshake")
}

// initiate an outgoing Connection.
func (c *Connection) initiate(now time.Time) {
	c.setStatus(InitiatedConnect, "connecting")
	c.handshakeStarted = now
	c.sendHandshake(now, message.Connect)
}

// receiveConnect handles a Connect of an already known remote, i.e., a resent one.
func (c *Connection) receiveConnect(m *message.Incoming, now time.Time) {
	switch c.Status() {
	case RespondedConnect:
		c.sendHandshake(now, message.ConnectResponse)

	case InitiatedConnect:
		// Both sides connected simultaneously. The lower identifier keeps its role as initiator.
		h, err := readHandshake(m)
		if err != nil {
			c.log().WithError(err).Debug("Dropping malformed Connect")
			return
		}
		if h.uniqueIdentifier.String() > c.peer.uniqueIdentifier.String() {
			return
		}
		if err := c.acceptRemoteHandshake(h, m.ReceiveTime); err != nil {
			c.disconnect(now, err.Error(), true)
			return
		}
		c.respond(now)

	case Connected:
		h, err := readHandshake(m)
		if err != nil || h.uniqueIdentifier == c.RemoteUniqueIdentifier() {
			// A late resend of the original handshake.
			return
		}

		c.log().Info("Remote restarted, dropping the stale connection")
		c.finish("remote restarted")
		_ = m.SetPosition(0)
		c.peer.receiveConnect(nil, m, now)

	default:
		c.log().Trace("Ignoring Connect")
	}
}

// respond to an incoming Connect, either directly or after the application's approval.
func (c *Connection) respond(now time.Time) {
	if c.peer.conf.EnableConnectionApproval {
		c.setStatus(ReceivedInitiation, "waiting for approval")
		c.peer.raise(Event{
			Type:       ConnectionApproval,
			Connection: c,
			Sender:     c.remote,
			Message:    c.RemoteHailMessage(),
		})
		return
	}

	c.setStatus(ReceivedInitiation, "received connect")
	c.approve(now)
}

func (c *Connection) approve(now time.Time) {
	c.setStatus(RespondedConnect, "approved")
	c.handshakeAttempts = 0
	c.sendHandshake(now, message.ConnectResponse)
}

func (c *Connection) receiveConnectResponse(m *message.Incoming, now time.Time) {
	switch c.Status() {
	case InitiatedConnect:
		h, err := readHandshake(m)
		if err != nil {
			c.log().WithError(err).Debug("Dropping malformed ConnectResponse")
			return
		}
		if err := c.acceptRemoteHandshake(h, m.ReceiveTime); err != nil {
			c.disconnect(now, err.Error(), true)
			return
		}

		if c.handshakeAttempts == 1 {
			c.updateRoundTripTime(now.Sub(c.lastHandshakeSent))
		}

		c.sendLibrary(message.ConnectionEstablished, c.peer.pool.Get())
		c.flushDatagram()
		c.establish(now)

	case Connected:
		// Our ConnectionEstablished got lost.
		c.sendLibrary(message.ConnectionEstablished, c.peer.pool.Get())
		c.flushDatagram()

	default:
		c.log().Trace("Ignoring ConnectResponse")
	}
}

func (c *Connection) receiveConnectionEstablished(now time.Time) {
	if c.Status() != RespondedConnect {
		c.log().Trace("Ignoring ConnectionEstablished")
		return
	}

	if c.handshakeAttempts == 1 {
		c.updateRoundTripTime(now.Sub(c.lastHandshakeSent))
	}
	c.establish(now)
}

// establish promotes a handshaking Connection.
func (c *Connection) establish(now time.Time) {
	c.peer.promoteConnection(c)
	c.lastHeard = now
	c.setStatus(Connected, "connected")
	c.sendPing(now)
	c.flushDatagram()
}

// handshakeHeartbeat resends handshakes and aborts unanswered ones.
func (c *Connection) handshakeHeartbeat(now time.Time) {
	conf := c.peer.conf

	switch status := c.Status(); status {
	case ReceivedInitiation:
		timeout := time.Duration(conf.MaximumHandshakeAttempts) * conf.ResendHandshakeInterval
		if now.Sub(c.handshakeStarted) > timeout {
			c.disconnect(now, "connection approval timed out", true)
		}

	case InitiatedConnect, RespondedConnect:
		if now.Sub(c.lastHandshakeSent) < conf.ResendHandshakeInterval {
			return
		}
		if c.handshakeAttempts >= conf.MaximumHandshakeAttempts {
			c.disconnect(now, "failed to establish connection, no response from remote", false)
			return
		}

		if status == InitiatedConnect {
			c.sendHandshake(now, message.Connect)
		} else {
			c.sendHandshake(now, message.ConnectResponse)
		}
	}
}
