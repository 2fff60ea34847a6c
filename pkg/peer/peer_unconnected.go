// SPDX-FileCopyrightText: 2024 The peernet Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package peer

import (
	"fmt"
	"net"

	"github.com/dtn7/peernet/pkg/message"
)

// SendUnconnectedMessage sends a message to an endpoint without a Connection. The Peer takes over the message.
// Unconnected messages are neither acknowledged nor fragmented.
func (p *Peer) SendUnconnectedMessage(msg *message.Outgoing, remote *net.UDPAddr) error {
	if !p.running.Load() {
		p.recycleUnsent(msg)
		return ErrNotRunning
	}

	limit := p.conf.InitialMTU()
	if p.encryption != nil {
		limit -= p.encryption.Overhead()
	}
	if size := message.EncodedSize(msg); size > limit {
		p.recycleUnsent(msg)
		return fmt.Errorf("unconnected message of %d bytes exceeds the MTU of %d bytes", size, limit)
	}

	return p.sendSingle(message.Unconnected, msg, remote)
}

func (p *Peer) receiveUnconnected(m *message.Incoming) {
	if !p.conf.EnableUnconnectedMessages {
		p.log().WithField("remote", m.Sender).Trace("Dropping unconnected message")
		return
	}

	p.raise(Event{
		Type:    UnconnectedData,
		Sender:  m.Sender,
		Message: m,
	})
}

// DiscoverLocalPeers broadcasts a discovery request to a port of the local network.
func (p *Peer) DiscoverLocalPeers(port int) error {
	return p.DiscoverKnownPeer(&net.UDPAddr{IP: net.IPv4bcast, Port: port})
}

// DiscoverKnownPeer sends a discovery request to a single endpoint.
func (p *Peer) DiscoverKnownPeer(remote *net.UDPAddr) error {
	if !p.running.Load() {
		return ErrNotRunning
	}

	m := p.pool.Get()
	m.WriteString(p.conf.AppIdentifier)
	return p.sendSingle(message.Discovery, m, remote)
}

// SendDiscoveryResponse answers a discovery request, optionally with a message of its own, nil otherwise.
func (p *Peer) SendDiscoveryResponse(msg *message.Outgoing, remote *net.UDPAddr) error {
	if !p.running.Load() {
		if msg != nil {
			p.recycleUnsent(msg)
		}
		return ErrNotRunning
	}

	response := p.pool.Get()
	response.WriteString(p.conf.AppIdentifier)
	response.WriteBytes(p.uniqueIdentifier.Bytes())
	response.WriteUInt16(uint16(p.port))
	if msg != nil {
		response.WriteBytes(msg.Data())
		p.recycleUnsent(msg)
	}

	return p.sendSingle(message.DiscoveryResponse, response, remote)
}

func (p *Peer) receiveDiscovery(m *message.Incoming) {
	appIdentifier, err := m.ReadString()
	if err != nil || appIdentifier != p.conf.AppIdentifier {
		p.log().WithField("remote", m.Sender).Trace("Ignoring discovery of another application")
		return
	}

	p.raise(Event{
		Type:   DiscoveryRequest,
		Sender: m.Sender,
	})

	if p.conf.EnableDiscoveryResponse {
		if err := p.SendDiscoveryResponse(nil, m.Sender); err != nil {
			p.log().WithError(err).WithField("remote", m.Sender).Debug("Failed to answer discovery")
		}
	}
}

// receiveDiscoveryResponse raises a DiscoveryResponse Event with the message's cursor placed behind the
// responder's identity, at the response's optional payload.
func (p *Peer) receiveDiscoveryResponse(m *message.Incoming) {
	appIdentifier, err := m.ReadString()
	if err != nil || appIdentifier != p.conf.AppIdentifier {
		p.log().WithField("remote", m.Sender).Trace("Ignoring discovery response of another application")
		return
	}
	if err := m.SkipBits((16 + 2) * 8); err != nil {
		p.log().WithError(err).WithField("remote", m.Sender).Debug("Dropping malformed discovery response")
		return
	}

	p.raise(Event{
		Type:    DiscoveryResponse,
		Sender:  m.Sender,
		Message: m,
	})
}
