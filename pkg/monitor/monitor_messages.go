// SPDX-FileCopyrightText: 2024 The peernet Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package monitor

import (
	"time"

	"github.com/dtn7/peernet/pkg/peer"
)

// PeerInfo describes a JSON response for /peer.
type PeerInfo struct {
	AppIdentifier    string          `json:"app_identifier"`
	UniqueIdentifier string          `json:"unique_identifier"`
	Port             int             `json:"port"`
	Running          bool            `json:"running"`
	Connections      int             `json:"connections"`
	Handshakes       int             `json:"handshakes"`
	Statistics       peer.Statistics `json:"statistics"`
}

func newPeerInfo(p *peer.Peer) PeerInfo {
	return PeerInfo{
		AppIdentifier:    p.Configuration().AppIdentifier,
		UniqueIdentifier: p.UniqueIdentifier().String(),
		Port:             p.Port(),
		Running:          p.IsRunning(),
		Connections:      p.ConnectionCount(),
		Handshakes:       p.HandshakeCount(),
		Statistics:       p.Statistics(),
	}
}

// ConnectionInfo describes a single Connection in a JSON response for /connections or /connections/{id}.
type ConnectionInfo struct {
	ID               uint64          `json:"id"`
	Remote           string          `json:"remote"`
	UniqueIdentifier string          `json:"unique_identifier"`
	Status           string          `json:"status"`
	MTU              int             `json:"mtu"`
	RoundTripTime    time.Duration   `json:"round_trip_time"`
	Pending          bool            `json:"pending"`
	Statistics       peer.Statistics `json:"statistics"`
}

func newConnectionInfo(c *peer.Connection) ConnectionInfo {
	return ConnectionInfo{
		ID:               c.ID(),
		Remote:           c.RemoteEndpoint().String(),
		UniqueIdentifier: c.RemoteUniqueIdentifier().String(),
		Status:           c.Status().String(),
		MTU:              c.MTU(),
		RoundTripTime:    c.AverageRoundTripTime(),
		Pending:          c.HasPendingMessages(),
		Statistics:       c.Statistics(),
	}
}

// ErrorResponse describes a JSON response for failed requests.
type ErrorResponse struct {
	Error string `json:"error"`
}

// EventMessage describes a JSON message sent to /events clients for each published Event.
type EventMessage struct {
	Type       string        `json:"type"`
	Time       time.Time     `json:"time"`
	Connection uint64        `json:"connection,omitempty"`
	Remote     string        `json:"remote,omitempty"`
	Status     string        `json:"status,omitempty"`
	Reason     string        `json:"reason,omitempty"`
	Latency    time.Duration `json:"latency,omitempty"`
	Size       int           `json:"size,omitempty"`
	Error      string        `json:"error,omitempty"`
}

func newEventMessage(e peer.Event) EventMessage {
	em := EventMessage{
		Type:   e.Type.String(),
		Time:   time.Now(),
		Reason: e.Reason,
	}

	if e.Connection != nil {
		em.Connection = e.Connection.ID()
	}
	if e.Sender != nil {
		em.Remote = e.Sender.String()
	}

	switch e.Type {
	case peer.StatusChanged:
		em.Status = e.Status.String()
	case peer.ConnectionLatencyUpdated:
		em.Latency = e.Latency
	case peer.Error:
		if e.Err != nil {
			em.Error = e.Err.Error()
		}
	}

	if e.Message != nil {
		em.Size = e.Message.LengthBytes()
	}

	return em
}
