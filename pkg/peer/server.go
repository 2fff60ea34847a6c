// SPDX-FileCopyrightText: 2024 The peernet Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package peer

import (
	"github.com/dtn7/peernet/pkg/channel"
	"github.com/dtn7/peernet/pkg/message"
)

// Server is a Peer which always accepts incoming connections.
type Server struct {
	*Peer
}

// NewServer creates a Server. AcceptIncomingConnections is enabled.
func NewServer(conf Configuration) (*Server, error) {
	conf.AcceptIncomingConnections = true

	p, err := NewPeer(conf)
	if err != nil {
		return nil, err
	}
	return &Server{Peer: p}, nil
}

// SendToAll sends a message to all established Connections except one, which might be nil.
func (s *Server) SendToAll(msg *message.Outgoing, except *Connection, method message.DeliveryMethod, sequenceChannel int) channel.SendResult {
	var recipients []*Connection
	for _, c := range s.Connections() {
		if c != except {
			recipients = append(recipients, c)
		}
	}
	return s.SendMessageToAll(msg, recipients, method, sequenceChannel)
}
