// SPDX-FileCopyrightText: 2024 The peernet Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package peer

import (
	"fmt"
	"net"
	"sync"

	"github.com/dtn7/peernet/pkg/channel"
	"github.com/dtn7/peernet/pkg/message"
)

// Client is a Peer holding at most one Connection, to a server. Incoming connections are never accepted.
type Client struct {
	*Peer

	mutex  sync.Mutex
	server *Connection
}

// NewClient creates a Client. AcceptIncomingConnections is disabled.
func NewClient(conf Configuration) (*Client, error) {
	conf.AcceptIncomingConnections = false

	p, err := NewPeer(conf)
	if err != nil {
		return nil, err
	}
	return &Client{Peer: p}, nil
}

// Connect to a server. It fails with ErrAlreadyConnected while another Connection is established or handshaking.
func (cl *Client) Connect(remote *net.UDPAddr, hail *message.Outgoing) (*Connection, error) {
	cl.mutex.Lock()
	defer cl.mutex.Unlock()

	if cl.server != nil {
		if status := cl.server.Status(); status == Connected || status.IsHandshaking() {
			if hail != nil {
				cl.recycleUnsent(hail)
			}
			return nil, fmt.Errorf("%w to %s", ErrAlreadyConnected, cl.server.RemoteEndpoint())
		}
	}

	c, err := cl.Peer.Connect(remote, hail)
	if err != nil {
		return nil, err
	}
	cl.server = c
	return c, nil
}

// ServerConnection is the established Connection to the server, nil otherwise.
func (cl *Client) ServerConnection() *Connection {
	cl.mutex.Lock()
	defer cl.mutex.Unlock()

	if cl.server != nil && cl.server.Status() == Connected {
		return cl.server
	}
	return nil
}

// ConnectionStatus is the Status of the latest Connection, None if there was none.
func (cl *Client) ConnectionStatus() Status {
	cl.mutex.Lock()
	defer cl.mutex.Unlock()

	if cl.server == nil {
		return None
	}
	return cl.server.Status()
}

// Disconnect from the server, aborting a running handshake.
func (cl *Client) Disconnect(reason string) {
	cl.mutex.Lock()
	c := cl.server
	cl.mutex.Unlock()

	if c != nil {
		c.Disconnect(reason)
	}
}

// SendMessage to the server. Without an established Connection, the message is recycled and Failed returned.
func (cl *Client) SendMessage(msg *message.Outgoing, method message.DeliveryMethod, sequenceChannel int) channel.SendResult {
	c := cl.ServerConnection()
	if c == nil {
		cl.log().Debug("Failed to send message, not connected")
		cl.recycleUnsent(msg)
		return channel.Failed
	}
	return c.SendMessage(msg, method, sequenceChannel)
}
