// SPDX-FileCopyrightText: 2024 The peernet Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package monitor

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"
)

const (
	eventClientBuffer = 256
	writeTimeout      = 5 * time.Second
)

// eventClient is a WebSocket connection of /events.
type eventClient struct {
	conn   *websocket.Conn
	outbox chan EventMessage

	stop      chan struct{}
	closeOnce sync.Once
	closeErr  error
}

func newEventClient(conn *websocket.Conn) *eventClient {
	return &eventClient{
		conn:   conn,
		outbox: make(chan EventMessage, eventClientBuffer),
		stop:   make(chan struct{}),
	}
}

func (client *eventClient) String() string {
	return client.conn.RemoteAddr().String()
}

func (client *eventClient) log() *log.Entry {
	return log.WithField("event client", client.String())
}

func (client *eventClient) close() error {
	client.closeOnce.Do(func() {
		close(client.stop)

		closeMsg := websocket.FormatCloseMessage(websocket.CloseGoingAway, "monitor closed")
		_ = client.conn.WriteControl(websocket.CloseMessage, closeMsg, time.Now().Add(writeTimeout))

		client.closeErr = client.conn.Close()
	})
	return client.closeErr
}

// handleReceiver writes queued EventMessages until the client is closed.
func (client *eventClient) handleReceiver() {
	defer func() { _ = client.close() }()

	for {
		select {
		case <-client.stop:
			return

		case em := <-client.outbox:
			_ = client.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := client.conn.WriteJSON(em); err != nil {
				client.log().WithError(err).Debug("Writing event errored")
				return
			}
		}
	}
}

// handleConn discards incoming messages and returns when the connection was closed.
func (client *eventClient) handleConn() {
	defer func() { _ = client.close() }()

	for {
		if _, _, err := client.conn.NextReader(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				client.log().WithError(err).Debug("Event client's connection errored")
			}
			return
		}
	}
}
