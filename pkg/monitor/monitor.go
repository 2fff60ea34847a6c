// SPDX-FileCopyrightText: 2024 The peernet Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package monitor

import (
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/hashicorp/go-multierror"
	log "github.com/sirupsen/logrus"

	"github.com/dtn7/peernet/pkg/peer"
)

// Monitor serves a Peer's state over HTTP.
type Monitor struct {
	peer     *peer.Peer
	router   *mux.Router
	upgrader websocket.Upgrader

	listener   net.Listener
	httpServer *http.Server

	mutex   sync.Mutex
	clients map[*eventClient]struct{}
	closed  bool
}

func newMonitor(p *peer.Peer) *Monitor {
	m := &Monitor{
		peer:    p,
		router:  mux.NewRouter(),
		clients: make(map[*eventClient]struct{}),
	}

	m.router.HandleFunc("/peer", m.handlePeer).Methods(http.MethodGet)
	m.router.HandleFunc("/connections", m.handleConnections).Methods(http.MethodGet)
	m.router.HandleFunc("/connections/{id:[0-9]+}", m.handleConnection).Methods(http.MethodGet)
	m.router.HandleFunc("/metrics", m.handleMetrics).Methods(http.MethodGet)
	m.router.HandleFunc("/events", m.handleEvents).Methods(http.MethodGet)

	return m
}

// NewMonitor for a Peer, listening on an address like "localhost:8080".
func NewMonitor(p *peer.Peer, address string) (*Monitor, error) {
	listener, err := net.Listen("tcp", address)
	if err != nil {
		return nil, err
	}

	m := newMonitor(p)
	m.listener = listener
	m.httpServer = &http.Server{
		Handler:           m,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		if err := m.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			m.log().WithError(err).Warn("Monitor's HTTP server errored")
		}
	}()

	m.log().Info("Started Monitor")
	return m, nil
}

func (m *Monitor) log() *log.Entry {
	entry := log.WithField("peer", m.peer.UniqueIdentifier())
	if m.listener != nil {
		entry = entry.WithField("monitor", m.listener.Addr().String())
	}
	return entry
}

// Addr is the listening address of a Monitor created by NewMonitor.
func (m *Monitor) Addr() net.Addr {
	if m.listener == nil {
		return nil
	}
	return m.listener.Addr()
}

// ServeHTTP makes a Monitor a http.Handler, e.g., to be mounted in another server.
func (m *Monitor) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	m.router.ServeHTTP(w, r)
}

// Publish an Event to all clients of /events. Slow clients miss Events instead of blocking the caller.
func (m *Monitor) Publish(e peer.Event) {
	em := newEventMessage(e)

	m.mutex.Lock()
	defer m.mutex.Unlock()

	for client := range m.clients {
		select {
		case client.outbox <- em:
		default:
			m.log().WithField("client", client).Trace("Monitor dropped an event for a slow client")
		}
	}
}

// Close the HTTP server and all /events clients.
func (m *Monitor) Close() error {
	var errs *multierror.Error

	m.mutex.Lock()
	m.closed = true
	clients := m.clients
	m.clients = make(map[*eventClient]struct{})
	m.mutex.Unlock()

	for client := range clients {
		if err := client.close(); err != nil {
			errs = multierror.Append(errs, err)
		}
	}

	if m.httpServer != nil {
		if err := m.httpServer.Close(); err != nil {
			errs = multierror.Append(errs, err)
		}
	}

	m.log().Info("Closed Monitor")
	return errs.ErrorOrNil()
}

func (m *Monitor) register(client *eventClient) bool {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	if m.closed {
		return false
	}
	m.clients[client] = struct{}{}
	return true
}

func (m *Monitor) unregister(client *eventClient) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	delete(m.clients, client)
}

func (m *Monitor) clientCount() int {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	return len(m.clients)
}

func (m *Monitor) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(v); err != nil {
		m.log().WithError(err).Warn("Failed to write Monitor response")
	}
}

// handlePeer processes /peer GET requests.
func (m *Monitor) handlePeer(w http.ResponseWriter, _ *http.Request) {
	m.writeJSON(w, http.StatusOK, newPeerInfo(m.peer))
}

// handleConnections processes /connections GET requests.
func (m *Monitor) handleConnections(w http.ResponseWriter, _ *http.Request) {
	infos := []ConnectionInfo{}
	for _, c := range m.peer.Connections() {
		infos = append(infos, newConnectionInfo(c))
	}

	m.writeJSON(w, http.StatusOK, infos)
}

// handleConnection processes /connections/{id} GET requests.
func (m *Monitor) handleConnection(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseUint(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		m.writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}

	c, err := m.peer.Connection(id)
	if errors.Is(err, peer.ErrUnknownConnection) {
		m.writeJSON(w, http.StatusNotFound, ErrorResponse{Error: err.Error()})
		return
	} else if err != nil {
		m.writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: err.Error()})
		return
	}

	m.writeJSON(w, http.StatusOK, newConnectionInfo(c))
}

// handleMetrics processes /metrics GET requests.
func (m *Monitor) handleMetrics(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; version=0.0.4")
	m.peer.WritePrometheus(w)
}

// handleEvents upgrades /events GET requests to a WebSocket, streaming published Events.
func (m *Monitor) handleEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := m.upgrader.Upgrade(w, r, nil)
	if err != nil {
		m.log().WithError(err).Warn("Upgrading HTTP request to WebSocket errored")
		return
	}

	client := newEventClient(conn)
	if !m.register(client) {
		_ = client.close()
		return
	}

	m.log().WithField("client", client).Debug("Monitor registered an event client")

	go client.handleReceiver()
	client.handleConn()

	m.unregister(client)
	m.log().WithField("client", client).Debug("Monitor unregistered an event client")
}
