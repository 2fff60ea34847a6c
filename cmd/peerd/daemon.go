// SPDX-FileCopyrightText: 2024 The peernet Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package main

import (
	"errors"
	"net"
	"time"

	"github.com/hashicorp/go-multierror"
	log "github.com/sirupsen/logrus"

	"github.com/dtn7/peernet/pkg/discovery"
	"github.com/dtn7/peernet/pkg/message"
	"github.com/dtn7/peernet/pkg/monitor"
	"github.com/dtn7/peernet/pkg/peer"
)

// daemon bundles a Server with its optional discovery Manager and Monitor.
type daemon struct {
	server    *peer.Server
	discovery *discovery.Manager
	monitor   *monitor.Monitor

	echo bool
	hail string

	eventsDone chan struct{}
}

// startDaemon from a parsed configuration.
func startDaemon(conf tomlConfig) (d *daemon, err error) {
	pc, err := conf.peerConfiguration()
	if err != nil {
		return nil, err
	}

	server, err := peer.NewServer(pc)
	if err != nil {
		return nil, err
	}
	if err = server.Start(); err != nil {
		return nil, err
	}

	d = &daemon{
		server:     server,
		echo:       conf.Core.Echo,
		hail:       conf.Core.Hail,
		eventsDone: make(chan struct{}),
	}

	// Monitor, before handling events to publish them from the start
	if conf.Monitor.Listen != "" {
		if d.monitor, err = monitor.NewMonitor(server.Peer, conf.Monitor.Listen); err != nil {
			_ = server.Shutdown("monitor failed")
			return nil, err
		}
	}

	go d.handleEvents()

	// Connect
	for _, cc := range conf.Connect {
		remote, resolveErr := net.ResolveUDPAddr("udp", cc.Endpoint)
		if resolveErr != nil {
			log.WithError(resolveErr).WithField("endpoint", cc.Endpoint).Warn("Failed to resolve a peer")
			continue
		}
		d.connect(remote, discovery.Announcement{})
	}

	// Discovery
	if conf.Discovery.IPv4 || conf.Discovery.IPv6 {
		announcement := discovery.Announcement{
			AppIdentifier:    pc.AppIdentifier,
			UniqueIdentifier: server.UniqueIdentifier(),
			Port:             uint(server.Port()),
		}

		d.discovery, err = discovery.NewManager(
			pc.AppIdentifier, server.UniqueIdentifier(), d.connect,
			[]discovery.Announcement{announcement}, time.Duration(conf.Discovery.Interval)*time.Second,
			conf.Discovery.IPv4, conf.Discovery.IPv6)
		if err != nil {
			_ = d.close()
			return nil, err
		}
	}

	log.WithFields(log.Fields{
		"peer": server.UniqueIdentifier(),
		"port": server.Port(),
	}).Info("Started peerd")

	return d, nil
}

// connect to a configured or discovered remote peer, carrying the hail, if configured.
func (d *daemon) connect(remote *net.UDPAddr, _ discovery.Announcement) {
	logger := log.WithField("remote", remote)

	var hail *message.Outgoing
	if d.hail != "" {
		hail = d.server.PrepareMessage()
		hail.WriteString(d.hail)
	}

	if _, err := d.server.Connect(remote, hail); errors.Is(err, peer.ErrAlreadyConnected) {
		logger.Debug("Remote peer is already known")
	} else if err != nil {
		logger.WithError(err).Warn("Failed to connect to remote peer")
	} else {
		logger.Info("Connecting to remote peer")
	}
}

// handleEvents logs each Event, answers approvals and echoes data, if configured.
func (d *daemon) handleEvents() {
	defer close(d.eventsDone)

	for e := range d.server.Events() {
		if d.monitor != nil {
			d.monitor.Publish(e)
		}

		logger := log.WithField("event", e.Type.String())
		if e.Sender != nil {
			logger = logger.WithField("remote", e.Sender)
		}

		switch e.Type {
		case peer.StatusChanged:
			logger.WithFields(log.Fields{
				"status": e.Status,
				"reason": e.Reason,
			}).Info("Connection changed its status")

		case peer.ConnectionApproval:
			d.approve(e, logger)

		case peer.Data:
			logger.WithField("message", e.Message).Debug("Received message")
			if d.echo && e.Connection != nil {
				d.echoMessage(e, logger)
			}

		case peer.UnconnectedData, peer.DiscoveryRequest, peer.DiscoveryResponse:
			logger.Debug("Received unconnected message")

		case peer.ConnectionLatencyUpdated:
			logger.WithField("latency", e.Latency).Trace("Connection's latency was updated")

		case peer.Error:
			logger.WithError(e.Err).Warn("Peer reported an error")
		}
	}
}

// approve an incoming Connection whose hail matches the configured one.
func (d *daemon) approve(e peer.Event, logger *log.Entry) {
	var remoteHail string
	if e.Message != nil {
		remoteHail, _ = e.Message.ReadString()
	}

	if remoteHail != d.hail {
		logger.Info("Denying connection with a wrong hail")
		e.Connection.Deny("wrong hail")
		return
	}

	logger.Info("Approving connection")
	e.Connection.Approve(nil)
}

func (d *daemon) echoMessage(e peer.Event, logger *log.Entry) {
	reply := d.server.PrepareMessageWithCapacity(e.Message.LengthBytes())
	reply.WriteBytes(e.Message.Data())
	reply.Truncate(e.Message.LengthBits())

	result := e.Connection.SendMessage(reply, e.Message.DeliveryMethod(), e.Message.SequenceChannel())
	logger.WithField("result", result).Trace("Echoed message")
}

// close the daemon's components.
func (d *daemon) close() error {
	var errs *multierror.Error

	if d.discovery != nil {
		if err := d.discovery.Close(); err != nil {
			errs = multierror.Append(errs, err)
		}
	}

	if err := d.server.Shutdown("peerd shutting down"); err != nil {
		errs = multierror.Append(errs, err)
	}
	<-d.eventsDone

	if d.monitor != nil {
		if err := d.monitor.Close(); err != nil {
			errs = multierror.Append(errs, err)
		}
	}

	return errs.ErrorOrNil()
}
