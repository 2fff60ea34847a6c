// SPDX-FileCopyrightText: 2024 The peernet Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package discovery

import (
	"fmt"
	"net"
	"time"

	"github.com/gofrs/uuid"
	"github.com/hashicorp/go-multierror"
	"github.com/schollz/peerdiscovery"
	log "github.com/sirupsen/logrus"
)

// ConnectFunc is called for each discovered peer of the same application, e.g., to connect to it.
type ConnectFunc func(remote *net.UDPAddr, announcement Announcement)

// Manager publishes and receives Announcements.
type Manager struct {
	AppIdentifier    string
	UniqueIdentifier uuid.UUID
	ConnectFunc      ConnectFunc

	stopChan4 chan struct{}
	stopChan6 chan struct{}
}

// NewManager for Announcements will be created and started. Announcements of other applications or of the own
// unique identifier are ignored.
func NewManager(
	appIdentifier string, uniqueIdentifier uuid.UUID, connectFunc ConnectFunc,
	announcements []Announcement, announcementInterval time.Duration,
	ipv4, ipv6 bool) (*Manager, error) {

	var manager = &Manager{
		AppIdentifier:    appIdentifier,
		UniqueIdentifier: uniqueIdentifier,
		ConnectFunc:      connectFunc,
	}
	if ipv4 {
		manager.stopChan4 = make(chan struct{})
	}
	if ipv6 {
		manager.stopChan6 = make(chan struct{})
	}

	manager.log().WithFields(log.Fields{
		"interval":      announcementInterval,
		"IPv4":          ipv4,
		"IPv6":          ipv6,
		"announcements": announcements,
	}).Info("Starting Manager")

	msg, err := MarshalAnnouncements(announcements)
	if err != nil {
		return nil, err
	}

	sets := []struct {
		active           bool
		multicastAddress string
		stopChan         chan struct{}
		ipVersion        peerdiscovery.IPVersion
		notify           func(discovered peerdiscovery.Discovered)
	}{
		{ipv4, address4, manager.stopChan4, peerdiscovery.IPv4, manager.notify},
		{ipv6, address6, manager.stopChan6, peerdiscovery.IPv6, manager.notify6},
	}

	for _, set := range sets {
		if !set.active {
			continue
		}

		settings := peerdiscovery.Settings{
			Limit:            -1,
			Port:             fmt.Sprintf("%d", port),
			MulticastAddress: set.multicastAddress,
			Payload:          msg,
			Delay:            announcementInterval,
			TimeLimit:        -1,
			StopChan:         set.stopChan,
			AllowSelf:        true,
			IPVersion:        set.ipVersion,
			Notify:           set.notify,
		}

		discoverErrChan := make(chan error, 1)
		go func() {
			_, discoverErr := peerdiscovery.Discover(settings)
			discoverErrChan <- discoverErr
		}()

		select {
		case discoverErr := <-discoverErrChan:
			if discoverErr != nil {
				return nil, discoverErr
			}

		case <-time.After(time.Second):
		}
	}

	return manager, nil
}

func (manager *Manager) log() *log.Entry {
	return log.WithFields(log.Fields{
		"discovery": manager.AppIdentifier,
		"peer":      manager.UniqueIdentifier,
	})
}

func (manager *Manager) notify6(discovered peerdiscovery.Discovered) {
	discovered.Address = fmt.Sprintf("[%s]", discovered.Address)

	manager.notify(discovered)
}

func (manager *Manager) notify(discovered peerdiscovery.Discovered) {
	announcements, err := UnmarshalAnnouncements(discovered.Payload)
	if err != nil {
		manager.log().WithError(err).WithField("remote", discovered.Address).Warn(
			"Peer discovery failed to parse incoming package")
		return
	}

	for _, announcement := range announcements {
		go manager.handleDiscovery(announcement, discovered.Address)
	}
}

func (manager *Manager) handleDiscovery(announcement Announcement, addr string) {
	logger := manager.log().WithFields(log.Fields{
		"remote":  addr,
		"message": announcement,
	})

	if announcement.AppIdentifier != manager.AppIdentifier || announcement.UniqueIdentifier == manager.UniqueIdentifier {
		logger.Trace("Peer discovery ignores a foreign or own announcement")
		return
	}

	remote, err := net.ResolveUDPAddr("udp", fmt.Sprintf("%s:%d", addr, announcement.Port))
	if err != nil {
		logger.WithError(err).Warn("Peer discovery failed to resolve the announcing address")
		return
	}

	logger.Debug("Peer discovery received an announcement")
	manager.ConnectFunc(remote, announcement)
}

// Close this Manager. Each multicast loop is given a second to stop.
func (manager *Manager) Close() error {
	var errs *multierror.Error

	for _, set := range []struct {
		name     string
		stopChan chan struct{}
	}{
		{"IPv4", manager.stopChan4},
		{"IPv6", manager.stopChan6},
	} {
		if set.stopChan == nil {
			continue
		}

		select {
		case set.stopChan <- struct{}{}:
		case <-time.After(time.Second):
			errs = multierror.Append(errs, fmt.Errorf("%s discovery did not stop", set.name))
		}
	}

	return errs.ErrorOrNil()
}
