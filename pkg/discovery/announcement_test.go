// SPDX-FileCopyrightText: 2024 The peernet Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package discovery

import (
	"net"
	"reflect"
	"testing"

	"github.com/gofrs/uuid"
)

func TestAnnouncementCbor(t *testing.T) {
	var tests = [][]Announcement{
		{},
		{{AppIdentifier: "chat", UniqueIdentifier: uuid.Must(uuid.NewV4()), Port: 8000}},
		{
			{AppIdentifier: "chat", UniqueIdentifier: uuid.Must(uuid.NewV4()), Port: 8000},
			{AppIdentifier: "game", UniqueIdentifier: uuid.Must(uuid.NewV4()), Port: 65535},
		},
	}

	for _, announcementsIn := range tests {
		buff, err := MarshalAnnouncements(announcementsIn)
		if err != nil {
			t.Fatalf("Encoding failed: %v", err)
		}

		announcementsOut, err := UnmarshalAnnouncements(buff)
		if err != nil {
			t.Fatalf("Decoding failed: %v", err)
		}

		if len(announcementsIn) != len(announcementsOut) {
			t.Fatalf("Decoded %d instead of %d Announcements", len(announcementsOut), len(announcementsIn))
		}
		for i := range announcementsIn {
			if !reflect.DeepEqual(announcementsIn[i], announcementsOut[i]) {
				t.Fatalf("Decoded Announcement differs: %v became %v", announcementsIn[i], announcementsOut[i])
			}
		}
	}
}

func TestAnnouncementCborInvalid(t *testing.T) {
	valid, err := MarshalAnnouncements([]Announcement{{AppIdentifier: "chat", UniqueIdentifier: uuid.Must(uuid.NewV4()), Port: 8000}})
	if err != nil {
		t.Fatal(err)
	}

	var tests = [][]byte{
		nil,
		{0x81},
		valid[:len(valid)-1],
		{0x9b, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff},
	}

	for _, data := range tests {
		if _, err := UnmarshalAnnouncements(data); err == nil {
			t.Errorf("Decoding %x did not fail", data)
		}
	}

	zeroPort, err := MarshalAnnouncements([]Announcement{{AppIdentifier: "chat", Port: 0}})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := UnmarshalAnnouncements(zeroPort); err == nil {
		t.Error("Decoding an Announcement without a port did not fail")
	}
}

func TestManagerHandleDiscovery(t *testing.T) {
	own := uuid.Must(uuid.NewV4())
	other := uuid.Must(uuid.NewV4())

	discovered := make(chan *net.UDPAddr, 4)
	manager := &Manager{
		AppIdentifier:    "chat",
		UniqueIdentifier: own,
		ConnectFunc: func(remote *net.UDPAddr, _ Announcement) {
			discovered <- remote
		},
	}

	manager.handleDiscovery(Announcement{AppIdentifier: "game", UniqueIdentifier: other, Port: 1}, "10.0.0.1")
	manager.handleDiscovery(Announcement{AppIdentifier: "chat", UniqueIdentifier: own, Port: 1}, "10.0.0.1")
	manager.handleDiscovery(Announcement{AppIdentifier: "chat", UniqueIdentifier: other, Port: 4242}, "10.0.0.2")
	manager.handleDiscovery(Announcement{AppIdentifier: "chat", UniqueIdentifier: other, Port: 4243}, "[fe80::1]")

	if l := len(discovered); l != 2 {
		t.Fatalf("%d peers were discovered instead of 2", l)
	}
	if remote := <-discovered; remote.String() != "10.0.0.2:4242" {
		t.Fatalf("Unexpected remote %v", remote)
	}
	if remote := <-discovered; remote.Port != 4243 || !remote.IP.Equal(net.ParseIP("fe80::1")) {
		t.Fatalf("Unexpected remote %v", remote)
	}

	if err := manager.Close(); err != nil {
		t.Fatalf("Closing an idle Manager failed: %v", err)
	}
}
