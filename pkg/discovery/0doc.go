// SPDX-FileCopyrightText: 2024 The peernet Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package discovery announces peers within the local network through UDP multicast and reports the peers of the
// same application announced by others.
//
// This complements the unicast discovery of a peer.Peer, which requires a known port, by a periodic multicast on
// a well-known address.
package discovery

const (
	// address4 is the default multicast IPv4 address used for discovery.
	address4 = "224.23.23.24"

	// address6 is the default multicast IPv6 address used for discovery.
	address6 = "ff02::24"

	// port is the default multicast UDP port used for discovery.
	port = 35040
)
