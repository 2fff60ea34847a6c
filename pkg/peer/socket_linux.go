// SPDX-FileCopyrightText: 2024 The peernet Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

//go:build linux
// +build linux

package peer

import (
	"errors"
	"syscall"

	"golang.org/x/sys/unix"
)

// Within this file, Linux-specific socket options are configured for the Peer's UDP socket. The kernel is told to
// never fragment outgoing datagrams, so oversized datagrams fail with EMSGSIZE and the Connection's MTU can
// adapt. Broadcasts are allowed for the discovery of local peers.
//
// The socket options are based on the Linux ip(7), ipv6(7) and socket(7) manual pages.

// listenControl is the net.ListenConfig's Control function to set the socket options.
func listenControl(network, _ string, rawConn syscall.RawConn) (err error) {
	type option struct{ level, opt, value int }

	opts := []option{{unix.SOL_SOCKET, unix.SO_BROADCAST, 1}}
	if network == "udp6" {
		opts = append(opts, option{unix.IPPROTO_IPV6, unix.IPV6_MTU_DISCOVER, unix.IPV6_PMTUDISC_DO})
	} else {
		opts = append(opts, option{unix.IPPROTO_IP, unix.IP_MTU_DISCOVER, unix.IP_PMTUDISC_DO})
	}

	ctrlErr := rawConn.Control(func(fd uintptr) {
		for _, o := range opts {
			if err = unix.SetsockoptInt(int(fd), o.level, o.opt, o.value); err != nil {
				return
			}
		}
	})
	if ctrlErr != nil {
		err = ctrlErr
	}

	return
}

// isMessageTooLong checks if a write failed because the datagram exceeded the path's MTU.
func isMessageTooLong(err error) bool {
	return errors.Is(err, unix.EMSGSIZE)
}
