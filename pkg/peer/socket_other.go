// SPDX-FileCopyrightText: 2024 The peernet Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

//go:build !linux
// +build !linux

package peer

import (
	"syscall"
)

// This file implements the socket configuration for operating systems next to Linux. There, datagrams might be
// fragmented by the IP layer, so the MTU only adapts through probing.

func listenControl(_, _ string, _ syscall.RawConn) error {
	return nil
}

func isMessageTooLong(_ error) bool {
	return false
}
