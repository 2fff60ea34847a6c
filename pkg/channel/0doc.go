// SPDX-FileCopyrightText: 2024 The peernet Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package channel implements the per sequence channel ARQ state machines.
//
// Each Connection hosts one Sender and one Receiver per pair of delivery method and sequence channel. A Sender
// admits outgoing messages based on its sliding window, assigns sequence numbers, retransmits reliable messages
// until they are acknowledged and slides its window on incoming acknowledgments. A Receiver acknowledges
// incoming messages and delivers them according to the guarantees of its delivery method.
//
// Both are driven by the transport goroutine of their Peer. Only Sender.Enqueue and Sender.GetAllowedSends may
// be called from other goroutines.
package channel
