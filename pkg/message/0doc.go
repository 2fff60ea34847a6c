// SPDX-FileCopyrightText: 2024 The peernet Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package message provides the bit-packed message codec every datagram of
// the transport is built from.
//
// A Buffer is a bit-addressable byte slice with a write length and a read
// cursor, both counted in bits. Values are written most significant bit
// first, thus byte-aligned integers are big-endian on the wire. Each Read
// method has a Peek twin which leaves the cursor untouched. Reading beyond the
// written length results in an ErrBufferOverflow and never in garbage.
//
// Incoming and Outgoing wrap a Buffer with the metadata of a received or a
// to be sent message. Outgoing messages are handed out and taken back by a
// Pool. Each recycling advances the message's generation, which invalidates
// all Handles to the previous incarnation.
//
// Finally, the wire framing is defined in this package: the Type of a
// message, encoding its DeliveryMethod and sequence channel, the Header in
// front of each message within a datagram, the FragmentHeader for chunks of
// oversized messages and the sequence number arithmetic.
package message
