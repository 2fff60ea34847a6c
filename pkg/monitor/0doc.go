// SPDX-FileCopyrightText: 2024 The peernet Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package monitor exposes a running peer.Peer over HTTP.
//
// The following endpoints are served:
//
//   - GET /peer lists the Peer's identity and statistics as a PeerInfo.
//   - GET /connections lists all established Connections as ConnectionInfos.
//   - GET /connections/{id} shows a single Connection, established or still handshaking.
//   - GET /metrics exports the Peer's counters in the Prometheus text format.
//   - GET /events upgrades to a WebSocket, streaming each published Event as an EventMessage.
//
// Events are not read from the Peer by the Monitor itself, because a Peer's Events channel has a single consumer.
// The consumer must hand them over by Publish.
package monitor
