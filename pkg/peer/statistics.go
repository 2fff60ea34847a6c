// SPDX-FileCopyrightText: 2024 The peernet Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package peer

import (
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"github.com/VictoriaMetrics/metrics"
)

// Statistics is a snapshot of a Peer's or a Connection's counters.
type Statistics struct {
	SentPackets     uint64
	ReceivedPackets uint64
	SentBytes       uint64
	ReceivedBytes   uint64

	SentMessages     uint64
	ReceivedMessages uint64
	ResentMessages   uint64
	DroppedMessages  uint64

	ReceivedFragments uint64
}

func (s Statistics) String() string {
	return fmt.Sprintf("sent %d packets (%d bytes, %d messages, %d resent, %d dropped), "+
		"received %d packets (%d bytes, %d messages, %d fragments)",
		s.SentPackets, s.SentBytes, s.SentMessages, s.ResentMessages, s.DroppedMessages,
		s.ReceivedPackets, s.ReceivedBytes, s.ReceivedMessages, s.ReceivedFragments)
}

// connectionCounters are owned by a Connection and updated by the transport goroutine.
type connectionCounters struct {
	sentPackets, receivedPackets    atomic.Uint64
	sentBytes, receivedBytes        atomic.Uint64
	sentMessages, receivedMessages  atomic.Uint64
	resentMessages, droppedMessages atomic.Uint64
	receivedFragments               atomic.Uint64
}

func (cc *connectionCounters) snapshot() Statistics {
	return Statistics{
		SentPackets:       cc.sentPackets.Load(),
		ReceivedPackets:   cc.receivedPackets.Load(),
		SentBytes:         cc.sentBytes.Load(),
		ReceivedBytes:     cc.receivedBytes.Load(),
		SentMessages:      cc.sentMessages.Load(),
		ReceivedMessages:  cc.receivedMessages.Load(),
		ResentMessages:    cc.resentMessages.Load(),
		DroppedMessages:   cc.droppedMessages.Load(),
		ReceivedFragments: cc.receivedFragments.Load(),
	}
}

// peerMetrics exports a Peer's counters in the Prometheus format.
type peerMetrics struct {
	set *metrics.Set

	sentPackets, receivedPackets    *metrics.Counter
	sentBytes, receivedBytes        *metrics.Counter
	sentMessages, receivedMessages  *metrics.Counter
	resentMessages, droppedMessages *metrics.Counter
	receivedFragments               *metrics.Counter
	failedDatagrams                 *metrics.Counter

	roundTripTime *metrics.Histogram
}

func newPeerMetrics(p *Peer) *peerMetrics {
	set := metrics.NewSet()
	label := fmt.Sprintf(`{peer=%q}`, p.uniqueIdentifier.String())

	pm := &peerMetrics{
		set: set,

		sentPackets:       set.NewCounter("peernet_sent_packets_total" + label),
		receivedPackets:   set.NewCounter("peernet_received_packets_total" + label),
		sentBytes:         set.NewCounter("peernet_sent_bytes_total" + label),
		receivedBytes:     set.NewCounter("peernet_received_bytes_total" + label),
		sentMessages:      set.NewCounter("peernet_sent_messages_total" + label),
		receivedMessages:  set.NewCounter("peernet_received_messages_total" + label),
		resentMessages:    set.NewCounter("peernet_resent_messages_total" + label),
		droppedMessages:   set.NewCounter("peernet_dropped_messages_total" + label),
		receivedFragments: set.NewCounter("peernet_received_fragments_total" + label),
		failedDatagrams:   set.NewCounter("peernet_failed_datagrams_total" + label),

		roundTripTime: set.NewHistogram("peernet_round_trip_time_seconds" + label),
	}

	set.NewGauge("peernet_connections"+label, func() float64 {
		return float64(p.ConnectionCount())
	})
	set.NewGauge("peernet_handshakes"+label, func() float64 {
		return float64(p.handshakes.Size())
	})
	set.NewGauge("peernet_recycled_messages"+label, func() float64 {
		return float64(p.pool.Size())
	})

	return pm
}

func (pm *peerMetrics) sentDatagram(cc *connectionCounters, size int) {
	pm.sentPackets.Inc()
	pm.sentBytes.Add(size)
	if cc != nil {
		cc.sentPackets.Add(1)
		cc.sentBytes.Add(uint64(size))
	}
}

func (pm *peerMetrics) receivedDatagram(cc *connectionCounters, size int) {
	pm.receivedPackets.Inc()
	pm.receivedBytes.Add(size)
	if cc != nil {
		cc.receivedPackets.Add(1)
		cc.receivedBytes.Add(uint64(size))
	}
}

func (pm *peerMetrics) sentMessage(cc *connectionCounters, resend bool) {
	if resend {
		pm.resentMessages.Inc()
		cc.resentMessages.Add(1)
	} else {
		pm.sentMessages.Inc()
		cc.sentMessages.Add(1)
	}
}

func (pm *peerMetrics) receivedMessage(cc *connectionCounters) {
	pm.receivedMessages.Inc()
	cc.receivedMessages.Add(1)
}

func (pm *peerMetrics) receivedFragment(cc *connectionCounters) {
	pm.receivedFragments.Inc()
	cc.receivedFragments.Add(1)
}

func (pm *peerMetrics) droppedMessage(cc *connectionCounters) {
	pm.droppedMessages.Inc()
	cc.droppedMessages.Add(1)
}

func (pm *peerMetrics) measuredRoundTrip(rtt time.Duration) {
	pm.roundTripTime.Update(rtt.Seconds())
}

func (pm *peerMetrics) snapshot() Statistics {
	return Statistics{
		SentPackets:       pm.sentPackets.Get(),
		ReceivedPackets:   pm.receivedPackets.Get(),
		SentBytes:         pm.sentBytes.Get(),
		ReceivedBytes:     pm.receivedBytes.Get(),
		SentMessages:      pm.sentMessages.Get(),
		ReceivedMessages:  pm.receivedMessages.Get(),
		ResentMessages:    pm.resentMessages.Get(),
		DroppedMessages:   pm.droppedMessages.Get(),
		ReceivedFragments: pm.receivedFragments.Get(),
	}
}

// WritePrometheus writes this Peer's metrics in the Prometheus text format.
func (p *Peer) WritePrometheus(w io.Writer) {
	p.metrics.set.WritePrometheus(w)
}
