// SPDX-FileCopyrightText: 2024 The peernet Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package peer

import (
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/dtn7/peernet/pkg/message"
)

const (
	// minimumResendDelay is added to the scaled round trip time for the resend delay.
	minimumResendDelay = 25 * time.Millisecond

	// mtuProbeResolution ends the MTU search once the bounds are this close.
	mtuProbeResolution = 8
)

// resendDelay derives the time to wait for an acknowledgment from the average round trip time.
func resendDelay(averageRTT time.Duration) time.Duration {
	return minimumResendDelay + time.Duration(2.1*float64(averageRTT))
}

// heartbeat performs a Connection's periodic housekeeping.
func (c *Connection) heartbeat(now time.Time) {
	status := c.Status()
	if status.IsHandshaking() {
		c.handshakeHeartbeat(now)
		return
	}
	if status != Connected {
		return
	}

	if now.Sub(c.lastHeard) > c.peer.conf.ConnectionTimeout {
		c.disconnect(now, "connection timed out", true)
		return
	}

	if now.Sub(c.lastPing) >= c.peer.conf.PingInterval {
		c.sendPing(now)
	}

	c.expandMTU(now)
	c.purgeReassemblies(now)
	c.flush(now)
}

func (c *Connection) sendPing(now time.Time) {
	c.pingNumber++
	c.pingSent = now
	c.lastPing = now

	m := c.peer.pool.GetWithCapacity(1)
	m.WriteUInt8(c.pingNumber)
	c.sendLibrary(message.Ping, m)
}

func (c *Connection) receivePing(m *message.Incoming) {
	number, err := m.ReadUInt8()
	if err != nil {
		c.log().WithError(err).Debug("Dropping malformed Ping")
		return
	}

	pong := c.peer.pool.GetWithCapacity(1)
	pong.WriteUInt8(number)
	c.sendLibrary(message.Pong, pong)
	c.flushDatagram()
}

func (c *Connection) receivePong(m *message.Incoming, now time.Time) {
	number, err := m.ReadUInt8()
	if err != nil {
		c.log().WithError(err).Debug("Dropping malformed Pong")
		return
	}
	if number != c.pingNumber || c.pingSent.IsZero() {
		c.log().WithField("pong", number).Trace("Ignoring outdated Pong")
		return
	}

	c.updateRoundTripTime(now.Sub(c.pingSent))
	c.pingSent = time.Time{}
}

// updateRoundTripTime smooths a new round trip time sample into the average.
func (c *Connection) updateRoundTripTime(rtt time.Duration) {
	if rtt < 0 {
		rtt = 0
	}

	avg := rtt
	if c.hasRTT {
		avg = time.Duration(0.7*float64(c.AverageRoundTripTime()) + 0.3*float64(rtt))
	}
	c.hasRTT = true
	c.averageRTT.Store(int64(avg))

	c.peer.metrics.measuredRoundTrip(rtt)

	c.log().WithFields(log.Fields{
		"sample":  rtt,
		"average": avg,
	}).Trace("Measured round trip time")

	c.peer.raise(Event{
		Type:       ConnectionLatencyUpdated,
		Connection: c,
		Sender:     c.remote,
		Latency:    avg,
	})
}

// mtuExpansion is the state of the binary search for a Connection's MTU.
type mtuExpansion struct {
	largestSuccess  int
	smallestFailure int
	probeSize       int
	failedAttempts  int
	lastProbe       time.Time
	finished        bool
}

func newMTUExpansion(conf Configuration) mtuExpansion {
	return mtuExpansion{
		largestSuccess:  conf.InitialMTU(),
		smallestFailure: conf.MaximumTransmissionUnit + 1,
		finished:        !conf.AutoExpandMTU,
	}
}

// expandMTU sends the next MTU probe if one is due.
func (c *Connection) expandMTU(now time.Time) {
	exp := &c.mtuExpansion
	if exp.finished || now.Sub(exp.lastProbe) < c.peer.conf.ExpandMTUFrequency {
		return
	}

	if exp.probeSize != 0 {
		exp.failedAttempts++
		if exp.failedAttempts >= c.peer.conf.ExpandMTUFailAttempts {
			c.log().WithField("size", exp.probeSize).Debug("MTU probe remained unanswered")
			exp.smallestFailure = exp.probeSize
			exp.probeSize = 0
			exp.failedAttempts = 0
		}
	}

	if exp.smallestFailure-exp.largestSuccess <= mtuProbeResolution {
		exp.finished = true
		c.log().WithField("mtu", c.MTU()).Info("Finished MTU expansion")
		return
	}

	size := exp.probeSize
	if size == 0 {
		size = (exp.largestSuccess + exp.smallestFailure) / 2
	}
	c.sendMTUProbe(now, size)
}

// sendMTUProbe sends a single datagram of the given size, bypassing the datagram coalescing.
func (c *Connection) sendMTUProbe(now time.Time, size int) {
	exp := &c.mtuExpansion
	exp.lastProbe = now

	c.flushDatagram()

	padding := size - message.HeaderSize
	if c.peer.encryption != nil {
		padding -= c.peer.encryption.Overhead()
	}

	probe := c.peer.pool.GetWithCapacity(padding)
	probe.WriteBytes(make([]byte, padding))

	datagram := message.NewBuffer(size)
	message.AppendMessage(datagram, message.ExpandMTURequest, 0, probe)
	c.peer.pool.Recycle(probe)

	err := c.peer.sendDatagram(&c.counters, datagram.Data(), c.remote)
	switch {
	case err == nil:
		exp.probeSize = size
	case isMessageTooLong(err):
		c.log().WithField("size", size).Debug("MTU probe exceeds the local path MTU")
		exp.smallestFailure = size
		exp.probeSize = 0
		exp.failedAttempts = 0
	default:
		c.log().WithError(err).Warn("Failed to send MTU probe")
	}
}

func (c *Connection) receiveMTUProbe(datagramSize int) {
	m := c.peer.pool.GetWithCapacity(4)
	m.WriteUInt32(uint32(datagramSize))
	c.sendLibrary(message.ExpandMTUSuccess, m)
	c.flushDatagram()
}

func (c *Connection) receiveMTUSuccess(m *message.Incoming) {
	v, err := m.ReadUInt32()
	if err != nil {
		c.log().WithError(err).Debug("Dropping malformed ExpandMTUSuccess")
		return
	}

	size := int(v)
	exp := &c.mtuExpansion
	if size <= exp.largestSuccess || size >= exp.smallestFailure {
		return
	}

	exp.largestSuccess = size
	exp.probeSize = 0
	exp.failedAttempts = 0
	exp.lastProbe = time.Time{}
	c.currentMTU.Store(int32(size))

	c.log().WithField("mtu", size).Debug("Expanded MTU")
}

// shrinkMTU reacts to a datagram rejected as too large by the local network stack.
func (c *Connection) shrinkMTU(size int) {
	mtu := size - size/8
	if mtu < MinimumMTU {
		mtu = MinimumMTU
	}
	if mtu >= c.MTU() {
		return
	}

	c.currentMTU.Store(int32(mtu))
	exp := &c.mtuExpansion
	exp.largestSuccess = mtu
	if size < exp.smallestFailure {
		exp.smallestFailure = size
	}

	c.log().WithField("mtu", mtu).Warn("Shrunk MTU after an oversized datagram")
}
