// SPDX-FileCopyrightText: 2024 The peernet Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package peer

import (
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/willf/bitset"

	"github.com/dtn7/peernet/pkg/channel"
	"github.com/dtn7/peernet/pkg/message"
)

// maxReassemblyBytes limits the size of a single reassembled message.
const maxReassemblyBytes = 16 << 20

// reassembly collects the chunks of one fragment group.
type reassembly struct {
	header   message.FragmentHeader
	data     []byte
	received *bitset.BitSet
	started  time.Time
}

func newReassembly(fh message.FragmentHeader, now time.Time) *reassembly {
	return &reassembly{
		header:   fh,
		data:     make([]byte, (fh.TotalBits+7)/8),
		received: bitset.New(uint(fh.Chunks())),
		started:  now,
	}
}

func (r *reassembly) matches(fh message.FragmentHeader) bool {
	return r.header.TotalBits == fh.TotalBits && r.header.ChunkByteSize == fh.ChunkByteSize
}

func (r *reassembly) complete() bool {
	return r.received.Count() == uint(r.header.Chunks())
}

// needsFragmentation decides if a message must be split into chunks.
func (c *Connection) needsFragmentation(msg *message.Outgoing, method message.DeliveryMethod) bool {
	if msg.LengthBytes() > message.MaxPayloadBytes {
		return true
	}
	if message.EncodedSize(msg) <= c.datagramLimit() {
		return false
	}
	if method.IsReliable() {
		return true
	}
	return c.peer.conf.UnreliableSizeBehavior == NormalFragmentation
}

// enqueueFragmented splits a message into chunks, each fitting into a single datagram, and enqueues them into the
// same Sender. The original message's holder is released afterwards.
func (c *Connection) enqueueFragmented(s *channel.Sender, msg *message.Outgoing) channel.SendResult {
	defer c.peer.pool.Release(msg)

	totalBytes := msg.LengthBytes()
	if totalBytes > maxReassemblyBytes {
		c.log().WithField("bytes", totalBytes).Warn("Refusing to send a message exceeding the reassembly limit")
		return channel.Failed
	}

	group := c.fragmentGroup.Add(1)
	chunkSize := message.BestChunkSize(group, totalBytes, c.datagramLimit())
	fh := message.FragmentHeader{
		Group:         group,
		TotalBits:     uint32(msg.LengthBits()),
		ChunkByteSize: uint32(chunkSize),
	}
	chunks := fh.Chunks()

	if chunks > s.Capacity() {
		c.log().WithFields(log.Fields{
			"bytes":    totalBytes,
			"chunks":   chunks,
			"capacity": s.Capacity(),
		}).Warn("Refusing to send a message exceeding the channel's window")
		return channel.Failed
	}

	c.log().WithFields(log.Fields{
		"group":  group,
		"bytes":  totalBytes,
		"chunks": chunks,
	}).Debug("Fragmenting message")

	data := msg.Data()
	parts := make([]*message.Outgoing, 0, chunks)
	for i := 0; i < chunks; i++ {
		fh.ChunkNumber = uint32(i)

		start, end := i*chunkSize, (i+1)*chunkSize
		if end > totalBytes {
			end = totalBytes
		}

		chunk := c.peer.pool.GetWithCapacity(fh.Size() + end - start)
		fh.WriteTo(&chunk.Buffer)
		chunk.WriteBytes(data[start:end])
		chunk.MarkFragment()
		chunk.Retain(1)

		parts = append(parts, chunk)
	}

	result := s.EnqueueAll(parts)
	if result == channel.Dropped {
		c.peer.metrics.droppedMessage(&c.counters)
	}
	return result
}

// reassemble stores a chunk and delivers the message once all chunks of its group arrived.
func (c *Connection) reassemble(m *message.Incoming) {
	fh, err := message.ReadFragmentHeader(&m.Buffer)
	if err != nil {
		c.log().WithError(err).Debug("Dropping chunk with an invalid fragment header")
		return
	}

	logger := c.log().WithField("fragment", fh)

	if (uint64(fh.TotalBits)+7)/8 > maxReassemblyBytes {
		logger.Warn("Dropping chunk of a message exceeding the reassembly limit")
		return
	}

	c.peer.metrics.receivedFragment(&c.counters)

	r, ok := c.reassemblies[fh.Group]
	if !ok {
		r = newReassembly(fh, m.ReceiveTime)
		c.reassemblies[fh.Group] = r
	} else if !r.matches(fh) {
		logger.Debug("Dropping chunk contradicting its group")
		return
	}

	if r.received.Test(uint(fh.ChunkNumber)) {
		logger.Trace("Dropping duplicate chunk")
		return
	}

	offset := int(fh.ChunkNumber) * int(fh.ChunkByteSize)
	n := int(fh.ChunkByteSize)
	if rest := len(r.data) - offset; rest < n {
		n = rest
	}
	if err := m.ReadBytesInto(r.data, offset, n); err != nil {
		logger.WithError(err).Debug("Dropping truncated chunk")
		return
	}
	r.received.Set(uint(fh.ChunkNumber))

	if !r.complete() {
		return
	}
	delete(c.reassemblies, fh.Group)

	logger.Debug("Reassembled fragmented message")

	c.deliver(message.NewIncoming(message.Header{
		Type:        m.Type,
		Sequence:    m.SequenceNumber,
		PayloadBits: int(fh.TotalBits),
	}, r.data, m.Sender, m.ReceiveTime))
}

// purgeReassemblies drops incomplete groups which did not complete within the connection timeout.
func (c *Connection) purgeReassemblies(now time.Time) {
	for group, r := range c.reassemblies {
		if now.Sub(r.started) > c.peer.conf.ConnectionTimeout {
			c.log().WithFields(log.Fields{
				"group":    group,
				"received": r.received.Count(),
				"chunks":   r.header.Chunks(),
			}).Debug("Dropping incomplete fragment group")
			delete(c.reassemblies, group)
		}
	}
}
