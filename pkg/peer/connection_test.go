// SPDX-FileCopyrightText: 2024 The peernet Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package peer

import (
	"net"
	"testing"
	"time"

	"github.com/dtn7/peernet/pkg/message"
)

// idleConnection creates a Connection of a Peer which was never started.
func idleConnection(t *testing.T, conf Configuration) *Connection {
	t.Helper()

	p, err := NewPeer(conf)
	if err != nil {
		t.Fatal(err)
	}
	return newConnection(p, &net.UDPAddr{IP: loopback, Port: 4556}, time.Now())
}

func TestResendDelay(t *testing.T) {
	tests := []struct {
		rtt      time.Duration
		expected time.Duration
	}{
		{0, 25 * time.Millisecond},
		{10 * time.Millisecond, 46 * time.Millisecond},
		{100 * time.Millisecond, 235 * time.Millisecond},
	}

	for _, test := range tests {
		if delay := resendDelay(test.rtt); delay != test.expected {
			t.Errorf("resend delay for %v is %v, expected %v", test.rtt, delay, test.expected)
		}
	}
}

func TestUpdateRoundTripTime(t *testing.T) {
	c := idleConnection(t, testConfiguration())

	if rtt := c.AverageRoundTripTime(); rtt != 0 {
		t.Fatalf("initial round trip time %v", rtt)
	}

	c.updateRoundTripTime(100 * time.Millisecond)
	if rtt := c.AverageRoundTripTime(); rtt != 100*time.Millisecond {
		t.Fatalf("first sample must be taken as is, got %v", rtt)
	}

	c.updateRoundTripTime(200 * time.Millisecond)
	if rtt := c.AverageRoundTripTime(); rtt != 130*time.Millisecond {
		t.Fatalf("expected a smoothed 130ms, got %v", rtt)
	}

	e := <-c.peer.Events()
	if e.Type != ConnectionLatencyUpdated || e.Latency != 100*time.Millisecond {
		t.Fatalf("unexpected event %v", e)
	}
}

func TestShrinkMTU(t *testing.T) {
	c := idleConnection(t, testConfiguration())

	c.shrinkMTU(1400)
	if mtu := c.MTU(); mtu != 1225 {
		t.Fatalf("expected an MTU of 1225, got %d", mtu)
	}

	c.shrinkMTU(520)
	if mtu := c.MTU(); mtu != MinimumMTU {
		t.Fatalf("expected the minimum MTU, got %d", mtu)
	}

	c.shrinkMTU(1400)
	if mtu := c.MTU(); mtu != MinimumMTU {
		t.Fatalf("shrinking must never grow the MTU, got %d", mtu)
	}
}

func TestDatagramLimit(t *testing.T) {
	conf := testConfiguration()
	conf.EnableEncryption = true
	conf.EncryptionProvider = "aes-gcm"
	conf.EncryptionKey = "secret"

	c := idleConnection(t, conf)
	if limit := c.datagramLimit(); limit != DefaultMTU-c.peer.encryption.Overhead() {
		t.Fatalf("unexpected datagram limit %d", limit)
	}
}

func TestNeedsFragmentation(t *testing.T) {
	tests := []struct {
		behavior UnreliableSizeBehavior
		method   message.DeliveryMethod
		size     int
		expected bool
	}{
		{IgnoreMTU, message.ReliableOrdered, 100, false},
		{IgnoreMTU, message.ReliableOrdered, 2000, true},
		{IgnoreMTU, message.Unreliable, 2000, false},
		{IgnoreMTU, message.Unreliable, 9000, true},
		{NormalFragmentation, message.UnreliableSequenced, 2000, true},
		{DropAboveMTU, message.Unreliable, 2000, false},
	}

	for _, test := range tests {
		conf := testConfiguration()
		conf.UnreliableSizeBehavior = test.behavior
		c := idleConnection(t, conf)

		m := c.peer.PrepareMessageWithCapacity(test.size)
		m.WriteBytes(make([]byte, test.size))

		if needs := c.needsFragmentation(m, test.method); needs != test.expected {
			t.Errorf("%v, %v, %d bytes: expected %t", test.behavior, test.method, test.size, test.expected)
		}
	}
}

func TestReassembly(t *testing.T) {
	c := idleConnection(t, testConfiguration())

	payload := []byte("fragmented message payload")
	fh := message.FragmentHeader{Group: 7, TotalBits: uint32(len(payload) * 8), ChunkByteSize: 10}

	chunk := func(number int) *message.Incoming {
		fh.ChunkNumber = uint32(number)
		b := message.NewBuffer(32)
		fh.WriteTo(b)

		end := (number + 1) * 10
		if end > len(payload) {
			end = len(payload)
		}
		b.WriteBytes(payload[number*10 : end])

		return message.NewIncoming(message.Header{
			Type:        message.UserReliableUnordered,
			IsFragment:  true,
			PayloadBits: b.LengthBits(),
		}, b.Data(), c.remote, time.Now())
	}

	for _, number := range []int{2, 0, 0} {
		c.reassemble(chunk(number))
	}
	if len(c.reassemblies) != 1 {
		t.Fatalf("expected one pending group, got %d", len(c.reassemblies))
	}

	c.reassemble(chunk(1))
	if len(c.reassemblies) != 0 {
		t.Fatal("completed group is still pending")
	}

	e := <-c.peer.Events()
	if e.Type != Data {
		t.Fatalf("unexpected event %v", e)
	}
	if data, err := e.Message.ReadBytes(len(payload)); err != nil || string(data) != string(payload) {
		t.Fatalf("reassembled %q (%v)", data, err)
	}
}

func TestPurgeReassemblies(t *testing.T) {
	c := idleConnection(t, testConfiguration())

	fh := message.FragmentHeader{Group: 1, TotalBits: 160, ChunkByteSize: 10}
	b := message.NewBuffer(16)
	fh.WriteTo(b)
	b.WriteBytes(make([]byte, 10))

	now := time.Now()
	c.reassemble(message.NewIncoming(message.Header{
		Type:        message.UserReliableUnordered,
		IsFragment:  true,
		PayloadBits: b.LengthBits(),
	}, b.Data(), c.remote, now))

	c.purgeReassemblies(now.Add(time.Second))
	if len(c.reassemblies) != 1 {
		t.Fatal("young group was purged")
	}

	c.purgeReassemblies(now.Add(c.peer.conf.ConnectionTimeout + time.Second))
	if len(c.reassemblies) != 0 {
		t.Fatal("stale group was not purged")
	}
}

func TestEventQueue(t *testing.T) {
	eq := newEventQueue()

	for i := 0; i < 1000; i++ {
		eq.push(Event{Type: Data, Reason: string(rune('a' + i%26))})
	}
	eq.close()
	eq.push(Event{Type: Error})

	count := 0
	for e := range eq.out {
		if expected := string(rune('a' + count%26)); e.Reason != expected {
			t.Fatalf("event %d out of order: %q", count, e.Reason)
		}
		count++
	}
	if count != 1000 {
		t.Fatalf("received %d events", count)
	}
}

func TestSuppressedEvents(t *testing.T) {
	conf := testConfiguration()
	conf.SuppressedEvents = ConnectionLatencyUpdated | DiscoveryRequest

	if conf.IsEventEnabled(ConnectionLatencyUpdated) || conf.IsEventEnabled(DiscoveryRequest) {
		t.Fatal("suppressed event is enabled")
	}
	if !conf.IsEventEnabled(Data) {
		t.Fatal("data events are suppressed")
	}

	c := idleConnection(t, conf)
	c.updateRoundTripTime(time.Millisecond)
	c.peer.raise(Event{Type: Error})

	if e := <-c.peer.Events(); e.Type != Error {
		t.Fatalf("suppressed event %v was raised", e)
	}
}
