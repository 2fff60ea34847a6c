// SPDX-FileCopyrightText: 2024 The peernet Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package peer

import (
	"fmt"
	"net"
	"time"

	"github.com/hashicorp/go-multierror"

	"github.com/dtn7/peernet/pkg/encryption"
	"github.com/dtn7/peernet/pkg/message"
)

const (
	// DefaultMTU is the initial MTU of each Connection, unless MaximumTransmissionUnit is smaller.
	DefaultMTU = 1408

	// MinimumMTU is the smallest MTU a Connection shrinks to. Every IPv4 host must accept datagrams of this size.
	MinimumMTU = 508

	// MaximumMTU is the largest datagram still holding a single message of the largest payload.
	MaximumMTU = message.HeaderSize + message.MaxPayloadBytes
)

// UnreliableSizeBehavior defines the treatment of unreliable messages exceeding the MTU.
type UnreliableSizeBehavior int

const (
	// IgnoreMTU sends unreliable messages as a single datagram, leaving fragmentation to the IP layer.
	IgnoreMTU UnreliableSizeBehavior = iota

	// NormalFragmentation splits large unreliable messages into chunks, like reliable ones. A single lost chunk
	// loses the whole message.
	NormalFragmentation

	// DropAboveMTU drops unreliable messages exceeding the MTU.
	DropAboveMTU
)

func (usb UnreliableSizeBehavior) String() string {
	switch usb {
	case IgnoreMTU:
		return "ignore-mtu"
	case NormalFragmentation:
		return "normal-fragmentation"
	case DropAboveMTU:
		return "drop-above-mtu"
	default:
		return "unknown"
	}
}

// ParseUnreliableSizeBehavior is the inverse of UnreliableSizeBehavior's String method.
func ParseUnreliableSizeBehavior(s string) (UnreliableSizeBehavior, error) {
	for _, usb := range []UnreliableSizeBehavior{IgnoreMTU, NormalFragmentation, DropAboveMTU} {
		if usb.String() == s {
			return usb, nil
		}
	}
	return IgnoreMTU, fmt.Errorf("unknown unreliable size behavior %q", s)
}

// Configuration of a Peer. It is copied by NewPeer and cannot be changed afterwards.
type Configuration struct {
	// AppIdentifier must be equal for both sides of a Connection.
	AppIdentifier string

	// AcceptIncomingConnections allows remote peers to connect.
	AcceptIncomingConnections bool
	// MaximumConnections limits both incoming and outgoing connections, including handshakes.
	MaximumConnections int
	// EnableConnectionApproval holds incoming connections back until Connection.Approve or Connection.Deny.
	EnableConnectionApproval bool

	// LocalAddress to bind to, nil for all addresses.
	LocalAddress net.IP
	// Port to bind to, zero for a random one.
	Port int
	// ReceiveBufferSize and SendBufferSize of the socket in bytes, zero keeps the system's default.
	ReceiveBufferSize int
	SendBufferSize    int

	// EnableEncryption of all datagrams with EncryptionProvider, keyed by EncryptionKey.
	EnableEncryption   bool
	EncryptionProvider string
	EncryptionKey      string

	// SuppressUnreliableUnorderedAcks disables acknowledgments and thereby flow control for Unreliable messages.
	SuppressUnreliableUnorderedAcks bool
	// UnreliableSizeBehavior for unreliable messages exceeding the MTU.
	UnreliableSizeBehavior UnreliableSizeBehavior
	// WindowSizes per DeliveryMethod. Each must be a power of two not exceeding half of the sequence numbers.
	WindowSizes map[message.DeliveryMethod]int

	// MaximumTransmissionUnit is the upper limit of a datagram's size.
	MaximumTransmissionUnit int
	// AutoExpandMTU probes for larger MTUs, up to MaximumTransmissionUnit.
	AutoExpandMTU bool
	// ExpandMTUFrequency is the time between two MTU probes.
	ExpandMTUFrequency time.Duration
	// ExpandMTUFailAttempts is the amount of unanswered probes after which a size is considered too large.
	ExpandMTUFailAttempts int

	// HeartbeatInterval is the period of the transport's housekeeping, e.g., resends and handshake timeouts.
	HeartbeatInterval time.Duration
	// PingInterval is the period of round trip time measurements.
	PingInterval time.Duration
	// ConnectionTimeout disconnects a remote peer which was not heard of for this time.
	ConnectionTimeout time.Duration
	// ResendHandshakeInterval is the time to wait for a handshake answer before resending.
	ResendHandshakeInterval time.Duration
	// MaximumHandshakeAttempts before a handshake is aborted.
	MaximumHandshakeAttempts int

	// EnableDiscoveryResponse answers discovery requests automatically.
	EnableDiscoveryResponse bool
	// EnableUnconnectedMessages accepts messages from endpoints without a Connection.
	EnableUnconnectedMessages bool
	// SuppressedEvents are not raised, e.g., SuppressedEvents = ConnectionLatencyUpdated | DiscoveryRequest.
	SuppressedEvents EventType

	// RecycledCacheMaxCount limits the amount of messages kept for reuse.
	RecycledCacheMaxCount int

	// SimulatedLoss is the chance of dropping an outgoing datagram, in [0, 1].
	SimulatedLoss float64
	// SimulatedDuplicatesChance is the chance of sending an outgoing datagram twice, in [0, 1].
	SimulatedDuplicatesChance float64
	// SimulatedMinimumLatency and SimulatedRandomLatency delay each outgoing datagram by
	// SimulatedMinimumLatency plus a random share of SimulatedRandomLatency.
	SimulatedMinimumLatency time.Duration
	SimulatedRandomLatency  time.Duration
}

// NewConfiguration with default values for an application.
func NewConfiguration(appIdentifier string) Configuration {
	return Configuration{
		AppIdentifier: appIdentifier,

		MaximumConnections: 32,

		EncryptionProvider: "aes-gcm",

		UnreliableSizeBehavior: IgnoreMTU,
		WindowSizes: map[message.DeliveryMethod]int{
			message.Unreliable:          128,
			message.UnreliableSequenced: 128,
			message.ReliableUnordered:   64,
			message.ReliableSequenced:   64,
			message.ReliableOrdered:     64,
		},

		MaximumTransmissionUnit: DefaultMTU,
		ExpandMTUFrequency:      2 * time.Second,
		ExpandMTUFailAttempts:   5,

		HeartbeatInterval:        20 * time.Millisecond,
		PingInterval:             4 * time.Second,
		ConnectionTimeout:        25 * time.Second,
		ResendHandshakeInterval:  3 * time.Second,
		MaximumHandshakeAttempts: 5,

		RecycledCacheMaxCount: 64,
	}
}

// WindowSize for a DeliveryMethod.
func (conf Configuration) WindowSize(method message.DeliveryMethod) int {
	return conf.WindowSizes[method]
}

// InitialMTU is the MTU of a new Connection.
func (conf Configuration) InitialMTU() int {
	if conf.MaximumTransmissionUnit < DefaultMTU {
		return conf.MaximumTransmissionUnit
	}
	return DefaultMTU
}

// IsEventEnabled checks if an EventType is not suppressed.
func (conf Configuration) IsEventEnabled(t EventType) bool {
	return conf.SuppressedEvents&t == 0
}

func (conf Configuration) copy() Configuration {
	windowSizes := make(map[message.DeliveryMethod]int, len(conf.WindowSizes))
	for method, size := range conf.WindowSizes {
		windowSizes[method] = size
	}
	conf.WindowSizes = windowSizes

	if conf.LocalAddress != nil {
		conf.LocalAddress = append(net.IP(nil), conf.LocalAddress...)
	}
	return conf
}

// Validate checks the Configuration and reports all problems at once.
func (conf Configuration) Validate() error {
	var errs *multierror.Error
	fail := func(format string, a ...interface{}) {
		errs = multierror.Append(errs, fmt.Errorf(format, a...))
	}

	if conf.AppIdentifier == "" {
		fail("app identifier must not be empty")
	}
	if conf.MaximumConnections < 1 {
		fail("maximum connections must be positive, not %d", conf.MaximumConnections)
	}
	if conf.Port < 0 || conf.Port > 65535 {
		fail("port %d is out of range", conf.Port)
	}
	if conf.ReceiveBufferSize < 0 || conf.SendBufferSize < 0 {
		fail("socket buffer sizes must not be negative")
	}

	if conf.EnableEncryption {
		if _, err := encryption.New(conf.EncryptionProvider, conf.EncryptionKey); err != nil {
			fail("encryption: %v", err)
		}
	}

	switch conf.UnreliableSizeBehavior {
	case IgnoreMTU, NormalFragmentation, DropAboveMTU:
	default:
		fail("unknown unreliable size behavior %d", conf.UnreliableSizeBehavior)
	}

	for _, method := range message.DeliveryMethods {
		size, ok := conf.WindowSizes[method]
		switch {
		case !ok:
			fail("window size for %v is missing", method)
		case size < 1 || size > message.NumSequenceNumbers/2 || size&(size-1) != 0:
			fail("window size %d for %v must be a power of two up to %d", size, method, message.NumSequenceNumbers/2)
		}
	}

	if conf.MaximumTransmissionUnit < MinimumMTU || conf.MaximumTransmissionUnit > MaximumMTU {
		fail("maximum transmission unit %d is out of range [%d, %d]", conf.MaximumTransmissionUnit, MinimumMTU, MaximumMTU)
	}
	if conf.AutoExpandMTU && (conf.ExpandMTUFrequency <= 0 || conf.ExpandMTUFailAttempts < 1) {
		fail("expanding the MTU requires a positive frequency and fail attempts")
	}

	for name, d := range map[string]time.Duration{
		"heartbeat interval":        conf.HeartbeatInterval,
		"ping interval":             conf.PingInterval,
		"connection timeout":        conf.ConnectionTimeout,
		"resend handshake interval": conf.ResendHandshakeInterval,
	} {
		if d <= 0 {
			fail("%s must be positive, not %v", name, d)
		}
	}
	if conf.MaximumHandshakeAttempts < 1 {
		fail("maximum handshake attempts must be positive, not %d", conf.MaximumHandshakeAttempts)
	}
	if conf.RecycledCacheMaxCount < 0 {
		fail("recycled cache max count must not be negative")
	}

	for name, chance := range map[string]float64{
		"simulated loss":              conf.SimulatedLoss,
		"simulated duplicates chance": conf.SimulatedDuplicatesChance,
	} {
		if chance < 0 || chance > 1 {
			fail("%s %f is out of range [0, 1]", name, chance)
		}
	}
	if conf.SimulatedMinimumLatency < 0 || conf.SimulatedRandomLatency < 0 {
		fail("simulated latencies must not be negative")
	}

	return errs.ErrorOrNil()
}
