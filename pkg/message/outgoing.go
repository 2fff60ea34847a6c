// SPDX-FileCopyrightText: 2024 The peernet Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package message

import (
	"errors"
	"fmt"
	"sync/atomic"
)

var (
	// ErrRecycled is the panic value for writing into or releasing an Outgoing which already lies in its Pool.
	ErrRecycled = errors.New("message buffer was already recycled")

	// ErrStaleHandle is returned by a Handle whose Outgoing was recycled since the Handle's creation.
	ErrStaleHandle = errors.New("stale message handle")
)

// Outgoing is a message to be sent. It is exclusively owned by its creator until handed to a send operation.
// Afterwards, each recipient's sender channel holds a reference until the message was written into a datagram,
// or, for reliable delivery, until it was acknowledged. The last release returns it to its Pool.
type Outgoing struct {
	Buffer

	generation atomic.Uint32
	holders    atomic.Int32

	manualRecycle bool
	isFragment    bool

	// Recipient is the connection identifier chosen by PrepareMessageTo, zero if unaddressed.
	Recipient uint64
}

// NewOutgoing creates an Outgoing outside of any Pool.
func NewOutgoing(capacity int) *Outgoing {
	m := &Outgoing{}
	m.data = make([]byte, 0, capacity)
	return m
}

func (m *Outgoing) String() string {
	return fmt.Sprintf("Outgoing(gen=%d, holders=%d, bits=%d, fragment=%t)",
		m.generation.Load(), m.holders.Load(), m.LengthBits(), m.isFragment)
}

// Generation of this Outgoing, advanced by each recycling.
func (m *Outgoing) Generation() uint32 {
	return m.generation.Load()
}

// IsRecycled reports if this Outgoing currently lies in its Pool.
func (m *Outgoing) IsRecycled() bool {
	return m.recycled.Load()
}

// SetManualRecycle keeps this Outgoing from returning to its Pool after the last release. The owner must call
// Pool.Recycle afterwards, e.g., after sending the same message multiple times.
func (m *Outgoing) SetManualRecycle(manual bool) {
	m.manualRecycle = manual
}

// ManualRecycle reports if SetManualRecycle was enabled.
func (m *Outgoing) ManualRecycle() bool {
	return m.manualRecycle
}

// MarkFragment flags this Outgoing as a chunk of a fragmented message.
func (m *Outgoing) MarkFragment() {
	m.isFragment = true
}

// IsFragment reports if this Outgoing is a chunk of a fragmented message.
func (m *Outgoing) IsFragment() bool {
	return m.isFragment
}

// Retain registers n further holders, one per recipient channel.
func (m *Outgoing) Retain(n int) {
	if m.recycled.Load() {
		panic(ErrRecycled)
	}
	m.holders.Add(int32(n))
}

// Holders is the amount of recipient channels still referencing this Outgoing.
func (m *Outgoing) Holders() int {
	return int(m.holders.Load())
}

// Handle to an Outgoing which detects recycling.
type Handle struct {
	msg        *Outgoing
	generation uint32
}

// NewHandle creates a Handle to the current incarnation of m.
func NewHandle(m *Outgoing) Handle {
	return Handle{msg: m, generation: m.generation.Load()}
}

// Message resolves this Handle or returns ErrStaleHandle if the Outgoing was recycled meanwhile.
func (h Handle) Message() (*Outgoing, error) {
	if h.msg == nil || h.msg.recycled.Load() || h.msg.generation.Load() != h.generation {
		return nil, ErrStaleHandle
	}
	return h.msg, nil
}
