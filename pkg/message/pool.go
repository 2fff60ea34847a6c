// SPDX-FileCopyrightText: 2024 The peernet Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package message

import (
	"fmt"
	"sync"
)

// Pool recycles Outgoing messages. It is safe for concurrent use.
type Pool struct {
	mutex sync.Mutex
	free  []*Outgoing

	maxCount        int
	initialCapacity int
}

// NewPool keeping up to maxCount recycled messages, each created with initialCapacity bytes.
func NewPool(maxCount, initialCapacity int) *Pool {
	return &Pool{
		free:            make([]*Outgoing, 0, maxCount),
		maxCount:        maxCount,
		initialCapacity: initialCapacity,
	}
}

// Get an empty Outgoing, either a recycled one or a fresh one.
func (p *Pool) Get() *Outgoing {
	return p.GetWithCapacity(p.initialCapacity)
}

// GetWithCapacity returns an empty Outgoing able to hold at least capacity bytes without growing.
func (p *Pool) GetWithCapacity(capacity int) (m *Outgoing) {
	p.mutex.Lock()
	if n := len(p.free); n > 0 {
		m = p.free[n-1]
		p.free[n-1] = nil
		p.free = p.free[:n-1]
	}
	p.mutex.Unlock()

	if m == nil {
		m = NewOutgoing(capacity)
	} else if cap(m.data) < capacity {
		m.data = make([]byte, 0, capacity)
	}

	m.recycled.Store(false)
	return
}

// Size is the current amount of messages ready for reuse.
func (p *Pool) Size() int {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	return len(p.free)
}

// Release drops one holder of m. The last holder's release recycles m, unless manual recycling was requested.
func (p *Pool) Release(m *Outgoing) {
	if m.recycled.Load() {
		panic(fmt.Errorf("releasing %v: %w", m, ErrRecycled))
	}

	switch left := m.holders.Add(-1); {
	case left < 0:
		panic(fmt.Sprintf("message: %v was released more often than retained", m))
	case left == 0 && !m.manualRecycle:
		p.put(m)
	}
}

// Recycle returns a message owned by the caller to the Pool, e.g., one never sent or one with manual recycling
// enabled. Recycling a message which is still held by a sender channel is a contract violation.
func (p *Pool) Recycle(m *Outgoing) {
	if m.recycled.Load() {
		panic(fmt.Errorf("recycling %v: %w", m, ErrRecycled))
	}
	if h := m.holders.Load(); h != 0 {
		panic(fmt.Sprintf("message: recycling %v while %d sender channels still hold it", m, h))
	}
	p.put(m)
}

func (p *Pool) put(m *Outgoing) {
	if !m.recycled.CompareAndSwap(false, true) {
		panic(fmt.Errorf("recycling %v: %w", m, ErrRecycled))
	}

	m.generation.Add(1)
	m.data = m.data[:0]
	m.bitLength = 0
	m.readPosition = 0
	m.manualRecycle = false
	m.isFragment = false
	m.Recipient = 0

	p.mutex.Lock()
	defer p.mutex.Unlock()

	if len(p.free) < p.maxCount {
		p.free = append(p.free, m)
	}
}
