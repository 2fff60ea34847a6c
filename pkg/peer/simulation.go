// SPDX-FileCopyrightText: 2024 The peernet Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package peer

import (
	"math/rand"
	"net"
	"sync"
	"time"
)

// simulation degrades outgoing traffic for testing, by dropping, duplicating or delaying datagrams.
type simulation struct {
	loss           float64
	duplicates     float64
	minimumLatency time.Duration
	randomLatency  time.Duration

	mutex   sync.Mutex
	random  *rand.Rand
	pending sync.WaitGroup
	stopped bool
}

func newSimulation(conf Configuration) *simulation {
	return &simulation{
		loss:           conf.SimulatedLoss,
		duplicates:     conf.SimulatedDuplicatesChance,
		minimumLatency: conf.SimulatedMinimumLatency,
		randomLatency:  conf.SimulatedRandomLatency,

		random: rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (s *simulation) enabled() bool {
	return s.loss > 0 || s.duplicates > 0 || s.minimumLatency > 0 || s.randomLatency > 0
}

// send a datagram under the simulated conditions.
func (s *simulation) send(socket *net.UDPConn, data []byte, remote *net.UDPAddr) error {
	s.mutex.Lock()
	lost := s.random.Float64() < s.loss
	copies := 1
	if s.random.Float64() < s.duplicates {
		copies = 2
	}
	delay := s.minimumLatency
	if s.randomLatency > 0 {
		delay += time.Duration(s.random.Int63n(int64(s.randomLatency)))
	}
	stopped := s.stopped
	s.mutex.Unlock()

	if lost || stopped {
		return nil
	}

	if delay == 0 {
		for i := 0; i < copies; i++ {
			if _, err := socket.WriteToUDP(data, remote); err != nil {
				return err
			}
		}
		return nil
	}

	delayed := append([]byte(nil), data...)
	s.pending.Add(1)
	time.AfterFunc(delay, func() {
		defer s.pending.Done()

		s.mutex.Lock()
		stopped := s.stopped
		s.mutex.Unlock()
		if stopped {
			return
		}

		for i := 0; i < copies; i++ {
			_, _ = socket.WriteToUDP(delayed, remote)
		}
	})
	return nil
}

// stop discards all delayed datagrams.
func (s *simulation) stop() {
	s.mutex.Lock()
	s.stopped = true
	s.mutex.Unlock()

	s.pending.Wait()
}
