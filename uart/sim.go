/*
Copyright (c) Facebook, Inc. and its affiliates.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package uart

import "sync"

const simFIFODepth = 16

type simChannel struct {
	params  Params
	dtr     bool
	rts     bool
	brk     bool
	rxQueue []byte // bytes waiting to be drained, e.g. injected by a test loopback
	ledTx   bool
	ledRx   bool
	ledPort bool
}

// Sim is an in-memory HAL used by tests and the local dev harness: it
// has no real hardware behind it. With loopback on, TXByte appends to
// the channel's receive queue; with it off, transmitted bytes are
// discarded. Inject and RXDrain exercise the receive queue directly.
type Sim struct {
	mu       sync.Mutex
	channels map[int]*simChannel
	loopback bool // when true, TXByte feeds straight back into rxQueue
}

// NewSim constructs a Sim HAL. When loopback is true, every byte
// transmitted on a channel is immediately available to be received on
// the same channel, useful for the serial-echo scenario in spec
// testing without real hardware.
func NewSim(loopback bool) *Sim {
	return &Sim{
		channels: make(map[int]*simChannel),
		loopback: loopback,
	}
}

func (s *Sim) chan_(ch int) *simChannel {
	c, ok := s.channels[ch]
	if !ok {
		c = &simChannel{}
		s.channels[ch] = c
	}
	return c
}

// Configure implements HAL.
func (s *Sim) Configure(ch int, p Params) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.chan_(ch).params = p
	return nil
}

// SetModem implements HAL.
func (s *Sim) SetModem(ch int, dtr, rts bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.chan_(ch)
	c.dtr = dtr
	c.rts = rts
	return nil
}

// BreakOn implements HAL.
func (s *Sim) BreakOn(ch int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.chan_(ch).brk = true
	return nil
}

// BreakOff implements HAL.
func (s *Sim) BreakOff(ch int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.chan_(ch).brk = false
	return nil
}

// TXReady implements HAL. The simulator always has space.
func (s *Sim) TXReady(_ int) bool {
	return true
}

// TXByte implements HAL.
func (s *Sim) TXByte(ch int, b byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loopback {
		c := s.chan_(ch)
		c.rxQueue = append(c.rxQueue, b)
	}
	return nil
}

// RXDrain implements HAL.
func (s *Sim) RXDrain(ch int, buf []byte) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.chan_(ch)
	n := len(buf)
	if n > len(c.rxQueue) {
		n = len(c.rxQueue)
	}
	copy(buf, c.rxQueue[:n])
	c.rxQueue = c.rxQueue[n:]
	return n
}

// FIFODepth implements HAL.
func (s *Sim) FIFODepth(_ int) int {
	return simFIFODepth
}

// SetLED implements HAL.
func (s *Sim) SetLED(ch int, which LED, on bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.chan_(ch)
	switch which {
	case LEDTx:
		c.ledTx = on
	case LEDRx:
		c.ledRx = on
	case LEDPort:
		c.ledPort = on
	}
	return nil
}

// ModemStatus implements HAL. The simulator reports no live inputs.
func (s *Sim) ModemStatus(_ int) (dsr, cts, dcd bool) {
	return false, false, false
}

// Inject appends bytes to a channel's receive queue, simulating an
// attached device transmitting to the UART.
func (s *Sim) Inject(ch int, b []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.chan_(ch)
	c.rxQueue = append(c.rxQueue, b...)
}

// LEDState returns the current LED bits for test assertions.
func (s *Sim) LEDState(ch int) (tx, rx, port bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.chan_(ch)
	return c.ledTx, c.ledRx, c.ledPort
}
