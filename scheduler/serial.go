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

package scheduler

import "github.com/facebook/nportd/devconfig"

// serialPump runs the high-frequency (every tick) serial RX/TX pass
// over every channel (spec.md §4.6).
func (s *Scheduler) serialPump() {
	for i := 0; i < devconfig.NumPorts; i++ {
		s.serialRX(i)
		s.serialTX(i)
	}
}

func (s *Scheduler) serialRX(i int) {
	var opened bool
	s.store.View(func(cfg *devconfig.SystemConfiguration) {
		opened = cfg.Channels[i].UARTState == devconfig.UARTOpened && len(s.dataClients[i]) > 0
	})
	if !opened {
		return
	}

	var tmp [uartScratchSize]byte
	n := s.hal.RXDrain(i, tmp[:])
	if n == 0 {
		return
	}

	buf := s.bufUART[i]
	if buf.FreeSpace() < n {
		s.rxDropped[i].Add(uint64(n))
		return
	}
	buf.Enqueue(tmp[:n])
	s.store.Mutate(func(cfg *devconfig.SystemConfiguration) {
		cfg.Channels[i].RxCount += uint64(n)
	})
}

func (s *Scheduler) serialTX(i int) {
	var opened bool
	var fifoHalf int
	s.store.View(func(cfg *devconfig.SystemConfiguration) {
		opened = cfg.Channels[i].UARTState == devconfig.UARTOpened && len(s.dataClients[i]) > 0
	})
	if !opened {
		return
	}
	buf := s.bufNet[i]
	if buf.IsEmpty() {
		return
	}
	fifoHalf = s.hal.FIFODepth(i) / 2
	if fifoHalf < 1 {
		fifoHalf = 1
	}

	tmp := make([]byte, fifoHalf)
	n := buf.Dequeue(tmp)
	pushed := 0
	const txReadySpinLimit = 10000
	for j := 0; j < n; j++ {
		spins := 0
		for !s.hal.TXReady(i) && spins < txReadySpinLimit {
			// Bounded busy-wait: the hardware holding register is
			// expected to drain within microseconds; no blocking
			// sleep, matching spec.md §4.2's "no internal wait loop
			// longer than a bounded polling window". After
			// txReadySpinLimit polls the rest of this burst is dropped.
			spins++
		}
		if !s.hal.TXReady(i) {
			break
		}
		if err := s.hal.TXByte(i, tmp[j]); err != nil {
			break
		}
		pushed++
	}
	if pushed > 0 {
		s.store.Mutate(func(cfg *devconfig.SystemConfiguration) {
			cfg.Channels[i].TxCount += uint64(pushed)
		})
	}
}
