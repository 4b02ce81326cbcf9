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

import (
	"github.com/facebook/nportd/devconfig"
	"github.com/facebook/nportd/uart"
)

// ledDecay runs the medium-frequency LED monostable pass (spec.md
// §4.6): whenever a channel's rx_count or tx_count has advanced since
// the last pass, its LED latches on for ledOnDurationTick medium-cadence
// ticks, then turns off once the countdown reaches zero with no further
// activity.
func (s *Scheduler) ledDecay() {
	s.store.Mutate(func(cfg *devconfig.SystemConfiguration) {
		for i := range cfg.Channels {
			ch := &cfg.Channels[i]
			s.decayOne(i, &ch.LEDRx, ch.RxCount, uart.LEDRx)
			s.decayOne(i, &ch.LEDTx, ch.TxCount, uart.LEDTx)
		}
	})
}

func (s *Scheduler) decayOne(channel int, led *devconfig.LEDCountdown, count uint64, which uart.LED) {
	if count != led.LastCount {
		led.LastCount = count
		led.On = true
		led.TicksLeft = ledOnDurationTick
		_ = s.hal.SetLED(channel, which, true)
		return
	}
	if !led.On {
		return
	}
	led.TicksLeft--
	if led.TicksLeft <= 0 {
		led.On = false
		_ = s.hal.SetLED(channel, which, false)
	}
}
