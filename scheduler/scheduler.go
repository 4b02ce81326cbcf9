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

// Package scheduler implements the Realtime Scheduler and the Network
// Scheduler it drives at medium cadence: the tick-driven data pump that
// moves bytes between each channel's UART and its ring buffers (high
// frequency), and between those ring buffers and TCP/UDP clients
// (medium frequency), plus the LED monostable and periodic stats line.
package scheduler

import (
	"context"
	"net"
	"sync/atomic"
	"time"

	"github.com/eclesh/welford"
	"github.com/facebook/nportd/connmgr"
	"github.com/facebook/nportd/devconfig"
	"github.com/facebook/nportd/ring"
	"github.com/facebook/nportd/uart"
	log "github.com/sirupsen/logrus"
)

// Tick cadence constants (spec.md §4.6).
const (
	tickPeriod        = 100 * time.Microsecond // 10 kHz
	mediumEveryTicks  = 10                      // ~1ms
	lowEveryTicks     = 5000                     // ~500ms
	ledOnDurationTick = 50                       // LED_ON_DURATION_TICKS, in ~1ms medium passes: ~50ms stay-lit
	uartScratchSize   = 512
)

// Scheduler owns the tick loop and both the high-frequency serial pump
// and the medium-frequency network pump; it is the only task that ever
// touches a channel's ring buffers, so neither needs internal locking
// (spec.md §5).
type Scheduler struct {
	store *devconfig.Store
	hal   uart.HAL
	conn  *connmgr.Manager

	bufUART [devconfig.NumPorts]*ring.Buffer
	bufNet  [devconfig.NumPorts]*ring.Buffer

	dataClients [devconfig.NumPorts][]netClient
	cmdInbox    [devconfig.NumPorts]chan net.Conn

	rxDropped [devconfig.NumPorts]atomic.Uint64

	tickJitter *welford.Stats

	minorCycle uint64

	lastNetSend [devconfig.NumPorts]time.Time
}

// netClient is one data-plane client attached to a channel. Its read
// pump goroutine (readPump, network.go) is the only thing that ever
// blocks on conn.Read; the tick loop only ever touches rx/errc, which
// never block.
type netClient struct {
	conn clientConn
	rx   chan []byte
	errc chan error
}

// clientConn is the minimal surface scheduler needs from a connection;
// satisfied by net.Conn, kept narrow so tests can supply fakes.
type clientConn interface {
	Read([]byte) (int, error)
	Write([]byte) (int, error)
	Close() error
	SetReadDeadline(time.Time) error
}

// New constructs a Scheduler. Each channel's ring buffers are allocated
// at RingBufferSize (8 KiB, spec.md §3).
const RingBufferSize = 8 * 1024

// New builds a Scheduler bound to store, hal, and conn.
func New(store *devconfig.Store, hal uart.HAL, conn *connmgr.Manager) *Scheduler {
	s := &Scheduler{
		store:      store,
		hal:        hal,
		conn:       conn,
		tickJitter: welford.New(),
	}
	for i := range s.bufUART {
		s.bufUART[i] = ring.New(RingBufferSize)
		s.bufNet[i] = ring.New(RingBufferSize)
		s.cmdInbox[i] = make(chan net.Conn, cmdInboxCapacity)
	}
	return s
}

// cmdInboxCapacity bounds how many pending command-plane connections a
// channel can hold before the dispatch pass starts rejecting them; the
// command handler (realcom/globalconfig) is expected to drain quickly.
const cmdInboxCapacity = 4

// CmdInbox returns channel i's command-plane connection inbox, consumed
// by the RealCOM command handler.
func (s *Scheduler) CmdInbox(i int) <-chan net.Conn {
	return s.cmdInbox[i]
}

func (s *Scheduler) cmdOut(i int) chan<- net.Conn {
	return s.cmdInbox[i]
}

// Run drives the 10kHz tick loop until ctx is canceled. Each tick runs
// the high-frequency serial pump; every mediumEveryTicks it also runs
// the Network Scheduler pass and LED decay; every lowEveryTicks it logs
// a per-channel stats line.
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(tickPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			start := time.Now()
			s.minorCycle++

			s.serialPump()

			if s.minorCycle%mediumEveryTicks == 0 {
				s.drainInboxes()
				s.netToUART()
				s.uartToNet()
				s.ledDecay()
			}
			if s.minorCycle%lowEveryTicks == 0 {
				s.logStats()
			}

			s.tickJitter.Add(float64(time.Since(start).Microseconds()))
		}
	}
}

// TickJitterMean/TickJitterVariance expose the streaming tick-duration
// statistics for the stats package's /metrics endpoint (SPEC_FULL.md §3).
func (s *Scheduler) TickJitterMean() float64 { return s.tickJitter.Mean() }
func (s *Scheduler) TickJitterVariance() float64 { return s.tickJitter.Variance() }

// RxDropped reports the number of UART receive bytes dropped on channel
// i due to ring buffer overflow, for the stats package's /metrics
// endpoint.
func (s *Scheduler) RxDropped(i int) uint64 { return s.rxDropped[i].Load() }

func (s *Scheduler) logStats() {
	s.store.View(func(cfg *devconfig.SystemConfiguration) {
		for i := range cfg.Channels {
			ch := &cfg.Channels[i]
			if ch.Data.NumClients() == 0 {
				continue
			}
			log.WithFields(log.Fields{
				"channel":  i,
				"rx_count": ch.RxCount,
				"tx_count": ch.TxCount,
				"rx_net":   ch.RxNet,
				"tx_net":   ch.TxNet,
			}).Debug("scheduler: channel stats")
		}
	})
}
