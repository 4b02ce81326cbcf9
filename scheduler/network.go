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
	"net"
	"time"

	"github.com/facebook/nportd/connmgr"
	"github.com/facebook/nportd/devconfig"
	log "github.com/sirupsen/logrus"
)

// clientReadBufSize is the per-client goroutine's read chunk size; chosen to
// cover one Ethernet MTU with headroom.
const clientReadBufSize = 2048

// clientRxQueueDepth bounds how many unread chunks one client can have
// buffered before readPump starts dropping (a slow reader must not
// stall the scheduler tick).
const clientRxQueueDepth = 64

// drainInboxes is Network Scheduler pass (a) (spec.md §4.7): pull every
// newly accepted connection off the Connection Manager's per-channel
// inbox, start its dedicated read pump, and file it onto the data or
// command client list.
func (s *Scheduler) drainInboxes() {
	for i := 0; i < devconfig.NumPorts; i++ {
	drain:
		for {
			select {
			case nc := <-s.conn.Inbox(i):
				s.admitClient(i, nc)
			default:
				break drain
			}
		}
	}
}

func (s *Scheduler) admitClient(i int, nc connmgr.NewConnection) {
	switch nc.Type {
	case connmgr.ConnCmd:
		select {
		case s.cmdOut(i) <- nc.Conn:
		default:
			log.Warnf("scheduler: channel %d command inbox full, dropping", i)
			nc.Conn.Close()
		}
		return
	}

	cl := &netClient{conn: nc.Conn, rx: make(chan []byte, clientRxQueueDepth), errc: make(chan error, 1)}
	s.dataClients[i] = append(s.dataClients[i], *cl)
	s.store.Mutate(func(cfg *devconfig.SystemConfiguration) {
		plane := &cfg.Channels[i].Data
		plane.Clients = append(plane.Clients, devconfig.ClientSlot{
			Conn: nc.Conn,
			Addr: nc.Conn.RemoteAddr().String(),
		})
		plane.State = devconfig.NetConnected
	})
	go readPump(nc.Conn, cl.rx, cl.errc)
}

// readPump is the one goroutine per client that may legitimately block
// on Read; it hands finished chunks to the scheduler tick through rx so
// the tick loop itself never blocks on network I/O.
func readPump(conn net.Conn, rx chan<- []byte, errc chan<- error) {
	buf := make([]byte, clientReadBufSize)
	for {
		n, err := conn.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			select {
			case rx <- chunk:
			default:
				// Slow consumer: drop the chunk rather than block the
				// reader forever, matching the ring buffer's own
				// short-enqueue overflow policy.
			}
		}
		if err != nil {
			select {
			case errc <- err:
			default:
			}
			return
		}
	}
}

// netToUART is Network Scheduler pass (b) (spec.md §4.7): drain every
// data client's read pump into channel i's net->uart ring buffer, and
// retire any client whose read pump has reported EOF or an error.
func (s *Scheduler) netToUART() {
	for i := 0; i < devconfig.NumPorts; i++ {
		clients := s.dataClients[i]
		if len(clients) == 0 {
			continue
		}
		dead := make([]int, 0)
		for idx := range clients {
			cl := &clients[idx]
		drain:
			for {
				select {
				case chunk := <-cl.rx:
					if s.bufNet[i].FreeSpace() < len(chunk) {
						continue drain // net scheduler backpressure: drop, like a full FIFO
					}
					s.bufNet[i].Enqueue(chunk)
					s.store.Mutate(func(cfg *devconfig.SystemConfiguration) {
						cfg.Channels[i].TxNet += uint64(len(chunk))
					})
				case <-cl.errc:
					dead = append(dead, idx)
					break drain
				default:
					break drain
				}
			}
		}
		if len(dead) > 0 {
			s.removeClients(i, dead)
		}
	}
}

// uartToNet is Network Scheduler pass (c) (spec.md §4.7): fan out
// channel i's uart->net ring buffer to every attached data client, gated
// by the active mode's packet_size/send_interval_ms packing settings.
func (s *Scheduler) uartToNet() {
	for i := 0; i < devconfig.NumPorts; i++ {
		if len(s.dataClients[i]) == 0 {
			s.bufUART[i].Dequeue(make([]byte, s.bufUART[i].NumItems())) // discard: nobody to deliver to
			continue
		}

		var packetSize, intervalMs, forceMs int
		s.store.View(func(cfg *devconfig.SystemConfiguration) {
			ch := &cfg.Channels[i]
			packetSize = ch.PacketSize
			intervalMs = ch.SendIntervalMs
			forceMs = activePacking(ch).ForceTransmitTimeMs
		})
		if packetSize <= 0 {
			packetSize = devconfig.MinPacketSize
		}

		avail := s.bufUART[i].NumItems()
		if avail == 0 {
			continue
		}

		now := time.Now()
		idleElapsed := forceMs > 0 && now.Sub(s.lastNetSend[i]) >= time.Duration(forceMs)*time.Millisecond
		intervalElapsed := now.Sub(s.lastNetSend[i]) >= time.Duration(intervalMs)*time.Millisecond

		// MUST flush when num_items >= packet_size or send_interval_ms has
		// elapsed (spec.md §4.7(c)); idleElapsed is an additional, earlier
		// flush trigger from the packing settings' force_transmit_time_ms.
		if avail < packetSize && !intervalElapsed && !idleElapsed {
			continue
		}

		n := avail
		if n > packetSize && packetSize > 0 {
			n = packetSize
		}
		chunk := make([]byte, n)
		got := s.bufUART[i].Dequeue(chunk)
		chunk = chunk[:got]
		if got == 0 {
			continue
		}
		s.lastNetSend[i] = now

		dead := make([]int, 0)
		for idx := range s.dataClients[i] {
			cl := &s.dataClients[i][idx]
			if _, err := cl.conn.Write(chunk); err != nil {
				dead = append(dead, idx)
			}
		}
		s.store.Mutate(func(cfg *devconfig.SystemConfiguration) {
			cfg.Channels[i].RxNet += uint64(got)
		})
		if len(dead) > 0 {
			s.removeClients(i, dead)
		}
	}
}

// activePacking resolves the packing settings of whichever mode is
// currently active on ch; TCP_CLIENT and UDP carry no packing block and
// fall back to immediate, unpacked delivery.
func activePacking(ch *devconfig.Channel) devconfig.PackingSettings {
	switch ch.OpMode {
	case devconfig.OpRealCOM:
		return ch.RealCOM.Packing
	case devconfig.OpTCPServer:
		return ch.TCPServer.Packing
	default:
		return devconfig.PackingSettings{}
	}
}
