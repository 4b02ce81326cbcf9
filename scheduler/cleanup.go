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
	"sort"

	"github.com/facebook/nportd/connmgr"
	"github.com/facebook/nportd/devconfig"
)

// removeClients retires the data clients at the given indices on
// channel i: closes each socket, reports the closure to the Connection
// Manager so its active-connection counter stays correct, and removes
// the matching slot from devconfig's reporting-only client list
// (spec.md §4.7 "Cleanup of a data client"). Indices are removed
// swap-with-last, same as the original fd table.
func (s *Scheduler) removeClients(i int, idx []int) {
	sort.Sort(sort.Reverse(sort.IntSlice(idx)))
	for _, d := range idx {
		clients := s.dataClients[i]
		if d < 0 || d >= len(clients) {
			continue
		}
		clients[d].conn.Close()
		last := len(clients) - 1
		clients[d] = clients[last]
		s.dataClients[i] = clients[:last]

		// Mirror the same swap-with-last removal onto the reporting-only
		// plane.Clients, at the same index, so the two lists never diverge
		// on which client was actually dropped.
		s.store.Mutate(func(cfg *devconfig.SystemConfiguration) {
			plane := &cfg.Channels[i].Data
			if d < len(plane.Clients) {
				planeLast := len(plane.Clients) - 1
				plane.Clients[d] = plane.Clients[planeLast]
				plane.Clients = plane.Clients[:planeLast]
			}
		})

		select {
		case s.conn.Control() <- connmgr.ControlMsg{Kind: connmgr.CtrlConnectionClosed, ChannelIndex: i}:
		default:
		}
	}

	remaining := len(s.dataClients[i])
	var closeUART bool
	s.store.Mutate(func(cfg *devconfig.SystemConfiguration) {
		plane := &cfg.Channels[i].Data
		if remaining == 0 {
			plane.State = devconfig.NetListening
			if cfg.Channels[i].Cmd.NumClients() == 0 {
				cfg.Channels[i].UARTState = devconfig.UARTClosed
				closeUART = true
			}
		}
	})
	if closeUART {
		s.bufUART[i].Init(RingBufferSize)
		s.bufNet[i].Init(RingBufferSize)
	}
}
