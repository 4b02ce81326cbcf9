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

package realcom

import (
	"context"
	"net"

	"github.com/facebook/nportd/devconfig"
	"github.com/facebook/nportd/uart"
)

// CmdInboxSource is the minimal surface Serve needs from the scheduler
// to receive command-plane connections, kept narrow to avoid an import
// cycle between scheduler and realcom.
type CmdInboxSource interface {
	CmdInbox(channel int) <-chan net.Conn
}

// Supervisor spawns one Handler.Serve goroutine per accepted command
// connection, for every channel, until ctx is canceled.
func Supervisor(ctx context.Context, src CmdInboxSource, hal uart.HAL, store *devconfig.Store) {
	for i := 0; i < devconfig.NumPorts; i++ {
		go serveChannel(ctx, i, src.CmdInbox(i), hal, store)
	}
}

func serveChannel(ctx context.Context, channel int, inbox <-chan net.Conn, hal uart.HAL, store *devconfig.Store) {
	h := &Handler{Channel: channel, HAL: hal, Store: store}
	for {
		select {
		case <-ctx.Done():
			return
		case conn := <-inbox:
			addCmdClient(store, channel, conn)
			go func(c net.Conn) {
				h.Serve(c)
				removeCmdClient(store, channel, c)
			}(conn)
		}
	}
}

// addCmdClient files conn onto channel's command plane so cmd.num_clients
// reflects reality for the Network Scheduler's cleanup check (spec.md
// §4.7 "Cleanup of a data client").
func addCmdClient(store *devconfig.Store, channel int, conn net.Conn) {
	store.Mutate(func(cfg *devconfig.SystemConfiguration) {
		plane := &cfg.Channels[channel].Cmd
		plane.Clients = append(plane.Clients, devconfig.ClientSlot{
			Conn: conn,
			Addr: conn.RemoteAddr().String(),
		})
		plane.State = devconfig.NetConnected
	})
}

func removeCmdClient(store *devconfig.Store, channel int, conn net.Conn) {
	store.Mutate(func(cfg *devconfig.SystemConfiguration) {
		plane := &cfg.Channels[channel].Cmd
		for idx, cl := range plane.Clients {
			if cl.Conn == conn {
				last := len(plane.Clients) - 1
				plane.Clients[idx] = plane.Clients[last]
				plane.Clients = plane.Clients[:last]
				break
			}
		}
		if len(plane.Clients) == 0 {
			plane.State = devconfig.NetListening
		}
	})
}
