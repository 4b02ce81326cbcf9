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
	"testing"
	"time"

	"github.com/facebook/nportd/devconfig"
	"github.com/facebook/nportd/flashenv"
	"github.com/facebook/nportd/uart"
	"github.com/stretchr/testify/require"
)

type fakeCmdInboxSource struct {
	inbox chan net.Conn
}

func (f *fakeCmdInboxSource) CmdInbox(channel int) <-chan net.Conn {
	if channel == 0 {
		return f.inbox
	}
	return make(chan net.Conn)
}

func TestSupervisorTracksCmdClientCount(t *testing.T) {
	store := devconfig.New(flashenv.NewInMemory(0x200000))
	store.LoadDefaults()

	src := &fakeCmdInboxSource{inbox: make(chan net.Conn, 1)}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	Supervisor(ctx, src, uart.NewSim(false), store)

	server, client := net.Pipe()
	defer client.Close()
	src.inbox <- server

	require.Eventually(t, func() bool {
		var n int
		store.View(func(cfg *devconfig.SystemConfiguration) { n = cfg.Channels[0].Cmd.NumClients() })
		return n == 1
	}, time.Second, 5*time.Millisecond, "accepted command connection should be filed onto Cmd.Clients")

	client.Close()

	require.Eventually(t, func() bool {
		var n int
		var state devconfig.NetState
		store.View(func(cfg *devconfig.SystemConfiguration) {
			n = cfg.Channels[0].Cmd.NumClients()
			state = cfg.Channels[0].Cmd.State
		})
		return n == 0 && state == devconfig.NetListening
	}, time.Second, 5*time.Millisecond, "a closed command connection should be removed and the plane returned to LISTENING")
}
