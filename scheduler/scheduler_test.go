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
	"testing"
	"time"

	"github.com/facebook/nportd/connmgr"
	"github.com/facebook/nportd/devconfig"
	"github.com/facebook/nportd/flashenv"
	"github.com/facebook/nportd/uart"
	"github.com/stretchr/testify/require"
)

func newTestScheduler(t *testing.T) (*Scheduler, *devconfig.Store, *uart.Sim) {
	t.Helper()
	store := devconfig.New(flashenv.NewInMemory(0x200000))
	store.LoadDefaults()
	sim := uart.NewSim(false)
	mgr := connmgr.NewManager(store)
	return New(store, sim, mgr), store, sim
}

func TestSerialRXFeedsBufUART(t *testing.T) {
	s, store, sim := newTestScheduler(t)
	store.Mutate(func(cfg *devconfig.SystemConfiguration) {
		cfg.Channels[0].UARTState = devconfig.UARTOpened
		cfg.Channels[0].Data.Clients = append(cfg.Channels[0].Data.Clients, devconfig.ClientSlot{})
	})
	s.dataClients[0] = append(s.dataClients[0], netClient{})

	sim.Inject(0, []byte("hello"))
	s.serialPump()

	require.Equal(t, 5, s.bufUART[0].NumItems())
	var rx uint64
	store.View(func(cfg *devconfig.SystemConfiguration) { rx = cfg.Channels[0].RxCount })
	require.Equal(t, uint64(5), rx)
}

func TestUartToNetFansOutToAllDataClients(t *testing.T) {
	s, store, _ := newTestScheduler(t)
	store.Mutate(func(cfg *devconfig.SystemConfiguration) {
		cfg.Channels[0].PacketSize = 4
		cfg.Channels[0].SendIntervalMs = 0
	})

	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()
	s.dataClients[0] = append(s.dataClients[0], netClient{conn: server})

	s.bufUART[0].Enqueue([]byte("data"))

	done := make(chan []byte, 1)
	go func() {
		buf := make([]byte, 16)
		n, _ := client.Read(buf)
		done <- buf[:n]
	}()

	s.uartToNet()

	select {
	case got := <-done:
		require.Equal(t, "data", string(got))
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for fan-out write")
	}
}

func TestNetToUARTDrainsClientAndRetiresOnError(t *testing.T) {
	s, _, _ := newTestScheduler(t)
	server, client := net.Pipe()
	defer client.Close()
	cl := netClient{conn: server, rx: make(chan []byte, 4), errc: make(chan error, 1)}
	cl.rx <- []byte("abc")
	s.dataClients[0] = append(s.dataClients[0], cl)

	s.netToUART()
	require.Equal(t, 3, s.bufNet[0].NumItems())
	require.Len(t, s.dataClients[0], 1)

	s.dataClients[0][0].errc <- net.ErrClosed
	s.netToUART()
	require.Len(t, s.dataClients[0], 0)
}

func TestNetToUARTIncrementsTxNetNotRxNet(t *testing.T) {
	s, store, _ := newTestScheduler(t)
	server, client := net.Pipe()
	defer client.Close()
	cl := netClient{conn: server, rx: make(chan []byte, 4), errc: make(chan error, 1)}
	cl.rx <- []byte("abcde")
	s.dataClients[0] = append(s.dataClients[0], cl)

	s.netToUART()

	store.View(func(cfg *devconfig.SystemConfiguration) {
		require.Equal(t, uint64(5), cfg.Channels[0].TxNet, "net->uart recv path increments tx_net (spec.md §4.7(b))")
		require.Equal(t, uint64(0), cfg.Channels[0].RxNet)
	})
}

func TestUartToNetIncrementsRxNetOncePerFlushNotPerClient(t *testing.T) {
	s, store, _ := newTestScheduler(t)
	store.Mutate(func(cfg *devconfig.SystemConfiguration) {
		cfg.Channels[0].PacketSize = 4
		cfg.Channels[0].SendIntervalMs = 0
	})

	serverA, clientA := net.Pipe()
	serverB, clientB := net.Pipe()
	defer serverA.Close()
	defer serverB.Close()
	defer clientA.Close()
	defer clientB.Close()
	s.dataClients[0] = append(s.dataClients[0], netClient{conn: serverA}, netClient{conn: serverB})

	s.bufUART[0].Enqueue([]byte("data"))

	for _, c := range []net.Conn{clientA, clientB} {
		go func(c net.Conn) {
			buf := make([]byte, 16)
			c.Read(buf)
		}(c)
	}

	s.uartToNet()

	store.View(func(cfg *devconfig.SystemConfiguration) {
		require.Equal(t, uint64(4), cfg.Channels[0].RxNet, "uart->net fan-out increments rx_net once per flush, not once per client")
		require.Equal(t, uint64(0), cfg.Channels[0].TxNet)
	})
}

func TestUartToNetFlushesPartialPacketOnIntervalElapsedWithForceFlushDisabled(t *testing.T) {
	s, store, _ := newTestScheduler(t)
	store.Mutate(func(cfg *devconfig.SystemConfiguration) {
		cfg.Channels[0].PacketSize = 8
		cfg.Channels[0].SendIntervalMs = 1
	})

	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()
	s.dataClients[0] = append(s.dataClients[0], netClient{conn: server})

	s.bufUART[0].Enqueue([]byte("abc")) // avail(3) < packetSize(8)
	s.lastNetSend[0] = time.Now().Add(-10 * time.Millisecond)

	done := make(chan []byte, 1)
	go func() {
		buf := make([]byte, 16)
		n, _ := client.Read(buf)
		done <- buf[:n]
	}()

	s.uartToNet()

	select {
	case got := <-done:
		require.Equal(t, "abc", string(got), "send_interval_ms elapsing must flush a partial packet even with force_transmit_time_ms disabled (spec.md §4.7(c))")
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for interval-elapsed flush of a partial packet")
	}
}

func TestRemoveClientsKeepsPlaneClientsInLockstepWithDataClients(t *testing.T) {
	s, store, _ := newTestScheduler(t)

	serverA, clientA := net.Pipe()
	serverB, clientB := net.Pipe()
	serverC, clientC := net.Pipe()
	defer clientA.Close()
	defer clientB.Close()
	defer clientC.Close()
	s.dataClients[0] = append(s.dataClients[0],
		netClient{conn: serverA}, netClient{conn: serverB}, netClient{conn: serverC})
	store.Mutate(func(cfg *devconfig.SystemConfiguration) {
		plane := &cfg.Channels[0].Data
		plane.Clients = append(plane.Clients,
			devconfig.ClientSlot{Addr: "A"}, devconfig.ClientSlot{Addr: "B"}, devconfig.ClientSlot{Addr: "C"})
	})

	s.removeClients(0, []int{1}) // drop B

	require.Len(t, s.dataClients[0], 2)
	require.Same(t, serverC, s.dataClients[0][1].conn, "dataClients should have swapped C into B's slot")

	store.View(func(cfg *devconfig.SystemConfiguration) {
		plane := cfg.Channels[0].Data
		require.Len(t, plane.Clients, 2)
		addrs := map[string]bool{plane.Clients[0].Addr: true, plane.Clients[1].Addr: true}
		require.True(t, addrs["A"], "A must remain reported as connected")
		require.True(t, addrs["C"], "C must remain reported as connected, not be dropped in place of disconnected B")
		require.False(t, addrs["B"], "B was disconnected and must not remain in the reporting list")
	})
}

func TestRemoveClientsTransitionsStateAndClosesUARTAtZero(t *testing.T) {
	s, store, _ := newTestScheduler(t)
	store.Mutate(func(cfg *devconfig.SystemConfiguration) {
		cfg.Channels[0].UARTState = devconfig.UARTOpened
	})

	server, client := net.Pipe()
	defer client.Close()
	s.dataClients[0] = append(s.dataClients[0], netClient{conn: server})
	s.bufUART[0].Enqueue([]byte("leftover"))

	s.removeClients(0, []int{0})

	require.Len(t, s.dataClients[0], 0)
	require.Equal(t, 0, s.bufUART[0].NumItems(), "ring buffers must be re-initialized once uart_state goes CLOSED")
	store.View(func(cfg *devconfig.SystemConfiguration) {
		require.Equal(t, devconfig.NetListening, cfg.Channels[0].Data.State)
		require.Equal(t, devconfig.UARTClosed, cfg.Channels[0].UARTState, "cmd.num_clients == 0 too, so uart_state must close")
	})
}

func TestRemoveClientsKeepsUARTOpenedWhileCmdClientRemains(t *testing.T) {
	s, store, _ := newTestScheduler(t)
	store.Mutate(func(cfg *devconfig.SystemConfiguration) {
		cfg.Channels[0].UARTState = devconfig.UARTOpened
		cfg.Channels[0].Cmd.Clients = append(cfg.Channels[0].Cmd.Clients, devconfig.ClientSlot{Addr: "cmd-client"})
	})

	server, client := net.Pipe()
	defer client.Close()
	s.dataClients[0] = append(s.dataClients[0], netClient{conn: server})

	s.removeClients(0, []int{0})

	store.View(func(cfg *devconfig.SystemConfiguration) {
		require.Equal(t, devconfig.NetListening, cfg.Channels[0].Data.State)
		require.Equal(t, devconfig.UARTOpened, cfg.Channels[0].UARTState, "an open command session must keep uart_state OPENED")
	})
}

func TestLedDecayLatchesAndExpires(t *testing.T) {
	s, store, sim := newTestScheduler(t)
	store.Mutate(func(cfg *devconfig.SystemConfiguration) {
		cfg.Channels[0].RxCount = 1
	})
	s.ledDecay()
	_, rxOn, _ := sim.LEDState(0)
	require.True(t, rxOn)

	store.Mutate(func(cfg *devconfig.SystemConfiguration) {
		cfg.Channels[0].LEDRx.TicksLeft = 0
	})
	s.ledDecay()
	_, rxOn, _ = sim.LEDState(0)
	require.False(t, rxOn)
}
