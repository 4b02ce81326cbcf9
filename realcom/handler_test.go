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
	"net"
	"testing"
	"time"

	"github.com/facebook/nportd/devconfig"
	"github.com/facebook/nportd/flashenv"
	"github.com/facebook/nportd/uart"
	"github.com/stretchr/testify/require"
)

func newTestHandler(t *testing.T) (*Handler, *devconfig.Store, *uart.Sim) {
	t.Helper()
	store := devconfig.New(flashenv.NewInMemory(0x200000))
	store.LoadDefaults()
	sim := uart.NewSim(false)
	return &Handler{Channel: 0, HAL: sim, Store: store}, store, sim
}

func TestPortInitConfiguresAndAcks(t *testing.T) {
	h, store, _ := newTestHandler(t)
	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()

	go h.Serve(server)

	// baud index 10 -> 115200, data/stop/parity byte 0x03 -> 8N1, DTR=1 RTS=1.
	frame := []byte{byte(CmdPortInit), 0x05, 10, 0x03, 0x01, 0x01, 0x00}
	_, err := client.Write(frame)
	require.NoError(t, err)

	resp := make([]byte, 5)
	client.SetReadDeadline(time.Now().Add(time.Second))
	_, err = client.Read(resp)
	require.NoError(t, err)
	require.Equal(t, []byte{byte(CmdPortInit), 0x03, 0x00, 0x00, 0x00}, resp)

	wantPacketSize, wantIntervalMs := devconfig.DefaultPacketSizeFor(115200)
	store.View(func(cfg *devconfig.SystemConfiguration) {
		require.Equal(t, 115200, cfg.Channels[0].Baud)
		require.Equal(t, 8, cfg.Channels[0].DataBits)
		require.True(t, cfg.Channels[0].DTR)
		require.Equal(t, devconfig.UARTOpened, cfg.Channels[0].UARTState)
		require.Equal(t, wantPacketSize, cfg.Channels[0].PacketSize, "PORT_INIT must recompute packet_size from the new baud")
		require.Equal(t, wantIntervalMs, cfg.Channels[0].SendIntervalMs)
	})
}

func TestSetBaudAcksOK(t *testing.T) {
	h, _, _ := newTestHandler(t)
	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()

	go h.Serve(server)

	frame := []byte{byte(CmdSetBaud), 0x04, 0x00, 0x01, 0xC2, 0x00} // 115200 big-endian
	_, err := client.Write(frame)
	require.NoError(t, err)

	resp := make([]byte, 3)
	client.SetReadDeadline(time.Now().Add(time.Second))
	_, err = client.Read(resp)
	require.NoError(t, err)
	require.Equal(t, []byte{byte(CmdSetBaud), 'O', 'K'}, resp)
}

func TestStartStopBreakAcksOK(t *testing.T) {
	h, _, sim := newTestHandler(t)
	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()
	_ = sim

	go h.Serve(server)

	_, err := client.Write([]byte{byte(CmdStartBreak), 0x00})
	require.NoError(t, err)
	resp := make([]byte, 3)
	client.SetReadDeadline(time.Now().Add(time.Second))
	_, err = client.Read(resp)
	require.NoError(t, err)
	require.Equal(t, []byte{byte(CmdStartBreak), 'O', 'K'}, resp)

	_, err = client.Write([]byte{byte(CmdStopBreak), 0x00})
	require.NoError(t, err)
	client.SetReadDeadline(time.Now().Add(time.Second))
	_, err = client.Read(resp)
	require.NoError(t, err)
	require.Equal(t, []byte{byte(CmdStopBreak), 'O', 'K'}, resp)
}
