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

package connmgr

import (
	"context"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/facebook/nportd/devconfig"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
)

// listenerKey identifies one listening socket in the listener table.
type listenerKey struct {
	channel int
	typ     ConnType
}

// Manager is the Connection Manager: a single logical owner of every
// listening socket and outbound pending connect, translated from the
// source's single select()-driven task into one goroutine per listener
// plus a single dispatch/control goroutine that preserves the same
// "the manager never holds a long-lived pointer into
// SystemConfiguration" invariant (spec.md §9).
type Manager struct {
	store *devconfig.Store

	control chan ControlMsg

	mu          sync.Mutex
	listeners   map[listenerKey]net.Listener
	packetConns map[listenerKey]net.PacketConn
	cancels     map[listenerKey]context.CancelFunc
	active      [devconfig.NumPorts]int32

	inboxes [devconfig.NumPorts]chan NewConnection

	tcpClient *tcpClientSupervisor
}

// NewManager constructs a Manager bound to store. Call Start to begin
// accepting connections; channel inboxes are available immediately via
// Inbox so the Network Scheduler can wire up its drain pass before
// Start runs.
func NewManager(store *devconfig.Store) *Manager {
	m := &Manager{
		store:       store,
		control:     make(chan ControlMsg, maxPendingConnections),
		listeners:   make(map[listenerKey]net.Listener),
		packetConns: make(map[listenerKey]net.PacketConn),
		cancels:     make(map[listenerKey]context.CancelFunc),
	}
	for i := range m.inboxes {
		m.inboxes[i] = make(chan NewConnection, inboxCapacity)
	}
	m.tcpClient = newTCPClientSupervisor(m)
	return m
}

// Inbox returns channel i's new-connection inbox, drained by the
// Network Scheduler's inbox-drain pass (spec.md §4.7 pass (a)).
func (m *Manager) Inbox(i int) <-chan NewConnection {
	return m.inboxes[i]
}

// Control returns the control inbox so other components (the Global
// Config Handler, on an OPERATING command) can request a channel
// reconfiguration or report a connection closed.
func (m *Manager) Control() chan<- ControlMsg {
	return m.control
}

// ActiveConnections returns channel i's live accepted-connection count.
func (m *Manager) ActiveConnections(i int) int {
	return int(atomic.LoadInt32(&m.active[i]))
}

// Start runs setup for every channel and then the control-drain loop
// until ctx is canceled (spec.md §4.5's 200ms-tick main loop, realized
// here as a control-channel select plus per-listener accept goroutines
// instead of a single select(2) over raw fds, which Go's net package
// does not expose).
func (m *Manager) Start(ctx context.Context) error {
	var cfg devconfig.SystemConfiguration
	m.store.View(func(c *devconfig.SystemConfiguration) { cfg = *c })
	for i := range cfg.Channels {
		if err := m.SetupChannel(ctx, i); err != nil {
			log.Errorf("connmgr: setup channel %d: %v", i, err)
		}
	}

	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			m.teardownAll()
			return ctx.Err()
		case msg := <-m.control:
			m.handleControl(ctx, msg)
		case <-ticker.C:
			// Nothing periodic beyond what accept/dial goroutines
			// already drive; the tick exists so the loop wakes even
			// with an idle control channel, mirroring the source's
			// 200ms select timeout.
		}
	}
}

func (m *Manager) handleControl(ctx context.Context, msg ControlMsg) {
	switch msg.Kind {
	case CtrlReconfigureChannel:
		m.TeardownChannel(msg.ChannelIndex)
		if err := m.SetupChannel(ctx, msg.ChannelIndex); err != nil {
			log.Errorf("connmgr: reconfigure channel %d: %v", msg.ChannelIndex, err)
		}
	case CtrlConnectionClosed:
		if atomic.AddInt32(&m.active[msg.ChannelIndex], -1) < 0 {
			atomic.StoreInt32(&m.active[msg.ChannelIndex], 0)
		}
	}
}

// SetupChannel creates every listening/outbound socket channel i's
// current op_mode requires (spec.md §4.5 setup_channel).
func (m *Manager) SetupChannel(ctx context.Context, i int) error {
	var ch devconfig.Channel
	m.store.View(func(c *devconfig.SystemConfiguration) { ch = c.Channels[i] })

	switch ch.OpMode {
	case devconfig.OpDisabled:
		return nil
	case devconfig.OpRealCOM:
		if err := m.listen(ctx, i, ConnData, ch.RealCOM.DataPort); err != nil {
			return err
		}
		if ch.RealCOM.CommandPort != 0 {
			if err := m.listen(ctx, i, ConnCmd, ch.RealCOM.CommandPort); err != nil {
				return err
			}
		}
	case devconfig.OpTCPServer:
		if err := m.listen(ctx, i, ConnData, ch.TCPServer.LocalTCPPort); err != nil {
			return err
		}
		if ch.TCPServer.CommandPort != 0 {
			if err := m.listen(ctx, i, ConnCmd, ch.TCPServer.CommandPort); err != nil {
				return err
			}
		}
	case devconfig.OpTCPClient:
		m.tcpClient.setup(ctx, i, ch.TCPClient)
	case devconfig.OpUDP:
		if err := m.listenUDP(ctx, i, ch.UDP.LocalUDPListenPort); err != nil {
			return err
		}
	}
	return nil
}

// TeardownChannel closes every listener, pending connect, and resets
// the active-connection counter for channel i (spec.md §4.5 step 1).
func (m *Manager) TeardownChannel(i int) {
	m.mu.Lock()
	for key, ln := range m.listeners {
		if key.channel != i {
			continue
		}
		ln.Close()
		delete(m.listeners, key)
		if cancel, ok := m.cancels[key]; ok {
			cancel()
			delete(m.cancels, key)
		}
	}
	for key, pc := range m.packetConns {
		if key.channel != i {
			continue
		}
		pc.Close()
		delete(m.packetConns, key)
		if cancel, ok := m.cancels[key]; ok {
			cancel()
			delete(m.cancels, key)
		}
	}
	m.mu.Unlock()
	m.tcpClient.teardown(i)
	atomic.StoreInt32(&m.active[i], 0)
}

func (m *Manager) teardownAll() {
	for i := 0; i < devconfig.NumPorts; i++ {
		m.TeardownChannel(i)
	}
}

func (m *Manager) listen(ctx context.Context, channel int, typ ConnType, port int) error {
	if port == 0 {
		return nil
	}
	lc := net.ListenConfig{
		Control: func(_, _ string, c syscall.RawConn) error {
			var sockErr error
			if err := c.Control(func(fd uintptr) {
				sockErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
			}); err != nil {
				return err
			}
			return sockErr
		},
	}
	ln, err := lc.Listen(ctx, "tcp4", fmt.Sprintf(":%d", port))
	if err != nil {
		return fmt.Errorf("connmgr: listen channel %d %s on :%d: %w", channel, typ, port, err)
	}
	acceptCtx, cancel := context.WithCancel(ctx)
	key := listenerKey{channel: channel, typ: typ}
	m.mu.Lock()
	m.listeners[key] = ln
	m.cancels[key] = cancel
	m.mu.Unlock()

	go m.acceptLoop(acceptCtx, ln, channel, typ)
	return nil
}

func (m *Manager) acceptLoop(ctx context.Context, ln net.Listener, channel int, typ ConnType) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return
			default:
			}
			log.Debugf("connmgr: accept channel %d %s: %v", channel, typ, err)
			return
		}
		m.handleAccepted(channel, typ, conn)
	}
}

func (m *Manager) handleAccepted(channel int, typ ConnType, conn net.Conn) {
	var maxConn int
	m.store.View(func(c *devconfig.SystemConfiguration) { maxConn = c.Channels[channel].MaxConnectionsCap })

	if typ == ConnData && int(atomic.LoadInt32(&m.active[channel])) >= maxConn {
		log.Infof("connmgr: channel %d at max_connections=%d, rejecting accept", channel, maxConn)
		conn.Close()
		return
	}
	if tcpConn, ok := conn.(*net.TCPConn); ok {
		_ = tcpConn.SetKeepAlive(true)
	}
	if typ == ConnData {
		atomic.AddInt32(&m.active[channel], 1)
	}

	select {
	case m.inboxes[channel] <- NewConnection{ChannelIndex: channel, Type: typ, Conn: conn}:
	default:
		log.Warnf("connmgr: channel %d inbox full, dropping new connection", channel)
		conn.Close()
		if typ == ConnData {
			atomic.AddInt32(&m.active[channel], -1)
		}
	}
}

func (m *Manager) listenUDP(ctx context.Context, channel int, port int) error {
	if port == 0 {
		return nil
	}
	pc, err := net.ListenPacket("udp4", fmt.Sprintf(":%d", port))
	if err != nil {
		return fmt.Errorf("connmgr: listen udp channel %d on :%d: %w", channel, port, err)
	}
	key := listenerKey{channel: channel, typ: ConnData}
	acceptCtx, cancel := context.WithCancel(ctx)
	m.mu.Lock()
	m.packetConns[key] = pc
	m.cancels[key] = cancel
	m.mu.Unlock()
	go func() {
		<-acceptCtx.Done()
		pc.Close()
	}()
	// UDP has no accept(): the socket itself is handed off immediately,
	// wrapped so the Network Scheduler's fan-out pass can treat it like
	// any other net.Conn once a peer address has been learned.
	select {
	case m.inboxes[channel] <- NewConnection{ChannelIndex: channel, Type: ConnData, Conn: &udpPeerConn{PacketConn: pc}}:
	default:
		pc.Close()
	}
	return nil
}
