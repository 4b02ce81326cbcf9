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
	"net"
	"sync"
	"time"
)

// udpPeerConn adapts a net.PacketConn into a net.Conn for a channel in
// UDP operating mode: there is no peer until the first inbound
// datagram names one (spec.md SPEC_FULL.md Open Questions decision),
// after which Write targets that learned address the same way a
// TCP_SERVER fan-out send targets an accepted connection.
type udpPeerConn struct {
	net.PacketConn

	mu   sync.Mutex
	peer net.Addr
}

// Read implements net.Conn, learning the peer address from the first
// datagram received.
func (u *udpPeerConn) Read(b []byte) (int, error) {
	n, addr, err := u.PacketConn.ReadFrom(b)
	if err != nil {
		return n, err
	}
	u.mu.Lock()
	u.peer = addr
	u.mu.Unlock()
	return n, nil
}

// Write implements net.Conn, sending to the learned peer. Before any
// datagram has been received, Write is a no-op: there is nowhere to
// send yet, matching the source's placeholder handling of UDP mode.
func (u *udpPeerConn) Write(b []byte) (int, error) {
	u.mu.Lock()
	peer := u.peer
	u.mu.Unlock()
	if peer == nil {
		return len(b), nil
	}
	return u.PacketConn.WriteTo(b, peer)
}

// RemoteAddr implements net.Conn.
func (u *udpPeerConn) RemoteAddr() net.Addr {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.peer
}

// SetDeadline/SetReadDeadline/SetWriteDeadline implement net.Conn by
// delegating to the underlying PacketConn.
func (u *udpPeerConn) SetDeadline(t time.Time) error {
	return u.PacketConn.SetDeadline(t)
}

func (u *udpPeerConn) SetReadDeadline(t time.Time) error {
	return u.PacketConn.SetReadDeadline(t)
}

func (u *udpPeerConn) SetWriteDeadline(t time.Time) error {
	return u.PacketConn.SetWriteDeadline(t)
}
