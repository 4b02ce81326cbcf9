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

// Package connmgr implements the Connection Manager: it owns every
// listening socket and pending outbound connect, enforces per-channel
// connection caps, and dispatches ready connections to per-channel
// inboxes that the Network Scheduler drains.
package connmgr

import "net"

// ConnType distinguishes a channel's data plane from its command plane.
type ConnType int

// Connection types.
const (
	ConnData ConnType = iota
	ConnCmd
)

func (c ConnType) String() string {
	if c == ConnCmd {
		return "cmd"
	}
	return "data"
}

// NewConnection is handed off from the Connection Manager to a
// channel's inbox once a socket is ready to use (spec.md §4.5 step 4-5,
// §4.7 pass (a)).
type NewConnection struct {
	ChannelIndex int
	Type         ConnType
	Conn         net.Conn
}

// ControlKind enumerates the control-inbox message kinds (spec.md
// §4.5).
type ControlKind int

// Control message kinds.
const (
	CtrlReconfigureChannel ControlKind = iota
	CtrlConnectionClosed
)

// ControlMsg is a message on the Connection Manager's control inbox.
type ControlMsg struct {
	Kind         ControlKind
	ChannelIndex int
}

// inboxCapacity bounds each channel's new-connection inbox; a full
// inbox means the connection is dropped (closed), matching spec.md
// §4.5's "inbox-full is a dropped connection" failure semantics.
const inboxCapacity = 8

// maxListeners mirrors the source's MAX_LISTENERS = NUM_PORTS*2 + 1
// (per-channel data + cmd, plus the global config port) as a sizing
// note; Go's map-based listener table has no fixed-size requirement,
// but the constant documents the expected upper bound.
const maxListeners = 16*2 + 1

// maxPendingConnections mirrors MAX_PENDING_CONNECTIONS = NUM_PORTS*8.
const maxPendingConnections = 16 * 8
