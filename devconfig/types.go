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

// Package devconfig owns the single SystemConfiguration instance: device
// identity/network settings plus the per-channel configuration and
// runtime state, guarded by one mutex.
package devconfig

import "github.com/facebook/nportd/uart"

// NumPorts is the fixed channel count this device exposes.
const NumPorts = 16

// MaxClientsPerChannel bounds each of a channel's data and command
// client slices.
const MaxClientsPerChannel = 4

// OpMode enumerates a channel's network operating mode.
type OpMode int

// Operating modes.
const (
	OpDisabled OpMode = iota
	OpRealCOM
	OpTCPServer
	OpTCPClient
	OpUDP
)

func (m OpMode) String() string {
	switch m {
	case OpDisabled:
		return "disabled"
	case OpRealCOM:
		return "real_com"
	case OpTCPServer:
		return "tcp_server"
	case OpTCPClient:
		return "tcp_client"
	case OpUDP:
		return "udp"
	default:
		return "unknown"
	}
}

// UARTState is the physical UART's coarse lifecycle state.
type UARTState int

// UART states.
const (
	UARTClosed UARTState = iota
	UARTOpened
	UARTError
)

// NetState is a data- or command-plane sub-state.
type NetState int

// Network sub-states.
const (
	NetIdle NetState = iota
	NetListening
	NetConnected
	NetError
)

// DelimiterProcess enumerates the packing delimiter-handling modes. Only
// the fields are modeled; the fan-out path stays byte-transparent (see
// SPEC_FULL.md Open Questions).
type DelimiterProcess int

// Delimiter processing modes.
const (
	DelimiterNone DelimiterProcess = iota
	DelimiterAppend1
	DelimiterAppend2
	DelimiterStrip
)

// Packet size bounds derived from baud (spec.md §3).
const (
	MinPacketSize = 4
	MaxPacketSize = 256
	bitsPerChar   = 10 // 1 start + 8 data + 1 stop, nominal
)

// PackingSettings controls uart->net batching.
type PackingSettings struct {
	PackingLength       int // 0 disables length-based framing
	ForceTransmitTimeMs int // 0 disables idle flush
	Delimiter1          byte
	Delimiter2          byte
	DelimiterProcess    DelimiterProcess
}

// RealCOMParams is the REAL_COM mode parameter block.
type RealCOMParams struct {
	KeepAliveMinutes    int
	MaxConnections      int
	Packing             PackingSettings
	AllowDriverControl  bool
	DataPort            int
	CommandPort         int
}

// TCPServerParams is the TCP_SERVER mode parameter block.
type TCPServerParams struct {
	KeepAliveMinutes  int
	MaxConnections    int
	Packing           PackingSettings
	LocalTCPPort      int
	CommandPort       int
	InactivityTimeMs  int
}

// TCPDestination is one of TCP_CLIENT's four outbound targets.
type TCPDestination struct {
	DestIP             uint32
	DestPort           int
	DesignatedLocalPort int
}

// TCPClientParams is the TCP_CLIENT mode parameter block.
type TCPClientParams struct {
	KeepAliveMinutes  int
	InactivityTimeMs  int
	Destinations      [4]TCPDestination
	ConnectionControl string // govaluate expression, see connmgr
}

// UDPDestination is one of UDP mode's four peer ranges.
type UDPDestination struct {
	BeginIP uint32
	EndIP   uint32
	Port    int
}

// UDPParams is the UDP mode parameter block.
type UDPParams struct {
	Destinations        [4]UDPDestination
	LocalUDPListenPort int
}

// ClientSlot tracks one accepted/connected fd-equivalent connection on a
// channel's data or command plane. Removal is swap-with-last; unused
// trailing slots are simply absent (Go slices model the "-1 sentinel"
// array from the original source as a shorter slice).
type ClientSlot struct {
	Conn interface{} // net.Conn or net.PacketConn, kept untyped here to avoid an import cycle with connmgr
	Addr string
}

// ClientPlane is one of a channel's two client-fd planes (data, cmd).
type ClientPlane struct {
	Clients []ClientSlot
	State   NetState
}

// NumClients returns the number of currently-attached clients.
func (p *ClientPlane) NumClients() int {
	return len(p.Clients)
}

// LEDCountdown is a monostable "stay lit" timer for one LED.
type LEDCountdown struct {
	On           bool
	TicksLeft    int
	LastCount    uint64 // last observed rx_count/tx_count snapshot
}

// Channel is the full per-port configuration and runtime state.
type Channel struct {
	Index int

	Alias string

	UARTState UARTState `json:"-"`

	Data ClientPlane `json:"-"`
	Cmd  ClientPlane `json:"-"`

	Baud       int
	DataBits   int
	StopBits   int
	Parity     uart.Parity
	FlowCtrl   bool
	FifoEnable bool
	InterfaceType string // RS232/RS422/RS485

	DTR, RTS    bool
	RTSCTS      bool
	XonXoff     bool
	BreakActive bool

	OpMode OpMode

	RealCOM   RealCOMParams
	TCPServer TCPServerParams
	TCPClient TCPClientParams
	UDP       UDPParams

	// Runtime counters.
	RxCount uint64 `json:"-"`
	TxCount uint64 `json:"-"`
	RxNet   uint64 `json:"-"`
	TxNet   uint64 `json:"-"`

	DSR, CTS, DCD bool `json:"-"`

	LEDTx, LEDRx LEDCountdown `json:"-"`

	SendIntervalMs int
	PacketSize     int

	// ActiveTCPConnections is a slot for ConnMgr's
	// active_tcp_connections[i] count, kept here so devconfig need not
	// import connmgr. The Connection Manager keeps that count itself and
	// does not write this field.
	ActiveTCPConnections int `json:"-"`

	MaxConnectionsCap int // resolved from the active mode's params, used by ConnMgr
}

// DefaultPacketSizeFor computes the baud-derived packet_size and
// send_interval for a 1ms nominal interval, clamped to
// [MinPacketSize, MaxPacketSize] (spec.md §3, §8 scenario 2).
func DefaultPacketSizeFor(baud int) (packetSize, sendIntervalMs int) {
	sendIntervalMs = 1
	raw := (baud * sendIntervalMs * 40) / (10 * bitsPerChar * 1000)
	if raw < MinPacketSize {
		raw = MinPacketSize
	}
	if raw > MaxPacketSize {
		raw = MaxPacketSize
	}
	return raw, sendIntervalMs
}

// AutoReport is the device's periodic status-push configuration.
type AutoReport struct {
	Enabled bool
	IP      uint32
	UDPPort int
	PeriodS int
}

// NetworkInterface is one of NumNetInterfaces IP configurations.
type NetworkInterface struct {
	IP      uint32
	Mask    uint32
	Gateway uint32
	DHCP    bool
}

// NumNetInterfaces is the device's network-interface count.
const NumNetInterfaces = 2

// Device holds identity and device-wide settings, independent of any
// one channel.
type Device struct {
	ModelName string
	MAC       [6]byte
	SerialNo  uint32

	FWVersion [3]int
	HWVersion [3]int

	ServerName string
	User       string
	Password   string

	TimeZone   string
	LocalTime  string
	TimeServer string

	Net [NumNetInterfaces]NetworkInterface
	DNS [2]uint32

	SNMPEnable bool

	AutoReport AutoReport

	WebEnable      bool
	TelnetEnable   bool
	LCMProtect     bool
	ResetProtect   bool
	LCMPresent     bool
}

// SystemConfiguration is the entire device-wide mutable state: one
// Device plus NumPorts Channels. It is never aliased across a
// suspension point; callers take Store's mutex for the duration of a
// coherent read or write.
type SystemConfiguration struct {
	Device   Device
	Channels [NumPorts]Channel
}
